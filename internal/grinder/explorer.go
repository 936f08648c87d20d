package grinder

import (
	"context"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/zap"

	"github.com/chessworks/novelty-grinder/internal/resilience"
	"github.com/chessworks/novelty-grinder/internal/selector"
	"github.com/chessworks/novelty-grinder/internal/store"
	"github.com/chessworks/novelty-grinder/pkg/lichess"
)

// CachedExplorer adapts the Lichess opening explorer to the selector's
// popularity oracle, with an optional persistent cache in front and
// retries on transient network failures.
type CachedExplorer struct {
	client lichess.Client
	cache  store.Store
	ttl    time.Duration
	retry  resilience.RetryConfig
}

// NewExplorer builds the popularity oracle. cache may be nil to skip
// persistence.
func NewExplorer(client lichess.Client, cache store.Store, ttl time.Duration) *CachedExplorer {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("lichess", "masters")
	return &CachedExplorer{
		client: client,
		cache:  cache,
		ttl:    ttl,
		retry:  retry,
	}
}

// Lookup returns per-move game counts for the position. Cache failures
// degrade to a live query; only the live query's error propagates.
func (e *CachedExplorer) Lookup(ctx context.Context, pos *chess.Position) (*selector.Popularity, error) {
	fen := pos.String()

	if e.cache != nil {
		cached, err := e.cache.GetExplorer(ctx, fen)
		if err != nil {
			zap.L().Warn("explorer cache read failed", zap.String("fen", fen), zap.Error(err))
		} else if cached != nil {
			zap.L().Debug("explorer cache hit", zap.String("fen", fen))
			return toPopularity(pos, cached), nil
		}
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*lichess.Response, error) {
		return e.client.Masters(ctx, fen)
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetExplorer(ctx, fen, resp, e.ttl); err != nil {
			zap.L().Warn("explorer cache write failed", zap.String("fen", fen), zap.Error(err))
		}
	}

	return toPopularity(pos, resp), nil
}

// toPopularity re-derives each book move's SAN locally from its UCI
// field, so the server's notation conventions (check and mate
// suffixes, castling style) can never make a book move look novel.
func toPopularity(pos *chess.Position, resp *lichess.Response) *selector.Popularity {
	bySAN := make(map[string]uint64, len(resp.Moves))
	for _, m := range resp.Moves {
		mv, err := chess.UCINotation{}.Decode(pos, m.UCI)
		if err != nil {
			zap.L().Warn("explorer returned unplayable move",
				zap.String("fen", pos.String()),
				zap.String("uci", m.UCI),
				zap.Error(err))
			bySAN[m.SAN] = m.Games()
			continue
		}
		bySAN[chess.AlgebraicNotation{}.Encode(pos, mv)] = m.Games()
	}
	return &selector.Popularity{
		TotalGames: resp.TotalGames(),
		BySAN:      bySAN,
	}
}
