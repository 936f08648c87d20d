// Package store persists opening explorer lookups and run records in a
// local SQLite database so repeated analysis of the same positions does
// not hit the network again.
package store

import (
	"context"
	"time"

	"github.com/chessworks/novelty-grinder/pkg/lichess"
)

// Store is the persistence interface for the explorer cache and run
// bookkeeping.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// GetExplorer returns a cached explorer response for the FEN, or
	// nil if nothing unexpired is cached.
	GetExplorer(ctx context.Context, fen string) (*lichess.Response, error)
	// SetExplorer caches an explorer response for the FEN with a TTL.
	SetExplorer(ctx context.Context, fen string, resp *lichess.Response, ttl time.Duration) error
	// DeleteExpired removes stale cache rows and returns the count.
	DeleteExpired(ctx context.Context) (int, error)

	CreateRun(ctx context.Context, engine string) (*Run, error)
	FinishRun(ctx context.Context, runID string, result *RunResult) error
	GetRun(ctx context.Context, runID string) (*Run, error)
}

// Run records one invocation of the grinder.
type Run struct {
	ID         string     `json:"id"`
	Engine     string     `json:"engine"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *RunResult `json:"result,omitempty"`
}

// RunResult is the aggregate outcome persisted when a run finishes.
type RunResult struct {
	Games      int    `json:"games"`
	Positions  int    `json:"positions"`
	Suggested  int    `json:"suggested"`
	Novelties  int    `json:"novelties"`
	NodesSpent uint64 `json:"nodes_spent"`
}
