// Package selector implements the candidate-move selection state
// machine: the multi-stage protocol that reconciles engine evaluations,
// database popularity, and the input game into one verdict per
// position.
package selector

import (
	"context"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Analyzer is the engine oracle consumed by the selector. Analyze runs
// a full multi-line search with the given node budget and returns the
// ranked move list, best first. Deepen extends the search of a single
// move until it has been given at least wantNodes nodes, reporting the
// move's refreshed evaluation.
//
// A fixed, sufficiently large budget is assumed to stabilize the top
// move's identity; the selector treats each response as the current
// best estimate and never retries on instability.
type Analyzer interface {
	Analyze(ctx context.Context, pos *chess.Position, nodes int64) ([]ScoredMove, error)
	Deepen(ctx context.Context, pos *chess.Position, move *chess.Move, haveNodes, wantNodes int64) (ScoredMove, error)
}

// Explorer is the popularity oracle: per-move game counts for a
// position from the reference corpus. Implementations retry transient
// failures themselves; an error returned here is treated as exhausted.
type Explorer interface {
	Lookup(ctx context.Context, pos *chess.Position) (*Popularity, error)
}

// Input is one decision point produced by the game walker.
type Input struct {
	Position   *chess.Position
	MoveNumber int
	Ply        int

	// Played holds the moves the source game continues with at this
	// position: the mainline move first, then variations.
	Played []*chess.Move
}

// Selector runs the five-stage selection protocol for single
// positions. It holds no cross-position state; the book-cutoff flag is
// carried in the verdict and threaded by the caller.
type Selector struct {
	engine   Analyzer
	explorer Explorer
	th       Thresholds
}

// New builds a selector. Thresholds must already be validated.
func New(engine Analyzer, explorer Explorer, th Thresholds) *Selector {
	return &Selector{engine: engine, explorer: explorer, th: th}
}

// Evaluate runs the full selection protocol for one position and
// returns the verdict. Engine failures are returned as errors and abort
// the run; popularity failures degrade to an empty book, which trips
// the cutoff.
func (s *Selector) Evaluate(ctx context.Context, in Input) (*PositionVerdict, error) {
	v := &PositionVerdict{
		FEN:        in.Position.String(),
		MoveNumber: in.MoveNumber,
		Ply:        in.Ply,
		Turn:       in.Position.Turn(),
	}

	// Stage 0: book cutoff. Queried lazily, once per position.
	pop, err := s.explorer.Lookup(ctx, in.Position)
	if err != nil {
		zap.L().Warn("popularity lookup failed, treating position as out of book",
			zap.String("fen", v.FEN),
			zap.Error(err),
		)
		pop = &Popularity{}
	}
	v.TotalGames = pop.TotalGames

	if pop.TotalGames < s.th.BookCutoff {
		v.BookCutoff = true
		return v, nil
	}

	// Stage 1: wide initial search.
	ranked, err := s.engine.Analyze(ctx, in.Position, s.th.InitialNodes)
	if err != nil {
		return nil, eris.Wrapf(err, "selector: engine analysis at %s", v.FEN)
	}
	v.NodesSpent = s.th.InitialNodes
	if len(ranked) == 0 {
		return v, nil
	}
	v.HasAnalysis = true
	v.TopScore = ranked[0].Score

	cands := s.initialCandidates(in, ranked, v.TopScore)

	// Stage 2: input-line exclusion.
	if !s.th.IncludeInput {
		playedSAN := sanSet(in.Position, in.Played)
		for _, c := range cands {
			if c.Class != Pending {
				continue
			}
			if playedSAN[c.SAN] {
				c.InputMove = true
				c.Class = ExcludedInput
			}
		}
	}

	// Stage 3: popularity exclusion. Moves without any database record
	// have popularity zero and are never excluded here.
	s.applyPopularity(cands, pop)

	// Stage 4: double-check deepening of the survivors.
	want := s.th.EffectiveDoubleCheckNodes()
	for _, c := range cands {
		if c.Class != Pending || c.Nodes >= want {
			continue
		}
		c.Class = NeedsDeepening
		refined, err := s.engine.Deepen(ctx, in.Position, c.Move, c.Nodes, want)
		if err != nil {
			return nil, eris.Wrapf(err, "selector: deepening %s at %s", c.SAN, v.FEN)
		}
		if refined.Nodes > c.Nodes {
			v.NodesSpent += refined.Nodes - c.Nodes
		}
		c.Score = refined.Score
		c.Nodes = refined.Nodes
		c.PV = refined.PV
		c.Class = Pending
	}

	// Stage 5: final threshold against the original top score, margin
	// dropped. The top move is assumed stable across budgets.
	final := v.TopScore - s.th.EvalThreshold
	for _, c := range cands {
		if c.Class != Pending {
			continue
		}
		switch {
		case c.Score < final:
			c.Class = Rejected
		case !c.InBook:
			c.Class = Novelty
		default:
			c.Class = Suggested
		}
	}

	v.Candidates = cands
	return v, nil
}

// initialCandidates builds the stage-1 candidate set. Engine moves
// below the widened threshold are rejected immediately and never
// revisited. In include-input mode, input moves are force-added ahead
// of the engine ranking when the engine did not return them.
func (s *Selector) initialCandidates(in Input, ranked []ScoredMove, top int) []*CandidateMove {
	wide := top - (s.th.EvalThreshold + s.th.InitialEvalMargin)

	var cands []*CandidateMove
	bySAN := make(map[string]*CandidateMove)

	if s.th.IncludeInput {
		for _, m := range in.Played {
			c := &CandidateMove{
				Move:      m,
				SAN:       san(in.Position, m),
				InputMove: true,
				Class:     Pending,
			}
			cands = append(cands, c)
			bySAN[c.SAN] = c
		}
	}

	for _, sm := range ranked {
		moveSAN := san(in.Position, sm.Move)
		if prev, ok := bySAN[moveSAN]; ok {
			prev.Move = sm.Move
			prev.Score = sm.Score
			prev.Nodes = sm.Nodes
			prev.PV = sm.PV
			continue
		}
		c := &CandidateMove{
			Move:  sm.Move,
			SAN:   moveSAN,
			Score: sm.Score,
			Nodes: sm.Nodes,
			PV:    sm.PV,
			Class: Pending,
		}
		if sm.Score < wide {
			c.Class = Rejected
		}
		cands = append(cands, c)
	}

	return cands
}

// applyPopularity annotates the live candidates with database counts
// and excludes the popular ones. Input moves (include-input mode) keep
// their popularity but stay in the running regardless of it.
func (s *Selector) applyPopularity(cands []*CandidateMove, pop *Popularity) {
	threshold := float64(pop.TotalGames) * s.th.RarityFreq
	if threshold < float64(s.th.RarityCount) {
		threshold = float64(s.th.RarityCount)
	}

	for _, c := range cands {
		if c.Class != Pending {
			continue
		}
		c.PopularityKnown = true

		games, inBook := pop.Games(c.SAN)
		if !inBook {
			c.InBook = false
			c.Unpopular = true
			continue
		}

		c.InBook = true
		c.GameCount = games
		if pop.TotalGames > 0 {
			c.Popularity = float64(games) / float64(pop.TotalGames)
		}
		c.Unpopular = float64(games) <= threshold

		if !c.Unpopular && !c.InputMove {
			c.Class = ExcludedPopular
		}
	}
}

func san(pos *chess.Position, m *chess.Move) string {
	return chess.AlgebraicNotation{}.Encode(pos, m)
}

func sanSet(pos *chess.Position, moves []*chess.Move) map[string]bool {
	set := make(map[string]bool, len(moves))
	for _, m := range moves {
		set[san(pos, m)] = true
	}
	return set
}
