package selector

import (
	"fmt"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
)

// Score values are side-to-move win probabilities in hundredths of a
// percent (0..10000). Mate scores map to ±(1000000 - pliesToMate) so
// they sort above and below every regular evaluation.
const MateScore = 1000000

// ScoredMove is one ranked engine line: the move, its evaluation, the
// nodes the engine spent on it, and the principal variation. Within one
// Analyze response entries are ordered best-first.
type ScoredMove struct {
	Move  *chess.Move
	Score int
	Nodes int64
	PV    []*chess.Move
}

// Popularity is the reference-database view of one position: per-move
// game counts keyed by SAN, plus the total game count. Moves absent
// from BySAN have implicitly been played zero times.
type Popularity struct {
	TotalGames uint64
	BySAN      map[string]uint64
}

// Games returns the game count for a move and whether the database has
// any record of it at all.
func (p *Popularity) Games(san string) (uint64, bool) {
	n, ok := p.BySAN[san]
	return n, ok
}

// Classification is the lifecycle state of a candidate move. Pending
// and NeedsDeepening are transient; every candidate ends a position
// evaluation in one of the terminal states.
type Classification int

const (
	Pending Classification = iota
	ExcludedInput
	ExcludedPopular
	NeedsDeepening
	Suggested
	Novelty
	Rejected
)

var classificationNames = map[Classification]string{
	Pending:         "pending",
	ExcludedInput:   "excluded-input",
	ExcludedPopular: "excluded-popular",
	NeedsDeepening:  "needs-deepening",
	Suggested:       "suggested",
	Novelty:         "novelty",
	Rejected:        "rejected",
}

func (c Classification) String() string {
	if s, ok := classificationNames[c]; ok {
		return s
	}
	return fmt.Sprintf("classification(%d)", int(c))
}

// Terminal reports whether a candidate in this state is finished.
func (c Classification) Terminal() bool {
	return c != Pending && c != NeedsDeepening
}

// CandidateMove is the working entity of the selection state machine:
// one per position per move under consideration. It is created from an
// engine response (or force-added for input moves), mutated through the
// selection stages, and finalized to exactly one terminal
// classification.
type CandidateMove struct {
	Move  *chess.Move
	SAN   string
	Score int
	Nodes int64
	PV    []*chess.Move

	// InputMove marks moves present in the source game at this
	// position (mainline or variation).
	InputMove bool

	// InBook is true when the reference database has at least one game
	// with this move; Popularity and GameCount are only meaningful
	// after the popularity stage has run (PopularityKnown). Unpopular
	// is true for moves at or below the rarity cutoff, including all
	// out-of-book moves.
	PopularityKnown bool
	InBook          bool
	Unpopular       bool
	GameCount       uint64
	Popularity      float64

	Class Classification
}

// PositionVerdict is the finalized output for one analyzed position.
type PositionVerdict struct {
	FEN        string
	MoveNumber int
	Ply        int
	Turn       chess.Color

	// TopScore is the best evaluation from the initial search. The
	// final threshold is measured against this value, not against a
	// re-searched top move.
	TopScore    int
	HasAnalysis bool

	TotalGames uint64

	// BookCutoff is set when the database game count fell below the
	// cutoff; no engine work was done and no later position in this
	// line is analyzed.
	BookCutoff bool

	Candidates []*CandidateMove
	NodesSpent int64
}

// Accepted returns the suggested and novelty candidates in engine
// ranking order.
func (v *PositionVerdict) Accepted() []*CandidateMove {
	var out []*CandidateMove
	for _, c := range v.Candidates {
		if c.Class == Suggested || c.Class == Novelty {
			out = append(out, c)
		}
	}
	return out
}

// Thresholds is the read-only configuration of the selection state
// machine. Score-typed fields use the same hundredths-of-a-percent
// scale as engine evaluations.
type Thresholds struct {
	// InitialNodes is the node budget of the wide first search.
	InitialNodes int64

	// DoubleCheckNodes is the per-move node floor for the deepening
	// stage. Zero or negative selects the default of one tenth of
	// InitialNodes, rounded up.
	DoubleCheckNodes int64

	// EvalThreshold is the final acceptance margin below the top move.
	EvalThreshold int

	// InitialEvalMargin widens the cheap first pass so that moves
	// whose score improves with more nodes are not lost early.
	InitialEvalMargin int

	// RarityFreq is the maximum played fraction for a move to still
	// count as rare. RarityCount is an absolute game-count floor; the
	// effective cutoff is max(TotalGames*RarityFreq, RarityCount).
	RarityFreq  float64
	RarityCount uint64

	// BookCutoff stops analysis of a line once the database has fewer
	// games than this at a position.
	BookCutoff uint64

	// FirstMove skips earlier positions entirely.
	FirstMove int

	// IncludeInput keeps input moves in the candidate set instead of
	// excluding them, and force-adds them when the engine did not
	// return them.
	IncludeInput bool
}

// Validate rejects configurations the selector must never run with.
// Nothing is clamped; the caller reports and aborts.
func (t Thresholds) Validate() error {
	if t.InitialNodes <= 0 {
		return eris.Errorf("thresholds: nodes must be positive, got %d", t.InitialNodes)
	}
	if t.EvalThreshold < 0 || t.EvalThreshold > 10000 {
		return eris.Errorf("thresholds: eval threshold %d outside [0,10000]", t.EvalThreshold)
	}
	if t.InitialEvalMargin < 0 || t.InitialEvalMargin > 10000 {
		return eris.Errorf("thresholds: initial eval margin %d outside [0,10000]", t.InitialEvalMargin)
	}
	if t.RarityFreq < 0 || t.RarityFreq > 1 {
		return eris.Errorf("thresholds: rarity frequency %g outside [0,1]", t.RarityFreq)
	}
	if t.FirstMove < 1 {
		return eris.Errorf("thresholds: first move must be at least 1, got %d", t.FirstMove)
	}
	return nil
}

// EffectiveDoubleCheckNodes resolves the deepening node floor,
// defaulting to ceil(InitialNodes/10).
func (t Thresholds) EffectiveDoubleCheckNodes() int64 {
	if t.DoubleCheckNodes > 0 {
		return t.DoubleCheckNodes
	}
	return (t.InitialNodes + 9) / 10
}

// ScoreString renders a side-to-move score as a win percentage from
// White's point of view.
func ScoreString(score int, turn chess.Color) string {
	if turn == chess.White {
		return fmt.Sprintf("%.2f%%", float64(score)/100.0)
	}
	return fmt.Sprintf("%.2f%%", float64(10000-score)/100.0)
}
