package selector

import (
	"context"
	"testing"

	"github.com/notnil/chess"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mv(t *testing.T, pos *chess.Position, uci string) *chess.Move {
	t.Helper()
	m, err := chess.UCINotation{}.Decode(pos, uci)
	require.NoError(t, err)
	return m
}

type fakeEngine struct {
	ranked       []ScoredMove
	analyzeErr   error
	deepenErr    error
	deepened     map[string]ScoredMove // keyed by UCI
	analyzeCalls int
	deepenCalls  int
}

func (f *fakeEngine) Analyze(_ context.Context, _ *chess.Position, _ int64) ([]ScoredMove, error) {
	f.analyzeCalls++
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.ranked, nil
}

func (f *fakeEngine) Deepen(_ context.Context, _ *chess.Position, move *chess.Move, haveNodes, wantNodes int64) (ScoredMove, error) {
	f.deepenCalls++
	if f.deepenErr != nil {
		return ScoredMove{}, f.deepenErr
	}
	if sm, ok := f.deepened[move.String()]; ok {
		return sm, nil
	}
	// Default: same move, nodes topped up to the requested floor.
	return ScoredMove{Move: move, Score: 0, Nodes: wantNodes}, nil
}

type fakeExplorer struct {
	pop   *Popularity
	err   error
	calls int
}

func (f *fakeExplorer) Lookup(_ context.Context, _ *chess.Position) (*Popularity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pop, nil
}

func defaultThresholds() Thresholds {
	return Thresholds{
		InitialNodes:      100000,
		EvalThreshold:     100,
		InitialEvalMargin: 300,
		RarityFreq:        0.05,
		BookCutoff:        2,
		FirstMove:         1,
	}
}

func startInput(t *testing.T, playedUCI ...string) Input {
	t.Helper()
	pos := chess.StartingPosition()
	in := Input{Position: pos, MoveNumber: 1, Ply: 0}
	for _, u := range playedUCI {
		in.Played = append(in.Played, mv(t, pos, u))
	}
	return in
}

func classOf(t *testing.T, v *PositionVerdict, san string) Classification {
	t.Helper()
	for _, c := range v.Candidates {
		if c.SAN == san {
			return c.Class
		}
	}
	t.Fatalf("candidate %s not found", san)
	return Pending
}

// Worked example: top move 33.24%, alternative at 32.90% is within the
// 1%+3% initial margin and the 1% final threshold, absent from both the
// input game and the database, so it is a novelty.
func TestEvaluate_NoveltyScenario(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "g1f3"), Score: 3290, Nodes: 15000},
		},
	}
	exp := &fakeExplorer{pop: &Popularity{
		TotalGames: 5000,
		BySAN:      map[string]uint64{"e4": 4800, "d4": 200},
	}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	assert.False(t, v.BookCutoff)
	assert.True(t, v.HasAnalysis)
	assert.Equal(t, 3324, v.TopScore)
	assert.Equal(t, uint64(5000), v.TotalGames)

	assert.Equal(t, ExcludedInput, classOf(t, v, "e4"))
	assert.Equal(t, Novelty, classOf(t, v, "Nf3"))

	accepted := v.Accepted()
	require.Len(t, accepted, 1)
	assert.Equal(t, "Nf3", accepted[0].SAN)
	assert.False(t, accepted[0].InBook)
	assert.Equal(t, "32.90%", ScoreString(accepted[0].Score, v.Turn))
}

// A move with 6% database popularity is excluded at the popularity
// stage regardless of its engine score, and costs no deepening.
func TestEvaluate_PopularMoveExcluded(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "d2d4"), Score: 3324, Nodes: 70000},
		},
	}
	exp := &fakeExplorer{pop: &Popularity{
		TotalGames: 10000,
		BySAN:      map[string]uint64{"e4": 9000, "d4": 600},
	}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	assert.Equal(t, ExcludedPopular, classOf(t, v, "d4"))
	assert.Empty(t, v.Accepted())
	assert.Equal(t, 0, eng.deepenCalls)
}

// Popularity exactly at the threshold is still rare: only strictly
// more popular moves are excluded.
func TestEvaluate_PopularityAtThresholdKept(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "d2d4"), Score: 3320, Nodes: 70000},
		},
	}
	exp := &fakeExplorer{pop: &Popularity{
		TotalGames: 10000,
		BySAN:      map[string]uint64{"e4": 9000, "d4": 500},
	}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	assert.Equal(t, Suggested, classOf(t, v, "d4"))
	d4 := v.Accepted()[0]
	assert.True(t, d4.InBook)
	assert.InDelta(t, 0.05, d4.Popularity, 1e-9)
}

// Book cutoff: 39 games with cutoff 40 stops the position before any
// engine call is made.
func TestEvaluate_BookCutoff(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 39}}

	th := defaultThresholds()
	th.BookCutoff = 40

	s := New(eng, exp, th)
	v, err := s.Evaluate(context.Background(), startInput(t))
	require.NoError(t, err)

	assert.True(t, v.BookCutoff)
	assert.Equal(t, uint64(39), v.TotalGames)
	assert.Equal(t, 0, eng.analyzeCalls)
	assert.Zero(t, v.NodesSpent)
}

// Exhausted popularity lookups degrade to an empty book, which is a
// cutoff, never fabricated data.
func TestEvaluate_ExplorerFailureDegradesToCutoff(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	exp := &fakeExplorer{err: eris.New("explorer down")}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t))
	require.NoError(t, err)

	assert.True(t, v.BookCutoff)
	assert.Zero(t, v.TotalGames)
	assert.Equal(t, 0, eng.analyzeCalls)
}

// Engine failure is fatal for the run.
func TestEvaluate_EngineFailureFatal(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{analyzeErr: eris.New("engine crashed")}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 100}}

	s := New(eng, exp, defaultThresholds())
	_, err := s.Evaluate(context.Background(), startInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine analysis")
}

func TestEvaluate_DeepenFailureFatal(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "g1f3"), Score: 3300, Nodes: 100},
		},
		deepenErr: eris.New("engine pipe closed"),
	}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 100, BySAN: map[string]uint64{"e4": 100}}}

	s := New(eng, exp, defaultThresholds())
	_, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deepening")
}

// Moves below the widened initial threshold are rejected immediately
// and never reach deepening.
func TestEvaluate_InitialRejectionIsFinal(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "a2a3"), Score: 2900, Nodes: 500}, // below 3324-400
		},
	}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 100, BySAN: map[string]uint64{"e4": 100}}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	assert.Equal(t, Rejected, classOf(t, v, "a3"))
	assert.Equal(t, 0, eng.deepenCalls)
}

// A move inside the wide initial margin but outside the tight final
// threshold survives stage 1 and is rejected after deepening: the wide
// pass never excludes a move the narrow pass would accept.
func TestEvaluate_DeepeningThenFinalThreshold(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	nf3 := mv(t, pos, "g1f3")
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: nf3, Score: 3100, Nodes: 200}, // within 400 margin, below 100 threshold
		},
		deepened: map[string]ScoredMove{
			"g1f3": {Move: nf3, Score: 3150, Nodes: 10000},
		},
	}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 100, BySAN: map[string]uint64{"e4": 100}}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	assert.Equal(t, 1, eng.deepenCalls)
	assert.Equal(t, Rejected, classOf(t, v, "Nf3"))
	// Initial analysis plus the deepening delta.
	assert.Equal(t, int64(100000+10000-200), v.NodesSpent)
}

// Candidates that already carry enough nodes skip deepening.
func TestEvaluate_DeepeningSkippedWhenNodesSufficient(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "g1f3"), Score: 3300, Nodes: 20000}, // >= 10% of 100k
		},
	}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 100, BySAN: map[string]uint64{"e4": 100}}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	assert.Equal(t, 0, eng.deepenCalls)
	assert.Equal(t, Novelty, classOf(t, v, "Nf3"))
	assert.Equal(t, int64(100000), v.NodesSpent)
}

// Threshold ordering: a higher-scoring survivor is never rejected while
// a lower-scoring one is suggested.
func TestEvaluate_ThresholdOrdering(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "g1f3"), Score: 3290, Nodes: 20000},
			{Move: mv(t, pos, "b1c3"), Score: 3200, Nodes: 20000},
		},
	}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 100, BySAN: map[string]uint64{"e4": 100}}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	if classOf(t, v, "Nc3") == Suggested || classOf(t, v, "Nc3") == Novelty {
		cls := classOf(t, v, "Nf3")
		assert.True(t, cls == Suggested || cls == Novelty)
	}
	assert.Equal(t, Novelty, classOf(t, v, "Nf3")) // 3290 >= 3324-100
	assert.Equal(t, Rejected, classOf(t, v, "Nc3")) // 3200 < 3324-100
}

// Monotonic narrowing: every candidate ends in a terminal state, and
// each stage only ever moves candidates out of the running.
func TestEvaluate_AllCandidatesTerminal(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: mv(t, pos, "e2e4"), Score: 3324, Nodes: 80000},
			{Move: mv(t, pos, "d2d4"), Score: 3310, Nodes: 60000},
			{Move: mv(t, pos, "g1f3"), Score: 3290, Nodes: 20000},
			{Move: mv(t, pos, "a2a3"), Score: 2500, Nodes: 100},
		},
	}
	exp := &fakeExplorer{pop: &Popularity{
		TotalGames: 10000,
		BySAN:      map[string]uint64{"e4": 8000, "d4": 1900},
	}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4"))
	require.NoError(t, err)

	require.Len(t, v.Candidates, 4)
	for _, c := range v.Candidates {
		assert.True(t, c.Class.Terminal(), "candidate %s left in %s", c.SAN, c.Class)
	}
}

// Include-input mode: input moves are force-added, bypass the input
// exclusion, and earn a suggestion when strong and rare.
func TestEvaluate_IncludeInput(t *testing.T) {
	t.Parallel()

	pos := chess.StartingPosition()
	e4 := mv(t, pos, "e2e4")
	eng := &fakeEngine{
		ranked: []ScoredMove{
			{Move: e4, Score: 3324, Nodes: 80000},
		},
		deepened: map[string]ScoredMove{
			"d2d4": {Move: mv(t, pos, "d2d4"), Score: 3300, Nodes: 10000},
		},
	}
	exp := &fakeExplorer{pop: &Popularity{
		TotalGames: 10000,
		BySAN:      map[string]uint64{"e4": 9000, "d4": 100},
	}}

	th := defaultThresholds()
	th.IncludeInput = true

	s := New(eng, exp, th)
	v, err := s.Evaluate(context.Background(), startInput(t, "e2e4", "d2d4"))
	require.NoError(t, err)

	// e4 is popular but kept because it is an input move; it carries
	// engine data merged from the ranked list.
	e4c := v.Candidates[0]
	assert.Equal(t, "e4", e4c.SAN)
	assert.True(t, e4c.InputMove)
	assert.Equal(t, 3324, e4c.Score)
	assert.Equal(t, Suggested, e4c.Class)
	assert.False(t, e4c.Unpopular)

	// d4 was not in the engine output: force-added, deepened, rare.
	d4c := v.Candidates[1]
	assert.Equal(t, "d4", d4c.SAN)
	assert.True(t, d4c.InputMove)
	assert.Equal(t, Suggested, d4c.Class)
	assert.True(t, d4c.Unpopular)
	assert.Equal(t, 3300, d4c.Score)
}

func TestEvaluate_EmptyEngineResult(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	exp := &fakeExplorer{pop: &Popularity{TotalGames: 100}}

	s := New(eng, exp, defaultThresholds())
	v, err := s.Evaluate(context.Background(), startInput(t))
	require.NoError(t, err)

	assert.False(t, v.HasAnalysis)
	assert.Empty(t, v.Candidates)
}
