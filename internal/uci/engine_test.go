package uci

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script joins engine response lines into a transport the Engine can
// consume as it steps through a fixed exchange.
func script(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func TestHandshake(t *testing.T) {
	t.Parallel()

	var sent bytes.Buffer
	e := NewFromIO("lc0", strings.NewReader(script(
		"id name Lc0 v0.31",
		"id author The LCZero Authors",
		"option name MultiPV type spin default 1 min 1 max 500",
		"uciok",
		"readyok",
	)), &sent)

	require.NoError(t, e.Handshake(map[string]string{"WeightsFile": "/nets/t82.pb"}))
	assert.Equal(t, "Lc0 v0.31", e.ID())

	out := sent.String()
	assert.Contains(t, out, "uci\n")
	assert.Contains(t, out, "setoption name WeightsFile value /nets/t82.pb")
	assert.Contains(t, out, "setoption name MultiPV value 100")
	assert.Contains(t, out, "setoption name ScoreType value win_percentage")
	assert.Contains(t, out, "setoption name SmartPruningFactor value 0")
	assert.Contains(t, out, "setoption name PerPVCounters value true")
	assert.True(t, strings.HasSuffix(out, "isready\n"))
}

func TestAnalyze_RankedResult(t *testing.T) {
	t.Parallel()

	var sent bytes.Buffer
	e := NewFromIO("lc0", strings.NewReader(script(
		// Later info lines supersede earlier ones per rank.
		"info depth 5 multipv 1 nodes 100 score cp 3000 pv e2e4",
		"info depth 12 multipv 2 nodes 15000 score cp 3290 pv g1f3 g8f6",
		"info depth 12 multipv 1 nodes 80000 score cp 3324 pv e2e4 e7e5",
		"info string something irrelevant",
		"bestmove e2e4 ponder e7e5",
	)), &sent)

	pos := chess.StartingPosition()
	moves, err := e.Analyze(context.Background(), pos, 100000)
	require.NoError(t, err)

	require.Len(t, moves, 2)
	assert.Equal(t, "e2e4", moves[0].Move.String())
	assert.Equal(t, 3324, moves[0].Score)
	assert.Equal(t, int64(80000), moves[0].Nodes)
	require.Len(t, moves[0].PV, 2)

	assert.Equal(t, "g1f3", moves[1].Move.String())
	assert.Equal(t, 3290, moves[1].Score)

	out := sent.String()
	assert.Contains(t, out, "position fen "+pos.String())
	assert.Contains(t, out, "go nodes 100000\n")
}

func TestDeepen_TopsUpNodeBudget(t *testing.T) {
	t.Parallel()

	var sent bytes.Buffer
	e := NewFromIO("lc0", strings.NewReader(script(
		// Probe: total tree nodes so far.
		"info depth 12 multipv 1 nodes 95000 score cp 3290 pv g1f3",
		"bestmove g1f3",
		// Focused search: per-PV counters again.
		"info depth 14 multipv 1 nodes 10000 score cp 3150 pv g1f3 g8f6",
		"bestmove g1f3",
	)), &sent)

	pos := chess.StartingPosition()
	move, err := chess.UCINotation{}.Decode(pos, "g1f3")
	require.NoError(t, err)

	sm, err := e.Deepen(context.Background(), pos, move, 200, 10000)
	require.NoError(t, err)

	assert.Equal(t, 3150, sm.Score)
	assert.Equal(t, int64(10000), sm.Nodes)
	assert.Equal(t, "g1f3", sm.Move.String())

	out := sent.String()
	assert.Contains(t, out, "setoption name PerPVCounters value false")
	assert.Contains(t, out, "go nodes 0 searchmoves g1f3")
	assert.Contains(t, out, "setoption name PerPVCounters value true")
	// 95000 total + (10000 wanted - 200 already spent on the move).
	assert.Contains(t, out, "go nodes 104800 searchmoves g1f3")
}

func TestAnalyze_EngineOutputClosed(t *testing.T) {
	t.Parallel()

	var sent bytes.Buffer
	e := NewFromIO("lc0", strings.NewReader(""), &sent)

	_, err := e.Analyze(context.Background(), chess.StartingPosition(), 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed its output")
}

func TestAnalyze_MalformedPV(t *testing.T) {
	t.Parallel()

	var sent bytes.Buffer
	e := NewFromIO("lc0", strings.NewReader(script(
		"info multipv 1 nodes 10 score cp 100 pv zz99",
		"bestmove e2e4",
	)), &sent)

	_, err := e.Analyze(context.Background(), chess.StartingPosition(), 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad pv move")
}
