package uci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInfo_FullLine(t *testing.T) {
	t.Parallel()

	line := "info depth 12 seldepth 30 time 1520 nodes 80123 score cp 3324 nps 52000 multipv 1 pv e2e4 e7e5 g1f3"
	info, ok := parseInfo(line)
	require.True(t, ok)

	assert.Equal(t, 1, info.multipv)
	assert.Equal(t, int64(80123), info.nodes)
	assert.Equal(t, 3324, info.score)
	assert.True(t, info.hasScore)
	assert.Equal(t, []string{"e2e4", "e7e5", "g1f3"}, info.pvUCI)
}

func TestParseInfo_MultiPVRank(t *testing.T) {
	t.Parallel()

	info, ok := parseInfo("info depth 10 multipv 7 nodes 1200 score cp 2901 pv g1f3")
	require.True(t, ok)
	assert.Equal(t, 7, info.multipv)
	assert.Equal(t, 2901, info.score)
}

func TestParseInfo_MateScores(t *testing.T) {
	t.Parallel()

	plus, ok := parseInfo("info multipv 1 nodes 10 score mate 3 pv d1h5")
	require.True(t, ok)
	assert.Equal(t, 1000000-3, plus.score)

	minus, ok := parseInfo("info multipv 1 nodes 10 score mate -2 pv a2a3")
	require.True(t, ok)
	assert.Equal(t, -(1000000 - 2), minus.score)
}

func TestParseInfo_CurrmoveChatterIgnored(t *testing.T) {
	t.Parallel()

	_, ok := parseInfo("info depth 8 currmove e2e4 currmovenumber 1")
	assert.False(t, ok)

	_, ok = parseInfo("bestmove e2e4 ponder e7e5")
	assert.False(t, ok)
}

func TestParseInfo_DefaultsToRankOne(t *testing.T) {
	t.Parallel()

	info, ok := parseInfo("info nodes 500 score cp 100 pv e2e4")
	require.True(t, ok)
	assert.Equal(t, 1, info.multipv)
}
