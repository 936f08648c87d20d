package selector

import (
	"testing"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Thresholds)
		wantErr string
	}{
		{"valid", func(th *Thresholds) {}, ""},
		{"zero nodes", func(th *Thresholds) { th.InitialNodes = 0 }, "nodes must be positive"},
		{"negative nodes", func(th *Thresholds) { th.InitialNodes = -5 }, "nodes must be positive"},
		{"eval threshold too high", func(th *Thresholds) { th.EvalThreshold = 10001 }, "eval threshold"},
		{"eval threshold negative", func(th *Thresholds) { th.EvalThreshold = -1 }, "eval threshold"},
		{"margin out of range", func(th *Thresholds) { th.InitialEvalMargin = 20000 }, "initial eval margin"},
		{"rarity above one", func(th *Thresholds) { th.RarityFreq = 1.5 }, "rarity frequency"},
		{"rarity negative", func(th *Thresholds) { th.RarityFreq = -0.1 }, "rarity frequency"},
		{"first move zero", func(th *Thresholds) { th.FirstMove = 0 }, "first move"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			th := defaultThresholds()
			tt.mutate(&th)
			err := th.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEffectiveDoubleCheckNodes(t *testing.T) {
	t.Parallel()

	th := Thresholds{InitialNodes: 100000}
	assert.Equal(t, int64(10000), th.EffectiveDoubleCheckNodes())

	// Ceiling division: 99999/10 rounds up.
	th.InitialNodes = 99999
	assert.Equal(t, int64(10000), th.EffectiveDoubleCheckNodes())

	th.DoubleCheckNodes = 42
	assert.Equal(t, int64(42), th.EffectiveDoubleCheckNodes())
}

func TestScoreString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "33.24%", ScoreString(3324, chess.White))
	assert.Equal(t, "66.76%", ScoreString(3324, chess.Black))
	assert.Equal(t, "50.00%", ScoreString(5000, chess.Black))
}

func TestClassificationString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "suggested", Suggested.String())
	assert.Equal(t, "novelty", Novelty.String())
	assert.Equal(t, "excluded-input", ExcludedInput.String())
	assert.Equal(t, "excluded-popular", ExcludedPopular.String())
	assert.False(t, Pending.Terminal())
	assert.False(t, NeedsDeepening.Terminal())
	assert.True(t, Rejected.Terminal())
}
