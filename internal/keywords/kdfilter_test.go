package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kd   float64
		want string
	}{
		{0, "very_easy"},
		{20, "very_easy"},
		{20.5, "easy"},
		{30, "easy"},
		{31, "medium"},
		{50, "medium"},
		{50.1, "hard"},
		{70, "hard"},
		{71, "very_hard"},
		{100, "very_hard"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.kd), "kd %v", tt.kd)
	}
}

func kdPtr(v float64) *float64 { return &v }

func TestOpportunityScoreNilDifficulty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, OpportunityScore(nil, 1000, IntentCommercial))
}

func TestOpportunityScoreIntentMultipliers(t *testing.T) {
	t.Parallel()

	// Zero volume isolates the difficulty term: (1-0/100)*0.4*100 = 40 base.
	tests := []struct {
		intent string
		want   float64
	}{
		{IntentCommercial, 48},
		{IntentInformational, 40},
		{IntentMixed, 40},
		{IntentFree, 38},
		{IntentLocal, 36},
	}
	for _, tt := range tests {
		got := OpportunityScore(kdPtr(0), 0, tt.intent)
		require.NotNil(t, got, "intent %s", tt.intent)
		assert.Equal(t, tt.want, *got, "intent %s", tt.intent)
	}
}

func TestOpportunityScoreLowVolumePenalty(t *testing.T) {
	t.Parallel()

	// kd 50 vol 0: difficulty term 20, then the low-volume penalty applies.
	got := OpportunityScore(kdPtr(50), 0, IntentMixed)
	require.NotNil(t, got)
	assert.Equal(t, 14.0, *got)

	// kd at the penalty threshold keeps the full score.
	got = OpportunityScore(kdPtr(20), 0, IntentMixed)
	require.NotNil(t, got)
	assert.Equal(t, 32.0, *got)
}

func TestOpportunityScoreVolumeMonotonic(t *testing.T) {
	t.Parallel()

	low := OpportunityScore(kdPtr(40), 100, IntentMixed)
	high := OpportunityScore(kdPtr(40), 5000, IntentMixed)
	require.NotNil(t, low)
	require.NotNil(t, high)
	assert.Greater(t, *high, *low)
}

func TestOpportunityScoreClamped(t *testing.T) {
	t.Parallel()

	got := OpportunityScore(kdPtr(-10), 1000000, IntentCommercial)
	require.NotNil(t, got)
	assert.LessOrEqual(t, *got, 100.0)
	assert.GreaterOrEqual(t, *got, 0.0)

	got = OpportunityScore(kdPtr(500), -5, IntentLocal)
	require.NotNil(t, got)
	assert.Equal(t, 0.0, *got)
}
