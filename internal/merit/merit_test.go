package merit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xisvar/the-oan/internal/protocol"
)

func TestRoundDiv(t *testing.T) {
	cases := []struct{ n, d, want int64 }{
		{10, 4, 3},
		{9, 4, 2},
		{-10, 4, -3},
		{-9, 4, -2},
		{0, 7, 0},
		{5, 10, 1},
		{4, 10, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundDiv(tc.n, tc.d), "RoundDiv(%d, %d)", tc.n, tc.d)
	}
}

func TestNormalizeEndpoints(t *testing.T) {
	assert.Equal(t, int64(0), Normalize(0, 0, 400))
	assert.Equal(t, Scale, Normalize(400, 0, 400))
	assert.Equal(t, int64(5000), Normalize(200, 0, 400))
	assert.Equal(t, int64(0), Normalize(-50, 0, 400))
	assert.Equal(t, Scale, Normalize(450, 0, 400))
	assert.Equal(t, int64(0), Normalize(100, 200, 200), "degenerate range")
	assert.Equal(t, int64(0), Normalize(100, 300, 200), "inverted range")
	assert.Equal(t, int64(3333), Normalize(1, 0, 3))
	assert.Equal(t, int64(6667), Normalize(2, 0, 3))
}

func TestComputeFixed(t *testing.T) {
	at := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	s := Compute(Input{
		ApplicantID: "a",
		ProgramID:   "unilag/medicine",
		ExamScore:   300,
		Flags:       protocol.PriorityFlags{ELDS: true, Disability: true},
		ComputedAt:  at,
	}, Params{
		NormMin:           0,
		NormMax:           400,
		SubjectWeights:    map[string]int64{AggregateWeightKey: 8000},
		ProgramDifficulty: 12000,
	})
	assert.Equal(t, int64(7500), s.NormalizedScore)
	// base = 7500*0.8 = 6000; adjusted = 6000*1.2 = 7200
	assert.Equal(t, int64(80000), s.PriorityBoost)
	assert.Equal(t, int64(87200), s.MI)
	assert.Equal(t, ModeFixed, s.Mode)
	assert.Equal(t, at, s.ComputedAt)
	assert.NotEmpty(t, s.Explain)
}

func TestComputeDefaultsWeightAndDifficulty(t *testing.T) {
	s := Compute(Input{ExamScore: 200}, Params{NormMin: 0, NormMax: 400})
	assert.Equal(t, int64(5000), s.MI)
	assert.Equal(t, Scale, s.ProgramDifficulty)
}

func TestPriorityBoostStacks(t *testing.T) {
	assert.Equal(t, int64(0), PriorityBoost(protocol.PriorityFlags{}))
	assert.Equal(t, int64(10000), PriorityBoost(protocol.PriorityFlags{Catchment: true}))
	assert.Equal(t, int64(90000), PriorityBoost(protocol.PriorityFlags{ELDS: true, Catchment: true, Disability: true}))
}

func TestAdvancedMeritIndex(t *testing.T) {
	got := ComputeAdvancedMeritIndex(280, []string{"A1", "B2", "B3", "C4", "A1"}, 60)
	assert.Equal(t, "73.50", got.StringFixed(2))
	assert.Equal(t, int64(735000), ToFixed(got))
}

func TestAdvancedMeritIndexSkipsUnknownGrades(t *testing.T) {
	a := ComputeAdvancedMeritIndex(280, []string{"A1", "B2", "B3", "C4", "A1", "XX", ""}, 60)
	assert.Equal(t, "73.50", a.StringFixed(2))

	none := ComputeAdvancedMeritIndex(400, nil, 100)
	// 0.6*100 + 0 + 0.1*100
	assert.Equal(t, "70.00", none.StringFixed(2))
}

func TestAdvancedMeritIndexRoundsHalfUp(t *testing.T) {
	// 0.15*1 + 0 + 0 = 0.15; 0.1*post adds; 3.75*sum/count with count 3 and sum 1 = 1.25
	got := ComputeAdvancedMeritIndex(1, []string{"E8", "F9", "F9"}, 0)
	assert.Equal(t, "1.40", got.StringFixed(2))

	// 3.75*1/7 = 0.535714... rounds to 0.54
	got = ComputeAdvancedMeritIndex(0, []string{"E8", "F9", "F9", "F9", "F9", "F9", "F9"}, 0)
	assert.Equal(t, "0.54", got.StringFixed(2))
}

func TestComputeAdvancedMode(t *testing.T) {
	s := Compute(Input{
		ApplicantID:   "a",
		JambScore:     280,
		Grades:        []string{"A1", "B2", "B3", "C4", "A1"},
		PostUTMEScore: 60,
		Flags:         protocol.PriorityFlags{Catchment: true},
	}, Params{Mode: ModeAdvanced})
	assert.Equal(t, int64(735000), s.NormalizedScore)
	assert.Equal(t, int64(745000), s.MI)
	assert.Equal(t, ModeAdvanced, s.Mode)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, m)
	m, err = ParseMode("advanced")
	require.NoError(t, err)
	assert.Equal(t, ModeAdvanced, m)
	_, err = ParseMode("fuzzy")
	require.Error(t, err)
}
