package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/state"
)

func profileWith(results ...state.ExamResult) state.Profile {
	return state.Profile{DID: "did:oan:t", ExamResults: results}
}

func medicineRule(cutoff int64, reqs ...protocol.SubjectRequirement) protocol.AdmissionRule {
	return protocol.AdmissionRule{
		InstitutionID: "unilag",
		Program:       "medicine",
		Enforcement:   &protocol.Enforcement{FinalCutoff: cutoff, FinalQuota: 10, RequiredSubjects: reqs},
		Derivation:    &protocol.Derivation{},
	}
}

func TestEvaluateEligible(t *testing.T) {
	p := profileWith(
		state.ExamResult{Subject: "Mathematics", Score: 80, Grade: "A1"},
		state.ExamResult{Subject: "Biology", Score: 70, Grade: "B3"},
	)
	v := Evaluate(p, medicineRule(140,
		protocol.SubjectRequirement{Subject: "mathematics", MinGrade: "C6"},
		protocol.SubjectRequirement{Subject: "BIOLOGY", MinScore: 60},
	))
	assert.True(t, v.Eligible)
	assert.Equal(t, int64(150), v.Score)
	assert.Empty(t, v.Reasons)
}

func TestEvaluateCollectsAllFailures(t *testing.T) {
	p := profileWith(
		state.ExamResult{Subject: "Mathematics", Score: 40, Grade: "D7"},
	)
	v := Evaluate(p, medicineRule(200,
		protocol.SubjectRequirement{Subject: "Mathematics", MinGrade: "C6", MinScore: 50},
		protocol.SubjectRequirement{Subject: "Chemistry"},
	))
	assert.False(t, v.Eligible)
	assert.Equal(t, []string{
		"Score 40 is below cutoff 200",
		"Grade D7 in Mathematics is below minimum C6",
		"Score 40 in Mathematics is below minimum 50",
		"Missing required subject: Chemistry",
	}, v.Reasons)
}

func TestEvaluateNoExamResults(t *testing.T) {
	v := Evaluate(profileWith(), medicineRule(0))
	assert.True(t, v.Eligible)
	assert.Equal(t, int64(0), v.Score)

	v = Evaluate(profileWith(), medicineRule(1))
	assert.False(t, v.Eligible)
}

func TestEvaluateGradeTable(t *testing.T) {
	cases := []struct {
		grade, min string
		ok         bool
		reason     string
	}{
		{"A1", "A1", true, ""},
		{"b2", "B3", true, ""},
		{"C6", "C5", false, "Grade C6 in Physics is below minimum C5"},
		{"F9", "E8", false, "Grade F9 in Physics is below minimum E8"},
		{"B", "C", true, ""},
		{"D", "C", false, "Grade D in Physics is below minimum C"},
		{"Z1", "C6", false, "Unknown grade Z1 in Physics"},
		{"A", "C6", false, "Grade A in Physics is not comparable with minimum C6"},
		{"", "C6", false, "No grade recorded in Physics for minimum C6"},
		{"A1", "Q", false, "Unknown minimum grade Q for Physics"},
	}
	for _, tc := range cases {
		t.Run(tc.grade+"_vs_"+tc.min, func(t *testing.T) {
			p := profileWith(state.ExamResult{Subject: "Physics", Score: 70, Grade: tc.grade})
			v := Evaluate(p, medicineRule(0, protocol.SubjectRequirement{Subject: "Physics", MinGrade: tc.min}))
			assert.Equal(t, tc.ok, v.Eligible)
			if tc.reason != "" {
				require.Len(t, v.Reasons, 1)
				assert.Equal(t, tc.reason, v.Reasons[0])
			}
		})
	}
}

func TestEvaluateZeroMinScoreIgnored(t *testing.T) {
	p := profileWith(state.ExamResult{Subject: "Physics", Score: 0})
	v := Evaluate(p, medicineRule(0, protocol.SubjectRequirement{Subject: "Physics", MinScore: 0}))
	assert.True(t, v.Eligible)
}

func TestEvaluateMissingEnforcement(t *testing.T) {
	v := Evaluate(profileWith(), protocol.AdmissionRule{InstitutionID: "x", Program: "y"})
	assert.False(t, v.Eligible)
	assert.NotEmpty(t, v.Reasons)
}
