// Package rules evaluates applicant profiles against admission rules.
package rules

import (
	"fmt"
	"strings"

	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/state"
)

// Verdict is the outcome of one evaluation. An ineligible verdict is a normal
// result, not an error, and lists every failed requirement.
type Verdict struct {
	InstitutionID string   `json:"institution_id"`
	Program       string   `json:"program"`
	Eligible      bool     `json:"eligible"`
	Score         int64    `json:"score"`
	Reasons       []string `json:"reasons"`
}

// Evaluate checks profile against rule without short-circuiting.
func Evaluate(profile state.Profile, rule protocol.AdmissionRule) Verdict {
	v := Verdict{
		InstitutionID: rule.InstitutionID,
		Program:       rule.Program,
		Score:         profile.ExamTotal(),
		Reasons:       []string{},
	}
	if rule.Enforcement == nil {
		v.Reasons = append(v.Reasons, "Rule has no enforcement section")
		return v
	}
	enf := rule.Enforcement
	if v.Score < enf.FinalCutoff {
		v.Reasons = append(v.Reasons, fmt.Sprintf("Score %d is below cutoff %d", v.Score, enf.FinalCutoff))
	}
	for _, req := range enf.RequiredSubjects {
		result, ok := findSubject(profile.ExamResults, req.Subject)
		if !ok {
			v.Reasons = append(v.Reasons, "Missing required subject: "+req.Subject)
			continue
		}
		if req.MinGrade != "" {
			if reason := checkGrade(result, req); reason != "" {
				v.Reasons = append(v.Reasons, reason)
			}
		}
		if req.MinScore > 0 && result.Score < req.MinScore {
			v.Reasons = append(v.Reasons, fmt.Sprintf("Score %d in %s is below minimum %d", result.Score, req.Subject, req.MinScore))
		}
	}
	v.Eligible = len(v.Reasons) == 0
	return v
}

// findSubject returns the first result, in ledger order, for subject.
func findSubject(results []state.ExamResult, subject string) (state.ExamResult, bool) {
	want := strings.TrimSpace(subject)
	for _, r := range results {
		if strings.EqualFold(strings.TrimSpace(r.Subject), want) {
			return r, true
		}
	}
	return state.ExamResult{}, false
}

func checkGrade(result state.ExamResult, req protocol.SubjectRequirement) string {
	minRank, ok := lookupGrade(req.MinGrade)
	if !ok {
		return fmt.Sprintf("Unknown minimum grade %s for %s", req.MinGrade, req.Subject)
	}
	got, ok := lookupGrade(result.Grade)
	if !ok {
		if result.Grade == "" {
			return fmt.Sprintf("No grade recorded in %s for minimum %s", req.Subject, req.MinGrade)
		}
		return fmt.Sprintf("Unknown grade %s in %s", result.Grade, req.Subject)
	}
	if got.scale != minRank.scale {
		return fmt.Sprintf("Grade %s in %s is not comparable with minimum %s", result.Grade, req.Subject, req.MinGrade)
	}
	if got.rank < minRank.rank {
		return fmt.Sprintf("Grade %s in %s is below minimum %s", result.Grade, req.Subject, req.MinGrade)
	}
	return ""
}
