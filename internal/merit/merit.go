// Package merit computes fixed-point merit indices. Every quantity is an
// int64 at Scale (10^4) so results are bit-identical across platforms.
package merit

import (
	"fmt"
	"time"

	"github.com/xisvar/the-oan/internal/protocol"
)

const Scale int64 = 10_000

// Priority boosts, stacking, at Scale.
const (
	BoostELDS       int64 = 30_000
	BoostCatchment  int64 = 10_000
	BoostDisability int64 = 50_000
)

// AggregateWeightKey selects the weight applied to the normalized aggregate.
const AggregateWeightKey = "aggregate"

type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeAdvanced Mode = "advanced"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFixed:
		return ModeFixed, nil
	case ModeAdvanced:
		return ModeAdvanced, nil
	}
	return "", fmt.Errorf("unknown merit mode %q", s)
}

// Params are the per-program scoring parameters.
type Params struct {
	Mode Mode
	// NormMin and NormMax bound the raw exam aggregate.
	NormMin int64
	NormMax int64
	// SubjectWeights are at Scale; a missing aggregate weight means Scale.
	SubjectWeights map[string]int64
	// ProgramDifficulty is at Scale; zero or less means Scale.
	ProgramDifficulty int64
}

// Input is what scoring needs from one applicant profile.
type Input struct {
	ApplicantID   string
	ProgramID     string
	ExamScore     int64
	Flags         protocol.PriorityFlags
	JambScore     int64
	Grades        []string
	PostUTMEScore int64
	ComputedAt    time.Time
}

type ApplicantScore struct {
	ApplicantID       string                 `json:"applicant_id"`
	ProgramID         string                 `json:"program_id"`
	Mode              Mode                   `json:"mode"`
	ExamScore         int64                  `json:"exam_score"`
	NormalizedScore   int64                  `json:"normalized_score"`
	SubjectWeights    map[string]int64       `json:"subject_weights,omitempty"`
	ProgramDifficulty int64                  `json:"program_difficulty"`
	PriorityFlags     protocol.PriorityFlags `json:"priority_flags"`
	PriorityBoost     int64                  `json:"priority_boost"`
	Penalties         int64                  `json:"penalties"`
	MI                int64                  `json:"mi"`
	ComputedAt        time.Time              `json:"computed_at"`
	Explain           []string               `json:"explain"`
}

// RoundDiv divides n by d > 0 rounding half away from zero.
func RoundDiv(n, d int64) int64 {
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}

// Normalize maps exam into [0, Scale] over [min, max]. A degenerate range
// yields 0.
func Normalize(exam, min, max int64) int64 {
	rng := max - min
	if rng <= 0 {
		return 0
	}
	v := RoundDiv(Scale*(exam-min), rng)
	switch {
	case v < 0:
		return 0
	case v > Scale:
		return Scale
	}
	return v
}

// PriorityBoost sums the boosts earned by flags.
func PriorityBoost(flags protocol.PriorityFlags) int64 {
	var b int64
	if flags.ELDS {
		b += BoostELDS
	}
	if flags.Catchment {
		b += BoostCatchment
	}
	if flags.Disability {
		b += BoostDisability
	}
	return b
}

// Compute scores one applicant. It is a pure function of its arguments.
func Compute(in Input, p Params) ApplicantScore {
	weight := Scale
	if w, ok := p.SubjectWeights[AggregateWeightKey]; ok {
		weight = w
	}
	difficulty := p.ProgramDifficulty
	if difficulty <= 0 {
		difficulty = Scale
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeFixed
	}

	s := ApplicantScore{
		ApplicantID:       in.ApplicantID,
		ProgramID:         in.ProgramID,
		Mode:              mode,
		ExamScore:         in.ExamScore,
		SubjectWeights:    p.SubjectWeights,
		ProgramDifficulty: difficulty,
		PriorityFlags:     in.Flags,
		ComputedAt:        in.ComputedAt,
	}

	var adjusted int64
	switch mode {
	case ModeAdvanced:
		ami := ComputeAdvancedMeritIndex(in.JambScore, in.Grades, in.PostUTMEScore)
		s.ExamScore = in.JambScore
		s.NormalizedScore = ToFixed(ami)
		adjusted = s.NormalizedScore
		s.Explain = append(s.Explain,
			fmt.Sprintf("advanced index %s from jamb=%d grades=%v post_utme=%d", ami.StringFixed(2), in.JambScore, in.Grades, in.PostUTMEScore),
		)
	default:
		s.NormalizedScore = Normalize(in.ExamScore, p.NormMin, p.NormMax)
		base := RoundDiv(s.NormalizedScore*weight, Scale)
		adjusted = RoundDiv(base*difficulty, Scale)
		s.Explain = append(s.Explain,
			fmt.Sprintf("normalized %d from exam=%d over [%d,%d]", s.NormalizedScore, in.ExamScore, p.NormMin, p.NormMax),
			fmt.Sprintf("base %d at weight %d", base, weight),
			fmt.Sprintf("adjusted %d at difficulty %d", adjusted, difficulty),
		)
	}

	s.PriorityBoost = PriorityBoost(in.Flags)
	s.MI = adjusted + s.PriorityBoost - s.Penalties
	s.Explain = append(s.Explain, fmt.Sprintf("mi %d = %d + boost %d - penalties %d", s.MI, adjusted, s.PriorityBoost, s.Penalties))
	return s
}
