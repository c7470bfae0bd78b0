// Package classifier assigns an academic stream from the subjects an
// applicant sat.
package classifier

import (
	"strings"

	"github.com/xisvar/the-oan/internal/state"
)

type Stream string

const (
	StreamScience      Stream = "SCIENCE"
	StreamCommercial   Stream = "COMMERCIAL"
	StreamArts         Stream = "ARTS"
	StreamUnclassified Stream = "UNCLASSIFIED"
)

// Source tags every classification produced here.
const Source = "AUTOMATED_RULE_ENGINE"

// minCore is how many core subjects a stream needs.
const minCore = 3

var (
	scienceCore    = []string{"mathematics", "english", "biology", "chemistry", "physics"}
	commercialCore = []string{"mathematics", "english", "economics", "commerce", "accounting"}
	artsCore       = []string{"english", "government", "literature", "crk", "irk", "history"}
)

type Classification struct {
	Stream     Stream `json:"stream"`
	Confidence int    `json:"confidence"`
	Source     string `json:"source"`
}

// Classify counts core subjects per stream. Science wins ties; commercial
// and arts must strictly beat the current leader.
func Classify(subjects []string) Classification {
	have := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		have[strings.ToLower(strings.TrimSpace(s))] = true
	}

	out := Classification{Stream: StreamUnclassified, Source: Source}
	if n := count(have, scienceCore); n >= minCore {
		out.Stream, out.Confidence = StreamScience, n
	}
	if n := count(have, commercialCore); n >= minCore && n > out.Confidence {
		out.Stream, out.Confidence = StreamCommercial, n
	}
	if n := count(have, artsCore); n >= minCore && n > out.Confidence {
		out.Stream, out.Confidence = StreamArts, n
	}
	return out
}

// ClassifyProfile classifies by the subjects of the profile's exam results.
func ClassifyProfile(p state.Profile) Classification {
	subjects := make([]string, 0, len(p.ExamResults))
	for _, r := range p.ExamResults {
		subjects = append(subjects, r.Subject)
	}
	return Classify(subjects)
}

func count(have map[string]bool, core []string) int {
	n := 0
	for _, c := range core {
		if have[c] {
			n++
		}
	}
	return n
}
