package state

import (
	"time"

	"github.com/xisvar/the-oan/internal/protocol"
)

type ApplicationStatus string

const (
	StatusSubmitted     ApplicationStatus = "SUBMITTED"
	StatusOfferReceived ApplicationStatus = "OFFER_RECEIVED"
)

type ExamResult struct {
	CredentialID string    `json:"credential_id"`
	Subject      string    `json:"subject"`
	Score        int64     `json:"score"`
	Grade        string    `json:"grade,omitempty"`
	ExamType     string    `json:"exam_type,omitempty"`
	Issuer       string    `json:"issuer,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

type UTMEResult struct {
	JambScore     int64     `json:"jamb_score"`
	SubjectCombo  []string  `json:"subject_combo,omitempty"`
	PostUTMEScore *int64    `json:"post_utme_score,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type Preferences struct {
	Course      string `json:"course,omitempty"`
	Institution string `json:"institution,omitempty"`
}

type Document struct {
	DocumentID string    `json:"document_id"`
	Type       string    `json:"type"`
	URL        string    `json:"url,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Application struct {
	InstitutionID string            `json:"institution_id"`
	Program       string            `json:"program"`
	Status        ApplicationStatus `json:"status"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	OfferRoundID  string            `json:"offer_round_id,omitempty"`
}

func (a Application) Key() protocol.RuleKey {
	return protocol.RuleKey{InstitutionID: a.InstitutionID, Program: a.Program}
}

// Profile is the projection of one applicant's ledger history.
type Profile struct {
	DID           string                 `json:"did"`
	Name          string                 `json:"name,omitempty"`
	Email         string                 `json:"email,omitempty"`
	ExamResults   []ExamResult           `json:"exam_results"`
	UTME          *UTMEResult            `json:"utme_result,omitempty"`
	Preferences   Preferences            `json:"preferences"`
	Documents     []Document             `json:"documents"`
	Applications  []Application          `json:"applications"`
	PriorityFlags protocol.PriorityFlags `json:"priority_flags"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	// LastSequence is the index of the last event folded into the profile.
	LastSequence int64 `json:"last_sequence"`
}

// HasApplied reports whether the applicant submitted an application for key.
func (p Profile) HasApplied(key protocol.RuleKey) bool {
	for _, a := range p.Applications {
		if a.Key() == key {
			return true
		}
	}
	return false
}

// ExamTotal is the sum of all exam result scores.
func (p Profile) ExamTotal() int64 {
	var total int64
	for _, r := range p.ExamResults {
		total += r.Score
	}
	return total
}

func (p Profile) Grades() []string {
	out := make([]string, 0, len(p.ExamResults))
	for _, r := range p.ExamResults {
		if r.Grade != "" {
			out = append(out, r.Grade)
		}
	}
	return out
}
