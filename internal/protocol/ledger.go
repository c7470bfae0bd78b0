package protocol

import (
	"encoding/json"
	"time"
)

// Event types recognised by the state fold and the ledger indices.
const (
	EventApplicantCreated       = "APPLICANT_CREATED"
	EventExamResultAdded        = "EXAM_RESULT_ADDED"
	EventUTMEResultAdded        = "UTME_RESULT_ADDED"
	EventPreferenceUpdated      = "PREFERENCE_UPDATED"
	EventDocumentUploaded       = "DOCUMENT_UPLOADED"
	EventApplicationSubmitted   = "APPLICATION_SUBMITTED"
	EventPriorityStatusVerified = "PRIORITY_STATUS_VERIFIED"
	EventRuleDefined            = "RULE_DEFINED"
	EventQuotaRuleDefined       = "QUOTA_RULE_DEFINED"
	EventOfferMade              = "OFFER_MADE"
)

// LedgerEvent is one immutable, signed link of the chain.
type LedgerEvent struct {
	SequenceIndex int64           `json:"sequence_index"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PreviousHash  string          `json:"previous_hash"`
	Hash          string          `json:"hash"`
	Signature     string          `json:"signature"`
	SignerKeyID   string          `json:"signer_key_id,omitempty"`
	ActorID       string          `json:"actor_id"`
	SignerID      string          `json:"signer_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ComputeHash recomputes the event hash from its stored fields.
func (e LedgerEvent) ComputeHash() string {
	return EventHash(e.PreviousHash, e.EventType, e.Payload, e.Timestamp, e.ActorID)
}

type AppendEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	ActorID   string          `json:"actor_id"`
	SignerID  string          `json:"signer_id"`
}

type EventsResponse struct {
	Size    int64         `json:"size"`
	TipHash string        `json:"tip_hash"`
	Events  []LedgerEvent `json:"events"`
}

type VerifyResponse struct {
	Valid        bool      `json:"valid"`
	CheckedCount int64     `json:"checked_count"`
	ErrorIndex   *int64    `json:"error_index,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	TipHash      string    `json:"tip_hash"`
	CheckedAt    time.Time `json:"checked_at"`
}

// subjectHeader is the subset of payload fields that name who an event is about.
type subjectHeader struct {
	SubjectID   string `json:"subject_id"`
	DID         string `json:"did"`
	ApplicantID string `json:"applicant_id"`
}

// PayloadSubjects returns the non-empty applicant references carried by a payload.
func PayloadSubjects(payload json.RawMessage) []string {
	var h subjectHeader
	if len(payload) == 0 || json.Unmarshal(payload, &h) != nil {
		return nil
	}
	out := make([]string, 0, 3)
	for _, v := range []string{h.SubjectID, h.DID, h.ApplicantID} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// RelevantTo reports whether ev concerns applicantID, either as its actor or
// through a subject reference in the payload.
func RelevantTo(ev LedgerEvent, applicantID string) bool {
	if applicantID == "" {
		return false
	}
	if ev.ActorID == applicantID {
		return true
	}
	for _, s := range PayloadSubjects(ev.Payload) {
		if s == applicantID {
			return true
		}
	}
	return false
}
