// Package state replays ledger events into applicant profiles.
package state

import (
	"encoding/json"

	"github.com/xisvar/the-oan/internal/protocol"
)

// EventSource yields an applicant's events in ledger order.
type EventSource interface {
	ApplicantEvents(applicantID string) []protocol.LedgerEvent
}

// Compute folds the events src holds for applicantID.
func Compute(src EventSource, applicantID string) (Profile, bool) {
	return Fold(applicantID, src.ApplicantEvents(applicantID))
}

// Fold reduces events, in the order given, into the profile of applicantID.
// Events that do not concern the applicant are skipped, as are unknown event
// types and payloads that do not decode. The result is false when no event
// concerns the applicant.
func Fold(applicantID string, events []protocol.LedgerEvent) (Profile, bool) {
	p := Profile{
		DID:          applicantID,
		ExamResults:  []ExamResult{},
		Documents:    []Document{},
		Applications: []Application{},
	}
	found := false
	for _, ev := range events {
		if !protocol.RelevantTo(ev, applicantID) {
			continue
		}
		found = true
		apply(&p, ev)
		p.UpdatedAt = ev.Timestamp
		p.LastSequence = ev.SequenceIndex
	}
	return p, found
}

func apply(p *Profile, ev protocol.LedgerEvent) {
	switch ev.EventType {
	case protocol.EventApplicantCreated:
		var in protocol.ApplicantCreated
		if !decode(ev, &in) {
			return
		}
		if in.DID != "" {
			p.DID = in.DID
		}
		p.Name = in.Name
		p.Email = in.Email
		p.CreatedAt = ev.Timestamp

	case protocol.EventExamResultAdded:
		var in protocol.ExamResultAdded
		if !decode(ev, &in) || in.CredentialID == "" {
			return
		}
		for _, existing := range p.ExamResults {
			if existing.CredentialID == in.CredentialID {
				return
			}
		}
		p.ExamResults = append(p.ExamResults, ExamResult{
			CredentialID: in.CredentialID,
			Subject:      in.Subject,
			Score:        in.Score,
			Grade:        in.Grade,
			ExamType:     in.ExamType,
			Issuer:       in.Issuer,
			RecordedAt:   ev.Timestamp,
		})

	case protocol.EventUTMEResultAdded:
		var in protocol.UTMEResultAdded
		if !decode(ev, &in) {
			return
		}
		p.UTME = &UTMEResult{
			JambScore:     in.JambScore,
			SubjectCombo:  in.SubjectCombo,
			PostUTMEScore: in.PostUTMEScore,
			RecordedAt:    ev.Timestamp,
		}

	case protocol.EventPreferenceUpdated:
		var in protocol.PreferenceUpdated
		if !decode(ev, &in) {
			return
		}
		if in.Course != "" {
			p.Preferences.Course = in.Course
		}
		if in.Institution != "" {
			p.Preferences.Institution = in.Institution
		}

	case protocol.EventDocumentUploaded:
		var in protocol.DocumentUploaded
		if !decode(ev, &in) {
			return
		}
		p.Documents = append(p.Documents, Document{
			DocumentID: in.DocumentID,
			Type:       in.Type,
			URL:        in.URL,
			Hash:       in.Hash,
			UploadedAt: ev.Timestamp,
		})

	case protocol.EventApplicationSubmitted:
		var in protocol.ApplicationSubmitted
		if !decode(ev, &in) {
			return
		}
		p.Applications = append(p.Applications, Application{
			InstitutionID: in.InstitutionID,
			Program:       in.Program,
			Status:        StatusSubmitted,
			SubmittedAt:   ev.Timestamp,
		})

	case protocol.EventPriorityStatusVerified:
		var in protocol.PriorityStatusVerified
		// Self-attested priority status is ignored.
		if !decode(ev, &in) || ev.ActorID == p.DID {
			return
		}
		p.PriorityFlags = in.PriorityFlags

	case protocol.EventOfferMade:
		var in protocol.OfferMade
		if !decode(ev, &in) || in.ApplicantID != p.DID {
			return
		}
		key := protocol.RuleKey{InstitutionID: in.InstitutionID, Program: in.Program}
		for i := range p.Applications {
			if p.Applications[i].Key() == key {
				p.Applications[i].Status = StatusOfferReceived
				p.Applications[i].OfferRoundID = in.RoundID
			}
		}
	}
}

func decode(ev protocol.LedgerEvent, out any) bool {
	return json.Unmarshal(ev.Payload, out) == nil
}
