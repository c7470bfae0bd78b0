package ledger

import (
	"sort"
	"time"

	"github.com/xisvar/the-oan/internal/protocol"
)

// Snapshot is an immutable view of a ledger prefix. Every read made through
// one Snapshot observes the same events.
type Snapshot struct {
	events       []protocol.LedgerEvent
	rules        map[protocol.RuleKey]protocol.AdmissionRule
	quotas       map[protocol.RuleKey]protocol.QuotaRule
	applicants   []string
	positions    map[string][]int
	counts       map[string]int
	lastActivity time.Time
}

func newSnapshot(events []protocol.LedgerEvent, ix *index) *Snapshot {
	n := len(events)
	s := &Snapshot{
		events:       events[:n:n],
		rules:        make(map[protocol.RuleKey]protocol.AdmissionRule, len(ix.rules)),
		quotas:       make(map[protocol.RuleKey]protocol.QuotaRule, len(ix.quotas)),
		applicants:   make([]string, 0, len(ix.applicants)),
		positions:    make(map[string][]int, len(ix.positions)),
		counts:       make(map[string]int, len(ix.counts)),
		lastActivity: ix.lastActivity,
	}
	for k, v := range ix.rules {
		s.rules[k] = v
	}
	for k, v := range ix.quotas {
		s.quotas[k] = v
	}
	for id := range ix.applicants {
		s.applicants = append(s.applicants, id)
	}
	sort.Strings(s.applicants)
	for id, pos := range ix.positions {
		s.positions[id] = pos[:len(pos):len(pos)]
	}
	for k, v := range ix.counts {
		s.counts[k] = v
	}
	return s
}

func (s *Snapshot) Size() int64 { return int64(len(s.events)) }

func (s *Snapshot) TipHash() string {
	if len(s.events) == 0 {
		return protocol.GenesisHash
	}
	return s.events[len(s.events)-1].Hash
}

// Events returns the snapshot's events in ledger order.
func (s *Snapshot) Events() []protocol.LedgerEvent {
	out := make([]protocol.LedgerEvent, len(s.events))
	copy(out, s.events)
	return out
}

// ApplicantEvents returns, in ledger order, the events whose actor or
// payload subject is applicantID.
func (s *Snapshot) ApplicantEvents(applicantID string) []protocol.LedgerEvent {
	pos := s.positions[applicantID]
	out := make([]protocol.LedgerEvent, 0, len(pos))
	for _, p := range pos {
		out = append(out, s.events[p])
	}
	return out
}

func (s *Snapshot) Rule(key protocol.RuleKey) (protocol.AdmissionRule, bool) {
	r, ok := s.rules[key]
	return r, ok
}

// Rules returns the latest rule per key ordered by institution then program.
func (s *Snapshot) Rules() []protocol.AdmissionRule {
	out := make([]protocol.AdmissionRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstitutionID != out[j].InstitutionID {
			return out[i].InstitutionID < out[j].InstitutionID
		}
		return out[i].Program < out[j].Program
	})
	return out
}

func (s *Snapshot) QuotaRule(key protocol.RuleKey) (protocol.QuotaRule, bool) {
	q, ok := s.quotas[key]
	return q, ok
}

// Applicants returns every DID introduced by APPLICANT_CREATED, sorted.
func (s *Snapshot) Applicants() []string {
	out := make([]string, len(s.applicants))
	copy(out, s.applicants)
	return out
}

func (s *Snapshot) Stats() protocol.StatsResponse {
	byType := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		byType[k] = v
	}
	out := protocol.StatsResponse{
		TotalEvents:       s.Size(),
		TotalApplicants:   len(s.applicants),
		TotalRules:        s.counts[protocol.EventRuleDefined],
		TotalQuotaRules:   s.counts[protocol.EventQuotaRuleDefined],
		TotalApplications: s.counts[protocol.EventApplicationSubmitted],
		TotalMatches:      s.counts[protocol.EventOfferMade],
		EventsByType:      byType,
		TipHash:           s.TipHash(),
	}
	if len(s.events) > 0 {
		last := s.lastActivity
		out.LastActivity = &last
	}
	return out
}
