package ledger

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xisvar/the-oan/internal/protocol"
)

// index holds the materialized views kept current on every append.
type index struct {
	rules        map[protocol.RuleKey]protocol.AdmissionRule
	quotas       map[protocol.RuleKey]protocol.QuotaRule
	applicants   map[string]struct{}
	positions    map[string][]int
	counts       map[string]int
	lastActivity time.Time
}

func newIndex() *index {
	return &index{
		rules:      make(map[protocol.RuleKey]protocol.AdmissionRule),
		quotas:     make(map[protocol.RuleKey]protocol.QuotaRule),
		applicants: make(map[string]struct{}),
		positions:  make(map[string][]int),
		counts:     make(map[string]int),
	}
}

func (ix *index) apply(pos int, ev protocol.LedgerEvent, logger *slog.Logger) {
	ix.counts[ev.EventType]++
	ix.lastActivity = ev.Timestamp

	seen := map[string]struct{}{ev.ActorID: {}}
	ix.positions[ev.ActorID] = append(ix.positions[ev.ActorID], pos)
	for _, id := range protocol.PayloadSubjects(ev.Payload) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ix.positions[id] = append(ix.positions[id], pos)
	}

	switch ev.EventType {
	case protocol.EventApplicantCreated:
		var p protocol.ApplicantCreated
		if err := json.Unmarshal(ev.Payload, &p); err == nil && p.DID != "" {
			ix.applicants[p.DID] = struct{}{}
		}
	case protocol.EventRuleDefined:
		var r protocol.AdmissionRule
		if err := json.Unmarshal(ev.Payload, &r); err != nil || r.InstitutionID == "" || r.Program == "" {
			logger.Warn("skipping unreadable admission rule", slog.Int64("sequence_index", ev.SequenceIndex))
			return
		}
		ix.rules[r.Key()] = r
	case protocol.EventQuotaRuleDefined:
		var q protocol.QuotaRule
		if err := json.Unmarshal(ev.Payload, &q); err != nil || q.InstitutionID == "" || q.Program == "" {
			logger.Warn("skipping unreadable quota rule", slog.Int64("sequence_index", ev.SequenceIndex))
			return
		}
		ix.quotas[q.Key()] = q
	}
}
