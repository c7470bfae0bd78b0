// Package quota allocates program seats to a ranked candidate list under
// bucket caps, a hard seat limit and per-bucket minimums.
package quota

import (
	"sort"
	"strings"
	"time"

	"github.com/xisvar/the-oan/internal/merit"
	"github.com/xisvar/the-oan/internal/protocol"
)

const (
	ReasonPriority  = "allocated_by_priority"
	ReasonOverflow  = "allocated_merit_overflow"
	ReasonDiversity = "allocated_diversity_replacement"
)

// Evidence is the audit detail attached to every seat grant.
type Evidence struct {
	MI               int64               `json:"mi"`
	Reason           string              `json:"reason"`
	QuotaRuleVersion int                 `json:"quota_rule_version"`
	BucketType       protocol.BucketType `json:"bucket_type"`
	Replaced         string              `json:"replaced,omitempty"`
}

type Allocation struct {
	ApplicantID  string              `json:"applicant_id"`
	ProgramID    string              `json:"program_id"`
	BucketID     string              `json:"bucket_id"`
	BucketType   protocol.BucketType `json:"bucket_type"`
	MI           int64               `json:"mi"`
	RankInBucket int                 `json:"rank_in_bucket"`
	AllocatedAt  time.Time           `json:"allocated_at"`
	Evidence     Evidence            `json:"evidence"`
}

type Result struct {
	Allocations []Allocation           `json:"allocations"`
	Waitlist    []merit.ApplicantScore `json:"waitlist"`
	// Shortfalls lists buckets whose minimum could not be met, by bucket id.
	Shortfalls map[string]int `json:"shortfalls,omitempty"`
}

// SeatsByBucketType counts allocations per bucket type.
func (r Result) SeatsByBucketType() map[string]int {
	out := make(map[string]int)
	for _, a := range r.Allocations {
		out[string(a.BucketType)]++
	}
	return out
}

// SortRanked orders scores by mi descending, then computed_at ascending,
// then applicant id ascending. The input slice is not modified.
func SortRanked(scores []merit.ApplicantScore) []merit.ApplicantScore {
	out := make([]merit.ApplicantScore, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MI != b.MI {
			return a.MI > b.MI
		}
		if !a.ComputedAt.Equal(b.ComputedAt) {
			return a.ComputedAt.Before(b.ComputedAt)
		}
		return a.ApplicantID < b.ApplicantID
	})
	return out
}

// Matches reports whether a candidate satisfies a bucket's membership
// predicate. INTERNATIONAL buckets are only filled by overflow.
func Matches(flags protocol.PriorityFlags, t protocol.BucketType) bool {
	switch t {
	case protocol.BucketMerit:
		return true
	case protocol.BucketReserved:
		return flags.Catchment
	case protocol.BucketDiversity:
		return flags.ELDS
	case protocol.BucketSpecial:
		return flags.Disability
	}
	return false
}

// ProcessingOrder returns the buckets sorted by priority descending with
// ties broken by bucket id.
func ProcessingOrder(buckets []protocol.QuotaBucket) []protocol.QuotaBucket {
	out := make([]protocol.QuotaBucket, len(buckets))
	copy(out, buckets)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].BucketID < out[j].BucketID
	})
	return out
}

type grant struct {
	pos      int // index into ranked
	bucket   int // index into processing order
	reason   string
	replaced string
}

type allocator struct {
	ranked  []merit.ApplicantScore
	order   []protocol.QuotaBucket
	seats   int
	grants  []grant
	claimed map[string]bool
	counts  []int
}

func (a *allocator) admit(pos, bucket int, reason, replaced string) {
	a.grants = append(a.grants, grant{pos: pos, bucket: bucket, reason: reason, replaced: replaced})
	a.claimed[a.ranked[pos].ApplicantID] = true
	a.counts[bucket]++
}

func (a *allocator) evict(i int) grant {
	g := a.grants[i]
	a.grants = append(a.grants[:i], a.grants[i+1:]...)
	delete(a.claimed, a.ranked[g.pos].ApplicantID)
	a.counts[g.bucket]--
	return g
}

// victim returns the grant index of the lowest-mi admission in a
// MERIT-type bucket, preferring the worst-ranked on ties, or -1.
func (a *allocator) victim() int {
	best := -1
	for i, g := range a.grants {
		if a.order[g.bucket].Type != protocol.BucketMerit {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		cur, bg := a.ranked[g.pos], a.grants[best]
		if cur.MI < a.ranked[bg.pos].MI || (cur.MI == a.ranked[bg.pos].MI && g.pos > bg.pos) {
			best = i
		}
	}
	return best
}

// Allocate assigns seats. ranked must already be in ranking order (see
// SortRanked); it is never modified. Every allocation is stamped with at.
func Allocate(ranked []merit.ApplicantScore, rule protocol.QuotaRule, at time.Time) Result {
	a := &allocator{
		ranked:  ranked,
		order:   ProcessingOrder(rule.Buckets),
		seats:   rule.Seats,
		claimed: make(map[string]bool, len(ranked)),
	}
	a.counts = make([]int, len(a.order))

	if len(a.order) > 0 {
		a.fillByPriority()
		a.fillOverflow()
		a.enforceMinimums()
	}

	res := Result{
		Allocations: a.allocations(rule, at),
		Waitlist:    make([]merit.ApplicantScore, 0, len(ranked)-len(a.grants)),
	}
	for _, c := range ranked {
		if !a.claimed[c.ApplicantID] {
			res.Waitlist = append(res.Waitlist, c)
		}
	}
	for i, b := range a.order {
		if short := b.MinRequired - a.counts[i]; short > 0 {
			if res.Shortfalls == nil {
				res.Shortfalls = make(map[string]int)
			}
			res.Shortfalls[b.BucketID] = short
		}
	}
	return res
}

func (a *allocator) fillByPriority() {
	for bi, b := range a.order {
		for pos, c := range a.ranked {
			if len(a.grants) >= a.seats || a.counts[bi] >= b.Count {
				break
			}
			if a.claimed[c.ApplicantID] || !Matches(c.PriorityFlags, b.Type) {
				continue
			}
			a.admit(pos, bi, ReasonPriority, "")
		}
	}
}

func (a *allocator) fillOverflow() {
	target := 0
	for i, b := range a.order {
		if b.Type == protocol.BucketMerit {
			target = i
			break
		}
	}
	for pos, c := range a.ranked {
		if len(a.grants) >= a.seats {
			return
		}
		if !a.claimed[c.ApplicantID] {
			a.admit(pos, target, ReasonOverflow, "")
		}
	}
}

func (a *allocator) enforceMinimums() {
	for bi, b := range a.order {
		deficit := b.MinRequired - a.counts[bi]
		if deficit <= 0 {
			continue
		}
		var protected []int
		for pos, c := range a.ranked {
			if !a.claimed[c.ApplicantID] && Matches(c.PriorityFlags, b.Type) {
				protected = append(protected, pos)
			}
		}
		for _, pos := range protected {
			if deficit == 0 {
				break
			}
			vi := a.victim()
			if vi < 0 {
				break
			}
			if a.ranked[a.grants[vi].pos].MI >= a.ranked[pos].MI {
				continue
			}
			out := a.evict(vi)
			a.admit(pos, bi, ReasonDiversity, a.ranked[out.pos].ApplicantID)
			deficit--
		}
	}
}

// allocations renders grants grouped by bucket processing order and, within
// a bucket, by ranked position.
func (a *allocator) allocations(rule protocol.QuotaRule, at time.Time) []Allocation {
	grants := make([]grant, len(a.grants))
	copy(grants, a.grants)
	sort.SliceStable(grants, func(i, j int) bool {
		if grants[i].bucket != grants[j].bucket {
			return grants[i].bucket < grants[j].bucket
		}
		return grants[i].pos < grants[j].pos
	})

	programID := rule.Key().String()
	out := make([]Allocation, 0, len(grants))
	rank := 0
	for i, g := range grants {
		if i == 0 || grants[i-1].bucket != g.bucket {
			rank = 0
		}
		rank++
		c := a.ranked[g.pos]
		b := a.order[g.bucket]
		pid := c.ProgramID
		if strings.TrimSpace(pid) == "" {
			pid = programID
		}
		out = append(out, Allocation{
			ApplicantID:  c.ApplicantID,
			ProgramID:    pid,
			BucketID:     b.BucketID,
			BucketType:   b.Type,
			MI:           c.MI,
			RankInBucket: rank,
			AllocatedAt:  at,
			Evidence: Evidence{
				MI:               c.MI,
				Reason:           g.reason,
				QuotaRuleVersion: rule.Version,
				BucketType:       b.Type,
				Replaced:         g.replaced,
			},
		})
	}
	return out
}
