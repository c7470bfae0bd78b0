// Package matching runs admission rounds: it reconstructs candidate
// profiles from one ledger snapshot, filters them by eligibility and
// application, scores them and allocates seats.
package matching

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xisvar/the-oan/internal/ledger"
	"github.com/xisvar/the-oan/internal/merit"
	"github.com/xisvar/the-oan/internal/metrics"
	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/quota"
	"github.com/xisvar/the-oan/internal/rules"
	"github.com/xisvar/the-oan/internal/state"
)

var (
	ErrRuleNotFound      = errors.New("admission rule not found")
	ErrApplicantNotFound = errors.New("applicant not found")
)

// Quota rule provenance recorded on each round.
const (
	QuotaSourceLedger  = "ledger"
	QuotaSourceDefault = "default_plan"
)

type SnapshotSource interface {
	Snapshot(ctx context.Context) (*ledger.Snapshot, error)
}

type Appender interface {
	Append(ctx context.Context, eventType string, payload any, actorID, signerID string) (protocol.LedgerEvent, error)
}

// Scoring holds the merit parameters used when a round does not override them.
type Scoring struct {
	Mode              merit.Mode
	NormMin           int64
	NormMax           int64
	ProgramDifficulty int64
	SubjectWeights    map[string]int64
}

type Params struct {
	Source  SnapshotSource
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	Scoring Scoring
	// Workers bounds concurrent profile scoring; zero means GOMAXPROCS.
	Workers int
}

type Service struct {
	src     SnapshotSource
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	scoring Scoring
	workers int
}

func New(params Params) (*Service, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}
	s := &Service{
		src:     params.Source,
		logger:  params.Logger,
		metrics: params.Metrics,
		now:     params.Now,
		scoring: params.Scoring,
		workers: params.Workers,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.scoring.Mode == "" {
		s.scoring.Mode = merit.ModeFixed
	}
	if s.workers <= 0 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	return s, nil
}

// Options override the service scoring for one round.
type Options struct {
	Mode merit.Mode
}

// Candidate is one applicant evaluated against a rule.
type Candidate struct {
	Profile state.Profile `json:"profile"`
	Verdict rules.Verdict `json:"verdict"`
}

type Result struct {
	RoundID         string                 `json:"round_id"`
	InstitutionID   string                 `json:"institution_id"`
	Program         string                 `json:"program"`
	Mode            merit.Mode             `json:"mode"`
	SnapshotSize    int64                  `json:"snapshot_size"`
	SnapshotTip     string                 `json:"snapshot_tip"`
	QuotaRule       protocol.QuotaRule     `json:"quota_rule"`
	QuotaSource     string                 `json:"quota_source"`
	PoolSize        int                    `json:"pool_size"`
	NotApplied      int                    `json:"eligible_not_applied"`
	Admitted        []quota.Allocation     `json:"admitted"`
	Waitlisted      []merit.ApplicantScore `json:"waitlisted"`
	Shortfalls      map[string]int         `json:"shortfalls,omitempty"`
	AllocationsRoot string                 `json:"allocations_root"`
	RanAt           time.Time              `json:"ran_at"`
}

// RunRound allocates seats for one program against a single snapshot. It
// appends nothing; see RecordOffers.
func (s *Service) RunRound(ctx context.Context, institutionID, program string, opts Options) (Result, error) {
	start := time.Now()
	key := protocol.RuleKey{InstitutionID: institutionID, Program: program}

	snap, err := s.src.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	rule, ok := snap.Rule(key)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrRuleNotFound, key)
	}

	scoring := s.scoring
	if opts.Mode != "" {
		scoring.Mode = opts.Mode
	}

	eligible, err := s.evaluate(ctx, snap, rule)
	if err != nil {
		return Result{}, err
	}
	var pool []state.Profile
	notApplied := 0
	for _, c := range eligible {
		if !c.Profile.HasApplied(key) {
			notApplied++
			s.logger.Debug("skipping applicant without application",
				slog.String("applicant_id", c.Profile.DID),
				slog.String("program", key.String()),
			)
			continue
		}
		pool = append(pool, c.Profile)
	}

	scores, err := s.score(ctx, pool, key, scoring)
	if err != nil {
		return Result{}, err
	}
	ranked := quota.SortRanked(scores)

	qr, source := snap.QuotaRule(key)
	quotaSource := QuotaSourceLedger
	if !source {
		qr = quota.DefaultPlan(rule)
		quotaSource = QuotaSourceDefault
	}

	ranAt := protocol.NormalizeTimestamp(s.now())
	alloc := quota.Allocate(ranked, qr, ranAt)
	root, err := AllocationsRoot(alloc.Allocations)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		RoundID:         protocol.RandomID("round"),
		InstitutionID:   institutionID,
		Program:         program,
		Mode:            scoring.Mode,
		SnapshotSize:    snap.Size(),
		SnapshotTip:     snap.TipHash(),
		QuotaRule:       qr,
		QuotaSource:     quotaSource,
		PoolSize:        len(pool),
		NotApplied:      notApplied,
		Admitted:        alloc.Allocations,
		Waitlisted:      alloc.Waitlist,
		Shortfalls:      alloc.Shortfalls,
		AllocationsRoot: root,
		RanAt:           ranAt,
	}

	s.metrics.ObserveRound(string(scoring.Mode), time.Since(start), alloc.SeatsByBucketType(), len(alloc.Waitlist))
	s.logger.Info("matching_round",
		slog.String("round_id", res.RoundID),
		slog.String("program", key.String()),
		slog.String("mode", string(res.Mode)),
		slog.String("quota_source", quotaSource),
		slog.Int("pool", res.PoolSize),
		slog.Int("admitted", len(res.Admitted)),
		slog.Int("waitlisted", len(res.Waitlisted)),
		slog.Int64("snapshot_size", res.SnapshotSize),
	)
	return res, nil
}

// EligibleApplicants evaluates every known applicant against the latest rule
// for key and returns the eligible ones in DID order.
func (s *Service) EligibleApplicants(ctx context.Context, key protocol.RuleKey) ([]Candidate, error) {
	snap, err := s.src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rule, ok := snap.Rule(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, key)
	}
	return s.evaluate(ctx, snap, rule)
}

// EligiblePrograms returns the verdicts of every rule the applicant passes.
func (s *Service) EligiblePrograms(ctx context.Context, applicantID string) ([]rules.Verdict, error) {
	snap, err := s.src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	profile, ok := state.Compute(snap, applicantID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApplicantNotFound, applicantID)
	}
	out := []rules.Verdict{}
	for _, rule := range snap.Rules() {
		if v := rules.Evaluate(profile, rule); v.Eligible {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Service) evaluate(ctx context.Context, snap *ledger.Snapshot, rule protocol.AdmissionRule) ([]Candidate, error) {
	ids := snap.Applicants()
	found := make([]*Candidate, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			profile, ok := state.Compute(snap, id)
			if !ok {
				return nil
			}
			if v := rules.Evaluate(profile, rule); v.Eligible {
				found[i] = &Candidate{Profile: profile, Verdict: v}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(found))
	for _, c := range found {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Service) score(ctx context.Context, pool []state.Profile, key protocol.RuleKey, sc Scoring) ([]merit.ApplicantScore, error) {
	params := merit.Params{
		Mode:              sc.Mode,
		NormMin:           sc.NormMin,
		NormMax:           sc.NormMax,
		SubjectWeights:    sc.SubjectWeights,
		ProgramDifficulty: sc.ProgramDifficulty,
	}
	out := make([]merit.ApplicantScore, len(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range pool {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = merit.Compute(ScoringInput(p, key), params)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScoringInput extracts merit inputs from a profile. ComputedAt is the
// ledger time of the application for key, so earlier applicants win mi ties
// and replays rank identically.
func ScoringInput(p state.Profile, key protocol.RuleKey) merit.Input {
	in := merit.Input{
		ApplicantID: p.DID,
		ProgramID:   key.String(),
		ExamScore:   p.ExamTotal(),
		Flags:       p.PriorityFlags,
		Grades:      p.Grades(),
		ComputedAt:  p.UpdatedAt,
	}
	for _, a := range p.Applications {
		if a.Key() == key {
			in.ComputedAt = a.SubmittedAt
			break
		}
	}
	if p.UTME != nil {
		in.JambScore = p.UTME.JambScore
		if p.UTME.PostUTMEScore != nil {
			in.PostUTMEScore = *p.UTME.PostUTMEScore
		}
	}
	return in
}

// AllocationsRoot is the Merkle root over the canonical JSON of each
// allocation, in output order.
func AllocationsRoot(allocs []quota.Allocation) (string, error) {
	leaves := make([]string, 0, len(allocs))
	for _, a := range allocs {
		canonical, err := protocol.CanonicalJSON(a)
		if err != nil {
			return "", fmt.Errorf("canonicalize allocation %s: %w", a.ApplicantID, err)
		}
		leaves = append(leaves, protocol.LeafHash(canonical))
	}
	return protocol.ComputeMerkleRoot(leaves)
}

// RecordOffers appends one OFFER_MADE per admitted allocation, attributed to
// the institution and signed by signerID. On failure it returns the events
// already committed with the error.
func RecordOffers(ctx context.Context, app Appender, res Result, signerID string) ([]protocol.LedgerEvent, error) {
	out := make([]protocol.LedgerEvent, 0, len(res.Admitted))
	for _, a := range res.Admitted {
		ev, err := app.Append(ctx, protocol.EventOfferMade, protocol.OfferMade{
			ApplicantID:      a.ApplicantID,
			InstitutionID:    res.InstitutionID,
			Program:          res.Program,
			RoundID:          res.RoundID,
			BucketID:         a.BucketID,
			BucketType:       string(a.BucketType),
			MI:               a.MI,
			Reason:           a.Evidence.Reason,
			QuotaRuleVersion: a.Evidence.QuotaRuleVersion,
			AllocationsRoot:  res.AllocationsRoot,
			SnapshotTip:      res.SnapshotTip,
		}, res.InstitutionID, signerID)
		if err != nil {
			return out, fmt.Errorf("record offer for %s: %w", a.ApplicantID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
