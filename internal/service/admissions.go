package service

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xisvar/the-oan/internal/cache"
	"github.com/xisvar/the-oan/internal/classifier"
	"github.com/xisvar/the-oan/internal/crypto"
	"github.com/xisvar/the-oan/internal/ledger"
	"github.com/xisvar/the-oan/internal/matching"
	"github.com/xisvar/the-oan/internal/merit"
	"github.com/xisvar/the-oan/internal/metrics"
	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/rules"
	"github.com/xisvar/the-oan/internal/state"
)

// AdmissionsService is the application layer over the ledger, the
// projections and matching. Every method returns *AppError on failure.
type AdmissionsService struct {
	ledger     *ledger.Ledger
	validator  *rules.Validator
	matching   *matching.Service
	keys       *crypto.KeyStore
	cache      cache.ProfileCache
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	nodeID     string
	writeToken string
	service    string
	version    string
}

type AdmissionsParams struct {
	Ledger    *ledger.Ledger
	Validator *rules.Validator
	Matching  *matching.Service
	Keys      *crypto.KeyStore
	// Cache is optional.
	Cache      cache.ProfileCache
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	NodeID     string
	WriteToken string
	Service    string
	Version    string
}

func NewAdmissions(params AdmissionsParams) (*AdmissionsService, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if params.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if params.Matching == nil {
		return nil, fmt.Errorf("matching service is required")
	}
	if params.Keys == nil {
		return nil, fmt.Errorf("keystore is required")
	}
	if params.WriteToken == "" {
		return nil, fmt.Errorf("write token is required")
	}
	if params.Logger == nil {
		params.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.Service == "" {
		params.Service = "oan-node"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	return &AdmissionsService{
		ledger:     params.Ledger,
		validator:  params.Validator,
		matching:   params.Matching,
		keys:       params.Keys,
		cache:      params.Cache,
		metrics:    params.Metrics,
		logger:     params.Logger,
		now:        params.Now,
		nodeID:     params.NodeID,
		writeToken: params.WriteToken,
		service:    params.Service,
		version:    params.Version,
	}, nil
}

func (s *AdmissionsService) VerifyWriteToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || s.writeToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.writeToken)) == 1
}

// AppendEvent validates a raw event against its payload schema and appends it.
func (s *AdmissionsService) AppendEvent(ctx context.Context, req protocol.AppendEventRequest) (protocol.LedgerEvent, error) {
	req.EventType = strings.TrimSpace(req.EventType)
	if req.EventType == "" {
		return protocol.LedgerEvent{}, BadRequest("event_type is required", nil)
	}
	if len(req.Payload) == 0 {
		return protocol.LedgerEvent{}, BadRequest("payload is required", nil)
	}
	if req.SignerID == "" {
		req.SignerID = req.ActorID
	}
	if err := s.validator.ValidatePayload(req.EventType, req.Payload); err != nil {
		return protocol.LedgerEvent{}, classify("validate payload", err)
	}
	ev, err := s.ledger.Append(ctx, req.EventType, req.Payload, req.ActorID, req.SignerID)
	if err != nil {
		return protocol.LedgerEvent{}, classify("append ledger event", err)
	}
	return ev, nil
}

// Events returns the full ledger, or only the events relevant to applicant.
func (s *AdmissionsService) Events(ctx context.Context, applicant string) (protocol.EventsResponse, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return protocol.EventsResponse{}, classify("read ledger", err)
	}
	resp := protocol.EventsResponse{Size: snap.Size(), TipHash: snap.TipHash()}
	if applicant = strings.TrimSpace(applicant); applicant != "" {
		resp.Events = snap.ApplicantEvents(applicant)
	} else {
		resp.Events = snap.Events()
	}
	return resp, nil
}

func (s *AdmissionsService) VerifyChain(ctx context.Context) (protocol.VerifyResponse, error) {
	res, err := s.ledger.VerifyChain(ctx)
	if err != nil {
		return protocol.VerifyResponse{}, classify("verify ledger", err)
	}
	if !res.Valid {
		s.logger.Error("ledger verification failed",
			slog.String("reason", res.Reason),
			slog.Int64("checked_count", res.CheckedCount),
		)
	}
	return protocol.VerifyResponse{
		Valid:        res.Valid,
		CheckedCount: res.CheckedCount,
		ErrorIndex:   res.FirstBrokenIndex,
		Reason:       res.Reason,
		TipHash:      res.TipHash,
		CheckedAt:    s.now().UTC(),
	}, nil
}

// PublishRule appends RULE_DEFINED on behalf of the rule's institution.
func (s *AdmissionsService) PublishRule(ctx context.Context, req protocol.PublishRuleRequest) (protocol.LedgerEvent, error) {
	rule := req.Rule
	if rule.Timestamp.IsZero() {
		rule.Timestamp = protocol.NormalizeTimestamp(s.now())
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return protocol.LedgerEvent{}, Internal("encode rule", err)
	}
	if _, err := s.validator.ValidateRule(raw); err != nil {
		return protocol.LedgerEvent{}, classify("validate rule", err)
	}
	ev, err := s.ledger.Append(ctx, protocol.EventRuleDefined, json.RawMessage(raw), rule.InstitutionID, signerOr(req.SignerID, rule.InstitutionID))
	if err != nil {
		return protocol.LedgerEvent{}, classify("publish rule", err)
	}
	s.logger.Info("admission rule published",
		slog.String("program", rule.Key().String()),
		slog.Int64("sequence_index", ev.SequenceIndex),
	)
	return ev, nil
}

// PublishQuotaRule appends QUOTA_RULE_DEFINED. A zero version becomes one
// past the latest published version for the program; an explicit version
// must be greater than it.
func (s *AdmissionsService) PublishQuotaRule(ctx context.Context, req protocol.PublishQuotaRuleRequest) (protocol.LedgerEvent, error) {
	rule := req.Rule
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return protocol.LedgerEvent{}, classify("read ledger", err)
	}
	latest := 0
	if prev, ok := snap.QuotaRule(rule.Key()); ok {
		latest = prev.Version
	}
	switch {
	case rule.Version == 0:
		rule.Version = latest + 1
	case rule.Version <= latest:
		return protocol.LedgerEvent{}, classify("validate quota rule", &rules.ValidationError{
			Field:  "version",
			Reason: fmt.Sprintf("must be greater than published version %d", latest),
		})
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return protocol.LedgerEvent{}, Internal("encode quota rule", err)
	}
	if _, err := s.validator.ValidateQuotaRule(raw); err != nil {
		return protocol.LedgerEvent{}, classify("validate quota rule", err)
	}
	ev, err := s.ledger.Append(ctx, protocol.EventQuotaRuleDefined, json.RawMessage(raw), rule.InstitutionID, signerOr(req.SignerID, rule.InstitutionID))
	if err != nil {
		return protocol.LedgerEvent{}, classify("publish quota rule", err)
	}
	return ev, nil
}

// SubmitApplication records an applicant's application to a program that has
// a published rule. Duplicate applications are rejected.
func (s *AdmissionsService) SubmitApplication(ctx context.Context, req protocol.SubmitApplicationRequest) (protocol.LedgerEvent, error) {
	if req.ApplicantID == "" || req.InstitutionID == "" || req.Program == "" {
		return protocol.LedgerEvent{}, BadRequest("applicant_id, institution_id, and program are required", nil)
	}
	key := protocol.RuleKey{InstitutionID: req.InstitutionID, Program: req.Program}
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return protocol.LedgerEvent{}, classify("read ledger", err)
	}
	if _, ok := snap.Rule(key); !ok {
		return protocol.LedgerEvent{}, NotFound("no admission rule for " + key.String())
	}
	profile, ok := state.Compute(snap, req.ApplicantID)
	if !ok {
		return protocol.LedgerEvent{}, NotFound("applicant not found")
	}
	if profile.HasApplied(key) {
		return protocol.LedgerEvent{}, NewAppError(http.StatusConflict, CodeConflict, "application already submitted for "+key.String(), false, nil)
	}
	ev, err := s.ledger.Append(ctx, protocol.EventApplicationSubmitted, protocol.ApplicationSubmitted{
		SubjectID:     req.ApplicantID,
		InstitutionID: req.InstitutionID,
		Program:       req.Program,
	}, req.ApplicantID, req.ApplicantID)
	if err != nil {
		return protocol.LedgerEvent{}, classify("submit application", err)
	}
	return ev, nil
}

// Onboard introduces an applicant and their credentials. The applicant's
// signing key is registered here when it does not exist yet; result events
// are signed by the issuer. Appends stop at the first failure and the
// response lists what was committed.
func (s *AdmissionsService) Onboard(ctx context.Context, req protocol.OnboardRequest) (protocol.OnboardResponse, error) {
	req.DID = strings.TrimSpace(req.DID)
	if req.DID == "" {
		return protocol.OnboardResponse{}, BadRequest("did is required", nil)
	}
	if (len(req.Exams) > 0 || req.UTME != nil) && strings.TrimSpace(req.IssuerID) == "" {
		return protocol.OnboardResponse{}, BadRequest("issuer_id is required with exam or utme results", nil)
	}
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return protocol.OnboardResponse{}, classify("read ledger", err)
	}
	if slices.Contains(snap.Applicants(), req.DID) {
		return protocol.OnboardResponse{}, NewAppError(http.StatusConflict, CodeConflict, "applicant already exists", false, nil)
	}
	// Credential steps are issuer-signed; the key must exist before anything
	// is committed.
	if len(req.Exams) > 0 || req.UTME != nil {
		if _, ok := s.keys.Lookup(req.IssuerID); !ok {
			return protocol.OnboardResponse{}, classify("onboard applicant", &ledger.SigningError{SignerID: req.IssuerID, Cause: crypto.ErrKeyUnavailable})
		}
	}
	if _, ok := s.keys.Lookup(req.DID); !ok {
		if _, err := s.keys.Generate(req.DID); err != nil && !errors.Is(err, crypto.ErrKeyExists) {
			return protocol.OnboardResponse{}, classify("register applicant key", err)
		}
		s.logger.Info("applicant key registered", slog.String("actor_id", req.DID))
	}

	type step struct {
		eventType string
		payload   any
		actor     string
	}
	steps := []step{{protocol.EventApplicantCreated, protocol.ApplicantCreated{DID: req.DID, Name: req.Name, Email: req.Email}, req.DID}}
	if req.UTME != nil {
		utme := *req.UTME
		utme.SubjectID = req.DID
		steps = append(steps, step{protocol.EventUTMEResultAdded, utme, req.IssuerID})
	}
	for _, exam := range req.Exams {
		exam.SubjectID = req.DID
		if exam.CredentialID == "" {
			exam.CredentialID = uuid.NewString()
		}
		if exam.Issuer == "" {
			exam.Issuer = req.IssuerID
		}
		steps = append(steps, step{protocol.EventExamResultAdded, exam, req.IssuerID})
	}
	for _, pref := range req.Preferences {
		pref.SubjectID = req.DID
		steps = append(steps, step{protocol.EventPreferenceUpdated, pref, req.DID})
	}

	for _, st := range steps {
		raw, err := json.Marshal(st.payload)
		if err != nil {
			return protocol.OnboardResponse{}, Internal("encode onboarding payload", err)
		}
		if err := s.validator.ValidatePayload(st.eventType, raw); err != nil {
			return protocol.OnboardResponse{}, classify("validate onboarding payload", err)
		}
	}

	resp := protocol.OnboardResponse{DID: req.DID, Events: make([]protocol.LedgerEvent, 0, len(steps))}
	for _, st := range steps {
		ev, err := s.ledger.Append(ctx, st.eventType, st.payload, st.actor, st.actor)
		if err != nil {
			return resp, classify("onboard applicant", err)
		}
		resp.Events = append(resp.Events, ev)
	}
	return resp, nil
}

// ProfileView is an applicant projection with its stream classification.
type ProfileView struct {
	Profile        state.Profile             `json:"profile"`
	Classification classifier.Classification `json:"classification"`
	// Version is the hash of the last event folded into the profile.
	Version string `json:"version"`
}

func (s *AdmissionsService) Profile(ctx context.Context, applicantID string) (ProfileView, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return ProfileView{}, classify("read ledger", err)
	}
	events := snap.ApplicantEvents(applicantID)
	if len(events) == 0 {
		return ProfileView{}, NotFound("applicant not found")
	}
	version := events[len(events)-1].Hash

	profile, hit := s.cachedProfile(ctx, applicantID, version)
	if !hit {
		profile, _ = state.Fold(applicantID, events)
		if s.cache != nil {
			if err := s.cache.Put(ctx, applicantID, version, profile); err != nil {
				s.logger.Warn("profile cache write failed", slog.String("applicant_id", applicantID), slog.String("error", err.Error()))
			}
		}
	}
	return ProfileView{
		Profile:        profile,
		Classification: classifier.ClassifyProfile(profile),
		Version:        version,
	}, nil
}

func (s *AdmissionsService) cachedProfile(ctx context.Context, applicantID, version string) (state.Profile, bool) {
	if s.cache == nil {
		return state.Profile{}, false
	}
	p, ok, err := s.cache.Get(ctx, applicantID, version)
	switch {
	case err != nil:
		s.metrics.IncCacheLookup("error")
		s.logger.Warn("profile cache read failed", slog.String("applicant_id", applicantID), slog.String("error", err.Error()))
		return state.Profile{}, false
	case ok:
		s.metrics.IncCacheLookup("hit")
		return p, true
	}
	s.metrics.IncCacheLookup("miss")
	return state.Profile{}, false
}

func (s *AdmissionsService) EligiblePrograms(ctx context.Context, applicantID string) ([]rules.Verdict, error) {
	out, err := s.matching.EligiblePrograms(ctx, applicantID)
	if err != nil {
		return nil, classify("find eligible programs", err)
	}
	return out, nil
}

func (s *AdmissionsService) EligibleApplicants(ctx context.Context, key protocol.RuleKey) ([]matching.Candidate, error) {
	if key.InstitutionID == "" || key.Program == "" {
		return nil, BadRequest("institution_id and program are required", nil)
	}
	out, err := s.matching.EligibleApplicants(ctx, key)
	if err != nil {
		return nil, classify("find eligible applicants", err)
	}
	return out, nil
}

// RoundResponse is a matching round plus any offers it recorded.
type RoundResponse struct {
	matching.Result
	Offers []protocol.LedgerEvent `json:"offers,omitempty"`
}

// RunMatchingRound runs a side-effect-free round and, only when asked,
// records its offers.
func (s *AdmissionsService) RunMatchingRound(ctx context.Context, req protocol.MatchingRoundRequest) (RoundResponse, error) {
	if req.InstitutionID == "" || req.Program == "" {
		return RoundResponse{}, BadRequest("institution_id and program are required", nil)
	}
	var mode merit.Mode
	if req.Mode != "" {
		m, err := merit.ParseMode(req.Mode)
		if err != nil {
			return RoundResponse{}, NewAppError(http.StatusBadRequest, CodeValidation, err.Error(), false, err)
		}
		mode = m
	}
	res, err := s.matching.RunRound(ctx, req.InstitutionID, req.Program, matching.Options{Mode: mode})
	if err != nil {
		return RoundResponse{}, classify("run matching round", err)
	}
	out := RoundResponse{Result: res}
	if !req.RecordOffers {
		return out, nil
	}
	offers, err := matching.RecordOffers(ctx, s.ledger, res, signerOr(req.SignerID, req.InstitutionID))
	out.Offers = offers
	if err != nil {
		return out, classify("record offers", err)
	}
	return out, nil
}

func (s *AdmissionsService) Stats(ctx context.Context) (protocol.StatsResponse, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return protocol.StatsResponse{}, classify("read ledger", err)
	}
	return snap.Stats(), nil
}

func (s *AdmissionsService) Health(ctx context.Context) (protocol.HealthResponse, error) {
	if err := s.ledger.Sync(ctx); err != nil {
		return protocol.HealthResponse{}, classify("sync ledger", err)
	}
	size, tip := s.ledger.Tip()
	return protocol.HealthResponse{
		Service:    s.service,
		Version:    s.version,
		NodeID:     s.nodeID,
		Status:     "ok",
		LedgerSize: size,
		TipHash:    tip,
	}, nil
}

// RegisterActorKey generates a signing key for a new actor.
func (s *AdmissionsService) RegisterActorKey(ctx context.Context, req protocol.RegisterKeyRequest) (protocol.RegisterKeyResponse, error) {
	actor := strings.TrimSpace(req.ActorID)
	if actor == "" {
		return protocol.RegisterKeyResponse{}, BadRequest("actor_id is required", nil)
	}
	signer, err := s.keys.Generate(actor)
	if err != nil {
		return protocol.RegisterKeyResponse{}, classify("register key", err)
	}
	s.logger.Info("actor key registered", slog.String("actor_id", actor), slog.String("key_id", signer.KeyID))
	return protocol.RegisterKeyResponse{
		ActorID:   actor,
		KeyID:     signer.KeyID,
		PublicKey: hex.EncodeToString(signer.Public),
	}, nil
}

func signerOr(signerID, fallback string) string {
	if s := strings.TrimSpace(signerID); s != "" {
		return s
	}
	return fallback
}
