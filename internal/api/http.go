package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/xisvar/the-oan/internal/logging"
	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/service"
)

const writeTokenHeader = "X-OAN-Write-Token"

type Handler struct {
	service      *service.AdmissionsService
	metrics      http.Handler
	maxBodyBytes int64
}

// NewHandler serves svc. metrics, when non-nil, is mounted at /metrics.
func NewHandler(svc *service.AdmissionsService, metrics http.Handler, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 2 << 20
	}
	return &Handler{service: svc, metrics: metrics, maxBodyBytes: maxBodyBytes}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	mux.HandleFunc("GET /v1/ledger/events", h.handleEvents)
	mux.HandleFunc("GET /v1/ledger/verify", h.handleVerify)
	mux.HandleFunc("GET /v1/applicants/{did}", h.handleProfile)
	mux.HandleFunc("GET /v1/applicants/{did}/eligible-programs", h.handleEligiblePrograms)
	mux.HandleFunc("GET /v1/programs/eligible-applicants", h.handleEligibleApplicants)
	mux.HandleFunc("GET /v1/stats", h.handleStats)

	mux.HandleFunc("POST /v1/ledger/events", h.requireWriteToken(h.handleAppend))
	mux.HandleFunc("POST /v1/rules", h.requireWriteToken(h.handlePublishRule))
	mux.HandleFunc("POST /v1/quota-rules", h.requireWriteToken(h.handlePublishQuotaRule))
	mux.HandleFunc("POST /v1/applications", h.requireWriteToken(h.handleSubmitApplication))
	mux.HandleFunc("POST /v1/onboard", h.requireWriteToken(h.handleOnboard))
	mux.HandleFunc("POST /v1/keys", h.requireWriteToken(h.handleRegisterKey))
	mux.HandleFunc("POST /v1/matching/rounds", h.requireWriteToken(h.handleMatchingRound))
	return mux
}

func (h *Handler) requireWriteToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.service.VerifyWriteToken(r.Header.Get(writeTokenHeader)) {
			h.writeError(w, r, service.NewAppError(http.StatusUnauthorized, service.CodeUnauthorized, "invalid write token", false, nil))
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	logging.AddField(r.Context(), "ledger_size", resp.LedgerSize)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	applicant := r.URL.Query().Get("applicant")
	resp, err := h.service.Events(r.Context(), applicant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "list_events")
	logging.AddField(r.Context(), "event_count", len(resp.Events))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.VerifyChain(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "verify_chain")
	logging.AddField(r.Context(), "valid", resp.Valid)
	logging.AddField(r.Context(), "checked_count", resp.CheckedCount)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req protocol.AppendEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.service.AppendEvent(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "append_event")
	logging.AddField(r.Context(), "event_type", ev.EventType)
	logging.AddField(r.Context(), "sequence_index", ev.SequenceIndex)
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handlePublishRule(w http.ResponseWriter, r *http.Request) {
	var req protocol.PublishRuleRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.service.PublishRule(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "publish_rule")
	logging.AddField(r.Context(), "program", req.Rule.Key().String())
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handlePublishQuotaRule(w http.ResponseWriter, r *http.Request) {
	var req protocol.PublishQuotaRuleRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.service.PublishQuotaRule(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "publish_quota_rule")
	logging.AddField(r.Context(), "program", req.Rule.Key().String())
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req protocol.SubmitApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.service.SubmitApplication(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "submit_application")
	logging.AddField(r.Context(), "applicant_id", req.ApplicantID)
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req protocol.OnboardRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Onboard(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "onboard")
	logging.AddField(r.Context(), "applicant_id", resp.DID)
	logging.AddField(r.Context(), "event_count", len(resp.Events))
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.RegisterActorKey(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "register_key")
	logging.AddField(r.Context(), "actor_id", resp.ActorID)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")
	resp, err := h.service.Profile(r.Context(), did)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_profile")
	logging.AddField(r.Context(), "applicant_id", did)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEligiblePrograms(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")
	resp, err := h.service.EligiblePrograms(r.Context(), did)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "eligible_programs")
	logging.AddField(r.Context(), "applicant_id", did)
	writeJSON(w, http.StatusOK, map[string]any{"applicant_id": did, "programs": resp})
}

func (h *Handler) handleEligibleApplicants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := protocol.RuleKey{
		InstitutionID: strings.TrimSpace(q.Get("institution_id")),
		Program:       strings.TrimSpace(q.Get("program")),
	}
	resp, err := h.service.EligibleApplicants(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "eligible_applicants")
	logging.AddField(r.Context(), "program", key.String())
	writeJSON(w, http.StatusOK, map[string]any{
		"institution_id": key.InstitutionID,
		"program":        key.Program,
		"applicants":     resp,
	})
}

func (h *Handler) handleMatchingRound(w http.ResponseWriter, r *http.Request) {
	var req protocol.MatchingRoundRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.RunMatchingRound(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "matching_round")
	logging.AddField(r.Context(), "round_id", resp.RoundID)
	logging.AddField(r.Context(), "admitted", len(resp.Admitted))
	logging.AddField(r.Context(), "offers", len(resp.Offers))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "stats")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, h.maxBodyBytes, out); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Error())
		msg := appErr.Message
		if appErr.HTTPStatus >= http.StatusInternalServerError && appErr.Code == service.CodeInternal {
			msg = "internal server error"
		}
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   msg,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", service.CodeInternal)
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      service.CodeInternal,
		Message:   "internal server error",
		Retryable: true,
	}})
}

func decodeJSON(r *http.Request, maxBodyBytes int64, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
