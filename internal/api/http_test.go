package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xisvar/the-oan/internal/cache"
	"github.com/xisvar/the-oan/internal/crypto"
	"github.com/xisvar/the-oan/internal/ledger"
	"github.com/xisvar/the-oan/internal/matching"
	"github.com/xisvar/the-oan/internal/metrics"
	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/rules"
	"github.com/xisvar/the-oan/internal/service"
	"github.com/xisvar/the-oan/internal/storage/memory"
)

const token = "secret-token"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	keys := crypto.NewMemoryKeyStore()
	for _, actor := range []string{"unilag", "waec"} {
		_, err := keys.Generate(actor)
		require.NoError(t, err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	l, err := ledger.New(ctx, ledger.Params{Log: memory.New(), Signer: keys, Keys: keys, Metrics: m, VerifySignatures: true})
	require.NoError(t, err)
	v, err := rules.NewValidator()
	require.NoError(t, err)
	ms, err := matching.New(matching.Params{Source: l, Metrics: m, Scoring: matching.Scoring{NormMin: 0, NormMax: 400}})
	require.NoError(t, err)
	svc, err := service.NewAdmissions(service.AdmissionsParams{
		Ledger:     l,
		Validator:  v,
		Matching:   ms,
		Keys:       keys,
		Cache:      cache.NewMemory(),
		Metrics:    m,
		NodeID:     "node-a",
		WriteToken: token,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(svc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), 0).Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, withToken bool) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	if withToken {
		req.Header.Set(writeTokenHeader, token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var e protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &e))
	return e.Error.Code
}

func TestWriteRoutesRequireToken(t *testing.T) {
	srv := newServer(t)
	for _, path := range []string{"/v1/ledger/events", "/v1/rules", "/v1/quota-rules", "/v1/applications", "/v1/onboard", "/v1/keys", "/v1/matching/rounds"} {
		resp, raw := do(t, srv, http.MethodPost, path, "{}", false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, raw), path)
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	srv := newServer(t)
	resp, raw := do(t, srv, http.MethodPost, "/v1/keys", `{"actor_id":"ui","extra":1}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, raw))

	resp, _ = do(t, srv, http.MethodPost, "/v1/keys", `{"actor_id":"ui"}{"actor_id":"ui"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmissionsFlow(t *testing.T) {
	srv := newServer(t)

	resp, raw := do(t, srv, http.MethodPost, "/v1/rules", protocol.PublishRuleRequest{Rule: protocol.AdmissionRule{
		InstitutionID: "unilag",
		Program:       "medicine",
		Enforcement:   &protocol.Enforcement{FinalCutoff: 100, FinalQuota: 1},
		Derivation:    &protocol.Derivation{},
	}}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	for _, did := range []string{"did:oan:ada", "did:oan:bola"} {
		score := int64(90)
		if did == "did:oan:bola" {
			score = 70
		}
		resp, raw = do(t, srv, http.MethodPost, "/v1/onboard", protocol.OnboardRequest{
			DID:      did,
			IssuerID: "waec",
			Exams: []protocol.ExamResultAdded{
				{Subject: "Mathematics", Score: score, Grade: "B3"},
				{Subject: "English", Score: 60, Grade: "C4"},
			},
		}, true)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

		resp, raw = do(t, srv, http.MethodPost, "/v1/applications", protocol.SubmitApplicationRequest{
			ApplicantID: did, InstitutionID: "unilag", Program: "medicine",
		}, true)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	}

	resp, raw = do(t, srv, http.MethodGet, "/v1/applicants/did:oan:ada", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var view service.ProfileView
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Len(t, view.Profile.ExamResults, 2)
	assert.NotEmpty(t, view.Version)

	resp, raw = do(t, srv, http.MethodGet, "/v1/applicants/did:oan:ghost", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, raw))

	resp, raw = do(t, srv, http.MethodGet, "/v1/applicants/did:oan:ada/eligible-programs", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), `"program":"medicine"`)

	resp, raw = do(t, srv, http.MethodGet, "/v1/programs/eligible-applicants?institution_id=unilag&program=medicine", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), "did:oan:bola")

	resp, raw = do(t, srv, http.MethodPost, "/v1/matching/rounds", protocol.MatchingRoundRequest{
		InstitutionID: "unilag", Program: "medicine", RecordOffers: true,
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var round service.RoundResponse
	require.NoError(t, json.Unmarshal(raw, &round))
	require.Len(t, round.Admitted, 1)
	assert.Equal(t, "did:oan:ada", round.Admitted[0].ApplicantID)
	require.Len(t, round.Waitlisted, 1)
	assert.Len(t, round.Offers, 1)

	resp, raw = do(t, srv, http.MethodGet, "/v1/ledger/events?applicant=did:oan:ada", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events protocol.EventsResponse
	require.NoError(t, json.Unmarshal(raw, &events))
	assert.Equal(t, protocol.EventOfferMade, events.Events[len(events.Events)-1].EventType)

	resp, raw = do(t, srv, http.MethodGet, "/v1/ledger/verify", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verify protocol.VerifyResponse
	require.NoError(t, json.Unmarshal(raw, &verify))
	assert.True(t, verify.Valid)
	assert.Equal(t, events.Size, verify.CheckedCount)

	resp, raw = do(t, srv, http.MethodGet, "/v1/stats", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats protocol.StatsResponse
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 1, stats.TotalMatches)
	assert.Equal(t, 2, stats.TotalApplications)
}

func TestAppendEventValidationError(t *testing.T) {
	srv := newServer(t)
	resp, raw := do(t, srv, http.MethodPost, "/v1/ledger/events", protocol.AppendEventRequest{
		EventType: protocol.EventUTMEResultAdded,
		Payload:   json.RawMessage(`{"jamb_score":999}`),
		ActorID:   "waec",
	}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, raw))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t)
	resp, raw := do(t, srv, http.MethodGet, "/healthz", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health protocol.HealthResponse
	require.NoError(t, json.Unmarshal(raw, &health))
	assert.Equal(t, "node-a", health.NodeID)
	assert.Equal(t, protocol.GenesisHash, health.TipHash)

	do(t, srv, http.MethodPost, "/v1/keys", protocol.RegisterKeyRequest{ActorID: "ui"}, true)
	resp, raw = do(t, srv, http.MethodPost, "/v1/keys", protocol.RegisterKeyRequest{ActorID: "ui"}, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", errorCode(t, raw))

	resp, raw = do(t, srv, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "oan_ledger_append_conflicts_total")
}
