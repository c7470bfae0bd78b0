package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"b": 1, "a": "x", "c": []int{3, 1}})
	if err != nil {
		t.Fatalf("CanonicalJSON error: %v", err)
	}
	if string(got) != `{"a":"x","b":1,"c":[3,1]}` {
		t.Fatalf("unexpected canonical form %s", got)
	}
}

func TestCanonicalJSONRawMatchesStruct(t *testing.T) {
	raw := json.RawMessage("{ \"score\": 70,\n \"subject\": \"Mathematics\" }")
	fromRaw, err := CanonicalJSON(raw)
	if err != nil {
		t.Fatalf("CanonicalJSON raw error: %v", err)
	}
	fromStruct, err := CanonicalJSON(struct {
		Subject string `json:"subject"`
		Score   int    `json:"score"`
	}{Subject: "Mathematics", Score: 70})
	if err != nil {
		t.Fatalf("CanonicalJSON struct error: %v", err)
	}
	if string(fromRaw) != string(fromStruct) {
		t.Fatalf("canonical forms differ: %s vs %s", fromRaw, fromStruct)
	}
}

func TestCanonicalJSONRejectsInvalid(t *testing.T) {
	if _, err := CanonicalizeRaw([]byte("{not json")); err == nil {
		t.Fatalf("expected error for invalid json")
	}
	if _, err := CanonicalizeRaw(nil); err == nil {
		t.Fatalf("expected error for empty document")
	}
}

func TestCanonicalizeRejectsNumbersThatChangeValue(t *testing.T) {
	for _, doc := range []string{
		`{"score":9007199254740993}`,
		`{"score":-9007199254740993}`,
		`[0.10000000000000001]`,
		`{"n":1e-400}`,
	} {
		_, err := CanonicalizeRaw([]byte(doc))
		if !errors.Is(err, ErrInexactNumber) {
			t.Fatalf("%s: expected ErrInexactNumber, got %v", doc, err)
		}
	}
}

func TestCanonicalizeKeepsRepresentableNumbers(t *testing.T) {
	cases := map[string]string{
		`{"score":9007199254740992}`: `{"score":9007199254740992}`,
		`[0.1,1.0,1e2]`:              `[0.1,1,100]`,
		`{"b":{"x":2.5},"a":[]}`:     `{"a":[],"b":{"x":2.5}}`,
	}
	for in, want := range cases {
		got, err := CanonicalizeRaw([]byte(in))
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if string(got) != want {
			t.Fatalf("%s: canonical %s, want %s", in, got, want)
		}
	}
}

func TestFormatTimestampMilliseconds(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 4, 5, 123456789, time.FixedZone("WAT", 3600))
	if got := FormatTimestamp(ts); got != "2025-03-01T08:04:05.123Z" {
		t.Fatalf("unexpected timestamp %q", got)
	}
}

func TestEventHashDeterministic(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := []byte(`{"did":"did:oan:1"}`)
	h1 := EventHash(GenesisHash, EventApplicantCreated, payload, ts, "did:oan:1")
	h2 := EventHash(GenesisHash, EventApplicantCreated, payload, ts, "did:oan:1")
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %q and %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected hex sha256, got %q", h1)
	}
	want := SHA256Hex([]byte("GENESIS_HASH|APPLICANT_CREATED|" + string(payload) + "|2025-01-01T00:00:00.000Z|did:oan:1"))
	if h1 != want {
		t.Fatalf("hash preimage mismatch: %q != %q", h1, want)
	}
}

func TestEventHashSensitiveToEachField(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := EventHash("p", "T", []byte(`{}`), ts, "a")
	variants := []string{
		EventHash("q", "T", []byte(`{}`), ts, "a"),
		EventHash("p", "U", []byte(`{}`), ts, "a"),
		EventHash("p", "T", []byte(`{"x":1}`), ts, "a"),
		EventHash("p", "T", []byte(`{}`), ts.Add(time.Millisecond), "a"),
		EventHash("p", "T", []byte(`{}`), ts, "b"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collides with base hash", i)
		}
	}
}

func TestRelevantTo(t *testing.T) {
	ev := LedgerEvent{ActorID: "waec", Payload: json.RawMessage(`{"subject_id":"did:oan:7","score":60}`)}
	if !RelevantTo(ev, "did:oan:7") {
		t.Fatalf("expected subject reference to match")
	}
	if RelevantTo(ev, "did:oan:8") {
		t.Fatalf("unexpected match for unrelated applicant")
	}
	if !RelevantTo(ev, "waec") {
		t.Fatalf("expected actor to match")
	}
	offer := LedgerEvent{ActorID: "unilag", Payload: json.RawMessage(`{"applicant_id":"did:oan:9"}`)}
	if !RelevantTo(offer, "did:oan:9") {
		t.Fatalf("expected applicant_id reference to match")
	}
	if RelevantTo(offer, "") {
		t.Fatalf("empty id must never match")
	}
}
