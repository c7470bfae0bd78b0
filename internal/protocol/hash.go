package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// GenesisHash is the previous_hash of the first event in every chain.
const GenesisHash = "GENESIS_HASH"

// TimestampLayout is the only timestamp form that participates in hashing.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrInexactNumber rejects a number whose canonical form would denote a
// different value, such as an integer beyond 2^53.
var ErrInexactNumber = errors.New("number does not survive canonical encoding")

// CanonicalJSON marshals v and rewrites it in RFC 8785 form: sorted keys,
// no insignificant whitespace, ES6 number formatting.
func CanonicalJSON(v any) ([]byte, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		return CanonicalizeRaw(raw)
	case []byte:
		return CanonicalizeRaw(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeRaw(b)
}

// CanonicalizeRaw canonicalizes an already encoded JSON document. Numbers
// are carried as IEEE doubles, so any number that would change value is
// rejected with ErrInexactNumber.
func CanonicalizeRaw(raw []byte) ([]byte, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("canonical json: empty document")
	}
	if err := checkNumbers(raw); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

func checkNumbers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if num, ok := tok.(json.Number); ok && !exactDouble(num.String()) {
			return fmt.Errorf("%w: %s", ErrInexactNumber, num)
		}
	}
}

// exactDouble reports whether the shortest double rendering of text denotes
// the same decimal value as text.
func exactDouble(text string) bool {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return false
	}
	if f == 0 {
		mantissa, _, _ := strings.Cut(strings.ToLower(strings.TrimLeft(text, "-")), "e")
		return strings.Trim(mantissa, "0.") == ""
	}
	want, ok := new(big.Rat).SetString(text)
	if !ok {
		return false
	}
	got, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	return ok && want.Cmp(got) == 0
}

func SHA256Hex(in []byte) string {
	h := sha256.Sum256(in)
	return hex.EncodeToString(h[:])
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NormalizeTimestamp truncates t to the precision that survives hashing.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// EventHash is SHA-256 over prev|type|payload|timestamp|actor, hex encoded.
func EventHash(previousHash, eventType string, canonicalPayload []byte, ts time.Time, actor string) string {
	var b strings.Builder
	b.Grow(len(previousHash) + len(eventType) + len(canonicalPayload) + len(actor) + 32)
	b.WriteString(previousHash)
	b.WriteByte('|')
	b.WriteString(eventType)
	b.WriteByte('|')
	b.Write(canonicalPayload)
	b.WriteByte('|')
	b.WriteString(FormatTimestamp(ts))
	b.WriteByte('|')
	b.WriteString(actor)
	return SHA256Hex([]byte(b.String()))
}

func RandomID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
