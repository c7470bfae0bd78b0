package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xisvar/the-oan/internal/metrics"
	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/storage"
)

const (
	defaultMaxAppendAttempts = 5
	defaultAppendTimeout     = 5 * time.Second
)

// Signer signs an event hash on behalf of signerID.
type Signer interface {
	Sign(ctx context.Context, signerID string, message []byte) (signature, keyID string, err error)
}

// Ledger is the append-only, hash-chained event log. Appends are serialized
// in process and guarded by compare-and-append at the store, so independent
// processes sharing a store cannot fork the chain.
type Ledger struct {
	log              storage.EventLog
	signer           Signer
	keys             KeyResolver
	logger           *slog.Logger
	metrics          *metrics.Metrics
	now              func() time.Time
	maxAttempts      int
	appendTimeout    time.Duration
	verifySignatures bool

	writeMu sync.Mutex

	mu     sync.RWMutex
	events []protocol.LedgerEvent
	idx    *index
}

type Params struct {
	Log     storage.EventLog
	Signer  Signer
	Keys    KeyResolver
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	MaxAppendAttempts int
	AppendTimeout     time.Duration
	// VerifySignatures makes VerifyChain check every signature against Keys.
	VerifySignatures bool
}

// New opens a ledger over params.Log and loads its existing events.
func New(ctx context.Context, params Params) (*Ledger, error) {
	if params.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if params.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if params.VerifySignatures && params.Keys == nil {
		return nil, fmt.Errorf("key resolver is required to verify signatures")
	}
	if params.Logger == nil {
		params.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.MaxAppendAttempts <= 0 {
		params.MaxAppendAttempts = defaultMaxAppendAttempts
	}
	if params.AppendTimeout <= 0 {
		params.AppendTimeout = defaultAppendTimeout
	}
	l := &Ledger{
		log:              params.Log,
		signer:           params.Signer,
		keys:             params.Keys,
		logger:           params.Logger,
		metrics:          params.Metrics,
		now:              params.Now,
		maxAttempts:      params.MaxAppendAttempts,
		appendTimeout:    params.AppendTimeout,
		verifySignatures: params.VerifySignatures,
		idx:              newIndex(),
	}
	if err := l.Sync(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Append signs and commits one event. payload may be any JSON-encodable value
// or raw JSON bytes; it is stored in canonical form. On any error nothing has
// been committed.
func (l *Ledger) Append(ctx context.Context, eventType string, payload any, actorID, signerID string) (protocol.LedgerEvent, error) {
	switch {
	case strings.TrimSpace(eventType) == "":
		return protocol.LedgerEvent{}, &ValidationError{Field: "event_type", Reason: "is required"}
	case strings.TrimSpace(actorID) == "":
		return protocol.LedgerEvent{}, &ValidationError{Field: "actor_id", Reason: "is required"}
	case strings.TrimSpace(signerID) == "":
		return protocol.LedgerEvent{}, &ValidationError{Field: "signer_id", Reason: "is required"}
	}
	canonical, err := protocol.CanonicalJSON(payload)
	if err != nil {
		return protocol.LedgerEvent{}, &ValidationError{Field: "payload", Reason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, l.appendTimeout)
	defer cancel()

	start := time.Now()
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		ev, err := l.tryAppend(ctx, eventType, canonical, actorID, signerID)
		if err == nil {
			l.metrics.ObserveAppend(eventType, time.Since(start))
			l.logger.Debug("ledger event appended",
				slog.String("event_type", eventType),
				slog.Int64("sequence_index", ev.SequenceIndex),
				slog.String("hash", ev.Hash),
			)
			return ev, nil
		}
		if !errors.Is(err, storage.ErrTailConflict) {
			return protocol.LedgerEvent{}, err
		}
		lastErr = err
		l.metrics.IncAppendConflict()
		l.logger.Warn("ledger tail moved during append, retrying",
			slog.String("event_type", eventType),
			slog.Int("attempt", attempt),
		)
	}
	return protocol.LedgerEvent{}, fmt.Errorf("append %s after %d attempts: %w", eventType, l.maxAttempts, lastErr)
}

func (l *Ledger) tryAppend(ctx context.Context, eventType string, canonical []byte, actorID, signerID string) (protocol.LedgerEvent, error) {
	tail, hasTail, err := l.log.Tail(ctx)
	if err != nil {
		return protocol.LedgerEvent{}, fmt.Errorf("read ledger tail: %w", err)
	}
	ev := protocol.LedgerEvent{
		SequenceIndex: 0,
		EventType:     eventType,
		Payload:       canonical,
		PreviousHash:  protocol.GenesisHash,
		ActorID:       actorID,
		SignerID:      signerID,
		Timestamp:     protocol.NormalizeTimestamp(l.now()),
	}
	if hasTail {
		ev.SequenceIndex = tail.SequenceIndex + 1
		ev.PreviousHash = tail.Hash
	}
	ev.Hash = ev.ComputeHash()

	sig, keyID, err := l.signer.Sign(ctx, signerID, []byte(ev.Hash))
	if err != nil {
		return protocol.LedgerEvent{}, &SigningError{SignerID: signerID, Cause: err}
	}
	ev.Signature = sig
	ev.SignerKeyID = keyID
	if err := ctx.Err(); err != nil {
		return protocol.LedgerEvent{}, fmt.Errorf("append aborted before commit: %w", err)
	}

	if err := l.log.CompareAndAppend(ctx, ev.PreviousHash, ev); err != nil {
		if errors.Is(err, storage.ErrTailConflict) {
			return protocol.LedgerEvent{}, err
		}
		return protocol.LedgerEvent{}, fmt.Errorf("commit ledger event: %w", err)
	}
	// The event is durable; a failed index refresh is repaired by the next Sync.
	if err := l.Sync(context.WithoutCancel(ctx)); err != nil {
		l.logger.Warn("ledger index refresh failed after append", slog.String("error", err.Error()))
	}
	return ev, nil
}

// Sync loads events committed to the store since the last sync, including
// events appended by other processes, and folds them into the indices.
func (l *Ledger) Sync(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := l.log.ReadFrom(ctx, int64(len(l.events)))
	if err != nil {
		return fmt.Errorf("read ledger events: %w", err)
	}
	for _, ev := range next {
		want := int64(len(l.events))
		if ev.SequenceIndex != want {
			return &IntegrityError{Index: want, Reason: fmt.Sprintf("store returned sequence index %d", ev.SequenceIndex)}
		}
		l.idx.apply(len(l.events), ev, l.logger)
		l.events = append(l.events, ev)
	}
	return nil
}

// ReadAll returns every event in append order.
func (l *Ledger) ReadAll(ctx context.Context) ([]protocol.LedgerEvent, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Events(), nil
}

// ReadApplicant returns the events concerning applicantID in append order.
func (l *Ledger) ReadApplicant(ctx context.Context, applicantID string) ([]protocol.LedgerEvent, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ApplicantEvents(applicantID), nil
}

// Snapshot syncs and returns an immutable view of the current prefix.
func (l *Ledger) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := l.Sync(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return newSnapshot(l.events, l.idx), nil
}

// VerifyChain re-reads the whole log from the store and verifies it. The
// returned error is only for read failures; a broken chain is reported in
// the result.
func (l *Ledger) VerifyChain(ctx context.Context) (VerifyResult, error) {
	events, err := l.log.ReadFrom(ctx, 0)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("read ledger for verification: %w", err)
	}
	var keys KeyResolver
	if l.verifySignatures {
		keys = l.keys
	}
	res := VerifyEvents(events, keys)
	l.metrics.IncVerification(res.Valid)
	if !res.Valid {
		l.logger.Error("ledger chain verification failed",
			slog.Int64("index", *res.FirstBrokenIndex),
			slog.String("reason", res.Reason),
		)
	}
	return res, nil
}

// Tip returns the number of synced events and the hash of the last one.
func (l *Ledger) Tip() (int64, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return 0, protocol.GenesisHash
	}
	return int64(len(l.events)), l.events[len(l.events)-1].Hash
}
