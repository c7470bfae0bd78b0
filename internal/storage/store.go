package storage

import (
	"context"
	"errors"

	"github.com/xisvar/the-oan/internal/protocol"
)

// ErrTailConflict means the log tail moved between reading it and appending.
var ErrTailConflict = errors.New("ledger tail moved")

// EventLog is the append-only backing store for the ledger. Implementations
// must make CompareAndAppend atomic: the event is written only when the
// current tail hash equals expectedPrevious (protocol.GenesisHash for an
// empty log) and ev.SequenceIndex is the next index.
type EventLog interface {
	Tail(ctx context.Context) (protocol.LedgerEvent, bool, error)
	CompareAndAppend(ctx context.Context, expectedPrevious string, ev protocol.LedgerEvent) error
	ReadFrom(ctx context.Context, fromIndex int64) ([]protocol.LedgerEvent, error)
	Close() error
}

// CheckNext validates ev against the observed tail.
func CheckNext(tail protocol.LedgerEvent, hasTail bool, expectedPrevious string, ev protocol.LedgerEvent) error {
	wantPrev := protocol.GenesisHash
	wantIndex := int64(0)
	if hasTail {
		wantPrev = tail.Hash
		wantIndex = tail.SequenceIndex + 1
	}
	if expectedPrevious != wantPrev || ev.PreviousHash != wantPrev || ev.SequenceIndex != wantIndex {
		return ErrTailConflict
	}
	return nil
}
