package storage

import (
	"testing"

	"github.com/xisvar/the-oan/internal/protocol"
)

func TestCheckNext(t *testing.T) {
	empty := protocol.LedgerEvent{}
	first := protocol.LedgerEvent{SequenceIndex: 0, PreviousHash: protocol.GenesisHash, Hash: "h0"}
	if err := CheckNext(empty, false, protocol.GenesisHash, first); err != nil {
		t.Fatalf("first event should be accepted: %v", err)
	}
	second := protocol.LedgerEvent{SequenceIndex: 1, PreviousHash: "h0", Hash: "h1"}
	if err := CheckNext(first, true, "h0", second); err != nil {
		t.Fatalf("second event should be accepted: %v", err)
	}
	if err := CheckNext(first, true, protocol.GenesisHash, second); err != ErrTailConflict {
		t.Fatalf("expected tail conflict for stale expectation, got %v", err)
	}
	skipped := protocol.LedgerEvent{SequenceIndex: 2, PreviousHash: "h0"}
	if err := CheckNext(first, true, "h0", skipped); err != ErrTailConflict {
		t.Fatalf("expected tail conflict for skipped index, got %v", err)
	}
}
