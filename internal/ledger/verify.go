package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/xisvar/the-oan/internal/crypto"
	"github.com/xisvar/the-oan/internal/protocol"
)

// KeyResolver returns the public key registered for a signer.
type KeyResolver interface {
	PublicKey(signerID string) (ed25519.PublicKey, bool)
}

type VerifyResult struct {
	Valid        bool
	CheckedCount int64
	// FirstBrokenIndex is set only when Valid is false.
	FirstBrokenIndex *int64
	Reason           string
	TipHash          string
}

// Err returns the break as an *IntegrityError, or nil for a valid chain.
func (r VerifyResult) Err() error {
	if r.Valid || r.FirstBrokenIndex == nil {
		return nil
	}
	return &IntegrityError{Index: *r.FirstBrokenIndex, Reason: r.Reason}
}

// VerifyEvents walks events in order, recomputing every hash and link. It
// stops at the first break. Signatures are checked when keys is non-nil.
func VerifyEvents(events []protocol.LedgerEvent, keys KeyResolver) VerifyResult {
	prev := protocol.GenesisHash
	for i, ev := range events {
		if reason := checkEvent(int64(i), prev, ev, keys); reason != "" {
			idx := int64(i)
			return VerifyResult{
				CheckedCount:     idx,
				FirstBrokenIndex: &idx,
				Reason:           reason,
				TipHash:          prev,
			}
		}
		prev = ev.Hash
	}
	return VerifyResult{Valid: true, CheckedCount: int64(len(events)), TipHash: prev}
}

func checkEvent(index int64, prev string, ev protocol.LedgerEvent, keys KeyResolver) string {
	if ev.SequenceIndex != index {
		return fmt.Sprintf("sequence index %d out of order", ev.SequenceIndex)
	}
	if ev.PreviousHash != prev {
		return "previous hash does not link to prior event"
	}
	if ev.ComputeHash() != ev.Hash {
		return "hash mismatch"
	}
	if keys == nil {
		return ""
	}
	pub, ok := keys.PublicKey(ev.SignerID)
	if !ok {
		return fmt.Sprintf("no public key for signer %s", ev.SignerID)
	}
	if ev.SignerKeyID != "" && ev.SignerKeyID != crypto.KeyID(pub) {
		return "signer key id mismatch"
	}
	if !crypto.Verify(pub, []byte(ev.Hash), ev.Signature) {
		return "signature invalid"
	}
	return ""
}
