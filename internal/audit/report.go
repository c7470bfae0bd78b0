// Package audit produces signed integrity reports over a ledger.
package audit

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/xisvar/the-oan/internal/crypto"
	"github.com/xisvar/the-oan/internal/ledger"
	"github.com/xisvar/the-oan/internal/protocol"
)

// Checkpoint commits to the whole chain: the Merkle root over every event
// hash in sequence order.
type Checkpoint struct {
	TreeSize   int    `json:"tree_size"`
	MerkleRoot string `json:"merkle_root"`
	TipHash    string `json:"tip_hash"`
}

type Summary struct {
	GeneratedAtUTC string         `json:"generated_at_utc"`
	NodeID         string         `json:"node_id,omitempty"`
	ChainValid     bool           `json:"chain_valid"`
	CheckedCount   int64          `json:"checked_count"`
	ErrorIndex     *int64         `json:"error_index,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Checkpoint     Checkpoint     `json:"checkpoint"`
	EventsByType   map[string]int `json:"events_by_type"`
	Applicants     int            `json:"applicants"`
	Offers         int            `json:"offers"`
	// ApplicantID and Proofs are set when the report is scoped to one applicant.
	ApplicantID string                  `json:"applicant_id,omitempty"`
	Proofs      []*protocol.MerkleProof `json:"proofs,omitempty"`
}

type Signature struct {
	Alg      string `json:"alg"`
	SignerID string `json:"signer_id"`
	Kid      string `json:"kid"`
	Sig      string `json:"sig"`
}

type SignedReport struct {
	Summary   Summary   `json:"summary"`
	Signature Signature `json:"audit_signature"`
}

type Params struct {
	Ledger   *ledger.Ledger
	Signer   ledger.Signer
	SignerID string
	NodeID   string
	// Applicant, when set, adds inclusion proofs for that applicant's events.
	Applicant string
	Now       func() time.Time
}

// Build verifies the chain, computes the checkpoint and signs the canonical
// summary. An invalid chain still produces a report.
func Build(ctx context.Context, p Params) (SignedReport, error) {
	if p.Ledger == nil || p.Signer == nil || p.SignerID == "" {
		return SignedReport{}, fmt.Errorf("ledger, signer and signer id are required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	res, err := p.Ledger.VerifyChain(ctx)
	if err != nil {
		return SignedReport{}, fmt.Errorf("verify chain: %w", err)
	}
	snap, err := p.Ledger.Snapshot(ctx)
	if err != nil {
		return SignedReport{}, fmt.Errorf("snapshot ledger: %w", err)
	}
	events := snap.Events()
	leaves := make([]string, len(events))
	for i, ev := range events {
		leaves[i] = ev.Hash
	}
	tree, err := protocol.BuildMerkleTree(leaves)
	if err != nil {
		return SignedReport{}, fmt.Errorf("compute checkpoint: %w", err)
	}
	stats := snap.Stats()
	summary := Summary{
		GeneratedAtUTC: p.Now().UTC().Format(time.RFC3339),
		NodeID:         p.NodeID,
		ChainValid:     res.Valid,
		CheckedCount:   res.CheckedCount,
		ErrorIndex:     res.FirstBrokenIndex,
		Reason:         res.Reason,
		Checkpoint:     Checkpoint{TreeSize: tree.Size(), MerkleRoot: tree.Root(), TipHash: snap.TipHash()},
		EventsByType:   stats.EventsByType,
		Applicants:     stats.TotalApplicants,
		Offers:         stats.TotalMatches,
	}
	if p.Applicant != "" {
		summary.ApplicantID = p.Applicant
		for _, ev := range snap.ApplicantEvents(p.Applicant) {
			proof, err := tree.Proof(int(ev.SequenceIndex))
			if err != nil {
				return SignedReport{}, fmt.Errorf("inclusion proof for event %d: %w", ev.SequenceIndex, err)
			}
			summary.Proofs = append(summary.Proofs, proof)
		}
	}

	payload, err := protocol.CanonicalJSON(summary)
	if err != nil {
		return SignedReport{}, fmt.Errorf("canonicalize audit summary: %w", err)
	}
	sig, kid, err := p.Signer.Sign(ctx, p.SignerID, payload)
	if err != nil {
		return SignedReport{}, fmt.Errorf("sign audit summary: %w", err)
	}
	return SignedReport{
		Summary:   summary,
		Signature: Signature{Alg: "ed25519", SignerID: p.SignerID, Kid: kid, Sig: sig},
	}, nil
}

// Verify checks the report signature against pub.
func Verify(report SignedReport, pub ed25519.PublicKey) (bool, error) {
	payload, err := protocol.CanonicalJSON(report.Summary)
	if err != nil {
		return false, fmt.Errorf("canonicalize audit summary: %w", err)
	}
	return crypto.Verify(pub, payload, report.Signature.Sig), nil
}
