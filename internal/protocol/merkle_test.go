package protocol

import "testing"

func TestMerkleProofRoundTrip(t *testing.T) {
	leaves := []string{
		LeafHash([]byte("leaf-1")),
		LeafHash([]byte("leaf-2")),
		LeafHash([]byte("leaf-3")),
		LeafHash([]byte("leaf-4")),
		LeafHash([]byte("leaf-5")),
	}
	root, err := ComputeMerkleRoot(leaves)
	if err != nil {
		t.Fatalf("ComputeMerkleRoot error: %v", err)
	}

	for i := range leaves {
		proof, err := ComputeInclusionProof(leaves, i)
		if err != nil {
			t.Fatalf("ComputeInclusionProof(%d) error: %v", i, err)
		}
		if proof.RootHash != root {
			t.Fatalf("proof root %q does not match root %q", proof.RootHash, root)
		}
		ok, err := VerifyInclusionProof(proof)
		if err != nil {
			t.Fatalf("VerifyInclusionProof error: %v", err)
		}
		if !ok {
			t.Fatalf("expected proof for leaf %d to verify", i)
		}
	}
}

func TestMerkleProofRejectsWrongLeaf(t *testing.T) {
	leaves := []string{LeafHash([]byte("a")), LeafHash([]byte("b")), LeafHash([]byte("c"))}
	proof, err := ComputeInclusionProof(leaves, 1)
	if err != nil {
		t.Fatalf("ComputeInclusionProof error: %v", err)
	}
	proof.LeafHash = LeafHash([]byte("z"))
	ok, err := VerifyInclusionProof(proof)
	if err != nil {
		t.Fatalf("VerifyInclusionProof error: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered leaf to fail")
	}
}

func TestEmptyMerkleRootIsStable(t *testing.T) {
	r1, err := ComputeMerkleRoot(nil)
	if err != nil {
		t.Fatalf("ComputeMerkleRoot error: %v", err)
	}
	r2, err := ComputeMerkleRoot([]string{})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot error: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("empty roots differ: %q %q", r1, r2)
	}
}

func TestMerkleRootRejectsNonHexLeaf(t *testing.T) {
	if _, err := ComputeMerkleRoot([]string{"not-hex"}); err == nil {
		t.Fatalf("expected error for non-hex leaf")
	}
}

func TestMerkleTreeMatchesSingleShotProofs(t *testing.T) {
	leaves := make([]string, 7)
	for i := range leaves {
		leaves[i] = LeafHash([]byte{byte('a' + i)})
	}
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		t.Fatalf("BuildMerkleTree error: %v", err)
	}
	root, _ := ComputeMerkleRoot(leaves)
	if tree.Root() != root || tree.Size() != len(leaves) {
		t.Fatalf("tree root %q size %d, want %q size %d", tree.Root(), tree.Size(), root, len(leaves))
	}
	for i := range leaves {
		got, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("Proof(%d) error: %v", i, err)
		}
		want, _ := ComputeInclusionProof(leaves, i)
		if len(got.Path) != len(want.Path) || got.RootHash != want.RootHash {
			t.Fatalf("proof %d differs from single-shot proof", i)
		}
	}
	if _, err := tree.Proof(len(leaves)); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	leaf := LeafHash([]byte("only"))
	root, err := ComputeMerkleRoot([]string{leaf})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot error: %v", err)
	}
	if root != leaf {
		t.Fatalf("root %q, want leaf %q", root, leaf)
	}
}
