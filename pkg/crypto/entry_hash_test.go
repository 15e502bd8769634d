package crypto

import (
	"encoding/hex"
	"testing"
)

func TestComputeEntryHash_Deterministic(t *testing.T) {
	linkHash := hex.EncodeToString(make([]byte, 32))
	prevHash := hex.EncodeToString(make([]byte, 32))

	h1, err := ComputeEntryHash("C.Jobs", 1, linkHash, prevHash, 1700000000000)
	if err != nil {
		t.Fatalf("ComputeEntryHash failed: %v", err)
	}
	h2, err := ComputeEntryHash("C.Jobs", 1, linkHash, prevHash, 1700000000000)
	if err != nil {
		t.Fatalf("ComputeEntryHash failed: %v", err)
	}
	if h1 != h2 {
		t.Error("entry hash is not deterministic for identical inputs")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-hex hash, got %d chars", len(h1))
	}

	h3, err := ComputeEntryHash("C.Jobs", 2, linkHash, prevHash, 1700000000000)
	if err != nil {
		t.Fatalf("ComputeEntryHash failed: %v", err)
	}
	if h1 == h3 {
		t.Error("entry hash must depend on sequence")
	}
}

func TestComputeEntryHash_RejectsBadHashLength(t *testing.T) {
	if _, err := ComputeEntryHash("C.Jobs", 1, "not-hex", hex.EncodeToString(make([]byte, 32)), 0); err == nil {
		t.Error("expected error for invalid link_hash")
	}
}
