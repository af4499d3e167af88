package state

import "testing"

func TestSnapshotCloneIsIndependent(t *testing.T) {
	orig := &Snapshot{AcceptEncodings: []string{"gzip", "br"}, MaxRedirects: 10}
	clone := orig.Clone()

	clone.AcceptEncodings[0] = "identity"
	clone.MaxRedirects = 5

	if orig.AcceptEncodings[0] != "gzip" {
		t.Fatal("expected cloning to copy the AcceptEncodings slice, not alias it")
	}
	if orig.MaxRedirects != 10 {
		t.Fatal("expected cloning not to affect the original snapshot's scalar fields")
	}
}

func TestCellStoreIsAtomicSwap(t *testing.T) {
	cell := NewCell(&Snapshot{MaxRedirects: 10})
	first := cell.Load()

	cell.Store(&Snapshot{MaxRedirects: 20})

	if first.MaxRedirects != 10 {
		t.Fatal("expected a previously loaded snapshot to be unaffected by a later Store")
	}
	if cell.Load().MaxRedirects != 20 {
		t.Fatal("expected Load to observe the newly stored snapshot")
	}
}
