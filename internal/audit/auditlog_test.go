package audit

import "testing"

func TestChainVerifies(t *testing.T) {
	l := New()
	l.Append("init")
	l.Append("unlock")
	l.Append("lock")
	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := len(l.Entries()); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
}

func TestChainDetectsRewrite(t *testing.T) {
	l := New()
	l.Append("init")
	l.Append("unlock")
	l.entries[0].Op = "reset"
	if err := l.Verify(); err == nil {
		t.Fatal("expected broken chain")
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := New()
	l.Append("init")
	out := l.Entries()
	out[0].Op = "tampered"
	if l.Entries()[0].Op != "init" {
		t.Fatal("Entries leaked internal slice")
	}
}
