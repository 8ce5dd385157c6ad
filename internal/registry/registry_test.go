package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegisterAndSnapshot(t *testing.T) {
	r := New()
	r.Register("s1", "35059")

	got := r.ActiveTerminals()
	if len(got) != 1 || got[0] != "35059" {
		t.Fatalf("ActiveTerminals() = %v, want [35059]", got)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := New()
	r.Register("s1", "35059")
	r.Register("s1", "35059")

	if got := r.ActiveTerminals(); len(got) != 1 {
		t.Fatalf("ActiveTerminals() = %v, want one entry", got)
	}
	r.Unregister("s1")
	if got := r.ActiveTerminals(); len(got) != 0 {
		t.Fatalf("ActiveTerminals() after unregister = %v, want empty", got)
	}
}

func TestRegister_MoveToNewIdentity(t *testing.T) {
	r := New()
	r.Register("s1", "100")
	r.Register("s1", "200")

	got := r.ActiveTerminals()
	if len(got) != 1 || got[0] != "200" {
		t.Fatalf("ActiveTerminals() = %v, want [200]", got)
	}
	if terminalID, _ := r.TerminalOf("s1"); terminalID != "200" {
		t.Errorf("TerminalOf(s1) = %q, want 200", terminalID)
	}
}

func TestSharedTerminal_OneEntry(t *testing.T) {
	r := New()
	r.Register("s1", "35059")
	r.Register("s2", "35059")

	got := r.ActiveTerminals()
	if len(got) != 1 || got[0] != "35059" {
		t.Fatalf("ActiveTerminals() = %v, want exactly [35059]", got)
	}

	r.Unregister("s1")
	if got := r.ActiveTerminals(); len(got) != 1 {
		t.Fatalf("ActiveTerminals() after first close = %v, want [35059]", got)
	}

	r.Unregister("s2")
	if got := r.ActiveTerminals(); len(got) != 0 {
		t.Fatalf("ActiveTerminals() after both closed = %v, want empty", got)
	}
}

func TestUnregister_UnknownSession(t *testing.T) {
	r := New()
	r.Unregister("never-announced") // must not panic or mutate anything
	if got := r.ActiveTerminals(); len(got) != 0 {
		t.Fatalf("ActiveTerminals() = %v, want empty", got)
	}
}

func TestSnapshot_Sorted(t *testing.T) {
	r := New()
	r.Register("s1", "900")
	r.Register("s2", "100")
	r.Register("s3", "500")

	got := r.ActiveTerminals()
	want := []string{"100", "500", "900"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ActiveTerminals() = %v, want %v", got, want)
		}
	}
}

// Concurrent register/unregister churn on one terminal: observers must
// only ever see the terminal present or absent, and once the last
// session is gone the set is empty.
func TestConcurrentChurn(t *testing.T) {
	r := New()
	const workers = 8
	const iterations = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				id := fmt.Sprintf("s%d-%d", w, i)
				r.Register(id, "35059")
				r.Unregister(id)
			}
		}(w)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	for {
		select {
		case <-done:
			if got := r.ActiveTerminals(); len(got) != 0 {
				t.Fatalf("ActiveTerminals() after churn = %v, want empty", got)
			}
			if n := r.SessionCount(); n != 0 {
				t.Fatalf("SessionCount() = %d, want 0", n)
			}
			return
		default:
			for _, id := range r.ActiveTerminals() {
				if id != "35059" {
					t.Fatalf("observed unexpected terminal %q", id)
				}
			}
		}
	}
}
