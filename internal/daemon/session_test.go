package daemon

import "testing"

func TestSessionStateString(t *testing.T) {
	cases := map[SessionState]string{
		StateConnected:   "connected",
		StateAnnounced:   "announced",
		StateActive:      "active",
		StateClosed:      "closed",
		SessionState(42): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestSessionClosedIsTerminal(t *testing.T) {
	s := newSession("s1")
	if !s.setState(StateActive) {
		t.Fatal("setState(Active) = false, want true")
	}
	if !s.setState(StateClosed) {
		t.Fatal("setState(Closed) = false, want true")
	}
	if s.setState(StateActive) {
		t.Error("setState(Active) after close = true, want refused")
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func TestSessionIdentity(t *testing.T) {
	s := newSession("s1")
	s.setIdentity("agent", 40100, "35059")

	if got := s.Role(); got != "agent" {
		t.Errorf("Role() = %q, want agent", got)
	}
	if got := s.ClientPID(); got != 40100 {
		t.Errorf("ClientPID() = %d, want 40100", got)
	}
	if got := s.TerminalID(); got != "35059" {
		t.Errorf("TerminalID() = %q, want 35059", got)
	}
}
