package daemon

import (
	"sync"
)

// SessionState tracks where a connection is in its handshake lifecycle.
type SessionState int32

const (
	// StateConnected is the initial state: socket accepted, no announce yet.
	StateConnected SessionState = iota
	// StateAnnounced means an announce frame arrived and identity
	// resolution is underway.
	StateAnnounced
	// StateActive means the acknowledgment was sent and application
	// messages are allowed.
	StateActive
	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAnnounced:
		return "announced"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the daemon-side record of one connected client.
type Session struct {
	// ID is assigned at accept time and never changes.
	ID string

	mu         sync.Mutex
	role       string
	clientPID  int
	terminalID string // empty for anonymous sessions
	state      SessionState
}

func newSession(id string) *Session {
	return &Session{ID: id, state: StateConnected}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState transitions the session. Closed is terminal; transitions out
// of it are refused.
func (s *Session) setState(next SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = next
	return true
}

// Role returns the announced role, or empty before the handshake.
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// TerminalID returns the resolved terminal identity, or empty for
// anonymous sessions.
func (s *Session) TerminalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalID
}

// ClientPID returns the peer process id recorded at announce time.
func (s *Session) ClientPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientPID
}

func (s *Session) setIdentity(role string, pid int, terminalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
	s.clientPID = pid
	s.terminalID = terminalID
}
