// Package registry tracks which terminal identities currently have live
// sessions. A terminal is in the active set iff at least one session is
// bound to it; both maps mutate under one mutex so no observer can see
// a terminal with an empty session set.
package registry

import (
	"sort"
	"sync"
)

// Registry maps terminal identities to their live sessions.
type Registry struct {
	mu        sync.Mutex
	terminals map[string]map[string]struct{} // terminalID → sessionIDs
	sessions  map[string]string              // sessionID → terminalID
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		terminals: make(map[string]map[string]struct{}),
		sessions:  make(map[string]string),
	}
}

// Register binds a session to a terminal identity, creating the
// terminal entry if absent. Registering the same pair twice is a no-op;
// registering a session under a new identity moves it, dropping the old
// terminal if the session was its last.
func (r *Registry) Register(sessionID, terminalID string) {
	if sessionID == "" || terminalID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[sessionID]; ok {
		if prev == terminalID {
			return
		}
		r.removeLocked(sessionID, prev)
	}

	set, ok := r.terminals[terminalID]
	if !ok {
		set = make(map[string]struct{})
		r.terminals[terminalID] = set
	}
	set[sessionID] = struct{}{}
	r.sessions[sessionID] = terminalID
}

// Unregister removes the session from its terminal's set, dropping the
// terminal entry when the set empties. It always succeeds; unknown
// sessions (a connection that never announced) are ignored.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	terminalID, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	r.removeLocked(sessionID, terminalID)
}

func (r *Registry) removeLocked(sessionID, terminalID string) {
	delete(r.sessions, sessionID)
	if set, ok := r.terminals[terminalID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.terminals, terminalID)
		}
	}
}

// ActiveTerminals returns a sorted snapshot of terminal identities with
// at least one live session.
func (r *Registry) ActiveTerminals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.terminals))
	for id := range r.terminals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TerminalOf returns the identity a session is currently bound to.
func (r *Registry) TerminalOf(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	terminalID, ok := r.sessions[sessionID]
	return terminalID, ok
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
