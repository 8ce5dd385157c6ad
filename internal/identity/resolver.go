// Package identity resolves the owning terminal of a connecting process
// by walking its ancestry until an interactive shell is found.
package identity

import (
	"log/slog"
	"strconv"

	"reviewbus/internal/procinspect"
)

// DefaultMaxHops bounds the ancestry walk. Deep enough for any sane
// wrapper stack (shell → multiplexer → launcher → assistant → client),
// and a guard against cycles in a malformed process table.
const DefaultMaxHops = 15

// Resolver discovers terminal identities from process ancestry.
type Resolver struct {
	inspector procinspect.Inspector
	maxHops   int
	logger    *slog.Logger
}

// NewResolver builds a resolver over the given inspector. A zero or
// negative maxHops uses DefaultMaxHops.
func NewResolver(ins procinspect.Inspector, maxHops int, logger *slog.Logger) *Resolver {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{inspector: ins, maxHops: maxHops, logger: logger}
}

// Resolve walks the parent chain from pid and returns the first
// recognized shell's PID as the terminal identity. Exhausting the walk
// is not an error: the session proceeds anonymously, so the second
// return is false and the caller carries on. Identity is a routing and
// attribution convenience, not a capability gate.
func (r *Resolver) Resolve(pid int) (terminalID string, ok bool) {
	if pid <= 0 {
		return "", false
	}

	chain := procinspect.Ancestry(r.inspector, pid, r.maxHops)
	for _, p := range chain {
		if p.IsShell() {
			return strconv.Itoa(p.PID), true
		}
	}

	r.logger.Debug("terminal identity unresolved",
		slog.Int("pid", pid),
		slog.Int("hops", len(chain)))
	return "", false
}
