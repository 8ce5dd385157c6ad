// Package procinspect answers process-ancestry questions for the
// identity resolver. It is a fallible collaborator: a missing process
// or an unreadable process table yields an error or a short chain,
// never a panic.
package procinspect

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNoProcess is returned when a pid has no entry in the process table.
var ErrNoProcess = errors.New("no such process")

// Process is one hop in a process ancestry chain.
type Process struct {
	PID     int
	PPID    int
	Command string
}

// IsShell reports whether the process's command names an interactive
// shell.
func (p Process) IsShell() bool {
	_, ok := shells[normalizeCommand(p.Command)]
	return ok
}

// Inspector looks up a single process table entry.
type Inspector interface {
	Lookup(pid int) (Process, error)
}

var shells = map[string]struct{}{
	"sh":   {},
	"bash": {},
	"zsh":  {},
	"fish": {},
	"dash": {},
	"ksh":  {},
	"csh":  {},
	"tcsh": {},
	"nu":   {},
	"pwsh": {},
}

// normalizeCommand reduces a command field to a bare program name.
// Login shells report themselves with a leading dash ("-zsh") and some
// tables report full paths.
func normalizeCommand(command string) string {
	command = strings.TrimSpace(command)
	command = filepath.Base(command)
	return strings.TrimPrefix(command, "-")
}

// Ancestry returns the parent chain starting at pid (pid itself first),
// stopping at pid 0/1, a lookup failure, a cycle, or maxHops entries.
// A short or empty chain is a valid answer, not an error.
func Ancestry(ins Inspector, pid, maxHops int) []Process {
	var chain []Process
	seen := make(map[int]struct{})

	for pid > 1 && len(chain) < maxHops {
		if _, dup := seen[pid]; dup {
			break
		}
		seen[pid] = struct{}{}

		p, err := ins.Lookup(pid)
		if err != nil {
			break
		}
		chain = append(chain, p)
		pid = p.PPID
	}
	return chain
}

func parsePIDField(field string) (int, error) {
	var pid int
	if _, err := fmt.Sscanf(field, "%d", &pid); err != nil {
		return 0, fmt.Errorf("parse pid %q: %w", field, err)
	}
	return pid, nil
}
