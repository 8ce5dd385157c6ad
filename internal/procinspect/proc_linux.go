//go:build linux

package procinspect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// New returns the platform inspector. On Linux it reads /proc directly.
func New() Inspector {
	return procfsInspector{root: "/proc"}
}

// procfsInspector reads /proc/<pid>/stat. The root is configurable so
// tests can point it at a fake tree.
type procfsInspector struct {
	root string
}

func (pi procfsInspector) Lookup(pid int) (Process, error) {
	data, err := os.ReadFile(filepath.Join(pi.root, strconv.Itoa(pid), "stat"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Process{}, fmt.Errorf("pid %d: %w", pid, ErrNoProcess)
		}
		return Process{}, fmt.Errorf("read stat for pid %d: %w", pid, err)
	}
	return parseStat(pid, string(data))
}

// parseStat extracts comm and ppid from a /proc/<pid>/stat line. The
// comm field is parenthesized and may itself contain spaces or
// parentheses, so scan from the last ')'.
func parseStat(pid int, stat string) (Process, error) {
	open := strings.IndexByte(stat, '(')
	close := strings.LastIndexByte(stat, ')')
	if open < 0 || close < open {
		return Process{}, fmt.Errorf("pid %d: unparseable stat line", pid)
	}
	comm := stat[open+1 : close]

	fields := strings.Fields(stat[close+1:])
	// fields[0] is the state character, fields[1] the ppid.
	if len(fields) < 2 {
		return Process{}, fmt.Errorf("pid %d: truncated stat line", pid)
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Process{}, fmt.Errorf("pid %d: bad ppid field: %w", pid, err)
	}

	return Process{PID: pid, PPID: ppid, Command: comm}, nil
}
