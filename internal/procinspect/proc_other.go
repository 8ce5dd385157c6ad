//go:build !linux

package procinspect

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// New returns the platform inspector. Without /proc it shells out to
// ps(1), which is portable across the BSDs and macOS.
func New() Inspector {
	return psInspector{}
}

type psInspector struct{}

func (psInspector) Lookup(pid int) (Process, error) {
	out, err := exec.Command("ps", "-o", "ppid=,comm=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return Process{}, fmt.Errorf("pid %d: %w", pid, ErrNoProcess)
	}
	return parsePSLine(pid, string(out))
}

func parsePSLine(pid int, line string) (Process, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Process{}, fmt.Errorf("pid %d: %w", pid, ErrNoProcess)
	}
	ppid, err := parsePIDField(fields[0])
	if err != nil {
		return Process{}, fmt.Errorf("pid %d: %w", pid, err)
	}
	// The command may contain spaces; everything after the ppid is it.
	command := strings.Join(fields[1:], " ")
	return Process{PID: pid, PPID: ppid, Command: command}, nil
}
