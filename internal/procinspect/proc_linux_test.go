//go:build linux

package procinspect

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestParseStat(t *testing.T) {
	cases := []struct {
		name    string
		stat    string
		wantCmd string
		wantPP  int
	}{
		{
			name:    "simple",
			stat:    "35059 (zsh) S 35001 35059 35059 34816 0 4194304",
			wantCmd: "zsh",
			wantPP:  35001,
		},
		{
			name:    "comm with spaces and parens",
			stat:    "900 (tmux: server (1)) S 1 900 900 0 -1 4194624",
			wantCmd: "tmux: server (1)",
			wantPP:  1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := parseStat(42, tc.stat)
			if err != nil {
				t.Fatalf("parseStat() error = %v", err)
			}
			if p.Command != tc.wantCmd {
				t.Errorf("Command = %q, want %q", p.Command, tc.wantCmd)
			}
			if p.PPID != tc.wantPP {
				t.Errorf("PPID = %d, want %d", p.PPID, tc.wantPP)
			}
		})
	}
}

func TestParseStat_Garbage(t *testing.T) {
	for _, stat := range []string{"", "12345", "1 (unclosed S 0"} {
		if _, err := parseStat(1, stat); err == nil {
			t.Errorf("parseStat(%q) expected error", stat)
		}
	}
}

func TestProcfsInspector_FakeTree(t *testing.T) {
	root := t.TempDir()
	writeStat := func(pid, ppid int, comm string) {
		dir := filepath.Join(root, strconv.Itoa(pid))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		line := strconv.Itoa(pid) + " (" + comm + ") S " + strconv.Itoa(ppid) + " 0 0 0"
		if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(line), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeStat(100, 50, "reviewbus")
	writeStat(50, 1, "bash")

	ins := procfsInspector{root: root}

	p, err := ins.Lookup(100)
	if err != nil {
		t.Fatalf("Lookup(100) error = %v", err)
	}
	if p.PPID != 50 || p.Command != "reviewbus" {
		t.Errorf("Lookup(100) = %+v", p)
	}

	_, err = ins.Lookup(999)
	if !errors.Is(err, ErrNoProcess) {
		t.Errorf("Lookup(999) error = %v, want ErrNoProcess", err)
	}

	chain := Ancestry(ins, 100, 16)
	if len(chain) != 2 || !chain[1].IsShell() {
		t.Errorf("Ancestry = %+v, want reviewbus then bash", chain)
	}
}
