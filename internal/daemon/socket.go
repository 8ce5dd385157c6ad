package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrSocketInUse means the socket path exists and something is
	// listening on it.
	ErrSocketInUse = errors.New("socket already in use")

	// ErrDaemonRunning means another daemon answered on the socket.
	ErrDaemonRunning = errors.New("daemon already running")
)

// SocketEnv overrides the socket path for both daemon and clients.
const SocketEnv = "REVIEWBUS_SOCKET"

// DefaultSocketPath returns the bus socket path: the env override if
// set, else a per-user path under XDG_RUNTIME_DIR, else /tmp.
func DefaultSocketPath() string {
	if p := os.Getenv(SocketEnv); p != "" {
		return p
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "reviewbus.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("reviewbus-%d.sock", os.Getuid()))
}

// SocketManager handles the listening socket's lifecycle: stale-file
// cleanup on bind, permissions, and removal on close.
type SocketManager struct {
	path     string
	listener net.Listener
}

// NewSocketManager creates a manager for the given path, falling back
// to DefaultSocketPath when empty.
func NewSocketManager(path string) *SocketManager {
	if path == "" {
		path = DefaultSocketPath()
	}
	return &SocketManager{path: path}
}

// Path returns the socket path.
func (sm *SocketManager) Path() string {
	return sm.path
}

// Listen binds the unix socket. A leftover socket file from a crashed
// daemon is removed if nothing answers on it; a live listener yields
// ErrDaemonRunning.
func (sm *SocketManager) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(sm.path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	if _, err := os.Stat(sm.path); err == nil {
		conn, err := net.DialTimeout("unix", sm.path, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("%w at %s", ErrDaemonRunning, sm.path)
		}
		if err := os.Remove(sm.path); err != nil {
			return nil, fmt.Errorf("%w: remove stale socket: %v", ErrSocketInUse, err)
		}
	}

	listener, err := net.Listen("unix", sm.path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", sm.path, err)
	}

	if err := os.Chmod(sm.path, 0o600); err != nil {
		listener.Close()
		os.Remove(sm.path)
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	sm.listener = listener
	return listener, nil
}

// Close shuts the listener and removes the socket file.
func (sm *SocketManager) Close() error {
	var errs []error
	if sm.listener != nil {
		if err := sm.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		sm.listener = nil
	}
	if err := os.Remove(sm.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsRunning reports whether a daemon answers on the given socket path.
func IsRunning(path string) bool {
	if path == "" {
		path = DefaultSocketPath()
	}
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
