package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Launch starts a detached daemon process via our own binary.
func Launch(socketPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := []string{"daemon", "start"}
	if socketPath != "" {
		args = append(args, "--socket", socketPath)
	}

	proc := exec.Command(exe, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// waitForSocket polls until the daemon answers on the socket.
func waitForSocket(ctx context.Context, socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsRunning(socketPath) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("daemon did not start within %s", timeout)
}

// EnsureDaemonRunning connects to the daemon, launching one first if
// nothing answers on the socket, and returns an announced client.
func EnsureDaemonRunning(ctx context.Context, opts ...ClientOption) (*Client, error) {
	client := NewClient(opts...)

	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, ErrSocketPathNotSet) {
			return nil, err
		}
		if err := Launch(client.socketPath); err != nil {
			return nil, err
		}
		if err := waitForSocket(ctx, client.socketPath, 5*time.Second); err != nil {
			return nil, fmt.Errorf("daemon failed to start: %w", err)
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
	}

	announceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Announce(announceCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
