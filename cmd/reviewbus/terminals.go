package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reviewbus/internal/daemon"
	"reviewbus/internal/logging"
	"reviewbus/internal/protocol"
)

var terminalsCmd = &cobra.Command{
	Use:   "terminals",
	Short: "List terminals with live assistant sessions",
	RunE:  runTerminals,
}

func runTerminals(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	socketPath := getSocketPath(cmd, cfg)

	if !daemon.IsRunning(socketPath) {
		fmt.Println("No daemon running, no active sessions")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := daemon.NewClient(
		daemon.WithSocketPath(socketPath),
		daemon.WithRole(protocol.RoleObserver),
		daemon.WithLogger(logging.NewNop()),
	)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Announce(ctx); err != nil {
		return err
	}
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}

	if len(status.ActiveTerminals) == 0 {
		fmt.Println("No active sessions")
		return nil
	}
	for _, id := range status.ActiveTerminals {
		fmt.Println(id)
	}
	return nil
}
