package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"reviewbus/internal/config"
	"reviewbus/internal/daemon"
	"reviewbus/internal/logging"
	"reviewbus/internal/protocol"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
	Long: `Manage the bus daemon that tracks assistant sessions and routes
requests to the attached editor.

The daemon is started automatically by the MCP server when needed, but
can be managed manually.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(path)
}

func getSocketPath(cmd *cobra.Command, cfg config.Config) string {
	if socketPath, _ := cmd.Root().PersistentFlags().GetString("socket"); socketPath != "" {
		return socketPath
	}
	if cfg.SocketPath != "" {
		return cfg.SocketPath
	}
	return daemon.DefaultSocketPath()
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	socketPath := getSocketPath(cmd, cfg)

	logOpts := logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}
	if cfg.LogDir != "" {
		logOpts.Path = filepath.Join(cfg.LogDir, "reviewbus.log")
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return err
	}

	// One daemon per socket path. The lock outlives Start so a second
	// start attempt fails fast instead of fighting over the socket file.
	lock := flock.New(socketPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon holds the lock for %s", socketPath)
	}
	defer lock.Unlock()
	defer os.Remove(lock.Path())

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	dcfg := daemon.DefaultConfig()
	dcfg.SocketPath = socketPath
	dcfg.HandshakeTimeout = cfg.HandshakeTimeout()
	dcfg.RequestTimeout = cfg.RequestTimeout()
	dcfg.MaxClients = cfg.MaxClients
	dcfg.ResolverMaxHops = cfg.ResolverMaxHops
	dcfg.Logger = logger

	d := daemon.New(dcfg)
	if err := d.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return d.Stop(shutdownCtx)
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	socketPath := getSocketPath(cmd, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := daemon.NewClient(
		daemon.WithSocketPath(socketPath),
		daemon.WithRole(protocol.RoleObserver),
		daemon.WithLogger(logging.NewNop()),
	)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("daemon is not running: %w", err)
	}
	defer client.Close()

	if _, err := client.Announce(ctx); err != nil {
		return err
	}
	if err := client.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}

	fmt.Println("Daemon stopped")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	socketPath := getSocketPath(cmd, cfg)

	if !daemon.IsRunning(socketPath) {
		fmt.Println("Daemon is not running")
		os.Exit(1)
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
		return fmt.Errorf("get daemon status: %w", err)
	}

	fmt.Printf("Daemon v%s\n", status.Version)
	fmt.Printf("Socket: %s\n", socketPath)
	fmt.Printf("Uptime: %s\n", (time.Duration(status.UptimeSeconds) * time.Second).Round(time.Second))
	fmt.Printf("Sessions: %d\n", status.Sessions)
	fmt.Printf("Editor: %s\n", attachedWord(status.EditorAttached))
	if len(status.ActiveTerminals) > 0 {
		fmt.Printf("Terminals: %s\n", strings.Join(status.ActiveTerminals, ", "))
	}
	return nil
}

func attachedWord(attached bool) string {
	if attached {
		return "attached"
	}
	return "not attached"
}
