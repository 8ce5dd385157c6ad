package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"reviewbus/internal/daemon"
	"reviewbus/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as MCP server",
	Long: `Run as an MCP (Model Context Protocol) server for AI coding assistants.

This is the mode assistants launch. The server bridges tool calls onto
the bus daemon, auto-starting it when needed, so reviews reach the
editor no matter which terminal the assistant runs in.`,
	Run: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	socketPath := getSocketPath(cmd, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	rt := tools.NewReviewTools(
		daemon.WithSocketPath(socketPath),
		daemon.WithTimeout(cfg.RequestTimeout()),
	)
	defer rt.Close()

	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    appName,
			Version: appVersion,
		},
		&mcp.ServerOptions{
			HasTools: true,
			Instructions: `Code review bridge between this assistant session and the user's editor.

Uses a background daemon so multiple assistant sessions share one editor:
- Sessions are attributed to the terminal they run in
- The daemon is auto-started on first tool call

Available tools:
- present-review: Display a markdown review in the editor
- get-selection: Read the editor's current text selection
- log: Append a line to the editor's review log`,
		},
	)

	tools.RegisterReviewTools(server, rt)

	log.SetOutput(os.Stderr)
	log.Printf("Starting %s v%s", appName, appVersion)

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		if ctx.Err() == nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}
