package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "reviewbus"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Session bus between AI assistants and your editor",
	Long: `Reviewbus multiplexes AI-assistant CLI sessions to a single editor
over a unix socket:
  - MCP server exposing present-review, get-selection, and log tools
  - Background daemon tracking which terminals have live sessions
  - Request/response correlation with per-request timeouts`,
	Version: appVersion,
	// An MCP host launches us with stdin piped; serve instead of
	// printing help.
	Run: func(cmd *cobra.Command, args []string) {
		if !isTerminal(os.Stdin) {
			runMCP(cmd, args)
		} else {
			cmd.Help()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("socket", "", "Socket path for daemon communication")
	rootCmd.PersistentFlags().String("config", "", "Config file path")

	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(terminalsCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
