// Package cli defines the tminus command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var logger *slog.Logger

// SetLogger injects the process logger before Execute.
func SetLogger(l *slog.Logger) {
	logger = l
}

func log() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "tminus",
	Short: "T-Minus - calendar intelligence and governance backend",
	Long: `T-Minus ingests calendar events from Google, Microsoft, CalDAV, and
public ICS feeds, maintains a canonical per-user event graph, and serves
derived analytics and governance artifacts over HTTP.`,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}
