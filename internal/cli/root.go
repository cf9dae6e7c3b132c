package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentprep",
	Short: "Prepare container workspaces for autonomous coding agents",
	Long: `agentprep runs inside a task pod before the coding agent starts.

'agentprep bootstrap' authenticates as a GitHub App, materializes the docs
and target repositories on the persistent volume, reconciles the task's
feature branch, provisions the agent workspace, validates it, and launches
the agent.

'agentprep intake' turns a product requirements document into a task graph
on a fresh branch of the target repository and opens a pull request.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(intakeCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to agentprep.yaml (environment variables win)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. When a service name is configured
// every record carries it, so pod logs from different deployments can be
// told apart.
func newLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}
