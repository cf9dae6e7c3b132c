package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opsforge/agentprep/internal/execx"
)

// CLIReconciler reviews the generated task list with an LLM CLI. The tool
// edits tasks.json in place; nothing here validates what it wrote.
type CLIReconciler struct {
	cmd    []string
	runner execx.Runner
	logger *slog.Logger
}

// NewCLIReconciler wraps an agent command line as a Reconciler.
func NewCLIReconciler(cmd []string, runner execx.Runner, logger *slog.Logger) *CLIReconciler {
	return &CLIReconciler{cmd: cmd, runner: runner, logger: logger}
}

// ReconcileTasks asks the CLI to align the task list with the architecture
// document. Skips cleanly when the architecture document does not exist.
func (r *CLIReconciler) ReconcileTasks(ctx context.Context, tasksPath, archPath string) error {
	if len(r.cmd) == 0 {
		return fmt.Errorf("no reconciler command configured")
	}
	if _, err := os.Stat(archPath); err != nil {
		return fmt.Errorf("no architecture document to reconcile against: %w", err)
	}

	prompt := fmt.Sprintf(
		"Review the task list in %s against the architecture described in %s. "+
			"Edit %s in place so every task aligns with the architecture: fix wrong "+
			"assumptions, add missing integration tasks, and keep the existing JSON schema. "+
			"Do not touch any other file.",
		filepath.Base(tasksPath), archPath, tasksPath)

	r.logger.Info("reconciling task list against architecture", "tasks", tasksPath)
	args := append(append([]string{}, r.cmd[1:]...), prompt)
	if _, err := r.runner.Run(ctx, filepath.Dir(tasksPath), r.cmd[0], args...); err != nil {
		return fmt.Errorf("reconciler run failed: %w", err)
	}
	return nil
}

var _ Reconciler = (*CLIReconciler)(nil)
