// Package launcher runs the coding-agent CLI as a blocking subprocess in the
// provisioned working directory. The agent is opaque: it reads the files the
// provisioner laid down and performs its own git commits and PRs.
package launcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
)

// Launcher starts the agent subprocess.
type Launcher struct {
	cmd    []string
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// New returns a Launcher for the given agent command line.
func New(cmd []string, logger *slog.Logger) *Launcher {
	return &Launcher{
		cmd:    cmd,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetOutput redirects the agent's streams (tests).
func (l *Launcher) SetOutput(stdout, stderr io.Writer) {
	l.stdout = stdout
	l.stderr = stderr
}

// Params carries task context into the agent's environment.
type Params struct {
	WorkingDir      string
	TaskID          string
	Conflicted      bool
	ContinueSession bool
}

// Run blocks until the agent exits, returning its error. The environment
// inherits the process env plus the task context; a conflicted merge is
// announced so the agent knows to resolve markers first.
func (l *Launcher) Run(ctx context.Context, p Params) error {
	if len(l.cmd) == 0 {
		return fmt.Errorf("agent command is empty")
	}

	l.logger.Info("launching agent", "cmd", l.cmd, "working_dir", p.WorkingDir, "task_id", p.TaskID)

	proc := exec.CommandContext(ctx, l.cmd[0], l.cmd[1:]...)
	proc.Dir = p.WorkingDir
	proc.Stdout = l.stdout
	proc.Stderr = l.stderr

	proc.Env = append(os.Environ(),
		"AGENT_WORKSPACE="+p.WorkingDir,
		"AGENT_TASK_ID="+p.TaskID,
		"AGENT_MERGE_CONFLICTS="+strconv.FormatBool(p.Conflicted),
		"AGENT_CONTINUE_SESSION="+strconv.FormatBool(p.ContinueSession),
	)

	if err := proc.Run(); err != nil {
		return fmt.Errorf("agent exited with error: %w", err)
	}

	l.logger.Info("agent exited cleanly", "task_id", p.TaskID)
	return nil
}
