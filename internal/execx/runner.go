// Package execx runs external commands (git, gh, the task CLI) behind an
// interface so pipelines can be exercised in tests without real subprocesses.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// Runner executes a command in an optional working directory and returns its
// combined output. Implementations must block until the command exits.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
	RunWithStdin(ctx context.Context, dir, stdin, name string, args ...string) (string, error)
}

// ExitError carries the command's output alongside the underlying failure so
// callers can classify errors (auth vs. network vs. not-found) from stderr.
type ExitError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, strings.TrimSpace(e.Output))
}

func (e *ExitError) Unwrap() error { return e.Err }

// tokenPattern matches embedded installation-token credentials in remote
// URLs so they never reach the logs.
var tokenPattern = regexp.MustCompile(`x-access-token:[^@]+@`)

// Redact strips credential material from a string destined for logs.
func Redact(s string) string {
	return tokenPattern.ReplaceAllString(s, "x-access-token:***@")
}

// CmdRunner is the production Runner backed by os/exec.
type CmdRunner struct {
	logger *slog.Logger
}

// NewCmdRunner returns a Runner that shells out via os/exec.
func NewCmdRunner(logger *slog.Logger) *CmdRunner {
	return &CmdRunner{logger: logger}
}

// Run executes the command and returns combined stdout+stderr.
func (r *CmdRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return r.run(ctx, dir, "", name, args...)
}

// RunWithStdin executes the command feeding stdin to it. Used for
// `git credential approve` and `gh auth login --with-token`, which take
// secrets on standard input so they never appear in argv.
func (r *CmdRunner) RunWithStdin(ctx context.Context, dir, stdin, name string, args ...string) (string, error) {
	return r.run(ctx, dir, stdin, name, args...)
}

func (r *CmdRunner) run(ctx context.Context, dir, stdin, name string, args ...string) (string, error) {
	redacted := make([]string, len(args))
	for i, a := range args {
		redacted[i] = Redact(a)
	}
	r.logger.Debug("exec", "cmd", name, "args", redacted, "dir", dir)

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if err != nil {
		return output, &ExitError{
			Cmd:    fmt.Sprintf("%s %s", name, strings.Join(redacted, " ")),
			Output: Redact(output),
			Err:    err,
		}
	}

	return output, nil
}
