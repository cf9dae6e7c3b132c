// Package intake turns a product requirements document into a structured
// task graph on a fresh branch of the target repository. The pipeline is
// single-shot: it works in a throwaway scratch clone and, whatever happens
// after the clone, pushes the branch so partial output is never lost.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/agentprep/internal/config"
	"github.com/opsforge/agentprep/internal/execx"
	"github.com/opsforge/agentprep/internal/fsutil"
	"github.com/opsforge/agentprep/internal/githubauth"
)

const tokenLeeway = 5 * time.Minute

// TokenSource is the slice of githubauth.Forge the intake pipeline uses.
type TokenSource interface {
	EnsureFresh(ctx context.Context, leeway time.Duration) (*githubauth.InstallationToken, error)
	LoginCLI(ctx context.Context, tok *githubauth.InstallationToken) error
}

// Reconciler cross-references the generated task list against the
// architecture document and edits the task list in place. It is an optional,
// best-effort collaborator: its absence or failure never fails the run.
type Reconciler interface {
	ReconcileTasks(ctx context.Context, tasksPath, archPath string) error
}

// Outcome summarizes an intake run. Failures lists stages that broke but did
// not stop the branch from being pushed.
type Outcome struct {
	ProjectName string   `json:"project_name"`
	Branch      string   `json:"branch"`
	ScratchDir  string   `json:"scratch_dir"`
	Pushed      bool     `json:"pushed"`
	PRURL       string   `json:"pr_url,omitempty"`
	Failures    []string `json:"failures,omitempty"`
}

// Pipeline drives the intake stages.
type Pipeline struct {
	cfg        *config.Config
	tokens     TokenSource
	runner     execx.Runner
	reconciler Reconciler
	logger     *slog.Logger

	scratchBase string
	now         func() time.Time
}

// New wires an intake Pipeline. reconciler may be nil.
func New(cfg *config.Config, tokens TokenSource, runner execx.Runner, reconciler Reconciler, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		tokens:      tokens,
		runner:      runner,
		reconciler:  reconciler,
		logger:      logger,
		scratchBase: os.TempDir(),
		now:         time.Now,
	}
}

// SetScratchBase overrides where scratch clones land (tests).
func (p *Pipeline) SetScratchBase(dir string) { p.scratchBase = dir }

// SetClock overrides the timestamp source (tests).
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Run executes the intake. After the scratch clone succeeds, stage failures
// are collected rather than returned immediately so commit+push always gets
// a chance to preserve whatever was generated; the first collected failure
// is returned once the push has been attempted.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	timestamp := p.now().UTC()
	out := &Outcome{Branch: fmt.Sprintf("task-generation-%d", timestamp.Unix())}

	tok, err := p.tokens.EnsureFresh(ctx, tokenLeeway)
	if err != nil {
		return out, err
	}
	if err := p.tokens.LoginCLI(ctx, tok); err != nil {
		// gh gets logged in again with a fresh token before the PR call.
		p.logger.Warn("gh auth login failed", "error", err)
	}

	scratch, err := p.clone(ctx, timestamp)
	if err != nil {
		return out, err
	}
	out.ScratchDir = scratch

	projectName, err := p.projectName(timestamp)
	if err != nil {
		return out, err
	}
	out.ProjectName = projectName

	projectDir := p.projectDir(scratch, projectName)
	var firstErr error
	fail := func(stage string, err error) {
		p.logger.Error("intake stage failed; continuing to preserve partial output",
			"stage", stage, "error", err)
		out.Failures = append(out.Failures, stage)
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", stage, err)
		}
	}

	if err := p.initProject(ctx, projectDir); err != nil {
		fail("init", err)
	} else {
		if err := p.parsePRD(ctx, projectDir); err != nil {
			fail("parse-prd", err)
		} else {
			if p.cfg.AnalyzeComplexity {
				if _, err := p.taskCLI(ctx, projectDir, "analyze-complexity"); err != nil {
					fail("analyze-complexity", err)
				}
			}
			if p.cfg.ExpandTasks {
				if _, err := p.taskCLI(ctx, projectDir, "expand", "--all", "--force"); err != nil {
					fail("expand", err)
				}
			}
			p.reconcile(ctx, projectDir, out)
			if _, err := p.taskCLI(ctx, projectDir, "generate"); err != nil {
				fail("generate", err)
			}
		}
	}

	pushed, err := p.commitAndPush(ctx, scratch, out, projectName)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return out, firstErr
	}
	out.Pushed = pushed

	if pushed {
		p.createPR(ctx, scratch, out, projectName)
	}

	return out, firstErr
}

// clone checks the target repository out at a throwaway path. Unlike the
// bootstrap workspaces this path is never resumed, so a random component is
// fine and keeps concurrent intakes from colliding.
func (p *Pipeline) clone(ctx context.Context, timestamp time.Time) (string, error) {
	scratch := filepath.Join(p.scratchBase,
		fmt.Sprintf("intake-%d-%s", timestamp.Unix(), uuid.NewString()[:8]))

	if _, err := p.runner.Run(ctx, "", "git", "clone", "--branch", p.cfg.SourceBranch,
		p.cfg.RepositoryURL, scratch); err != nil {
		return "", fmt.Errorf("scratch clone failed: %w", err)
	}
	return scratch, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// projectName resolves the project name: configuration wins, then the PRD's
// first top-level heading, then a timestamp fallback.
func (p *Pipeline) projectName(timestamp time.Time) (string, error) {
	if p.cfg.ProjectName != "" {
		return slugify(p.cfg.ProjectName), nil
	}

	data, err := fsutil.ReadFileLimited(p.cfg.PRDPath, 1<<20)
	if err != nil {
		return "", fmt.Errorf("can't read PRD at %s: %w", p.cfg.PRDPath, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "# ") {
			if name := slugify(strings.TrimPrefix(line, "# ")); name != "" {
				return name, nil
			}
		}
	}

	return fmt.Sprintf("project-%d", timestamp.Unix()), nil
}

func slugify(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func (p *Pipeline) projectDir(scratch, projectName string) string {
	if p.cfg.DocsProjectDir != "" {
		return filepath.Join(scratch, p.cfg.DocsProjectDir)
	}
	return filepath.Join(scratch, "projects", projectName)
}

// initProject creates the task-tracking structure, points the task CLI at
// the configured models, and copies in the PRD plus the optional
// architecture document.
func (p *Pipeline) initProject(ctx context.Context, projectDir string) error {
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		return err
	}
	if _, err := p.taskCLI(ctx, projectDir, "init"); err != nil {
		return err
	}

	models := []struct{ flag, value string }{
		{"--set-main", p.cfg.MainModel},
		{"--set-research", p.cfg.ResearchModel},
		{"--set-fallback", p.cfg.FallbackModel},
	}
	for _, m := range models {
		if m.value == "" {
			continue
		}
		if _, err := p.taskCLI(ctx, projectDir, "models", m.flag, m.value); err != nil {
			return err
		}
	}

	docsDir := filepath.Join(projectDir, ".taskmaster", "docs")
	if err := fsutil.CopyFile(p.cfg.PRDPath, filepath.Join(docsDir, "prd.txt")); err != nil {
		return fmt.Errorf("can't stage PRD: %w", err)
	}

	if p.cfg.ArchitecturePath != "" {
		err := fsutil.CopyFile(p.cfg.ArchitecturePath, filepath.Join(docsDir, "architecture.md"))
		if err != nil {
			// Optional document: intake still produces a useful task graph
			// without it.
			p.logger.Warn("architecture document unavailable; skipping",
				"path", p.cfg.ArchitecturePath, "error", err)
		}
	}

	return nil
}

func (p *Pipeline) parsePRD(ctx context.Context, projectDir string) error {
	_, err := p.taskCLI(ctx, projectDir, "parse-prd",
		"--input", filepath.Join(".taskmaster", "docs", "prd.txt"), "--force")
	return err
}

// reconcile runs the optional LLM review of the task list against the
// architecture document. Unavailable or failing reviewers are logged and
// skipped; their output is never validated here.
func (p *Pipeline) reconcile(ctx context.Context, projectDir string, out *Outcome) {
	if p.reconciler == nil {
		return
	}
	tasksPath := filepath.Join(projectDir, ".taskmaster", "tasks", "tasks.json")
	archPath := filepath.Join(projectDir, ".taskmaster", "docs", "architecture.md")
	if err := p.reconciler.ReconcileTasks(ctx, tasksPath, archPath); err != nil {
		p.logger.Warn("task reconciliation unavailable; continuing without it", "error", err)
		out.Failures = append(out.Failures, "reconcile")
	}
}

// commitAndPush reports whether the branch actually went up: an empty commit
// ("nothing to commit") is not an error, but there is no branch to open a
// pull request against either.
func (p *Pipeline) commitAndPush(ctx context.Context, scratch string, out *Outcome, projectName string) (bool, error) {
	if _, err := p.runner.Run(ctx, scratch, "git", "checkout", "-b", out.Branch); err != nil {
		return false, fmt.Errorf("can't create branch %s: %w", out.Branch, err)
	}
	if _, err := p.runner.Run(ctx, scratch, "git", "add", "-A"); err != nil {
		return false, fmt.Errorf("git add failed: %w", err)
	}

	msg := fmt.Sprintf("chore: generate task definitions for %s", projectName)
	if output, err := p.runner.Run(ctx, scratch, "git", "commit", "-m", msg); err != nil {
		if strings.Contains(output, "nothing to commit") {
			p.logger.Info("no generated content to commit")
			return false, nil
		}
		return false, fmt.Errorf("git commit failed: %w", err)
	}

	if _, err := p.runner.Run(ctx, scratch, "git", "push", "-u", "origin", out.Branch); err != nil {
		return false, fmt.Errorf("git push failed: %w", err)
	}
	return true, nil
}

// createPR opens the pull request. The branch is already pushed, so failure
// here is reported on the outcome but never fails the run.
func (p *Pipeline) createPR(ctx context.Context, scratch string, out *Outcome, projectName string) {
	// Tokens are short-lived and the content stages can take a while. A
	// refresh re-mints the git credential only, so gh has to be logged in
	// again with the fresh token before it talks to the API.
	tok, err := p.tokens.EnsureFresh(ctx, tokenLeeway)
	if err != nil {
		p.logger.Warn("token refresh before PR creation failed", "error", err)
		out.Failures = append(out.Failures, "pr")
		return
	}
	if err := p.tokens.LoginCLI(ctx, tok); err != nil {
		p.logger.Warn("gh login with refreshed token failed", "error", err)
		out.Failures = append(out.Failures, "pr")
		return
	}

	title := fmt.Sprintf("Task generation for %s", projectName)
	body := fmt.Sprintf("Auto-generated task definitions for %s.\n\nBranch: %s", projectName, out.Branch)
	output, err := p.runner.Run(ctx, scratch, "gh", "pr", "create",
		"--title", title, "--body", body,
		"--head", out.Branch, "--base", p.cfg.SourceBranch)
	if err != nil {
		p.logger.Warn("PR creation failed; branch is pushed, open it manually",
			"branch", out.Branch, "error", err)
		out.Failures = append(out.Failures, "pr")
		return
	}

	out.PRURL = strings.TrimSpace(output)
	p.logger.Info("pull request created", "url", out.PRURL)
}

// taskCLI invokes the task-generation CLI in the project directory.
func (p *Pipeline) taskCLI(ctx context.Context, projectDir string, args ...string) (string, error) {
	return p.runner.Run(ctx, projectDir, p.cfg.TaskCLI, args...)
}
