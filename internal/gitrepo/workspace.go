// Package gitrepo materializes git working trees on persistent storage with
// idempotent "ensure present at ref" semantics: the same call must be safe
// after a crash at any point of a prior run. The presence of a valid .git
// directory at the expected path is the sole signal that prior work happened
// and a clone must be skipped in favor of fetch+reset.
package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opsforge/agentprep/internal/execx"
)

// RepositoryRef identifies one of the repositories the pipeline manages.
// LocalPath is stable across retries of the same job.
type RepositoryRef struct {
	URL           string
	LocalPath     string
	DefaultBranch string
}

// WorkspaceState is inferred from the filesystem, never stored.
type WorkspaceState string

const (
	// StateAbsent: nothing at the path (or an empty directory); clone.
	StateAbsent WorkspaceState = "absent"
	// StateClonedOnRef: valid repo already on the requested ref; sync only.
	StateClonedOnRef WorkspaceState = "cloned_on_ref"
	// StateOutOfDate: valid repo on a different ref; fetch, checkout, reset.
	StateOutOfDate WorkspaceState = "out_of_date"
	// StateCorrupt: non-empty directory that is not a valid repo. Fatal,
	// never repaired.
	StateCorrupt WorkspaceState = "corrupt"
)

// InspectState infers the workspace state for path against checkoutRef using
// only the filesystem (directory existence plus .git/HEAD). It runs no git
// commands, so it unit-tests against plain temp directories.
func InspectState(path, checkoutRef string) (WorkspaceState, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return StateAbsent, nil
	}
	if err != nil {
		return StateCorrupt, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return StateCorrupt, nil
	}

	gitDir := filepath.Join(path, ".git")
	gitInfo, err := os.Stat(gitDir)
	if os.IsNotExist(err) {
		entries, readErr := os.ReadDir(path)
		if readErr != nil {
			return StateCorrupt, fmt.Errorf("failed to read %s: %w", path, readErr)
		}
		if len(entries) == 0 {
			return StateAbsent, nil
		}
		// Non-empty directory without .git: a clone would fail and prior
		// content is not ours to destroy.
		return StateCorrupt, nil
	}
	if err != nil {
		return StateCorrupt, fmt.Errorf("failed to stat %s: %w", gitDir, err)
	}
	if !gitInfo.IsDir() {
		return StateCorrupt, nil
	}

	head, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return StateCorrupt, nil
	}

	current := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(head)), "ref: refs/heads/"))
	if current == checkoutRef {
		return StateClonedOnRef, nil
	}
	return StateOutOfDate, nil
}

// Workspace clones or synchronizes repositories through a command runner.
type Workspace struct {
	runner execx.Runner
	logger *slog.Logger
}

// NewWorkspace returns a Workspace using runner for all git invocations.
func NewWorkspace(runner execx.Runner, logger *slog.Logger) *Workspace {
	return &Workspace{runner: runner, logger: logger}
}

// EnsurePresent guarantees ref's repository exists at its LocalPath checked
// out on checkoutRef and synced to origin. Fresh path: clone + checkout.
// Existing valid repo: fetch, checkout, reset --hard origin/<checkoutRef>;
// never a second clone, never stale content. Corrupt local state aborts.
func (w *Workspace) EnsurePresent(ctx context.Context, ref RepositoryRef, checkoutRef string) (WorkspaceState, error) {
	state, err := InspectState(ref.LocalPath, checkoutRef)
	if err != nil {
		return StateCorrupt, &GitError{Kind: KindCorrupt, Op: "inspect", Path: ref.LocalPath, Err: err}
	}

	switch state {
	case StateCorrupt:
		return StateCorrupt, &GitError{
			Kind: KindCorrupt, Op: "inspect", Path: ref.LocalPath,
			Err: fmt.Errorf("directory exists but is not a valid git repository; refusing to repair"),
		}

	case StateAbsent:
		w.logger.Info("cloning repository", "url", execx.Redact(ref.URL), "path", ref.LocalPath)
		if err := os.MkdirAll(filepath.Dir(ref.LocalPath), 0755); err != nil {
			return state, &GitError{Kind: KindCorrupt, Op: "clone", Path: ref.LocalPath, Err: err}
		}
		if out, err := w.runner.Run(ctx, "", "git", "clone", ref.URL, ref.LocalPath); err != nil {
			return state, classify("clone", ref.LocalPath, out, err)
		}
		if out, err := w.runner.Run(ctx, ref.LocalPath, "git", "checkout", checkoutRef); err != nil {
			return state, classify("checkout", ref.LocalPath, out, err)
		}
		return StateClonedOnRef, nil

	default:
		// Resumed run: the clone survived a prior pod. Force-sync to the
		// tracked ref so a stale prior pull can never leak through.
		w.logger.Info("reusing existing clone", "path", ref.LocalPath, "state", state)
		if out, err := w.runner.Run(ctx, ref.LocalPath, "git", "fetch", "origin"); err != nil {
			return state, classify("fetch", ref.LocalPath, out, err)
		}
		if out, err := w.runner.Run(ctx, ref.LocalPath, "git", "checkout", checkoutRef); err != nil {
			return state, classify("checkout", ref.LocalPath, out, err)
		}
		if out, err := w.runner.Run(ctx, ref.LocalPath, "git", "reset", "--hard", "origin/"+checkoutRef); err != nil {
			return state, classify("reset", ref.LocalPath, out, err)
		}
		return state, nil
	}
}
