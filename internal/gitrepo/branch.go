package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opsforge/agentprep/internal/execx"
)

// FeatureBranch is the outcome of EnsureFeatureBranch.
type FeatureBranch struct {
	Name            string
	BaseBranch      string
	Created         bool
	Conflicted      bool
	ConflictedFiles []string
}

// FeatureBranchName derives the branch for a task id. Pure function so
// re-entrant runs always resolve to the same branch.
func FeatureBranchName(taskID string) string {
	return fmt.Sprintf("feature/task-%s-implementation", taskID)
}

// Branches manages feature branch lifecycle on an existing clone.
type Branches struct {
	runner execx.Runner
	logger *slog.Logger
}

// NewBranches returns a Branches using runner for all git invocations.
func NewBranches(runner execx.Runner, logger *slog.Logger) *Branches {
	return &Branches{runner: runner, logger: logger}
}

// EnsureFeatureBranch creates the task's branch from the freshly fetched
// base, or checks it out and merges the base into it. A merge conflict is
// terminal for this component: the conflicted file list is reported via
// MergeConflictError and the merge is left half-applied with markers in
// place; resolution belongs to the downstream agent, not to us.
func (b *Branches) EnsureFeatureBranch(ctx context.Context, repoPath, taskID, baseBranch string) (FeatureBranch, error) {
	branch := FeatureBranch{
		Name:       FeatureBranchName(taskID),
		BaseBranch: baseBranch,
	}

	if out, err := b.runner.Run(ctx, repoPath, "git", "fetch", "origin", baseBranch); err != nil {
		return branch, classify("fetch", repoPath, out, err)
	}

	exists := true
	if _, err := b.runner.Run(ctx, repoPath, "git", "rev-parse", "--verify", "refs/heads/"+branch.Name); err != nil {
		exists = false
	}

	if !exists {
		b.logger.Info("creating feature branch", "branch", branch.Name, "base", baseBranch)
		if out, err := b.runner.Run(ctx, repoPath, "git", "checkout", "-b", branch.Name, "origin/"+baseBranch); err != nil {
			return branch, classify("checkout -b", repoPath, out, err)
		}
		branch.Created = true
		return branch, nil
	}

	b.logger.Info("reusing feature branch", "branch", branch.Name, "base", baseBranch)
	if out, err := b.runner.Run(ctx, repoPath, "git", "checkout", branch.Name); err != nil {
		return branch, classify("checkout", repoPath, out, err)
	}

	if out, err := b.runner.Run(ctx, repoPath, "git", "merge", "--no-edit", "origin/"+baseBranch); err != nil {
		files, listErr := b.conflictedFiles(ctx, repoPath)
		if listErr != nil || len(files) == 0 {
			// Merge failed for a reason other than conflicts.
			return branch, classify("merge", repoPath, out, err)
		}

		branch.Conflicted = true
		branch.ConflictedFiles = files
		b.logger.Warn("merge conflict; leaving markers for the agent",
			"branch", branch.Name, "files", files)
		return branch, &MergeConflictError{Branch: branch.Name, Files: files}
	}

	return branch, nil
}

// conflictedFiles lists paths in an unmerged state from porcelain output.
func (b *Branches) conflictedFiles(ctx context.Context, repoPath string) ([]string, error) {
	out, err := b.runner.Run(ctx, repoPath, "git", "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		switch line[:2] {
		case "UU", "AA", "DD", "AU", "UA", "DU", "UD":
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}
