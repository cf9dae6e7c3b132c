package gitrepo

import (
	"fmt"
	"strings"
)

// Kind classifies git failures for the pipeline's retry policy: auth
// failures earn one token refresh and retry, network failures one retry,
// corrupt local state is fatal and never repaired.
type Kind string

const (
	KindNetwork  Kind = "network"
	KindAuth     Kind = "auth"
	KindNotFound Kind = "not_found"
	KindCorrupt  Kind = "corrupt"
)

// GitError is a classified git operation failure.
type GitError struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s failed (%s) at %s: %v", e.Op, e.Kind, e.Path, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// MergeConflictError reports a half-applied merge. It is fatal to automated
// completion but not to the pipeline: conflict markers stay in place for the
// downstream agent to resolve.
type MergeConflictError struct {
	Branch string
	Files  []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge into %s conflicted on %d file(s): %s",
		e.Branch, len(e.Files), strings.Join(e.Files, ", "))
}

// classify maps a failed git command's output to an error kind. Git writes
// these phrases to stderr; the runner folds stderr into the output.
func classify(op, path string, output string, err error) *GitError {
	lower := strings.ToLower(output)
	kind := KindNetwork

	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "could not read username"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "401"):
		kind = KindAuth
	case strings.Contains(lower, "repository not found"),
		strings.Contains(lower, "not found"):
		kind = KindNotFound
	case strings.Contains(lower, "not a git repository"),
		strings.Contains(lower, "already exists and is not an empty directory"):
		kind = KindCorrupt
	}

	return &GitError{Kind: kind, Op: op, Path: path, Err: err}
}
