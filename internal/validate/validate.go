// Package validate is the last gate before the agent launches. It exists to
// fail before inference credits are spent on a broken workspace, so it runs
// after provisioning and is unconditionally fatal on any miss.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathKind distinguishes file and directory requirements.
type PathKind string

const (
	KindFile PathKind = "file"
	KindDir  PathKind = "dir"
)

// RequiredPath is one entry the workspace must contain.
type RequiredPath struct {
	Path string
	Kind PathKind
}

// ValidationError names every missing entry at once, not just the first.
type ValidationError struct {
	Missing []RequiredPath
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = fmt.Sprintf("%s (%s)", m.Path, m.Kind)
	}
	return fmt.Sprintf("workspace validation failed, %d path(s) missing: %s",
		len(e.Missing), strings.Join(names, ", "))
}

// BootstrapSet returns the required paths for an agent workspace rooted at
// workingDir inside the repository at repoRoot.
func BootstrapSet(repoRoot, workingDir string) []RequiredPath {
	return []RequiredPath{
		{Path: workingDir, Kind: KindDir},
		{Path: filepath.Join(repoRoot, ".git"), Kind: KindDir},
		{Path: filepath.Join(workingDir, "CLAUDE.md"), Kind: KindFile},
		{Path: filepath.Join(workingDir, "task", "task.md"), Kind: KindFile},
		{Path: filepath.Join(workingDir, "task", "prompt.md"), Kind: KindFile},
		{Path: filepath.Join(workingDir, "task", "architecture.md"), Kind: KindFile},
		{Path: filepath.Join(workingDir, ".claude", "settings.json"), Kind: KindFile},
	}
}

// Validate checks every required path without short-circuiting so the
// failure report names the complete missing set.
func Validate(required []RequiredPath) error {
	var missing []RequiredPath

	for _, r := range required {
		info, err := os.Stat(r.Path)
		if err != nil {
			missing = append(missing, r)
			continue
		}
		if r.Kind == KindDir && !info.IsDir() {
			missing = append(missing, r)
			continue
		}
		if r.Kind == KindFile && info.IsDir() {
			missing = append(missing, r)
		}
	}

	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
