// Package provision copies task configuration artifacts from the mounted
// config source into the agent's working directory. Everything is refreshed
// to the latest deployed version on every run except the agent's memory
// file, which survives restarts unless the overwrite policy says otherwise.
package provision

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opsforge/agentprep/internal/fsutil"
)

// MemoryPolicy decides whether an existing memory file is kept or replaced.
type MemoryPolicy string

const (
	MemoryPreserve  MemoryPolicy = "preserve"
	MemoryOverwrite MemoryPolicy = "overwrite"
)

// MemoryFileName is the agent's long-term memory artifact. It is the only
// artifact with preserve semantics.
const MemoryFileName = "CLAUDE.md"

// claudeDirFiles are placed under .claude/ instead of the working dir root.
var claudeDirFiles = map[string]bool{
	"settings.json":      true,
	"mcp.json":           true,
	"client-config.json": true,
}

// taskDocNames are the per-task documents pulled from the docs repository.
// architecture.md lives at the project root of the docs repo and is the one
// document every task depends on.
var taskDocNames = []string{"task.md", "acceptance-criteria.md", "prompt.md"}

// ProvisionError reports a provisioning failure. Only Fatal errors abort
// the pipeline; missing optional artifacts are logged and skipped.
type ProvisionError struct {
	Artifact string
	Fatal    bool
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s failed: %v", e.Artifact, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Request carries everything one provisioning run needs.
type Request struct {
	ConfigSourceDir string
	WorkingDir      string
	RepoRoot        string
	DocsRepoPath    string
	DocsProjectDir  string
	TaskID          string
	MemoryPolicy    MemoryPolicy
}

// Report itemizes what a provisioning run did.
type Report struct {
	Copied          []string `json:"copied"`
	MemoryPreserved bool     `json:"memory_preserved"`
	Skipped         []string `json:"skipped"`
	DocsPurged      bool     `json:"docs_purged"`
}

// Provisioner copies config artifacts and task documents into place.
type Provisioner struct {
	logger *slog.Logger
}

// New returns a Provisioner.
func New(logger *slog.Logger) *Provisioner {
	return &Provisioner{logger: logger}
}

// Provision applies the full artifact set: config-source files (always
// overwritten, memory file excepted), the memory mirror, and a freshly
// rebuilt task/ directory. The docs repository clone is purged afterwards.
func (p *Provisioner) Provision(req Request) (*Report, error) {
	report := &Report{}

	if err := os.MkdirAll(req.WorkingDir, 0755); err != nil {
		return report, &ProvisionError{Artifact: req.WorkingDir, Fatal: true, Err: err}
	}

	if err := p.copyConfigArtifacts(req, report); err != nil {
		return report, err
	}

	if err := p.provisionMemory(req, report); err != nil {
		return report, err
	}

	if err := p.provisionTaskDocs(req, report); err != nil {
		return report, err
	}

	// Reference-only input; must not remain where the agent works.
	if err := os.RemoveAll(req.DocsRepoPath); err != nil {
		return report, &ProvisionError{Artifact: req.DocsRepoPath, Fatal: true, Err: err}
	}
	report.DocsPurged = true

	return report, nil
}

// copyConfigArtifacts refreshes every mounted artifact except the memory
// file. ConfigMap mounts contain symlinked ..data directories; only regular
// files at the top level are artifacts.
func (p *Provisioner) copyConfigArtifacts(req Request, report *Report) error {
	entries, err := os.ReadDir(req.ConfigSourceDir)
	if err != nil {
		return &ProvisionError{Artifact: req.ConfigSourceDir, Fatal: true, Err: err}
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name[0] == '.' || name == MemoryFileName {
			continue
		}

		src := filepath.Join(req.ConfigSourceDir, name)
		dst := filepath.Join(req.WorkingDir, name)
		if claudeDirFiles[name] {
			dst = filepath.Join(req.WorkingDir, ".claude", name)
		}

		if err := fsutil.CopyFile(src, dst); err != nil {
			return &ProvisionError{Artifact: name, Fatal: true, Err: err}
		}
		report.Copied = append(report.Copied, name)
	}

	return nil
}

// provisionMemory applies the memory law: the destination is replaced only
// when the policy says Overwrite or nothing exists there yet. The resulting
// file is mirrored to the repository root for the agent's convenience.
func (p *Provisioner) provisionMemory(req Request, report *Report) error {
	src := filepath.Join(req.ConfigSourceDir, MemoryFileName)
	dst := filepath.Join(req.WorkingDir, MemoryFileName)

	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			p.logger.Warn("memory template missing from config source; skipping")
			report.Skipped = append(report.Skipped, MemoryFileName)
			return nil
		}
		return &ProvisionError{Artifact: MemoryFileName, Fatal: true, Err: err}
	}

	_, dstErr := os.Stat(dst)
	dstExists := dstErr == nil

	if req.MemoryPolicy == MemoryOverwrite || !dstExists {
		if err := fsutil.CopyFile(src, dst); err != nil {
			return &ProvisionError{Artifact: MemoryFileName, Fatal: true, Err: err}
		}
		report.Copied = append(report.Copied, MemoryFileName)
	} else {
		p.logger.Info("preserving existing memory file", "path", dst)
		report.MemoryPreserved = true
	}

	if req.RepoRoot != "" && req.RepoRoot != req.WorkingDir {
		if err := fsutil.CopyFile(dst, filepath.Join(req.RepoRoot, MemoryFileName)); err != nil {
			return &ProvisionError{Artifact: MemoryFileName, Fatal: true, Err: err}
		}
	}

	return nil
}

// provisionTaskDocs rebuilds working_dir/task/ from scratch so content from
// a previously-handled task id can never linger, then pulls the curated
// document set from the docs repository.
func (p *Provisioner) provisionTaskDocs(req Request, report *Report) error {
	taskDir := filepath.Join(req.WorkingDir, "task")
	if err := os.RemoveAll(taskDir); err != nil {
		return &ProvisionError{Artifact: taskDir, Fatal: true, Err: err}
	}
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return &ProvisionError{Artifact: taskDir, Fatal: true, Err: err}
	}

	// DocsProjectDir comes from the pod environment; it must stay inside the
	// docs clone, symlinks included.
	docsBase, err := fsutil.ResolveWorkspacePath(req.DocsRepoPath, req.DocsProjectDir)
	if err != nil {
		return &ProvisionError{Artifact: req.DocsProjectDir, Fatal: true, Err: err}
	}
	taskDocsDir := filepath.Join(docsBase, ".taskmaster", "docs", "task-"+req.TaskID)

	for _, name := range taskDocNames {
		src := filepath.Join(taskDocsDir, name)
		if _, err := os.Stat(src); err != nil {
			p.logger.Warn("optional task document missing; skipping", "doc", name)
			report.Skipped = append(report.Skipped, "task/"+name)
			continue
		}
		if err := fsutil.CopyFile(src, filepath.Join(taskDir, name)); err != nil {
			return &ProvisionError{Artifact: "task/" + name, Fatal: true, Err: err}
		}
		report.Copied = append(report.Copied, "task/"+name)
	}

	// Every task depends on the shared architecture document.
	archSrc := filepath.Join(docsBase, "architecture.md")
	if _, err := os.Stat(archSrc); err != nil {
		return &ProvisionError{Artifact: "architecture.md", Fatal: true,
			Err: fmt.Errorf("architecture document not found at %s: %w", archSrc, err)}
	}
	if err := fsutil.CopyFile(archSrc, filepath.Join(taskDir, "architecture.md")); err != nil {
		return &ProvisionError{Artifact: "task/architecture.md", Fatal: true, Err: err}
	}
	report.Copied = append(report.Copied, "task/architecture.md")

	return nil
}

