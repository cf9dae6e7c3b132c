package provision

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture builds a config source, a docs repo with task documents, and a
// working directory, returning a ready Request.
func fixture(t *testing.T) Request {
	t.Helper()
	root := t.TempDir()

	configSource := filepath.Join(root, "task-files")
	require.NoError(t, os.MkdirAll(configSource, 0755))
	files := map[string]string{
		"CLAUDE.md":            "memory template",
		"coding-guidelines.md": "guidelines v2",
		"github-guidelines.md": "github rules",
		"settings.json":        `{"permissions": {}}`,
		"mcp.json":             `{"servers": {}}`,
		"client-config.json":   `{"tools": []}`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(configSource, name), []byte(content), 0644))
	}

	docsRepo := filepath.Join(root, "docs-repo")
	taskDocs := filepath.Join(docsRepo, "widgets", ".taskmaster", "docs", "task-42")
	require.NoError(t, os.MkdirAll(taskDocs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(taskDocs, "task.md"), []byte("the task"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(taskDocs, "acceptance-criteria.md"), []byte("criteria"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(taskDocs, "prompt.md"), []byte("prompt"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(docsRepo, "widgets", "architecture.md"), []byte("arch"), 0644))

	repoRoot := filepath.Join(root, "repo")
	workingDir := filepath.Join(repoRoot, "services", "api")
	require.NoError(t, os.MkdirAll(workingDir, 0755))

	return Request{
		ConfigSourceDir: configSource,
		WorkingDir:      workingDir,
		RepoRoot:        repoRoot,
		DocsRepoPath:    docsRepo,
		DocsProjectDir:  "widgets",
		TaskID:          "42",
		MemoryPolicy:    MemoryPreserve,
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestProvision_FreshWorkspace(t *testing.T) {
	req := fixture(t)
	p := New(testLogger())

	report, err := p.Provision(req)
	require.NoError(t, err)

	// config artifacts land in place, .claude subset under .claude/
	assert.Equal(t, "guidelines v2", readFile(t, filepath.Join(req.WorkingDir, "coding-guidelines.md")))
	assert.Equal(t, `{"permissions": {}}`, readFile(t, filepath.Join(req.WorkingDir, ".claude", "settings.json")))
	assert.Equal(t, `{"servers": {}}`, readFile(t, filepath.Join(req.WorkingDir, ".claude", "mcp.json")))

	// no prior memory: template is installed even under Preserve
	assert.Equal(t, "memory template", readFile(t, filepath.Join(req.WorkingDir, "CLAUDE.md")))
	assert.False(t, report.MemoryPreserved)

	// memory mirrored to the repo root
	assert.Equal(t, "memory template", readFile(t, filepath.Join(req.RepoRoot, "CLAUDE.md")))

	// task documents in place
	assert.Equal(t, "the task", readFile(t, filepath.Join(req.WorkingDir, "task", "task.md")))
	assert.Equal(t, "arch", readFile(t, filepath.Join(req.WorkingDir, "task", "architecture.md")))

	// docs clone purged
	_, statErr := os.Stat(req.DocsRepoPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.True(t, report.DocsPurged)
}

func TestProvision_MemoryPreserveLaw(t *testing.T) {
	req := fixture(t)
	existing := filepath.Join(req.WorkingDir, "CLAUDE.md")
	require.NoError(t, os.WriteFile(existing, []byte("accumulated notes"), 0644))

	report, err := New(testLogger()).Provision(req)
	require.NoError(t, err)

	assert.Equal(t, "accumulated notes", readFile(t, existing), "preserve must keep content verbatim")
	assert.True(t, report.MemoryPreserved)

	// the mirror reflects the preserved content, not the template
	assert.Equal(t, "accumulated notes", readFile(t, filepath.Join(req.RepoRoot, "CLAUDE.md")))
}

func TestProvision_MemoryOverwriteLaw(t *testing.T) {
	req := fixture(t)
	req.MemoryPolicy = MemoryOverwrite
	existing := filepath.Join(req.WorkingDir, "CLAUDE.md")
	require.NoError(t, os.WriteFile(existing, []byte("accumulated notes"), 0644))

	report, err := New(testLogger()).Provision(req)
	require.NoError(t, err)

	assert.Equal(t, "memory template", readFile(t, existing), "overwrite must install the template")
	assert.False(t, report.MemoryPreserved)
}

func TestProvision_NonMemoryArtifactsAlwaysOverwritten(t *testing.T) {
	req := fixture(t)
	stale := filepath.Join(req.WorkingDir, "coding-guidelines.md")
	require.NoError(t, os.WriteFile(stale, []byte("guidelines v1"), 0644))

	_, err := New(testLogger()).Provision(req)
	require.NoError(t, err)

	assert.Equal(t, "guidelines v2", readFile(t, stale))
}

func TestProvision_TaskDirRebuiltEachRun(t *testing.T) {
	req := fixture(t)
	staleDir := filepath.Join(req.WorkingDir, "task")
	require.NoError(t, os.MkdirAll(staleDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(staleDir, "task.md"), []byte("task 41 leftovers"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(staleDir, "notes-from-task-41.md"), []byte("stale"), 0644))

	_, err := New(testLogger()).Provision(req)
	require.NoError(t, err)

	assert.Equal(t, "the task", readFile(t, filepath.Join(staleDir, "task.md")))
	_, statErr := os.Stat(filepath.Join(staleDir, "notes-from-task-41.md"))
	assert.True(t, os.IsNotExist(statErr), "stale task content must not linger")
}

func TestProvision_MissingOptionalDocIsSkipped(t *testing.T) {
	req := fixture(t)
	require.NoError(t, os.Remove(filepath.Join(req.DocsRepoPath, "widgets", ".taskmaster", "docs", "task-42", "acceptance-criteria.md")))

	report, err := New(testLogger()).Provision(req)
	require.NoError(t, err)

	assert.Contains(t, report.Skipped, "task/acceptance-criteria.md")
	assert.Equal(t, "the task", readFile(t, filepath.Join(req.WorkingDir, "task", "task.md")))
}

func TestProvision_MissingArchitectureDocIsFatal(t *testing.T) {
	req := fixture(t)
	require.NoError(t, os.Remove(filepath.Join(req.DocsRepoPath, "widgets", "architecture.md")))

	_, err := New(testLogger()).Provision(req)
	require.Error(t, err)

	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.True(t, provErr.Fatal)
	assert.Equal(t, "architecture.md", provErr.Artifact)
}

func TestProvision_DocsProjectDirCannotEscapeClone(t *testing.T) {
	req := fixture(t)

	escapes := map[string]string{
		"traversal": "../outside",
		"absolute":  req.DocsRepoPath,
	}
	for name, dir := range escapes {
		t.Run(name, func(t *testing.T) {
			r := req
			r.DocsProjectDir = dir

			_, err := New(testLogger()).Provision(r)
			require.Error(t, err)

			var provErr *ProvisionError
			require.ErrorAs(t, err, &provErr)
			assert.True(t, provErr.Fatal)
		})
	}
}

func TestProvision_Idempotent(t *testing.T) {
	req := fixture(t)
	p := New(testLogger())

	_, err := p.Provision(req)
	require.NoError(t, err)

	// Second run: docs repo is gone (purged); rebuild it the way a retried
	// pod would see it after EnsurePresent.
	taskDocs := filepath.Join(req.DocsRepoPath, "widgets", ".taskmaster", "docs", "task-42")
	require.NoError(t, os.MkdirAll(taskDocs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(taskDocs, "task.md"), []byte("the task"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(req.DocsRepoPath, "widgets", "architecture.md"), []byte("arch"), 0644))

	report, err := p.Provision(req)
	require.NoError(t, err)
	assert.True(t, report.MemoryPreserved, "memory written by the first run survives the second")
}
