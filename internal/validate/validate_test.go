package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AllPresent(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.md"), []byte("a"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".git"), 0755))

	err := Validate([]RequiredPath{
		{Path: filepath.Join(tmpDir, "a.md"), Kind: KindFile},
		{Path: filepath.Join(tmpDir, ".git"), Kind: KindDir},
	})
	assert.NoError(t, err)
}

func TestValidate_ReportsEveryMiss(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.md"), []byte("a"), 0644))

	err := Validate([]RequiredPath{
		{Path: filepath.Join(tmpDir, "a.md"), Kind: KindFile},
		{Path: filepath.Join(tmpDir, "b.md"), Kind: KindFile},
		{Path: filepath.Join(tmpDir, "c"), Kind: KindDir},
	})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Len(t, valErr.Missing, 2, "both misses reported, not just the first")
	assert.Equal(t, filepath.Join(tmpDir, "b.md"), valErr.Missing[0].Path)
	assert.Equal(t, filepath.Join(tmpDir, "c"), valErr.Missing[1].Path)
}

func TestValidate_KindMismatchIsMissing(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "task"), 0755))

	err := Validate([]RequiredPath{
		{Path: filepath.Join(tmpDir, "task"), Kind: KindFile},
	})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Len(t, valErr.Missing, 1)
}

func TestBootstrapSet_CoversAgentContract(t *testing.T) {
	set := BootstrapSet("/ws/repo", "/ws/repo/svc")

	paths := make([]string, len(set))
	for i, r := range set {
		paths[i] = r.Path
	}

	assert.Contains(t, paths, "/ws/repo/.git")
	assert.Contains(t, paths, "/ws/repo/svc/CLAUDE.md")
	assert.Contains(t, paths, "/ws/repo/svc/task/architecture.md")
	assert.Contains(t, paths, "/ws/repo/svc/.claude/settings.json")
}

func TestValidate_ErrorMessageItemizes(t *testing.T) {
	err := Validate([]RequiredPath{
		{Path: "/nope/a", Kind: KindFile},
		{Path: "/nope/b", Kind: KindDir},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nope/a")
	assert.Contains(t, err.Error(), "/nope/b")
	assert.Contains(t, err.Error(), "2 path(s) missing")
}
