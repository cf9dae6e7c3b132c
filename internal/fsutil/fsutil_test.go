package fsutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite_CreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.txt")

	err := AtomicWrite(path, []byte("hello"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAtomicWrite_OverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.txt")

	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAtomicWrite_NoTempFileLeftBehind(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.txt")

	require.NoError(t, AtomicWrite(path, []byte("data")))

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.txt", entries[0].Name())
}

func TestAtomicWriteJSON_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")

	in := map[string]int{"a": 1, "b": 2}
	require.NoError(t, AtomicWriteJSON(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestAtomicWriteJSON_NilValue(t *testing.T) {
	tmpDir := t.TempDir()
	err := AtomicWriteJSON(filepath.Join(tmpDir, "state.json"), nil)
	assert.Error(t, err)
}

func TestCopyFile_PreservesContentAndMode(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.sh")
	dst := filepath.Join(tmpDir, "nested", "dst.sh")

	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0755))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestCopyFile_OverwritesDestination(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.txt")
	dst := filepath.Join(tmpDir, "dst.txt")

	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestCopyFile_DirectorySource(t *testing.T) {
	tmpDir := t.TempDir()
	err := CopyFile(tmpDir, filepath.Join(tmpDir, "dst"))
	assert.Error(t, err)
}

func TestResolveWorkspacePath_Valid(t *testing.T) {
	tmpDir := t.TempDir()

	resolved, err := ResolveWorkspacePath(tmpDir, "sub/file.txt")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
}

func TestResolveWorkspacePath_RejectsTraversal(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := ResolveWorkspacePath(tmpDir, "../escape.txt")
	assert.Error(t, err)
}

func TestResolveWorkspacePath_RejectsAbsolute(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := ResolveWorkspacePath(tmpDir, "/etc/passwd")
	assert.Error(t, err)
}

func TestReadFileLimited_TruncatesAtLimit(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	data, err := ReadFileLimited(path, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}
