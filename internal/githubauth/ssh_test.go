package githubauth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupSSH_MissingKey(t *testing.T) {
	err := SetupSSH(filepath.Join(t.TempDir(), "no-such-key"))
	assert.Error(t, err)
}

func TestSetupSSH_SetsGitSSHCommand(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, []byte("key"), 0600))

	require.NoError(t, SetupSSH(keyPath))

	cmd := os.Getenv("GIT_SSH_COMMAND")
	assert.Contains(t, cmd, keyPath)
	assert.Contains(t, cmd, "StrictHostKeyChecking=no")
}

func TestSetupSSHKeyData_ScopedFile(t *testing.T) {
	f, err := SetupSSHKeyData([]byte("keydata"))
	require.NoError(t, err)

	info, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Contains(t, os.Getenv("GIT_SSH_COMMAND"), f.Path())

	path := f.Path()
	require.NoError(t, f.Close())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
