package githubauth

import (
	"fmt"
	"os"

	"github.com/opsforge/agentprep/internal/secret"
)

// SetupSSHKeyData stores in-memory key material in a scoped secret file and
// points git at it. The caller owns the returned file and must Close it once
// no further git operations will run.
func SetupSSHKeyData(data []byte) (*secret.File, error) {
	f, err := secret.WriteFile("deploy-key-*", data)
	if err != nil {
		return nil, err
	}
	if err := SetupSSH(f.Path()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// SetupSSH points git at a mounted deploy key via GIT_SSH_COMMAND. Host key
// checking is disabled: pods are ephemeral and carry no known_hosts.
func SetupSSH(keyPath string) error {
	if _, err := os.Stat(keyPath); err != nil {
		return fmt.Errorf("can't access SSH key: %w", err)
	}

	cmd := fmt.Sprintf("ssh -i %s -o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no", keyPath)
	if err := os.Setenv("GIT_SSH_COMMAND", cmd); err != nil {
		return fmt.Errorf("can't set GIT_SSH_COMMAND: %w", err)
	}

	return nil
}
