// Package secret manages short-lived credential files. Key material that
// must touch disk (an SSH deploy key handed over through the environment)
// does so only through a scoped File that guarantees 0600 permissions and
// removal on Close.
package secret

import (
	"fmt"
	"os"
)

// File is a temporary file holding sensitive material. Callers must Close it
// on every exit path; Close overwrites the content before unlinking.
type File struct {
	path string
	size int
}

// WriteFile stores data in a new 0600 temp file and returns the handle.
func WriteFile(pattern string, data []byte) (*File, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret file: %w", err)
	}

	if err := f.Chmod(0600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to restrict secret file permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write secret file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to close secret file: %w", err)
	}

	return &File{path: f.Name(), size: len(data)}, nil
}

// Path returns the on-disk location of the secret.
func (s *File) Path() string {
	return s.path
}

// Close zeroes the file content and removes it. Safe to call more than once.
func (s *File) Close() error {
	if s.path == "" {
		return nil
	}

	// Best-effort overwrite before unlinking
	if s.size > 0 {
		zeros := make([]byte, s.size)
		_ = os.WriteFile(s.path, zeros, 0600)
	}

	err := os.Remove(s.path)
	s.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove secret file: %w", err)
	}
	return nil
}
