// Package testutil provides on-disk fixture helpers for tests that
// exercise the client's file-reading collaborators: schema documents
// loaded by core.LoadSchema and PEM certificate/key material consumed by
// the TLS configuration loader.
package testutil

import (
	"encoding/pem"
	"io/fs"
	"os"
	"path/filepath"
)

// Sandbox provides an isolated temporary directory for fixture files.
type Sandbox struct {
	Root string
}

// NewSandbox creates a new Sandbox rooted at a temporary directory.
func NewSandbox() (*Sandbox, error) {
	dir, err := os.MkdirTemp("", "se2030_fixtures")
	if err != nil {
		return nil, err
	}
	return &Sandbox{Root: dir}, nil
}

// Path returns the absolute path for a file within the sandbox.
func (s *Sandbox) Path(name string) string {
	return filepath.Join(s.Root, name)
}

// WriteFile writes data to the named file inside the sandbox using the
// provided permissions.
func (s *Sandbox) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(s.Path(name), data, perm)
}

// WritePEM wraps der in a PEM block of the given type, writes it to the
// named file, and returns its absolute path. Tests use it to materialize
// the device certificate, key, and CA files the TLS loader reads from
// disk.
func (s *Sandbox) WritePEM(name, blockType string, der []byte) (string, error) {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := s.WriteFile(name, data, 0600); err != nil {
		return "", err
	}
	return s.Path(name), nil
}

// ReadFile reads and returns data from the named file inside the sandbox.
func (s *Sandbox) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(s.Path(name))
}

// Cleanup removes all files within the sandbox and deletes the root directory.
func (s *Sandbox) Cleanup() error {
	return os.RemoveAll(s.Root)
}
