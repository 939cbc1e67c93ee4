// Package testutil provides shared fixtures for bookstock tests: sandboxed
// directories, config resets, an in-memory repository and fake sources.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestEnv is a per-test scratch directory for database, cache and CSV
// fixtures. Paths handed out by it never leave the directory.
type TestEnv struct {
	t       *testing.T
	rootDir string
}

// NewTestEnv creates a TestEnv rooted at t.TempDir().
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return &TestEnv{t: t, rootDir: t.TempDir()}
}

// RootDir returns the scratch directory.
func (e *TestEnv) RootDir() string {
	return e.rootDir
}

// Path joins elem under the scratch directory and fails the test if the
// result escapes it.
func (e *TestEnv) Path(elem ...string) string {
	e.t.Helper()

	p := filepath.Clean(filepath.Join(e.rootDir, filepath.Join(elem...)))
	root := filepath.Clean(e.rootDir)
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		e.t.Fatalf("path %q escapes test directory %q", p, e.rootDir)
	}
	return p
}

// WriteFile writes a fixture file, creating parent directories.
func (e *TestEnv) WriteFile(name string, content []byte) {
	e.t.Helper()

	p := e.Path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		e.t.Fatalf("failed to create directory for %q: %v", p, err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		e.t.Fatalf("failed to write fixture %q: %v", p, err)
	}
}

// MkdirAll creates a directory tree under the scratch directory.
func (e *TestEnv) MkdirAll(name string) {
	e.t.Helper()

	p := e.Path(name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		e.t.Fatalf("failed to create directory %q: %v", p, err)
	}
}
