// Package workspace manages the scoped temporary directory of one run.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// DefaultPattern names workspace directories.
const DefaultPattern = "crio-get-*"

// ErrReleased is returned by Path after Release.
var ErrReleased = errors.New("workspace released")

// Workspace is a temporary directory removed by Release.
type Workspace struct {
	mu   sync.Mutex
	path string
}

// Acquire creates a workspace below parent. An empty parent uses
// os.TempDir and an empty pattern uses DefaultPattern.
func Acquire(parent, pattern string) (*Workspace, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	return &Workspace{path: dir}, nil
}

// Path returns the workspace directory.
func (w *Workspace) Path() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.path == "" {
		return "", ErrReleased
	}
	return w.path, nil
}

// Release removes the workspace and everything in it. Calling it again is
// a no-op.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.path == "" {
		return nil
	}

	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.path, err)
	}

	w.path = ""
	return nil
}
