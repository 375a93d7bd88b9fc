// Package workspace confines file system access to a working root.
// It prevents path traversal and symlink escapes for the file store driver.
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Guard resolves caller-supplied paths against a working root and rejects
// anything that lands outside of it.
type Guard struct {
	root string // absolute, symlink-resolved working root
}

// NewGuard creates a guard for the given directory, which must exist.
func NewGuard(root string) (*Guard, error) {
	if root == "" {
		return nil, fmt.Errorf("working directory cannot be empty")
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate working directory symlinks: %w", err)
	}

	return &Guard{root: evalPath}, nil
}

// Root returns the absolute path of the working root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve joins a relative path onto the root, cleans it, follows symlinks of
// the existing prefix and returns the absolute result. Paths that end up
// outside the root are rejected.
func (g *Guard) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		absPath = filepath.Join(g.root, cleanPath)
	}

	resolved := resolveSymlinks(absPath)
	if !g.Contains(resolved) {
		return "", fmt.Errorf("path '%s' is outside the working directory", path)
	}
	return resolved, nil
}

// Contains reports whether an absolute path is the root or lies below it.
func (g *Guard) Contains(absPath string) bool {
	evalPath := resolveSymlinks(absPath)
	return evalPath == g.root ||
		strings.HasPrefix(evalPath+string(filepath.Separator), g.root+string(filepath.Separator))
}

// Rel converts an absolute path below the root into a root-relative one.
func (g *Guard) Rel(absPath string) (string, error) {
	if !g.Contains(absPath) {
		return "", fmt.Errorf("path '%s' is not within the working directory", absPath)
	}
	rel, err := filepath.Rel(g.root, resolveSymlinks(absPath))
	if err != nil {
		return "", fmt.Errorf("failed to make path relative: %w", err)
	}
	return rel, nil
}

// resolveSymlinks evaluates symlinks in path. For paths that do not exist
// yet it resolves the deepest existing ancestor and re-appends the rest, so
// a file about to be written is compared the same way as an existing one.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var missing []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved
		}

		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(path)
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
