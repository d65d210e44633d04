// Package security guards the directories a run writes into.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that path, after resolving symlinks,
// stays inside dir. A path that does not exist yet is resolved through its
// nearest existing ancestor, so a new file below a symlinked directory is
// judged by where the symlink points.
func ValidatePathWithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}
	canonicalPath := resolveExisting(absPath)

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of
// abs and re-appends the rest.
func resolveExisting(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for p := abs; ; {
		parent := filepath.Dir(p)
		if parent == p {
			return abs
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rest)
		}
		p = parent
	}
}

// CheckOutputDirs rejects any of dirs that resolves outside root. The run
// replaces files in these directories, so a symlink pointing elsewhere
// would overwrite data outside the run.
func CheckOutputDirs(root string, dirs ...string) error {
	for _, d := range dirs {
		if err := ValidatePathWithinDirectory(d, root); err != nil {
			return fmt.Errorf("refusing to write outputs: %w", err)
		}
	}
	return nil
}
