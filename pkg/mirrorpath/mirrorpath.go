// Package mirrorpath translates paths between the watched source tree and
// the mirrored destination tree by prefix substitution. Translation is pure
// path arithmetic; it never touches the filesystem.
package mirrorpath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotContained is returned when a path does not lie under the root it is
// being remapped from. Callers must treat this as a reportable no-op for the
// affected event, never as a fatal condition.
var ErrNotContained = errors.New("path is not contained in root")

// Remap translates an absolute path under rootA into the corresponding path
// under rootB. The roots are expected to be canonicalized absolute directory
// paths. Containment is decided on path-segment boundaries, so a sibling
// directory sharing a string prefix with rootA (e.g. "/data-old" next to
// "/data") is correctly rejected.
func Remap(rootA, rootB, path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path %q is not absolute: %w", path, ErrNotContained)
	}

	rel, err := filepath.Rel(rootA, path)
	if err != nil {
		return "", fmt.Errorf("path %q has no relative form under %q: %w", path, rootA, ErrNotContained)
	}
	if escapesRoot(rel) {
		return "", fmt.Errorf("path %q escapes root %q: %w", path, rootA, ErrNotContained)
	}
	if rel == "." {
		return rootB, nil
	}
	return filepath.Join(rootB, rel), nil
}

// Contains reports whether path lies under root (or is root itself).
func Contains(root, path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return !escapesRoot(rel)
}

// Rel returns the path of p relative to root, failing with ErrNotContained
// when p does not lie under root.
func Rel(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("path %q has no relative form under %q: %w", p, root, ErrNotContained)
	}
	if escapesRoot(rel) {
		return "", fmt.Errorf("path %q escapes root %q: %w", p, root, ErrNotContained)
	}
	return rel, nil
}

// escapesRoot reports whether a filepath.Rel result points outside the root.
func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
