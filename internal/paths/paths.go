package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidSegment returned when a single path segment (e.g. a binary version) is unsafe
var ErrInvalidSegment = errors.New("invalid path segment")

// StateDir is the per-project directory holding build tool state.
const StateDir = ".extbuild"

// NuGetDir is the directory under a task's binaries path that holds versioned downloads.
const NuGetDir = "NuGet"

// validateSegment accepts any label usable as exactly one directory level.
func validateSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is not a directory name", s)
	case strings.ContainsAny(s, `/\`):
		return errors.New("contains a path separator")
	}
	return nil
}

// ConfigFile returns the build tool config path for a project root.
func ConfigFile(root string) string {
	return filepath.Join(root, StateDir, "config.toml")
}

// BinaryPath returns the download destination for one versioned binary of a task:
// <taskDir>/<binariesDir>/NuGet/<version>/<fileName>. The version is an opaque
// label; the result never escapes taskDir.
func BinaryPath(taskDir, binariesDir, version, fileName string) (string, error) {
	if err := validateSegment(version); err != nil {
		return "", fmt.Errorf("binary version %q: %v: %w", version, err, ErrInvalidSegment)
	}
	if err := validateSegment(fileName); err != nil {
		return "", fmt.Errorf("binary file name %q: %v: %w", fileName, err, ErrInvalidSegment)
	}
	return SafeJoin(taskDir, filepath.Join(binariesDir, NuGetDir, version, fileName))
}

// SafeJoin joins root with rel and ensures the resulting path is inside root.
// Returns an error if the result would escape root or if rel is absolute.
func SafeJoin(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("empty root")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("relative path expected, got absolute: %s", rel)
	}
	cleaned := filepath.Clean(filepath.Join(root, rel))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absCleaned, err := filepath.Abs(cleaned)
	if err != nil {
		return "", err
	}
	relToRoot, err := filepath.Rel(absRoot, absCleaned)
	if err != nil {
		return "", err
	}
	if relToRoot == ".." || strings.HasPrefix(filepath.ToSlash(relToRoot), "../") {
		return "", fmt.Errorf("path escapes %s: %s", root, rel)
	}
	return absCleaned, nil
}
