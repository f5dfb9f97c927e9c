// Package packager produces the extension bundle by driving the tfx CLI.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/throw-if-null/bitbucket-tasks/internal/runner"
)

// MergeSettings controls how the extension manifests are merged.
type MergeSettings struct {
	Root             string
	Manifests        []string
	ManifestGlobs    []string
	BypassValidation bool
	// RevVersion bumps the revision number of the extension version.
	RevVersion bool
	LocRoot    string
}

// PackageSettings controls where the bundle is written.
type PackageSettings struct {
	OutputPath string
	LocRoot    string
}

// Packager creates the extension artifact.
type Packager interface {
	CreateExtension(ctx context.Context, merge MergeSettings, pkg PackageSettings) error
}

// Tfx invokes `tfx extension create`.
type Tfx struct {
	Command []string
	Runner  runner.CommandRunner
	Stdout  io.Writer
	Stderr  io.Writer
}

func (t *Tfx) CreateExtension(ctx context.Context, merge MergeSettings, pkg PackageSettings) error {
	if len(t.Command) == 0 {
		return errors.New("packager: no command configured")
	}
	argv := Args(t.Command, merge, pkg)
	if _, err := t.Runner.Run(ctx, merge.Root, argv, nil, t.Stdout, t.Stderr); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	return nil
}

// Args appends the tfx flags for merge and pkg to base.
func Args(base []string, merge MergeSettings, pkg PackageSettings) []string {
	argv := append([]string{}, base...)
	if merge.Root != "" {
		argv = append(argv, "--root", merge.Root)
	}
	if len(merge.Manifests) > 0 {
		argv = append(argv, "--manifests")
		argv = append(argv, merge.Manifests...)
	}
	if len(merge.ManifestGlobs) > 0 {
		argv = append(argv, "--manifest-globs")
		argv = append(argv, merge.ManifestGlobs...)
	}
	if merge.BypassValidation {
		argv = append(argv, "--bypass-validation")
	}
	if merge.RevVersion {
		argv = append(argv, "--rev-version")
	}
	// tfx takes a single --loc-root for both phases
	locRoot := merge.LocRoot
	if locRoot == "" {
		locRoot = pkg.LocRoot
	}
	if locRoot != "" {
		argv = append(argv, "--loc-root", locRoot)
	}
	if pkg.OutputPath != "" {
		argv = append(argv, "--output-path", pkg.OutputPath)
	}
	return argv
}
