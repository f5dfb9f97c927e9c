// Package discovery finds the independently packaged tasks under a tasks root.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/throw-if-null/bitbucket-tasks/internal/manifest"
	"github.com/throw-if-null/bitbucket-tasks/internal/paths"
)

// Task describes one task directory and its config.json.
type Task struct {
	Name   string
	Dir    string
	Config manifest.ProjectConfig
}

// BinariesDir returns the absolute binaries directory of the task, or false
// when config.json declares none.
func (t Task) BinariesDir() (string, bool, error) {
	if t.Config.Paths.Binaries == "" {
		return "", false, nil
	}
	p, err := paths.SafeJoin(t.Dir, t.Config.Paths.Binaries)
	if err != nil {
		return "", false, err
	}
	return p, true, nil
}

// Discover loads every immediate subdirectory of root as a task, whatever its
// name. Entries that are not directories are ignored. Manifests are loaded
// concurrently; a single missing or invalid config.json fails the whole
// discovery, and every failure found is reported.
func Discover(ctx context.Context, root string) ([]Task, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read tasks root: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if fi.IsDir() {
			dirs = append(dirs, p)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tasks := make([]Task, len(dirs))
	errs := make([]error, len(dirs))
	var wg sync.WaitGroup
	for i, dir := range dirs {
		wg.Add(1)
		go func(i int, dir string) {
			defer wg.Done()
			tasks[i], errs[i] = load(dir)
		}(i, dir)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return tasks, nil
}

func load(dir string) (Task, error) {
	name := filepath.Base(dir)
	cfg, err := manifest.LoadConfig(filepath.Join(dir, manifest.ConfigFile))
	if err != nil {
		return Task{}, err
	}
	t := Task{Name: name, Dir: dir, Config: *cfg}
	if _, _, err := t.BinariesDir(); err != nil {
		return Task{}, &manifest.Error{Path: filepath.Join(dir, manifest.ConfigFile), Reason: "paths.binaries", Err: err}
	}
	return t, nil
}

// WithBinaries returns the tasks that declare downloadable binaries.
func WithBinaries(tasks []Task) []Task {
	var out []Task
	for _, t := range tasks {
		if t.Config.HasBinaries() {
			out = append(out, t)
		}
	}
	return out
}
