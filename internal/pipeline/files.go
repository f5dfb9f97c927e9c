package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/throw-if-null/bitbucket-tasks/internal/discovery"
)

const nodeModules = "node_modules"

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// findFiles returns the files under root whose base name matches, skipping
// node_modules and dot directories. A missing root yields no files.
func findFiles(root string, match func(name string) bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if p != root && (d.Name() == nodeModules || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if match(d.Name()) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// cleanTargets lists what the clean stage removes: compiled javascript and
// source maps plus node_modules under the tasks dir, packaged extensions in
// root, every tmp directory and each task's binaries directory. Paths nested
// inside another target are dropped.
func cleanTargets(root, tasksDir string, tasks []discovery.Task) ([]string, error) {
	var targets []string

	err := filepath.WalkDir(tasksDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == tasksDir && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == nodeModules {
				targets = append(targets, p)
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".js") || strings.HasSuffix(d.Name(), ".js.map") {
			targets = append(targets, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	vsix, err := filepath.Glob(filepath.Join(root, "*.vsix"))
	if err != nil {
		return nil, err
	}
	targets = append(targets, vsix...)

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}
		switch {
		case strings.HasPrefix(d.Name(), "."), d.Name() == nodeModules:
			return filepath.SkipDir
		case d.Name() == "tmp":
			targets = append(targets, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		dir, ok, err := t.BinariesDir()
		if err != nil {
			return nil, err
		}
		if ok {
			targets = append(targets, dir)
		}
	}

	return pruneNested(targets), nil
}

func pruneNested(paths []string) []string {
	keep := make(map[string]bool, len(paths))
	for _, p := range paths {
		keep[filepath.Clean(p)] = true
	}

	var out []string
	for p := range keep {
		nested := false
		for dir := filepath.Dir(p); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			if keep[dir] {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
