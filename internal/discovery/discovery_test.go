package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/throw-if-null/bitbucket-tasks/internal/manifest"
)

func mkTask(t *testing.T, root, name, config string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if config != "" {
		if err := os.WriteFile(filepath.Join(dir, manifest.ConfigFile), []byte(config), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	mkTask(t, root, "Alpha", `{"paths": {}}`)
	betaDir := mkTask(t, root, "Beta", `{"binaries": {"1.0": "http://x/nuget.exe"}, "paths": {"binaries": "bin"}}`)
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("not a task"), 0o644); err != nil {
		t.Fatal(err)
	}

	tasks, err := Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	byName := map[string]Task{}
	for _, tk := range tasks {
		byName[tk.Name] = tk
	}
	beta, ok := byName["Beta"]
	if !ok {
		t.Fatalf("Beta not discovered")
	}
	if beta.Dir != betaDir {
		t.Fatalf("unexpected dir %s", beta.Dir)
	}
	dir, ok, err := beta.BinariesDir()
	if err != nil || !ok || dir != filepath.Join(betaDir, "bin") {
		t.Fatalf("unexpected binaries dir %q %v %v", dir, ok, err)
	}
	if _, ok, _ := byName["Alpha"].BinariesDir(); ok {
		t.Fatalf("Alpha declares no binaries dir")
	}

	with := WithBinaries(tasks)
	if len(with) != 1 || with[0].Name != "Beta" {
		t.Fatalf("unexpected WithBinaries result %+v", with)
	}
}

func TestDiscover_AnyDirectoryName(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"My Task", "Build+Publish", "ünïcode"} {
		mkTask(t, root, name, `{"paths": {}}`)
	}
	tasks, err := Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	found := false
	for _, tk := range tasks {
		if tk.Name == "My Task" && tk.Dir == filepath.Join(root, "My Task") {
			found = true
		}
	}
	if !found {
		t.Fatalf("task with a space in its name not discovered: %+v", tasks)
	}
}

func TestDiscover_MissingConfigFailsAll(t *testing.T) {
	root := t.TempDir()
	mkTask(t, root, "Good", `{"paths": {}}`)
	mkTask(t, root, "Broken", "")

	tasks, err := Discover(context.Background(), root)
	if err == nil {
		t.Fatalf("expected error, got %d tasks", len(tasks))
	}
	if !errors.Is(err, manifest.ErrInvalid) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected manifest not-exist error, got %v", err)
	}
	if tasks != nil {
		t.Fatalf("no partial result expected")
	}
}

func TestDiscover_ReportsEveryFailure(t *testing.T) {
	root := t.TempDir()
	mkTask(t, root, "One", `{`)
	mkTask(t, root, "Two", `{"paths": {"binaries": "../../escape"}}`)

	_, err := Discover(context.Background(), root)
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, filepath.Join("One", manifest.ConfigFile)) || !strings.Contains(msg, filepath.Join("Two", manifest.ConfigFile)) {
		t.Fatalf("expected both failures reported, got %v", err)
	}
	var me *manifest.Error
	if !errors.As(err, &me) {
		t.Fatalf("expected structured manifest error")
	}
}

func TestDiscover_MissingRoot(t *testing.T) {
	if _, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestDiscover_Empty(t *testing.T) {
	tasks, err := Discover(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks")
	}
}
