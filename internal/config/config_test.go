package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, ".extbuild")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Missing(t *testing.T) {
	d, err := os.MkdirTemp("", "extbuild-config-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(d)

	res := Load(d)
	if res.Found {
		t.Fatalf("expected not found")
	}
	if res.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseError)
	}
	if res.Path != filepath.Join(d, ".extbuild", "config.toml") {
		t.Fatalf("unexpected path %s", res.Path)
	}
	def := Default()
	if res.Config.Download.BinaryName != def.Download.BinaryName {
		t.Fatalf("unexpected default binary name: %s", res.Config.Download.BinaryName)
	}
	if res.Config.Lint.FailOnError {
		t.Fatalf("lint findings must not be fatal by default")
	}
	if res.Config.Journal.Disabled {
		t.Fatalf("journal should be on by default")
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	d, err := os.MkdirTemp("", "extbuild-config-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(d)
	writeConfig(t, d, `
[build]
tasks_dir = "src/tasks"

[tools]
install = ["npm", "ci"]

task_binaries = [["go", "build", "-o", "Tasks/Other/other", "./cmd/other"]]

[download]
concurrency = 9

[lint]
fail_on_error = true

[log]
level = "debug"
`)
	res := Load(d)
	if !res.Found {
		t.Fatalf("expected found true")
	}
	if res.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseError)
	}
	c := res.Config
	if c.Build.TasksDir != "src/tasks" {
		t.Fatalf("tasks dir not applied: %s", c.Build.TasksDir)
	}
	if len(c.Tools.Install) != 2 || c.Tools.Install[0] != "npm" {
		t.Fatalf("install tool not applied: %v", c.Tools.Install)
	}
	if len(c.Tools.TaskBinaries) != 1 || c.Tools.TaskBinaries[0][3] != "Tasks/Other/other" {
		t.Fatalf("task binaries not applied: %v", c.Tools.TaskBinaries)
	}
	if c.Download.Concurrency != 9 {
		t.Fatalf("concurrency not applied: %d", c.Download.Concurrency)
	}
	if !c.Lint.FailOnError {
		t.Fatalf("fail_on_error not applied")
	}
	if c.Log.Level != "debug" {
		t.Fatalf("log level not applied: %s", c.Log.Level)
	}
	// untouched values keep their defaults
	if c.Build.ExtensionManifest != "vss-extension.json" {
		t.Fatalf("extension manifest default lost: %s", c.Build.ExtensionManifest)
	}
	if len(c.Tools.Compile) == 0 {
		t.Fatalf("compile tool default lost")
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	d, err := os.MkdirTemp("", "extbuild-config-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(d)
	writeConfig(t, d, "x = [1,\n")
	res := Load(d)
	if !res.Found {
		t.Fatalf("expected found true")
	}
	if !errors.Is(res.ParseError, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", res.ParseError)
	}
}

func TestLoad_NegativeConcurrency(t *testing.T) {
	d := t.TempDir()
	writeConfig(t, d, "[download]\nconcurrency = -1\n")
	res := Load(d)
	if !errors.Is(res.ParseError, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", res.ParseError)
	}
}

func TestLoadFile_Explicit(t *testing.T) {
	p := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(p, []byte("[journal]\ndisabled = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := LoadFile(p)
	if !res.Found || res.ParseError != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Config.Journal.Disabled {
		t.Fatalf("journal.disabled not applied")
	}
}
