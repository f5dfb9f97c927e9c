package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/throw-if-null/bitbucket-tasks/internal/hostsdk"
)

const shippedManifest = "../../Tasks/BitBucketBuildResult/task.json"

func TestRun_Succeeds(t *testing.T) {
	t.Setenv(hostsdk.InputVariable("bitbucketRepository"), "acme/widgets")
	var out, errOut bytes.Buffer
	code := run([]string{"-manifest", shippedManifest, "-env", filepath.Join(t.TempDir(), "none.env")}, &out, &errOut)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}
	want := "##vso[task.complete result=Succeeded;]Successfully updated Build Status for to repository acme/widgets"
	if !strings.Contains(out.String(), want) {
		t.Fatalf("expected %q in output, got %q", want, out.String())
	}
}

func TestRun_MissingInputFails(t *testing.T) {
	t.Setenv(hostsdk.InputVariable("bitbucketRepository"), "  ")
	var out, errOut bytes.Buffer
	code := run([]string{"-manifest", shippedManifest, "-env", filepath.Join(t.TempDir(), "none.env")}, &out, &errOut)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "##vso[task.complete result=Failed;]Error publishing build result") {
		t.Fatalf("expected failed result, got %q", out.String())
	}
	if !strings.Contains(out.String(), "##vso[task.issue type=error;]") {
		t.Fatalf("expected error issue, got %q", out.String())
	}
}

func TestRun_MissingManifestFails(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-manifest", filepath.Join(t.TempDir(), "task.json"), "-env", filepath.Join(t.TempDir(), "none.env")}, &out, &errOut)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "result=Failed") {
		t.Fatalf("expected failed result, got %q", out.String())
	}
}

func TestRun_LoadsEnvFile(t *testing.T) {
	name := hostsdk.InputVariable("bitbucketRepository")
	t.Setenv(name, "")
	if err := os.Unsetenv(name); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte(name+"=from/dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var loaded string
	oldDot := dotenvLoad
	dotenvLoad = func(files ...string) error {
		if len(files) == 1 {
			loaded = files[0]
		}
		return oldDot(files...)
	}
	defer func() { dotenvLoad = oldDot }()

	var out, errOut bytes.Buffer
	if code := run([]string{"-manifest", shippedManifest, "-env", envFile}, &out, &errOut); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}
	if loaded != envFile {
		t.Fatalf("expected %s to be loaded, got %q", envFile, loaded)
	}
	if !strings.Contains(out.String(), "repository from/dotenv") {
		t.Fatalf("expected input from env file, got %q", out.String())
	}
}
