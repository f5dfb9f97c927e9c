package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestRealCommandRunner_Success(t *testing.T) {
	skipWithoutShell(t)
	td := t.TempDir()
	var out bytes.Buffer
	code, err := (&RealCommandRunner{}).Run(context.Background(), td, []string{"/bin/sh", "-c", "pwd; echo $EXTBUILD_TEST"}, []string{"EXTBUILD_TEST=yes"}, &out, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	resolved, _ := filepath.EvalSymlinks(td)
	got := out.String()
	if !strings.Contains(got, "yes") {
		t.Fatalf("env not passed: %q", got)
	}
	if !strings.Contains(got, td) && !strings.Contains(got, resolved) {
		t.Fatalf("dir not applied: %q", got)
	}
}

func TestRealCommandRunner_ExitCode(t *testing.T) {
	skipWithoutShell(t)
	var out bytes.Buffer
	code, err := (&RealCommandRunner{}).Run(context.Background(), "", []string{"/bin/sh", "-c", "echo bad >&2; exit 3"}, nil, &out, &out)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
	if !strings.Contains(out.String(), "bad") {
		t.Fatalf("stderr not captured: %q", out.String())
	}
}

func TestRealCommandRunner_MissingExecutable(t *testing.T) {
	_, err := (&RealCommandRunner{}).Run(context.Background(), "", []string{filepath.Join(t.TempDir(), "does-not-exist")}, nil, os.Stdout, os.Stderr)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
}

func TestRealCommandRunner_Empty(t *testing.T) {
	if _, err := (&RealCommandRunner{}).Run(context.Background(), "", nil, nil, nil, nil); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
}

func TestRealCommandRunner_Cancelled(t *testing.T) {
	skipWithoutShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&RealCommandRunner{}).Run(ctx, "", []string{"/bin/sh", "-c", "sleep 5"}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe([]string{"tsc"}); got != "tsc" {
		t.Fatalf("unexpected %q", got)
	}
	long := []string{"tslint", "a", "b", "c", "d", "e", "f", "g"}
	if got := Describe(long); got != "tslint a b c d e ... (+2 args)" {
		t.Fatalf("unexpected %q", got)
	}
}
