package buildresult

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/throw-if-null/bitbucket-tasks/internal/hostsdk"
	"github.com/throw-if-null/bitbucket-tasks/internal/inputs"
	"github.com/throw-if-null/bitbucket-tasks/internal/manifest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingHost struct {
	env     map[string]string
	results []hostsdk.Result
	message string
	errors  []string
}

func (h *recordingHost) GetInput(name string, required bool) (string, error) {
	return hostsdk.NewAgentWithEnv(nil, h.env).GetInput(name, required)
}

func (h *recordingHost) SetResult(r hostsdk.Result, msg string) {
	h.results = append(h.results, r)
	h.message = msg
}

func (h *recordingHost) Error(msg string) { h.errors = append(h.errors, msg) }

func installExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func taskWith(ins ...manifest.Input) *manifest.Task {
	return &manifest.Task{ID: "3f9c2a71-8d4e-4b6a-9e15-c07d2b8f4a61", Name: TaskName, Inputs: ins}
}

func TestRun_Succeeded(t *testing.T) {
	exp := installExporter(t)
	h := &recordingHost{env: map[string]string{"INPUT_BITBUCKETREPOSITORY": "org/repo"}}
	r := inputs.NewResolver(taskWith(manifest.Input{Name: "bitbucketRepository", Required: true}), h)

	res := Run(context.Background(), h, r)
	if res != hostsdk.Succeeded {
		t.Fatalf("expected Succeeded, got %s", res)
	}
	if len(h.results) != 1 || h.results[0] != hostsdk.Succeeded {
		t.Fatalf("expected exactly one Succeeded result, got %v", h.results)
	}
	if h.message != "Successfully updated Build Status for to repository org/repo" {
		t.Fatalf("unexpected message %q", h.message)
	}
	if len(h.errors) != 0 {
		t.Fatalf("unexpected errors %v", h.errors)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "task.run" {
		t.Fatalf("expected one task.run span, got %d", len(spans))
	}
	found := false
	for _, kv := range spans[0].Attributes {
		if kv.Key == attribute.Key("bitbucket.repository") && kv.Value.AsString() == "org/repo" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bitbucket.repository attribute")
	}
}

func TestRun_FailedWithoutDeclaration(t *testing.T) {
	exp := installExporter(t)
	h := &recordingHost{env: map[string]string{"INPUT_BITBUCKETREPOSITORY": "org/repo"}}
	r := inputs.NewResolver(taskWith(manifest.Input{Name: "somethingElse"}), h)

	res := Run(context.Background(), h, r)
	if res != hostsdk.Failed {
		t.Fatalf("expected Failed, got %s", res)
	}
	if len(h.results) != 1 || h.message != "Error publishing build result" {
		t.Fatalf("unexpected result %v %q", h.results, h.message)
	}
	if len(h.errors) != 1 || !strings.Contains(h.errors[0], "exactly 1 input") {
		t.Fatalf("expected cause to be logged, got %v", h.errors)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected one errored span")
	}
}

func TestRun_FailedWhenRequiredInputMissing(t *testing.T) {
	installExporter(t)
	h := &recordingHost{}
	r := inputs.NewResolver(taskWith(manifest.Input{Name: "bitbucketRepository", Required: true}), h)

	if res := Run(context.Background(), h, r); res != hostsdk.Failed {
		t.Fatalf("expected Failed, got %s", res)
	}
	if h.message != FailureMessage {
		t.Fatalf("unexpected message %q", h.message)
	}
}

func TestRunManifest(t *testing.T) {
	installExporter(t)
	d := t.TempDir()
	p := filepath.Join(d, manifest.TaskFile)
	content := `{"id": "3f9c2a71-8d4e-4b6a-9e15-c07d2b8f4a61", "name": "BitBucketBuildResult", "inputs": [{"name": "bitbucketRepository", "required": true}]}`
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	h := &recordingHost{env: map[string]string{"INPUT_BITBUCKETREPOSITORY": "org/repo"}}
	if res := RunManifest(context.Background(), h, p); res != hostsdk.Succeeded {
		t.Fatalf("expected Succeeded, got %s (%v)", res, h.errors)
	}
}

func TestRunManifest_Missing(t *testing.T) {
	installExporter(t)
	h := &recordingHost{}
	res := RunManifest(context.Background(), h, filepath.Join(t.TempDir(), manifest.TaskFile))
	if res != hostsdk.Failed || h.message != FailureMessage {
		t.Fatalf("expected failure, got %s %q", res, h.message)
	}
	if len(h.errors) != 1 {
		t.Fatalf("expected the load error to be logged")
	}
}
