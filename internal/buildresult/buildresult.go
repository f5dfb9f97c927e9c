// Package buildresult is the BitBucketBuildResult task: it resolves the target
// repository input and reports the outcome to the CI host.
package buildresult

import (
	"context"
	"fmt"

	"github.com/throw-if-null/bitbucket-tasks/internal/hostsdk"
	"github.com/throw-if-null/bitbucket-tasks/internal/inputs"
	"github.com/throw-if-null/bitbucket-tasks/internal/manifest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TaskName is the task's name in task.json.
	TaskName = "BitBucketBuildResult"

	successFormat = "Successfully updated Build Status for to repository %s"
	// FailureMessage is reported to the host whenever the task fails.
	FailureMessage = "Error publishing build result"
)

// SuccessMessage returns the status message reported for repo.
func SuccessMessage(repo string) string {
	return fmt.Sprintf(successFormat, repo)
}

// ValuesResolver yields the task inputs.
type ValuesResolver interface {
	Values() (inputs.Values, error)
}

// Run executes the task once and reports exactly one terminal result to host.
// The underlying cause of a failure goes to host.Error; the result message
// itself is always FailureMessage.
func Run(ctx context.Context, host hostsdk.Host, r ValuesResolver) hostsdk.Result {
	tr := otel.Tracer("bitbucket-build-result")
	_, span := tr.Start(ctx, "task.run", trace.WithAttributes(attribute.String("task.name", TaskName)))
	defer span.End()

	span.AddEvent("task.started")
	values, err := r.Values()
	if err != nil {
		return fail(span, host, err)
	}
	span.SetAttributes(attribute.String("bitbucket.repository", values.BitbucketRepository))

	host.SetResult(hostsdk.Succeeded, SuccessMessage(values.BitbucketRepository))
	span.AddEvent("task.succeeded")
	span.SetStatus(codes.Ok, "")
	return hostsdk.Succeeded
}

// RunManifest loads task.json from manifestPath and runs the task against it.
// A manifest that cannot be loaded fails the task like any other error.
func RunManifest(ctx context.Context, host hostsdk.Host, manifestPath string) hostsdk.Result {
	task, err := manifest.LoadTask(manifestPath)
	if err != nil {
		_, span := otel.Tracer("bitbucket-build-result").Start(ctx, "task.run", trace.WithAttributes(attribute.String("task.name", TaskName)))
		defer span.End()
		return fail(span, host, err)
	}
	return Run(ctx, host, inputs.NewResolver(task, host))
}

func fail(span trace.Span, host hostsdk.Host, err error) hostsdk.Result {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("task.failed")

	host.Error(err.Error())
	host.SetResult(hostsdk.Failed, FailureMessage)
	return hostsdk.Failed
}
