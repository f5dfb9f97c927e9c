// Package inputs resolves task inputs declared in task.json against the host.
package inputs

import (
	"errors"
	"fmt"

	"github.com/throw-if-null/bitbucket-tasks/internal/hostsdk"
	"github.com/throw-if-null/bitbucket-tasks/internal/manifest"
)

// ErrInputDeclaration means task.json does not declare an input exactly once.
// It is an authoring bug in the manifest, not a runtime condition.
var ErrInputDeclaration = errors.New("input declaration")

// BitbucketRepository is the input naming the repository to report to.
const BitbucketRepository = "bitbucketRepository"

// Values are the inputs the build result task needs.
type Values struct {
	BitbucketRepository string
}

// Resolver reads the inputs a task.json declares from the host.
type Resolver struct {
	task *manifest.Task
	host hostsdk.Host
}

// NewResolver returns a Resolver for task backed by host.
func NewResolver(task *manifest.Task, host hostsdk.Host) *Resolver {
	return &Resolver{task: task, host: host}
}

// GetInput returns the host value of a declared input, passing the declared
// required flag through to the host.
func (r *Resolver) GetInput(name string) (string, error) {
	decls := r.task.InputsNamed(name)
	if len(decls) != 1 {
		return "", fmt.Errorf("%w: There should be exactly 1 input with name '%s' in task.json, found %d", ErrInputDeclaration, name, len(decls))
	}
	return r.host.GetInput(name, decls[0].Required)
}

// Values resolves every input of the task.
func (r *Resolver) Values() (Values, error) {
	repo, err := r.GetInput(BitbucketRepository)
	if err != nil {
		return Values{}, err
	}
	return Values{BitbucketRepository: repo}, nil
}
