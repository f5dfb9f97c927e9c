package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrCommandFailed wraps every non-zero exit of an external command.
var ErrCommandFailed = errors.New("command failed")

// CommandRunner abstracts running external commands so tests can inject fakes.
type CommandRunner interface {
	// Run executes argv in dir with env appended to the current environment,
	// streaming output to stdout and stderr. A non-zero exit yields an error
	// wrapping ErrCommandFailed together with the exit code.
	Run(ctx context.Context, dir string, argv []string, env []string, stdout, stderr io.Writer) (exitCode int, err error)
}

// RealCommandRunner runs commands using os/exec.
type RealCommandRunner struct{}

func (r *RealCommandRunner) Run(ctx context.Context, dir string, argv []string, env []string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("%w: empty command", ErrCommandFailed)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return code, fmt.Errorf("%w: %s exited with %d", ErrCommandFailed, Describe(argv), code)
	}
	// could be context cancellation or a missing executable
	return -1, fmt.Errorf("%w: %s: %v", ErrCommandFailed, Describe(argv), err)
}

// Describe renders argv for log and error messages, abbreviating long file lists.
func Describe(argv []string) string {
	const maxArgs = 6
	if len(argv) <= maxArgs {
		return strings.Join(argv, " ")
	}
	return fmt.Sprintf("%s ... (+%d args)", strings.Join(argv[:maxArgs], " "), len(argv)-maxArgs)
}
