// Package hostsdk is the boundary to the CI agent hosting a task: reading
// inputs, reporting the task result and emitting diagnostics.
package hostsdk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// Result is the terminal status a task reports to the host.
type Result string

const (
	Succeeded Result = "Succeeded"
	Failed    Result = "Failed"
)

// ErrInputRequired is returned when a required input has no value.
var ErrInputRequired = errors.New("input required")

// Host is what a task needs from the agent.
type Host interface {
	GetInput(name string, required bool) (string, error)
	SetResult(result Result, message string)
	Error(message string)
}

// Agent implements Host on top of the agent's process contract: inputs are
// passed as INPUT_<NAME> environment variables and results are written to
// stdout as ##vso logging commands.
type Agent struct {
	mu     sync.Mutex
	out    io.Writer
	lookup func(string) (string, bool)
}

// NewAgent returns an Agent writing commands to out and reading the process environment.
func NewAgent(out io.Writer) *Agent {
	return &Agent{out: out, lookup: os.LookupEnv}
}

// NewAgentWithEnv is like NewAgent but resolves inputs from env.
func NewAgentWithEnv(out io.Writer, env map[string]string) *Agent {
	return &Agent{out: out, lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}
}

// InputVariable returns the environment variable the agent uses for an input name.
func InputVariable(name string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
}

// GetInput returns the trimmed value of an input. A required input that is
// unset or blank yields ErrInputRequired.
func (a *Agent) GetInput(name string, required bool) (string, error) {
	v, _ := a.lookup(InputVariable(name))
	v = strings.TrimSpace(v)
	if required && v == "" {
		return "", fmt.Errorf("%w: %s", ErrInputRequired, name)
	}
	return v, nil
}

// SetResult reports the task outcome. A failure is also logged as an error issue.
func (a *Agent) SetResult(result Result, message string) {
	if result == Failed {
		a.Error(message)
	}
	a.command("task.complete", map[string]string{"result": string(result)}, message)
}

// Error logs an error issue on the build timeline.
func (a *Agent) Error(message string) {
	a.command("task.issue", map[string]string{"type": "error"}, message)
}

// Debug writes a debug line, shown only when system.debug is enabled.
func (a *Agent) Debug(message string) {
	a.command("task.debug", nil, message)
}

func (a *Agent) command(name string, props map[string]string, message string) {
	var b strings.Builder
	b.WriteString("##vso[")
	b.WriteString(name)
	if len(props) > 0 {
		b.WriteByte(' ')
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(escapeProperty(props[k]))
			b.WriteByte(';')
		}
	}
	b.WriteByte(']')
	b.WriteString(escapeMessage(message))
	b.WriteByte('\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = io.WriteString(a.out, b.String())
}

var (
	messageEscaper  = strings.NewReplacer("%", "%AZP25", "\r", "%0D", "\n", "%0A")
	propertyEscaper = strings.NewReplacer("%", "%AZP25", "\r", "%0D", "\n", "%0A", "]", "%5D", ";", "%3B")
)

func escapeMessage(s string) string  { return messageEscaper.Replace(s) }
func escapeProperty(s string) string { return propertyEscaper.Replace(s) }
