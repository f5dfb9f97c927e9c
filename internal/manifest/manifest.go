// Package manifest loads and validates the per-task JSON descriptors: the
// host-facing task.json and the build-facing config.json.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// TaskFile is the manifest read by the CI host.
	TaskFile = "task.json"
	// ConfigFile is the manifest read by the build tool.
	ConfigFile = "config.json"
)

// ErrInvalid is the kind of every manifest validation failure.
var ErrInvalid = errors.New("invalid manifest")

// Error reports a manifest that could not be read or did not validate.
type Error struct {
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalid}
	}
	return []error{ErrInvalid, e.Err}
}

func invalid(path, format string, args ...any) error {
	return &Error{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Input declares one host-provided task input.
type Input struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Label        string `json:"label,omitempty"`
	DefaultValue string `json:"defaultValue,omitempty"`
	Required     bool   `json:"required"`
	HelpMarkDown string `json:"helpMarkDown,omitempty"`
}

// Version is the task version triple as the host expects it.
type Version struct {
	Major int `json:"Major"`
	Minor int `json:"Minor"`
	Patch int `json:"Patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Task is the parsed task.json.
type Task struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	FriendlyName string                     `json:"friendlyName,omitempty"`
	Description  string                     `json:"description,omitempty"`
	Category     string                     `json:"category,omitempty"`
	Author       string                     `json:"author,omitempty"`
	Version      Version                    `json:"version"`
	Inputs       []Input                    `json:"inputs"`
	Execution    map[string]json.RawMessage `json:"execution,omitempty"`
}

// InputsNamed returns every declaration matching name, in manifest order.
func (t *Task) InputsNamed(name string) []Input {
	var out []Input
	for _, in := range t.Inputs {
		if in.Name == name {
			out = append(out, in)
		}
	}
	return out
}

// Paths holds task-relative directories used by the build.
type Paths struct {
	Binaries string `json:"binaries,omitempty"`
}

// ProjectConfig is the parsed config.json.
type ProjectConfig struct {
	// Binaries maps a version label to its download URL.
	Binaries map[string]string `json:"binaries,omitempty"`
	Paths    Paths             `json:"paths"`
}

// HasBinaries reports whether the task declares any downloadable binaries.
func (c ProjectConfig) HasBinaries() bool { return len(c.Binaries) > 0 }

// ValidateID checks the canonical GUID form used for task ids:
// 8-4-4-4-12 hex digits, version 1-5 and an RFC 4122 variant.
func ValidateID(id string) error {
	if len(id) != 36 {
		return fmt.Errorf("id %q is not in 8-4-4-4-12 form", id)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("id %q: %v", id, err)
	}
	if v := u.Version(); v < 1 || v > 5 {
		return fmt.Errorf("id %q has unsupported version %d", id, v)
	}
	if u.Variant() != uuid.RFC4122 {
		return fmt.Errorf("id %q has variant %s", id, u.Variant())
	}
	return nil
}

// Validate checks the fields the host and the build rely on.
func (t *Task) Validate(path string) error {
	if err := ValidateID(t.ID); err != nil {
		return &Error{Path: path, Reason: "bad id", Err: err}
	}
	if strings.TrimSpace(t.Name) == "" {
		return invalid(path, "name is required")
	}
	for i, in := range t.Inputs {
		if strings.TrimSpace(in.Name) == "" {
			return invalid(path, "inputs[%d]: name is required", i)
		}
	}
	return nil
}

// Validate checks binaries entries and that a binaries path exists when binaries are declared.
func (c *ProjectConfig) Validate(path string) error {
	if c.HasBinaries() && strings.TrimSpace(c.Paths.Binaries) == "" {
		return invalid(path, "binaries declared without paths.binaries")
	}
	if filepath.IsAbs(c.Paths.Binaries) {
		return invalid(path, "paths.binaries must be relative, got %q", c.Paths.Binaries)
	}
	for version, url := range c.Binaries {
		if strings.TrimSpace(version) == "" {
			return invalid(path, "binaries: empty version")
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return invalid(path, "binaries[%s]: url %q is not http(s)", version, url)
		}
	}
	return nil
}

// LoadTask reads and validates a task.json.
func LoadTask(path string) (*Task, error) {
	var t Task
	if err := decodeFile(path, &t); err != nil {
		return nil, err
	}
	if err := t.Validate(path); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadConfig reads and validates a config.json.
func LoadConfig(path string) (*ProjectConfig, error) {
	var c ProjectConfig
	if err := decodeFile(path, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(path); err != nil {
		return nil, err
	}
	return &c, nil
}

func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return &Error{Path: path, Reason: "read failed", Err: err}
	}
	// tolerate a leading UTF-8 BOM
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return &Error{Path: path, Reason: "malformed json", Err: err}
	}
	if dec.More() {
		return invalid(path, "trailing data after json object")
	}
	return nil
}
