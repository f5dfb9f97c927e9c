package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/throw-if-null/bitbucket-tasks/internal/paths"
)

type Config struct {
	Build     BuildConfig     `toml:"build"`
	Tools     ToolsConfig     `toml:"tools"`
	Download  DownloadConfig  `toml:"download"`
	Lint      LintConfig      `toml:"lint"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Journal   JournalConfig   `toml:"journal"`
}

type BuildConfig struct {
	TasksDir          string `toml:"tasks_dir"`
	ExtensionManifest string `toml:"extension_manifest"`
	// OutputPath is where the packaged extension is written; empty means the project root.
	OutputPath string `toml:"output_path"`
}

// ToolsConfig holds the argv of each external tool the stages invoke.
type ToolsConfig struct {
	Install []string `toml:"install"`
	Typings []string `toml:"typings"`
	Lint    []string `toml:"lint"`
	Compile []string `toml:"compile"`
	Test    []string `toml:"test"`
	Package []string `toml:"package"`

	// TaskBinaries are the commands compile runs to build natively executed
	// task entry points into their task directories. Empty argv entries are skipped.
	TaskBinaries [][]string `toml:"task_binaries"`
}

type DownloadConfig struct {
	Concurrency int    `toml:"concurrency"`
	BinaryName  string `toml:"binary_name"`
}

type LintConfig struct {
	// FailOnError makes lint findings fail the tslint stage (and so compile).
	FailOnError bool `toml:"fail_on_error"`
}

type LogConfig struct {
	Level       string         `toml:"level"`
	Format      string         `toml:"format"`
	Outputs     []string       `toml:"outputs"`
	Development bool           `toml:"development"`
	Rotation    RotationConfig `toml:"rotation"`
}

type RotationConfig struct {
	Enable     bool `toml:"enable"`
	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Compress   bool `toml:"compress"`
}

type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
}

type JournalConfig struct {
	Disabled bool   `toml:"disabled"`
	Path     string `toml:"path"`
}

func Default() Config {
	return Config{
		Build: BuildConfig{TasksDir: "Tasks", ExtensionManifest: "vss-extension.json"},
		Tools: ToolsConfig{
			Install: []string{"yarn"},
			Typings: []string{filepath.Join("node_modules", ".bin", "typings"), "install"},
			Lint:    []string{filepath.Join("node_modules", ".bin", "tslint"), "--format", "verbose"},
			Compile: []string{filepath.Join("node_modules", ".bin", "tsc")},
			Test:    []string{filepath.Join("node_modules", ".bin", "mocha"), "--reporter", "spec"},
			Package: []string{filepath.Join("node_modules", ".bin", "tfx"), "extension", "create"},
			TaskBinaries: [][]string{
				{"go", "build", "-trimpath", "-o", filepath.Join("Tasks", "BitBucketBuildResult", "bitbucket-build-result"), "./cmd/bitbucket-build-result"},
			},
		},
		Download:  DownloadConfig{Concurrency: 4, BinaryName: "nuget.exe"},
		Log:       LogConfig{Level: "info", Format: "console", Outputs: []string{"stderr"}, Rotation: RotationConfig{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28}},
		Telemetry: TelemetryConfig{Endpoint: "http://127.0.0.1:4318"},
		Journal:   JournalConfig{Path: filepath.Join(paths.StateDir, "journal.db")},
	}
}

var (
	ErrInvalid = errors.New("invalid config")
)

type LoadResult struct {
	Config     Config
	Found      bool
	Path       string
	ParseError error
}

// Load reads <root>/.extbuild/config.toml on top of the defaults.
func Load(root string) LoadResult {
	return LoadFile(paths.ConfigFile(root))
}

// LoadFile is Load for an explicit config path.
func LoadFile(path string) LoadResult {
	res := LoadResult{Config: Default(), Path: path}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res
		}
		res.ParseError = err
		return res
	}

	res.Found = true
	var parsed Config
	if err := toml.Unmarshal(b, &parsed); err != nil {
		res.ParseError = fmt.Errorf("%w: %v", ErrInvalid, err)
		return res
	}
	if parsed.Download.Concurrency < 0 {
		res.ParseError = fmt.Errorf("%w: download.concurrency must not be negative", ErrInvalid)
		return res
	}

	res.Config = merge(Default(), parsed)
	return res
}

func merge(def Config, cfg Config) Config {
	// Build
	if cfg.Build.TasksDir != "" {
		def.Build.TasksDir = cfg.Build.TasksDir
	}
	if cfg.Build.ExtensionManifest != "" {
		def.Build.ExtensionManifest = cfg.Build.ExtensionManifest
	}
	if cfg.Build.OutputPath != "" {
		def.Build.OutputPath = cfg.Build.OutputPath
	}
	// Tools
	mergeArgv(&def.Tools.Install, cfg.Tools.Install)
	mergeArgv(&def.Tools.Typings, cfg.Tools.Typings)
	mergeArgv(&def.Tools.Lint, cfg.Tools.Lint)
	mergeArgv(&def.Tools.Compile, cfg.Tools.Compile)
	mergeArgv(&def.Tools.Test, cfg.Tools.Test)
	mergeArgv(&def.Tools.Package, cfg.Tools.Package)
	if cfg.Tools.TaskBinaries != nil {
		def.Tools.TaskBinaries = cfg.Tools.TaskBinaries
	}
	// Download
	if cfg.Download.Concurrency != 0 {
		def.Download.Concurrency = cfg.Download.Concurrency
	}
	if cfg.Download.BinaryName != "" {
		def.Download.BinaryName = cfg.Download.BinaryName
	}
	// Lint
	def.Lint.FailOnError = cfg.Lint.FailOnError
	// Log
	if cfg.Log.Level != "" {
		def.Log.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		def.Log.Format = cfg.Log.Format
	}
	if len(cfg.Log.Outputs) != 0 {
		def.Log.Outputs = cfg.Log.Outputs
	}
	def.Log.Development = cfg.Log.Development
	def.Log.Rotation.Enable = cfg.Log.Rotation.Enable
	def.Log.Rotation.Compress = cfg.Log.Rotation.Compress
	if cfg.Log.Rotation.MaxSizeMB != 0 {
		def.Log.Rotation.MaxSizeMB = cfg.Log.Rotation.MaxSizeMB
	}
	if cfg.Log.Rotation.MaxBackups != 0 {
		def.Log.Rotation.MaxBackups = cfg.Log.Rotation.MaxBackups
	}
	if cfg.Log.Rotation.MaxAgeDays != 0 {
		def.Log.Rotation.MaxAgeDays = cfg.Log.Rotation.MaxAgeDays
	}
	// Telemetry
	def.Telemetry.Enabled = cfg.Telemetry.Enabled
	def.Telemetry.Insecure = cfg.Telemetry.Insecure
	if cfg.Telemetry.Endpoint != "" {
		def.Telemetry.Endpoint = cfg.Telemetry.Endpoint
	}
	// Journal
	def.Journal.Disabled = cfg.Journal.Disabled
	if cfg.Journal.Path != "" {
		def.Journal.Path = cfg.Journal.Path
	}
	return def
}

func mergeArgv(dst *[]string, src []string) {
	if len(src) != 0 {
		*dst = src
	}
}
