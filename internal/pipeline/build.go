package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/throw-if-null/bitbucket-tasks/internal/config"
	"github.com/throw-if-null/bitbucket-tasks/internal/discovery"
	"github.com/throw-if-null/bitbucket-tasks/internal/packager"
	"github.com/throw-if-null/bitbucket-tasks/internal/runner"
	"github.com/throw-if-null/bitbucket-tasks/internal/store"
	"go.uber.org/zap"
)

// Stage names.
const (
	StageDefault          = "default"
	StageInfo             = "info"
	StageDownloadBinaries = "download-binaries"
	StageInstall          = "install"
	StageTypings          = "typings"
	StageTslint           = "tslint"
	StageCompile          = "compile"
	StageTest             = "test"
	StagePackage          = "package"
	StagePackageRev       = "package-rev"
	StageClean            = "clean"
	StageHistory          = "history"
)

// Fetcher downloads the binaries declared by tasks.
type Fetcher interface {
	Fetch(ctx context.Context, tasks []discovery.Task) error
}

// History lists past build runs.
type History interface {
	ListRuns(limit int) ([]*store.Run, error)
}

// Build holds everything the stages of one extension project need. It is
// read-only once the stages are running.
type Build struct {
	Root     string
	Config   config.Config
	Tasks    []discovery.Task
	Runner   runner.CommandRunner
	Fetcher  Fetcher
	Packager packager.Packager
	History  History
	Logger   *zap.Logger
	Stdout   io.Writer
	Stderr   io.Writer
}

// Stages returns the stage definitions of the build.
func (b *Build) Stages() []Stage {
	return []Stage{
		{Name: StageDefault, Deps: []string{StageTest}},
		{Name: StageInfo, Run: b.info},
		{Name: StageDownloadBinaries, Run: b.downloadBinaries},
		{Name: StageInstall, Run: b.install},
		{Name: StageTypings, Run: b.typings},
		{Name: StageTslint, Run: b.tslint},
		{Name: StageCompile, Deps: []string{StageTypings, StageTslint, StageInstall}, Run: b.compile},
		{Name: StageTest, Deps: []string{StageCompile, StageDownloadBinaries}, Run: b.test},
		{Name: StagePackage, Deps: []string{StageDownloadBinaries, StageCompile, StageTest}, Run: b.pack(false)},
		{Name: StagePackageRev, Deps: []string{StageDownloadBinaries, StageCompile, StageTest}, Run: b.pack(true)},
		{Name: StageClean, Run: b.clean},
		{Name: StageHistory, Run: b.history},
	}
}

func (b *Build) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func (b *Build) stdout() io.Writer {
	if b.Stdout == nil {
		return io.Discard
	}
	return b.Stdout
}

func (b *Build) stderr() io.Writer {
	if b.Stderr == nil {
		return io.Discard
	}
	return b.Stderr
}

func (b *Build) tasksDir() string {
	return filepath.Join(b.Root, b.Config.Build.TasksDir)
}

// tool resolves a relative executable path such as node_modules/.bin/tsc
// against the project root so it works from any working directory.
func (b *Build) tool(argv []string, args ...string) []string {
	out := append([]string{}, argv...)
	if len(out) > 0 && !filepath.IsAbs(out[0]) && filepath.Base(out[0]) != out[0] {
		out[0] = filepath.Join(b.Root, out[0])
	}
	return append(out, args...)
}

func (b *Build) exec(ctx context.Context, dir string, argv []string) error {
	b.logger().Debug("running", zap.String("dir", dir), zap.String("cmd", runner.Describe(argv)))
	_, err := b.Runner.Run(ctx, dir, argv, nil, b.stdout(), b.stderr())
	return err
}

func (b *Build) info(context.Context) error {
	for _, t := range b.Tasks {
		b.logger().Info("Task: "+t.Name, zap.String("dir", t.Dir))
	}
	return nil
}

func (b *Build) downloadBinaries(ctx context.Context) error {
	return b.Fetcher.Fetch(ctx, b.Tasks)
}

func (b *Build) install(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range b.Tasks {
		if !fileExists(filepath.Join(t.Dir, "package.json")) {
			continue
		}
		wg.Add(1)
		go func(t discovery.Task) {
			defer wg.Done()
			if err := b.exec(ctx, t.Dir, b.tool(b.Config.Tools.Install)); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("install %s: %w", t.Name, err))
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (b *Build) typings(ctx context.Context) error {
	if !fileExists(filepath.Join(b.Root, "typings.json")) {
		b.logger().Info("no typings.json, skipping")
		return nil
	}
	return b.exec(ctx, b.Root, b.tool(b.Config.Tools.Typings))
}

func (b *Build) tslint(ctx context.Context) error {
	files, err := findFiles(b.tasksDir(), func(name string) bool {
		return filepath.Ext(name) == ".ts"
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		b.logger().Info("no typescript sources to lint")
		return nil
	}
	if err := b.exec(ctx, b.Root, b.tool(b.Config.Tools.Lint, files...)); err != nil {
		if b.Config.Lint.FailOnError || ctx.Err() != nil {
			return err
		}
		b.logger().Warn("lint reported problems", zap.Error(err))
	}
	return nil
}

// compile runs the typescript compiler when the project has a tsconfig.json,
// then builds each native task binary from the project root.
func (b *Build) compile(ctx context.Context) error {
	if fileExists(filepath.Join(b.Root, "tsconfig.json")) {
		if err := b.exec(ctx, b.Root, b.tool(b.Config.Tools.Compile)); err != nil {
			return err
		}
	} else {
		b.logger().Info("no tsconfig.json, skipping typescript compile")
	}
	for _, argv := range b.Config.Tools.TaskBinaries {
		if len(argv) == 0 {
			continue
		}
		if err := b.exec(ctx, b.Root, b.tool(argv)); err != nil {
			return fmt.Errorf("task binary: %w", err)
		}
	}
	return nil
}

func (b *Build) test(ctx context.Context) error {
	files, err := findFiles(b.tasksDir(), func(name string) bool {
		m, _ := filepath.Match("test-*.js", name)
		return m
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		b.logger().Info("no test files found")
		return nil
	}
	return b.exec(ctx, b.Root, b.tool(b.Config.Tools.Test, files...))
}

func (b *Build) pack(revVersion bool) func(context.Context) error {
	return func(ctx context.Context) error {
		out := b.Config.Build.OutputPath
		if out == "" {
			out = b.Root
		} else if !filepath.IsAbs(out) {
			out = filepath.Join(b.Root, out)
		}
		merge := packager.MergeSettings{
			Root:          b.Root,
			Manifests:     []string{filepath.Join(b.Root, b.Config.Build.ExtensionManifest)},
			ManifestGlobs: []string{},
			RevVersion:    revVersion,
			LocRoot:       b.Root,
		}
		return b.Packager.CreateExtension(ctx, merge, packager.PackageSettings{OutputPath: out, LocRoot: b.Root})
	}
}

func (b *Build) clean(ctx context.Context) error {
	targets, err := cleanTargets(b.Root, b.tasksDir(), b.Tasks)
	if err != nil {
		return err
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, p := range targets {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			b.logger().Debug("removing", zap.String("path", p))
			errs[i] = os.RemoveAll(p)
		}(i, p)
	}
	wg.Wait()
	b.logger().Info("cleaned", zap.Int("paths", len(targets)))
	return errors.Join(errs...)
}

func (b *Build) history(context.Context) error {
	if b.History == nil {
		b.logger().Info("build journal is disabled")
		return nil
	}
	runs, err := b.History.ListRuns(10)
	if err != nil {
		return err
	}
	w := b.stdout()
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-7s  %s  %v\n", r.ID, r.Status, r.StartedAt, r.Targets)
		for _, st := range r.Stages {
			line := fmt.Sprintf("    %-17s %-7s %s", st.Name, st.Status, st.FinishedAt)
			if st.Error != "" {
				line += "  " + st.Error
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
