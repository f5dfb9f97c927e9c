package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/throw-if-null/bitbucket-tasks/internal/config"
	"github.com/throw-if-null/bitbucket-tasks/internal/discovery"
	"github.com/throw-if-null/bitbucket-tasks/internal/fetch"
	"github.com/throw-if-null/bitbucket-tasks/internal/logging"
	"github.com/throw-if-null/bitbucket-tasks/internal/packager"
	"github.com/throw-if-null/bitbucket-tasks/internal/pipeline"
	"github.com/throw-if-null/bitbucket-tasks/internal/runner"
	"github.com/throw-if-null/bitbucket-tasks/internal/store"
	"github.com/throw-if-null/bitbucket-tasks/internal/telemetry"
	"github.com/throw-if-null/bitbucket-tasks/internal/version"
	"go.uber.org/zap"
)

var telemetryInit = telemetry.Init

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer, stages []string) {
	_, _ = fmt.Fprintln(w, "usage:")
	_, _ = fmt.Fprintln(w, "  extbuild [-root dir] [-config file] [target ...]")
	_, _ = fmt.Fprintln(w, "  extbuild version")
	if len(stages) > 0 {
		_, _ = fmt.Fprintf(w, "targets: %s\n", strings.Join(stages, ", "))
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("extbuild", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr, nil) }
	var root, cfgPath string
	fs.StringVar(&root, "root", ".", "extension project root")
	fs.StringVar(&cfgPath, "config", "", "config file (default <root>/.extbuild/config.toml)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	targets := fs.Args()
	if len(targets) == 0 {
		targets = []string{pipeline.StageDefault}
	}
	if len(targets) == 1 && targets[0] == "version" {
		_, _ = fmt.Fprintf(stdout, "extbuild %s (%s)\n", version.Version, version.Commit)
		return 0
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fatal(stderr, err)
	}

	var res config.LoadResult
	if cfgPath != "" {
		res = config.LoadFile(cfgPath)
	} else {
		res = config.Load(root)
	}
	if res.ParseError != nil {
		return fatal(stderr, fmt.Errorf("config %s: %w", res.Path, res.ParseError))
	}
	cfg := res.Config

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fatal(stderr, err)
	}
	defer func() { _ = logger.Sync() }()
	if res.Found {
		logger.Debug("loaded config", zap.String("path", res.Path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := telemetry.Noop
	if cfg.Telemetry.Enabled {
		sd, err := telemetryInit(ctx, telemetry.FromConfig(cfg.Telemetry, "extbuild", version.Version))
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			shutdown = sd
		}
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	cmdRunner := &runner.RealCommandRunner{}
	build := &pipeline.Build{
		Root:    root,
		Config:  cfg,
		Runner:  cmdRunner,
		Fetcher: fetch.New(&http.Client{}, logger.Named("fetch"), cfg.Download.BinaryName, cfg.Download.Concurrency),
		Packager: &packager.Tfx{
			Command: absTool(root, cfg.Tools.Package),
			Runner:  cmdRunner,
			Stdout:  stdout,
			Stderr:  stderr,
		},
		Logger: logger,
		Stdout: stdout,
		Stderr: stderr,
	}

	graph, err := pipeline.NewGraph(build.Stages()...)
	if err != nil {
		return fatal(stderr, err)
	}
	for _, t := range targets {
		if !graph.Has(t) {
			_, _ = fmt.Fprintf(stderr, "%v: %s\n", pipeline.ErrUnknownStage, t)
			usage(stderr, graph.Names())
			return 2
		}
	}

	var (
		recorder pipeline.Recorder
		runID    string
		runErr   error
	)
	if !cfg.Journal.Disabled {
		journal, err := store.Open(absPath(root, cfg.Journal.Path))
		if err != nil {
			logger.Warn("build journal unavailable", zap.Error(err))
		} else {
			defer journal.Close()
			build.History = journal
			if runID, err = journal.StartRun(targets); err != nil {
				logger.Warn("build journal unavailable", zap.Error(err))
			} else {
				recorder = journal
				defer func() {
					if err := journal.FinishRun(runID, runErr); err != nil {
						logger.Warn("journal write failed", zap.Error(err))
					}
				}()
			}
		}
	}

	if needsTasks(targets) {
		tasks, err := discovery.Discover(ctx, filepath.Join(root, cfg.Build.TasksDir))
		if err != nil {
			runErr = err
			logger.Error("task discovery failed", zap.Error(err))
			return 1
		}
		build.Tasks = tasks
	}

	runErr = pipeline.NewExecutor(graph, logger, recorder, runID).Run(ctx, targets...)
	if runErr != nil {
		logger.Error("build failed", zap.Strings("targets", targets), zap.Error(runErr))
		return 1
	}
	logger.Info("build succeeded", zap.Strings("targets", targets))
	return 0
}

// needsTasks reports whether any target reads the task descriptors.
func needsTasks(targets []string) bool {
	for _, t := range targets {
		if t != pipeline.StageHistory {
			return true
		}
	}
	return false
}

func absPath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func absTool(root string, argv []string) []string {
	out := append([]string{}, argv...)
	if len(out) > 0 && filepath.Base(out[0]) != out[0] {
		out[0] = absPath(root, out[0])
	}
	return out
}

func fatal(w io.Writer, err error) int {
	_, _ = fmt.Fprintln(w, err.Error())
	return 1
}
