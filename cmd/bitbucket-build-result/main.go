package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/throw-if-null/bitbucket-tasks/internal/buildresult"
	"github.com/throw-if-null/bitbucket-tasks/internal/config"
	"github.com/throw-if-null/bitbucket-tasks/internal/hostsdk"
	"github.com/throw-if-null/bitbucket-tasks/internal/logging"
	"github.com/throw-if-null/bitbucket-tasks/internal/telemetry"
	"github.com/throw-if-null/bitbucket-tasks/internal/version"
	"go.uber.org/zap"
)

var (
	dotenvLoad    = godotenv.Load
	telemetryInit = telemetry.Init
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bitbucket-build-result", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var manifestPath, envFile string
	fs.StringVar(&manifestPath, "manifest", defaultManifest(), "path to task.json")
	fs.StringVar(&envFile, "env", ".env", "optional env file for local runs")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := os.Stat(envFile); err == nil {
		if err := dotenvLoad(envFile); err != nil {
			_, _ = fmt.Fprintf(stderr, "load %s: %v\n", envFile, err)
			return 1
		}
	}

	logCfg := config.Default().Log
	if debug, _ := strconv.ParseBool(os.Getenv("SYSTEM_DEBUG")); debug {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		shutdown, err := telemetryInit(ctx, telemetry.Config{
			ServiceName:    "bitbucket-build-result",
			ServiceVersion: version.Version,
			Endpoint:       ep,
		})
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	logger.Debug("running task", zap.String("manifest", manifestPath), zap.String("version", version.Version))
	if buildresult.RunManifest(ctx, hostsdk.NewAgent(stdout), manifestPath) == hostsdk.Failed {
		return 1
	}
	return 0
}

// defaultManifest is task.json next to the executable, as laid out in the
// packaged task directory.
func defaultManifest() string {
	exe, err := os.Executable()
	if err != nil {
		return "task.json"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "task.json")
}
