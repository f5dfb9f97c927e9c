package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recorder receives stage lifecycle events, typically the build journal.
type Recorder interface {
	StageStarted(runID, stage string) error
	StageFinished(runID, stage string, err error) error
}

type call struct {
	once sync.Once
	err  error
}

// Executor runs stages of a Graph. Within one Executor every stage runs at
// most once; later requests for it return the first outcome.
type Executor struct {
	graph    *Graph
	logger   *zap.Logger
	recorder Recorder
	runID    string
	tracer   trace.Tracer

	mu    sync.Mutex
	calls map[string]*call
}

// NewExecutor returns an Executor over g. recorder may be nil.
func NewExecutor(g *Graph, logger *zap.Logger, recorder Recorder, runID string) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		graph:    g,
		logger:   logger,
		recorder: recorder,
		runID:    runID,
		tracer:   otel.Tracer("extbuild"),
		calls:    map[string]*call{},
	}
}

// Run executes targets in order, stopping at the first failure. Unknown
// targets are rejected before anything runs.
func (e *Executor) Run(ctx context.Context, targets ...string) error {
	for _, t := range targets {
		if !e.graph.Has(t) {
			return fmt.Errorf("%w: %s", ErrUnknownStage, t)
		}
	}
	for _, t := range targets {
		if err := e.run(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, name string) error {
	e.mu.Lock()
	c, ok := e.calls[name]
	if !ok {
		c = &call{}
		e.calls[name] = c
	}
	e.mu.Unlock()

	c.once.Do(func() { c.err = e.execute(ctx, name) })
	return c.err
}

func (e *Executor) execute(ctx context.Context, name string) error {
	st, _ := e.graph.Stage(name)

	if err := e.runDeps(ctx, st.Deps); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	if st.Run == nil {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "stage."+name, trace.WithAttributes(attribute.String("stage.name", name)))
	defer span.End()

	e.record(func(r Recorder) error { return r.StageStarted(e.runID, name) })
	e.logger.Info("starting stage", zap.String("stage", name))
	start := time.Now()

	err := st.Run(ctx)

	e.record(func(r Recorder) error { return r.StageFinished(e.runID, name, err) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("stage failed", zap.String("stage", name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return fmt.Errorf("stage %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Info("finished stage", zap.String("stage", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// runDeps runs deps concurrently and waits for all of them.
func (e *Executor) runDeps(ctx context.Context, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	errs := make([]error, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		wg.Add(1)
		go func(i int, d string) {
			defer wg.Done()
			errs[i] = e.run(ctx, d)
		}(i, d)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (e *Executor) record(fn func(Recorder) error) {
	if e.recorder == nil || e.runID == "" {
		return
	}
	if err := fn(e.recorder); err != nil {
		e.logger.Warn("journal write failed", zap.String("run", e.runID), zap.Error(err))
	}
}
