package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/bakkerme/filepoll/internal/runner")

type Config struct {
	// AllowPartialSourceErrors keeps a run going when some sources fail,
	// recording their errors on the run. A run still fails when every source
	// fails.
	AllowPartialSourceErrors bool
}

type Runner struct {
	logger *slog.Logger
	config Config

	mu    sync.Mutex
	locks map[*core.Flow]*sync.Mutex
	wg    sync.WaitGroup
}

func New(logger *slog.Logger) *Runner {
	return NewWithConfig(logger, Config{})
}

func NewWithConfig(logger *slog.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger,
		config: cfg,
		locks:  map[*core.Flow]*sync.Mutex{},
	}
}

// Start subscribes to every trigger of flow and runs the flow on each event
// until ctx is done or the triggers close their channels.
func (r *Runner) Start(ctx context.Context, flow *core.Flow) error {
	if flow == nil {
		return fmt.Errorf("flow is required")
	}
	if len(flow.Triggers) == 0 {
		return fmt.Errorf("flow %s has no triggers", flow.ID)
	}
	for _, trigger := range flow.Triggers {
		if trigger == nil {
			continue
		}
		events, err := trigger.Start(ctx, flow.ID)
		if err != nil {
			return fmt.Errorf("start trigger %s: %w", trigger.Name(), err)
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.listen(ctx, flow, trigger.Name(), events)
		}()
	}
	return nil
}

// Wait blocks until every listener started by Start has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RunOnce performs a single poll of flow outside any trigger.
func (r *Runner) RunOnce(ctx context.Context, flow *core.Flow) (*core.Run, error) {
	return r.run(ctx, flow, "manual")
}

func (r *Runner) run(ctx context.Context, flow *core.Flow, triggerType string) (*core.Run, error) {
	if flow == nil {
		return nil, fmt.Errorf("flow is required")
	}
	lock := r.flowLock(flow)
	lock.Lock()
	defer lock.Unlock()

	run := &core.Run{
		ID:          uuid.NewString(),
		FlowID:      flow.ID,
		StartedAt:   time.Now().UTC(),
		Status:      core.RunStatusRunning,
		TriggerType: triggerType,
	}
	logger := r.logger.With("flow_id", flow.ID, "run_id", run.ID)
	ctx = core.WithFlowID(ctx, flow.ID)
	ctx = core.WithRunID(ctx, run.ID)
	ctx = core.WithLogger(ctx, logger)

	ctx, span := tracer.Start(ctx, "flow.run", trace.WithAttributes(
		attribute.String("flow.id", flow.ID),
		attribute.String("flow.name", flow.Name),
		attribute.String("run.id", run.ID),
		attribute.String("run.trigger", triggerType),
	))
	defer span.End()

	flow.Status = core.FlowStatusRunning
	logger.Info("run started", "trigger", triggerType)

	err := r.execute(ctx, flow, run)
	err = settle(ctx, flow, err)

	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	duration := completedAt.Sub(run.StartedAt)
	span.SetAttributes(attribute.Int("run.blocks", len(run.Blocks)))
	switch {
	case err == nil:
		run.Status = core.RunStatusCompleted
		flow.Status = core.FlowStatusCompleted
		logger.Info("run completed", "blocks", len(run.Blocks), "duration", duration)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = core.RunStatusCancelled
		flow.Status = core.FlowStatusCancelled
		logger.Warn("run cancelled", "error", err, "duration", duration)
	default:
		run.Status = core.RunStatusFailed
		flow.Status = core.FlowStatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run failed", "error", err, "duration", duration)
	}
	return run, err
}

func (r *Runner) execute(ctx context.Context, flow *core.Flow, run *core.Run) error {
	blocks, err := r.fetchSources(ctx, flow, run)
	if err != nil {
		return err
	}

	for _, processor := range flow.Filters {
		if processor == nil {
			continue
		}
		next, err := stage(ctx, "filter", processor.Name(), func(ctx context.Context) ([]*core.ItemBlock, error) {
			return processor.Evaluate(ctx, blocks)
		})
		if err != nil {
			return fmt.Errorf("filter %s: %w", processor.Name(), err)
		}
		blocks = next
	}

	for _, processor := range flow.Transforms {
		if processor == nil {
			continue
		}
		next, err := stage(ctx, "transform", processor.Name(), func(ctx context.Context) ([]*core.ItemBlock, error) {
			return processor.Transform(ctx, blocks)
		})
		if err != nil {
			return fmt.Errorf("transform %s: %w", processor.Name(), err)
		}
		blocks = next
	}
	run.Blocks = blocks

	for _, output := range flow.Outputs {
		if output == nil {
			continue
		}
		_, err := stage(ctx, "output", output.Name(), func(ctx context.Context) ([]*core.ItemBlock, error) {
			return nil, output.Deliver(ctx, blocks, run)
		})
		if err != nil {
			return fmt.Errorf("output %s: %w", output.Name(), err)
		}
	}
	return nil
}

// settle commits sources that defer durable bookkeeping when the run
// succeeded, and aborts them otherwise.
func settle(ctx context.Context, flow *core.Flow, runErr error) error {
	var commitErr error
	for _, source := range flow.Sources {
		committer, ok := source.(core.Committer)
		if !ok {
			continue
		}
		if runErr != nil {
			committer.Abort()
			continue
		}
		if err := committer.Commit(ctx); err != nil && commitErr == nil {
			commitErr = fmt.Errorf("commit source %s: %w", source.Name(), err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return commitErr
}

type sourceResult struct {
	blocks []*core.ItemBlock
	err    error
}

// fetchSources polls every source, at most flow.MaxConcurrency at a time, and
// concatenates their blocks in source order.
func (r *Runner) fetchSources(ctx context.Context, flow *core.Flow, run *core.Run) ([]*core.ItemBlock, error) {
	results := make([]sourceResult, len(flow.Sources))
	limit := flow.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, source := range flow.Sources {
		if source == nil {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			blocks, err := stage(ctx, "source", source.Name(), source.Fetch)
			results[i] = sourceResult{blocks: blocks, err: err}
		}()
	}
	wg.Wait()

	logger := core.LoggerFromContext(ctx)
	blocks := []*core.ItemBlock{}
	failed := 0
	for i, result := range results {
		if result.err == nil {
			blocks = append(blocks, result.blocks...)
			continue
		}
		name := flow.Sources[i].Name()
		if !r.config.AllowPartialSourceErrors {
			return nil, fmt.Errorf("source %s: %w", name, result.err)
		}
		failed++
		logger.Warn("source failed", "source", name, "error", result.err)
		run.Errors = append(run.Errors, core.ProcessError{
			ProcessorName: name,
			Stage:         "source",
			Error:         result.err.Error(),
			OccurredAt:    time.Now().UTC(),
		})
	}
	if failed > 0 && failed == len(flow.Sources) {
		return nil, fmt.Errorf("all %d sources failed", failed)
	}
	return blocks, nil
}

func stage(ctx context.Context, kind, name string, fn func(context.Context) ([]*core.ItemBlock, error)) ([]*core.ItemBlock, error) {
	ctx, span := tracer.Start(ctx, kind+"."+name)
	defer span.End()
	blocks, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("blocks", len(blocks)))
	return blocks, nil
}

func (r *Runner) flowLock(flow *core.Flow) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[flow]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[flow] = lock
	}
	return lock
}

func (r *Runner) listen(ctx context.Context, flow *core.Flow, triggerName string, events <-chan core.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.logger.Debug("trigger event", "flow_id", event.FlowID, "trigger", triggerName, "time", event.Timestamp)
			// Errors are logged by run; the next event polls again.
			_, _ = r.run(ctx, flow, event.Trigger)
			event.Complete()
		}
	}
}
