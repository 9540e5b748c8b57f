// Package engine implements the event-driven workflow: the planner,
// tool-executor, clarifier, and draft-builder steps, and the loop that
// routes typed events between them until a draft terminates the chain.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/draftforge/draftforge/internal/domain"
	"github.com/draftforge/draftforge/internal/domain/event"
	"github.com/draftforge/draftforge/internal/port/modelclient"
	"github.com/draftforge/draftforge/internal/resilience"
)

// Step is one stage of the orchestration state machine. Handle consumes one
// event and returns the events to route next.
type Step interface {
	Name() string
	Handle(ctx context.Context, ev event.Event) ([]event.Event, error)
}

// StepStats holds running counters for one step.
type StepStats struct {
	Executions    int           `json:"executions"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
}

// AverageDuration returns the mean handling time, zero when never executed.
func (s *StepStats) AverageDuration() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Executions)
}

// stepBase provides the execution wrapper shared by all steps: timing,
// counters, error logging, and the bounded-retry model call helper.
type stepBase struct {
	name    string
	model   modelclient.Client
	retrier *resilience.Retrier

	mu    sync.Mutex
	stats StepStats
}

func newStepBase(name string, model modelclient.Client, maxRetries int, baseDelay time.Duration) stepBase {
	return stepBase{
		name:    name,
		model:   model,
		retrier: resilience.NewRetrier(maxRetries, baseDelay),
	}
}

// Name returns the step's name.
func (b *stepBase) Name() string { return b.name }

// Stats returns a snapshot of the step's counters.
func (b *stepBase) Stats() StepStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// run wraps a step body with timing, statistics, and error logging. Errors
// are wrapped with the step name and re-raised, never swallowed.
func (b *stepBase) run(ctx context.Context, ev event.Event, fn func(context.Context) ([]event.Event, error)) ([]event.Event, error) {
	start := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(start)

	b.mu.Lock()
	b.stats.Executions++
	b.stats.TotalDuration += elapsed
	if err != nil {
		b.stats.Failures++
	} else {
		b.stats.Successes++
	}
	b.mu.Unlock()

	if err != nil {
		slog.Error("step failed",
			"step", b.name,
			"event", string(ev.Kind()),
			"thread_id", ev.Env().ThreadID,
			"duration", elapsed,
			"error", err,
		)
		return nil, domain.NewStepError(b.name, err)
	}

	slog.Debug("step completed",
		"step", b.name,
		"event", string(ev.Kind()),
		"thread_id", ev.Env().ThreadID,
		"duration", elapsed,
		"emitted", len(out),
	)
	return out, nil
}

// completeWithRetry issues one opaque completion call with exponential
// backoff on transient failures. Permanent failures abort immediately.
func (b *stepBase) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	var text string
	err := b.retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		text, callErr = b.model.Complete(ctx, modelclient.Request{
			Prompt:      prompt,
			Temperature: -1, // adapter default
		})
		return callErr
	})
	return text, err
}
