package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftforge/draftforge/internal/adapter/otel"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/domain"
	"github.com/draftforge/draftforge/internal/domain/draft"
	"github.com/draftforge/draftforge/internal/domain/event"
	"github.com/draftforge/draftforge/internal/port/broadcast"
	"github.com/draftforge/draftforge/internal/registry"
)

// ChatRequest is one inbound user turn.
type ChatRequest struct {
	ThreadID    string
	UserID      string
	Message     string
	History     []event.Message
	Preferences map[string]string
}

// Engine routes typed events between the planner, executor, clarifier, and
// drafter until a draft terminates the chain. One Chat call processes one
// chain to completion on the calling goroutine.
type Engine struct {
	planner   *PlannerStep
	executor  *ExecutorStep
	clarifier *ClarifierStep
	drafter   *DrafterStep

	reg     *registry.Registry
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	cfg     config.Engine
}

// New wires an Engine from its steps. hub may be nil to disable event
// egress and metrics may be nil to disable instrument recording.
func New(
	planner *PlannerStep,
	executor *ExecutorStep,
	clarifier *ClarifierStep,
	drafter *DrafterStep,
	reg *registry.Registry,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg config.Engine,
) *Engine {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 8
	}
	return &Engine{
		planner:   planner,
		executor:  executor,
		clarifier: clarifier,
		drafter:   drafter,
		reg:       reg,
		hub:       hub,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Registry exposes the tool registry for registration and introspection.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Drafter exposes the draft builder for history and style access.
func (e *Engine) Drafter() *DrafterStep { return e.drafter }

// OnClarification registers the callback invoked when a chain blocks on
// user questions. The callback runs on its own goroutine and may call
// SubmitClarification.
func (e *Engine) OnClarification(fn func(ClarificationPrompt)) {
	e.clarifier.SetPromptCallback(fn)
}

// SubmitClarification delivers the user's answers to a thread blocked on
// clarification.
func (e *Engine) SubmitClarification(threadID, userID string, responses []string) error {
	env, err := event.NewEnvelope(threadID, userID, event.Metadata{})
	if err != nil {
		return err
	}
	if !e.clarifier.Submit(&event.ClarificationResponse{Envelope: env, Responses: responses}) {
		return fmt.Errorf("%w: no clarification pending for thread %s", domain.ErrValidation, threadID)
	}
	return nil
}

// Chat runs one full response cycle and always returns a draft with
// non-empty content. The error return is non-nil only for invalid input;
// every downstream failure degrades to an apology draft.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (draft.Draft, error) {
	env, err := event.NewEnvelope(req.ThreadID, req.UserID, event.Metadata{})
	if err != nil {
		return draft.Draft{}, err
	}
	if req.Message == "" {
		return draft.Draft{}, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	if e.metrics != nil {
		e.metrics.ChatsStarted.Add(ctx, 1)
	}
	start := time.Now()

	e.learnStyle(req.UserID, req.Preferences)

	first := &event.UserMessage{
		Envelope:    env,
		Message:     req.Message,
		History:     req.History,
		Preferences: req.Preferences,
	}
	result := e.process(ctx, first)

	if e.metrics != nil {
		if result.IsError {
			e.metrics.ChatsFailed.Add(ctx, 1)
		} else {
			e.metrics.ChatsCompleted.Add(ctx, 1)
		}
		e.metrics.DraftDuration.Record(ctx, time.Since(start).Seconds())
	}
	return result, nil
}

// learnStyle folds recognized keys from the request preferences into the
// user's stored drafting style. Unknown keys are left for the planner prompt.
func (e *Engine) learnStyle(userID string, prefs map[string]string) {
	if len(prefs) == 0 {
		return
	}
	style := e.drafter.StyleFor(userID)
	changed := false
	if v, ok := prefs["tone"]; ok && v != "" {
		style.Tone = v
		changed = true
	}
	if v, ok := prefs["formality"]; ok && v != "" {
		style.Formality = v
		changed = true
	}
	if v, ok := prefs["length"]; ok && v != "" {
		style.Length = v
		changed = true
	}
	if changed {
		e.drafter.RecordStylePreference(userID, style)
	}
}

// process drains the event queue for one chain until a draft terminates it.
func (e *Engine) process(ctx context.Context, first event.Event) draft.Draft {
	queue := []event.Event{first}
	plannerRuns := 0
	processed := 0
	maxEvents := e.cfg.MaxCycles * 8

	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]
		processed++

		e.hub.BroadcastEvent(ctx, string(ev.Kind()), ev)

		if processed > maxEvents {
			slog.Error("event budget exhausted, forcing apology draft",
				"thread_id", ev.Env().ThreadID,
				"processed", processed,
			)
			return e.apologize(ctx, ev, "event budget exhausted")
		}

		step := e.stepFor(ev.Kind())
		if step == nil {
			// Informational events carry no routing.
			if ev.Kind() == event.TypeDraftCreated {
				done := ev.(*event.DraftCreated)
				return done.Draft
			}
			continue
		}

		if step == e.planner {
			plannerRuns++
			if plannerRuns > e.cfg.MaxCycles {
				slog.Error("planning cycle budget exhausted, forcing apology draft",
					"thread_id", ev.Env().ThreadID,
					"cycles", plannerRuns,
				)
				return e.apologize(ctx, ev, "planning cycles exhausted")
			}
		}

		next, err := step.Handle(ctx, ev)
		if err != nil {
			// Steps wrap and log their own errors; the engine's job is
			// to keep the invariant that every chain ends in a draft.
			return e.apologize(ctx, ev, err.Error())
		}
		queue = append(queue, next...)
	}

	// A drained queue without a draft means a step emitted nothing.
	slog.Error("chain terminated without a draft", "thread_id", first.Env().ThreadID)
	return e.apologize(ctx, first, "empty chain")
}

// stepFor is the dispatch table. Nil means the event is informational or
// terminal and is not routed to a step.
func (e *Engine) stepFor(kind event.Type) Step {
	switch kind {
	case event.TypeUserMessage,
		event.TypeToolResultsForPlanner,
		event.TypeReplanRequested,
		event.TypePlanningUnblocked:
		return e.planner
	case event.TypeToolsRequested:
		return e.executor
	case event.TypeClarificationRequested:
		return e.clarifier
	case event.TypeToolResultsForDrafter,
		event.TypeDraftingUnblocked:
		return e.drafter
	default:
		return nil
	}
}

// apologize produces the terminal fallback draft and broadcasts its event.
func (e *Engine) apologize(ctx context.Context, ev event.Event, reason string) draft.Draft {
	done := e.drafter.Apologize(*ev.Env(), string(ev.Kind()))
	slog.Warn("chat degraded to apology draft",
		"thread_id", ev.Env().ThreadID,
		"reason", reason,
	)
	e.hub.BroadcastEvent(ctx, string(done.Kind()), done)
	return done.Draft
}
