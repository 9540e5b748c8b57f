package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/draftforge/draftforge/internal/domain"
	"github.com/draftforge/draftforge/internal/domain/event"
	"github.com/draftforge/draftforge/internal/domain/plan"
	"github.com/draftforge/draftforge/internal/domain/tool"
	"github.com/draftforge/draftforge/internal/registry"
)

// ExecutorStep runs the tool calls of one execution request against the
// registry and aggregates the results for the planner or the draft builder.
type ExecutorStep struct {
	stepBase
	reg *registry.Registry
}

// NewExecutorStep creates an ExecutorStep backed by the given registry.
func NewExecutorStep(reg *registry.Registry) *ExecutorStep {
	return &ExecutorStep{
		stepBase: newStepBase("executor", nil, 0, 0),
		reg:      reg,
	}
}

// Handle consumes a tools.requested event. Malformed requests fail fast;
// every other failure mode degrades to a zero-success outcome so the chain
// always proceeds toward a draft.
func (x *ExecutorStep) Handle(ctx context.Context, ev event.Event) ([]event.Event, error) {
	return x.run(ctx, ev, func(ctx context.Context) (out []event.Event, err error) {
		req, ok := ev.(*event.ToolsRequested)
		if !ok {
			return nil, fmt.Errorf("%w: executor cannot handle %s", domain.ErrUnknownEvent, ev.Kind())
		}
		if verr := req.Validate(); verr != nil {
			return nil, verr
		}

		// A panicking tool adapter must not take the conversation down
		// with it; recover into an all-failed outcome.
		defer func() {
			if r := recover(); r != nil {
				slog.Error("executor recovered from panic",
					"thread_id", req.ThreadID,
					"execution_group_id", req.ExecutionGroupID,
					"panic", r,
				)
				out = x.outcome(req, map[string]tool.Result{})
				err = nil
			}
		}()

		start := time.Now()
		var results map[string]tool.Result
		if req.Plan.Strategy == plan.StrategySequentialRequired {
			results = x.runSequential(ctx, req.ToolsToExecute)
		} else {
			results = x.reg.ExecuteBatch(ctx, req.ToolsToExecute, true)
		}

		slog.Info("tool batch finished",
			"thread_id", req.ThreadID,
			"execution_group_id", req.ExecutionGroupID,
			"tools", len(req.ToolsToExecute),
			"duration", time.Since(start),
		)
		return x.outcome(req, results), nil
	})
}

// runSequential executes calls one at a time in request order.
func (x *ExecutorStep) runSequential(ctx context.Context, calls []tool.Call) map[string]tool.Result {
	results := make(map[string]tool.Result, len(calls))
	for _, call := range calls {
		results[call.Name] = x.reg.ExecuteTool(ctx, call, true)
	}
	return results
}

// outcome builds the fixed event set every execution cycle emits: a context
// update, exactly one results event routed per the request, and a completion
// marker.
func (x *ExecutorStep) outcome(req *event.ToolsRequested, results map[string]tool.Result) []event.Event {
	successes := 0
	anyFailed := false
	for _, res := range results {
		if res.Success {
			successes++
		} else {
			anyFailed = true
		}
	}
	// Receiving zero results (panic path) also counts as failure.
	if len(results) < len(req.ToolsToExecute) {
		anyFailed = true
	}

	ctxUpdate := &event.ContextUpdated{
		Envelope: req.Envelope.Child(),
		Updates: map[string]any{
			"last_execution_group": req.ExecutionGroupID,
			"tools_executed":       len(results),
			"tools_succeeded":      successes,
			"executed_at":          time.Now().UTC().Format(time.RFC3339),
		},
	}

	var routed event.Event
	if req.RouteToPlanner {
		routed = &event.ToolResultsForPlanner{
			Envelope:         req.Envelope.Child(),
			Results:          results,
			PlanningInsights: planningInsights(results),
			NeedsReplanning:  anyFailed,
			OriginalMessage:  req.OriginalMessage,
			History:          req.History,
		}
	} else {
		routed = &event.ToolResultsForDrafter{
			Envelope:        req.Envelope.Child(),
			Results:         results,
			DraftContext:    buildDraftContext(results),
			OriginalMessage: req.OriginalMessage,
		}
	}

	completed := &event.ExecutorCompleted{
		Envelope:         req.Envelope.Child(),
		ExecutionGroupID: req.ExecutionGroupID,
		ToolCount:        len(req.ToolsToExecute),
		SuccessCount:     successes,
		ExecutionSuccess: !anyFailed && len(results) > 0,
	}

	return []event.Event{ctxUpdate, routed, completed}
}

// planningInsights scans results for signals the planner cares about when
// re-evaluating a low-confidence plan.
func planningInsights(results map[string]tool.Result) map[string]any {
	insights := map[string]any{}

	for name, res := range results {
		if !res.Success {
			insights["failed_"+name] = res.ErrorMessage
			continue
		}
		data, ok := res.Data.(map[string]any)
		if !ok {
			continue
		}
		if conflicts, ok := data["conflicts"].([]any); ok && len(conflicts) > 0 {
			insights["calendar_conflicts"] = len(conflicts)
		}
		if emails, ok := data["new_emails"].(float64); ok && emails > 0 {
			insights["new_email_count"] = int(emails)
		}
	}
	return insights
}

// buildDraftContext projects results into a drafting context, dropping
// internal and sensitive keys from structured payloads.
func buildDraftContext(results map[string]tool.Result) map[string]any {
	ctx := map[string]any{
		"tool_count": len(results),
	}
	for name, res := range results {
		if !res.Success {
			continue
		}
		data, ok := res.Data.(map[string]any)
		if !ok {
			ctx[name] = res.Data
			continue
		}
		clean := make(map[string]any, len(data))
		for k, v := range data {
			if strings.HasPrefix(k, "_") || k == "auth_token" {
				continue
			}
			clean[k] = v
		}
		ctx[name] = clean
	}
	return ctx
}
