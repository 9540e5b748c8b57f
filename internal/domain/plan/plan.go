// Package plan defines the intent analysis and execution plan entities
// produced by the planner for one planning cycle.
package plan

import (
	"fmt"
	"time"

	"github.com/draftforge/draftforge/internal/domain"
)

// Strategy defines how a plan's task groups are scheduled.
type Strategy string

const (
	StrategyParallelPreferred  Strategy = "parallel_preferred"
	StrategySequentialRequired Strategy = "sequential_required"
)

// Complexity is the planner's difficulty estimate for a user request.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IntentAnalysis is the structured output parsed from the model's reading of
// a user message. Every optional key is default-filled during parsing.
type IntentAnalysis struct {
	Intent              string         `json:"intent"`
	Confidence          float64        `json:"confidence"`
	Entities            map[string]any `json:"entities,omitempty"`
	RequiresTools       bool           `json:"requires_tools"`
	Complexity          Complexity     `json:"complexity"`
	SuggestedTools      []string       `json:"suggested_tools,omitempty"`
	Assumptions         []string       `json:"assumptions,omitempty"`
	ClarificationPoints []string       `json:"clarification_points,omitempty"`
}

// FallbackAnalysis is the deterministic substitute used when the model's
// response cannot be parsed. The planner never fails outright on a malformed
// model response.
func FallbackAnalysis() IntentAnalysis {
	return IntentAnalysis{
		Intent:              "general_assistance",
		Confidence:          0.3,
		RequiresTools:       true,
		Complexity:          ComplexityMedium,
		SuggestedTools:      []string{"web_search", "document_lookup"},
		ClarificationPoints: []string{"Could you describe in more detail what you need help with?"},
	}
}

// TaskGroup is an ordered set of tools scheduled together.
type TaskGroup struct {
	Tools             []string      `json:"tools"`
	CanRunParallel    bool          `json:"can_run_parallel"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
}

// ExecutionPlan is the planner's output for one planning cycle. It is
// immutable once passed downstream.
type ExecutionPlan struct {
	ID          string      `json:"id"`
	Goal        string      `json:"goal"`
	Confidence  float64     `json:"confidence"`
	Strategy    Strategy    `json:"execution_strategy"`
	TaskGroups  []TaskGroup `json:"task_groups"`
	Assumptions []string    `json:"assumptions,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate checks the plan's invariants.
func (p *ExecutionPlan) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: plan confidence %.2f outside [0,1]", domain.ErrValidation, p.Confidence)
	}
	switch p.Strategy {
	case StrategyParallelPreferred, StrategySequentialRequired:
	default:
		return fmt.Errorf("%w: unknown execution strategy %q", domain.ErrValidation, p.Strategy)
	}
	return nil
}

// Tools returns all tool names across the plan's task groups, in order.
func (p *ExecutionPlan) Tools() []string {
	var names []string
	for i := range p.TaskGroups {
		names = append(names, p.TaskGroups[i].Tools...)
	}
	return names
}
