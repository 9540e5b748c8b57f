package event

import (
	"fmt"

	"github.com/draftforge/draftforge/internal/domain"
	"github.com/draftforge/draftforge/internal/domain/draft"
	"github.com/draftforge/draftforge/internal/domain/plan"
	"github.com/draftforge/draftforge/internal/domain/tool"
)

// UserMessage enters the workflow when a user sends a message.
type UserMessage struct {
	Envelope
	Message     string            `json:"message"`
	History     []Message         `json:"history,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

func (e *UserMessage) Kind() Type     { return TypeUserMessage }
func (e *UserMessage) Env() *Envelope { return &e.Envelope }

// ClarificationRequested carries the planner's open questions to the clarifier.
type ClarificationRequested struct {
	Envelope
	Requests        []plan.ClarificationRequest `json:"requests"`
	BlocksPlanning  bool                        `json:"blocks_planning"`
	Plan            *plan.ExecutionPlan         `json:"plan,omitempty"` // tentative plan, may be nil
	OriginalMessage string                      `json:"original_message"`
	History         []Message                   `json:"history,omitempty"`
}

func (e *ClarificationRequested) Kind() Type     { return TypeClarificationRequested }
func (e *ClarificationRequested) Env() *Envelope { return &e.Envelope }

// ClarificationResponse carries the user's answers back into the workflow.
type ClarificationResponse struct {
	Envelope
	Responses []string `json:"responses"`
}

func (e *ClarificationResponse) Kind() Type     { return TypeClarificationResponse }
func (e *ClarificationResponse) Env() *Envelope { return &e.Envelope }

// ClarifierCompleted is emitted for collect joins after every clarification
// cycle, timed out or not.
type ClarifierCompleted struct {
	Envelope
	Action     plan.Routing `json:"action"`
	Insights   []string     `json:"insights,omitempty"`
	Successful bool         `json:"successful"`
}

func (e *ClarifierCompleted) Kind() Type     { return TypeClarifierCompleted }
func (e *ClarifierCompleted) Env() *Envelope { return &e.Envelope }

// ToolsRequested asks the executor to run one task group of a plan.
type ToolsRequested struct {
	Envelope
	Plan             plan.ExecutionPlan `json:"plan"`
	ToolsToExecute   []tool.Call        `json:"tools_to_execute"`
	RouteToPlanner   bool               `json:"route_to_planner"`
	ExecutionGroupID string             `json:"execution_group_id"`
	OriginalMessage  string             `json:"original_message"`
	History          []Message          `json:"history,omitempty"`
}

func (e *ToolsRequested) Kind() Type     { return TypeToolsRequested }
func (e *ToolsRequested) Env() *Envelope { return &e.Envelope }

// Validate rejects the one shape the engine must never route: an execution
// request with nothing to execute.
func (e *ToolsRequested) Validate() error {
	if len(e.ToolsToExecute) == 0 {
		return fmt.Errorf("%w: tools_to_execute must be non-empty", domain.ErrValidation)
	}
	for i := range e.ToolsToExecute {
		if e.ToolsToExecute[i].Name == "" {
			return fmt.Errorf("%w: tool call %d has no name", domain.ErrValidation, i)
		}
	}
	return nil
}

// ToolResultsForPlanner routes aggregated tool results back through the
// planner for re-evaluation.
type ToolResultsForPlanner struct {
	Envelope
	Results          map[string]tool.Result `json:"results"`
	PlanningInsights map[string]any         `json:"planning_insights,omitempty"`
	NeedsReplanning  bool                   `json:"needs_replanning"`
	OriginalMessage  string                 `json:"original_message"`
	History          []Message              `json:"history,omitempty"`
}

func (e *ToolResultsForPlanner) Kind() Type     { return TypeToolResultsForPlanner }
func (e *ToolResultsForPlanner) Env() *Envelope { return &e.Envelope }

// ToolResultsForDrafter routes aggregated tool results forward to drafting.
type ToolResultsForDrafter struct {
	Envelope
	Results         map[string]tool.Result `json:"results"`
	DraftContext    map[string]any         `json:"draft_context,omitempty"`
	OriginalMessage string                 `json:"original_message"`
}

func (e *ToolResultsForDrafter) Kind() Type     { return TypeToolResultsForDrafter }
func (e *ToolResultsForDrafter) Env() *Envelope { return &e.Envelope }

// ExecutorCompleted is emitted for collect joins after every execution cycle.
type ExecutorCompleted struct {
	Envelope
	ExecutionGroupID string `json:"execution_group_id"`
	ToolCount        int    `json:"tool_count"`
	SuccessCount     int    `json:"success_count"`
	ExecutionSuccess bool   `json:"execution_success"`
}

func (e *ExecutorCompleted) Kind() Type     { return TypeExecutorCompleted }
func (e *ExecutorCompleted) Env() *Envelope { return &e.Envelope }

// ContextUpdated records execution counts and timestamps on the conversation
// context after a tool batch.
type ContextUpdated struct {
	Envelope
	Updates map[string]any `json:"updates"`
}

func (e *ContextUpdated) Kind() Type     { return TypeContextUpdated }
func (e *ContextUpdated) Env() *Envelope { return &e.Envelope }

// ReplanRequested sends the conversation back to the planner after the
// clarifier detected a changed intent.
type ReplanRequested struct {
	Envelope
	Message        string         `json:"message"`
	History        []Message      `json:"history,omitempty"`
	Insights       []string       `json:"insights,omitempty"`
	ContextUpdates map[string]any `json:"context_updates,omitempty"`
}

func (e *ReplanRequested) Kind() Type     { return TypeReplanRequested }
func (e *ReplanRequested) Env() *Envelope { return &e.Envelope }

// PlanningUnblocked resumes a plan that was gated on clarification.
type PlanningUnblocked struct {
	Envelope
	Plan            *plan.ExecutionPlan `json:"plan,omitempty"`
	Insights        []string            `json:"insights,omitempty"`
	ContextUpdates  map[string]any      `json:"context_updates,omitempty"`
	ConfidenceBoost float64             `json:"confidence_boost"`
	OriginalMessage string              `json:"original_message"`
	History         []Message           `json:"history,omitempty"`
}

func (e *PlanningUnblocked) Kind() Type     { return TypePlanningUnblocked }
func (e *PlanningUnblocked) Env() *Envelope { return &e.Envelope }

// DraftingUnblocked sends clarification context straight to the draft builder.
type DraftingUnblocked struct {
	Envelope
	Insights        []string       `json:"insights,omitempty"`
	ContextUpdates  map[string]any `json:"context_updates,omitempty"`
	Responses       []string       `json:"responses,omitempty"`
	ConfidenceBoost float64        `json:"confidence_boost"`
	OriginalMessage string         `json:"original_message"`
}

func (e *DraftingUnblocked) Kind() Type     { return TypeDraftingUnblocked }
func (e *DraftingUnblocked) Env() *Envelope { return &e.Envelope }

// DraftCreated terminates the chain with the final draft.
type DraftCreated struct {
	Envelope
	Draft draft.Draft `json:"draft"`
}

func (e *DraftCreated) Kind() Type     { return TypeDraftCreated }
func (e *DraftCreated) Env() *Envelope { return &e.Envelope }
