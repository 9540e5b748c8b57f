// Package event defines the typed workflow events routed between steps and
// the shared envelope every event carries.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/domain"
)

// Type identifies the kind of workflow event.
type Type string

const (
	TypeUserMessage            Type = "chat.message"
	TypeClarificationRequested Type = "clarify.requested"
	TypeClarificationResponse  Type = "clarify.response"
	TypeClarifierCompleted     Type = "clarify.completed"
	TypeToolsRequested         Type = "tools.requested"
	TypeToolResultsForPlanner  Type = "tools.results.planner"
	TypeToolResultsForDrafter  Type = "tools.results.drafter"
	TypeExecutorCompleted      Type = "tools.completed"
	TypeContextUpdated         Type = "context.updated"
	TypeReplanRequested        Type = "plan.replan"
	TypePlanningUnblocked      Type = "plan.unblocked"
	TypeDraftingUnblocked      Type = "draft.unblocked"
	TypeDraftCreated           Type = "draft.created"
)

// Priority orders events of the same conversation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Metadata is the shared metadata record on every event envelope.
type Metadata struct {
	Confidence    *float64       `json:"confidence,omitempty"` // must be in [0,1] when set
	Priority      Priority       `json:"priority"`
	RetryCount    int            `json:"retry_count"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// Envelope is the common header shared by all workflow events.
// Construction validates the shared fields; an event with an empty thread or
// user identifier never enters the engine.
type Envelope struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEnvelope builds a validated envelope for a conversation.
func NewEnvelope(threadID, userID string, meta Metadata) (Envelope, error) {
	if threadID == "" {
		return Envelope{}, fmt.Errorf("%w: thread_id is required", domain.ErrValidation)
	}
	if userID == "" {
		return Envelope{}, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if meta.Confidence != nil && (*meta.Confidence < 0 || *meta.Confidence > 1) {
		return Envelope{}, fmt.Errorf("%w: confidence %.2f outside [0,1]", domain.ErrValidation, *meta.Confidence)
	}
	if meta.RetryCount < 0 {
		return Envelope{}, fmt.Errorf("%w: retry_count must be >= 0", domain.ErrValidation)
	}
	if meta.Priority == "" {
		meta.Priority = PriorityMedium
	}

	return Envelope{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		UserID:    userID,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}, nil
}

// Child derives an envelope for an event emitted in response to this one:
// fresh ID, same conversation, parent back-reference, inherited context and
// retry count.
func (e *Envelope) Child() Envelope {
	return Envelope{
		ID:       uuid.NewString(),
		ThreadID: e.ThreadID,
		UserID:   e.UserID,
		Metadata: Metadata{
			Priority:      e.Metadata.Priority,
			RetryCount:    e.Metadata.RetryCount,
			ParentEventID: e.ID,
			Context:       e.Metadata.Context,
		},
		CreatedAt: time.Now(),
	}
}

// Event is the tagged-union surface for the engine's dispatch table.
type Event interface {
	Kind() Type
	Env() *Envelope
}

// Message is one turn of conversation history carried on events.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
