package plan

import (
	"fmt"

	"github.com/draftforge/draftforge/internal/domain"
)

// ClarificationRequest is one question the planner wants answered before or
// alongside tool execution.
type ClarificationRequest struct {
	Question         string         `json:"question"`
	Blocking         bool           `json:"blocking"` // resolving this gates planning
	ConfidenceImpact float64        `json:"confidence_impact"`
	Context          map[string]any `json:"context,omitempty"`
}

// Validate checks the request's invariants.
func (r *ClarificationRequest) Validate() error {
	if r.Question == "" {
		return fmt.Errorf("%w: clarification question is required", domain.ErrValidation)
	}
	if r.ConfidenceImpact < 0 || r.ConfidenceImpact > 1 {
		return fmt.Errorf("%w: confidence_impact %.2f outside [0,1]", domain.ErrValidation, r.ConfidenceImpact)
	}
	return nil
}

// Routing is the clarifier's chosen destination after analyzing responses.
type Routing string

const (
	RouteReplan          Routing = "replan"
	RouteUnblockPlanning Routing = "unblock_planning"
	RouteUnblockDrafting Routing = "unblock_drafting"
)

// ValidRouting reports whether s is one of the three routing actions.
func ValidRouting(s string) bool {
	switch Routing(s) {
	case RouteReplan, RouteUnblockPlanning, RouteUnblockDrafting:
		return true
	}
	return false
}

// ClarificationAnalysis is the structured output parsed from the model's
// reading of the user's clarification responses.
type ClarificationAnalysis struct {
	IntentChanged         bool           `json:"intent_changed"`
	PlanningUnblocked     bool           `json:"planning_unblocked"`
	DraftReady            bool           `json:"draft_ready"`
	Confidence            float64        `json:"confidence"`
	KeyInsights           []string       `json:"key_insights,omitempty"`
	RoutingRecommendation string         `json:"routing_recommendation,omitempty"`
	ContextUpdates        map[string]any `json:"context_updates,omitempty"`
}

// FallbackClarificationAnalysis is the deterministic substitute used when the
// model's response cannot be parsed. Drafting is considered ready when the
// user answered at least two questions.
func FallbackClarificationAnalysis(responseCount int) ClarificationAnalysis {
	return ClarificationAnalysis{
		IntentChanged:     false,
		PlanningUnblocked: true,
		DraftReady:        responseCount >= 2,
		Confidence:        0.5,
	}
}
