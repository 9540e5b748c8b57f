package engine

import (
	"context"
	"testing"
	"time"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/domain/event"
	"github.com/draftforge/draftforge/internal/domain/plan"
)

func testClarifierCfg() config.Clarifier {
	return config.Clarifier{
		BaseTimeout:   100 * time.Millisecond,
		ManyQuestions: 3,
		TimeoutBoost:  0.3,
	}
}

func clarificationRequest(t *testing.T, blocking bool, questions ...string) *event.ClarificationRequested {
	t.Helper()
	reqs := make([]plan.ClarificationRequest, 0, len(questions))
	for _, q := range questions {
		reqs = append(reqs, plan.ClarificationRequest{Question: q, Blocking: blocking})
	}
	return &event.ClarificationRequested{
		Envelope:        testEnvelope(t),
		Requests:        reqs,
		BlocksPlanning:  blocking,
		OriginalMessage: "book the meeting",
	}
}

// answerAsync delivers responses once the clarifier starts waiting.
func answerAsync(c *ClarifierStep, threadID string, responses []string) {
	go func() {
		env, _ := event.NewEnvelope(threadID, "user-1", event.Metadata{})
		resp := &event.ClarificationResponse{Envelope: env, Responses: responses}
		for i := 0; i < 100; i++ {
			if c.Submit(resp) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestClarifierTimeoutRoutesToPlanning(t *testing.T) {
	cfg := testClarifierCfg()
	cfg.BaseTimeout = 10 * time.Millisecond
	c := NewClarifierStep(staticModel("unused"), cfg, testModelCfg())

	out, err := c.Handle(context.Background(), clarificationRequest(t, true, "Which meeting?"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected completion + routed event, got %d", len(out))
	}

	done, ok := out[0].(*event.ClarifierCompleted)
	if !ok {
		t.Fatalf("expected clarify.completed first, got %s", out[0].Kind())
	}
	if done.Successful {
		t.Error("a timed-out wait must not report success")
	}
	if done.Action != plan.RouteUnblockPlanning {
		t.Errorf("blocking timeout must unblock planning, got %s", done.Action)
	}

	unblocked, ok := out[1].(*event.PlanningUnblocked)
	if !ok {
		t.Fatalf("expected plan.unblocked, got %s", out[1].Kind())
	}
	if unblocked.ConfidenceBoost != 0.3 {
		t.Errorf("expected timeout boost 0.3, got %.2f", unblocked.ConfidenceBoost)
	}
}

func TestClarifierTimeoutRoutesToDrafting(t *testing.T) {
	cfg := testClarifierCfg()
	cfg.BaseTimeout = 10 * time.Millisecond
	c := NewClarifierStep(staticModel("unused"), cfg, testModelCfg())

	out, err := c.Handle(context.Background(), clarificationRequest(t, false, "Formal tone?"))
	if err != nil {
		t.Fatal(err)
	}

	unblocked, ok := out[1].(*event.DraftingUnblocked)
	if !ok {
		t.Fatalf("non-blocking timeout must unblock drafting, got %s", out[1].Kind())
	}
	if unblocked.ConfidenceBoost != 0.3 {
		t.Errorf("expected timeout boost 0.3, got %.2f", unblocked.ConfidenceBoost)
	}
}

func TestClarifierResponseRoutesToDrafting(t *testing.T) {
	c := NewClarifierStep(staticModel(`{
		"intent_changed": false,
		"planning_unblocked": false,
		"draft_ready": true,
		"confidence": 0.9,
		"key_insights": ["user wants the 3pm slot"]
	}`), testClarifierCfg(), testModelCfg())

	req := clarificationRequest(t, false, "Which slot?")
	answerAsync(c, req.ThreadID, []string{"the 3pm one"})

	out, err := c.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	done := out[0].(*event.ClarifierCompleted)
	if !done.Successful {
		t.Error("an answered wait must report success")
	}

	unblocked, ok := out[1].(*event.DraftingUnblocked)
	if !ok {
		t.Fatalf("expected draft.unblocked, got %s", out[1].Kind())
	}
	if len(unblocked.Responses) != 1 || unblocked.Responses[0] != "the 3pm one" {
		t.Errorf("responses must ride along, got %v", unblocked.Responses)
	}
	if len(unblocked.Insights) != 1 {
		t.Errorf("insights must ride along, got %v", unblocked.Insights)
	}
}

func TestClarifierIntentChangeTriggersReplan(t *testing.T) {
	c := NewClarifierStep(staticModel(`{
		"intent_changed": true,
		"planning_unblocked": false,
		"draft_ready": false,
		"confidence": 0.8
	}`), testClarifierCfg(), testModelCfg())

	req := clarificationRequest(t, true, "Did you mean next week?")
	answerAsync(c, req.ThreadID, []string{"actually, cancel it instead"})

	out, err := c.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out[1].(*event.ReplanRequested); !ok {
		t.Fatalf("intent change must trigger replan, got %s", out[1].Kind())
	}
}

func TestClarifierRecommendationOverridesDerivedRoute(t *testing.T) {
	c := NewClarifierStep(staticModel(`{
		"intent_changed": false,
		"planning_unblocked": true,
		"draft_ready": false,
		"confidence": 0.8,
		"routing_recommendation": "unblock_drafting"
	}`), testClarifierCfg(), testModelCfg())

	req := clarificationRequest(t, true, "OK?")
	answerAsync(c, req.ThreadID, []string{"yes"})

	out, err := c.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out[1].(*event.DraftingUnblocked); !ok {
		t.Fatalf("valid recommendation must override, got %s", out[1].Kind())
	}
}

func TestClarifierFallbackAnalysisOnGarbage(t *testing.T) {
	c := NewClarifierStep(staticModel("no json here"), testClarifierCfg(), testModelCfg())

	// The fallback analysis always declares planning unblocked, and that arm
	// outranks draft_ready even when enough answers arrived.
	req := clarificationRequest(t, false, "Q1?", "Q2?")
	answerAsync(c, req.ThreadID, []string{"a1", "a2"})

	out, err := c.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out[1].(*event.PlanningUnblocked); !ok {
		t.Fatalf("fallback analysis must unblock planning, got %s", out[1].Kind())
	}
}

func TestClarifierPlanningUnblockedOutranksBlockingFlag(t *testing.T) {
	c := NewClarifierStep(staticModel(`{
		"intent_changed": false,
		"planning_unblocked": true,
		"draft_ready": false,
		"confidence": 0.8
	}`), testClarifierCfg(), testModelCfg())

	// Even a non-blocking clarification must return to planning when the
	// analysis says planning is unblocked.
	req := clarificationRequest(t, false, "Which calendar?")
	answerAsync(c, req.ThreadID, []string{"the work one"})

	out, err := c.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out[1].(*event.PlanningUnblocked); !ok {
		t.Fatalf("planning_unblocked must emit plan.unblocked, got %s", out[1].Kind())
	}
}

func TestClarifierWaitTimeoutScaling(t *testing.T) {
	cfg := config.Clarifier{BaseTimeout: 100 * time.Second, ManyQuestions: 3, TimeoutBoost: 0.3}
	c := NewClarifierStep(staticModel("unused"), cfg, testModelCfg())

	tests := []struct {
		name      string
		questions int
		blocking  bool
		want      time.Duration
	}{
		{"base", 1, false, 100 * time.Second},
		{"many questions", 4, false, 150 * time.Second},
		{"blocking", 1, true, 120 * time.Second},
		{"many and blocking", 4, true, 180 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			questions := make([]string, tt.questions)
			for i := range questions {
				questions[i] = "q"
			}
			req := clarificationRequest(t, tt.blocking, questions...)
			if got := c.waitTimeout(req); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClarifierPromptCallbackFires(t *testing.T) {
	cfg := testClarifierCfg()
	cfg.BaseTimeout = 50 * time.Millisecond
	c := NewClarifierStep(staticModel("unused"), cfg, testModelCfg())

	got := make(chan ClarificationPrompt, 1)
	c.SetPromptCallback(func(p ClarificationPrompt) { got <- p })

	_, err := c.Handle(context.Background(), clarificationRequest(t, true, "Which one?"))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if len(p.Questions) != 1 || p.Questions[0] != "Which one?" {
			t.Errorf("unexpected prompt: %+v", p)
		}
		if !p.Blocking {
			t.Error("blocking flag must be carried")
		}
	case <-time.After(time.Second):
		t.Fatal("prompt callback never fired")
	}
}

func TestClarifierSubmitWithoutWaiter(t *testing.T) {
	c := NewClarifierStep(staticModel("unused"), testClarifierCfg(), testModelCfg())
	env, _ := event.NewEnvelope("nobody-waiting", "user-1", event.Metadata{})
	if c.Submit(&event.ClarificationResponse{Envelope: env, Responses: []string{"x"}}) {
		t.Error("submit without a waiting thread must report false")
	}
}
