package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/draftforge/draftforge/internal/adapter/litellm"
	"github.com/draftforge/draftforge/internal/port/modelclient"
	"github.com/draftforge/draftforge/internal/resilience"
)

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "openai/gpt-4o-mini" {
			t.Fatalf("unexpected model: %v", req["model"])
		}
		msgs := req["messages"].([]any)
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionResponse("hello back"))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini", 2048, 0.2, 5*time.Second)
	text, err := client.Complete(context.Background(), modelclient.Request{Prompt: "hello", Temperature: -1})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "hello back" {
		t.Fatalf("expected hello back, got %q", text)
	}
}

func TestCompleteEmbedsStatusInError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"throttled"}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m", 0, 0, 5*time.Second)
	_, err := client.Complete(context.Background(), modelclient.Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("status code must be in the error for the retry classifier, got %v", err)
	}
	if !resilience.Retryable(err) {
		t.Error("429 must classify as retryable")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m", 0, 0, 5*time.Second)
	if _, err := client.Complete(context.Background(), modelclient.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestCompleteBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m", 0, 0, 5*time.Second)
	client.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := client.Complete(context.Background(), modelclient.Request{Prompt: "x"}); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	_, err := client.Complete(context.Background(), modelclient.Request{Prompt: "x"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
