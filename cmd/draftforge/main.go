// Command draftforge runs the conversational task assistant: an interactive
// chat loop over the event-driven workflow engine.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/adapter/litellm"
	"github.com/draftforge/draftforge/internal/adapter/mcp"
	natsadapter "github.com/draftforge/draftforge/internal/adapter/nats"
	"github.com/draftforge/draftforge/internal/adapter/otel"
	"github.com/draftforge/draftforge/internal/adapter/ristretto"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/domain/event"
	"github.com/draftforge/draftforge/internal/domain/tool"
	"github.com/draftforge/draftforge/internal/engine"
	"github.com/draftforge/draftforge/internal/logger"
	"github.com/draftforge/draftforge/internal/port/broadcast"
	"github.com/draftforge/draftforge/internal/port/toolrunner"
	"github.com/draftforge/draftforge/internal/registry"
	"github.com/draftforge/draftforge/internal/resilience"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "draftforge:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer store.Close()

	model := litellm.NewClient(
		cfg.Model.URL, cfg.Model.APIKey, cfg.Model.Name,
		cfg.Model.MaxTokens, cfg.Model.Temperature, cfg.Model.Timeout,
	)
	model.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	runner, cleanup, err := buildRunner(ctx, cfg.MCP)
	if err != nil {
		return fmt.Errorf("tool runner: %w", err)
	}
	defer cleanup()

	var hub broadcast.Broadcaster
	if cfg.NATS.URL != "" {
		nc, err := natsadapter.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Close()
		hub = nc
		slog.Info("workflow event egress enabled", "url", cfg.NATS.URL)
	}

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	reg := registry.New(runner, store, cfg.Registry, metrics)
	registerDefaultTools(reg)

	eng := engine.New(
		engine.NewPlannerStep(model, cfg.Planner, cfg.Model),
		engine.NewExecutorStep(reg),
		engine.NewClarifierStep(model, cfg.Clarifier, cfg.Model),
		engine.NewDrafterStep(model, cfg.Drafter, cfg.Model),
		reg, hub, metrics, cfg.Engine,
	)

	return chatLoop(ctx, eng)
}

// buildRunner connects the MCP tool backend when configured, otherwise a
// stub that fails every call so the workflow degrades instead of hanging.
func buildRunner(ctx context.Context, cfg config.MCP) (toolrunner.Runner, func(), error) {
	if cfg.Transport == "" {
		slog.Warn("no tool backend configured, tool calls will fail")
		stub := toolrunner.Func(func(context.Context, string, map[string]any) (any, error) {
			return nil, fmt.Errorf("no tool backend configured")
		})
		return stub, func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	r, err := mcp.Connect(connectCtx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

// registerDefaultTools seeds metadata for the tools the planner commonly
// suggests. Unknown tools still run with lazy defaults.
func registerDefaultTools(reg *registry.Registry) {
	defaults := []tool.Metadata{
		{
			Name:     "web_search",
			Hints:    []tool.Hint{tool.HintParallelSafe, tool.HintCacheFriendly},
			CacheTTL: 15 * time.Minute,
		},
		{
			Name:     "document_lookup",
			Hints:    []tool.Hint{tool.HintParallelSafe, tool.HintCacheFriendly, tool.HintFast},
			CacheTTL: 10 * time.Minute,
		},
		{
			Name:  "email_search",
			Hints: []tool.Hint{tool.HintParallelSafe, tool.HintRealTime},
		},
		{
			Name:         "calendar_lookup",
			Hints:        []tool.Hint{tool.HintSequentialOnly, tool.HintRealTime},
			Dependencies: []string{"email_search"},
		},
	}
	for _, meta := range defaults {
		if err := reg.Register(meta); err != nil {
			slog.Warn("skipping tool registration", "tool", meta.Name, "error", err)
		}
	}
}

// chatLoop reads user turns from stdin and prints each draft. Clarification
// questions interleave on the same stream while the engine blocks.
func chatLoop(ctx context.Context, eng *engine.Engine) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	threadID := uuid.NewString()
	userID := "local"
	var history []event.Message

	eng.OnClarification(func(p engine.ClarificationPrompt) {
		fmt.Println()
		for i, q := range p.Questions {
			fmt.Printf("[clarification %d/%d] %s\n", i+1, len(p.Questions), q)
		}
		responses := make([]string, 0, len(p.Questions))
		for range p.Questions {
			fmt.Print("answer> ")
			line, ok := <-lines
			if !ok {
				return
			}
			responses = append(responses, line)
		}
		if err := eng.SubmitClarification(p.ThreadID, p.UserID, responses); err != nil {
			slog.Warn("clarification not delivered", "error", err)
		}
	})

	fmt.Println("draftforge ready. Type a request, Ctrl-D to exit.")
	for {
		fmt.Print("> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok = <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
		}
		if line == "" {
			continue
		}

		result, err := eng.Chat(ctx, engine.ChatRequest{
			ThreadID: threadID,
			UserID:   userID,
			Message:  line,
			History:  history,
		})
		if err != nil {
			fmt.Println("error:", err)
			continue
		}

		fmt.Printf("\n%s\n\n(draft v%d, %s, quality %.2f)\n",
			result.Content, result.Version, result.Type, result.QualityScore)

		history = append(history,
			event.Message{Role: "user", Content: line},
			event.Message{Role: "assistant", Content: result.Content},
		)
	}
}
