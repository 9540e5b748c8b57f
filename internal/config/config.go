// Package config provides hierarchical configuration loading for DraftForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the DraftForge engine.
type Config struct {
	Model     Model     `yaml:"model"`
	Registry  Registry  `yaml:"registry"`
	Planner   Planner   `yaml:"planner"`
	Clarifier Clarifier `yaml:"clarifier"`
	Drafter   Drafter   `yaml:"drafter"`
	Engine    Engine    `yaml:"engine"`
	Cache     Cache     `yaml:"cache"`
	NATS      NATS      `yaml:"nats"`
	MCP       MCP       `yaml:"mcp"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
}

// Model holds text-completion client configuration.
type Model struct {
	URL         string        `yaml:"url"`         // LiteLLM proxy base URL
	APIKey      string        `yaml:"api_key"`     // bearer key for the proxy
	Name        string        `yaml:"name"`        // model name, e.g. "openai/gpt-4o-mini"
	MaxTokens   int           `yaml:"max_tokens"`  // default completion budget
	Temperature float64       `yaml:"temperature"` // default sampling temperature
	Timeout     time.Duration `yaml:"timeout"`     // per-request HTTP timeout
	MaxRetries  int           `yaml:"max_retries"` // transient-failure retries per call
	RetryDelay  time.Duration `yaml:"retry_delay"` // base backoff delay
}

// Registry holds tool-execution configuration.
type Registry struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"` // per-tool deadline (default 300s)
	DefaultRetries int           `yaml:"default_retries"` // per-tool retry count (default 2)
	MaxBackoff     time.Duration `yaml:"max_backoff"`     // cap on retry sleep (default 10s)
}

// Planner holds intent-analysis configuration.
type Planner struct {
	HistoryTurns         int     `yaml:"history_turns"`         // history turns embedded in the prompt (default 5)
	ClarifyThreshold     float64 `yaml:"clarify_threshold"`     // below this, ask a blocking question (default 0.7)
	ReplanThreshold      float64 `yaml:"replan_threshold"`      // below this, route results back to the planner (default 0.8)
	SequentialComplexity string  `yaml:"sequential_complexity"` // complexity forcing sequential strategy (default "high")
	MaxParallelTools     int     `yaml:"max_parallel_tools"`    // above this, force sequential (default 3)
}

// Clarifier holds clarification-wait configuration.
type Clarifier struct {
	BaseTimeout   time.Duration `yaml:"base_timeout"`   // wait for user responses (default 300s)
	ManyQuestions int           `yaml:"many_questions"` // question count triggering the 1.5x factor (default 3)
	TimeoutBoost  float64       `yaml:"timeout_boost"`  // confidence boost on the timeout path (default 0.3)
}

// Drafter holds draft-generation configuration.
type Drafter struct {
	CompletenessFloor float64 `yaml:"completeness_floor"` // minimum score for is_complete (default 0.7)
}

// Engine holds workflow-loop configuration.
type Engine struct {
	MaxCycles int `yaml:"max_cycles"` // replan cycles per chat before forcing a draft (default 8)
}

// Cache holds tool-result cache configuration.
type Cache struct {
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// NATS holds optional workflow-event egress configuration.
type NATS struct {
	URL string `yaml:"url"` // empty disables egress
}

// MCP holds optional MCP tool-server configuration.
type MCP struct {
	Transport string            `yaml:"transport"` // "stdio" | "sse" | "streamable_http"
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
	Headers   map[string]string `yaml:"headers"`
}

// Logging holds log output configuration.
type Logging struct {
	Level    string `yaml:"level"`
	Service  string `yaml:"service"`
	Async    bool   `yaml:"async"`
	ChanSize int    `yaml:"chan_size"`
	Workers  int    `yaml:"workers"`
}

// Breaker holds circuit breaker configuration for the model client.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Model: Model{
			URL:         "http://localhost:4000",
			Name:        "openai/gpt-4o-mini",
			MaxTokens:   2048,
			Temperature: 0.2,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
			RetryDelay:  time.Second,
		},
		Registry: Registry{
			DefaultTimeout: 300 * time.Second,
			DefaultRetries: 2,
			MaxBackoff:     10 * time.Second,
		},
		Planner: Planner{
			HistoryTurns:         5,
			ClarifyThreshold:     0.7,
			ReplanThreshold:      0.8,
			SequentialComplexity: "high",
			MaxParallelTools:     3,
		},
		Clarifier: Clarifier{
			BaseTimeout:   300 * time.Second,
			ManyQuestions: 3,
			TimeoutBoost:  0.3,
		},
		Drafter: Drafter{
			CompletenessFloor: 0.7,
		},
		Engine: Engine{
			MaxCycles: 8,
		},
		Cache: Cache{
			MaxSizeMB: 64,
		},
		Logging: Logging{
			Level:    "info",
			Service:  "draftforge",
			ChanSize: 1024,
			Workers:  1,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
	}
}
