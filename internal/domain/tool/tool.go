// Package tool defines tool metadata, call, and result entities for the
// tool-execution subsystem.
package tool

import (
	"errors"
	"time"
)

// Hint describes scheduling behavior of a tool.
type Hint string

const (
	HintParallelSafe   Hint = "parallel_safe"
	HintSequentialOnly Hint = "sequential_only"
	HintFast           Hint = "fast"
	HintSlow           Hint = "slow"
	HintCacheFriendly  Hint = "cache_friendly"
	HintRealTime       Hint = "real_time"
)

// Default execution bounds applied when a tool is registered without them.
const (
	DefaultTimeout    = 300 * time.Second
	DefaultRetryCount = 2
)

// Metadata describes how a tool is scheduled, retried, and cached.
type Metadata struct {
	Name              string        `json:"name"`
	Hints             []Hint        `json:"execution_hints"`
	Dependencies      []string      `json:"dependencies,omitempty"` // tools that must complete first
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	CacheTTL          time.Duration `json:"cache_ttl,omitempty"` // zero means never cache
	Timeout           time.Duration `json:"timeout"`
	RetryCount        int           `json:"retry_count"`
}

// DefaultMetadata returns the lazy-registration defaults for an unknown tool:
// parallel-safe, 300s timeout, 2 retries, no caching.
func DefaultMetadata(name string) Metadata {
	return Metadata{
		Name:       name,
		Hints:      []Hint{HintParallelSafe},
		Timeout:    DefaultTimeout,
		RetryCount: DefaultRetryCount,
	}
}

// Validate checks that the metadata is well-formed and fills in default bounds.
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return errors.New("tool name is required")
	}
	if m.Timeout <= 0 {
		m.Timeout = DefaultTimeout
	}
	if m.RetryCount < 0 {
		m.RetryCount = DefaultRetryCount
	}
	return nil
}

// Has reports whether the metadata carries the given hint.
func (m Metadata) Has(h Hint) bool {
	for _, have := range m.Hints {
		if have == h {
			return true
		}
	}
	return false
}

// ParallelSafe reports whether the tool may run concurrently with others.
// A sequential_only hint wins over parallel_safe.
func (m Metadata) ParallelSafe() bool {
	return !m.Has(HintSequentialOnly)
}

// Cacheable reports whether results of this tool may be stored:
// cache_friendly, not real_time, and a nonzero TTL.
func (m Metadata) Cacheable() bool {
	return m.Has(HintCacheFriendly) && !m.Has(HintRealTime) && m.CacheTTL > 0
}

// Call is one requested tool invocation.
type Call struct {
	Name   string         `json:"name"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// Result is the outcome of one tool invocation. Failures are captured here
// and never propagated past the registry boundary.
type Result struct {
	ToolName      string        `json:"tool_name"`
	Data          any           `json:"data,omitempty"` // nil on failure
	ExecutionTime time.Duration `json:"execution_time"`
	Success       bool          `json:"success"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Cached        bool          `json:"cached"`    // result was stored in the cache
	CacheHit      bool          `json:"cache_hit"` // result was served from the cache
	Timestamp     time.Time     `json:"timestamp"`
}

// Stats holds running execution counters for one tool.
type Stats struct {
	Executions    int           `json:"executions"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	CacheHits     int           `json:"cache_hits"`
	TotalDuration time.Duration `json:"total_duration"`
}

// AverageDuration returns the mean execution time, zero when never executed.
func (s *Stats) AverageDuration() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Executions)
}
