// Package registry schedules tool invocations with caching, bounded retry,
// per-call timeouts, and parallel/sequential batch execution. It is the only
// process-wide shared state in the workflow engine; all map access is
// synchronized under a single mutex.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/draftforge/draftforge/internal/adapter/otel"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/domain"
	"github.com/draftforge/draftforge/internal/domain/tool"
	"github.com/draftforge/draftforge/internal/port/cache"
	"github.com/draftforge/draftforge/internal/port/toolrunner"
	"github.com/draftforge/draftforge/internal/resilience"
)

// cacheEntry wraps one stored tool result with its bookkeeping.
type cacheEntry struct {
	Result       tool.Result   `json:"result"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"ttl"`
	AccessCount  int           `json:"access_count"`
	LastAccessed time.Time     `json:"last_accessed"`
}

// expired reports whether the entry is past created_at + ttl.
func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// CacheMetrics is a snapshot of cache effectiveness counters.
type CacheMetrics struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Registry holds per-tool metadata and executes tool calls. An explicitly
// owned instance is passed to the executor step; there is no hidden global.
type Registry struct {
	runner  toolrunner.Runner
	store   cache.Cache // nil disables caching
	cfg     config.Registry
	metrics *otel.Metrics

	mu        sync.Mutex
	tools     map[string]tool.Metadata
	stats     map[string]*tool.Stats
	cacheInfo CacheMetrics

	now   func() time.Time                          // for testing
	sleep func(context.Context, time.Duration) error // for testing
}

// New creates a Registry. store may be nil to disable caching and metrics
// may be nil to disable instrument recording.
func New(runner toolrunner.Runner, store cache.Cache, cfg config.Registry, metrics *otel.Metrics) *Registry {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = tool.DefaultTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Registry{
		runner:  runner,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		tools:   make(map[string]tool.Metadata),
		stats:   make(map[string]*tool.Stats),
		now:     time.Now,
		sleep:   ctxSleep,
	}
}

// SetClock overrides the time source, used by tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// SetSleep overrides the retry backoff sleep, used by tests.
func (r *Registry) SetSleep(fn func(context.Context, time.Duration) error) { r.sleep = fn }

// Register stores metadata for a tool, replacing any previous registration.
func (r *Registry) Register(meta tool.Metadata) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	r.mu.Lock()
	r.tools[meta.Name] = meta
	r.mu.Unlock()
	return nil
}

// Metadata resolves a tool's metadata, substituting defaults for unknown
// names without registering them.
func (r *Registry) Metadata(name string) tool.Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.tools[name]; ok {
		return meta
	}
	return tool.DefaultMetadata(name)
}

// Known reports whether the tool was explicitly registered.
func (r *Registry) Known(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	return ok
}

// Stats returns a snapshot of the execution counters for one tool.
func (r *Registry) Stats(name string) tool.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[name]; ok {
		return *s
	}
	return tool.Stats{}
}

// AllStats returns a snapshot of execution counters for every tool that ran.
func (r *Registry) AllStats() map[string]tool.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]tool.Stats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}

// Cache returns a snapshot of the cache effectiveness counters.
func (r *Registry) Cache() CacheMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cacheInfo
}

// ExecuteTool runs one tool call with cache lookup, bounded retry, and a
// per-call timeout. It always returns a result; failures are captured, never
// raised past this boundary.
func (r *Registry) ExecuteTool(ctx context.Context, call tool.Call, useCache bool) tool.Result {
	key := CacheKey(call.Name, call.Inputs)

	if useCache && r.store != nil {
		if res, ok := r.lookup(ctx, call.Name, key); ok {
			return res
		}
	}

	meta := r.Metadata(call.Name)
	result := r.executeWithTimeoutAndRetry(ctx, meta, call)

	if result.Success && useCache && r.store != nil && meta.Cacheable() {
		r.storeResult(ctx, key, meta, result)
		result.Cached = true
	}

	r.recordStats(result)
	r.recordMetrics(ctx, result)
	return result
}

// ExecuteBatch runs a batch of tool calls, splitting parallel-safe tools
// from sequential-only ones. The parallel set runs concurrently, bounded by
// the batch size; the sequential set runs afterwards, one at a time, in
// input order adjusted for declared dependencies. A failure of one tool
// never cancels its siblings: every call yields a result.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []tool.Call, useCache bool) map[string]tool.Result {
	var parallel, sequential []tool.Call
	for _, c := range calls {
		if r.Metadata(c.Name).ParallelSafe() {
			parallel = append(parallel, c)
		} else {
			sequential = append(sequential, c)
		}
	}

	results := make(map[string]tool.Result, len(calls))
	var resMu sync.Mutex

	if len(parallel) > 0 {
		sem := semaphore.NewWeighted(int64(len(parallel)))
		var wg sync.WaitGroup
		for _, c := range parallel {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Context cancelled: record a failure and keep going so the
				// aggregate still has one result per call.
				resMu.Lock()
				results[c.Name] = failedResult(c.Name, err, r.now())
				resMu.Unlock()
				continue
			}
			wg.Add(1)
			go func(c tool.Call) {
				defer wg.Done()
				defer sem.Release(1)
				res := r.ExecuteTool(ctx, c, useCache)
				resMu.Lock()
				results[c.Name] = res
				resMu.Unlock()
			}(c)
		}
		wg.Wait()
	}

	for _, c := range orderByDependencies(sequential, r) {
		results[c.Name] = r.ExecuteTool(ctx, c, useCache)
	}

	return results
}

// lookup returns a live cache entry for the key, evicting expired entries.
func (r *Registry) lookup(ctx context.Context, name, key string) (tool.Result, bool) {
	data, found, err := r.store.Get(ctx, key)
	if err != nil || !found {
		r.bumpCache(func(c *CacheMetrics) { c.Misses++ })
		return tool.Result{}, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.bumpCache(func(c *CacheMetrics) { c.Misses++ })
		_ = r.store.Delete(ctx, key)
		return tool.Result{}, false
	}

	now := r.now()
	if entry.expired(now) {
		_ = r.store.Delete(ctx, key)
		r.bumpCache(func(c *CacheMetrics) {
			c.Misses++
			c.Evictions++
		})
		return tool.Result{}, false
	}

	entry.AccessCount++
	entry.LastAccessed = now
	if updated, err := json.Marshal(&entry); err == nil {
		// Preserve the remaining TTL rather than restarting it.
		remaining := entry.CreatedAt.Add(entry.TTL).Sub(now)
		_ = r.store.Set(ctx, key, updated, remaining)
	}

	r.bumpCache(func(c *CacheMetrics) { c.Hits++ })
	r.mu.Lock()
	r.statsFor(name).CacheHits++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.CacheHits.Add(ctx, 1)
	}

	res := entry.Result
	res.CacheHit = true
	return res, true
}

// storeResult wraps the result in a cache entry and stores it under the
// tool's TTL.
func (r *Registry) storeResult(ctx context.Context, key string, meta tool.Metadata, result tool.Result) {
	entry := cacheEntry{
		Result:       result,
		CreatedAt:    r.now(),
		TTL:          meta.CacheTTL,
		LastAccessed: r.now(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		slog.Warn("tool result not cacheable", "tool", meta.Name, "error", err)
		return
	}
	if err := r.store.Set(ctx, key, data, meta.CacheTTL); err != nil {
		slog.Warn("cache store failed", "tool", meta.Name, "error", err)
	}
}

// executeWithTimeoutAndRetry runs one call under the tool's deadline with
// bounded retries. Timeouts terminate the call; transient errors back off
// with min(2^attempt, max) seconds; permanent errors stop immediately.
func (r *Registry) executeWithTimeoutAndRetry(ctx context.Context, meta tool.Metadata, call tool.Call) tool.Result {
	retries := meta.RetryCount
	if retries < 0 {
		retries = r.cfg.DefaultRetries
	}
	timeout := meta.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	start := r.now()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<attempt) * time.Second
			if delay > r.cfg.MaxBackoff {
				delay = r.cfg.MaxBackoff
			}
			if err := r.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		data, err := r.runOnce(ctx, timeout, call)
		if err == nil {
			return tool.Result{
				ToolName:      call.Name,
				Data:          data,
				ExecutionTime: r.now().Sub(start),
				Success:       true,
				Timestamp:     r.now(),
			}
		}

		lastErr = err
		if isTimeout(err) {
			// The in-flight call was cancelled; the deadline is terminal.
			break
		}
		if !resilience.Retryable(err) {
			break
		}
		slog.Debug("tool call retrying",
			"tool", call.Name,
			"attempt", attempt+1,
			"error", err,
		)
	}

	res := failedResult(call.Name, lastErr, r.now())
	res.ExecutionTime = r.now().Sub(start)
	return res
}

// runOnce executes the underlying call bounded by the timeout, cancelling
// the in-flight call on expiry.
func (r *Registry) runOnce(ctx context.Context, timeout time.Duration, call tool.Call) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, rec)}
			}
		}()
		data, err := r.runner.Call(callCtx, call.Name, call.Inputs)
		done <- outcome{data: data, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", domain.ErrToolTimeout, call.Name, timeout)
	case out := <-done:
		// The runner may observe the expired deadline and return before the
		// Done arm is chosen. That is still a timeout, and timeouts are
		// terminal, never retried.
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", domain.ErrToolTimeout, call.Name, timeout)
		}
		return out.data, out.err
	}
}

func (r *Registry) recordStats(res tool.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statsFor(res.ToolName)
	s.Executions++
	s.TotalDuration += res.ExecutionTime
	if res.Success {
		s.Successes++
	} else {
		s.Failures++
	}
}

func (r *Registry) recordMetrics(ctx context.Context, res tool.Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.ToolCalls.Add(ctx, 1)
	r.metrics.ToolDuration.Record(ctx, res.ExecutionTime.Seconds())
}

// statsFor must be called with r.mu held.
func (r *Registry) statsFor(name string) *tool.Stats {
	s, ok := r.stats[name]
	if !ok {
		s = &tool.Stats{}
		r.stats[name] = s
	}
	return s
}

func (r *Registry) bumpCache(fn func(*CacheMetrics)) {
	r.mu.Lock()
	fn(&r.cacheInfo)
	r.mu.Unlock()
}

// orderByDependencies reorders the sequential leg so a tool whose declared
// dependencies appear in the same leg runs after them. The pass is stable;
// cycles degrade to input order.
func orderByDependencies(calls []tool.Call, r *Registry) []tool.Call {
	if len(calls) < 2 {
		return calls
	}

	inLeg := make(map[string]bool, len(calls))
	for _, c := range calls {
		inLeg[c.Name] = true
	}

	ordered := make([]tool.Call, 0, len(calls))
	placed := make(map[string]bool, len(calls))
	remaining := append([]tool.Call(nil), calls...)

	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, c := range remaining {
			ready := true
			for _, dep := range r.Metadata(c.Name).Dependencies {
				if inLeg[dep] && !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, c)
				placed[c.Name] = true
				progressed = true
			} else {
				next = append(next, c)
			}
		}
		remaining = next
		if !progressed {
			// Dependency cycle: fall back to input order for the rest.
			ordered = append(ordered, remaining...)
			break
		}
	}
	return ordered
}

func failedResult(name string, err error, now time.Time) tool.Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return tool.Result{
		ToolName:     name,
		Success:      false,
		ErrorMessage: msg,
		Timestamp:    now,
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, domain.ErrToolTimeout)
}

// ctxSleep waits for d or until the context is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
