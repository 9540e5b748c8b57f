package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration // optional per-record processing delay
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *recordingHandler) last() slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records[len(h.records)-1]
}

// attrValue walks a record's attrs for the named key.
func attrValue(rec slog.Record, key string) (slog.Value, bool) {
	var v slog.Value
	var found bool
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v, found = a.Value, true
			return false
		}
		return true
	})
	return v, found
}

func TestAsyncHandlerBasicWrite(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 100, 1)

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	if err := ah.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	ah.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestAsyncHandlerConcurrentWrites(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 20
	total := goroutines * perGoroutine

	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, total, 4)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perGoroutine {
				rec := slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0)
				_ = ah.Handle(context.Background(), rec)
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records, got %d", total, got)
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	inner := &recordingHandler{delay: 50 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 20 {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0)
		_ = ah.Handle(context.Background(), rec)
	}

	if ah.DroppedCount() == 0 {
		t.Error("expected drops when the queue is full")
	}
	ah.Close()

	// Close writes one summary record naming the drop total.
	last := ah.DroppedCount()
	rec := inner.last()
	if rec.Message != "log queue overflowed" {
		t.Fatalf("expected an overflow summary, got %q", rec.Message)
	}
	v, ok := attrValue(rec, "dropped_records")
	if !ok || v.Int64() != last {
		t.Errorf("summary should carry dropped_records=%d, got %v", last, v)
	}
}

func TestAsyncHandlerCarriesThreadID(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 4, 1)

	ctx := WithThreadID(context.Background(), "thread-42")
	_ = ah.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "planned", 0))
	ah.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
	v, ok := attrValue(inner.last(), "thread_id")
	if !ok || v.String() != "thread-42" {
		t.Errorf("record should carry the conversation thread id, got %v", v)
	}
}
