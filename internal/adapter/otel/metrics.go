// Package otel provides OpenTelemetry metric instruments for the workflow
// engine and tool registry.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "draftforge"

// Metrics holds all DraftForge metric instruments. Services accept a nil
// *Metrics and skip recording.
type Metrics struct {
	ChatsStarted   metric.Int64Counter
	ChatsCompleted metric.Int64Counter
	ChatsFailed    metric.Int64Counter
	ToolCalls      metric.Int64Counter
	CacheHits      metric.Int64Counter
	DraftDuration  metric.Float64Histogram
	ToolDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ChatsStarted, err = meter.Int64Counter("draftforge.chats.started",
		metric.WithDescription("Number of chat cycles started"))
	if err != nil {
		return nil, err
	}

	m.ChatsCompleted, err = meter.Int64Counter("draftforge.chats.completed",
		metric.WithDescription("Number of chat cycles that produced a draft"))
	if err != nil {
		return nil, err
	}

	m.ChatsFailed, err = meter.Int64Counter("draftforge.chats.failed",
		metric.WithDescription("Number of chat cycles that fell back to an apology draft"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("draftforge.toolcalls",
		metric.WithDescription("Number of tool invocations"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("draftforge.cache.hits",
		metric.WithDescription("Number of tool-result cache hits"))
	if err != nil {
		return nil, err
	}

	m.DraftDuration, err = meter.Float64Histogram("draftforge.draft.duration_seconds",
		metric.WithDescription("Chat cycle duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ToolDuration, err = meter.Float64Histogram("draftforge.tool.duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
