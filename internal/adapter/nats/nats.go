// Package nats publishes workflow lifecycle events to NATS for external
// observers. The in-process engine loop remains the event router; this
// adapter is egress only.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to every published event type.
const SubjectPrefix = "draftforge.workflow."

// Broadcaster implements the broadcast port over a NATS connection.
type Broadcaster struct {
	nc *nats.Conn
}

// Connect establishes a connection to NATS.
func Connect(url string) (*Broadcaster, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	slog.Info("nats connected", "url", url)
	return &Broadcaster{nc: nc}, nil
}

// BroadcastEvent publishes the payload as JSON on the event-type subject.
// Failures are logged and swallowed: egress never affects the workflow.
func (b *Broadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("broadcast marshal failed", "event_type", eventType, "error", err)
		return
	}
	if err := b.nc.Publish(SubjectPrefix+eventType, data); err != nil {
		slog.Error("broadcast publish failed", "event_type", eventType, "error", err)
	}
}

// Drain flushes pending messages and closes the connection.
func (b *Broadcaster) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection immediately.
func (b *Broadcaster) Close() {
	b.nc.Close()
}
