// Package broadcast defines the port for publishing workflow lifecycle
// events to external observers.
package broadcast

import "context"

// Broadcaster publishes a typed workflow event. Implementations must be
// best-effort: a failed publish never affects the workflow itself.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop is a Broadcaster that discards everything.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, string, any) {}
