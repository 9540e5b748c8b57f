// Package modelclient defines the port for the external text-completion
// capability. The engine treats its output as untrusted free text.
package modelclient

import "context"

// Request is one completion request.
type Request struct {
	Prompt      string
	MaxTokens   int     // zero means the adapter's default
	Temperature float64 // negative means the adapter's default
}

// Client is the port interface for asynchronous text completion.
// Failures may be transient (retryable) or permanent; callers classify them
// with the resilience package.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Client interface.
type Func func(ctx context.Context, req Request) (string, error)

// Complete implements Client.
func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
