// Package toolrunner defines the port for invoking external tools.
package toolrunner

import "context"

// Runner executes one tool call. Implementations may raise arbitrary errors;
// the tool registry captures them into failed results.
type Runner interface {
	Call(ctx context.Context, name string, inputs map[string]any) (any, error)
}

// Func adapts a plain function to the Runner interface.
type Func func(ctx context.Context, name string, inputs map[string]any) (any, error)

// Call implements Runner.
func (f Func) Call(ctx context.Context, name string, inputs map[string]any) (any, error) {
	return f(ctx, name, inputs)
}
