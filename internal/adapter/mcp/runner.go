// Package mcp implements the toolrunner port over the Model Context Protocol,
// invoking tools on an external MCP server.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/port/toolrunner"
)

// Transport names accepted in configuration.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable_http"
)

// Runner invokes tools on one MCP server.
type Runner struct {
	client mcpclient.MCPClient
}

var _ toolrunner.Runner = (*Runner)(nil)

// Connect builds a client for the configured server and performs the
// initialize handshake.
func Connect(ctx context.Context, cfg config.MCP) (*Runner, error) {
	client, err := createClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("mcp client: %w", err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "draftforge",
		Version: "1.0.0",
	}
	initResult, err := client.Initialize(ctx, initReq)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}

	slog.Info("mcp server connected",
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"transport", cfg.Transport,
	)
	return &Runner{client: client}, nil
}

// Call invokes the named tool with the given inputs and returns the
// concatenated text content of the result.
func (r *Runner) Call(ctx context.Context, name string, inputs map[string]any) (any, error) {
	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = inputs

	result, err := r.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s: %w", name, err)
	}

	text := ""
	for _, content := range result.Content {
		if tc, ok := content.(mcpprotocol.TextContent); ok {
			text += tc.Text
		}
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool %s failed: %s", name, text)
	}
	return text, nil
}

// Close shuts down the underlying MCP connection.
func (r *Runner) Close() error {
	return r.client.Close()
}

// createClient builds an mcp-go client for the configured transport.
func createClient(cfg config.MCP) (mcpclient.MCPClient, error) {
	switch cfg.Transport {
	case TransportStdio:
		return mcpclient.NewStdioMCPClient(cfg.Command, envMapToSlice(cfg.Env), cfg.Args...)

	case TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// envMapToSlice converts a map to the KEY=VALUE slice format expected by exec.Cmd.
func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
