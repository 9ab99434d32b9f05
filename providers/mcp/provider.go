// Package mcp supplies a tool.Provider backed by a Model Context
// Protocol server reached over stdio, the transport the teacher's own
// index/mcp_server.go exposes on the *server* side via mark3labs/mcp-go.
// Lumen sits on the other end of that protocol: a `use tool mcp.<tool>
// as Alias` binding dispatches here as the *client*, grounded on the
// same library's client package rather than the teacher's hand-rolled
// internal/mcp JSON-RPC handler (that package talks a bespoke subset of
// MCP over HTTP; mark3labs/mcp-go's client gives Lumen the real
// protocol handshake -- initialize, tools/list, tools/call -- for free).
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ternarybob/lumen/pkg/lumen/tool"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// Provider dispatches one tool.Provider's Call onto a single MCP
// tool name exposed by a server this process launched over stdio.
type Provider struct {
	client   *client.Client
	toolName string
	version  string
	timeout  time.Duration
}

// Dial starts command as an MCP stdio server and completes the
// protocol handshake, binding toolName as the tool this Provider
// dispatches every Call to.
func Dial(ctx context.Context, command string, args []string, toolName string) (*Provider, error) {
	c, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("mcp: launch %s: %w", command, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	initResult, err := c.Initialize(initCtx, mcp.InitializeRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}

	return &Provider{
		client:   c,
		toolName: toolName,
		version:  initResult.ServerInfo.Version,
		timeout:  30 * time.Second,
	}, nil
}

func (p *Provider) Name() string    { return "mcp:" + p.toolName }
func (p *Provider) Version() string { return p.version }

func (p *Provider) Schema() tool.Schema {
	return tool.Schema{Effects: []string{"tool"}}
}

func (p *Provider) Capabilities() tool.Capabilities {
	return tool.Capabilities{SupportsToolCalling: true}
}

// Call marshals args (already named by pkg/lumen/tool.Dispatcher) into
// an MCP CallToolRequest and translates the result's first text content
// block back into a vm.Value. A tool_error result (spec.md's ToolResult
// IsError-equivalent) surfaces as an InvalidRequest ProviderError rather
// than a transport failure, since the server understood the call and
// chose to reject it.
func (p *Provider) Call(args map[string]vm.Value) (vm.Value, error) {
	named := make(map[string]any, len(args))
	for k, v := range args {
		named[k] = toJSON(v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = p.toolName
	req.Params.Arguments = named

	result, err := p.client.CallTool(ctx, req)
	if err != nil {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrServiceUnavailable, Message: err.Error()}
	}
	if result.IsError {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrInvalidRequest, Message: textContent(result)}
	}
	return vm.String(textContent(result)), nil
}

func textContent(result *mcp.CallToolResult) string {
	var out string
	for _, block := range result.Content {
		if tb, ok := block.(mcp.TextContent); ok {
			out += tb.Text
		}
	}
	return out
}

// toJSON flattens a vm.Value into the plain Go value MCP's JSON-RPC
// envelope expects; containers fall back to their debug String() form
// since pkg/lumen/vm has no public JSON encoder of its own.
func toJSON(v vm.Value) any {
	switch v.Kind {
	case vm.KString:
		return v.Str
	case vm.KInt:
		return v.Int
	case vm.KFloat:
		return v.Float
	case vm.KBool:
		return v.Bool
	case vm.KNull:
		return nil
	default:
		return v.String()
	}
}
