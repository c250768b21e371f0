package toolloop

import (
	"context"
	"fmt"

	"github.com/santrancisco/ai-gateway/internal/mcp"
	"github.com/santrancisco/ai-gateway/internal/model"
)

// Dialer constructs an mcp.Caller for one MCP server descriptor. The default
// implementation (DialServer) switches on the descriptor's transport; tests
// substitute a stub Dialer to avoid starting real processes or servers.
type Dialer func(ctx context.Context, desc model.MCPServerDescriptor) (mcp.Caller, error)

// DialServer is the default Dialer, selecting one of the mcp package's three
// transport implementations by desc.Transport.
func DialServer(ctx context.Context, desc model.MCPServerDescriptor) (mcp.Caller, error) {
	switch desc.Transport {
	case "http", "":
		return mcp.NewHTTPCaller(ctx, mcp.HTTPOptions{Endpoint: desc.Endpoint})
	case "sse":
		return mcp.NewSSECaller(ctx, mcp.HTTPOptions{Endpoint: desc.Endpoint})
	case "stdio":
		return mcp.NewStdioCaller(ctx, mcp.StdioOptions{Command: desc.Command, Args: desc.Args})
	default:
		return nil, fmt.Errorf("toolloop: unknown mcp transport %q for server %q", desc.Transport, desc.Name)
	}
}
