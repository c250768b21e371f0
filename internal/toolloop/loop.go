// Package toolloop implements the gateway's tool-invocation loop (C7): when a
// request carries MCP server descriptors, it wraps the provider stream,
// intercepts tool-call finishes, dispatches calls to the owning MCP servers
// in parallel, and re-enters the provider with the results appended to the
// transcript — repeating until the model produces a final answer or the
// iteration bound is reached.
package toolloop

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/santrancisco/ai-gateway/internal/apierror"
	"github.com/santrancisco/ai-gateway/internal/mcp"
	"github.com/santrancisco/ai-gateway/internal/model"
)

// Config tunes the loop's iteration bound, per-call timeout, and MCP
// transport retry policy. Zero values are replaced by the spec's defaults in
// New.
type Config struct {
	// MaxIterations bounds how many times the loop re-enters the provider
	// before giving up with tool_loop_exhausted. Default 8.
	MaxIterations int

	// PerCallTimeout bounds a single tool call's duration. Default 30s.
	PerCallTimeout time.Duration

	// TransportRetries is how many times a failed MCP call is retried before
	// surfacing a fatal tool_transport_failed error. Default 3.
	TransportRetries int

	// RetryBaseDelay is the first backoff interval between transport retries.
	// Default 250ms, doubling (factor 2) on each subsequent attempt.
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 8
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 30 * time.Second
	}
	if c.TransportRetries <= 0 {
		c.TransportRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	return c
}

// Loop orchestrates multi-turn tool dispatch around a model.Client.
type Loop struct {
	client model.Client
	dial   Dialer
	cfg    Config
}

// New constructs a Loop. dial may be nil to use DialServer.
func New(client model.Client, cfg Config, dial Dialer) *Loop {
	if dial == nil {
		dial = DialServer
	}
	return &Loop{client: client, dial: dial, cfg: cfg.withDefaults()}
}

// Run streams req through the provider, transparently handling any MCP tool
// calls the model emits, and forwards canonical chunks to send in order. If
// req has no MCP servers configured, Run is equivalent to a plain
// client.Stream pump.
func (l *Loop) Run(ctx context.Context, req *model.Request, send func(model.Chunk) error) error {
	if len(req.MCPServers) == 0 {
		return l.pump(ctx, req, send)
	}

	callers := make(map[string]mcp.Caller, len(req.MCPServers))
	ownerOf := make(map[string]string) // tool name -> server name
	var tools []*model.ToolDefinition
	for _, desc := range req.MCPServers {
		caller, err := l.dial(ctx, desc)
		if err != nil {
			return apierror.New(apierror.KindToolTransportFailed, "failed to connect to mcp server "+desc.Name, err)
		}
		callers[desc.Name] = caller
		lister, ok := caller.(mcp.ToolLister)
		if !ok {
			continue
		}
		listing, err := lister.ListTools(ctx)
		if err != nil {
			return apierror.New(apierror.KindToolTransportFailed, "failed to list tools for mcp server "+desc.Name, err)
		}
		for _, tool := range listing {
			ownerOf[tool.Name] = desc.Name
			tools = append(tools, &model.ToolDefinition{Name: tool.Name, Description: tool.Description, InputSchema: tool.InputSchema})
		}
	}

	working := cloneRequest(req)
	working.Tools = append(working.Tools, tools...)
	working.MCPServers = nil

	for iteration := 1; ; iteration++ {
		if iteration > l.cfg.MaxIterations {
			return send(model.Chunk{Type: model.ChunkTypeStop, StopReason: "error", ErrorKind: "tool_loop_exhausted"})
		}

		calls, done, err := l.runOneTurn(ctx, working, send)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		results, err := l.dispatch(ctx, calls, callers, ownerOf, schemaByName(working.Tools))
		if err != nil {
			return err
		}

		working = appendToolTurn(working, calls, results)
	}
}

// pump streams a request with no tool involvement straight through.
func (l *Loop) pump(ctx context.Context, req *model.Request, send func(model.Chunk) error) error {
	stream, err := l.client.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
}

// runOneTurn streams one provider turn. Text/usage/thinking chunks are
// forwarded immediately. Tool-call chunks are accumulated rather than
// forwarded. When the stream ends: if any tool calls were accumulated, they
// are returned with done=false so the caller dispatches them; otherwise the
// terminal stop chunk is forwarded and done=true. Provider stop-reason
// vocabularies are not consistent across adapters (OpenAI's "tool_calls" vs.
// Anthropic's "tool_use"), so the presence of accumulated tool calls — not
// the StopReason string — is what triggers dispatch.
func (l *Loop) runOneTurn(ctx context.Context, req *model.Request, send func(model.Chunk) error) ([]model.ToolCall, bool, error) {
	stream, err := l.client.Stream(ctx, req)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = stream.Close() }()

	var calls []model.ToolCall
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return calls, len(calls) == 0, nil
			}
			return nil, false, err
		}
		switch chunk.Type {
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		case model.ChunkTypeStop:
			if len(calls) > 0 {
				return calls, false, nil
			}
			if err := send(chunk); err != nil {
				return nil, false, err
			}
			return calls, true, nil
		default:
			if err := send(chunk); err != nil {
				return nil, false, err
			}
		}
	}
}

// schemaByName indexes tools by name for the dispatch-time payload check.
func schemaByName(tools []*model.ToolDefinition) map[string]any {
	out := make(map[string]any, len(tools))
	for _, t := range tools {
		out[t.Name] = t.InputSchema
	}
	return out
}

// toolResult pairs a ToolCall with its outcome, kept together for
// deterministic reassembly by originating index after parallel dispatch.
type toolResult struct {
	index  int
	call   model.ToolCall
	result model.ToolResultPart
}

// dispatch invokes every tool call in parallel across distinct MCP servers
// and reassembles results in call order regardless of completion order.
// Before a call reaches its MCP server, its payload is validated against the
// tool's declared JSON Schema (schemas keys by tool name, built from the
// working request's accumulated Tools); a schema violation is reported as a
// normal tool error result, not a fatal dispatch failure, since it reflects
// the model's output, not a transport problem.
func (l *Loop) dispatch(ctx context.Context, calls []model.ToolCall, callers map[string]mcp.Caller, ownerOf map[string]string, schemas map[string]any) ([]toolResult, error) {
	results := make([]toolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if err := validateToolPayload(schemas[call.Name], call.Payload); err != nil {
				results[i] = toolResult{index: i, call: call, result: model.ToolResultPart{
					ToolUseID: call.ID, IsError: true, Content: "invalid arguments for tool " + call.Name + ": " + err.Error(),
				}}
				return nil
			}
			server := ownerOf[call.Name]
			caller, ok := callers[server]
			if !ok {
				results[i] = toolResult{index: i, call: call, result: model.ToolResultPart{
					ToolUseID: call.ID, IsError: true, Content: "no mcp server declares tool " + call.Name,
				}}
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, l.cfg.PerCallTimeout)
			defer cancel()
			res, err := l.callWithRetry(callCtx, caller, call)
			if err != nil {
				var transportFailed *apierror.Error
				if errors.As(err, &transportFailed) {
					return err // fatal transport failure aborts the whole dispatch
				}
				results[i] = toolResult{index: i, call: call, result: model.ToolResultPart{
					ToolUseID: call.ID, IsError: true, Content: err.Error(),
				}}
				return nil
			}
			results[i] = toolResult{index: i, call: call, result: model.ToolResultPart{
				ToolUseID: call.ID, Content: res,
			}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })
	return results, nil
}

// callWithRetry calls tool, retrying transport failures N times with
// exponential backoff (base 250ms, factor 2) before surfacing a fatal
// tool_transport_failed error. A tool-level error (the MCP server answered
// with a JSON-RPC error, *mcp.Error) is not retried here — it is returned directly so the
// caller records it as a normal ToolResult{error:true}.
func (l *Loop) callWithRetry(ctx context.Context, caller mcp.Caller, call model.ToolCall) (any, error) {
	payload, err := toolArgsJSON(call.Payload)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.RetryBaseDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.cfg.TransportRetries)), ctx)

	var resp mcp.CallResponse
	var toolErr *mcp.Error
	op := func() error {
		r, callErr := caller.CallTool(ctx, mcp.CallRequest{Tool: call.Name, Payload: payload})
		if callErr != nil {
			if errors.As(callErr, &toolErr) {
				return backoff.Permanent(callErr)
			}
			return callErr
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		if toolErr != nil {
			return nil, err
		}
		return nil, apierror.New(apierror.KindToolTransportFailed, "mcp tool call failed after retries: "+call.Name, err)
	}
	return decodeResult(resp), nil
}
