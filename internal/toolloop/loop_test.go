package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/santrancisco/ai-gateway/internal/mcp"
	"github.com/santrancisco/ai-gateway/internal/model"
)

// stubStreamer replays a fixed chunk sequence.
type stubStreamer struct {
	chunks []model.Chunk
	idx    int
}

func (s *stubStreamer) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}
func (s *stubStreamer) Close() error             { return nil }
func (s *stubStreamer) Metadata() map[string]any { return nil }

// scriptedClient returns one canned stream per call, in order.
type scriptedClient struct {
	turns [][]model.Chunk
	calls int
}

func (c *scriptedClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, errors.New("not implemented")
}

func (c *scriptedClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	if c.calls >= len(c.turns) {
		return nil, errors.New("no more scripted turns")
	}
	turn := c.turns[c.calls]
	c.calls++
	return &stubStreamer{chunks: turn}, nil
}

// stubCaller implements mcp.Caller and mcp.ToolLister with canned data.
type stubCaller struct {
	tools   []mcp.ToolListing
	results map[string]string
	calls   []string
}

func (c *stubCaller) ListTools(context.Context) ([]mcp.ToolListing, error) { return c.tools, nil }

func (c *stubCaller) CallTool(_ context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	c.calls = append(c.calls, req.Tool)
	result, ok := c.results[req.Tool]
	if !ok {
		return mcp.CallResponse{}, errors.New("unknown tool " + req.Tool)
	}
	return mcp.CallResponse{Result: json.RawMessage(`"` + result + `"`)}, nil
}

func TestRunWithoutMCPServersPumpsStreamDirectly(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{
			{Type: model.ChunkTypeText, Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
			{Type: model.ChunkTypeStop, StopReason: "stop"},
		},
	}}
	loop := New(client, Config{}, nil)

	var received []model.Chunk
	err := loop.Run(context.Background(), &model.Request{Model: "m"}, func(c model.Chunk) error {
		received = append(received, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("received %d chunks, want 2", len(received))
	}
}

func TestRunDispatchesToolCallAndReenters(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{
			{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: "call_1", Name: "ping", Payload: map[string]any{}}},
			{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
		},
		{
			{Type: model.ChunkTypeText, Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "pong"}}}},
			{Type: model.ChunkTypeStop, StopReason: "stop"},
		},
	}}
	caller := &stubCaller{
		tools:   []mcp.ToolListing{{Name: "ping", Description: "pings"}},
		results: map[string]string{"ping": "pong"},
	}
	loop := New(client, Config{}, func(context.Context, model.MCPServerDescriptor) (mcp.Caller, error) {
		return caller, nil
	})

	var received []model.Chunk
	req := &model.Request{
		Model:      "m",
		MCPServers: []model.MCPServerDescriptor{{Name: "srv1", Transport: "http"}},
	}
	err := loop.Run(context.Background(), req, func(c model.Chunk) error {
		received = append(received, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(caller.calls) != 1 || caller.calls[0] != "ping" {
		t.Fatalf("expected exactly one ping call, got %v", caller.calls)
	}
	if len(received) != 2 {
		t.Fatalf("received %d forwarded chunks, want 2 (tool-call turn's finish must not be forwarded)", len(received))
	}
	if received[len(received)-1].StopReason != "stop" {
		t.Fatalf("final chunk stop reason = %q, want stop", received[len(received)-1].StopReason)
	}
}

func TestRunExhaustsIterationBound(t *testing.T) {
	// Every turn emits another tool call, so the loop must hit MaxIterations.
	turn := []model.Chunk{
		{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: "call_1", Name: "ping", Payload: map[string]any{}}},
		{Type: model.ChunkTypeStop, StopReason: "tool_calls"},
	}
	turns := make([][]model.Chunk, 0, 3)
	for i := 0; i < 3; i++ {
		turns = append(turns, turn)
	}
	client := &scriptedClient{turns: turns}
	caller := &stubCaller{
		tools:   []mcp.ToolListing{{Name: "ping"}},
		results: map[string]string{"ping": "pong"},
	}
	loop := New(client, Config{MaxIterations: 2}, func(context.Context, model.MCPServerDescriptor) (mcp.Caller, error) {
		return caller, nil
	})

	var received []model.Chunk
	req := &model.Request{Model: "m", MCPServers: []model.MCPServerDescriptor{{Name: "srv1"}}}
	err := loop.Run(context.Background(), req, func(c model.Chunk) error {
		received = append(received, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("received %d chunks, want exactly the synthetic exhaustion chunk", len(received))
	}
	final := received[0]
	if final.StopReason != "error" || final.ErrorKind != "tool_loop_exhausted" {
		t.Fatalf("final chunk = %+v, want error/tool_loop_exhausted", final)
	}
}
