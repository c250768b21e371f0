package toolloop

import (
	"encoding/json"

	"github.com/santrancisco/ai-gateway/internal/mcp"
	"github.com/santrancisco/ai-gateway/internal/model"
)

// cloneRequest makes a shallow copy of req with independently-owned Messages
// and Tools slices, so the loop can append per-iteration without mutating
// the caller's original request.
func cloneRequest(req *model.Request) *model.Request {
	clone := *req
	clone.Messages = append([]*model.Message(nil), req.Messages...)
	clone.Tools = append([]*model.ToolDefinition(nil), req.Tools...)
	return &clone
}

// appendToolTurn records one tool-invocation round in the transcript: an
// assistant message declaring the calls, followed by a message carrying
// their results, so the next provider turn sees the full exchange.
func appendToolTurn(req *model.Request, calls []model.ToolCall, results []toolResult) *model.Request {
	assistantParts := make([]model.Part, 0, len(calls))
	for _, call := range calls {
		assistantParts = append(assistantParts, model.ToolUsePart{ID: call.ID, Name: call.Name, Input: call.Payload})
	}
	resultParts := make([]model.Part, 0, len(results))
	for _, r := range results {
		resultParts = append(resultParts, r.result)
	}

	next := cloneRequest(req)
	next.Messages = append(next.Messages,
		&model.Message{Role: model.ConversationRoleAssistant, Parts: assistantParts},
		&model.Message{Role: model.ConversationRoleUser, Parts: resultParts},
	)
	return next
}

// toolArgsJSON marshals a ToolCall's decoded payload back to JSON bytes for
// the MCP CallRequest wire format.
func toolArgsJSON(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(payload)
}

// decodeResult unmarshals an MCP tool response into a decoded value suitable
// for ToolResultPart.Content, falling back to the raw string when the result
// is not valid JSON.
func decodeResult(resp mcp.CallResponse) any {
	if len(resp.Result) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		return string(resp.Result)
	}
	return v
}
