package gatewayhttp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santrancisco/ai-gateway/internal/model"
)

// chatCompletionRequest is the OpenAI-compatible wire shape accepted by
// POST /v1/chat/completions, per the external interfaces section: model,
// messages, optional tools/tool_choice/stream/temperature/max_tokens/stop/
// mcp_servers. top_p has no field here and is ignored when sent; tool_choice
// and stop are decoded but not carried into model.Request.
type chatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []wireMessage    `json:"messages"`
	Tools       []wireTool       `json:"tools,omitempty"`
	ToolChoice  json.RawMessage  `json:"tool_choice,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	MCPServers  []wireMCPServer  `json:"mcp_servers,omitempty"`
}

type wireMCPServer struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Endpoint  string   `json:"endpoint,omitempty"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// wireContentPart is one element of an OpenAI-compatible content array: either
// a plain text block or an image block referencing inline base64 image data.
type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function wireToolSchema `json:"function"`
}

type wireToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// parseChatCompletionRequest validates the OpenAI-compatible wire shape and
// translates it into the canonical model.Request C9 hands to the limit gate
// and tool loop. Parsing fails with bad_request when role is unknown, a tool
// message is missing tool_call_id, or a content-array image part has neither
// a URL nor inline base64 data, per C1's parsing contract.
func parseChatCompletionRequest(body []byte) (*model.Request, error) {
	var wire chatCompletionRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if wire.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(wire.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	messages := make([]*model.Message, 0, len(wire.Messages))
	for i, m := range wire.Messages {
		role, err := parseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		if m.Role == "tool" {
			if m.ToolCallID == "" {
				return nil, fmt.Errorf("messages[%d]: tool message requires tool_call_id", i)
			}
			content, err := contentAsText(m.Content)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			messages = append(messages, &model.Message{
				Role:  model.ConversationRoleUser,
				Parts: []model.Part{model.ToolResultPart{ToolUseID: m.ToolCallID, Content: content}},
			})
			continue
		}
		parts, err := parseMessageContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		for _, tc := range m.ToolCalls {
			var args any
			if tc.Function.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			}
			parts = append(parts, model.ToolUsePart{ID: tc.ID, Name: tc.Function.Name, Input: args})
		}
		messages = append(messages, &model.Message{Role: role, Parts: parts})
	}

	tools := make([]*model.ToolDefinition, 0, len(wire.Tools))
	for _, t := range wire.Tools {
		tools = append(tools, &model.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	mcpServers := make([]model.MCPServerDescriptor, 0, len(wire.MCPServers))
	for _, s := range wire.MCPServers {
		mcpServers = append(mcpServers, model.MCPServerDescriptor{
			Name: s.Name, Transport: s.Transport, Endpoint: s.Endpoint, Command: s.Command, Args: s.Args,
		})
	}

	return &model.Request{
		Model:       wire.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   wire.MaxTokens,
		Temperature: wire.Temperature,
		Stream:      wire.Stream,
		MCPServers:  mcpServers,
	}, nil
}

// contentAsText decodes a tool message's content, which the OpenAI wire
// format always carries as a plain string.
func contentAsText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("content must be a string: %w", err)
	}
	return text, nil
}

// parseMessageContent decodes a user/assistant message's content, which the
// OpenAI wire format allows as either a plain string or an array of typed
// content parts (text and image_url). Each image_url part must carry a
// data: URI with inline base64 image data; the gateway does not fetch remote
// image URLs at parse time, so a bare remote URL is rejected the same as a
// missing one.
func parseMessageContent(raw json.RawMessage) ([]model.Part, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []model.Part{model.TextPart{Text: text}}, nil
	}

	var items []wireContentPart
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of content parts: %w", err)
	}
	parts := make([]model.Part, 0, len(items))
	for i, item := range items {
		switch item.Type {
		case "", "text":
			if item.Text != "" {
				parts = append(parts, model.TextPart{Text: item.Text})
			}
		case "image_url":
			part, err := parseImageURLPart(item.ImageURL)
			if err != nil {
				return nil, fmt.Errorf("content[%d]: %w", i, err)
			}
			parts = append(parts, part)
		default:
			return nil, fmt.Errorf("content[%d]: unknown content part type %q", i, item.Type)
		}
	}
	return parts, nil
}

// parseImageURLPart decodes an image_url content part into a model.ImagePart.
func parseImageURLPart(u *wireImageURL) (model.Part, error) {
	if u == nil || u.URL == "" {
		return nil, fmt.Errorf("image part has neither a URL nor inline base64 data")
	}
	format, data, ok := decodeDataURI(u.URL)
	if !ok {
		return nil, fmt.Errorf("image part has neither a URL nor inline base64 data")
	}
	bytes, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}
	if len(bytes) == 0 {
		return nil, fmt.Errorf("image part has neither a URL nor inline base64 data")
	}
	return model.ImagePart{Format: model.ImageFormat(format), Bytes: bytes}, nil
}

// decodeDataURI splits a "data:<mime>;base64,<data>" URI into the image
// format (the mime subtype) and the base64 payload. It reports ok=false for
// any URI that is not an inline base64 data URI, including bare remote URLs.
func decodeDataURI(uri string) (format, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", false
	}
	mimeAndEncoding, payload, found := strings.Cut(uri[len(prefix):], ",")
	if !found {
		return "", "", false
	}
	mime, encoding, found := strings.Cut(mimeAndEncoding, ";")
	if !found || !strings.EqualFold(encoding, "base64") {
		return "", "", false
	}
	_, subtype, found := strings.Cut(mime, "/")
	if !found {
		subtype = mime
	}
	return subtype, payload, true
}

func parseRole(role string) (model.ConversationRole, error) {
	switch role {
	case "system":
		return model.ConversationRoleSystem, nil
	case "user", "tool":
		return model.ConversationRoleUser, nil
	case "assistant":
		return model.ConversationRoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// chatCompletionResponse is the non-streaming wire response body.
type chatCompletionResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []wireChoice        `json:"choices"`
	Usage   wireUsage           `json:"usage"`
}

type wireChoice struct {
	Index        int            `json:"index"`
	Message      *wireAssistant `json:"message,omitempty"`
	Delta        *wireAssistant `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type wireAssistant struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toWireUsage(u model.TokenUsage) wireUsage {
	return wireUsage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
}

func toWireToolCalls(calls []model.ToolCall) []wireToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]wireToolCall, 0, len(calls))
	for _, c := range calls {
		args, _ := json.Marshal(c.Payload)
		out = append(out, wireToolCall{
			ID:   c.ID,
			Type: "function",
			Function: wireToolCallFunc{Name: c.Name, Arguments: string(args)},
		})
	}
	return out
}

func responseText(resp *model.Response) string {
	var text string
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				text += tp.Text
			}
		}
	}
	return text
}
