// Package gemini provides a model.Client implementation backed by Google's
// Gemini Generative Language API. It translates canonical requests into
// genai.Content turns using google.golang.org/genai, collapsing role
// alternation the way the API requires (user/model, with tool results
// folded back in as function-response turns) and maps responses and
// streamed candidate deltas back into the gateway's generic structures.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/santrancisco/ai-gateway/internal/model"
)

// GenerativeClient captures the subset of genai.Models used by the adapter.
// It is satisfied by *genai.Client's Models field so callers can pass either
// a real client or a fake in tests.
type GenerativeClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) func(yield func(*genai.GenerateContentResponse, error) bool)
}

// Options configures the Gemini adapter.
type Options struct {
	// Client issues GenerateContent/GenerateContentStream calls. Required.
	Client GenerativeClient

	// DefaultModel is used when a request does not specify Model.
	DefaultModel string
}

// Client implements model.Client via the Gemini GenerateContent API.
type Client struct {
	gen   GenerativeClient
	model string
}

// New builds a Gemini-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("gemini: generative client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("gemini: default model is required")
	}
	return &Client{gen: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default genai HTTP transport.
func NewFromAPIKey(ctx context.Context, apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	sdkClient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return New(Options{Client: sdkClient.Models, DefaultModel: defaultModel})
}

// Complete issues a non-streaming GenerateContent request.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	modelID, contents, cfg, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.gen.GenerateContent(ctx, modelID, contents, cfg)
	if err != nil {
		return nil, classifyError("generate_content", err)
	}
	return translateResponse(resp), nil
}

// Stream issues a streaming GenerateContent request and adapts incremental
// candidate deltas into model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	modelID, contents, cfg, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	seq := c.gen.GenerateContentStream(ctx, modelID, contents, cfg)
	return newGeminiStreamer(seq), nil
}

func (c *Client) buildParams(req *model.Request) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if len(req.Messages) == 0 {
		return "", nil, nil, errors.New("gemini: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	contents, system, err := encodeMessages(req.Messages)
	if err != nil {
		return "", nil, nil, err
	}
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return "", nil, nil, err
		}
		cfg.Tools = tools
	}
	if req.ToolChoice != nil {
		mode, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return "", nil, nil, err
		}
		if mode != nil {
			cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: mode}
		}
	}
	return modelID, contents, cfg, nil
}

// encodeMessages collapses the canonical transcript into Gemini's
// user/model role alternation. Gemini has no system role: leading system
// messages are concatenated and returned separately for SystemInstruction.
// Tool results become function-response turns; assistant tool_use parts
// become function-call parts on a model turn, mirroring the shape Gemini's
// own function-calling examples use.
func encodeMessages(msgs []*model.Message) ([]*genai.Content, string, error) {
	var system strings.Builder
	contents := make([]*genai.Content, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.ConversationRoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(flattenText(m.Parts))
			continue
		case model.ConversationRoleUser:
			toolResults := false
			for _, p := range m.Parts {
				tr, ok := p.(model.ToolResultPart)
				if !ok {
					continue
				}
				toolResults = true
				respData := toolResultToMap(tr.Content)
				contents = append(contents, genai.NewContentFromFunctionResponse(tr.ToolUseID, respData, genai.RoleUser))
			}
			if !toolResults {
				contents = append(contents, genai.NewContentFromText(flattenText(m.Parts), genai.RoleUser))
			}
		case model.ConversationRoleAssistant:
			var parts []*genai.Part
			if text := flattenText(m.Parts); text != "" {
				parts = append(parts, genai.NewPartFromText(text))
			}
			for _, p := range m.Parts {
				tu, ok := p.(model.ToolUsePart)
				if !ok {
					continue
				}
				args, ok := tu.Input.(map[string]any)
				if !ok {
					args = map[string]any{}
					if raw, err := json.Marshal(tu.Input); err == nil {
						_ = json.Unmarshal(raw, &args)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tu.Name, Args: args}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		default:
			return nil, "", fmt.Errorf("gemini: unsupported message role %q", m.Role)
		}
	}
	if len(contents) == 0 {
		return nil, "", errors.New("gemini: at least one user/assistant message is required")
	}
	return contents, system.String(), nil
}

func toolResultToMap(content any) map[string]any {
	switch v := content.(type) {
	case map[string]any:
		return v
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
		return map[string]any{"result": v}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return map[string]any{"result": fmt.Sprintf("%v", v)}
		}
		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
		return map[string]any{"result": string(raw)}
	}
}

func flattenText(parts []model.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if tp, ok := p.(model.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// encodeTools maps tool definitions onto Gemini function declarations. Each
// declaration's parameter schema is passed through as a raw JSON Schema
// object; Gemini accepts the OpenAPI-subset schema shape the gateway's
// canonical ToolDefinition already produces.
func encodeTools(defs []*model.ToolDefinition) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema, err := toSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("gemini: tool %q schema: %w", def.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	if len(decls) == 0 {
		return nil, nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func toSchema(input any) (*genai.Schema, error) {
	var m map[string]any
	switch v := input.(type) {
	case nil:
		return &genai.Schema{Type: genai.TypeObject}, nil
	case map[string]any:
		m = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	return convertSchema(m), nil
}

func convertSchema(m map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: schemaType(m)}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				schema.Properties[name] = convertSchema(pm)
			}
		}
	}
	if reqs, ok := m["required"].([]any); ok {
		for _, r := range reqs {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = convertSchema(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	return schema
}

func schemaType(m map[string]any) genai.Type {
	t, _ := m["type"].(string)
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number", "float", "double":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeObject
	}
}

func encodeToolChoice(choice model.ToolChoice) (*genai.FunctionCallingConfig, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return nil, nil
	case model.ToolChoiceModeNone:
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}, nil
	case model.ToolChoiceModeAny:
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return nil, errors.New("gemini: tool choice name is required for mode=tool")
		}
		return &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{choice.Name},
		}, nil
	default:
		return nil, fmt.Errorf("gemini: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(resp *genai.GenerateContentResponse) *model.Response {
	out := &model.Response{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:    part.FunctionCall.Name,
				Payload: map[string]any(part.FunctionCall.Args),
				ID:      part.FunctionCall.ID,
			})
		}
	}
	if text.Len() > 0 {
		out.Content = []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: text.String()}},
		}}
	}

	if resp.UsageMetadata != nil {
		out.Usage = model.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	out.StopReason = finishReason(candidate, out.ToolCalls)
	return out
}

func finishReason(candidate *genai.Candidate, toolCalls []model.ToolCall) string {
	if len(toolCalls) > 0 {
		return "tool_calls"
	}
	if candidate.FinishReason != "" {
		return string(candidate.FinishReason)
	}
	return "stop"
}

// classifyError translates a genai SDK error into the canonical
// model.ProviderError the gateway's error envelope relies on to pick an HTTP
// status and wire type. genai.APIError carries the upstream's numeric status
// directly; errors that never reach the wire (a local encoding failure, a
// canceled context) fall back to a string match on "rate"+"limit" so a
// throttling message surfaced without the typed error still backs off,
// otherwise classify as unknown.
func classifyError(operation string, err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		kind, retryable := model.ClassifyHTTPStatus(apiErr.Code)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return model.NewProviderError("gemini", operation, apiErr.Code, kind, apiErr.Status, msg, "", retryable, err)
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "rate") && strings.Contains(lower, "limit") {
		return model.NewProviderError("gemini", operation, 0, model.ProviderErrorKindRateLimited, "", err.Error(), "", true, err)
	}
	return model.NewProviderError("gemini", operation, 0, model.ProviderErrorKindUnknown, "", err.Error(), "", false, err)
}
