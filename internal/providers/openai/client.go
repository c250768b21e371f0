// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates canonical requests into
// ChatCompletion calls using github.com/openai/openai-go and maps responses
// (and streamed deltas) back into the generic provider-agnostic structures.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/santrancisco/ai-gateway/internal/model"
)

// ChatClient captures the subset of the openai-go client used by the adapter.
// It is satisfied by the real SDK's Chat.Completions service and by fakes in
// tests.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// EmbeddingsClient captures the subset of the openai-go client used for
// POST /v1/embeddings. It is satisfied by the real SDK's Embeddings service.
type EmbeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// ImageClient captures the subset of the openai-go client used for
// POST /v1/images/generations. It is satisfied by the real SDK's Images
// service.
type ImageClient interface {
	Generate(ctx context.Context, body openai.ImageGenerateParams, opts ...option.RequestOption) (*openai.ImagesResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	// Client is the chat completions service to invoke. Required.
	Client ChatClient

	// Embeddings is the embeddings service to invoke. Optional: a client built
	// without it still implements model.Client, it just does not satisfy
	// model.Embedder.
	Embeddings EmbeddingsClient

	// Images is the image-generation service to invoke. Optional: a client
	// built without it still implements model.Client, it just does not
	// satisfy model.Imager.
	Images ImageClient

	// DefaultModel is used when a request does not specify Model.
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API, and
// model.Embedder via the Embeddings API when constructed with one. The same
// adapter serves any OpenAI-compatible endpoint (DeepSeek, TogetherAI, XAI)
// by constructing ChatClient against a provider-specific base URL.
type Client struct {
	chat       ChatClient
	embeddings EmbeddingsClient
	images     ImageClient
	model      string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, embeddings: opts.Embeddings, images: opts.Images, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP
// transport. baseURL is optional; when empty, the official OpenAI API is
// used. Passing an alternate baseURL lets the same adapter drive any
// OpenAI-compatible upstream (DeepSeek, TogetherAI, XAI).
func NewFromAPIKey(apiKey, baseURL, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	sdkClient := openai.NewClient(reqOpts...)
	return New(Options{
		Client:       sdkClient.Chat.Completions,
		Embeddings:   sdkClient.Embeddings,
		Images:       sdkClient.Images,
		DefaultModel: defaultModel,
	})
}

// Embed satisfies model.Embedder using the OpenAI Embeddings API. DeepSeek,
// TogetherAI, and XAI clients built via NewFromAPIKey also get an
// EmbeddingsClient pointed at their base URL; whether that upstream actually
// serves /embeddings is between the operator and that provider's API surface.
func (c *Client) Embed(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	if c.embeddings == nil {
		return nil, errors.New("openai: embeddings client is not configured")
	}
	if len(req.Input) == 0 {
		return nil, errors.New("openai: embeddings input is required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
		Model: openai.EmbeddingModel(modelID),
	})
	if err != nil {
		return nil, classifyError("embeddings", err)
	}
	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return &model.EmbeddingResponse{
		Vectors: vectors,
		Usage: model.TokenUsage{
			InputTokens: int(resp.Usage.PromptTokens),
			TotalTokens: int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Image satisfies model.Imager using the OpenAI Images API. DeepSeek,
// TogetherAI, and XAI clients built via NewFromAPIKey also get an
// ImageClient pointed at their base URL; whether that upstream actually
// serves /images/generations is between the operator and that provider's
// API surface.
func (c *Client) Image(ctx context.Context, req *model.ImageRequest) (*model.ImageResponse, error) {
	if c.images == nil {
		return nil, errors.New("openai: images client is not configured")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("openai: image prompt is required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(modelID),
	}
	if req.N > 0 {
		params.N = openai.Int(int64(req.N))
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}
	resp, err := c.images.Generate(ctx, params)
	if err != nil {
		return nil, classifyError("image_generation", err)
	}
	artifacts := make([]model.ImageArtifact, len(resp.Data))
	for i, d := range resp.Data {
		artifacts[i] = model.ImageArtifact{URL: d.URL, B64JSON: d.B64JSON}
	}
	return &model.ImageResponse{Artifacts: artifacts}, nil
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, classifyError("chat_completion", err)
	}
	return translateResponse(resp), nil
}

// Stream issues a streaming chat completion and adapts incremental deltas
// into model.Chunks, including usage once the final chunk (requested via
// StreamOptions.IncludeUsage) arrives.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := c.chat.NewStreaming(ctx, params)
	return newOpenAIStreamer(stream), nil
}

func (c *Client) buildParams(req *model.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
		Tools:    tools,
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ToolChoice != nil {
		choice, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.ToolChoice = choice
	}
	return params, nil
}

// encodeMessages flattens canonical Parts into OpenAI's plain-text message
// model. TextPart content is concatenated; tool_use/tool_result parts become
// assistant tool_calls and tool-role messages respectively. Multimodal and
// citation parts are not supported by the plain Chat Completions wire format
// and are dropped; callers needing those should route to a provider whose
// adapter supports them natively.
func encodeMessages(msgs []*model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.ConversationRoleSystem:
			out = append(out, openai.SystemMessage(flattenText(m.Parts)))
		case model.ConversationRoleUser:
			toolResults := false
			for _, p := range m.Parts {
				if tr, ok := p.(model.ToolResultPart); ok {
					out = append(out, openai.ToolMessage(contentToString(tr.Content), tr.ToolUseID))
					toolResults = true
				}
			}
			if !toolResults {
				out = append(out, openai.UserMessage(flattenText(m.Parts)))
			}
		case model.ConversationRoleAssistant:
			msg := openai.ChatCompletionAssistantMessageParam{}
			text := flattenText(m.Parts)
			if text != "" {
				msg.Content.OfString = openai.String(text)
			}
			for _, p := range m.Parts {
				tu, ok := p.(model.ToolUsePart)
				if !ok {
					continue
				}
				args, err := json.Marshal(tu.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool_use %s input: %w", tu.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tu.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tu.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		default:
			out = append(out, openai.UserMessage(flattenText(m.Parts)))
		}
	}
	return out, nil
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

func contentToString(content any) string {
	switch v := content.(type) {
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		schema, ok := def.InputSchema.(map[string]any)
		if !ok {
			raw, err := json.Marshal(def.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal tool %s schema: %w", def.Name, err)
			}
			schema = map[string]any{}
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, fmt.Errorf("openai: tool %s schema must be a JSON object: %w", def.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(schema),
		}))
	}
	return out, nil
}

func encodeToolChoice(choice model.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case model.ToolChoiceModeAuto, "":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}, nil
	case model.ToolChoiceModeNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}, nil
	case model.ToolChoiceModeAny:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return openai.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("openai: tool choice name is required for mode=tool")
		}
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(resp *openai.ChatCompletion) *model.Response {
	out := &model.Response{}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	msg := choice.Message

	parts := make([]model.Part, 0, 1)
	if msg.Content != "" {
		parts = append(parts, model.TextPart{Text: msg.Content})
	}
	if len(parts) > 0 {
		out.Content = []model.Message{{Role: model.ConversationRoleAssistant, Parts: parts}}
	}

	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:      call.ID,
			Name:    call.Function.Name,
			Payload: parseToolArguments(call.Function.Arguments),
		})
	}

	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	out.StopReason = string(choice.FinishReason)
	return out
}

func parseToolArguments(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"raw": raw}
	}
	return payload
}

// classifyError translates an openai-go SDK error into the canonical
// model.ProviderError the gateway's error envelope (apierror.FromProviderError)
// relies on to pick an HTTP status and wire type. Errors that are not the
// SDK's typed *openai.Error (a network failure before a response arrived, for
// example) still produce a ProviderError, just with an unknown kind and no
// HTTP status.
func classifyError(operation string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind, retryable := model.ClassifyHTTPStatus(apiErr.StatusCode)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return model.NewProviderError("openai", operation, apiErr.StatusCode, kind, apiErr.Code, msg, "", retryable, err)
	}
	return model.NewProviderError("openai", operation, 0, model.ProviderErrorKindUnknown, "", err.Error(), "", false, err)
}
