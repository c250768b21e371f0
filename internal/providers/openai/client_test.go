package openai_test

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	"github.com/stretchr/testify/require"

	"github.com/santrancisco/ai-gateway/internal/model"
	openaimodel "github.com/santrancisco/ai-gateway/internal/providers/openai"
)

func TestClientComplete(t *testing.T) {
	mock := &mockChatClient{}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	mock.response = &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "stop",
				Message: openai.ChatCompletionMessage{
					Role:    "assistant",
					Content: "hi there",
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{
							ID: "call_1",
							Function: openai.ChatCompletionMessageToolCallFunction{
								Name:      "lookup",
								Arguments: `{"query":"docs"}`,
							},
						},
					},
				},
			},
		},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	resp, err := client.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}}},
		Tools: []*model.ToolDefinition{{
			Name:        "lookup",
			Description: "Search",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)

	found := false
	for _, p := range resp.Content[0].Parts {
		if tp, ok := p.(model.TextPart); ok && tp.Text == "hi there" {
			found = true
			break
		}
	}
	require.True(t, found, "expected hi there text part")
	require.Equal(t, "lookup", resp.ToolCalls[0].Name)
	require.Equal(t, "docs", resp.ToolCalls[0].Payload.(map[string]any)["query"])
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, 15, resp.Usage.TotalTokens)

	params := mock.captured
	require.Equal(t, shared.ChatModel("gpt-4o"), params.Model)
	require.Len(t, params.Messages, 1)
	require.Len(t, params.Tools, 1)
}

func TestClientCompleteWithToolChoiceTool(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
		Tools: []*model.ToolDefinition{
			{Name: "lookup", Description: "Search", InputSchema: map[string]any{"type": "object"}},
		},
		ToolChoice: &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: "lookup"},
	})
	require.NoError(t, err)

	choice := mock.captured.ToolChoice
	require.NotNil(t, choice.OfChatCompletionNamedToolChoice)
	require.Equal(t, "lookup", choice.OfChatCompletionNamedToolChoice.Function.Name)
}

func TestClientCompleteWithToolChoiceNone(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
		Tools: []*model.ToolDefinition{
			{Name: "lookup", Description: "Search", InputSchema: map[string]any{"type": "object"}},
		},
		ToolChoice: &model.ToolChoice{Mode: model.ToolChoiceModeNone},
	})
	require.NoError(t, err)

	choice := mock.captured.ToolChoice
	require.NotNil(t, choice.OfAuto)
	require.Equal(t, "none", *choice.OfAuto)
}

func TestClientRequiresDefaultModel(t *testing.T) {
	_, err := openaimodel.New(openaimodel.Options{Client: &mockChatClient{}})
	require.Error(t, err)
}

func TestClientRequiresMessages(t *testing.T) {
	client, err := openaimodel.New(openaimodel.Options{Client: &mockChatClient{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

type mockChatClient struct {
	response *openai.ChatCompletion
	captured openai.ChatCompletionNewParams
}

func (m *mockChatClient) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.captured = body
	return m.response, nil
}

func (m *mockChatClient) NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	m.captured = body
	return nil
}
