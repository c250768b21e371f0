package gemini_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/santrancisco/ai-gateway/internal/model"
	geminiprovider "github.com/santrancisco/ai-gateway/internal/providers/gemini"
)

type stubGenerativeClient struct {
	completeResp   *genai.GenerateContentResponse
	completeErr    error
	capturedModel  string
	capturedConfig *genai.GenerateContentConfig
	streamResps    []*genai.GenerateContentResponse
}

func (s *stubGenerativeClient) GenerateContent(_ context.Context, modelID string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.capturedModel = modelID
	s.capturedConfig = cfg
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return s.completeResp, nil
}

func (s *stubGenerativeClient) GenerateContentStream(_ context.Context, modelID string, _ []*genai.Content, cfg *genai.GenerateContentConfig) func(func(*genai.GenerateContentResponse, error) bool) {
	s.capturedModel = modelID
	s.capturedConfig = cfg
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range s.streamResps {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestClientCompleteTranslatesTextAndToolCalls(t *testing.T) {
	stub := &stubGenerativeClient{
		completeResp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{
						{Text: "hi there"},
						{FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{"query": "docs"}}},
					},
				},
			}},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
				PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15,
			},
		},
	}
	client, err := geminiprovider.New(geminiprovider.Options{Client: stub, DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)

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
	require.Equal(t, "lookup", resp.ToolCalls[0].Name)
	require.Equal(t, "docs", resp.ToolCalls[0].Payload.(map[string]any)["query"])
	require.Equal(t, "tool_calls", resp.StopReason)
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, "gemini-2.0-flash", stub.capturedModel)
}

func TestClientCompleteSeparatesSystemInstruction(t *testing.T) {
	stub := &stubGenerativeClient{completeResp: &genai.GenerateContentResponse{}}
	client, err := geminiprovider.New(geminiprovider.Options{Client: stub, DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "be terse"}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, stub.capturedConfig.SystemInstruction)
}

func TestStreamEmitsTextAndStop(t *testing.T) {
	stub := &stubGenerativeClient{
		streamResps: []*genai.GenerateContentResponse{
			{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "hel"}}}}}},
			{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "lo"}}}, FinishReason: genai.FinishReasonStop}}},
		},
	}
	client, err := geminiprovider.New(geminiprovider.Options{Client: stub, DefaultModel: "gemini-2.0-flash"})
	require.NoError(t, err)

	streamer, err := client.Stream(context.Background(), &model.Request{
		Messages: []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}}},
	})
	require.NoError(t, err)
	defer streamer.Close()

	var texts []string
	var gotStop bool
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			break
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			texts = append(texts, chunk.Message.Parts[0].(model.TextPart).Text)
		case model.ChunkTypeStop:
			gotStop = true
			require.Equal(t, string(genai.FinishReasonStop), chunk.StopReason)
		}
	}
	require.Equal(t, []string{"hel", "lo"}, texts)
	require.True(t, gotStop)
}
