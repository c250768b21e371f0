package bedrock_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/santrancisco/ai-gateway/internal/model"
	"github.com/santrancisco/ai-gateway/internal/providers/bedrock"
)

func TestClientComplete(t *testing.T) {
	mock := &mockRuntime{}
	client, err := bedrock.New(bedrock.Options{
		Runtime:      mock,
		DefaultModel: "anthropic.claude-3",
	})
	require.NoError(t, err)

	mock.output = &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello"},
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					Name:  aws.String("calc_tool"),
					Input: document.NewLazyDocument(&map[string]any{"value": 42}),
				}},
			},
		}},
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(100),
			OutputTokens: aws.Int32(20),
			TotalTokens:  aws.Int32(120),
		},
		StopReason: brtypes.StopReasonToolUse,
	}

	resp, err := client.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "You are smart."}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
		Tools: []*model.ToolDefinition{
			{
				Name:        "calc.tool",
				Description: "calculator",
				InputSchema: map[string]any{"type": "object"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Len(t, resp.ToolCalls, 1)
	require.InDelta(t, 42.0, resp.ToolCalls[0].Payload.(map[string]any)["value"], 0.001)
	require.Equal(t, "tool_use", resp.StopReason)
	require.Equal(t, 120, resp.Usage.TotalTokens)

	input := mock.captured
	require.Equal(t, "anthropic.claude-3", *input.ModelId)
	require.Len(t, input.System, 1)
	require.Len(t, input.Messages, 1)
	require.Equal(t, brtypes.ConversationRoleUser, input.Messages[0].Role)
	require.NotNil(t, input.ToolConfig)
	require.Len(t, input.ToolConfig.Tools, 1)
}

func TestClientRequiresMessages(t *testing.T) {
	client, err := bedrock.New(bedrock.Options{Runtime: &mockRuntime{}, DefaultModel: "id"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestClientStream(t *testing.T) {
	mock := &mockRuntime{}
	client, err := bedrock.New(bedrock.Options{
		Runtime:      mock,
		DefaultModel: "anthropic.claude-3",
	})
	require.NoError(t, err)

	events := []brtypes.ConverseStreamOutput{
		&brtypes.ConverseStreamOutputMemberMessageStart{Value: brtypes.MessageStartEvent{}},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &brtypes.ContentBlockDeltaMemberText{Value: "Hello"},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockStart{Value: brtypes.ContentBlockStartEvent{
			ContentBlockIndex: aws.Int32(1),
			Start: &brtypes.ContentBlockStartMemberToolUse{Value: brtypes.ToolUseBlockStart{
				Name:      aws.String("search"),
				ToolUseId: aws.String("tool-1"),
			}},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(1),
			Delta: &brtypes.ContentBlockDeltaMemberToolUse{Value: brtypes.ToolUseBlockDelta{
				Input: aws.String(`{"query":"goa"}`),
			}},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockStop{Value: brtypes.ContentBlockStopEvent{
			ContentBlockIndex: aws.Int32(1),
		}},
		&brtypes.ConverseStreamOutputMemberMetadata{Value: brtypes.ConverseStreamMetadataEvent{
			Usage: &brtypes.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(2),
				TotalTokens:  aws.Int32(12),
			},
		}},
		&brtypes.ConverseStreamOutputMemberMessageStop{
			Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonToolUse},
		},
	}

	mock.streamOutput = newFakeStreamOutput(events, nil)
	streamer, err := client.Stream(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "system"}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hello"}}},
		},
		Tools: []*model.ToolDefinition{{
			Name:        "search",
			Description: "search",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	defer func() {
		_ = streamer.Close()
	}()

	var chunks []model.Chunk
	for {
		chunk, err := streamer.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.NotEmpty(t, chunks)
	require.Equal(t, model.ChunkTypeText, chunks[0].Type)

	var sawToolCall, sawUsage, sawStop bool
	for _, c := range chunks {
		switch c.Type {
		case model.ChunkTypeToolCall:
			sawToolCall = true
			require.Equal(t, "search", c.ToolCall.Name)
			require.Equal(t, "goa", c.ToolCall.Payload.(map[string]any)["query"])
		case model.ChunkTypeUsage:
			sawUsage = true
			require.Equal(t, 12, c.UsageDelta.TotalTokens)
		case model.ChunkTypeStop:
			sawStop = true
			require.Equal(t, "tool_use", c.StopReason)
		}
	}
	require.True(t, sawToolCall)
	require.True(t, sawUsage)
	require.True(t, sawStop)

	meta := streamer.Metadata()
	require.NotNil(t, meta)
}

type mockRuntime struct {
	captured     *bedrockruntime.ConverseInput
	output       *bedrockruntime.ConverseOutput
	streamInput  *bedrockruntime.ConverseStreamInput
	streamOutput bedrock.StreamOutput
	streamErr    error
}

func (m *mockRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput,
	optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.captured = params
	return m.output, nil
}

func (m *mockRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput,
	optFns ...func(*bedrockruntime.Options)) (bedrock.StreamOutput, error) {
	m.streamInput = params
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	return m.streamOutput, nil
}

type fakeStreamOutput struct {
	stream *bedrockruntime.ConverseStreamEventStream
}

func (f *fakeStreamOutput) GetStream() *bedrockruntime.ConverseStreamEventStream {
	return f.stream
}

type fakeStreamReader struct {
	events chan brtypes.ConverseStreamOutput
	err    error
}

func (r *fakeStreamReader) Events() <-chan brtypes.ConverseStreamOutput { return r.events }
func (r *fakeStreamReader) Close() error                                { return nil }
func (r *fakeStreamReader) Err() error                                  { return r.err }

func newFakeStreamOutput(events []brtypes.ConverseStreamOutput, err error) *fakeStreamOutput {
	ch := make(chan brtypes.ConverseStreamOutput, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	reader := &fakeStreamReader{events: ch, err: err}
	stream := bedrockruntime.NewConverseStreamEventStream(func(es *bedrockruntime.ConverseStreamEventStream) {
		es.Reader = reader
	})
	return &fakeStreamOutput{stream: stream}
}

var _ = json.Marshal
