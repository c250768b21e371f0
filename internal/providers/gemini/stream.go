package gemini

import (
	"context"
	"io"
	"sync"

	"google.golang.org/genai"

	"github.com/santrancisco/ai-gateway/internal/model"
)

// geminiStreamer adapts genai's push-style GenerateContentStream iterator to
// model.Streamer by draining it on a background goroutine into a buffered
// channel, the same shape the Anthropic and OpenAI streamers use so the
// tool-invocation loop can treat every provider identically.
type geminiStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newGeminiStreamer(seq func(yield func(*genai.GenerateContentResponse, error) bool)) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &geminiStreamer{
		ctx:    ctx,
		cancel: cancel,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run(seq)
	return s
}

func (s *geminiStreamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *geminiStreamer) Close() error {
	s.cancel()
	return nil
}

func (s *geminiStreamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *geminiStreamer) run(seq func(yield func(*genai.GenerateContentResponse, error) bool)) {
	defer close(s.chunks)

	stopped := false
	seq(func(resp *genai.GenerateContentResponse, err error) bool {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			stopped = true
			return false
		default:
		}
		if err != nil {
			s.setErr(err)
			stopped = true
			return false
		}
		if hErr := s.handle(resp); hErr != nil {
			s.setErr(hErr)
			stopped = true
			return false
		}
		return true
	})
	if !stopped {
		s.setErr(nil)
	}
}

func (s *geminiStreamer) handle(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]

	if resp.UsageMetadata != nil {
		usage := model.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
		s.metaMu.Lock()
		if s.metadata == nil {
			s.metadata = make(map[string]any)
		}
		s.metadata["usage"] = usage
		s.metaMu.Unlock()
		if err := s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
			return err
		}
	}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				if err := s.emit(model.Chunk{
					Type:    model.ChunkTypeText,
					Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: part.Text}}},
				}); err != nil {
					return err
				}
			}
			if part.FunctionCall != nil {
				if err := s.emit(model.Chunk{
					Type: model.ChunkTypeToolCall,
					ToolCall: &model.ToolCall{
						Name:    part.FunctionCall.Name,
						Payload: map[string]any(part.FunctionCall.Args),
						ID:      part.FunctionCall.ID,
					},
				}); err != nil {
					return err
				}
			}
		}
	}

	if candidate.FinishReason != "" {
		return s.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: string(candidate.FinishReason)})
	}
	return nil
}

func (s *geminiStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *geminiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *geminiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
