package openai

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/santrancisco/ai-gateway/internal/model"
)

// openaiStreamer adapts the Chat Completions SSE stream to model.Streamer,
// accumulating per-index tool_call argument deltas (the wire format splits a
// single tool call's JSON arguments across many chunks) the same way the
// Anthropic adapter accumulates partial_json deltas.
type openaiStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any

	toolCalls   map[int64]*openaiToolCallBuffer
	pendingStop *model.Chunk
}

type openaiToolCallBuffer struct {
	id   string
	name string
	args string
}

func newOpenAIStreamer(stream *ssestream.Stream[openai.ChatCompletionChunk]) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &openaiStreamer{
		ctx:       ctx,
		cancel:    cancel,
		stream:    stream,
		chunks:    make(chan model.Chunk, 32),
		toolCalls: make(map[int64]*openaiToolCallBuffer),
	}
	go s.run()
	return s
}

func (s *openaiStreamer) Recv() (model.Chunk, error) {
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

func (s *openaiStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *openaiStreamer) Metadata() map[string]any {
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

func (s *openaiStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			} else {
				s.flushToolCalls()
				if err := s.flushPendingStop(); err != nil {
					s.setErr(err)
					return
				}
				s.setErr(nil)
			}
			return
		}
		if err := s.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *openaiStreamer) handle(chunk openai.ChatCompletionChunk) error {
	if len(chunk.Choices) == 0 {
		if chunk.Usage.TotalTokens > 0 {
			s.recordUsage(chunk.Usage)
			return s.flushPendingStop()
		}
		return nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Content != "" {
		if err := s.emit(model.Chunk{
			Type:    model.ChunkTypeText,
			Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: delta.Content}}},
		}); err != nil {
			return err
		}
	}

	for _, tc := range delta.ToolCalls {
		buf, ok := s.toolCalls[tc.Index]
		if !ok {
			buf = &openaiToolCallBuffer{}
			s.toolCalls[tc.Index] = buf
		}
		if tc.ID != "" {
			buf.id = tc.ID
		}
		if tc.Function.Name != "" {
			buf.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			buf.args += tc.Function.Arguments
			if err := s.emit(model.Chunk{
				Type:          model.ChunkTypeToolCallDelta,
				ToolCallDelta: &model.ToolCallDelta{Name: buf.name, ID: buf.id, Delta: tc.Function.Arguments},
			}); err != nil {
				return err
			}
		}
	}

	if chunk.Usage.TotalTokens > 0 {
		s.recordUsage(chunk.Usage)
	}

	if choice.FinishReason != "" {
		if err := s.flushToolCalls(); err != nil {
			return err
		}
		stop := model.Chunk{Type: model.ChunkTypeStop, StopReason: string(choice.FinishReason)}
		// StreamOptions.IncludeUsage delivers the token-usage chunk in a
		// trailing, choices-less chunk after this one, so the stop chunk
		// must wait for it (or stream end) to keep usage-before-stop
		// ordering. When usage already arrived in this same chunk, there is
		// nothing left to wait for.
		if chunk.Usage.TotalTokens > 0 {
			return s.emit(stop)
		}
		s.pendingStop = &stop
		return nil
	}
	return nil
}

// flushPendingStop emits a stop chunk deferred by handle while waiting for a
// trailing usage chunk, once that usage has arrived (or the stream ended
// without one).
func (s *openaiStreamer) flushPendingStop() error {
	if s.pendingStop == nil {
		return nil
	}
	stop := *s.pendingStop
	s.pendingStop = nil
	return s.emit(stop)
}

func (s *openaiStreamer) flushToolCalls() error {
	for i := int64(0); i < int64(len(s.toolCalls)); i++ {
		buf, ok := s.toolCalls[i]
		if !ok || buf.name == "" {
			continue
		}
		var payload any
		if buf.args != "" {
			if err := json.Unmarshal([]byte(buf.args), &payload); err != nil {
				payload = map[string]any{"raw": buf.args}
			}
		}
		if err := s.emit(model.Chunk{
			Type:     model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{ID: buf.id, Name: buf.name, Payload: payload},
		}); err != nil {
			return err
		}
	}
	s.toolCalls = make(map[int64]*openaiToolCallBuffer)
	return nil
}

func (s *openaiStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *openaiStreamer) recordUsage(usage openai.CompletionUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = model.TokenUsage{
		InputTokens:  int(usage.PromptTokens),
		OutputTokens: int(usage.CompletionTokens),
		TotalTokens:  int(usage.TotalTokens),
	}
	s.metaMu.Unlock()
	if err := s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &model.TokenUsage{
		InputTokens:  int(usage.PromptTokens),
		OutputTokens: int(usage.CompletionTokens),
		TotalTokens:  int(usage.TotalTokens),
	}}); err != nil {
		// Usage is best-effort during teardown; the stream is already ending.
		_ = err
	}
}

func (s *openaiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *openaiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
