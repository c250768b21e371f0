package gatewayhttp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/santrancisco/ai-gateway/internal/apierror"
	"github.com/santrancisco/ai-gateway/internal/model"
)

const maxBodyBytes = 16 << 20 // 16 MiB, matching the teacher's HTTP body ceiling

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, env := apierror.ToEnvelope(err)
	writeJSON(w, status, env)
}

// errorKind reports the wire-facing apierror.Kind a given error would
// classify to, for metrics/logging call sites that record a kind alongside
// the error itself without duplicating ToEnvelope's classification.
func errorKind(err error) string {
	if ae, ok := apierror.As(err); ok {
		return string(ae.Kind())
	}
	if pe, ok := model.AsProviderError(err); ok {
		return string(apierror.FromProviderError(pe).Kind())
	}
	return string(apierror.KindInternal)
}

func itoa(n int) string       { return strconv.Itoa(n) }
func ftoa(f float64) string   { return strconv.FormatFloat(f, 'f', -1, 64) }

// sseEncoder frames chunk-stream events using the OpenAI-compatible
// text/event-stream wire format: each event is a single `data: {...}\n\n`
// line carrying a chat.completion.chunk object, and the stream always ends
// with a terminal `data: [DONE]\n\n` line, even after a mid-stream failure —
// per the gateway's streaming-failure contract, an error that occurs after
// bytes have already been sent is reported as one last `data:` event rather
// than by changing the HTTP status, which by then is already committed.
type sseEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEEncoder(w http.ResponseWriter, flusher http.Flusher) *sseEncoder {
	return &sseEncoder{w: w, flusher: flusher}
}

func (e *sseEncoder) writeChunk(modelID string, c model.Chunk) error {
	choice := wireChoice{Index: 0, Delta: &wireAssistant{}}
	switch c.Type {
	case model.ChunkTypeText:
		if c.Message != nil {
			for _, p := range c.Message.Parts {
				if tp, ok := p.(model.TextPart); ok {
					choice.Delta.Content += tp.Text
				}
			}
		}
	case model.ChunkTypeToolCall:
		if c.ToolCall == nil {
			return nil
		}
		choice.Delta.ToolCalls = toWireToolCalls([]model.ToolCall{*c.ToolCall})
	case model.ChunkTypeStop:
		reason := c.StopReason
		choice.FinishReason = &reason
	default:
		return nil
	}

	payload := chatCompletionResponse{
		Object:  "chat.completion.chunk",
		Model:   modelID,
		Choices: []wireChoice{choice},
	}
	return e.write(payload)
}

func (e *sseEncoder) writeError(err error) error {
	_, env := apierror.ToEnvelope(err)
	return e.write(env)
}

func (e *sseEncoder) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

func (e *sseEncoder) writeDone() {
	fmt.Fprint(e.w, "data: [DONE]\n\n")
	e.flusher.Flush()
}
