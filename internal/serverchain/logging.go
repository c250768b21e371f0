package gateway

import (
	"context"
	"time"

	"github.com/santrancisco/ai-gateway/internal/model"
	"github.com/santrancisco/ai-gateway/internal/telemetry"
)

// StreamHandler processes a streaming model completion request by invoking
// the provided send callback for each chunk produced by the model. The send
// function must be called sequentially for each chunk; returning an error
// from send aborts the stream. The router's tool-invocation loop implements
// this signature directly via its Run method.
type StreamHandler func(ctx context.Context, req *model.Request, send func(model.Chunk) error) error

// StreamMiddleware wraps a StreamHandler to add behavior around streaming
// completions: logging, telemetry, backpressure, or error handling. The
// middleware must preserve the sequential semantics of the send function.
type StreamMiddleware func(next StreamHandler) StreamHandler

// LoggingMiddleware returns a StreamMiddleware that logs a stream's start,
// duration, and outcome. It is the gateway's one built-in middleware, applied
// directly around a StreamHandler — the router composes it around the
// tool-invocation loop's Run method, which shares StreamHandler's exact
// signature, instead of around a bare provider client.
func LoggingMiddleware(logger telemetry.Logger) StreamMiddleware {
	return func(next StreamHandler) StreamHandler {
		return func(ctx context.Context, req *model.Request, send func(model.Chunk) error) error {
			start := time.Now()
			err := next(ctx, req, send)
			dur := time.Since(start)
			if err != nil {
				logger.Error(ctx, "model stream failed", "model", req.Model, "duration", dur.String(), "error", err)
				return err
			}
			logger.Debug(ctx, "model stream completed", "model", req.Model, "duration", dur.String())
			return nil
		}
	}
}
