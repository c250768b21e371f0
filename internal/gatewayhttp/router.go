// Package gatewayhttp implements the Request Router (C9): it parses the
// OpenAI-compatible HTTP surface, looks up the requested model in the
// registry, enforces the limit gate before dispatch, runs the request
// through the tool-invocation loop and the selected provider adapter, frames
// streaming responses as Server-Sent Events matching the OpenAI wire format,
// and closes the accounting loop (cost meter, counter updates, trace spans)
// once the stream ends.
package gatewayhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/santrancisco/ai-gateway/internal/apierror"
	"github.com/santrancisco/ai-gateway/internal/cost"
	"github.com/santrancisco/ai-gateway/internal/limit"
	"github.com/santrancisco/ai-gateway/internal/model"
	"github.com/santrancisco/ai-gateway/internal/registry"
	gatewaychain "github.com/santrancisco/ai-gateway/internal/serverchain"
	"github.com/santrancisco/ai-gateway/internal/telemetry"
	"github.com/santrancisco/ai-gateway/internal/toolloop"
	"github.com/santrancisco/ai-gateway/internal/trace"
)

// Router wires the registry, limit gate, tool loop, cost meter, and trace
// emitter around a set of per-provider model.Client implementations. One
// Router instance serves the whole process; it holds no per-request mutable
// state itself, matching the spec's "no cross-request mutable state on the
// hot path" guarantee.
type Router struct {
	registry *registry.Registry
	clients  map[string]model.Client
	gate     *limit.Gate
	emitter  *trace.Emitter
	loopCfg  toolloop.Config
	logger   telemetry.Logger
	now      func() time.Time
}

// Option configures a Router at construction.
type Option func(*Router)

// WithToolLoopConfig overrides the tool-invocation loop's defaults.
func WithToolLoopConfig(cfg toolloop.Config) Option {
	return func(r *Router) { r.loopCfg = cfg }
}

// WithLogger attaches a logger for request-path failures. Defaults to a
// no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides the time source used for bucket computation and span
// timestamps. Intended for tests; defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New builds a Router. clients maps a registry.Descriptor.Provider tag (e.g.
// "openai", "anthropic", "gemini", "bedrock") to the model.Client instance
// that serves it.
func New(reg *registry.Registry, clients map[string]model.Client, gate *limit.Gate, emitter *trace.Emitter, opts ...Option) *Router {
	r := &Router{
		registry: reg,
		clients:  clients,
		gate:     gate,
		emitter:  emitter,
		logger:   telemetry.NoopLogger{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ServeMux builds an http.ServeMux with the gateway's HTTP surface mounted:
// POST /v1/chat/completions, GET /v1/models, POST /v1/embeddings,
// POST /v1/images/generations.
func (r *Router) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", r.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", r.handleListModels)
	mux.HandleFunc("POST /v1/embeddings", r.handleEmbeddings)
	mux.HandleFunc("POST /v1/images/generations", r.handleImageGenerations)
	return mux
}

func (r *Router) handleListModels(w http.ResponseWriter, req *http.Request) {
	descs := r.registry.List()
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	data := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		data = append(data, map[string]any{"id": d.ID, "object": "model", "owned_by": d.Provider})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (r *Router) handleChatCompletions(w http.ResponseWriter, httpReq *http.Request) {
	body, err := readBody(httpReq)
	if err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, err.Error(), err))
		return
	}
	req, err := parseChatCompletionRequest(body)
	if err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, err.Error(), err))
		return
	}

	desc, err := r.registry.Lookup(req.Model)
	if err != nil {
		writeError(w, apierror.New(apierror.KindModelNotFound, err.Error(), err))
		return
	}
	client, ok := r.clients[desc.Provider]
	if !ok {
		writeError(w, apierror.New(apierror.KindInternal, "no client configured for provider "+desc.Provider, nil))
		return
	}
	if desc.UpstreamModel != "" {
		req.Model = desc.UpstreamModel
	}

	ctx := httpReq.Context()
	now := r.now()
	if err := r.gate.Check(ctx, limit.Global, now); err != nil {
		writeError(w, err)
		return
	}

	span := trace.StartSpan("", "", "chat.completions", now)
	span.SetAttribute("model", desc.ID)
	span.SetAttribute("provider", desc.Provider)

	loop := toolloop.New(client, r.loopCfg, nil)
	run := gatewaychain.LoggingMiddleware(r.logger)(loop.Run)

	if req.Stream {
		r.streamChatCompletion(ctx, w, req, desc, run, span)
		return
	}
	r.completeChatCompletion(ctx, w, req, desc, run, span)
}

// completeChatCompletion buffers the canonical stream (even for a
// non-streaming request, dispatch always goes through the tool loop so MCP
// servers work identically in both modes) until it closes, then returns a
// single JSON body.
func (r *Router) completeChatCompletion(ctx context.Context, w http.ResponseWriter, req *model.Request, desc registry.Descriptor, run gatewaychain.StreamHandler, span *trace.Builder) {
	var text string
	var toolCalls []model.ToolCall
	var usage model.TokenUsage
	finishReason := "stop"
	errorKind := ""

	err := run(ctx, req, func(c model.Chunk) error {
		switch c.Type {
		case model.ChunkTypeText:
			if c.Message != nil {
				for _, p := range c.Message.Parts {
					if tp, ok := p.(model.TextPart); ok {
						text += tp.Text
					}
				}
			}
		case model.ChunkTypeToolCall:
			if c.ToolCall != nil {
				toolCalls = append(toolCalls, *c.ToolCall)
			}
		case model.ChunkTypeUsage:
			if c.UsageDelta != nil {
				usage = *c.UsageDelta
			}
		case model.ChunkTypeStop:
			finishReason = c.StopReason
			errorKind = c.ErrorKind
		}
		return nil
	})

	computedCost := r.finish(ctx, desc, usage, errorKind, span)

	if err != nil {
		r.logger.Error(ctx, "chat completion failed", "error", err, "model", desc.ID)
		writeError(w, err)
		return
	}
	if errorKind != "" {
		writeError(w, apierror.New(apierror.Kind(errorKind), "tool loop did not reach a final answer", nil))
		return
	}

	_ = computedCost
	resp := chatCompletionResponse{
		Object: "chat.completion",
		Model:  desc.ID,
		Choices: []wireChoice{{
			Index:        0,
			Message:      &wireAssistant{Role: "assistant", Content: text, ToolCalls: toWireToolCalls(toolCalls)},
			FinishReason: &finishReason,
		}},
		Usage: toWireUsage(usage),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) streamChatCompletion(ctx context.Context, w http.ResponseWriter, req *model.Request, desc registry.Descriptor, run gatewaychain.StreamHandler, span *trace.Builder) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierror.New(apierror.KindInternal, "streaming unsupported by response writer", nil))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := newSSEEncoder(w, flusher)
	var usage model.TokenUsage
	errorKind := ""

	err := run(ctx, req, func(c model.Chunk) error {
		switch c.Type {
		case model.ChunkTypeUsage:
			if c.UsageDelta != nil {
				usage = *c.UsageDelta
			}
		case model.ChunkTypeStop:
			errorKind = c.ErrorKind
		}
		return enc.writeChunk(desc.ID, c)
	})

	r.finish(ctx, desc, usage, errorKind, span)

	if err != nil {
		r.logger.Error(ctx, "streaming chat completion failed", "error", err, "model", desc.ID)
		_ = enc.writeError(err)
	}
	enc.writeDone()
}

// finish computes the request's cost, records it against the limit gate's
// counters, and closes the trace span. It is called exactly once per
// request that reached dispatch, whether the outcome was success or error,
// matching the spec's accounting policy.
func (r *Router) finish(ctx context.Context, desc registry.Descriptor, usage model.TokenUsage, errorKind string, span *trace.Builder) float64 {
	now := r.now()
	var computedCost float64
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		computedCost = cost.Chat(usage, desc)
	} else if errorKind != "" {
		computedCost = cost.Failed()
	}
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		if err := r.gate.Record(ctx, limit.Global, computedCost, now); err != nil {
			r.logger.Warn(ctx, "failed to record limit gate counters", "error", err)
		}
	}

	span.SetAttribute("prompt_tokens", itoa(usage.InputTokens))
	span.SetAttribute("completion_tokens", itoa(usage.OutputTokens))
	span.SetAttribute("cost", ftoa(computedCost))
	if errorKind != "" {
		span.SetAttribute("error_kind", errorKind)
	}
	if r.emitter != nil {
		r.emitter.Emit(span.Finish(now))
	}
	return computedCost
}

// handleEmbeddings implements POST /v1/embeddings: body parsing, model
// lookup, capability gating, the same limit-gate pre-check chat completions
// run, dispatch to the provider client's model.Embedder capability, and the
// matching cost/counter/span accounting. Only clients built with an
// EmbeddingsClient (currently the OpenAI family) implement model.Embedder;
// a model advertising CapabilityEmbeddings whose provider client doesn't
// fails with KindInternal rather than silently succeeding.
func (r *Router) handleEmbeddings(w http.ResponseWriter, httpReq *http.Request) {
	var wire struct {
		Model string `json:"model"`
		Input any    `json:"input"`
	}
	body, err := readBody(httpReq)
	if err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, err.Error(), err))
		return
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, "invalid JSON body", err))
		return
	}
	desc, err := r.registry.Lookup(wire.Model)
	if err != nil {
		writeError(w, apierror.New(apierror.KindModelNotFound, err.Error(), err))
		return
	}
	if !desc.HasCapability(registry.CapabilityEmbeddings) {
		writeError(w, apierror.New(apierror.KindBadRequest, "model does not support embeddings", nil))
		return
	}
	input, err := normalizeEmbeddingInput(wire.Input)
	if err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, err.Error(), err))
		return
	}

	client, ok := r.clients[desc.Provider]
	if !ok {
		writeError(w, apierror.New(apierror.KindInternal, "no client configured for provider "+desc.Provider, nil))
		return
	}
	embedder, ok := client.(model.Embedder)
	if !ok {
		writeError(w, apierror.New(apierror.KindInternal, "provider "+desc.Provider+" does not support embeddings dispatch", nil))
		return
	}
	upstreamModel := desc.ID
	if desc.UpstreamModel != "" {
		upstreamModel = desc.UpstreamModel
	}

	ctx := httpReq.Context()
	now := r.now()
	if err := r.gate.Check(ctx, limit.Global, now); err != nil {
		writeError(w, err)
		return
	}

	span := trace.StartSpan("", "", "embeddings", now)
	span.SetAttribute("model", desc.ID)
	span.SetAttribute("provider", desc.Provider)

	resp, err := embedder.Embed(ctx, &model.EmbeddingRequest{Model: upstreamModel, Input: input})
	if err != nil {
		r.finishNonChat(ctx, desc, registry.CapabilityEmbeddings, 0, errorKind(err), span)
		r.logger.Error(ctx, "embeddings failed", "error", err, "model", desc.ID)
		writeError(w, err)
		return
	}
	r.finishNonChat(ctx, desc, registry.CapabilityEmbeddings, resp.Usage.InputTokens, "", span)

	data := make([]map[string]any, 0, len(resp.Vectors))
	for i, v := range resp.Vectors {
		data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": v})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
		"model":  desc.ID,
		"usage":  toWireUsage(resp.Usage),
	})
}

// normalizeEmbeddingInput accepts the OpenAI wire format's two common input
// shapes for POST /v1/embeddings: a single string or an array of strings.
func normalizeEmbeddingInput(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("input must not be empty")
		}
		return []string{v}, nil
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("input must not be empty")
		}
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input[%d] must be a string", i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("input must be a string or array of strings")
	}
}

// handleImageGenerations implements POST /v1/images/generations: body
// parsing, model lookup, capability gating, dispatch to the provider
// client's model.Imager capability, and the matching cost/counter/span
// accounting. Only clients built with an ImageClient (currently the OpenAI
// family) implement model.Imager; a model advertising CapabilityImage whose
// provider client doesn't fails with KindInternal rather than silently
// succeeding.
func (r *Router) handleImageGenerations(w http.ResponseWriter, httpReq *http.Request) {
	var wire struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		N      int    `json:"n"`
		Size   string `json:"size"`
	}
	body, err := readBody(httpReq)
	if err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, err.Error(), err))
		return
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, "invalid JSON body", err))
		return
	}
	if wire.Prompt == "" {
		writeError(w, apierror.New(apierror.KindBadRequest, "prompt is required", nil))
		return
	}
	desc, err := r.registry.Lookup(wire.Model)
	if err != nil {
		writeError(w, apierror.New(apierror.KindModelNotFound, err.Error(), err))
		return
	}
	if !desc.HasCapability(registry.CapabilityImage) {
		writeError(w, apierror.New(apierror.KindBadRequest, "model does not support image generation", nil))
		return
	}
	client, ok := r.clients[desc.Provider]
	if !ok {
		writeError(w, apierror.New(apierror.KindInternal, "no client configured for provider "+desc.Provider, nil))
		return
	}
	imager, ok := client.(model.Imager)
	if !ok {
		writeError(w, apierror.New(apierror.KindInternal, "provider "+desc.Provider+" does not support image dispatch", nil))
		return
	}
	upstreamModel := desc.ID
	if desc.UpstreamModel != "" {
		upstreamModel = desc.UpstreamModel
	}

	ctx := httpReq.Context()
	now := r.now()
	if err := r.gate.Check(ctx, limit.Global, now); err != nil {
		writeError(w, err)
		return
	}

	span := trace.StartSpan("", "", "images.generations", now)
	span.SetAttribute("model", desc.ID)
	span.SetAttribute("provider", desc.Provider)

	resp, err := imager.Image(ctx, &model.ImageRequest{Model: upstreamModel, Prompt: wire.Prompt, N: wire.N, Size: wire.Size})
	if err != nil {
		r.finishImage(ctx, desc, 0, errorKind(err), span)
		r.logger.Error(ctx, "image generation failed", "error", err, "model", desc.ID)
		writeError(w, err)
		return
	}
	r.finishImage(ctx, desc, len(resp.Artifacts), "", span)

	data := make([]map[string]any, 0, len(resp.Artifacts))
	for _, a := range resp.Artifacts {
		item := map[string]any{}
		if a.URL != "" {
			item["url"] = a.URL
		}
		if a.B64JSON != "" {
			item["b64_json"] = a.B64JSON
		}
		data = append(data, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": now.Unix(), "data": data})
}

// finishImage is finish's counterpart for image generation: it prices the
// request with cost.Image (a flat per-image price rather than a token
// rate), records gate counters only when the registry marks this capability
// as countable per the cost-limit open question and the upstream call
// succeeded, and closes the trace span.
func (r *Router) finishImage(ctx context.Context, desc registry.Descriptor, count int, errorKind string, span *trace.Builder) float64 {
	now := r.now()
	var computedCost float64
	if cost.Countable(desc, registry.CapabilityImage) {
		computedCost = cost.Image(count, desc)
		if errorKind == "" {
			if err := r.gate.Record(ctx, limit.Global, computedCost, now); err != nil {
				r.logger.Warn(ctx, "failed to record limit gate counters", "error", err)
			}
		}
	}
	span.SetAttribute("cost", ftoa(computedCost))
	if errorKind != "" {
		span.SetAttribute("error_kind", errorKind)
	}
	if r.emitter != nil {
		r.emitter.Emit(span.Finish(now))
	}
	return computedCost
}

// finishNonChat is finish's counterpart for the embeddings surface (image
// generation uses finishImage): it prices the request with cost.Embedding,
// records gate counters only when the registry marks this capability as
// countable per the cost-limit open question and the upstream call
// succeeded, and closes the trace span.
func (r *Router) finishNonChat(ctx context.Context, desc registry.Descriptor, capability registry.Capability, promptTokens int, errorKind string, span *trace.Builder) float64 {
	now := r.now()
	var computedCost float64
	if cost.Countable(desc, capability) {
		computedCost = cost.Embedding(promptTokens, desc)
		if errorKind == "" {
			if err := r.gate.Record(ctx, limit.Global, computedCost, now); err != nil {
				r.logger.Warn(ctx, "failed to record limit gate counters", "error", err)
			}
		}
	}
	span.SetAttribute("prompt_tokens", itoa(promptTokens))
	span.SetAttribute("cost", ftoa(computedCost))
	if errorKind != "" {
		span.SetAttribute("error_kind", errorKind)
	}
	if r.emitter != nil {
		r.emitter.Emit(span.Finish(now))
	}
	return computedCost
}
