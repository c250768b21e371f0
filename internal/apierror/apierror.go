// Package apierror defines the gateway's wire-facing error taxonomy: the kinds
// returned by the limit gate, tool-invocation loop, and provider adapters, and
// the mapping from those kinds onto the OpenAI-compatible error envelope
// (HTTP status plus {error:{message,type,code}} body).
package apierror

import (
	"errors"
	"fmt"

	"github.com/santrancisco/ai-gateway/internal/model"
)

// Kind classifies a gateway-level failure for HTTP status mapping and client UX.
type Kind string

const (
	// KindBadRequest indicates a malformed or schema-invalid request body.
	KindBadRequest Kind = "bad_request"

	// KindModelNotFound indicates the requested model is not configured for any provider.
	KindModelNotFound Kind = "model_not_found"

	// KindAuthFailed indicates the caller's credentials were rejected.
	KindAuthFailed Kind = "auth_failed"

	// KindRateLimited indicates the limit gate rejected the request on the hourly
	// request-count check.
	KindRateLimited Kind = "rate_limited"

	// KindCostLimitExceeded indicates the limit gate rejected the request because a
	// daily, monthly, or total cost ceiling would be exceeded.
	KindCostLimitExceeded Kind = "cost_limit_exceeded"

	// KindUpstreamError indicates the upstream provider returned a failure. Retryable
	// and HTTPStatus carry additional detail mirroring model.ProviderError.
	KindUpstreamError Kind = "upstream_error"

	// KindToolLoopExhausted indicates the tool-invocation loop reached its iteration
	// bound without the provider producing a final assistant message.
	KindToolLoopExhausted Kind = "tool_loop_exhausted"

	// KindToolTransportFailed indicates an MCP tool call failed after exhausting
	// transport retries.
	KindToolTransportFailed Kind = "tool_transport_failed"

	// KindTimeout indicates a request or per-call deadline was exceeded.
	KindTimeout Kind = "timeout"

	// KindCanceled indicates the caller canceled the request.
	KindCanceled Kind = "canceled"

	// KindInternal indicates an unexpected gateway-side failure.
	KindInternal Kind = "internal"
)

// Error is the gateway's structured error type. It crosses package boundaries
// (limit gate, tool loop, router) carrying enough detail to render the
// OpenAI-compatible error body without re-deriving it at the HTTP edge.
type Error struct {
	kind      Kind
	message   string
	code      string
	retryable bool
	status    int
	cause     error
}

// New constructs an Error of the given kind. message is the text surfaced to
// the caller; code is an optional short machine-readable token (left empty
// when not meaningful for kind). cause may be nil.
func New(kind Kind, message string, cause error) *Error {
	if kind == "" {
		panic("apierror: kind is required")
	}
	return &Error{kind: kind, message: message, cause: cause}
}

// Upstream builds a KindUpstreamError carrying the retryable/status detail the
// spec's UpstreamError contract requires.
func Upstream(message string, retryable bool, status int, cause error) *Error {
	return &Error{kind: KindUpstreamError, message: message, retryable: retryable, status: status, cause: cause}
}

// WithCode attaches a machine-readable code and returns the receiver for chaining.
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Retryable reports whether the failure may succeed on retry without change.
func (e *Error) Retryable() bool { return e.retryable }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return string(e.kind)
}

// Unwrap preserves the original error chain.
func (e *Error) Unwrap() error { return e.cause }

// As returns the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HTTPStatus returns the HTTP status code the gateway's router writes for err's kind.
func (e *Error) HTTPStatus() int {
	if e.kind == KindUpstreamError && e.status != 0 {
		return e.status
	}
	switch e.kind {
	case KindBadRequest:
		return 400
	case KindAuthFailed:
		return 401
	case KindModelNotFound:
		return 404
	case KindRateLimited, KindCostLimitExceeded:
		return 429
	case KindUpstreamError, KindToolTransportFailed:
		return 502
	case KindToolLoopExhausted, KindTimeout, KindCanceled, KindInternal:
		return 500
	default:
		return 500
	}
}

// WireType returns the OpenAI-compatible "type" field for the error envelope.
func (e *Error) WireType() string {
	switch e.kind {
	case KindBadRequest, KindModelNotFound:
		return "invalid_request_error"
	case KindAuthFailed:
		return "authentication_error"
	case KindRateLimited:
		return "rate_limit_error"
	case KindCostLimitExceeded:
		return "cost_limit_error"
	case KindUpstreamError, KindToolTransportFailed:
		// A transport failure to an MCP tool server surfaces as a fatal
		// upstream_error per the tool-invocation loop's error handling design.
		return "upstream_error"
	case KindToolLoopExhausted, KindTimeout, KindCanceled, KindInternal:
		return "internal_error"
	default:
		return "internal_error"
	}
}

// Envelope is the JSON shape serialized for every non-2xx gateway response.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the nested {message,type,code} object inside Envelope.
type EnvelopeBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ToEnvelope renders err as the wire error body. Any error is accepted: a
// *Error renders its own kind/code; a *model.ProviderError is classified via
// FromProviderError first; anything else becomes KindInternal.
func ToEnvelope(err error) (int, Envelope) {
	ae, ok := As(err)
	if !ok {
		if pe, isProvider := model.AsProviderError(err); isProvider {
			ae = FromProviderError(pe)
		} else {
			ae = New(KindInternal, err.Error(), err)
		}
	}
	return ae.HTTPStatus(), Envelope{Error: EnvelopeBody{
		Message: ae.Error(),
		Type:    ae.WireType(),
		Code:    ae.code,
	}}
}

// FromProviderError maps a provider adapter failure onto the gateway taxonomy.
// This is the bridge between C2's UpstreamError contract (model.ProviderError)
// and the wire-facing kinds the router and limit gate reason about.
func FromProviderError(pe *model.ProviderError) *Error {
	msg := fmt.Sprintf("%s: %s", pe.Provider(), pe.Message())
	switch pe.Kind() {
	case model.ProviderErrorKindAuth:
		return New(KindAuthFailed, msg, pe)
	case model.ProviderErrorKindInvalidRequest:
		return New(KindBadRequest, msg, pe)
	case model.ProviderErrorKindRateLimited:
		return Upstream(msg, true, pe.HTTPStatus(), pe)
	case model.ProviderErrorKindUnavailable:
		return Upstream(msg, true, pe.HTTPStatus(), pe)
	default:
		return Upstream(msg, pe.Retryable(), pe.HTTPStatus(), pe)
	}
}
