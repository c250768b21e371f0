package apierror

import (
	"errors"
	"testing"

	"github.com/santrancisco/ai-gateway/internal/model"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindBadRequest, 400},
		{KindAuthFailed, 401},
		{KindModelNotFound, 404},
		{KindRateLimited, 429},
		{KindCostLimitExceeded, 429},
		{KindUpstreamError, 502},
		{KindToolTransportFailed, 502},
		{KindToolLoopExhausted, 500},
		{KindTimeout, 500},
		{KindCanceled, 500},
		{KindInternal, 500},
	}
	for _, c := range cases {
		err := New(c.kind, "boom", nil)
		if got := err.HTTPStatus(); got != c.want {
			t.Errorf("kind %s: HTTPStatus() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestUpstreamErrorCarriesStatus(t *testing.T) {
	err := Upstream("provider down", true, 503, nil)
	if err.HTTPStatus() != 503 {
		t.Fatalf("HTTPStatus() = %d, want 503", err.HTTPStatus())
	}
	if !err.Retryable() {
		t.Fatal("expected retryable")
	}
	if err.WireType() != "upstream_error" {
		t.Fatalf("WireType() = %s, want upstream_error", err.WireType())
	}
}

func TestToEnvelopeWrapsPlainError(t *testing.T) {
	status, env := ToEnvelope(errors.New("unexpected panic"))
	if status != 500 {
		t.Fatalf("status = %d, want 500", status)
	}
	if env.Error.Type != "internal_error" {
		t.Fatalf("type = %s, want internal_error", env.Error.Type)
	}
}

func TestToEnvelopePreservesApierror(t *testing.T) {
	src := New(KindRateLimited, "too many requests", nil).WithCode("hourly_limit")
	status, env := ToEnvelope(src)
	if status != 429 {
		t.Fatalf("status = %d, want 429", status)
	}
	if env.Error.Type != "rate_limit_error" {
		t.Fatalf("type = %s, want rate_limit_error", env.Error.Type)
	}
	if env.Error.Code != "hourly_limit" {
		t.Fatalf("code = %s, want hourly_limit", env.Error.Code)
	}
}

func TestFromProviderErrorRateLimited(t *testing.T) {
	pe := model.NewProviderError("openai", "chat.completions", 429, model.ProviderErrorKindRateLimited, "rate_limit", "slow down", "req_1", true, nil)
	ae := FromProviderError(pe)
	if ae.Kind() != KindUpstreamError {
		t.Fatalf("Kind() = %s, want %s", ae.Kind(), KindUpstreamError)
	}
	if ae.HTTPStatus() != 429 {
		t.Fatalf("HTTPStatus() = %d, want 429", ae.HTTPStatus())
	}
	if !ae.Retryable() {
		t.Fatal("expected retryable")
	}
}

func TestFromProviderErrorAuth(t *testing.T) {
	pe := model.NewProviderError("anthropic", "messages.create", 401, model.ProviderErrorKindAuth, "invalid_api_key", "bad key", "", false, nil)
	ae := FromProviderError(pe)
	if ae.Kind() != KindAuthFailed {
		t.Fatalf("Kind() = %s, want %s", ae.Kind(), KindAuthFailed)
	}
	if ae.HTTPStatus() != 401 {
		t.Fatalf("HTTPStatus() = %d, want 401", ae.HTTPStatus())
	}
}

func TestAsUnwraps(t *testing.T) {
	src := New(KindTimeout, "deadline exceeded", errors.New("context deadline exceeded"))
	wrapped := errors.Join(errors.New("wrapper"), src)
	ae, ok := As(wrapped)
	if !ok {
		t.Fatal("expected to find *Error in chain")
	}
	if ae.Kind() != KindTimeout {
		t.Fatalf("Kind() = %s, want %s", ae.Kind(), KindTimeout)
	}
}
