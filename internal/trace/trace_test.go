package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Span
}

func (s *recordingSink) WriteBatch(_ context.Context, spans []Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]Span(nil), spans...)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestSpanBuilderStartFinish(t *testing.T) {
	start := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	b := StartSpan("", "", "chat.completions", start)
	if b.TraceID() == "" || b.SpanID() == "" {
		t.Fatal("expected generated trace/span ids")
	}
	b.SetAttribute("model", "gpt-4o-mini")
	finish := start.Add(250 * time.Millisecond)
	span := b.Finish(finish)
	if span.FinishTimeUs <= span.StartTimeUs {
		t.Fatalf("finish time %d should be after start time %d", span.FinishTimeUs, span.StartTimeUs)
	}
	if span.Attributes["model"] != "gpt-4o-mini" {
		t.Fatalf("attributes = %v, missing model", span.Attributes)
	}
	if span.FinishDate != "2026-07-30" {
		t.Fatalf("FinishDate = %s, want 2026-07-30", span.FinishDate)
	}
}

func TestChildSpanSharesTraceID(t *testing.T) {
	now := time.Now()
	root := StartSpan("", "", "chat.completions", now)
	child := StartSpan(root.TraceID(), root.SpanID(), "provider.invoke", now)
	if child.TraceID() != root.TraceID() {
		t.Fatal("child span must share the root's trace id")
	}
	childSpan := child.Finish(now)
	if childSpan.ParentID != root.SpanID() {
		t.Fatal("child span's parent id must be the root span id")
	}
}

func TestEmitterFlushesOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	emitter := NewEmitter(sink, WithBatchSize(2), WithBatchInterval(time.Hour))
	defer func() { _ = emitter.Close() }()

	now := time.Now()
	for i := 0; i < 4; i++ {
		emitter.Emit(StartSpan("", "", "op", now).Finish(now))
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.total(); got != 4 {
		t.Fatalf("sink received %d spans, want 4", got)
	}
}

func TestEmitterFlushesOnInterval(t *testing.T) {
	sink := &recordingSink{}
	emitter := NewEmitter(sink, WithBatchSize(1000), WithBatchInterval(20*time.Millisecond))
	defer func() { _ = emitter.Close() }()

	now := time.Now()
	emitter.Emit(StartSpan("", "", "op", now).Finish(now))

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.total(); got != 1 {
		t.Fatalf("sink received %d spans, want 1", got)
	}
}

func TestHTTPSinkPostsNDJSON(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, nil)
	now := time.Now()
	span := StartSpan("", "", "chat.completions", now).Finish(now)
	if err := sink.WriteBatch(context.Background(), []Span{span}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if gotBody == "" {
		t.Fatal("expected request body to be captured")
	}
}
