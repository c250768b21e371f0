package trace

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/santrancisco/ai-gateway/internal/telemetry"
)

// Sink is the external columnar store the emitter writes finished spans to
// (e.g. a ClickHouse table reached over its native HTTP insert interface).
// Out of scope for this package: Sink is a narrow boundary so any append-only
// store can be wired in without the emitter knowing its wire format.
type Sink interface {
	WriteBatch(ctx context.Context, spans []Span) error
}

// defaultBatchInterval and defaultBatchSize match the spec's stated batching
// default: 1 second or 256 spans, whichever comes first.
const (
	defaultBatchInterval = time.Second
	defaultBatchSize     = 256

	// producerBufferSize bounds the channel between request goroutines
	// (producers) and the single batching consumer. It is generous relative
	// to the batch size so a slow sink flush does not immediately back up
	// into the request path; spans are dropped, never block, once full.
	producerBufferSize = 4096
)

// Emitter is the single-consumer batching pipeline between request-scoped
// span producers and the configured Sink. Construct one per process with
// NewEmitter and call Close on shutdown.
type Emitter struct {
	sink     Sink
	logger   telemetry.Logger
	spans    chan Span
	interval time.Duration
	batch    int
	dropped  atomic.Int64

	done chan struct{}
}

// Option configures an Emitter at construction.
type Option func(*Emitter)

// WithBatchInterval overrides the default 1-second flush interval.
func WithBatchInterval(d time.Duration) Option {
	return func(e *Emitter) { e.interval = d }
}

// WithBatchSize overrides the default 256-span flush threshold.
func WithBatchSize(n int) Option {
	return func(e *Emitter) { e.batch = n }
}

// WithLogger attaches a logger used to report emitter failures and dropped
// spans. Defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// NewEmitter constructs an Emitter writing to sink and starts its background
// flush loop. Call Close to drain and stop it.
func NewEmitter(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sink:     sink,
		logger:   telemetry.NoopLogger{},
		spans:    make(chan Span, producerBufferSize),
		interval: defaultBatchInterval,
		batch:    defaultBatchSize,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Emit hands span to the emitter. Non-blocking: if the producer buffer is
// full, the span is dropped and counted rather than backpressuring the
// request path, per the spec's "emitter failure never affects the request
// path" guarantee.
func (e *Emitter) Emit(span Span) {
	select {
	case e.spans <- span:
	default:
		e.dropped.Add(1)
		e.logger.Warn(context.Background(), "trace span dropped: producer buffer full")
	}
}

// Dropped returns the cumulative number of spans dropped since construction.
func (e *Emitter) Dropped() int64 { return e.dropped.Load() }

// Close stops accepting new spans, flushes any buffered ones, and returns
// once the background loop has exited.
func (e *Emitter) Close() error {
	close(e.spans)
	<-e.done
	return nil
}

func (e *Emitter) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	buf := make([]Span, 0, e.batch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := e.sink.WriteBatch(context.Background(), buf); err != nil {
			e.logger.Error(context.Background(), "trace sink write failed", "error", err, "span_count", len(buf))
		}
		buf = buf[:0]
	}

	for {
		select {
		case span, ok := <-e.spans:
			if !ok {
				flush()
				return
			}
			buf = append(buf, span)
			if len(buf) >= e.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
