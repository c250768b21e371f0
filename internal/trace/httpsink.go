package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSink writes span batches to a columnar store's native HTTP insert
// interface (ClickHouse's HTTP interface accepts newline-delimited JSON
// inserts against a table URL this way; any store exposing an equivalent
// bulk-JSON endpoint is compatible). No store-specific client library is
// wired here: persistent trace storage is an external, interface-only
// collaborator per the gateway's scope, so a stdlib HTTP POST against the
// configured URL is the adapter rather than a vendored driver.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink builds a sink posting newline-delimited JSON span rows to url
// (the configured clickhouse.url). client defaults to a 10s-timeout client
// when nil.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{url: url, client: client}
}

// spanRow mirrors the trace sink schema's column list exactly.
type spanRow struct {
	TraceID       string            `json:"trace_id"`
	SpanID        string            `json:"span_id"`
	ParentID      string            `json:"parent_id"`
	OperationName string            `json:"operation_name"`
	StartTimeUs   int64             `json:"start_time_us"`
	FinishTimeUs  int64             `json:"finish_time_us"`
	FinishDate    string            `json:"finish_date"`
	Attributes    map[string]string `json:"attributes"`
}

// WriteBatch implements Sink.
func (s *HTTPSink) WriteBatch(ctx context.Context, spans []Span) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, span := range spans {
		row := spanRow{
			TraceID:       span.TraceID,
			SpanID:        span.SpanID,
			ParentID:      span.ParentID,
			OperationName: span.OperationName,
			StartTimeUs:   span.StartTimeUs,
			FinishTimeUs:  span.FinishTimeUs,
			FinishDate:    span.FinishDate,
			Attributes:    span.Attributes,
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trace sink: unexpected status %d", resp.StatusCode)
	}
	return nil
}
