package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sink is where delivered transcriptions go. A nil error means the record
// was durably accepted downstream.
type Sink interface {
	// Send attempts to deliver rec once.
	Send(ctx context.Context, rec *Record) error
}

// payload is the wire shape an HTTPSink posts.
type payload struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
	Metadata  metadata  `json:"metadata"`
}

type metadata struct {
	RecordID        string `json:"record_id"`
	Engine          string `json:"engine"`
	LatencyMs       int64  `json:"latency_ms"`
	AudioDurationMs int64  `json:"audio_duration_ms"`
	Reason          string `json:"reason"`
	Error           string `json:"error,omitempty"`
	Attempt         int    `json:"attempt"`
}

// HTTPSink delivers records as JSON POSTs to a fixed endpoint. Any 2xx
// response counts as accepted.
type HTTPSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// HTTPSinkOption configures an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithHeaders adds fixed headers (auth tokens and the like) to every POST.
func WithHeaders(headers map[string]string) HTTPSinkOption {
	return func(s *HTTPSink) { s.headers = headers }
}

// WithClient replaces the underlying HTTP client.
func WithClient(client *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) { s.client = client }
}

// NewHTTPSink creates an HTTPSink posting to url.
func NewHTTPSink(url string, opts ...HTTPSinkOption) (*HTTPSink, error) {
	if url == "" {
		return nil, errors.New("deliver: sink url must not be empty")
	}
	s := &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send posts rec to the configured endpoint.
func (s *HTTPSink) Send(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(payload{
		Text:      rec.Result.Text,
		Timestamp: rec.Result.Timestamp,
		Sequence:  rec.Result.Seq,
		Metadata: metadata{
			RecordID:        rec.ID,
			Engine:          rec.Result.Engine,
			LatencyMs:       rec.Result.Latency.Milliseconds(),
			AudioDurationMs: rec.Result.AudioDuration.Milliseconds(),
			Reason:          string(rec.Result.Reason),
			Error:           rec.Result.Error,
			Attempt:         rec.Attempts + 1,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting transcription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("delivery endpoint returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	return nil
}

var _ Sink = (*HTTPSink)(nil)
