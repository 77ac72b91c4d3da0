// Package whispercpp provides a recognition adapter backed by a local
// whisper-server process.
//
// The whisper.cpp project ships a small HTTP server (whisper-server) that
// exposes batch inference at POST /inference, accepting a WAV upload as
// multipart/form-data and returning JSON {"text": "..."}. This adapter wraps
// one such server. Because inference runs on the local machine it works with
// no network connectivity, which makes it the usual offline fallback engine.
//
// Usage:
//
//	a, err := whispercpp.New("http://localhost:8080",
//	    whispercpp.WithLanguage("en"),
//	)
//	text, err := a.Recognize(ctx, audio)
package whispercpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/quietriver/earshot/pkg/engine"
)

// Compile-time assertion that Adapter implements engine.Adapter.
var _ engine.Adapter = (*Adapter)(nil)

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g., "base.en", "small"). When empty, which is the default, the server
// uses whichever model it was started with.
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithLanguage sets the language code sent to the whisper-server (e.g., "en",
// "de", "pt"). When empty the server auto-detects.
func WithLanguage(lang string) Option {
	return func(a *Adapter) { a.language = lang }
}

// WithHTTPClient replaces the default HTTP client. The per-utterance timeout
// is applied through the request context, so the client itself carries no
// timeout by default.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// Adapter implements engine.Adapter against a whisper-server HTTP endpoint.
// It is stateless between calls and safe for concurrent use.
type Adapter struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates an Adapter that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Adapter, error) {
	if serverURL == "" {
		return nil, errors.New("whispercpp: serverURL must not be empty")
	}
	a := &Adapter{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Name returns "whispercpp".
func (a *Adapter) Name() string { return "whispercpp" }

// inferenceResponse is the JSON body returned by whisper-server.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Recognize encodes the utterance as WAV and POSTs it to /inference as
// multipart/form-data. The whole exchange is bounded by ctx.
func (a *Adapter) Recognize(ctx context.Context, audio engine.Audio) (string, error) {
	wav := engine.EncodeWAV(audio.PCM, audio.SampleRate, audio.Channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whispercpp: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whispercpp: write wav data: %w", err)
	}
	if a.language != "" {
		if err := mw.WriteField("language", a.language); err != nil {
			return "", fmt.Errorf("whispercpp: write language field: %w", err)
		}
	}
	if a.model != "" {
		if err := mw.WriteField("model", a.model); err != nil {
			return "", fmt.Errorf("whispercpp: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whispercpp: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whispercpp: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whispercpp: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whispercpp: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whispercpp: read response body: %w", err)
	}
	var ir inferenceResponse
	if err := json.Unmarshal(data, &ir); err != nil {
		return "", fmt.Errorf("whispercpp: decode response: %w", err)
	}
	if ir.Error != "" {
		return "", fmt.Errorf("whispercpp: server error: %s", ir.Error)
	}
	return strings.TrimSpace(ir.Text), nil
}
