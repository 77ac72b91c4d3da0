// Package openai provides a recognition adapter backed by the OpenAI audio
// transcription API.
//
// Each utterance is encoded as a WAV file and submitted as one batch
// transcription request. The adapter needs network connectivity; pair it with
// a local engine (whispercpp, whispernative) as the offline fallback.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/quietriver/earshot/pkg/engine"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = "whisper-1"

// Ensure Adapter implements the engine.Adapter interface.
var _ engine.Adapter = (*Adapter)(nil)

// config holds optional configuration for the adapter.
type config struct {
	baseURL  string
	language string
	prompt   string
}

// Option is a functional option for Adapter.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible local gateways.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 input language hint (e.g., "en", "pt").
// Improves accuracy and latency when the spoken language is known.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt sets an optional text prompt to guide the model's style or to
// supply vocabulary hints.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// Adapter implements engine.Adapter using the OpenAI transcription API.
// Safe for concurrent use.
type Adapter struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// New constructs a new OpenAI transcription Adapter. If model is empty,
// DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai engine: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Adapter{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Name returns "openai".
func (a *Adapter) Name() string { return "openai" }

// Recognize implements engine.Adapter. The utterance is wrapped in a WAV
// header and uploaded in a single request bounded by ctx.
func (a *Adapter) Recognize(ctx context.Context, audio engine.Audio) (string, error) {
	wav := engine.EncodeWAV(audio.PCM, audio.SampleRate, audio.Channels)

	params := oai.AudioTranscriptionNewParams{
		Model: a.model,
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if a.language != "" {
		params.Language = param.NewOpt(a.language)
	}
	if a.prompt != "" {
		params.Prompt = param.NewOpt(a.prompt)
	}

	resp, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai engine: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
