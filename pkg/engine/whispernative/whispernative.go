// Package whispernative provides a recognition adapter backed by the
// whisper.cpp CGO bindings, eliminating HTTP overhead entirely. The
// whisper.cpp static library (libwhisper.a) and headers (whisper.h) must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH environment
// variables.
//
// The model is loaded once at construction and shared across all Recognize
// calls; each call creates its own whisper context, so the adapter is safe
// for concurrent use. On a single-board computer this is the preferred
// offline engine when whisper-server is not running as a separate process.
package whispernative

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/quietriver/earshot/pkg/engine"
)

// Compile-time assertion that Adapter satisfies engine.Adapter.
var _ engine.Adapter = (*Adapter)(nil)

const defaultLanguage = "en"

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithLanguage sets the language code for transcription (e.g., "en", "de",
// "pt"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(a *Adapter) { a.language = lang }
}

// Adapter implements engine.Adapter using the whisper.cpp Go bindings.
type Adapter struct {
	model    whisperlib.Model
	language string
}

// New creates an Adapter that loads the whisper.cpp model from the given
// file path. The caller must call Close when the adapter is no longer needed.
func New(modelPath string, opts ...Option) (*Adapter, error) {
	if modelPath == "" {
		return nil, errors.New("whispernative: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispernative: load model %q: %w", modelPath, err)
	}

	a := &Adapter{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Name returns "whispernative".
func (a *Adapter) Name() string { return "whispernative" }

// Close releases the whisper model. Must be called when the adapter is no
// longer needed.
func (a *Adapter) Close() error {
	if a.model != nil {
		return a.model.Close()
	}
	return nil
}

// Recognize converts the utterance to float32 mono, runs whisper.cpp
// inference in a fresh context, and returns the concatenated segment text.
// Inference itself is not interruptible; ctx is checked before starting and
// between segment reads.
func (a *Adapter) Recognize(ctx context.Context, audio engine.Audio) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	samples := pcmToFloat32Mono(audio.PCM, audio.Channels)

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := a.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whispernative: create context: %w", err)
	}

	if err := wctx.SetLanguage(a.language); err != nil {
		slog.Warn("whispernative: failed to set language, using default",
			"language", a.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whispernative: process audio: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whispernative: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
