package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}

	// VAD
	if cfg.VAD.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vad.threshold %.1f must not be negative", cfg.VAD.Threshold))
	}
	if cfg.VAD.SmoothingWindow < 0 {
		errs = append(errs, fmt.Errorf("vad.smoothing_window %d must not be negative", cfg.VAD.SmoothingWindow))
	}

	// Segment
	if cfg.Segment.SilenceDuration < 0 {
		errs = append(errs, errors.New("segment.silence_duration must not be negative"))
	}
	if cfg.Segment.MaxUtteranceDuration < 0 {
		errs = append(errs, errors.New("segment.max_utterance_duration must not be negative"))
	}

	// Queue
	if cfg.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity %d must not be negative", cfg.Queue.Capacity))
	}
	if cfg.Queue.OverflowPolicy != "" && !cfg.Queue.OverflowPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("queue.overflow_policy %q is invalid; valid values: drop-oldest, drop-newest", cfg.Queue.OverflowPolicy))
	}

	// Without any engine the pipeline would capture audio nothing will
	// ever transcribe.
	if !cfg.Engines.Online.Configured() && !cfg.Engines.Offline.Configured() {
		errs = append(errs, errors.New("engines: at least one of engines.online or engines.offline must be configured"))
	}
	errs = append(errs, validateEngine("engines.online", cfg.Engines.Online)...)
	errs = append(errs, validateEngine("engines.offline", cfg.Engines.Offline)...)
	if cfg.Engines.Fallback.Enabled && !cfg.Engines.Offline.Configured() {
		errs = append(errs, errors.New("engines.fallback.enabled requires engines.offline to be configured"))
	}
	if cfg.Engines.Fallback.Enabled && !cfg.Engines.Online.Configured() {
		errs = append(errs, errors.New("engines.fallback.enabled requires engines.online to be configured"))
	}

	// Delivery
	if cfg.Delivery.URL == "" {
		slog.Warn("delivery.url is empty; transcriptions will only be stored locally")
	}
	if cfg.Delivery.Workers < 0 {
		errs = append(errs, fmt.Errorf("delivery.workers %d must not be negative", cfg.Delivery.Workers))
	}
	if cfg.Delivery.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("delivery.max_attempts %d must not be negative", cfg.Delivery.MaxAttempts))
	}
	if j := cfg.Delivery.Jitter; j != nil && (*j < 0 || *j > 1) {
		errs = append(errs, fmt.Errorf("delivery.jitter %.2f is out of range [0, 1]", *j))
	}

	// Pending store
	if cfg.Pending.Backend != "" && !cfg.Pending.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("pending.backend %q is invalid; valid values: file, badger", cfg.Pending.Backend))
	}

	// Storage
	if cfg.Storage.MemoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("storage.memory_capacity %d must not be negative", cfg.Storage.MemoryCapacity))
	}

	return errors.Join(errs...)
}

// validateEngine checks one engine entry for kind-specific required fields.
func validateEngine(prefix string, e EngineEntry) []error {
	if !e.Configured() {
		return nil
	}
	if !e.Kind.IsValid() {
		return []error{fmt.Errorf("%s.kind %q is invalid; valid values: whispercpp, openai, whisper-native", prefix, e.Kind)}
	}

	var errs []error
	switch e.Kind {
	case EngineWhisperCPP:
		if e.ServerURL == "" {
			errs = append(errs, fmt.Errorf("%s.server_url is required for kind whispercpp", prefix))
		}
	case EngineOpenAI:
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for kind openai", prefix))
		}
	case EngineWhisperNative:
		if e.ModelPath == "" {
			errs = append(errs, fmt.Errorf("%s.model_path is required for kind whisper-native", prefix))
		}
	}
	return errs
}
