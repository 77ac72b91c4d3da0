// Package config provides the configuration schema and loader for the
// Earshot transcription pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// EngineKind selects a transcription engine implementation.
type EngineKind string

const (
	// EngineWhisperCPP talks to a whisper.cpp server over HTTP.
	EngineWhisperCPP EngineKind = "whispercpp"

	// EngineOpenAI uses the OpenAI transcription API.
	EngineOpenAI EngineKind = "openai"

	// EngineWhisperNative runs whisper.cpp in-process through cgo.
	EngineWhisperNative EngineKind = "whisper-native"
)

// IsValid reports whether k is a recognised engine kind.
func (k EngineKind) IsValid() bool {
	switch k {
	case EngineWhisperCPP, EngineOpenAI, EngineWhisperNative:
		return true
	}
	return false
}

// OverflowPolicy selects what the transcription queue sheds when full.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop-oldest"
	OverflowDropNewest OverflowPolicy = "drop-newest"
)

// IsValid reports whether p is a recognised overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == OverflowDropOldest || p == OverflowDropNewest
}

// PendingBackend selects the pending store implementation.
type PendingBackend string

const (
	PendingFile   PendingBackend = "file"
	PendingBadger PendingBackend = "badger"
)

// IsValid reports whether b is a recognised pending store backend.
func (b PendingBackend) IsValid() bool {
	return b == PendingFile || b == PendingBadger
}

// Duration wraps time.Duration so YAML configs can say "1.5s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses Go duration strings; bare integers are read as
// nanoseconds for compatibility with marshalled output.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	VAD          VADConfig          `yaml:"vad"`
	Segment      SegmentConfig      `yaml:"segment"`
	Queue        QueueConfig        `yaml:"queue"`
	Engines      EnginesConfig      `yaml:"engines"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Delivery     DeliveryConfig     `yaml:"delivery"`
	Pending      PendingConfig      `yaml:"pending"`
	Storage      StorageConfig      `yaml:"storage"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
	Shutdown     ShutdownConfig     `yaml:"shutdown"`
}

// ServerConfig holds network and logging settings for the Earshot server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the PCM stream entering the pipeline.
type AudioConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count of the stream. Default 1.
	Channels int `yaml:"channels"`
}

// VADConfig holds voice activity detection settings.
type VADConfig struct {
	// Threshold is the mean absolute amplitude above which a frame is
	// classified as speech. Default 500.
	Threshold float64 `yaml:"threshold"`

	// SmoothingWindow averages the amplitude over this many frames to
	// suppress flicker. 0 disables smoothing.
	SmoothingWindow int `yaml:"smoothing_window"`
}

// SegmentConfig holds utterance assembly settings.
type SegmentConfig struct {
	// SilenceDuration is the quiet period that closes an utterance.
	// Default 1.5s.
	SilenceDuration Duration `yaml:"silence_duration"`

	// MaxUtteranceDuration force-closes an utterance regardless of
	// ongoing speech. Default 30s.
	MaxUtteranceDuration Duration `yaml:"max_utterance_duration"`
}

// QueueConfig holds transcription queue settings.
type QueueConfig struct {
	// Capacity bounds the utterances waiting for transcription. Default 16.
	Capacity int `yaml:"capacity"`

	// EnqueueTimeout is how long a full queue blocks the capture path
	// before shedding. Default 500ms.
	EnqueueTimeout Duration `yaml:"enqueue_timeout"`

	// OverflowPolicy selects what is shed. Default drop-oldest.
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"`
}

// EngineEntry configures one transcription engine.
type EngineEntry struct {
	// Kind selects the implementation.
	Kind EngineKind `yaml:"kind"`

	// APIKey authenticates against hosted engines (openai).
	APIKey string `yaml:"api_key"`

	// ServerURL is the whisper.cpp server base URL (whispercpp) or an
	// OpenAI-compatible base URL override (openai).
	ServerURL string `yaml:"server_url"`

	// Model names the model (openai, whispercpp).
	Model string `yaml:"model"`

	// ModelPath points at a ggml model file (whisper-native).
	ModelPath string `yaml:"model_path"`

	// Language hints the spoken language, e.g. "en". Empty lets the
	// engine autodetect.
	Language string `yaml:"language"`
}

// Configured reports whether the entry names an engine at all.
func (e EngineEntry) Configured() bool { return e.Kind != "" }

// EnginesConfig selects the primary engine and the offline fallback.
type EnginesConfig struct {
	// Online is the preferred engine while connectivity is up. Required.
	Online EngineEntry `yaml:"online"`

	// Offline is used instead of Online while connectivity is down.
	Offline EngineEntry `yaml:"offline"`

	// Fallback controls connectivity-driven engine switching.
	Fallback FallbackConfig `yaml:"fallback"`

	// RequestTimeout bounds each recognition call. Default 30s.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// FallbackConfig controls switching to the offline engine.
type FallbackConfig struct {
	// Enabled turns connectivity-driven switching on.
	Enabled bool `yaml:"enabled"`
}

// ConnectivityConfig holds the network probe settings.
type ConnectivityConfig struct {
	// Targets are "host:port" TCP endpoints to dial.
	Targets []string `yaml:"targets"`

	// Interval between background probes. Default 30s.
	Interval Duration `yaml:"interval"`

	// DialTimeout bounds each dial attempt. Default 3s.
	DialTimeout Duration `yaml:"dial_timeout"`
}

// DeliveryConfig holds downstream delivery settings. Delivery is active
// when URL is set.
type DeliveryConfig struct {
	// URL is the endpoint transcriptions are POSTed to.
	URL string `yaml:"url"`

	// Headers are added to every delivery request (auth tokens etc).
	Headers map[string]string `yaml:"headers"`

	// Workers is the delivery worker pool size. Default 1.
	Workers int `yaml:"workers"`

	// QueueSize bounds records waiting for a worker. Default 64.
	QueueSize int `yaml:"queue_size"`

	// MaxAttempts per record before abandoning. Default 5.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the first retry wait, doubled per attempt. Default 1s.
	BackoffBase Duration `yaml:"backoff_base"`

	// BackoffMax caps the doubling. Default 30s.
	BackoffMax Duration `yaml:"backoff_max"`

	// Jitter is the random fraction added to each wait, in [0, 1].
	// Default 0.2.
	Jitter *float64 `yaml:"jitter"`
}

// PendingConfig holds pending store settings.
type PendingConfig struct {
	// Backend selects the implementation. Default file.
	Backend PendingBackend `yaml:"backend"`

	// Path is the JSONL file path (file) or data directory (badger).
	Path string `yaml:"path"`
}

// StorageConfig holds transcript retention settings.
type StorageConfig struct {
	// MemoryCapacity is the size of the in-memory transcript window.
	// Default 256.
	MemoryCapacity int `yaml:"memory_capacity"`

	// Dir enables daily JSONL transcript files when non-empty.
	Dir string `yaml:"dir"`
}

// AggregationConfig holds hourly aggregation settings.
type AggregationConfig struct {
	// Enabled turns hourly aggregation on.
	Enabled bool `yaml:"enabled"`

	// SilenceGap closes a block early after this much quiet. Default 5m.
	SilenceGap Duration `yaml:"silence_gap"`

	// MaxBlocks bounds the in-memory block history. Default 168.
	MaxBlocks int `yaml:"max_blocks"`
}

// ShutdownConfig holds graceful shutdown settings.
type ShutdownConfig struct {
	// Timeout is the overall deadline for draining the pipeline.
	// Default 30s.
	Timeout Duration `yaml:"timeout"`
}
