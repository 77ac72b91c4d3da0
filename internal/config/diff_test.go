package config_test

import (
	"testing"
	"time"

	"github.com/quietriver/earshot/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		VAD:    config.VADConfig{Threshold: 500, SmoothingWindow: 3},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.VADChanged || d.SegmentChanged {
		t.Error("unrelated sections flagged as changed")
	}
}

func TestDiff_VADChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{VAD: config.VADConfig{Threshold: 500}}
	new := &config.Config{VAD: config.VADConfig{Threshold: 800, SmoothingWindow: 5}}

	d := config.Diff(old, new)
	if !d.VADChanged {
		t.Error("expected VADChanged=true")
	}
	if d.NewVAD.Threshold != 800 || d.NewVAD.SmoothingWindow != 5 {
		t.Errorf("NewVAD = %+v", d.NewVAD)
	}
}

func TestDiff_SegmentChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Segment: config.SegmentConfig{SilenceDuration: config.Duration(time.Second)}}
	new := &config.Config{Segment: config.SegmentConfig{SilenceDuration: config.Duration(2 * time.Second)}}

	d := config.Diff(old, new)
	if !d.SegmentChanged {
		t.Error("expected SegmentChanged=true")
	}
	if d.NewSegment.SilenceDuration.Std() != 2*time.Second {
		t.Errorf("NewSegment = %+v", d.NewSegment)
	}
}
