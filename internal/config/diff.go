package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true when the detector threshold or smoothing window
	// changed. The detector picks these up on the next frame.
	VADChanged bool
	NewVAD     VADConfig

	// SegmentChanged is true when the silence or max-duration cutoffs
	// changed. Applied to utterances begun after the reload.
	SegmentChanged bool
	NewSegment     SegmentConfig
}

// Empty reports whether the diff contains no hot-reloadable changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && !d.SegmentChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}
	if old.Segment != new.Segment {
		d.SegmentChanged = true
		d.NewSegment = new.Segment
	}

	return d
}
