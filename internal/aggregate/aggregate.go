// Package aggregate collects transcription texts into hourly blocks. A
// block closes when the clock hour rolls over, when a long silence gap is
// detected, or when the service shuts down. Closed blocks are kept in
// memory for the HTTP API and handed to an optional publish callback.
package aggregate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Gap is a silence period between two consecutive transcriptions within a
// block. Only gaps longer than 30 seconds are recorded.
type Gap struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Block is one finalized aggregation period.
type Block struct {
	// Hour is the start of the clock hour the block belongs to.
	Hour time.Time `json:"hour"`

	// Start and End are the first and last transcription timestamps.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Text is the block's transcriptions joined with single spaces.
	Text string `json:"text"`

	// Count is the number of transcriptions aggregated.
	Count int `json:"count"`

	// Gaps lists the silence periods detected within the block.
	Gaps []Gap `json:"gaps,omitempty"`

	// Reason says why the block was closed.
	Reason string `json:"reason"`

	CreatedAt time.Time `json:"created_at"`
}

// Words returns the whitespace-separated word count of the block text.
func (b Block) Words() int { return len(strings.Fields(b.Text)) }

const minRecordedGap = 30 * time.Second

// Config holds the aggregator parameters.
type Config struct {
	// SilenceGap is the quiet period after which the current block is
	// closed early. Defaults to 5 minutes.
	SilenceGap time.Duration

	// CheckInterval is how often the background loop looks for hour
	// rollovers and silence gaps when no new text arrives. Defaults to
	// 1 minute.
	CheckInterval time.Duration

	// MaxBlocks bounds the in-memory history. Defaults to 168 (a week of
	// hourly blocks).
	MaxBlocks int

	// Publish, if set, receives every closed block.
	Publish func(Block)
}

// Aggregator buckets transcription texts by hour. Thread-safe.
type Aggregator struct {
	cfg Config

	mu        sync.Mutex
	hour      time.Time
	texts     []string
	stamps    []time.Time
	lastInput time.Time
	blocks    []Block

	now func() time.Time
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	if cfg.SilenceGap <= 0 {
		cfg.SilenceGap = 5 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.MaxBlocks < 1 {
		cfg.MaxBlocks = 168
	}
	return &Aggregator{cfg: cfg, now: time.Now}
}

// Add appends text with the given timestamp to the current block, closing
// and reopening blocks on hour rollover or silence gap first. Empty or
// whitespace-only text is ignored.
func (a *Aggregator) Add(text string, at time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	hour := at.Truncate(time.Hour)
	switch {
	case a.hour.IsZero():
		a.open(hour)
	case !hour.Equal(a.hour):
		a.close("hour rollover")
		a.open(hour)
	case !a.lastInput.IsZero() && at.Sub(a.lastInput) >= a.cfg.SilenceGap:
		a.close("silence gap")
		a.open(hour)
	}

	a.texts = append(a.texts, text)
	a.stamps = append(a.stamps, at)
	a.lastInput = at
}

// Partial returns the in-progress block text, or empty when nothing has
// been collected this period.
func (a *Aggregator) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.texts, " ")
}

// Blocks returns up to limit closed blocks, oldest first. limit <= 0
// returns all retained blocks.
func (a *Aggregator) Blocks(limit int) []Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := append([]Block(nil), a.blocks...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ByHour returns the closed block for the given clock hour, if any.
func (a *Aggregator) ByHour(hour time.Time) (Block, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hour = hour.Truncate(time.Hour)
	for _, b := range a.blocks {
		if b.Hour.Equal(hour) {
			return b, true
		}
	}
	return Block{}, false
}

// Finalize closes the in-progress block immediately. It returns the closed
// block and false when there was nothing to close.
func (a *Aggregator) Finalize(reason string) (Block, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.close(reason)
}

// Run periodically closes blocks whose hour has passed or whose input went
// quiet, so blocks do not linger open when no new audio arrives. It returns
// when ctx is done, finalizing the in-progress block first.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Finalize("shutdown")
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Aggregator) sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		return
	}
	now := a.now()
	if !now.Truncate(time.Hour).Equal(a.hour) {
		a.close("hour rollover")
		return
	}
	if now.Sub(a.lastInput) >= a.cfg.SilenceGap {
		a.close("silence gap")
	}
}

// open and close require a.mu held.

func (a *Aggregator) open(hour time.Time) {
	a.hour = hour
	a.texts = nil
	a.stamps = nil
	slog.Debug("aggregation period opened", "hour", hour)
}

func (a *Aggregator) close(reason string) (Block, bool) {
	if len(a.texts) == 0 {
		a.hour = time.Time{}
		return Block{}, false
	}

	var gaps []Gap
	for i := 1; i < len(a.stamps); i++ {
		d := a.stamps[i].Sub(a.stamps[i-1])
		if d > minRecordedGap {
			gaps = append(gaps, Gap{Start: a.stamps[i-1], End: a.stamps[i], Duration: d})
		}
	}

	block := Block{
		Hour:      a.hour,
		Start:     a.stamps[0],
		End:       a.stamps[len(a.stamps)-1],
		Text:      strings.Join(a.texts, " "),
		Count:     len(a.texts),
		Gaps:      gaps,
		Reason:    reason,
		CreatedAt: a.now(),
	}
	a.blocks = append(a.blocks, block)
	if len(a.blocks) > a.cfg.MaxBlocks {
		a.blocks = a.blocks[len(a.blocks)-a.cfg.MaxBlocks:]
	}
	a.hour = time.Time{}
	a.texts = nil
	a.stamps = nil
	a.lastInput = time.Time{}

	slog.Info("aggregation block closed",
		"hour", block.Hour, "count", block.Count, "words", block.Words(), "reason", reason)
	if a.cfg.Publish != nil {
		a.cfg.Publish(block)
	}
	return block, true
}
