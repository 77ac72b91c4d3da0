// Package connectivity tracks whether the network path to online
// transcription engines is usable. It probes a set of well-known TCP
// endpoints in the background and exposes the last observed state, so the
// hot transcription path never blocks on a network check.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Status is the cached connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Config holds the probe parameters.
type Config struct {
	// Targets are "host:port" endpoints to dial. The probe succeeds when
	// any one of them accepts a TCP connection.
	Targets []string

	// Interval between background probes.
	Interval time.Duration

	// DialTimeout bounds each dial attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns the probe defaults: public DNS resolvers on port 53,
// checked every 30 seconds with a 3 second dial timeout.
func DefaultConfig() Config {
	return Config{
		Targets:     []string{"8.8.8.8:53", "1.1.1.1:53"},
		Interval:    30 * time.Second,
		DialTimeout: 3 * time.Second,
	}
}

// Probe periodically dials the configured targets and caches the result.
// Online() reads the cache and never touches the network.
type Probe struct {
	cfg    Config
	dialer net.Dialer

	mu        sync.RWMutex
	online    bool
	lastCheck time.Time
	onChange  []func(Status)
}

// NewProbe creates a Probe. Zero-valued config fields fall back to
// DefaultConfig. The probe starts out online so a slow first check does not
// force the pipeline onto the offline engine at startup.
func NewProbe(cfg Config) *Probe {
	def := DefaultConfig()
	if len(cfg.Targets) == 0 {
		cfg.Targets = def.Targets
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	return &Probe{cfg: cfg, online: true}
}

// Online reports the last observed connectivity state.
func (p *Probe) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// Status returns the last observed state as a Status value.
func (p *Probe) Status() Status {
	if p.Online() {
		return StatusOnline
	}
	return StatusOffline
}

// LastCheck returns when the state was last refreshed. Zero before the
// first check.
func (p *Probe) LastCheck() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCheck
}

// OnChange registers fn to be called whenever the observed state flips.
// Callbacks run on the probe goroutine; keep them fast.
func (p *Probe) OnChange(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Check probes the targets once and updates the cached state. It returns
// the fresh state.
func (p *Probe) Check(ctx context.Context) Status {
	online := p.dialAny(ctx)

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	p.lastCheck = time.Now()
	callbacks := p.onChange
	p.mu.Unlock()

	status := StatusOffline
	if online {
		status = StatusOnline
	}
	if changed {
		slog.Info("connectivity changed", "status", status)
		for _, fn := range callbacks {
			fn(status)
		}
	}
	return status
}

// Run probes immediately and then on every interval tick until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func (p *Probe) dialAny(ctx context.Context) bool {
	for _, target := range p.cfg.Targets {
		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
		conn, err := p.dialer.DialContext(dialCtx, "tcp", target)
		cancel()
		if err != nil {
			slog.Debug("connectivity probe failed", "target", target, "error", err)
			continue
		}
		conn.Close()
		return true
	}
	return false
}
