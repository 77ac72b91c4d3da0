// Package store keeps a rolling in-memory window of recent transcription
// results for the HTTP API and, optionally, appends every result to daily
// JSON lines files for long-term retention.
package store

import (
	"sync"

	"github.com/quietriver/earshot/internal/transcribe"
)

// Stats summarises everything the store has seen since startup.
type Stats struct {
	Total  uint64 `json:"total"`
	Failed uint64 `json:"failed"`
	Empty  uint64 `json:"empty"`
}

// Memory is a fixed-capacity ring of the most recent results. Thread-safe.
type Memory struct {
	mu    sync.RWMutex
	ring  []transcribe.Result
	next  int
	full  bool
	stats Stats
}

// NewMemory creates a Memory keeping the last capacity results.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{ring: make([]transcribe.Result, capacity)}
}

// Add records res, evicting the oldest entry when the ring is full.
func (m *Memory) Add(res transcribe.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = res
	m.next++
	if m.next == len(m.ring) {
		m.next = 0
		m.full = true
	}

	m.stats.Total++
	if res.Failed() {
		m.stats.Failed++
	} else if res.Empty() {
		m.stats.Empty++
	}
}

// Recent returns up to limit results, oldest first. limit <= 0 returns
// everything retained.
func (m *Memory) Recent(limit int) []transcribe.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.ring)
	}
	out := make([]transcribe.Result, 0, size)
	start := 0
	if m.full {
		start = m.next
	}
	for i := 0; i < size; i++ {
		out = append(out, m.ring[(start+i)%len(m.ring)])
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats returns the running counters.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
