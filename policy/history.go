// Package policy implements the operation-name matcher, sliding-window
// rate limiter, and suspicious-pattern detectors that gate every tool
// call before the host handler observes it. See spec.md §4.3.
package policy

import (
	"sync"

	"github.com/agentfront/enclave/config"
)

// maxHistoryEntries bounds the live-retained history even under an age
// window that would otherwise let it grow without limit between purges.
const maxHistoryEntries = 500

// ageWindowMs is the retention window: entries older than this are
// eligible for eviction on every validator call.
const ageWindowMs = 2000

// History is the bounded, append-only operation log a Validator
// consults. It satisfies config.HistoryView. Every method takes the
// internal mutex, so it is safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []config.HistoryEntry
	now     int64
}

func NewHistory() *History {
	return &History{}
}

// Purge drops entries older than ageWindowMs relative to nowMs, and
// records nowMs as the reference point for subsequent Recent/CountName
// calls (and for Now(), which detectors consult).
func (h *History) Purge(nowMs int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = nowMs
	h.purgeLocked(nowMs)
}

func (h *History) purgeLocked(nowMs int64) {
	cut := 0
	for i, e := range h.entries {
		if nowMs-e.TimestampMs <= ageWindowMs {
			break
		}
		cut = i + 1
	}
	if cut > 0 {
		h.entries = append([]config.HistoryEntry(nil), h.entries[cut:]...)
	}
}

// Append records an accepted call. Callers must have already purged.
func (h *History) Append(entry config.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if excess := len(h.entries) - maxHistoryEntries; excess > 0 {
		h.entries = append([]config.HistoryEntry(nil), h.entries[excess:]...)
	}
}

// CountWithin returns how many entries fall within the last withinMs of
// nowMs (regardless of name). Used directly by the rate-limit step,
// which operates on an explicit nowMs rather than the detector-facing
// Now()/Recent() pair.
func (h *History) CountWithin(nowMs, withinMs int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if nowMs-e.TimestampMs <= withinMs {
			n++
		}
	}
	return n
}

// Now implements config.HistoryView.
func (h *History) Now() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// Recent implements config.HistoryView.
func (h *History) Recent(withinMs int64) []config.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]config.HistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		if h.now-e.TimestampMs <= withinMs {
			out = append(out, e)
		}
	}
	return out
}

// CountName implements config.HistoryView.
func (h *History) CountName(name string, withinMs int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.OperationName == name && h.now-e.TimestampMs <= withinMs {
			n++
		}
	}
	return n
}

var _ config.HistoryView = (*History)(nil)
