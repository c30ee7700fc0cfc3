// Package memaccount implements the cumulative allocation accountant:
// callers estimate a prospective allocation's size and call Track
// *before* performing it, so an over-budget allocation never actually
// happens. See spec.md §4.2 and the "allocation before accounting is
// unsafe" design note.
package memaccount

import (
	"sync"

	"github.com/agentfront/enclave/errs"
	"github.com/agentfront/enclave/stats"
)

// Accountant enforces a cumulative byte ceiling across one execution.
// It is safe for concurrent use; the inner realm's own script execution
// is single-threaded, but the watchdog and tool-bridge goroutines may
// read stats concurrently.
type Accountant struct {
	mu    sync.Mutex
	limit int64 // 0 = unlimited
	total int64
	peak  int64
	count int64
	stats *stats.Stats
}

// New creates an Accountant. limit of 0 means unlimited: Track becomes
// a no-op cost-tracker that never rejects (still mirrors counters into
// stats for observability).
func New(limit int64, st *stats.Stats) *Accountant {
	return &Accountant{limit: limit, stats: st}
}

// Track adds bytes to the cumulative total. If limit is set (>0) and
// bytes is positive and the new cumulative total would exceed limit,
// Track returns a MEMORY_LIMIT_EXCEEDED error and does NOT update the
// total — the caller must not perform the underlying allocation.
func (a *Accountant) Track(bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.total+bytes > a.limit {
		return errs.Newf(errs.CodeMemoryLimitExceeded,
			"estimated allocation of %d bytes would exceed memory limit of %d bytes (currently at %d)",
			bytes, a.limit, a.total).WithData(map[string]any{
			"used_bytes":  a.total,
			"limit_bytes": a.limit,
		})
	}

	a.total += bytes
	a.count++
	if a.total > a.peak {
		a.peak = a.total
	}
	if a.stats != nil {
		a.stats.Track(bytes)
	}
	return nil
}

// Snapshot returns the current accountant state.
func (a *Accountant) Snapshot() stats.MemorySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return stats.MemorySnapshot{
		TrackedBytes:     a.total,
		PeakTrackedBytes: a.peak,
		AllocationCount:  a.count,
	}
}

// Limit returns the configured ceiling (0 meaning unlimited).
func (a *Accountant) Limit() int64 { return a.limit }
