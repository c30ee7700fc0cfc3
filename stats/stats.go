// Package stats holds the mutable execution counters shared between the
// orchestrator and the inner realm, and the result envelope returned to
// the host.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/agentfront/enclave/errs"
)

// MemorySnapshot is the read-only view of the memory accountant at the
// end of an execution. See memaccount.Accountant for the mutator side.
type MemorySnapshot struct {
	TrackedBytes     int64 `json:"tracked_bytes"`
	PeakTrackedBytes int64 `json:"peak_tracked_bytes"`
	AllocationCount  int64 `json:"allocation_count"`
}

// Stats is the counters a single execution accumulates. All counter
// fields are accessed with atomics so the inner realm's Go-backed
// bindings (running on the same goroutine as the guest script, but
// read concurrently by a watchdog goroutine) never race.
type Stats struct {
	StartTimeMs int64

	endTimeMs      atomic.Int64
	toolCallCount  atomic.Int64
	iterationCount atomic.Int64
	consoleCalls   atomic.Int64
	consoleBytes   atomic.Int64

	memTracked atomic.Int64
	memPeak    atomic.Int64
	memAllocs  atomic.Int64
}

// New creates a Stats scaffold with StartTimeMs set to the supplied
// monotonic-ish wall clock reading (milliseconds since epoch). Callers
// pass this in rather than the package reaching for time.Now directly,
// so a single execution's start time is fixed before any realm exists.
func New(startTimeMs int64) *Stats {
	return &Stats{StartTimeMs: startTimeMs}
}

func NowMs() int64 { return time.Now().UnixMilli() }

func (s *Stats) IncrToolCall() int64  { return s.toolCallCount.Add(1) }
func (s *Stats) ToolCallCount() int64 { return s.toolCallCount.Load() }

// DecrToolCall reverses a speculative increment (used when a tool call
// is rejected after the count was bumped, so the accepted count
// reflects only calls that actually reached policy validation).
func (s *Stats) DecrToolCall() int64 { return s.toolCallCount.Add(-1) }

func (s *Stats) IncrIteration() int64  { return s.iterationCount.Add(1) }
func (s *Stats) IterationCount() int64 { return s.iterationCount.Load() }

func (s *Stats) IncrConsoleCall() int64   { return s.consoleCalls.Add(1) }
func (s *Stats) ConsoleCallCount() int64  { return s.consoleCalls.Load() }
func (s *Stats) AddConsoleBytes(n int64) int64 { return s.consoleBytes.Add(n) }
func (s *Stats) ConsoleByteCount() int64  { return s.consoleBytes.Load() }

// Track records bytes tracked by the memory accountant into the shared
// snapshot fields (the accountant itself owns limit enforcement; Stats
// just mirrors its counters for reporting).
func (s *Stats) Track(bytes int64) {
	total := s.memTracked.Add(bytes)
	s.memAllocs.Add(1)
	for {
		peak := s.memPeak.Load()
		if total <= peak || s.memPeak.CompareAndSwap(peak, total) {
			break
		}
	}
}

func (s *Stats) MemorySnapshot() MemorySnapshot {
	return MemorySnapshot{
		TrackedBytes:     s.memTracked.Load(),
		PeakTrackedBytes: s.memPeak.Load(),
		AllocationCount:  s.memAllocs.Load(),
	}
}

// Finalize stamps EndTimeMs/DurationMs; call exactly once, at the end
// of an execution, whether it succeeded or failed.
func (s *Stats) Finalize(endTimeMs int64) {
	s.endTimeMs.Store(endTimeMs)
}

// Snapshot takes a defensive, immutable copy suitable for embedding in
// an ExecutionResult.
type Snapshot struct {
	StartTimeMs    int64          `json:"start_time_ms"`
	EndTimeMs      int64          `json:"end_time_ms"`
	DurationMs     int64          `json:"duration_ms"`
	ToolCallCount  int64          `json:"tool_call_count"`
	IterationCount int64          `json:"iteration_count"`
	MemoryUsage    MemorySnapshot `json:"memory_usage"`
}

func (s *Stats) Snapshot() Snapshot {
	end := s.endTimeMs.Load()
	return Snapshot{
		StartTimeMs:    s.StartTimeMs,
		EndTimeMs:      end,
		DurationMs:     end - s.StartTimeMs,
		ToolCallCount:  s.toolCallCount.Load(),
		IterationCount: s.iterationCount.Load(),
		MemoryUsage:    s.MemorySnapshot(),
	}
}

// Result is the terminal outcome of one execution, as returned to the
// host by the orchestrator.
type Result struct {
	Success bool           `json:"success"`
	Value   any            `json:"value,omitempty"`
	Error   *errs.EngineError `json:"error,omitempty"`
	Stats   Snapshot       `json:"stats"`
}
