package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfront/enclave/errs"
)

func TestStats_CountersAccumulate(t *testing.T) {
	st := New(1000)

	require.EqualValues(t, 1, st.IncrToolCall())
	require.EqualValues(t, 2, st.IncrToolCall())
	require.EqualValues(t, 2, st.ToolCallCount())

	require.EqualValues(t, 1, st.DecrToolCall())
	require.EqualValues(t, 1, st.ToolCallCount())

	require.EqualValues(t, 1, st.IncrIteration())
	require.EqualValues(t, 1, st.IterationCount())

	require.EqualValues(t, 1, st.IncrConsoleCall())
	require.EqualValues(t, 1, st.ConsoleCallCount())

	require.EqualValues(t, 42, st.AddConsoleBytes(42))
	require.EqualValues(t, 50, st.AddConsoleBytes(8))
	require.EqualValues(t, 50, st.ConsoleByteCount())
}

func TestStats_TrackUpdatesPeakOnlyOnIncrease(t *testing.T) {
	st := New(0)

	st.Track(100)
	st.Track(50)
	st.Track(200)

	snap := st.MemorySnapshot()
	require.EqualValues(t, 350, snap.TrackedBytes)
	require.EqualValues(t, 350, snap.PeakTrackedBytes)
	require.EqualValues(t, 3, snap.AllocationCount)
}

func TestStats_SnapshotComputesDuration(t *testing.T) {
	st := New(1000)
	st.IncrToolCall()
	st.IncrIteration()
	st.Track(10)
	st.Finalize(1500)

	snap := st.Snapshot()
	require.EqualValues(t, 1000, snap.StartTimeMs)
	require.EqualValues(t, 1500, snap.EndTimeMs)
	require.EqualValues(t, 500, snap.DurationMs)
	require.EqualValues(t, 1, snap.ToolCallCount)
	require.EqualValues(t, 1, snap.IterationCount)
	require.EqualValues(t, 10, snap.MemoryUsage.TrackedBytes)
}

func TestResult_CarriesEngineErrorOnFailure(t *testing.T) {
	st := New(0)
	st.Finalize(100)

	result := Result{
		Success: false,
		Error:   errs.New(errs.CodeTimeoutExceeded, "execution exceeded its time budget"),
		Stats:   st.Snapshot(),
	}

	require.False(t, result.Success)
	require.Nil(t, result.Value)
	require.Equal(t, errs.CodeTimeoutExceeded, result.Error.Code)
}
