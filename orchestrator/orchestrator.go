// Package orchestrator implements the gatekeeper orchestrator: the
// top-level entry point that drives one execution from guest source to
// an ExecutionResult, per spec.md §4.1. It owns realm creation, runtime
// installation, timeout enforcement via goja's Interrupt mechanism, and
// final result sanitization.
package orchestrator

import (
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/agentfront/enclave/bridge"
	"github.com/agentfront/enclave/config"
	"github.com/agentfront/enclave/errs"
	"github.com/agentfront/enclave/memaccount"
	"github.com/agentfront/enclave/obslog"
	"github.com/agentfront/enclave/policy"
	"github.com/agentfront/enclave/sanitize"
	"github.com/agentfront/enclave/stats"
	"github.com/agentfront/enclave/vmrealm"
)

// Context carries the per-execution collaborators a host supplies,
// per spec.md §6's Submission API: a tool handler, an optional
// sidecar, an abort flag, and the ExecutionConfig (Execute validates
// and clamps it). Logger is
// optional; a silent (io.Discard) JSON logger is used when nil.
type Context struct {
	ToolHandler bridge.ToolHandler
	Sidecar     bridge.Sidecar
	Abort       func() bool
	Config      config.ExecutionConfig
	Logger      *obslog.Logger
}

// timeoutInterrupt is the sentinel value passed to goja's Interrupt so
// the recovered *goja.InterruptedError can be told apart from other
// causes of interruption.
type timeoutInterrupt struct{ message string }

// Execute runs one guest program to completion and returns its
// terminal ExecutionResult. It never panics: any uncaught guest error,
// timeout, or internal failure is converted to a stats.Result with
// Success=false and a typed errs.EngineError.
func Execute(ctx Context, guestSource string) *stats.Result {
	startMs := stats.NowMs()
	st := stats.New(startMs)

	logger := ctx.Logger
	if logger == nil {
		logger = obslog.New()
	}

	if err := ctx.Config.Validate(); err != nil {
		logger.Warning().Str("security_level", string(ctx.Config.SecurityLevel)).Log("rejected invalid execution configuration")
		return failureResult(st, startMs, errs.Wrap(errs.CodeValidationError, "invalid execution configuration", err))
	}
	resolved := resolveConfig(ctx.Config)
	logger.Debug().
		Str("security_level", string(resolved.SecurityLevel)).
		Int64("timeout_ms", resolved.TimeoutMs).
		Int64("memory_limit_bytes", resolved.MemoryLimitBytes).
		Log("execution starting")

	acct := memaccount.New(resolved.MemoryLimitBytes, st)

	var parentCfg config.ParentValidationConfig
	if resolved.DoubleVM.ParentValidation != nil {
		parentCfg = *resolved.DoubleVM.ParentValidation
	}
	for _, p := range parentCfg.SuspiciousPatterns {
		if err := policy.ValidateDetectorSourceText(p.SourceText); err != nil {
			return failureResult(st, startMs, errs.Wrap(errs.CodeValidationError, "invalid custom suspicious pattern "+p.ID, err))
		}
	}
	validator := policy.New(parentCfg)

	sidecar := ctx.Sidecar
	if sidecar == nil {
		sidecar = bridge.NewInMemorySidecar()
	}
	if ctx.ToolHandler == nil {
		return failureResult(st, startMs, errs.New(errs.CodeValidationError, "execution context must supply a tool handler"))
	}

	br := bridge.New(ctx.ToolHandler,
		bridge.WithSidecar(sidecar),
		bridge.WithMaxPayloadBytes(resolvedPayloadBytes(resolved)),
	)

	abort := ctx.Abort
	if abort == nil {
		abort = func() bool { return false }
	}
	nowMs := func() int64 { return stats.NowMs() }

	outer := vmrealm.NewOuter()

	deps := vmrealm.OuterDeps{
		Config:     resolved,
		Accountant: acct,
		Validator:  validator,
		Bridge:     br,
		Stats:      st,
		Abort:      abort,
		NowMs:      nowMs,
	}

	result := runWithTimeout(outer, deps, guestSource, resolved, br, logger)

	endMs := stats.NowMs()
	st.Finalize(endMs)
	result.Stats = st.Snapshot()
	if result.Success {
		logger.Info().Int64("tool_call_count", result.Stats.ToolCallCount).Int64("duration_ms", result.Stats.DurationMs).Log("execution completed")
	} else {
		logger.Warning().Str("code", string(result.Error.Code)).Int64("duration_ms", result.Stats.DurationMs).Log("execution failed")
	}
	return result
}

// runWithTimeout drives Outer.ExecuteWith on a worker goroutine while
// the calling goroutine waits for its outcome. A single timer, set to
// timeout_ms + parent_timeout_buffer_ms, calls goja's Interrupt on the
// inner runtime; there is no separate deadline at timeout_ms alone, so
// guest code can run for up to the sum before it is stopped. Interrupt
// is the documented mechanism for asynchronously aborting a running
// *goja.Runtime from another goroutine; it is safe to call even after
// the runtime has already finished.
func runWithTimeout(outer *vmrealm.Outer, deps vmrealm.OuterDeps, guestSource string, cfg config.ExecutionConfig, br *bridge.Bridge, logger *obslog.Logger) *stats.Result {
	innerTimeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	outerBuffer := time.Duration(cfg.DoubleVM.ParentTimeoutBufferMs) * time.Millisecond
	total := innerTimeout + outerBuffer

	type outcome struct {
		inner *vmrealm.Inner
		value goja.Value
		err   error
	}
	done := make(chan outcome, 1)
	innerReady := make(chan *vmrealm.Inner, 1)

	go func() {
		inner := vmrealm.NewBareInner()
		innerReady <- inner
		value, err := outer.ExecuteWith(deps, inner, guestSource)
		done <- outcome{inner: inner, value: value, err: err}
	}()

	// The watchdog only needs the inner runtime handle to call
	// Interrupt; it races the goroutine above for it (whichever
	// arrives first), never the execution result itself.
	watchdog := time.AfterFunc(total, func() {
		select {
		case inner := <-innerReady:
			logger.Warning().Int64("timeout_ms", int64(total/time.Millisecond)).Log("interrupting inner realm: timeout exceeded")
			inner.VM().Interrupt(timeoutInterrupt{message: "TIMEOUT_EXCEEDED"})
		default:
		}
	})
	defer watchdog.Stop()

	oc := <-done

	if oc.err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(oc.err, &interrupted) {
			return failureResultFromStart(deps.Stats, errs.New(errs.CodeTimeoutExceeded, "execution timed out"))
		}
		return failureResultFromStart(deps.Stats, toEngineError(oc.err))
	}

	violated, kind := outer.Violation()
	if violated && cfg.SecurityLevel.Escalates() {
		logger.Err().Str("kind", kind).Log("security violation recorded, escalating outcome")
		return failureResultFromStart(deps.Stats, errs.Newf(errs.CodeSecurityViolation, "a security violation was recorded: %s", kind).WithData(map[string]any{"kind": kind}))
	}

	sanitizeOpts := sanitize.Options{MaxDepth: cfg.MaxSanitizeDepth, MaxProperties: cfg.MaxSanitizeProperties}
	sanitizer := oc.inner.NewSanitizer(sanitizeOpts)
	sanitized, err := sanitizer.Sanitize(oc.value)
	if err != nil {
		return failureResultFromStart(deps.Stats, toEngineError(err))
	}

	if size := sanitize.EstimateSerializedSize(sanitized); size > serializationLimit(cfg) {
		return failureResultFromStart(deps.Stats, errs.Newf(errs.CodeSerializationLimitExceeded,
			"final value's estimated serialized size (%d bytes) exceeds the limit", size))
	}

	return &stats.Result{Success: true, Value: sanitized}
}

func serializationLimit(cfg config.ExecutionConfig) int64 {
	const hardCap = 50 * 1024 * 1024
	if cfg.MemoryLimitBytes > 0 && cfg.MemoryLimitBytes < hardCap {
		return cfg.MemoryLimitBytes
	}
	return hardCap
}

func resolvedPayloadBytes(cfg config.ExecutionConfig) int64 {
	if cfg.ToolBridge.MaxPayloadBytes > 0 {
		return cfg.ToolBridge.MaxPayloadBytes
	}
	return 4 * 1024 * 1024
}

// resolveConfig clamps the depth/property limits per spec.md §3 and
// fills in defaults, returning the view the engine actually runs with.
func resolveConfig(cfg config.ExecutionConfig) config.ExecutionConfig {
	resolved := cfg
	resolved.MaxSanitizeDepth = clamp(orDefault(cfg.MaxSanitizeDepth, 20), 5, 50)
	resolved.MaxSanitizeProperties = clamp(orDefault(cfg.MaxSanitizeProperties, 10000), 50, 1000)
	return resolved
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toEngineError(err error) *errs.EngineError {
	var e *errs.EngineError
	if errors.As(err, &e) {
		return e
	}
	return errs.Wrap(errs.CodeDoubleVMExecutionError, "execution failed", err)
}

func failureResult(st *stats.Stats, startMs int64, err *errs.EngineError) *stats.Result {
	st.Finalize(stats.NowMs())
	return &stats.Result{Success: false, Error: err, Stats: st.Snapshot()}
}

func failureResultFromStart(st *stats.Stats, err *errs.EngineError) *stats.Result {
	return &stats.Result{Success: false, Error: err}
}
