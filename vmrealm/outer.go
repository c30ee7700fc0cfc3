package vmrealm

import (
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/agentfront/enclave/bridge"
	"github.com/agentfront/enclave/config"
	"github.com/agentfront/enclave/errs"
	"github.com/agentfront/enclave/memaccount"
	"github.com/agentfront/enclave/policy"
	"github.com/agentfront/enclave/sanitize"
	"github.com/agentfront/enclave/stats"
)

// Outer is the gatekeeper realm: a *goja.Runtime that never runs guest
// source directly. Its only job is to construct and drive the inner
// realm, per §4.1's algorithm.
type Outer struct {
	*Runtime
	violated atomic.Bool
	violKind atomic.Value // string
}

// OuterDeps bundles everything Outer.Execute needs to construct an
// instrumented inner realm and run one guest program to completion.
type OuterDeps struct {
	Config     config.ExecutionConfig
	Accountant *memaccount.Accountant
	Validator  *policy.Validator
	Bridge     *bridge.Bridge
	Stats      *stats.Stats
	Abort      func() bool
	NowMs      func() int64
}

// NewOuter builds the outer realm and hardens it per §4.1 step 1-2:
// eval/Function are disabled at the Go level (never guest-observable
// JS), matching the inner realm's own dangerous-globals removal.
func NewOuter() *Outer {
	o := &Outer{Runtime: newRuntime()}
	o.violKind.Store("")
	global := o.vm.GlobalObject()
	global.Delete("eval")
	global.Delete("Function")
	return o
}

// reportViolation records a policy/code-generation violation. Per
// §4.1 step 5 and §7, STRICT/SECURE escalate a nominally successful
// outcome to SECURITY_VIOLATION when this has been called.
func (o *Outer) reportViolation(kind string) {
	o.violated.Store(true)
	o.violKind.Store(kind)
}

// Violation reports whether a violation was recorded, and its kind.
func (o *Outer) Violation() (bool, string) {
	kind, _ := o.violKind.Load().(string)
	return o.violated.Load(), kind
}

// hardenErrorStacks reduces captured stack frames to "at [REDACTED]",
// per §4.1 step 3(a). Runs in the outer realm, which never executes
// guest source, so this is purely defense in depth against a bootstrap
// bug leaking host file paths through an uncaught error's stack.
func (o *Outer) hardenErrorStacks() error {
	_, err := o.vm.RunString(`Error.stackTraceLimit = 0;
		Object.defineProperty(Error.prototype, 'stack', {
			get: function(){ return this.name + ': ' + this.message + '\n    at [REDACTED]'; },
			configurable: true,
		});`)
	if err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to harden outer-realm error stacks", err)
	}
	return nil
}

// Execute runs one guest program to completion: builds the inner
// realm, instruments it, runs guestSource, and returns its raw return
// value (not yet sanitized - the caller runs the sanitizer against the
// inner realm's runtime, per §4.1 step 6).
func (o *Outer) Execute(deps OuterDeps, guestSource string) (*Inner, goja.Value, error) {
	inner := NewBareInner()
	value, err := o.ExecuteWith(deps, inner, guestSource)
	return inner, value, err
}

// ExecuteWith is Execute's split form: the caller constructs the bare
// inner realm (NewBareInner) first, so it can race a watchdog
// goroutine for the runtime handle (needed to call goja's Interrupt)
// against this call actually instrumenting and running it.
func (o *Outer) ExecuteWith(deps OuterDeps, inner *Inner, guestSource string) (goja.Value, error) {
	if err := o.hardenErrorStacks(); err != nil {
		return nil, err
	}
	if err := o.freezePrototypes(); err != nil {
		return nil, err
	}
	// No code-gen guard is installed on the outer realm itself: NewOuter
	// already deletes Function/eval from its globals unconditionally
	// (there is nothing left to guard there), and the outer realm never
	// executes guest source anyway. The realm that matters is the inner
	// one, instrumented below via inner.Instrument.

	sanitizeOpts := sanitize.Options{
		MaxDepth:      deps.Config.MaxSanitizeDepth,
		MaxProperties: deps.Config.MaxSanitizeProperties,
	}
	hooks := &ExecutionHooks{
		Bridge:                deps.Bridge,
		Validator:             deps.Validator,
		Sanitize:              inner.NewSanitizer(sanitizeOpts),
		Stats:                 deps.Stats,
		Accountant:            deps.Accountant,
		Abort:                 deps.Abort,
		NowMs:                 deps.NowMs,
		MaxIterations:         deps.Config.MaxIterations,
		MaxToolCalls:          deps.Config.MaxToolCalls,
		MaxConsoleCalls:       deps.Config.MaxConsoleCalls,
		MaxConsoleOutputBytes: deps.Config.MaxConsoleOutputBytes,
		AllowComposites:       deps.Config.AllowComposites,
	}

	if err := inner.Instrument(deps.Config, deps.Accountant, hooks, o.reportViolation); err != nil {
		return nil, err
	}

	return inner.Run(guestSource)
}
