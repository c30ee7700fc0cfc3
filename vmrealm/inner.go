package vmrealm

import (
	"github.com/dop251/goja"

	"github.com/agentfront/enclave/config"
	"github.com/agentfront/enclave/errs"
	"github.com/agentfront/enclave/memaccount"
	"github.com/agentfront/enclave/sanitize"
)

// Inner is the guest-facing realm: a fresh *goja.Runtime with dangerous
// globals stripped, allocation-accounted built-ins wrapped, prototypes
// frozen, and the fixed runtime surface (§4.5) installed.
type Inner struct {
	*Runtime
}

// NewBareInner creates the inner realm's underlying *goja.Runtime
// without any instrumentation. Callers need the bare runtime to build
// a sanitize.Sanitizer (ExecutionHooks.Sanitize) before Instrument
// installs callTool, which itself depends on that sanitizer - hence
// the two-phase construction.
func NewBareInner() *Inner {
	return &Inner{Runtime: newRuntime()}
}

// Instrument completes inner-realm setup per §4.1 step 3 (d)-(g), in
// the order the capture-before-strip pattern requires: the guard
// factory, memory wrappers, and code-generation guard must all be
// installed while Proxy/Reflect/Function/String.prototype/Array.prototype
// are still the live globals, before removeDangerousGlobals deletes the
// global *names* (closures already holding references to them keep
// working). freezePrototypes must run before removeDangerousGlobals
// too, since it looks Function up by name off the global object - the
// reverse order would leave Function.prototype (including the
// just-installed code-gen guard) unfrozen.
func (in *Inner) Instrument(cfg config.ExecutionConfig, acct *memaccount.Accountant, hooks *ExecutionHooks, reportViolation func(kind string)) error {
	r := in.Runtime

	if reportViolation == nil {
		reportViolation = func(string) {}
	}
	guardViolation := func() { reportViolation("SECURITY_VIOLATION") }
	if err := r.installGuardFactory(cfg.SecurityLevel.DefaultThrowOnBlocked(), guardViolation); err != nil {
		return err
	}
	if err := r.installMemoryWrappers(acct); err != nil {
		return err
	}
	if err := r.installCodeGenGuard(cfg.SecurityLevel, reportViolation); err != nil {
		return err
	}
	if err := r.freezePrototypes(); err != nil {
		return err
	}
	removeDangerousGlobals(r, cfg.SecurityLevel)
	if err := r.installSafeObjectShadow(); err != nil {
		return err
	}
	if err := r.installRuntimeSurface(hooks); err != nil {
		return err
	}
	if err := installUserGlobals(r, cfg.Globals); err != nil {
		return err
	}
	return nil
}

// installUserGlobals installs ctx.globals (host-supplied read-only
// values exposed into the inner realm) as fixed properties, after
// sanitizing each value so no callable/symbolic/prototype-bearing
// value can be smuggled in through this channel.
func installUserGlobals(r *Runtime, globals map[string]any) error {
	if len(globals) == 0 {
		return nil
	}
	global := r.vm.GlobalObject()
	sanitizer := sanitize.New(r.vm, sanitize.Options{})
	for name, value := range globals {
		clean, err := sanitizer.Sanitize(r.vm.ToValue(value))
		if err != nil {
			return err
		}
		if err := defineFixed(global, name, r.vm.ToValue(clean)); err != nil {
			return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install configured global "+name, err)
		}
	}
	return nil
}

// entryPointName is the guest's pre-transformed top-level async entry
// point, per §6 ("literally named __ag_main").
const entryPointName = "__ag_main"

// Run executes guestSource and awaits its top-level entry point,
// returning the raw (not yet sanitized) result value.
func (in *Inner) Run(guestSource string) (goja.Value, error) {
	if _, err := in.vm.RunString(guestSource); err != nil {
		return nil, errs.Wrap(errs.CodeDoubleVMExecutionError, "guest source failed to evaluate", err)
	}

	entry := in.vm.GlobalObject().Get(entryPointName)
	if entry == nil || goja.IsUndefined(entry) {
		// Empty (or entry-point-free) guest source succeeds with
		// undefined rather than failing: there is no guest code to have
		// misbehaved, so there is nothing to report as an engine error.
		return goja.Undefined(), nil
	}
	call, ok := goja.AssertFunction(entry)
	if !ok {
		return goja.Undefined(), nil
	}

	result, err := call(goja.Undefined())
	if err != nil {
		return nil, errs.Wrap(errs.CodeDoubleVMExecutionError, "guest entry point threw", err)
	}

	settled, rejection := awaitPromiseLike(in.vm, result)
	if rejection != nil {
		return nil, engineErrorFromRejection(rejection)
	}
	return settled, nil
}

// engineErrorFromRejection recovers the original errs.Code from a
// rejection value shaped like a sealed error (name/message properties,
// per sealederror.go), so a callTool rejection the guest never caught
// surfaces as its real code (e.g. RATE_LIMIT_EXCEEDED) rather than a
// generic DOUBLE_VM_EXECUTION_ERROR.
func engineErrorFromRejection(rejection goja.Value) *errs.EngineError {
	if obj, ok := rejection.(*goja.Object); ok {
		name := obj.Get("name")
		if name != nil && !goja.IsUndefined(name) {
			message := obj.Get("message")
			msg := ""
			if message != nil && !goja.IsUndefined(message) {
				msg = message.String()
			}
			return errs.New(errs.Code(name.String()), msg)
		}
	}
	return errs.Newf(errs.CodeDoubleVMExecutionError, "guest entry point rejected: %s", rejection.String())
}

// NewSanitizer builds the sanitizer bound to this realm's runtime, for
// use both on callTool results flowing in and on the final guest value
// flowing out.
func (in *Inner) NewSanitizer(opts sanitize.Options) *sanitize.Sanitizer {
	return sanitize.New(in.vm, opts)
}
