// Package vmrealm implements the double-VM realm machinery: the outer
// gatekeeper realm and the inner guest realm, each a distinct
// *goja.Runtime with no shared object graph, plus the instrumentation
// (memory-tracking wrappers, guarded return-value views, sealed
// errors, frozen prototypes) installed into them during bootstrap. See
// spec.md §4.1, §4.5 and SPEC_FULL.md §10.
package vmrealm

import (
	"github.com/dop251/goja"

	"github.com/agentfront/enclave/config"
	"github.com/agentfront/enclave/errs"
)

// Runtime wraps a single *goja.Runtime. Outer and Inner both embed it;
// nothing outside this package reaches into the raw goja.Runtime.
type Runtime struct {
	vm         *goja.Runtime
	guardApply goja.Callable
}

func newRuntime() *Runtime {
	return &Runtime{vm: goja.New()}
}

// VM exposes the underlying *goja.Runtime for callers in this package
// (and, narrowly, the orchestrator package) that need direct goja
// calls not otherwise wrapped here.
func (r *Runtime) VM() *goja.Runtime { return r.vm }

// curatedPrototypeOwners is the curated constructor set whose
// .prototype gets frozen in both realms, per §4.1 step (f).
var curatedPrototypeOwners = []string{
	"Object", "Array", "String", "Number", "Boolean", "Date",
	"RegExp", "Error", "TypeError", "RangeError", "Promise", "Function",
}

// freezePrototypes runs a short engine-authored snippet (never guest
// source) that freezes the curated built-in prototypes, per §4.1 step
// (f). Must run after the memory-estimation wrappers are installed
// (they mutate String.prototype/Array.prototype) and before any
// subsequent guest-observable code runs.
func (r *Runtime) freezePrototypes() error {
	arr := r.vm.NewArray()
	for i, name := range curatedPrototypeOwners {
		_ = arr.Set(itoa(i), name)
	}
	fn, err := r.vm.RunString(`(function(names){
		for (var i = 0; i < names.length; i++) {
			var ctor = this[names[i]];
			if (ctor && ctor.prototype) {
				try { Object.freeze(ctor.prototype); } catch (e) {}
			}
		}
	})`)
	if err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to compile prototype-freeze bootstrap", err)
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return errs.New(errs.CodeDoubleVMExecutionError, "prototype-freeze bootstrap did not compile to a function")
	}
	if _, err := call(r.vm.GlobalObject(), arr); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to freeze built-in prototypes", err)
	}
	return nil
}

// installCodeGenGuard replaces Function.prototype.constructor with a
// reporting, throwing stand-in. This is the actual sandbox-escape
// route: every function value's .constructor resolves through this one
// self-referential property on the real Function constructor, not
// through any of the other built-in prototypes (whose own .constructor
// already points back to themselves - e.g. Array.prototype.constructor
// === Array, never Function). Deleting the global Function *name*
// (removeDangerousGlobals) does not touch this, since any function
// value already inside the realm - a guest-declared function, a
// host-installed binding, even a sealed error's inert constructor -
// still reaches it through its prototype chain.
//
// Must run before removeDangerousGlobals, which deletes the global
// Function binding this snippet still needs to read the live
// prototype from, and before freezePrototypes, which then locks the
// replacement in place (Function is in curatedPrototypeOwners).
func (r *Runtime) installCodeGenGuard(level config.SecurityLevel, reportViolation func(kind string)) error {
	if !level.DefaultThrowOnBlocked() {
		return nil
	}
	if reportViolation == nil {
		reportViolation = func(string) {}
	}
	report := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		reportViolation("CODE_GENERATION")
		panic(r.vm.NewTypeError("code generation is not permitted"))
	})
	if err := r.vm.GlobalObject().Set("__reportCodeGen", report); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install code-gen violation reporter", err)
	}
	_, err := r.vm.RunString(`(function(reportCodeGen){
		var guard = function() { return reportCodeGen(); };
		guard.prototype = Function.prototype;
		Object.defineProperty(Function.prototype, 'constructor', {
			value: guard, writable: false, configurable: false, enumerable: false,
		});
	})(__reportCodeGen)`)
	r.vm.GlobalObject().Delete("__reportCodeGen")
	if err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install code-generation guard", err)
	}
	return nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	n := i
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// defineFixed installs a non-writable, non-configurable, non-enumerable
// data property on obj, per §4.5's "installed as non-writable,
// non-configurable, non-enumerable properties".
func defineFixed(obj *goja.Object, name string, value goja.Value) error {
	return obj.DefineDataProperty(name, value, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}
