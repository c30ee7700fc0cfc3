package vmrealm

import (
	"github.com/dop251/goja"

	"github.com/agentfront/enclave/errs"
)

// BlockedPropertyNames is the guarded return-value view's blocklist:
// spec.md §4.4/§6 ("constructor, __proto__, prototype, and others").
// Reflection methods are included because a guarded value's whole
// point is denying a guest-side prototype walk back to Function.
var BlockedPropertyNames = []string{
	"constructor", "__proto__", "prototype",
	"getPrototypeOf", "setPrototypeOf",
	"defineProperty", "defineProperties",
	"getOwnPropertyDescriptor", "getOwnPropertyDescriptors",
}

// maxGuardDepth bounds the lazy recursive wrapping a guarded Proxy
// performs as nested properties are accessed, per §4.4 "recurses up
// to depth 10 through nested accesses".
const maxGuardDepth = 10

// guardFactorySource builds the recursive Proxy-based guard. It must
// be evaluated once per inner realm, immediately after realm creation
// and BEFORE dangerous globals are stripped: it captures Proxy and
// Reflect in closure variables, so the wrapper keeps working even
// after the global `Proxy`/`Reflect` bindings are later deleted for
// STRICT/SECURE (deleting a global name does not invalidate values
// already captured by a closure). This mirrors the memory-estimation
// wrappers' "install before you can no longer rely on the intrinsic"
// ordering in §4.1 step (e).
const guardFactorySource = `(function(Proxy, Reflect){
	return function(blockedSet, throwOnBlocked, maxDepth, reportViolation){
		function wrap(value, depth) {
			if (value === null || (typeof value !== 'object' && typeof value !== 'function')) {
				return value;
			}
			if (depth >= maxDepth) {
				return value;
			}
			return new Proxy(value, {
				get: function(target, prop, receiver) {
					if (typeof prop === 'string' && blockedSet[prop]) {
						if (throwOnBlocked) {
							reportViolation();
							throw new TypeError('access to "' + prop + '" is blocked');
						}
						return undefined;
					}
					var result = Reflect.get(target, prop, receiver);
					if (typeof result === 'function') {
						return result.bind(target);
					}
					return wrap(result, depth + 1);
				},
				set: function() {
					throw new TypeError('guarded value is read-only');
				},
				deleteProperty: function() {
					throw new TypeError('guarded value is read-only');
				},
				setPrototypeOf: function() {
					throw new TypeError('guarded value is read-only');
				},
				defineProperty: function() {
					throw new TypeError('guarded value is read-only');
				},
			});
		}
		return function(value) { return wrap(value, 0); };
	};
})`

// installGuardFactory evaluates guardFactorySource against r's live
// Proxy/Reflect globals, binds it to the blocklist and throwOnBlocked
// policy, and stores the resulting single-argument apply function for
// WrapGuarded. Must run before removeDangerousGlobals. reportViolation
// is called whenever a blocked-property access is denied with
// throwOnBlocked set, so the outer realm's violation side channel
// (§4.1 step 5, §7) sees it even if the guest catches the TypeError.
func (r *Runtime) installGuardFactory(throwOnBlocked bool, reportViolation func()) error {
	compiled, err := r.vm.RunString(guardFactorySource)
	if err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to compile guard factory", err)
	}
	makeApplier, ok := goja.AssertFunction(compiled)
	if !ok {
		return errs.New(errs.CodeDoubleVMExecutionError, "guard factory did not compile to a function")
	}
	proxyCtor := r.vm.GlobalObject().Get("Proxy")
	reflectObj := r.vm.GlobalObject().Get("Reflect")
	applierFactory, err := makeApplier(goja.Undefined(), proxyCtor, reflectObj)
	if err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to build guard factory", err)
	}
	bindApplier, ok := goja.AssertFunction(applierFactory)
	if !ok {
		return errs.New(errs.CodeDoubleVMExecutionError, "guard factory returned a non-function")
	}

	blocked := r.vm.NewObject()
	for _, name := range BlockedPropertyNames {
		_ = blocked.Set(name, true)
	}
	if reportViolation == nil {
		reportViolation = func() {}
	}
	reportFn := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		reportViolation()
		return goja.Undefined()
	})
	apply, err := bindApplier(goja.Undefined(), blocked, r.vm.ToValue(throwOnBlocked), r.vm.ToValue(maxGuardDepth), reportFn)
	if err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to bind guard policy", err)
	}
	applyFn, ok := goja.AssertFunction(apply)
	if !ok {
		return errs.New(errs.CodeDoubleVMExecutionError, "guard apply binding returned a non-function")
	}
	r.guardApply = applyFn
	return nil
}

// WrapGuarded produces a guarded, read-only, depth-limited view of
// value per §4.4's "Return-value wrapping".
func (r *Runtime) WrapGuarded(value goja.Value) (goja.Value, error) {
	if r.guardApply == nil {
		return value, nil
	}
	wrapped, err := r.guardApply(goja.Undefined(), value)
	if err != nil {
		return nil, errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to construct guarded view", err)
	}
	return wrapped, nil
}
