package vmrealm

import (
	"github.com/dop251/goja"

	"github.com/agentfront/enclave/errs"
)

// curatedGlobals is the set of standard bindings left in place (beyond
// the fixed runtime surface) for guest code, per §4.5's "curated set".
// Everything not in this list and not in dangerousGlobals is left
// alone too (plain data constructors like Symbol, Map, Set the guest
// may still reach, since the sanitizer and guard are what actually
// stop them from escaping with anything dangerous) - this list is only
// the subset that additionally gets wrapped in the guarded view when
// passed into host-observable positions and, for Object, fully
// re-shadowed.
var curatedGlobals = []string{
	"Math", "JSON", "Array", "String", "Number", "Date", "Boolean",
	"RegExp", "Error", "TypeError", "RangeError", "Promise",
	"encodeURIComponent", "decodeURIComponent", "encodeURI", "decodeURI",
	"isNaN", "isFinite", "parseInt", "parseFloat", "NaN", "Infinity", "undefined",
}

// installSafeObjectShadow replaces the inner realm's global Object with
// a shadow exposing only the read-only reflection methods named in
// §4.5, throwing stubs for the dangerous set, and a safe create(proto)
// that forbids the descriptors argument.
func (r *Runtime) installSafeObjectShadow() error {
	_, err := r.vm.RunString(safeObjectShadowSource)
	if err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install safe Object shadow", err)
	}
	return nil
}

const safeObjectShadowSource = `(function(){
	var RealObject = Object;
	var dangerous = ['defineProperty', 'defineProperties', 'setPrototypeOf',
		'getOwnPropertyDescriptor', 'getOwnPropertyDescriptors'];

	function SafeObject(value) { return RealObject(value); }

	var allowed = ['keys', 'values', 'entries', 'fromEntries', 'assign', 'is',
		'hasOwn', 'freeze', 'isFrozen', 'seal', 'isSealed',
		'preventExtensions', 'isExtensible', 'getOwnPropertyNames',
		'getOwnPropertySymbols', 'getPrototypeOf'];
	for (var i = 0; i < allowed.length; i++) {
		var name = allowed[i];
		if (typeof RealObject[name] === 'function') {
			SafeObject[name] = RealObject[name];
		}
	}

	SafeObject.create = function(proto, descriptors) {
		if (descriptors !== undefined) {
			throw new TypeError('Object.create: property-descriptor argument is not permitted');
		}
		return RealObject.create(proto);
	};

	for (var j = 0; j < dangerous.length; j++) {
		(function(name){
			SafeObject[name] = function() {
				throw new TypeError(name + ' is not available');
			};
		})(dangerous[j]);
	}

	SafeObject.prototype = RealObject.prototype;
	Object = SafeObject;
})()`
