package vmrealm

import "github.com/dop251/goja"

// newSealedError builds a guest-visible error object for an
// engine-raised failure (e.g. TOOL_INVOCATION_FAILED,
// SECURITY_VIOLATION). It is a plain object with a null prototype,
// carries no stack, has an inert constructor that throws when called,
// sets its own toString returning "name: message", and is frozen,
// denying the classic
// `err.constructor.constructor("...")` prototype-walk into the
// Function constructor. Plain try/catch and `err.name`/`err.message`
// reads keep working.
func newSealedError(r *Runtime, name, message string) *goja.Object {
	vm := r.vm
	obj := vm.NewObject()
	_ = obj.Set("name", name)
	_ = obj.Set("message", message)

	inertCtor := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("constructor is not invocable on a sealed error"))
	})
	_ = obj.Set("constructor", inertCtor)
	_ = obj.Set("toString", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(name + ": " + message)
	}))

	// Sever the prototype chain through goja's Go API, so it does not
	// depend on the realm's Object global: this also runs while guest
	// code executes, after the Object shadow (§4.5) has replaced
	// Object.setPrototypeOf with a throwing stub. Freezing calls
	// Object.freeze as found on the global object at that moment.
	_ = obj.SetPrototype(nil)
	if objectCtor, ok := vm.GlobalObject().Get("Object").(*goja.Object); ok {
		if freeze, ok := goja.AssertFunction(objectCtor.Get("freeze")); ok {
			_, _ = freeze(goja.Undefined(), obj)
		}
	}

	return obj
}
