package vmrealm

import (
	"github.com/dop251/goja"

	"github.com/agentfront/enclave/bridge"
	"github.com/agentfront/enclave/errs"
	"github.com/agentfront/enclave/memaccount"
	"github.com/agentfront/enclave/policy"
	"github.com/agentfront/enclave/sanitize"
	"github.com/agentfront/enclave/stats"
)

// ExecutionHooks bundles the host-side collaborators the fixed runtime
// surface (§4.5) needs: the tool bridge, the policy validator, the
// sanitizer for tool results, shared counters, and the limits a given
// execution was configured with. Built once per execution by the
// orchestrator and passed to installRuntimeSurface.
type ExecutionHooks struct {
	Bridge     *bridge.Bridge
	Validator  *policy.Validator
	Sanitize   *sanitize.Sanitizer
	Stats      *stats.Stats
	Accountant *memaccount.Accountant
	Abort      func() bool
	NowMs      func() int64

	MaxIterations         int64
	MaxToolCalls          int64
	MaxConsoleCalls       int64
	MaxConsoleOutputBytes int64
	AllowComposites       bool
}

// installRuntimeSurface installs callTool, the loop drivers, concat,
// template, parallel and console as fixed (non-writable,
// non-configurable, non-enumerable) properties on r's global object,
// per §4.5.
func (r *Runtime) installRuntimeSurface(h *ExecutionHooks) error {
	global := r.vm.GlobalObject()

	if err := defineFixed(global, "callTool", r.vm.ToValue(r.makeCallTool(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install callTool", err)
	}
	if err := defineFixed(global, "forOf", r.vm.ToValue(r.makeForOf(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install forOf", err)
	}
	if err := defineFixed(global, "for", r.vm.ToValue(r.makeFor(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install for", err)
	}
	if err := defineFixed(global, "while", r.vm.ToValue(r.makeWhile(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install while", err)
	}
	if err := defineFixed(global, "doWhile", r.vm.ToValue(r.makeDoWhile(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install doWhile", err)
	}
	if err := defineFixed(global, "concat", r.vm.ToValue(r.makeConcat(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install concat", err)
	}
	if err := defineFixed(global, "template", r.vm.ToValue(r.makeTemplate(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install template", err)
	}
	if err := defineFixed(global, "parallel", r.vm.ToValue(r.makeParallel(h))); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install parallel", err)
	}
	console := r.vm.NewObject()
	for _, level := range []string{"log", "error", "warn", "info"} {
		if err := console.Set(level, r.vm.ToValue(r.makeConsoleWrite(h, level))); err != nil {
			return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install console."+level, err)
		}
	}
	if err := defineFixed(global, "console", console); err != nil {
		return errs.Wrap(errs.CodeDoubleVMExecutionError, "failed to install console", err)
	}
	return nil
}

func throwEngine(vm *goja.Runtime, r *Runtime, code errs.Code, message string) {
	panic(vm.ToValue(newSealedError(r, string(code), message)))
}

func (r *Runtime) checkAbort(h *ExecutionHooks) {
	if h.Abort != nil && h.Abort() {
		throwEngine(r.vm, r, errs.CodeExecutionAborted, "execution was aborted")
	}
}

// makeCallTool builds the callTool(name, args) binding. It resolves
// sanitized args, runs them through the policy validator, forwards to
// the bridge, and resolves a native Promise with the guarded return
// value (or rejects with a sealed error). Since the bridge handler is
// itself synchronous, the Promise already settles before callTool
// returns; the guest's `await` observes it as already-resolved.
func (r *Runtime) makeCallTool(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := r.vm.NewPromise()

		name := call.Argument(0).String()
		argsVal := call.Argument(1)

		r.checkAbort(h)

		count := h.Stats.IncrToolCall()
		if count > h.MaxToolCalls {
			h.Stats.DecrToolCall()
			_ = reject(r.vm.ToValue(newSealedError(r, string(errs.CodeToolCallLimitExceeded), "tool call limit exceeded")))
			return r.vm.ToValue(promise)
		}

		sanitizedArgs, err := h.Sanitize.Sanitize(argsVal)
		if err != nil {
			h.Stats.DecrToolCall()
			_ = reject(errValueOf(r, err))
			return r.vm.ToValue(promise)
		}
		argMap, ok := sanitizedArgs.(map[string]any)
		if sanitizedArgs == nil {
			argMap = map[string]any{}
			ok = true
		}
		if !ok {
			h.Stats.DecrToolCall()
			_ = reject(r.vm.ToValue(newSealedError(r, string(errs.CodeBadArguments), "tool call arguments must be a plain object")))
			return r.vm.ToValue(promise)
		}

		cloned, err := bridge.CloneArgsViaJSON(argMap)
		if err != nil {
			h.Stats.DecrToolCall()
			_ = reject(errValueOf(r, err))
			return r.vm.ToValue(promise)
		}

		if name == "" {
			h.Stats.DecrToolCall()
			_ = reject(r.vm.ToValue(newSealedError(r, string(errs.CodeValidationError), "operation name must not be empty")))
			return r.vm.ToValue(promise)
		}

		if err := h.Validator.Validate(h.NowMs(), name, cloned); err != nil {
			_ = reject(errValueOf(r, err))
			return r.vm.ToValue(promise)
		}

		result, err := h.Bridge.Invoke(name, cloned)
		if err != nil {
			_ = reject(errValueOf(r, err))
			return r.vm.ToValue(promise)
		}

		sanitizedResult, err := h.Sanitize.Sanitize(r.vm.ToValue(result))
		if err != nil {
			_ = reject(errValueOf(r, err))
			return r.vm.ToValue(promise)
		}
		guestValue := r.vm.ToValue(sanitizedResult)
		guarded, err := r.WrapGuarded(guestValue)
		if err != nil {
			_ = reject(errValueOf(r, err))
			return r.vm.ToValue(promise)
		}
		_ = resolve(guarded)
		return r.vm.ToValue(promise)
	}
}

func errValueOf(r *Runtime, err error) goja.Value {
	code := errs.CodeDoubleVMExecutionError
	msg := err.Error()
	if c, ok := errs.CodeOf(err); ok {
		code = c
	}
	return r.vm.ToValue(newSealedError(r, string(code), msg))
}

// makeForOf builds forOf(iterable): wraps the argument's own iterator
// (via Symbol.iterator) in an object implementing the same iterator
// protocol, incrementing iteration_count and polling abort on every
// `next()`, per §5's "loop helpers poll abort on every iteration".
func (r *Runtime) makeForOf(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	checkAbort := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		r.checkAbort(h)
		return goja.Undefined()
	})
	incr := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		r.incrIteration(h)
		return goja.Undefined()
	})
	_ = r.vm.GlobalObject().Set("__forOfCheckAbort", checkAbort)
	_ = r.vm.GlobalObject().Set("__forOfIncr", incr)
	fn, err := r.vm.RunString(`(function(checkAbort, incr){
		return function(iterable){
			var inner = iterable[Symbol.iterator]();
			var out = {};
			out.next = function(){
				checkAbort();
				var step = inner.next();
				if (!step.done) { incr(); }
				return step;
			};
			out[Symbol.iterator] = function(){ return out; };
			return out;
		};
	})(__forOfCheckAbort, __forOfIncr)`)
	r.vm.GlobalObject().Delete("__forOfCheckAbort")
	r.vm.GlobalObject().Delete("__forOfIncr")
	if err != nil {
		return func(call goja.FunctionCall) goja.Value {
			throwEngine(r.vm, r, errs.CodeDoubleVMExecutionError, "forOf driver failed to install")
			return goja.Undefined()
		}
	}
	call, _ := goja.AssertFunction(fn)
	return func(c goja.FunctionCall) goja.Value {
		result, err := call(goja.Undefined(), c.Argument(0))
		if err != nil {
			panic(err)
		}
		return result
	}
}

func (r *Runtime) incrIteration(h *ExecutionHooks) {
	count := h.Stats.IncrIteration()
	if count > h.MaxIterations {
		throwEngine(r.vm, r, errs.CodeIterationLimitExceeded, "iteration limit exceeded")
	}
}

func callableArg(call goja.FunctionCall, i int) (goja.Callable, bool) {
	return goja.AssertFunction(call.Argument(i))
}

// makeFor builds for(init, test, update, body), a bounded driver
// equivalent to `for(init(); test(); update()) body();` where init,
// test, update, body are guest-supplied closures (the guest source has
// already been transformed to call this helper instead of using
// native `for` syntax).
func (r *Runtime) makeFor(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		init, _ := callableArg(call, 0)
		test, _ := callableArg(call, 1)
		update, _ := callableArg(call, 2)
		body, okBody := callableArg(call, 3)
		if !okBody {
			throwEngine(r.vm, r, errs.CodeBadArguments, "for: body must be a function")
		}
		if init != nil {
			if _, err := init(goja.Undefined()); err != nil {
				panic(err)
			}
		}
		for {
			r.checkAbort(h)
			if test != nil {
				tv, err := test(goja.Undefined())
				if err != nil {
					panic(err)
				}
				if !tv.ToBoolean() {
					break
				}
			}
			if _, err := body(goja.Undefined()); err != nil {
				panic(err)
			}
			r.incrIteration(h)
			if update != nil {
				if _, err := update(goja.Undefined()); err != nil {
					panic(err)
				}
			}
		}
		return goja.Undefined()
	}
}

// makeWhile builds while(test, body): while(test()) { body(); }
func (r *Runtime) makeWhile(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		test, okTest := callableArg(call, 0)
		body, okBody := callableArg(call, 1)
		if !okTest || !okBody {
			throwEngine(r.vm, r, errs.CodeBadArguments, "while: test and body must be functions")
		}
		for {
			r.checkAbort(h)
			tv, err := test(goja.Undefined())
			if err != nil {
				panic(err)
			}
			if !tv.ToBoolean() {
				break
			}
			if _, err := body(goja.Undefined()); err != nil {
				panic(err)
			}
			r.incrIteration(h)
		}
		return goja.Undefined()
	}
}

// makeDoWhile builds doWhile(test, body): do { body(); } while(test());
func (r *Runtime) makeDoWhile(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		test, okTest := callableArg(call, 0)
		body, okBody := callableArg(call, 1)
		if !okTest || !okBody {
			throwEngine(r.vm, r, errs.CodeBadArguments, "doWhile: test and body must be functions")
		}
		for {
			r.checkAbort(h)
			if _, err := body(goja.Undefined()); err != nil {
				panic(err)
			}
			r.incrIteration(h)
			tv, err := test(goja.Undefined())
			if err != nil {
				panic(err)
			}
			if !tv.ToBoolean() {
				break
			}
		}
		return goja.Undefined()
	}
}

// makeConcat builds concat(left, right), replacing `+` on values that
// might be strings, per §4.5:
//   - both numbers: numeric addition, untracked.
//   - both strings, neither a reference handle: concatenation, tracking
//     the right operand's estimated byte cost.
//   - either operand a reference handle: a composite handle if
//     allow_composites is set, else COMPOSITE_DISALLOWED.
//   - anything else: the language's default `+` coercion, tracking the
//     byte cost if the result is a string.
func (r *Runtime) makeConcat(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	plusVal, _ := r.vm.RunString(`(function(a, b){ return a + b; })`)
	plus, _ := goja.AssertFunction(plusVal)
	return func(call goja.FunctionCall) goja.Value {
		vm := r.vm
		left := call.Argument(0)
		right := call.Argument(1)

		if isNumber(left) && isNumber(right) {
			return vm.ToValue(left.ToFloat() + right.ToFloat())
		}

		leftStr, leftIsRef := refOperand(left)
		rightStr, rightIsRef := refOperand(right)
		if leftIsRef || rightIsRef {
			return r.compositeOrFail(h, "concat", leftStr, rightStr)
		}

		if isString(left) && isString(right) {
			r.trackString(h, len(rightStr))
			return vm.ToValue(leftStr + rightStr)
		}

		result, err := plus(goja.Undefined(), left, right)
		if err != nil {
			panic(err)
		}
		if s, ok := result.Export().(string); ok {
			r.trackString(h, len(s))
		}
		return result
	}
}

func isNumber(v goja.Value) bool {
	_, ok := v.Export().(float64)
	if ok {
		return true
	}
	_, ok = v.Export().(int64)
	return ok
}

func isString(v goja.Value) bool {
	_, ok := v.Export().(string)
	return ok
}

func refOperand(v goja.Value) (string, bool) {
	s, ok := v.Export().(string)
	if ok && bridge.IsReferenceHandle(s) {
		return s, true
	}
	return v.String(), false
}

func (r *Runtime) trackString(h *ExecutionHooks, length int) {
	if h.Accountant == nil {
		return
	}
	if err := h.Accountant.Track(memaccount.EstimateString(length)); err != nil {
		panic(r.vm.ToValue(newSealedError(r, string(errs.CodeMemoryLimitExceeded), err.Error())))
	}
}

func (r *Runtime) compositeOrFail(h *ExecutionHooks, op string, parts ...string) goja.Value {
	if !h.AllowComposites {
		throwEngine(r.vm, r, errs.CodeCompositeDisallowed, "composing reference handles is disallowed for this execution")
	}
	if len(parts) > bridge.MaxCompositeParts {
		throwEngine(r.vm, r, errs.CodeCompositeDisallowed, "composite handle part count exceeds the limit")
	}
	c := bridge.NewCompositeHandle(op, parts...)
	return r.vm.ToValue(map[string]any{"kind": c.Kind, "op": c.Op, "parts": c.Parts})
}

// makeTemplate builds template(quasis, ...values): reconstructs a
// template literal's string, tracking the concatenated result's byte
// cost, except that when any value stringifies to a reference handle
// the result is a composite "template" handle under the same
// allow_composites gating as concat.
func (r *Runtime) makeTemplate(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		vm := r.vm
		quasisVal := call.Argument(0).Export()
		quasis, _ := quasisVal.([]any)
		values := call.Arguments[1:]

		hasHandle := false
		parts := make([]string, 0, len(quasis)+len(values))
		for i, q := range quasis {
			if s, ok := q.(string); ok {
				parts = append(parts, s)
			}
			if i < len(values) {
				s, isRef := refOperand(values[i])
				if isRef {
					hasHandle = true
				}
				parts = append(parts, s)
			}
		}
		if hasHandle {
			return r.compositeOrFail(h, "template", parts...)
		}
		out := ""
		for _, p := range parts {
			out += p
		}
		r.trackString(h, len(out))
		return vm.ToValue(out)
	}
}

// makeParallel builds parallel(items, fn): applies fn to each element
// of items (array length <= 100), preserving order in the returned
// array. fn is expected to return a Promise (typically a callTool
// call); each is awaited serially on the single cooperative task, per
// §5 ("bounds concurrency at 100" means the *cap*, not that the engine
// itself schedules concurrent goroutines — the inner realm has exactly
// one task).
func (r *Runtime) makeParallel(h *ExecutionHooks) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		itemsVal := call.Argument(0)
		fn, ok := callableArg(call, 1)
		if !ok {
			throwEngine(r.vm, r, errs.CodeBadArguments, "parallel: fn must be a function")
		}
		itemsObj := itemsVal.ToObject(r.vm)
		length := int(itemsObj.Get("length").ToInteger())
		const maxParallel = 100
		if length > maxParallel {
			throwEngine(r.vm, r, errs.CodeValidationError, "parallel: item count exceeds the concurrency bound of 100")
		}

		promise, resolve, reject := r.vm.NewPromise()
		results := make([]goja.Value, length)

		for i := 0; i < length; i++ {
			r.checkAbort(h)
			item := itemsObj.Get(itoa(i))
			resultVal, err := fn(goja.Undefined(), item, r.vm.ToValue(i))
			if err != nil {
				_ = reject(r.vm.ToValue(err.Error()))
				return r.vm.ToValue(promise)
			}
			settled, settleErr := awaitPromiseLike(r.vm, resultVal)
			if settleErr != nil {
				_ = reject(settleErr)
				return r.vm.ToValue(promise)
			}
			results[i] = settled
		}

		arr := r.vm.NewArray(toAnySlice(results)...)
		_ = resolve(arr)
		return r.vm.ToValue(promise)
	}
}

func toAnySlice(values []goja.Value) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// awaitPromiseLike resolves v if it's a *goja.Promise (already settled,
// since every Promise this engine creates settles synchronously before
// it is returned), otherwise returns v unchanged.
func awaitPromiseLike(vm *goja.Runtime, v goja.Value) (goja.Value, goja.Value) {
	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, promise.Result()
	default:
		return nil, vm.ToValue("DOUBLE_VM_EXECUTION_ERROR: promise did not settle synchronously")
	}
}

// makeConsoleWrite builds console.log/error/warn/info: counts calls
// and approximate output bytes against the configured caps.
func (r *Runtime) makeConsoleWrite(h *ExecutionHooks, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		calls := h.Stats.IncrConsoleCall()
		if h.MaxConsoleCalls > 0 && calls > h.MaxConsoleCalls {
			throwEngine(r.vm, r, errs.CodeConsoleLimitExceeded, "console call limit exceeded")
		}
		var n int64
		for _, arg := range call.Arguments {
			n += int64(len(arg.String())) + 1
		}
		total := h.Stats.AddConsoleBytes(n)
		if h.MaxConsoleOutputBytes > 0 && total > h.MaxConsoleOutputBytes {
			throwEngine(r.vm, r, errs.CodeConsoleLimitExceeded, "console output byte limit exceeded")
		}
		return goja.Undefined()
	}
}
