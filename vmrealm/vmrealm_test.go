package vmrealm

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"

	"github.com/agentfront/enclave/bridge"
	"github.com/agentfront/enclave/config"
	"github.com/agentfront/enclave/errs"
	"github.com/agentfront/enclave/memaccount"
	"github.com/agentfront/enclave/policy"
	"github.com/agentfront/enclave/sanitize"
	"github.com/agentfront/enclave/stats"
)

func newTestInner(t *testing.T, level config.SecurityLevel, maxIterations int64) (*Inner, *ExecutionHooks, *stats.Stats) {
	t.Helper()
	st := stats.New(0)
	acct := memaccount.New(1<<20, st)
	validator := policy.New(config.ParentValidationConfig{})
	handler := func(name string, args map[string]any) (any, error) {
		return map[string]any{"echo": name}, nil
	}
	br := bridge.New(handler)

	in := NewBareInner()
	hooks := &ExecutionHooks{
		Bridge:          br,
		Validator:       validator,
		Sanitize:        in.NewSanitizer(sanitize.Options{MaxDepth: 10, MaxProperties: 100}),
		Stats:           st,
		Accountant:      acct,
		Abort:           func() bool { return false },
		NowMs:           func() int64 { return 0 },
		MaxIterations:   maxIterations,
		MaxToolCalls:    100,
		MaxConsoleCalls: 100,
		MaxConsoleOutputBytes: 1 << 16,
		AllowComposites: true,
	}
	require.NoError(t, in.Instrument(config.ExecutionConfig{SecurityLevel: level, Globals: nil}, acct, hooks, nil))
	return in, hooks, st
}

func TestInner_DangerousGlobalsRemoved(t *testing.T) {
	in, _, _ := newTestInner(t, config.Strict, 1000)
	v, err := in.VM().RunString(`typeof eval`)
	require.NoError(t, err)
	require.Equal(t, "undefined", v.String())

	v, err = in.VM().RunString(`typeof Proxy`)
	require.NoError(t, err)
	require.Equal(t, "undefined", v.String())
}

func TestInner_PrototypesFrozen(t *testing.T) {
	in, _, _ := newTestInner(t, config.Standard, 1000)
	v, err := in.VM().RunString(`Object.isFrozen(Array.prototype)`)
	require.NoError(t, err)
	require.True(t, v.ToBoolean())
}

func TestInner_SafeObjectShadow(t *testing.T) {
	in, _, _ := newTestInner(t, config.Standard, 1000)
	_, err := in.VM().RunString(`Object.defineProperty({}, 'x', {value: 1})`)
	require.Error(t, err)

	v, err := in.VM().RunString(`Object.keys({a: 1, b: 2}).length`)
	require.NoError(t, err)
	require.EqualValues(t, 2, v.ToInteger())
}

func TestGuard_BlocksConstructorAccess(t *testing.T) {
	in := NewBareInner()
	var reported bool
	require.NoError(t, in.Runtime.installGuardFactory(true, func() { reported = true }))

	obj := in.VM().NewObject()
	_ = obj.Set("value", 1)
	guarded, err := in.WrapGuarded(in.VM().ToValue(obj))
	require.NoError(t, err)
	require.NoError(t, in.VM().GlobalObject().Set("guarded", guarded))

	_, err = in.VM().RunString(`guarded.constructor`)
	require.Error(t, err)
	require.True(t, reported)
}

func TestGuard_AllowsPlainPropertyAccess(t *testing.T) {
	in := NewBareInner()
	require.NoError(t, in.Runtime.installGuardFactory(true, nil))

	obj := in.VM().NewObject()
	_ = obj.Set("value", 42)
	guarded, err := in.WrapGuarded(in.VM().ToValue(obj))
	require.NoError(t, err)
	require.NoError(t, in.VM().GlobalObject().Set("guarded", guarded))

	v, err := in.VM().RunString(`guarded.value`)
	require.NoError(t, err)
	require.EqualValues(t, 42, v.ToInteger())

	_, err = in.VM().RunString(`guarded.value = 7`)
	require.Error(t, err)
}

func TestMemoryWrappers_TrackAllocation(t *testing.T) {
	st := stats.New(0)
	acct := memaccount.New(1024, st)
	r := newRuntime()
	require.NoError(t, r.installMemoryWrappers(acct))

	_, err := r.VM().RunString(`"ab".repeat(10)`)
	require.NoError(t, err)
	require.Greater(t, st.MemorySnapshot().TrackedBytes, int64(0))

	_, err = r.VM().RunString(`"x".repeat(1000000)`)
	require.Error(t, err)
}

func TestSealedError_Shape(t *testing.T) {
	r := newRuntime()
	obj := newSealedError(r, string(errs.CodeToolInvocationFailed), "boom")
	require.NoError(t, r.vm.GlobalObject().Set("err", obj))

	v, err := r.vm.RunString(`err.name + ':' + err.message`)
	require.NoError(t, err)
	require.Equal(t, string(errs.CodeToolInvocationFailed)+":boom", v.String())

	_, err = r.vm.RunString(`err.constructor()`)
	require.Error(t, err)

	v, err = r.vm.RunString(`Object.getPrototypeOf(err)`)
	require.NoError(t, err)
	require.True(t, goja.IsNull(v))
}

// TestSealedError_ConstructorChainBlocked walks one step further than
// TestSealedError_Shape: err.constructor (the sealed error's own inert
// constructor) itself still used to have a reachable .constructor,
// resolved via the live, un-severed Function.prototype.constructor -
// the classic err.constructor.constructor("code")() sandbox escape.
func TestSealedError_ConstructorChainBlocked(t *testing.T) {
	st := stats.New(0)
	acct := memaccount.New(1<<20, st)
	validator := policy.New(config.ParentValidationConfig{})
	br := bridge.New(func(string, map[string]any) (any, error) { return nil, nil })

	inner := NewBareInner()
	var reported string
	hooks := &ExecutionHooks{
		Bridge:     br,
		Validator:  validator,
		Sanitize:   inner.NewSanitizer(sanitize.Options{MaxDepth: 10, MaxProperties: 100}),
		Stats:      st,
		Accountant: acct,
		Abort:      func() bool { return false },
		NowMs:      func() int64 { return 0 },
	}
	require.NoError(t, inner.Instrument(config.ExecutionConfig{SecurityLevel: config.Strict}, acct, hooks,
		func(kind string) { reported = kind }))

	obj := newSealedError(inner.Runtime, string(errs.CodeToolInvocationFailed), "boom")
	require.NoError(t, inner.VM().GlobalObject().Set("err", obj))

	_, err := inner.VM().RunString(`err.constructor()`)
	require.Error(t, err, "err.constructor itself still throws its own inert-constructor guard")

	_, err = inner.VM().RunString(`err.constructor.constructor("return 1")`)
	require.Error(t, err, "err.constructor.constructor must not reach live code generation")
	require.Equal(t, "CODE_GENERATION", reported)
}

// TestCodeGenGuard_BlocksPrototypeChainEscape exercises the same escape
// starting from an ordinary guest-declared function rather than a
// sealed error, confirming the guard is installed realm-wide on
// Function.prototype.constructor, not just on error objects.
func TestCodeGenGuard_BlocksPrototypeChainEscape(t *testing.T) {
	st := stats.New(0)
	acct := memaccount.New(1<<20, st)
	validator := policy.New(config.ParentValidationConfig{})
	br := bridge.New(func(string, map[string]any) (any, error) { return nil, nil })

	inner := NewBareInner()
	var reported string
	hooks := &ExecutionHooks{
		Bridge:     br,
		Validator:  validator,
		Sanitize:   inner.NewSanitizer(sanitize.Options{MaxDepth: 10, MaxProperties: 100}),
		Stats:      st,
		Accountant: acct,
		Abort:      func() bool { return false },
		NowMs:      func() int64 { return 0 },
	}
	require.NoError(t, inner.Instrument(config.ExecutionConfig{SecurityLevel: config.Strict}, acct, hooks,
		func(kind string) { reported = kind }))

	_, err := inner.VM().RunString(`(function(){}).constructor("return 1")`)
	require.Error(t, err)
	require.Equal(t, "CODE_GENERATION", reported)

	_, err = inner.VM().RunString(`typeof Function`)
	require.NoError(t, err)
}

func TestBindings_ConcatAndTemplate(t *testing.T) {
	in, _, _ := newTestInner(t, config.Standard, 1000)

	v, err := in.VM().RunString(`concat(1, 2)`)
	require.NoError(t, err)
	require.EqualValues(t, 3, v.ToInteger())

	v, err = in.VM().RunString(`concat("foo", "bar")`)
	require.NoError(t, err)
	require.Equal(t, "foobar", v.String())

	v, err = in.VM().RunString(`template(["hello ", "!"], "world")`)
	require.NoError(t, err)
	require.Equal(t, "hello world!", v.String())
}

func TestBindings_CompositeHandleOnReference(t *testing.T) {
	in, hooks, _ := newTestInner(t, config.Standard, 1000)
	_ = hooks

	require.NoError(t, in.VM().GlobalObject().Set("ref", bridge.NewReferenceHandle()))

	v, err := in.VM().RunString(`concat(ref, "-suffix")`)
	require.NoError(t, err)
	obj := v.ToObject(in.VM())
	require.Equal(t, "composite", obj.Get("kind").String())
	require.Equal(t, "concat", obj.Get("op").String())
}

func TestBindings_LoopDriversEnforceIterationLimit(t *testing.T) {
	in, _, _ := newTestInner(t, config.Standard, 3)

	_ = in.VM().GlobalObject().Set("count", 0)
	_, err := in.VM().RunString(`while(function(){ return true; }, function(){ count = count + 1; })`)
	require.Error(t, err)
	// The sealed error is a plain JS object carried by the *goja.Exception.
	var exc *goja.Exception
	require.ErrorAs(t, err, &exc)
	code := engineErrorFromRejection(exc.Value()).Code
	require.Equal(t, errs.CodeIterationLimitExceeded, code)
}

func TestBindings_LoopDriversIterationLimitZero(t *testing.T) {
	in, _, _ := newTestInner(t, config.Standard, 0)

	_, err := in.VM().RunString(`while(function(){ return true; }, function(){})`)
	require.Error(t, err)
	var exc *goja.Exception
	require.ErrorAs(t, err, &exc)
	code := engineErrorFromRejection(exc.Value()).Code
	require.Equal(t, errs.CodeIterationLimitExceeded, code)
}

func TestBindings_CallToolLimitZero(t *testing.T) {
	st := stats.New(0)
	acct := memaccount.New(1<<20, st)
	validator := policy.New(config.ParentValidationConfig{})
	br := bridge.New(func(string, map[string]any) (any, error) { return nil, nil })

	in := NewBareInner()
	hooks := &ExecutionHooks{
		Bridge:       br,
		Validator:    validator,
		Sanitize:     in.NewSanitizer(sanitize.Options{MaxDepth: 10, MaxProperties: 100}),
		Stats:        st,
		Accountant:   acct,
		Abort:        func() bool { return false },
		NowMs:        func() int64 { return 0 },
		MaxToolCalls: 0,
	}
	require.NoError(t, in.Instrument(config.ExecutionConfig{SecurityLevel: config.Standard}, acct, hooks, nil))

	result, err := in.Run(`async function __ag_main() { return await callTool("noop", {}); } __ag_main;`)
	require.Error(t, err)
	require.Nil(t, result)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeToolCallLimitExceeded, code)
}

func TestBindings_ForOfPollsAbort(t *testing.T) {
	aborted := false
	st := stats.New(0)
	acct := memaccount.New(1<<20, st)
	validator := policy.New(config.ParentValidationConfig{})
	br := bridge.New(func(string, map[string]any) (any, error) { return nil, nil })

	in := NewBareInner()
	hooks := &ExecutionHooks{
		Bridge:     br,
		Validator:  validator,
		Sanitize:   in.NewSanitizer(sanitize.Options{MaxDepth: 10, MaxProperties: 100}),
		Stats:      st,
		Accountant: acct,
		Abort:      func() bool { return aborted },
		NowMs:      func() int64 { return 0 },
		MaxIterations: 1000,
	}
	require.NoError(t, in.Instrument(config.ExecutionConfig{SecurityLevel: config.Standard}, acct, hooks, nil))

	_, err := in.VM().RunString(`
		var it = forOf([1,2,3,4,5]);
		var out = [];
		var step = it.next();
		out.push(step.value);
		step = it.next();
		out.push(step.value);
		out;
	`)
	require.NoError(t, err)

	aborted = true
	_, err = in.VM().RunString(`it.next()`)
	require.Error(t, err)
	var exc *goja.Exception
	require.ErrorAs(t, err, &exc)
	code := engineErrorFromRejection(exc.Value()).Code
	require.Equal(t, errs.CodeExecutionAborted, code)
}

func TestBindings_ConsoleLimits(t *testing.T) {
	st := stats.New(0)
	acct := memaccount.New(1<<20, st)
	validator := policy.New(config.ParentValidationConfig{})
	br := bridge.New(func(string, map[string]any) (any, error) { return nil, nil })

	in := NewBareInner()
	hooks := &ExecutionHooks{
		Bridge:          br,
		Validator:       validator,
		Sanitize:        in.NewSanitizer(sanitize.Options{MaxDepth: 10, MaxProperties: 100}),
		Stats:           st,
		Accountant:      acct,
		Abort:           func() bool { return false },
		NowMs:           func() int64 { return 0 },
		MaxConsoleCalls: 2,
	}
	require.NoError(t, in.Instrument(config.ExecutionConfig{SecurityLevel: config.Standard}, acct, hooks, nil))

	_, err := in.VM().RunString(`console.log("one"); console.log("two")`)
	require.NoError(t, err)

	_, err = in.VM().RunString(`console.log("three")`)
	require.Error(t, err)
	var exc *goja.Exception
	require.ErrorAs(t, err, &exc)
	code := engineErrorFromRejection(exc.Value()).Code
	require.Equal(t, errs.CodeConsoleLimitExceeded, code)
}

func TestInner_RunReturnsEntryPointValue(t *testing.T) {
	in, _, _ := newTestInner(t, config.Standard, 1000)
	result, err := in.Run(`async function __ag_main() { return 1 + 1; } __ag_main;`)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.ToInteger())
}

func TestOuter_ViolationSideChannel(t *testing.T) {
	outer := NewOuter()
	violated, _ := outer.Violation()
	require.False(t, violated)

	outer.reportViolation("SECURITY_VIOLATION")
	violated, kind := outer.Violation()
	require.True(t, violated)
	require.Equal(t, "SECURITY_VIOLATION", kind)
}

func TestOuter_ExecuteWith_HappyPath(t *testing.T) {
	st := stats.New(0)
	acct := memaccount.New(1<<20, st)
	validator := policy.New(config.ParentValidationConfig{})
	br := bridge.New(func(name string, args map[string]any) (any, error) {
		a := args["a"].(float64)
		b := args["b"].(float64)
		return a + b, nil
	})

	outer := NewOuter()
	inner := NewBareInner()
	deps := OuterDeps{
		Config:     config.ExecutionConfig{SecurityLevel: config.Standard, MaxToolCalls: 10},
		Accountant: acct,
		Validator:  validator,
		Bridge:     br,
		Stats:      st,
		Abort:      func() bool { return false },
		NowMs:      func() int64 { return 0 },
	}

	value, err := outer.ExecuteWith(deps, inner, `
		async function __ag_main() {
			var r = await callTool("add", {a: 3, b: 4});
			return r;
		}
		__ag_main;
	`)
	require.NoError(t, err)
	require.EqualValues(t, 7, value.ToInteger())
	require.EqualValues(t, 1, st.ToolCallCount())
}
