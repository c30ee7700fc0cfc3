package sanitize

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"

	"github.com/agentfront/enclave/errs"
)

func mustRun(t *testing.T, rt *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := rt.RunString(src)
	require.NoError(t, err)
	return v
}

func TestSanitize_Primitives(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	v, err := s.Sanitize(mustRun(t, rt, `42`))
	require.NoError(t, err)
	require.EqualValues(t, 42, v)

	v, err = s.Sanitize(mustRun(t, rt, `"hello"`))
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	v, err = s.Sanitize(mustRun(t, rt, `null`))
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = s.Sanitize(mustRun(t, rt, `undefined`))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSanitize_FunctionRejected(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	_, err := s.Sanitize(mustRun(t, rt, `(function(){})`))
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeFunctionReturned, code)
}

func TestSanitize_SymbolRejected(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	_, err := s.Sanitize(mustRun(t, rt, `Symbol("x")`))
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeSymbolReturned, code)
}

func TestSanitize_ErrorFlattened(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	v, err := s.Sanitize(mustRun(t, rt, `new TypeError("boom")`))
	require.NoError(t, err)
	ev, ok := v.(ErrorValue)
	require.True(t, ok)
	require.Equal(t, "TypeError", ev.Name)
	require.Equal(t, "boom", ev.Message)
}

func TestSanitize_Cycle(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 30, MaxProperties: 1000})

	v, err := s.Sanitize(mustRun(t, rt, `(function(){ var o = {a:1}; o.self = o; return o; })()`))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, m["a"])
	require.Equal(t, "[Circular]", m["self"])
}

func TestSanitize_ProtoAndConstructorSkipped(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	v, err := s.Sanitize(mustRun(t, rt, `({a: 1, constructor: "x"})`))
	require.NoError(t, err)
	m := v.(map[string]any)
	_, present := m["constructor"]
	require.False(t, present)
	require.EqualValues(t, 1, m["a"])
}

func TestSanitize_DepthLimit(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 2, MaxProperties: 1000})

	// depth 1 (root) -> depth 2 (nested) succeeds.
	_, err := s.Sanitize(mustRun(t, rt, `({a: {b: 1}})`))
	require.NoError(t, err)

	// depth 1 -> 2 -> 3 exceeds MaxDepth=2.
	_, err = s.Sanitize(mustRun(t, rt, `({a: {b: {c: 1}}})`))
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeSanitizeDepthExceeded, code)
}

func TestSanitize_PropertiesLimit(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 3})

	_, err := s.Sanitize(mustRun(t, rt, `({a:1,b:2,c:3,d:4})`))
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeSanitizePropertiesExceeded, code)
}

func TestSanitize_RegexpToSource(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	v, err := s.Sanitize(mustRun(t, rt, `/abc/gi`))
	require.NoError(t, err)
	require.Equal(t, "/abc/gi", v)
}

func TestSanitize_SetToArray(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	v, err := s.Sanitize(mustRun(t, rt, `new Set([1,2,3])`))
	require.NoError(t, err)
	arr, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, arr, 3)
}

func TestSanitize_MapToRecord(t *testing.T) {
	rt := goja.New()
	s := New(rt, Options{MaxDepth: 10, MaxProperties: 100})

	v, err := s.Sanitize(mustRun(t, rt, `new Map([["a",1],["b",2]])`))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, m["a"])
	require.EqualValues(t, 2, m["b"])
}

func TestEstimateSerializedSize_Monotone(t *testing.T) {
	small := EstimateSerializedSize(map[string]any{"a": "x"})
	large := EstimateSerializedSize(map[string]any{"a": "xxxxxxxxxx"})
	require.Greater(t, large, small)
}
