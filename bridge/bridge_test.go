package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfront/enclave/errs"
)

func TestCloneArgsViaJSON(t *testing.T) {
	args := map[string]any{"a": float64(1), "b": "x"}
	cloned, err := CloneArgsViaJSON(args)
	require.NoError(t, err)
	require.Equal(t, args, cloned)
}

func TestReferenceHandle_RoundTrip(t *testing.T) {
	h := NewReferenceHandle()
	require.True(t, IsReferenceHandle(h))
	require.False(t, IsReferenceHandle("not-a-handle"))
	require.False(t, IsReferenceHandle("__REF_short__"))
}

func TestBridge_ResolveReference(t *testing.T) {
	sc := NewInMemorySidecar()
	handle := NewReferenceHandle()
	sc.Store(handle, "the big payload")

	b := New(func(name string, args map[string]any) (any, error) {
		require.Equal(t, "the big payload", args["payload"])
		return "ok", nil
	}, WithSidecar(sc), WithMaxInboundRefBytes(1024))

	v, err := b.Invoke("next", map[string]any{"payload": handle})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestBridge_ExtractionThreshold(t *testing.T) {
	sc := NewInMemorySidecar()
	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}

	b := New(func(name string, args map[string]any) (any, error) {
		return string(big), nil
	}, WithSidecar(sc), WithExtractionThreshold(50))

	v, err := b.Invoke("fetch", map[string]any{})
	require.NoError(t, err)
	handle, ok := v.(string)
	require.True(t, ok)
	require.True(t, IsReferenceHandle(handle))

	stored, ok := sc.Fetch(handle)
	require.True(t, ok)
	require.Equal(t, string(big), stored)
}

func TestBridge_HandlerError(t *testing.T) {
	b := New(func(name string, args map[string]any) (any, error) {
		return nil, errors.New("handler blew up")
	})

	_, err := b.Invoke("x", map[string]any{})
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeToolInvocationFailed, code)
}

func TestBridge_NilArgsRejected(t *testing.T) {
	b := New(func(name string, args map[string]any) (any, error) {
		return nil, nil
	})
	_, err := b.Invoke("x", nil)
	require.Error(t, err)
	code, _ := errs.CodeOf(err)
	require.Equal(t, errs.CodeBadArguments, code)
}

func TestBridge_ReferenceSizeExceeded(t *testing.T) {
	sc := NewInMemorySidecar()
	handle := NewReferenceHandle()
	big := make([]byte, 2000)
	sc.Store(handle, string(big))

	b := New(func(name string, args map[string]any) (any, error) {
		return "unreached", nil
	}, WithSidecar(sc), WithMaxInboundRefBytes(100))

	_, err := b.Invoke("next", map[string]any{"payload": handle})
	require.Error(t, err)
	code, _ := errs.CodeOf(err)
	require.Equal(t, errs.CodeReferenceSizeExceeded, code)
}

func TestEnvelope_EncodeDecode(t *testing.T) {
	s, err := EncodeEnvelope("db:listUsers", map[string]any{"limit": 10}, 0)
	require.NoError(t, err)
	require.Contains(t, s, `"v":1`)

	res, err := DecodeResultEnvelope(`{"v":1,"ok":true,"value":"done"}`)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "done", res.Value)
}

func TestEnvelope_PayloadTooLarge(t *testing.T) {
	args := map[string]any{"x": string(make([]byte, 1000))}
	_, err := EncodeEnvelope("t", args, 10)
	require.Error(t, err)
}
