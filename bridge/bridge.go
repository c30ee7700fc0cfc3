// Package bridge implements the tool bridge: the JSON-envelope and
// direct-mode transport that shuttles calls between the inner realm's
// callTool and the host tool handler, plus reference-handle resolution
// and sidecar lifting of oversized results. See spec.md §4.4.
package bridge

import (
	json "github.com/goccy/go-json"

	"github.com/agentfront/enclave/errs"
)

// MaxCompositeParts caps the parts slice of a CompositeHandle, so a
// chain of concat/template calls cannot build a handle whose eventual
// resolution would blow host memory once the host tool handler
// actually dereferences every part.
const MaxCompositeParts = 64

// ToolHandler is the host-supplied async tool implementation.
type ToolHandler func(name string, args map[string]any) (any, error)

// Bridge wires a ToolHandler to a Sidecar, a sanitizer-shaped hook, and
// byte-size limits. It is constructed once per execution.
type Bridge struct {
	handler             ToolHandler
	sidecar             Sidecar
	sanitize            func(v any) (any, error)
	maxPayloadBytes     int64
	maxInboundRefBytes  int64
	extractionThreshold int64
}

// Option configures a Bridge at construction time.
type Option interface{ apply(*Bridge) }

type optionFunc func(*Bridge)

func (f optionFunc) apply(b *Bridge) { f(b) }

func WithSidecar(s Sidecar) Option {
	return optionFunc(func(b *Bridge) { b.sidecar = s })
}

func WithSanitize(fn func(v any) (any, error)) Option {
	return optionFunc(func(b *Bridge) { b.sanitize = fn })
}

func WithMaxPayloadBytes(n int64) Option {
	return optionFunc(func(b *Bridge) { b.maxPayloadBytes = n })
}

func WithMaxInboundRefBytes(n int64) Option {
	return optionFunc(func(b *Bridge) { b.maxInboundRefBytes = n })
}

func WithExtractionThreshold(n int64) Option {
	return optionFunc(func(b *Bridge) { b.extractionThreshold = n })
}

// New builds a Bridge. handler must not be nil.
func New(handler ToolHandler, opts ...Option) *Bridge {
	b := &Bridge{
		handler:             handler,
		sidecar:             NewInMemorySidecar(),
		sanitize:            func(v any) (any, error) { return v, nil },
		maxPayloadBytes:     4 * 1024 * 1024,
		maxInboundRefBytes:  64 * 1024 * 1024,
		extractionThreshold: 64 * 1024,
	}
	for _, o := range opts {
		o.apply(b)
	}
	return b
}

// CloneArgsViaJSON deep-clones args via a JSON round trip, as defense
// against accessor traps and exotic objects reaching the host handler.
func CloneArgsViaJSON(args map[string]any) (map[string]any, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, errs.Wrap(errs.CodeBadArguments, "tool call arguments could not be serialized", err)
	}
	var cloned map[string]any
	if err := json.Unmarshal(b, &cloned); err != nil {
		return nil, errs.Wrap(errs.CodeBadArguments, "tool call arguments could not be round-tripped", err)
	}
	return cloned, nil
}

// Invoke resolves reference handles in args, calls the host handler,
// sanitizes the result, and lifts an oversized string result to the
// sidecar. name and args are assumed already policy-validated by the
// caller.
func (b *Bridge) Invoke(name string, args map[string]any) (any, error) {
	resolved, err := b.resolveReferences(args)
	if err != nil {
		return nil, err
	}

	value, err := b.handler(name, resolved)
	if err != nil {
		return nil, errs.Wrap(errs.CodeToolInvocationFailed, err.Error(), err)
	}

	sanitized, err := b.sanitize(value)
	if err != nil {
		return nil, err
	}

	if s, ok := sanitized.(string); ok && int64(len(s)) >= b.extractionThreshold && b.extractionThreshold > 0 {
		handle := NewReferenceHandle()
		b.sidecar.Store(handle, s)
		return handle, nil
	}

	return sanitized, nil
}

// resolveReferences walks args and replaces any reference-handle
// string with its stored sidecar value, enforcing an inbound size cap
// before performing the substitution.
func (b *Bridge) resolveReferences(args map[string]any) (map[string]any, error) {
	if args == nil {
		return nil, errs.New(errs.CodeBadArguments, "tool call arguments must be a non-null record")
	}

	var totalResolved int64
	out := make(map[string]any, len(args))
	for k, v := range args {
		resolved, size, err := b.resolveValue(v)
		if err != nil {
			return nil, err
		}
		totalResolved += size
		if b.maxInboundRefBytes > 0 && totalResolved > b.maxInboundRefBytes {
			return nil, errs.Newf(errs.CodeReferenceSizeExceeded,
				"resolved argument size of %d bytes exceeds the inbound reference size limit (%d)", totalResolved, b.maxInboundRefBytes)
		}
		out[k] = resolved
	}
	return out, nil
}

func (b *Bridge) resolveValue(v any) (resolved any, size int64, err error) {
	switch x := v.(type) {
	case string:
		if IsReferenceHandle(x) {
			stored, ok := b.sidecar.Fetch(x)
			if !ok {
				return nil, 0, errs.Newf(errs.CodeBadArguments, "reference handle %q does not resolve to a stored value", x)
			}
			return stored, estimatedSize(stored), nil
		}
		return x, int64(len(x)), nil
	case map[string]any:
		out := make(map[string]any, len(x))
		var sub int64
		for k, val := range x {
			rv, sz, err := b.resolveValue(val)
			if err != nil {
				return nil, 0, err
			}
			out[k] = rv
			sub += sz
		}
		return out, sub, nil
	case []any:
		out := make([]any, len(x))
		var sub int64
		for i, val := range x {
			rv, sz, err := b.resolveValue(val)
			if err != nil {
				return nil, 0, err
			}
			out[i] = rv
			sub += sz
		}
		return out, sub, nil
	default:
		return v, 16, nil
	}
}

func estimatedSize(v any) int64 {
	switch x := v.(type) {
	case string:
		return int64(len(x))
	case map[string]any:
		var sum int64
		for _, val := range x {
			sum += estimatedSize(val)
		}
		return sum
	case []any:
		var sum int64
		for _, val := range x {
			sum += estimatedSize(val)
		}
		return sum
	default:
		return 16
	}
}
