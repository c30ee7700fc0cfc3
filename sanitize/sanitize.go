// Package sanitize implements the safe-value sanitizer: it converts a
// goja.Value crossing the host/guest trust boundary into a tree of
// primitives, plain maps, and slices — rejecting callables and symbols,
// flattening errors, normalizing dates and regexes, and collapsing
// cycles. See spec.md §4.6.
package sanitize

import (
	"strconv"

	"github.com/dop251/goja"

	"github.com/agentfront/enclave/errs"
)

// blockedObjectKeys are skipped when walking a plain object's own
// enumerable properties, per spec.md §4.6 ("skip __proto__ and
// constructor"). This is intentionally a smaller set than the guarded
// return-value view's blocklist (vmrealm.BlockedPropertyNames): the
// sanitizer only needs to stop prototype-pollution-shaped keys from
// entering the sanitized tree, not every reflection method name.
var blockedObjectKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
}

// Options configures a Sanitizer.
type Options struct {
	MaxDepth      int
	MaxProperties int
	// DisallowDates, when true, normalizes Date values to an ISO-8601
	// string instead of cloning to an equal-instant marker value.
	DisallowDates bool
}

// Sanitizer sanitizes goja.Value trees produced by a single
// *goja.Runtime. It is not safe for concurrent use (mirrors the
// single-threaded nature of the realm it sanitizes values from).
type Sanitizer struct {
	rt   *goja.Runtime
	opts Options
}

func New(rt *goja.Runtime, opts Options) *Sanitizer {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 20
	}
	if opts.MaxProperties <= 0 {
		opts.MaxProperties = 10000
	}
	return &Sanitizer{rt: rt, opts: opts}
}

// DateValue clones to an equal-instant marker: a struct carrying the RFC
//3339 representation, so a re-sanitize (sanitize(sanitize(v))) is
// idempotent in shape (spec.md §8 invariant 5) — the second pass sees
// a plain record, not a goja Date, and passes it through unchanged.
type DateValue struct {
	ISO string `json:"__date__"`
}

// ErrorValue is the flattened form of a guest/host Error.
type ErrorValue struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Sanitize walks v and returns its sanitized Go-native form.
func (s *Sanitizer) Sanitize(v goja.Value) (any, error) {
	propCount := 0
	return s.walk(v, 1, &propCount, map[*goja.Object]struct{}{})
}

func (s *Sanitizer) walk(v goja.Value, depth int, propCount *int, ancestors map[*goja.Object]struct{}) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	if _, isSymbol := v.(*goja.Symbol); isSymbol {
		return nil, errs.New(errs.CodeSymbolReturned, "guest value contains a symbol, which cannot cross the trust boundary")
	}

	if _, ok := goja.AssertFunction(v); ok {
		return nil, errs.New(errs.CodeFunctionReturned, "guest value contains a function, which cannot cross the trust boundary")
	}

	obj, isObject := v.(*goja.Object)
	if !isObject {
		// Primitive: string, number, boolean, bigint.
		return v.Export(), nil
	}

	// Only objects count as nesting levels; primitive leaves do not.
	if depth > s.opts.MaxDepth {
		return nil, errs.Newf(errs.CodeSanitizeDepthExceeded, "value nesting exceeds max_sanitize_depth (%d)", s.opts.MaxDepth)
	}

	if _, seen := ancestors[obj]; seen {
		return "[Circular]", nil
	}

	switch obj.ClassName() {
	case "Date":
		return s.sanitizeDate(obj)
	case "RegExp":
		return v.ToString().String(), nil
	case "Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError", "EvalError", "URIError":
		return s.sanitizeError(obj), nil
	case "Map":
		return s.sanitizeMap(obj, depth, propCount, ancestors)
	case "Set":
		return s.sanitizeSet(obj, depth, propCount, ancestors)
	case "Array":
		return s.sanitizeArray(obj, depth, propCount, ancestors)
	default:
		return s.sanitizeObject(obj, depth, propCount, ancestors)
	}
}

func (s *Sanitizer) sanitizeDate(obj *goja.Object) (any, error) {
	if t, ok := obj.Export().(interface{ Format(string) string }); ok {
		iso := t.Format("2006-01-02T15:04:05.000Z07:00")
		if s.opts.DisallowDates {
			return iso, nil
		}
		return DateValue{ISO: iso}, nil
	}
	// Fallback: call toISOString() directly, in case the runtime's
	// Export() representation of Date ever changes shape.
	if fn, ok := goja.AssertFunction(obj.Get("toISOString")); ok {
		res, err := fn(obj)
		if err == nil {
			if s.opts.DisallowDates {
				return res.String(), nil
			}
			return DateValue{ISO: res.String()}, nil
		}
	}
	return DateValue{}, nil
}

func (s *Sanitizer) sanitizeError(obj *goja.Object) ErrorValue {
	name := "Error"
	if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
		name = n.String()
	}
	message := ""
	if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
		message = m.String()
	}
	return ErrorValue{Name: name, Message: message}
}

func (s *Sanitizer) sanitizeArray(obj *goja.Object, depth int, propCount *int, ancestors map[*goja.Object]struct{}) (any, error) {
	length := int(obj.Get("length").ToInteger())
	out := make([]any, 0, length)

	ancestors[obj] = struct{}{}
	defer delete(ancestors, obj)

	for i := 0; i < length; i++ {
		*propCount++
		if *propCount > s.opts.MaxProperties {
			return nil, errs.Newf(errs.CodeSanitizePropertiesExceeded, "value exceeds max_sanitize_properties (%d)", s.opts.MaxProperties)
		}
		elem, err := s.getSafe(obj, strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		sanitized, err := s.walk(elem, depth+1, propCount, ancestors)
		if err != nil {
			return nil, err
		}
		out = append(out, sanitized)
	}
	return out, nil
}

func (s *Sanitizer) sanitizeObject(obj *goja.Object, depth int, propCount *int, ancestors map[*goja.Object]struct{}) (any, error) {
	ancestors[obj] = struct{}{}
	defer delete(ancestors, obj)

	out := make(map[string]any)
	for _, key := range obj.Keys() {
		if blockedObjectKeys[key] {
			continue
		}
		*propCount++
		if *propCount > s.opts.MaxProperties {
			return nil, errs.Newf(errs.CodeSanitizePropertiesExceeded, "value exceeds max_sanitize_properties (%d)", s.opts.MaxProperties)
		}
		val, err := s.getSafe(obj, key)
		if err != nil {
			return nil, err
		}
		if val == nil {
			// Accessor threw on read: skip silently per spec.md §4.6.
			continue
		}
		sanitized, err := s.walk(val, depth+1, propCount, ancestors)
		if err != nil {
			return nil, err
		}
		out[key] = sanitized
	}
	return out, nil
}

func (s *Sanitizer) sanitizeMap(obj *goja.Object, depth int, propCount *int, ancestors map[*goja.Object]struct{}) (any, error) {
	out := make(map[string]any)
	forEach, ok := goja.AssertFunction(obj.Get("forEach"))
	if !ok {
		return out, nil
	}
	var walkErr error
	cb := s.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		if walkErr != nil {
			return goja.Undefined()
		}
		value := call.Argument(0)
		key := call.Argument(1)
		keyStr := key.String()
		if blockedObjectKeys[keyStr] {
			return goja.Undefined()
		}
		*propCount++
		if *propCount > s.opts.MaxProperties {
			walkErr = errs.Newf(errs.CodeSanitizePropertiesExceeded, "value exceeds max_sanitize_properties (%d)", s.opts.MaxProperties)
			return goja.Undefined()
		}
		sanitized, err := s.walk(value, depth+1, propCount, ancestors)
		if err != nil {
			walkErr = err
			return goja.Undefined()
		}
		out[keyStr] = sanitized
		return goja.Undefined()
	})
	if _, err := forEach(obj, cb); err != nil {
		return nil, errs.Wrap(errs.CodeDoubleVMExecutionError, "error iterating Map during sanitization", err)
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func (s *Sanitizer) sanitizeSet(obj *goja.Object, depth int, propCount *int, ancestors map[*goja.Object]struct{}) (any, error) {
	out := make([]any, 0)
	forEach, ok := goja.AssertFunction(obj.Get("forEach"))
	if !ok {
		return out, nil
	}
	var walkErr error
	cb := s.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		if walkErr != nil {
			return goja.Undefined()
		}
		value := call.Argument(0)
		*propCount++
		if *propCount > s.opts.MaxProperties {
			walkErr = errs.Newf(errs.CodeSanitizePropertiesExceeded, "value exceeds max_sanitize_properties (%d)", s.opts.MaxProperties)
			return goja.Undefined()
		}
		sanitized, err := s.walk(value, depth+1, propCount, ancestors)
		if err != nil {
			walkErr = err
			return goja.Undefined()
		}
		out = append(out, sanitized)
		return goja.Undefined()
	})
	if _, err := forEach(obj, cb); err != nil {
		return nil, errs.Wrap(errs.CodeDoubleVMExecutionError, "error iterating Set during sanitization", err)
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// getSafe reads obj[key], recovering from a panicking accessor (goja
// surfaces a thrown getter as a Go panic carrying a *goja.Exception)
// and treating that as "skip this property" per spec.md §4.6.
func (s *Sanitizer) getSafe(obj *goja.Object, key string) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, nil
		}
	}()
	return obj.Get(key), nil
}
