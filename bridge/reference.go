package bridge

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// referencePattern matches an opaque sidecar reference handle: spec.md
// §4.4/GLOSSARY's "__REF_<uuid-v4>__", case-insensitive.
var referencePattern = regexp.MustCompile(`^__REF_[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}__$`)

// IsReferenceHandle reports whether s is shaped like a reference
// handle produced by NewReferenceHandle.
func IsReferenceHandle(s string) bool {
	return referencePattern.MatchString(s)
}

// NewReferenceHandle mints a fresh opaque handle for a lifted value.
func NewReferenceHandle() string {
	return fmt.Sprintf("__REF_%s__", uuid.NewString())
}

// CompositeHandle is the structured value produced when guest code
// composes reference handles via concat/template while
// allow_composites is enabled. It is never itself resolved back into
// a sidecar value implicitly: a composite is a distinct, auditable
// shape the host tool handler must know how to consume.
type CompositeHandle struct {
	Kind  string   `json:"kind"`
	Op    string   `json:"op"`
	Parts []string `json:"parts"`
}

func NewCompositeHandle(op string, parts ...string) CompositeHandle {
	return CompositeHandle{Kind: "composite", Op: op, Parts: append([]string(nil), parts...)}
}
