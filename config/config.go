// Package config defines the per-execution configuration surface:
// SecurityLevel, ExecutionConfig, and ParentValidationConfig, plus their
// validation and clamping into a Resolved view.
package config

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// SecurityLevel controls which intrinsics are stripped from the inner
// realm, whether policy violations escalate to fatal SECURITY_VIOLATION
// errors, and the default of ThrowOnBlocked.
type SecurityLevel string

const (
	Strict     SecurityLevel = "STRICT"
	Secure     SecurityLevel = "SECURE"
	Standard   SecurityLevel = "STANDARD"
	Permissive SecurityLevel = "PERMISSIVE"
)

func (l SecurityLevel) valid() bool {
	switch l {
	case Strict, Secure, Standard, Permissive:
		return true
	}
	return false
}

// Escalates reports whether a recorded policy/code-gen violation should
// convert an otherwise-successful outcome into SECURITY_VIOLATION.
func (l SecurityLevel) Escalates() bool {
	return l == Strict || l == Secure
}

// DefaultThrowOnBlocked is the per-level default for whether a guarded
// view throws on blocked property access (vs. silently yielding
// undefined).
func (l SecurityLevel) DefaultThrowOnBlocked() bool {
	return l == Strict || l == Secure || l == Standard
}

// ToolBridgeConfig configures the guest<->host tool call transport.
type ToolBridgeConfig struct {
	// Mode is "string" or "direct". Both values are accepted by Validate,
	// but the callTool path forwards every call straight to
	// bridge.Bridge.Invoke in either mode: it builds no JSON envelope
	// (bridge.EncodeEnvelope is not used there), and MaxPayloadBytes is
	// not enforced on tool-call arguments or results.
	Mode           string `validate:"omitempty,oneof=string direct"`
	MaxPayloadBytes int64  `validate:"omitempty,min=1"`
}

// DoubleVMConfig controls the outer-realm watchdog buffer layered on
// top of the inner realm's own timeout.
type DoubleVMConfig struct {
	Enabled               bool
	ParentTimeoutBufferMs int64 `validate:"omitempty,min=0"`
	ParentValidation      *ParentValidationConfig
}

// ParentValidationConfig configures the policy validator that runs in
// the gatekeeper (outer) realm, ahead of every tool call.
type ParentValidationConfig struct {
	ValidateOperationNames   bool
	AllowedPattern           *regexp.Regexp
	BlockedPatterns          []*regexp.Regexp
	MaxOperationsPerSecond   int `validate:"omitempty,min=1"`
	BlockSuspiciousSequences bool
	SuspiciousPatterns       []SuspiciousPattern
	// RapidEnumerationThreshold defaults to 10 (see DefaultRapidEnumerationThreshold).
	RapidEnumerationThreshold int `validate:"omitempty,min=1"`
}

// DefaultRapidEnumerationThreshold is spec.md's default for the
// RAPID_ENUMERATION detector: more than this many identical operation
// names within a 5s window is suspicious.
const DefaultRapidEnumerationThreshold = 10

// SuspiciousPattern is a single, pure, side-effect-free detector over
// an accepted tool-call name, its sanitized arguments, and the bounded
// operation history. Detect must not panic in normal use; the policy
// validator recovers from panics and treats them as a non-match
// (fail-open per detector, never fail-closed on a buggy detector).
type SuspiciousPattern struct {
	ID          string
	Description string
	Detect      func(operationName string, args map[string]any, history HistoryView) bool
	// SourceText is optional. It is only relevant to a detector whose
	// logic must also be spliced, as text, into the gatekeeper realm's
	// generated bootstrap; a plain Go-native Detect closure leaves this
	// empty and is exempt from the source-text hardening check (see
	// policy.ValidateDetectorSourceText).
	SourceText string
}

// HistoryView is the read-only slice of operation history a detector
// may inspect. Concretely satisfied by *policy.History; defined here
// (rather than imported from package policy) so package policy can
// depend on package config without a cycle.
type HistoryView interface {
	// Now returns the validator-call timestamp (ms) detectors should
	// treat as "now" when computing recency windows.
	Now() int64
	// Recent returns entries with age <= withinMs of Now().
	Recent(withinMs int64) []HistoryEntry
	// CountName returns how many entries have the given operation name
	// and age <= withinMs of Now().
	CountName(name string, withinMs int64) int
}

// HistoryEntry is one accepted tool call, as retained for pattern
// detection and rate limiting.
type HistoryEntry struct {
	OperationName string
	TimestampMs   int64
	ArgKeys       []string
}

// ExecutionConfig is the immutable set of options passed in for a
// single execution.
type ExecutionConfig struct {
	TimeoutMs             int64             `validate:"min=1"`
	MaxIterations         int64             `validate:"min=0"`
	MaxToolCalls          int64             `validate:"min=0"`
	MemoryLimitBytes      int64             `validate:"min=0"` // 0 = unlimited
	MaxConsoleCalls       int64             `validate:"min=0"`
	MaxConsoleOutputBytes int64             `validate:"min=0"`
	MaxSanitizeDepth      int               `validate:"omitempty,min=1"`
	MaxSanitizeProperties int               `validate:"omitempty,min=1"`
	SanitizeStackTraces   bool
	SecurityLevel         SecurityLevel
	Globals               map[string]any
	ToolBridge            ToolBridgeConfig
	DoubleVM              DoubleVMConfig
	AllowComposites       bool
}

var validate = validator.New()

// Validate checks struct-level invariants (bounds, enums). It does not
// clamp; use Resolve to obtain the clamped, defaulted view the engine
// actually runs with.
func (c *ExecutionConfig) Validate() error {
	if !c.SecurityLevel.valid() {
		return fmt.Errorf("config: invalid security level %q", c.SecurityLevel)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(&c.ToolBridge); err != nil {
		return fmt.Errorf("config: tool_bridge: %w", err)
	}
	if err := validate.Struct(&c.DoubleVM); err != nil {
		return fmt.Errorf("config: double_vm: %w", err)
	}
	if c.DoubleVM.ParentValidation != nil {
		if err := validate.Struct(c.DoubleVM.ParentValidation); err != nil {
			return fmt.Errorf("config: double_vm.parent_validation: %w", err)
		}
	}
	return nil
}
