package policy

import (
	"github.com/agentfront/enclave/config"
	"github.com/agentfront/enclave/errs"
)

// rateLimitWindowMs is the rate-limit step's sliding window, per
// spec.md §4.3 step 2 ("count entries within the last 1000 ms").
const rateLimitWindowMs = 1000

// Validator runs spec.md §4.3's algorithm against a single execution's
// operation history, ahead of every tool call.
type Validator struct {
	cfg      config.ParentValidationConfig
	history  *History
	patterns []config.SuspiciousPattern
}

// New builds a Validator with an empty history; the history's Now() is
// set by each Validate call from its nowMs argument.
func New(cfg config.ParentValidationConfig) *Validator {
	v := &Validator{
		cfg:     cfg,
		history: NewHistory(),
	}

	threshold := cfg.RapidEnumerationThreshold
	if threshold <= 0 {
		threshold = config.DefaultRapidEnumerationThreshold
	}
	v.patterns = append(append([]config.SuspiciousPattern(nil), DefaultPatterns(threshold)...), cfg.SuspiciousPatterns...)

	return v
}

// History exposes the underlying history, e.g. for stats reporting.
func (v *Validator) History() *History { return v.history }

// PatternInfo is the read-only description of one registered suspicious
// pattern detector, for host-side audit logging.
type PatternInfo struct {
	ID          string
	Description string
}

// Describe lists the active suspicious-pattern detectors in evaluation
// order (built-ins first, then any host-supplied patterns). Detector
// closures themselves stay opaque; only their id/description are
// exposed, so this never leaks the detection logic itself.
func (v *Validator) Describe() []PatternInfo {
	out := make([]PatternInfo, len(v.patterns))
	for i, p := range v.patterns {
		out[i] = PatternInfo{ID: p.ID, Description: p.Description}
	}
	return out
}

// Validate runs the full algorithm for one proposed tool call, at
// wall-clock nowMs. On success it appends the call to history and
// returns nil.
func (v *Validator) Validate(nowMs int64, operationName string, argsSanitized map[string]any) error {
	// 1. Age-purge.
	v.history.Purge(nowMs)

	// 2. Rate limit: count *accepted* calls (history is only appended to
	// on success, step 7), not proposed calls rejected by a later step.
	if v.cfg.MaxOperationsPerSecond > 0 {
		if v.history.CountWithin(nowMs, rateLimitWindowMs) >= v.cfg.MaxOperationsPerSecond {
			return errs.Newf(errs.CodeRateLimitExceeded,
				"more than %d operations per second", v.cfg.MaxOperationsPerSecond)
		}
	}

	// 3. Name format.
	if operationName == "" {
		return errs.New(errs.CodeBadArguments, "operation name must be a non-empty string")
	}

	// 4. Whitelist.
	if v.cfg.ValidateOperationNames && v.cfg.AllowedPattern != nil {
		if !v.cfg.AllowedPattern.MatchString(operationName) {
			return errs.Newf(errs.CodeOperationNotAllowed, "operation %q does not match the allowed pattern", operationName)
		}
	}

	// 5. Blacklist (always checked).
	for _, pattern := range v.cfg.BlockedPatterns {
		if pattern.MatchString(operationName) {
			return errs.Newf(errs.CodeOperationBlocked, "operation %q matches a blocked pattern", operationName)
		}
	}

	// 6. Suspicious sequences.
	if v.cfg.BlockSuspiciousSequences {
		if err := v.runDetectors(operationName, argsSanitized); err != nil {
			return err
		}
	}

	// 7. Append on success.
	keys := make([]string, 0, len(argsSanitized))
	for k := range argsSanitized {
		keys = append(keys, k)
	}
	v.history.Append(config.HistoryEntry{
		OperationName: operationName,
		TimestampMs:   nowMs,
		ArgKeys:       keys,
	})

	return nil
}

func (v *Validator) runDetectors(operationName string, args map[string]any) (err error) {
	for _, p := range v.patterns {
		if v.runOneDetector(p, operationName, args) {
			return errs.Newf(errs.CodeSuspiciousPatternDetected, "suspicious pattern %s: %s", p.ID, p.Description).
				WithData(map[string]any{"id": p.ID})
		}
	}
	return nil
}

// runOneDetector invokes a single detector, recovering from a panic
// and treating it as a non-match: fail-open per detector, never
// fail-closed on a buggy detector, per spec.md §4.3 step 6.
func (v *Validator) runOneDetector(p config.SuspiciousPattern, operationName string, args map[string]any) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
		}
	}()
	if p.Detect == nil {
		return false
	}
	return p.Detect(operationName, args, v.history)
}
