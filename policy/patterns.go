package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentfront/enclave/config"
)

var (
	reDataAccess = regexp.MustCompile(`(?i)list|query|get|fetch|read|search|find|select`)
	reSend       = regexp.MustCompile(`(?i)send|export|post|write|upload|publish|emit|transmit|forward`)
	reCredential = regexp.MustCompile(`(?i)secret|credential|password|token|key|auth|api[-_]?key`)
	reExternal   = regexp.MustCompile(`(?i)http|api|external|webhook|slack|email|sms|notification`)
	reBulkWord   = regexp.MustCompile(`(?i)\b(bulk|batch|mass|dump)\b|export[-_]all`)
	reBulkArgs   = regexp.MustCompile(`limit.*\d{4,}|"\*"|no[-_]?limit`)
	reDelete     = regexp.MustCompile(`(?i)delete|remove|destroy|purge|clear|wipe|erase`)
)

// serializeArgs renders args in a form suitable for the BULK_OPERATION
// detector's regex scan over "serialized args". A loose key=value join
// is sufficient here: this is a heuristic match, not a wire format.
func serializeArgs(args map[string]any) string {
	var b strings.Builder
	for k, v := range args {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	return b.String()
}

// DefaultPatterns returns the five built-in suspicious-pattern
// detectors, in the fixed order spec.md §4.3 lists them. threshold is
// the configured rapid_enumeration_threshold (spec.md default: 10).
func DefaultPatterns(threshold int) []config.SuspiciousPattern {
	if threshold <= 0 {
		threshold = config.DefaultRapidEnumerationThreshold
	}
	return []config.SuspiciousPattern{
		{
			ID:          "EXFIL_LIST_SEND",
			Description: "a recent data-access call followed by a send/export-shaped call",
			Detect: func(name string, args map[string]any, history config.HistoryView) bool {
				if !reSend.MatchString(name) {
					return false
				}
				for _, e := range history.Recent(5000) {
					if reDataAccess.MatchString(e.OperationName) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:          "RAPID_ENUMERATION",
			Description: "the same operation called more than the configured threshold within 5s",
			Detect: func(name string, args map[string]any, history config.HistoryView) bool {
				// History holds only earlier calls; +1 counts the call being validated.
				return history.CountName(name, 5000)+1 > threshold
			},
		},
		{
			ID:          "CREDENTIAL_EXFIL",
			Description: "a recent credential-shaped call followed by an external-transport-shaped call",
			Detect: func(name string, args map[string]any, history config.HistoryView) bool {
				if !reExternal.MatchString(name) {
					return false
				}
				for _, e := range history.Recent(10000) {
					if reCredential.MatchString(e.OperationName) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:          "BULK_OPERATION",
			Description: "an operation name or argument shape indicating an unbounded bulk action",
			Detect: func(name string, args map[string]any, history config.HistoryView) bool {
				if reBulkWord.MatchString(name) {
					return true
				}
				return reBulkArgs.MatchString(serializeArgs(args))
			},
		},
		{
			ID:          "DELETE_AFTER_ACCESS",
			Description: "a delete-shaped call following a recent data-access call",
			Detect: func(name string, args map[string]any, history config.HistoryView) bool {
				if !reDelete.MatchString(name) {
					return false
				}
				for _, e := range history.Recent(30000) {
					if reDataAccess.MatchString(e.OperationName) {
						return true
					}
				}
				return false
			},
		},
	}
}

// dangerousDetectorSubstrings guards custom detectors that carry a
// SourceText representation (e.g. for audit logging or for a detector
// whose body must also be embeddable as text in the gatekeeper realm's
// bootstrap). A Go-native Detect closure with no SourceText is not
// subject to this check: the hardening is about text re-embedded into
// a realm's bootstrap, not about native code.
var dangerousDetectorSubstrings = []string{
	"function", "=>", "class ", "import ", "require(", "globalthis", "global.", "process.",
}

// ValidateDetectorSourceText rejects a custom detector's SourceText if
// it contains a substring that would be dangerous to splice, as-is,
// into the gatekeeper realm's generated bootstrap source. Detectors
// with no SourceText (the common case for a Go-native SuspiciousPattern)
// are not checked here; their safety is simply "this is a Go closure,
// not text the engine evals".
func ValidateDetectorSourceText(sourceText string) error {
	if sourceText == "" {
		return nil
	}
	lower := strings.ToLower(sourceText)
	for _, bad := range dangerousDetectorSubstrings {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("policy: custom detector source text contains disallowed substring %q", bad)
		}
	}
	return nil
}
