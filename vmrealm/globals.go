package vmrealm

import "github.com/agentfront/enclave/config"

// dangerousGlobals names the inner-realm global bindings goja actually
// exposes for each entry of spec.md §4.1's removal table. goja does not
// implement every intrinsic that table names (e.g. SharedArrayBuffer,
// Atomics, FinalizationRegistry, WeakRef are absent or stubbed in
// goja's standard build) — those entries are kept as documentation of
// intent but are no-ops against Delete, since there is nothing to
// remove. The entries that do correspond to real goja globals are
// removed for real.
var dangerousGlobals = map[config.SecurityLevel][]string{
	config.Strict: {
		"eval", "Function", "Proxy", "Reflect",
		"SharedArrayBuffer", "Atomics", "gc",
		"WeakRef", "FinalizationRegistry",
		"performance",
	},
	config.Secure: {
		"eval", "Function", "Proxy",
		"SharedArrayBuffer", "Atomics", "gc",
		"WeakRef", "FinalizationRegistry",
	},
	config.Standard: {
		"eval", "Function",
		"SharedArrayBuffer", "Atomics", "gc",
		"WeakRef", "FinalizationRegistry",
	},
	config.Permissive: {
		"SharedArrayBuffer", "Atomics", "gc",
	},
}

// removeDangerousGlobals deletes the configured-away globals directly
// via Go (never via guest-observable JS), per SPEC_FULL.md §10: "Go
// code invoked from the outer bootstrap... Dangerous globals are
// stripped directly by Go... rather than by guest-observable JS".
func removeDangerousGlobals(r *Runtime, level config.SecurityLevel) {
	names := dangerousGlobals[level]
	global := r.vm.GlobalObject()
	for _, name := range names {
		global.Delete(name)
	}
}
