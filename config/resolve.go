package config

import "fmt"

const (
	defaultSanitizeDepth      = 20
	minSanitizeDepth          = 5
	maxSanitizeDepth          = 50
	defaultSanitizeProperties = 10000
	minSanitizeProperties     = 50
	maxSanitizeProperties     = 1000
	defaultMaxSerializedBytes = 50 * 1024 * 1024 // 50 MiB, per spec.md §4.6
)

// Resolved is the immutable, defaulted, clamped view of ExecutionConfig
// the rest of the engine reads. Build one via Resolve; nothing else
// constructs it, so a Resolved value is always internally consistent.
type Resolved struct {
	raw ExecutionConfig

	TimeoutMs             int64
	MaxIterations         int64
	MaxToolCalls          int64
	MemoryLimitBytes      int64
	MaxConsoleCalls       int64
	MaxConsoleOutputBytes int64
	MaxSanitizeDepth      int
	MaxSanitizeProperties int
	SanitizeStackTraces   bool
	SecurityLevel         SecurityLevel
	Globals               map[string]any
	ToolBridge            ToolBridgeConfig
	DoubleVM              DoubleVMConfig
	AllowComposites       bool

	// MaxSerializedBytes is min(MemoryLimitBytes, 50MiB), or just 50MiB
	// when MemoryLimitBytes is unlimited (0). See spec.md §4.6.
	MaxSerializedBytes int64
}

// Resolve validates cfg and returns the clamped, defaulted view used
// for the rest of an execution. It never mutates cfg.
func Resolve(cfg ExecutionConfig) (*Resolved, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	depth := cfg.MaxSanitizeDepth
	if depth <= 0 {
		depth = defaultSanitizeDepth
	}
	depth = clampInt(depth, minSanitizeDepth, maxSanitizeDepth)

	props := cfg.MaxSanitizeProperties
	if props <= 0 {
		props = defaultSanitizeProperties
	}
	props = clampInt(props, minSanitizeProperties, maxSanitizeProperties)

	maxSerialized := int64(defaultMaxSerializedBytes)
	if cfg.MemoryLimitBytes > 0 && cfg.MemoryLimitBytes < maxSerialized {
		maxSerialized = cfg.MemoryLimitBytes
	}

	toolBridge := cfg.ToolBridge
	if toolBridge.Mode == "" {
		toolBridge.Mode = "string"
	}
	if toolBridge.MaxPayloadBytes <= 0 {
		toolBridge.MaxPayloadBytes = 4 * 1024 * 1024
	}

	return &Resolved{
		raw:                   cfg,
		TimeoutMs:             cfg.TimeoutMs,
		MaxIterations:         cfg.MaxIterations,
		MaxToolCalls:          cfg.MaxToolCalls,
		MemoryLimitBytes:      cfg.MemoryLimitBytes,
		MaxConsoleCalls:       cfg.MaxConsoleCalls,
		MaxConsoleOutputBytes: cfg.MaxConsoleOutputBytes,
		MaxSanitizeDepth:      depth,
		MaxSanitizeProperties: props,
		SanitizeStackTraces:   cfg.SanitizeStackTraces,
		SecurityLevel:         cfg.SecurityLevel,
		Globals:               cfg.Globals,
		ToolBridge:            toolBridge,
		DoubleVM:              cfg.DoubleVM,
		AllowComposites:       cfg.AllowComposites,
		MaxSerializedBytes:    maxSerialized,
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Describe returns a redacted, loggable summary: no Globals values, no
// custom-pattern source text, just the shape the host might want in an
// audit log line.
func (r *Resolved) Describe() string {
	return fmt.Sprintf(
		"security=%s timeout_ms=%d max_iterations=%d max_tool_calls=%d memory_limit_bytes=%d tool_bridge_mode=%s double_vm=%t globals=%d",
		r.SecurityLevel, r.TimeoutMs, r.MaxIterations, r.MaxToolCalls, r.MemoryLimitBytes,
		r.ToolBridge.Mode, r.DoubleVM.Enabled, len(r.Globals),
	)
}
