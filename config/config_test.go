package config

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecurityLevel_Escalates(t *testing.T) {
	require.True(t, Strict.Escalates())
	require.True(t, Secure.Escalates())
	require.False(t, Standard.Escalates())
	require.False(t, Permissive.Escalates())
}

func TestSecurityLevel_DefaultThrowOnBlocked(t *testing.T) {
	require.True(t, Strict.DefaultThrowOnBlocked())
	require.True(t, Secure.DefaultThrowOnBlocked())
	require.True(t, Standard.DefaultThrowOnBlocked())
	require.False(t, Permissive.DefaultThrowOnBlocked())
}

func TestExecutionConfig_Validate_RejectsUnknownSecurityLevel(t *testing.T) {
	cfg := ExecutionConfig{TimeoutMs: 1000, SecurityLevel: SecurityLevel("BOGUS")}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestExecutionConfig_Validate_RejectsNonPositiveTimeout(t *testing.T) {
	cfg := ExecutionConfig{TimeoutMs: 0, SecurityLevel: Standard}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestExecutionConfig_Validate_AcceptsMinimalValidConfig(t *testing.T) {
	cfg := ExecutionConfig{TimeoutMs: 5000, SecurityLevel: Standard}
	require.NoError(t, cfg.Validate())
}

func TestExecutionConfig_Validate_RejectsBadToolBridgeMode(t *testing.T) {
	cfg := ExecutionConfig{
		TimeoutMs:     5000,
		SecurityLevel: Standard,
		ToolBridge:    ToolBridgeConfig{Mode: "telepathic"},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestExecutionConfig_Validate_RejectsNegativeParentTimeoutBuffer(t *testing.T) {
	cfg := ExecutionConfig{
		TimeoutMs:     5000,
		SecurityLevel: Standard,
		DoubleVM:      DoubleVMConfig{ParentTimeoutBufferMs: -1},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestExecutionConfig_Validate_ChecksParentValidationWhenPresent(t *testing.T) {
	cfg := ExecutionConfig{
		TimeoutMs:     5000,
		SecurityLevel: Standard,
		DoubleVM: DoubleVMConfig{
			ParentValidation: &ParentValidationConfig{MaxOperationsPerSecond: 0 - 1},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestExecutionConfig_Validate_AcceptsPopulatedParentValidation(t *testing.T) {
	cfg := ExecutionConfig{
		TimeoutMs:     5000,
		SecurityLevel: Strict,
		DoubleVM: DoubleVMConfig{
			Enabled:               true,
			ParentTimeoutBufferMs: 500,
			ParentValidation: &ParentValidationConfig{
				ValidateOperationNames:   true,
				AllowedPattern:           regexp.MustCompile(`^[a-z]+:[a-z]+$`),
				MaxOperationsPerSecond:   10,
				BlockSuspiciousSequences: true,
			},
		},
	}
	require.NoError(t, cfg.Validate())
}

func TestDefaultRapidEnumerationThreshold(t *testing.T) {
	require.Equal(t, 10, DefaultRapidEnumerationThreshold)
}
