package enclave

import (
	"github.com/agentfront/enclave/bridge"
	"github.com/agentfront/enclave/config"
	"github.com/agentfront/enclave/obslog"
	"github.com/agentfront/enclave/orchestrator"
	"github.com/agentfront/enclave/stats"
)

// Re-exported so callers outside this module need only import
// github.com/agentfront/enclave for the common case.
type (
	ExecutionConfig = config.ExecutionConfig
	SecurityLevel   = config.SecurityLevel
	ToolHandler     = bridge.ToolHandler
	Sidecar         = bridge.Sidecar
	Result          = stats.Result
	Logger          = obslog.Logger
)

const (
	Strict     = config.Strict
	Secure     = config.Secure
	Standard   = config.Standard
	Permissive = config.Permissive
)

// NewLogger builds the default structured logger used when a Context
// does not supply one; exposed so hosts can construct and share one
// logger across many executions.
func NewLogger(opts ...obslog.Option) *Logger { return obslog.New(opts...) }

// Context carries the per-execution collaborators a host supplies: a
// tool handler, an optional sidecar for large-value references, an
// optional abort flag, the execution's configuration, and an optional
// logger.
type Context struct {
	ToolHandler ToolHandler
	Sidecar     Sidecar
	Abort       func() bool
	Config      ExecutionConfig
	Logger      *Logger
}

// Execute runs guestSource to completion inside a freshly constructed
// double-VM sandbox and returns its terminal Result. It never panics:
// every failure mode (validation, timeout, limit breach, security
// violation, internal error) is reported through Result.Error.
func Execute(ctx Context, guestSource string) *Result {
	return orchestrator.Execute(orchestrator.Context{
		ToolHandler: ctx.ToolHandler,
		Sidecar:     ctx.Sidecar,
		Abort:       ctx.Abort,
		Config:      ctx.Config,
		Logger:      ctx.Logger,
	}, guestSource)
}
