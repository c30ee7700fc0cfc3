// Package enclave implements a double-VM sandbox for executing
// untrusted "guest" scripts: an outer gatekeeper realm drives an inner
// guest realm (both backed by goja), mediating every guest tool call
// through a policy validator, accounting all guest-driven allocation
// against a fixed memory budget, and sanitizing whatever the guest
// returns before it reaches the host.
//
// Execute is the package's single entry point. A host supplies guest
// source, an ExecutionConfig, and a ToolHandler; Execute runs the
// script to completion (or to its first violation, timeout, or limit
// breach) and returns a Result.
package enclave
