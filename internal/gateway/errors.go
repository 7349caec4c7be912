package gateway

import "errors"

var (
	// ErrInternal is returned after a recovered panic inside a stage.
	ErrInternal = errors.New("gateway: internal error")
	// ErrAuditUnavailable is returned in strict audit mode when the terminal
	// event could not be delivered.
	ErrAuditUnavailable = errors.New("gateway: audit unavailable")
	// ErrCancelled wraps the context error of a request cancelled between stages.
	ErrCancelled = errors.New("gateway: request cancelled")
)

// Reason codes that do not come from a gate.
const (
	CodeRateLimited      = "rate_limited"
	CodeCostTooHigh      = "cost_exceeds_capacity"
	CodeCancelled        = "cancelled"
	CodeInternal         = "internal_error"
	CodeExecutionFailed  = "execution_failed"
	CodeAuditUnavailable = "audit_unavailable"
)
