package gateway

import (
	"time"

	"github.com/straja-ai/graphgate/internal/audit"
	"github.com/straja-ai/graphgate/internal/complexity"
)

// Stage is a pipeline state.
type Stage string

const (
	StageReceived          Stage = "received"
	StageSanitized         Stage = "sanitized"
	StageRateChecked       Stage = "rate_checked"
	StageComplexityChecked Stage = "complexity_checked"
	StageAccessChecked     Stage = "access_checked"
	StageExecuted          Stage = "executed"
)

// Result is the per-request pipeline result.
type Result struct {
	Allowed  bool          `json:"allowed"`
	Outcome  audit.Outcome `json:"outcome"`
	Code     string        `json:"reason_code,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Warnings []string      `json:"warnings"`
	// RetryAfterSeconds is set only for a rate-limited request that can be
	// retried.
	RetryAfterSeconds *float64           `json:"retry_after_seconds"`
	Complexity        *complexity.Metrics `json:"complexity"`
	// NormalizedQuery is set only when Allowed.
	NormalizedQuery *string `json:"normalized_query"`
	// Stage is the last state the request reached. A request rejected by the
	// sanitizer stays at StageReceived.
	Stage     Stage   `json:"stage"`
	RequestID string  `json:"request_id"`
	Verdict   Verdict `json:"-"`
}

// Err returns a *Rejection for a gate rejection and nil otherwise.
func (r Result) Err() error {
	var class string
	switch r.Outcome {
	case audit.OutcomeSanitizerBlocked, audit.OutcomeComplexityBlocked:
		class = ClassValidation
	case audit.OutcomeAccessDenied:
		class = ClassAccess
	case audit.OutcomeRateLimited:
		class = ClassRateLimit
	default:
		return nil
	}
	rej := &Rejection{Class: class, Code: r.Code, Message: r.Reason}
	if t, ok := r.Verdict.(Throttled); ok {
		rej.RetryAfter = t.RetryAfter
	}
	return rej
}

// RetryAfter is the retry hint as a duration, zero when none.
func (r Result) RetryAfter() time.Duration {
	if r.RetryAfterSeconds == nil {
		return 0
	}
	return time.Duration(*r.RetryAfterSeconds * float64(time.Second))
}
