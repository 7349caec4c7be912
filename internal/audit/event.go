package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/straja-ai/graphgate/internal/complexity"
	"github.com/straja-ai/graphgate/internal/sanitizer"
)

// Version is the event schema version.
const Version = "1"

// Outcome is the terminal disposition of a request.
type Outcome string

const (
	OutcomeAllowed           Outcome = "allowed"
	OutcomeSanitizerBlocked  Outcome = "sanitizer_blocked"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeComplexityBlocked Outcome = "complexity_blocked"
	OutcomeAccessDenied      Outcome = "access_denied"
	OutcomeExecutionError    Outcome = "execution_error"
	OutcomeSuccess           Outcome = "success"
	OutcomeCancelled         Outcome = "cancelled"
)

// Outcomes lists every outcome in pipeline order.
var Outcomes = []Outcome{
	OutcomeAllowed, OutcomeSanitizerBlocked, OutcomeRateLimited, OutcomeComplexityBlocked,
	OutcomeAccessDenied, OutcomeExecutionError, OutcomeSuccess, OutcomeCancelled,
}

// Blocked reports whether o is a gate rejection.
func (o Outcome) Blocked() bool {
	switch o {
	case OutcomeSanitizerBlocked, OutcomeRateLimited, OutcomeComplexityBlocked, OutcomeAccessDenied:
		return true
	}
	return false
}

type SanitizerStage struct {
	Safe       bool                  `json:"safe"`
	Violations []sanitizer.Violation `json:"violations,omitempty"`
	Truncated  bool                  `json:"truncated,omitempty"`
}

type RateLimitStage struct {
	Allowed         bool    `json:"allowed"`
	Charged         bool    `json:"charged,omitempty"` // debited after an earlier rejection
	Cost            float64 `json:"cost"`
	TokensRemaining float64 `json:"tokens_remaining"`
	RetryAfterMs    float64 `json:"retry_after_ms,omitempty"`
	Impossible      bool    `json:"impossible,omitempty"`
}

type ComplexityStage struct {
	Allowed  bool                `json:"allowed"`
	Metrics  complexity.Metrics  `json:"metrics"`
	Breaches []complexity.Breach `json:"breaches,omitempty"`
}

type AccessStage struct {
	Allowed bool   `json:"allowed"`
	Policy  string `json:"policy"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Stages holds the verdict of every stage that ran. Stages that did not run are nil.
type Stages struct {
	Sanitizer  *SanitizerStage  `json:"sanitizer,omitempty"`
	RateLimit  *RateLimitStage  `json:"rate_limit,omitempty"`
	Complexity *ComplexityStage `json:"complexity,omitempty"`
	Access     *AccessStage     `json:"access,omitempty"`
}

// Execution describes the executor call, when one was made.
type Execution struct {
	Status    string  `json:"status"` // "success" or "error"
	Error     string  `json:"error,omitempty"`
	Rows      int     `json:"rows"`
	LatencyMs float64 `json:"latency_ms"`
}

// Chain links events into a tamper-evident sequence.
type Chain struct {
	Seq      uint64 `json:"seq"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// Event is one audit record.
type Event struct {
	Version   string     `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id"`
	Caller    string     `json:"-"` // replaced by CallerRef when recorded
	CallerRef string     `json:"caller_ref"`
	QueryHash string     `json:"query_hash"`
	Outcome   Outcome    `json:"outcome"`
	Terminal  bool       `json:"terminal"`
	Reason    string     `json:"reason,omitempty"`
	Code      string     `json:"reason_code,omitempty"`
	Stages    Stages     `json:"stages"`
	Warnings  []string   `json:"warnings,omitempty"`
	LatencyMs float64    `json:"latency_ms"`
	Execution *Execution `json:"execution,omitempty"`
	Query     string     `json:"query,omitempty"`
	Chain     Chain      `json:"chain"`
}

// Clone returns a deep copy of the mutable parts of ev.
func (ev *Event) Clone() *Event {
	if ev == nil {
		return nil
	}
	out := *ev
	out.Warnings = append([]string(nil), ev.Warnings...)
	if ev.Execution != nil {
		x := *ev.Execution
		out.Execution = &x
	}
	if s := ev.Stages.Sanitizer; s != nil {
		c := *s
		c.Violations = append([]sanitizer.Violation(nil), s.Violations...)
		out.Stages.Sanitizer = &c
	}
	if s := ev.Stages.RateLimit; s != nil {
		c := *s
		out.Stages.RateLimit = &c
	}
	if s := ev.Stages.Complexity; s != nil {
		c := *s
		c.Breaches = append([]complexity.Breach(nil), s.Breaches...)
		out.Stages.Complexity = &c
	}
	if s := ev.Stages.Access; s != nil {
		c := *s
		out.Stages.Access = &c
	}
	return &out
}

// CallerRef maps a caller id to its audit reference: the id itself in raw mode,
// otherwise "sha256:" of salt followed by the id.
func CallerRef(caller string, salt []byte, raw bool) string {
	if raw {
		return caller
	}
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(caller))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// cut on a rune boundary
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
