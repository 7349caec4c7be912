package gateway

import (
	"fmt"
	"time"
)

// Verdict is the tagged result of the gates. The concrete type is one of Allowed,
// Blocked or Throttled; callers switch on it.
type Verdict interface {
	verdict()
}

// Allowed means every gate passed.
type Allowed struct{}

// Blocked is a validation or access rejection.
type Blocked struct {
	Code   string
	Reason string
}

// Throttled is a rate-limit rejection. RetryAfter is zero when the request can
// never be admitted.
type Throttled struct {
	RetryAfter time.Duration
}

func (Allowed) verdict()   {}
func (Blocked) verdict()   {}
func (Throttled) verdict() {}

// Rejection classes.
const (
	ClassValidation = "validation"
	ClassRateLimit  = "rate_limit"
	ClassAccess     = "access"
)

// Rejection is the caller-facing error for a request the gates refused. Code is
// stable and enumerable; Message is human readable.
type Rejection struct {
	Class      string
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("%s rejected (%s): %s; retry after %s", r.Class, r.Code, r.Message, r.RetryAfter)
	}
	return fmt.Sprintf("%s rejected (%s): %s", r.Class, r.Code, r.Message)
}
