// Package gateway orchestrates the safety pipeline in front of the graph
// database.
//
// Every request moves through a fixed sequence of states:
//
//	Received → Sanitized → RateChecked → ComplexityChecked → AccessChecked → Executed → Audited
//
// The first failing gate is terminal and later gates never run. Whatever the
// outcome, exactly one terminal audit event is recorded for the request.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/straja-ai/graphgate/internal/audit"
	"github.com/straja-ai/graphgate/internal/complexity"
	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/executor"
	"github.com/straja-ai/graphgate/internal/policy"
	"github.com/straja-ai/graphgate/internal/query"
	"github.com/straja-ai/graphgate/internal/ratelimit"
	"github.com/straja-ai/graphgate/internal/sanitizer"
	"github.com/straja-ai/graphgate/internal/telemetry"
)

// Sanitizer classifies a query.
type Sanitizer interface {
	Evaluate(q *query.Query) sanitizer.Verdict
}

// Analyzer scores query text.
type Analyzer interface {
	Evaluate(text string) (complexity.Metrics, complexity.Verdict)
}

// Limiter is the per-caller token bucket.
type Limiter interface {
	Check(key string, cost float64, now time.Time) ratelimit.Decision
	Charge(key string, cost float64, now time.Time) float64
}

// Auditor records audit events.
type Auditor interface {
	Record(ctx context.Context, ev *audit.Event) error
}

// Deps are the collaborators of a Gateway. Nil fields are built from config.
type Deps struct {
	Sanitizer Sanitizer
	Analyzer  Analyzer
	Limiter   Limiter
	Audit     Auditor
	Access    policy.Engine
	Executor  executor.Executor
	Clock     ratelimit.Clock
	Telemetry *telemetry.Provider
	Logger    *slog.Logger
}

// Gateway is safe for concurrent use. It holds no per-request state.
type Gateway struct {
	sanitizer Sanitizer
	analyzer  Analyzer
	limiter   Limiter
	audit     Auditor
	access    policy.Engine
	executor  executor.Executor
	clock     ratelimit.Clock
	tel       *telemetry.Provider
	logger    *slog.Logger

	maxLength      int
	cost           float64
	chargeRejected bool
	propagate      bool
	decisionEvents bool
}

// New wires a gateway. It panics on a nil config.
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if cfg == nil {
		panic("gateway: nil config")
	}
	g := &Gateway{
		sanitizer:      deps.Sanitizer,
		analyzer:       deps.Analyzer,
		limiter:        deps.Limiter,
		audit:          deps.Audit,
		access:         deps.Access,
		executor:       deps.Executor,
		clock:          deps.Clock,
		tel:            deps.Telemetry,
		logger:         deps.Logger,
		maxLength:      cfg.Query.MaxLength,
		cost:           cfg.RateLimit.Cost,
		chargeRejected: cfg.RateLimit.ChargesRejected(),
		propagate:      cfg.Gateway.Propagate(),
		decisionEvents: cfg.Audit.EmitDecisionEvents,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.tel == nil {
		g.tel = telemetry.Noop()
	}
	if g.clock == nil {
		g.clock = ratelimit.SystemClock
	}
	if g.cost <= 0 {
		g.cost = 1
	}
	if g.sanitizer == nil {
		s, err := sanitizer.New(cfg)
		if err != nil {
			return nil, err
		}
		g.sanitizer = s
	}
	if g.analyzer == nil {
		g.analyzer = complexity.New(cfg)
	}
	if g.limiter == nil {
		g.limiter = ratelimit.New(cfg)
	}
	if g.audit == nil {
		l, err := audit.New(cfg, audit.Options{Fallback: g.logger})
		if err != nil {
			return nil, err
		}
		g.audit = l
	}
	if g.access == nil {
		if cfg.Query.ReadOnly() {
			g.access = policy.NewReadOnly()
		} else {
			g.access = policy.AllowAll()
		}
	}
	if g.executor == nil {
		ex, err := executor.New(cfg.Executor)
		if err != nil {
			return nil, err
		}
		g.executor = ex
	}
	return g, nil
}

// Evaluate runs the gates without executing the query. A zero now means the
// gateway clock.
//
// Gate rejections are reported in the Result with a nil error; Result.Err
// converts them. The error is non-nil only for cancellation, strict audit
// failure and recovered panics.
func (g *Gateway) Evaluate(ctx context.Context, raw string, params map[string]any, callerID string, now time.Time) (Result, error) {
	res, _, err := g.process(ctx, raw, params, callerID, now, false)
	return res, err
}

// Run evaluates the query and, when every gate passes, executes it. An
// execution failure is returned as the executor's error.
func (g *Gateway) Run(ctx context.Context, raw string, params map[string]any, callerID string, now time.Time) (Result, *executor.Rows, error) {
	return g.process(ctx, raw, params, callerID, now, true)
}

func (g *Gateway) process(ctx context.Context, raw string, params map[string]any, callerID string, now time.Time, execute bool) (res Result, rows *executor.Rows, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if now.IsZero() {
		now = g.clock.Now()
	}
	r := &request{
		g:      g,
		start:  time.Now(),
		now:    now,
		caller: callerID,
		raw:    raw,
		ev: &audit.Event{
			Version:   audit.Version,
			Timestamp: now.UTC(),
			RequestID: uuid.NewString(),
			Caller:    callerID,
			QueryHash: query.Hash(raw),
		},
	}
	r.res = Result{RequestID: r.ev.RequestID, Stage: StageReceived}

	ctx, span := g.tel.Tracer().Start(ctx, "gateway.request")
	defer span.End()

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		g.logger.Error("gateway: recovered panic",
			"request_id", r.ev.RequestID, "stage", string(r.res.Stage), "panic", fmt.Sprint(p))
		span.SetStatus(codes.Error, "panic")
		var auditErr error
		if !r.recorded {
			auditErr = r.finishRecovered(ctx)
		}
		res, rows, err = r.res, nil, auditErr
		if g.propagate {
			err = join(ErrInternal, auditErr)
		}
	}()

	if g.maxLength > 0 && len(raw) > g.maxLength {
		r.q = query.NewClamped(raw, params)
	} else {
		r.q = query.New(raw, params)
	}

	for _, step := range []func(context.Context) (bool, error){r.sanitize, r.rateCheck, r.complexityCheck, r.accessCheck} {
		if stop, err := r.interrupted(ctx); stop {
			return r.res, nil, err
		}
		if stop, err := step(ctx); stop {
			return r.res, nil, err
		}
	}
	if stop, err := r.interrupted(ctx); stop {
		return r.res, nil, err
	}

	if !execute {
		err := r.finish(ctx, audit.OutcomeAllowed, "", "")
		return r.res, nil, err
	}
	if g.decisionEvents {
		if err := r.recordDecision(ctx); err != nil {
			return r.res, nil, err
		}
	}
	return r.execute(ctx)
}

// request is the per-call pipeline state.
type request struct {
	g        *Gateway
	start    time.Time
	now      time.Time
	caller   string
	raw      string
	q        *query.Query
	ev       *audit.Event
	res      Result
	recorded bool // the terminal Record call returned
}

// stage starts a span for one gate and returns the function that ends it.
func (r *request) stage(ctx context.Context, name string) (context.Context, func(map[string]any)) {
	start := time.Now()
	ctx, span := r.g.tel.Tracer().Start(ctx, "gateway."+name)
	return ctx, func(attrs map[string]any) {
		span.SetAttributes(telemetry.SafeAttributes(attrs)...)
		span.End()
		r.g.tel.RecordStage(ctx, name, audit.Millis(time.Since(start)))
	}
}

func (r *request) interrupted(ctx context.Context) (bool, error) {
	cerr := ctx.Err()
	if cerr == nil {
		return false, nil
	}
	aerr := r.finish(ctx, audit.OutcomeCancelled, CodeCancelled, "request cancelled")
	return true, join(fmt.Errorf("%w: %w", ErrCancelled, cerr), aerr)
}

func (r *request) sanitize(ctx context.Context) (bool, error) {
	sctx, end := r.stage(ctx, "sanitize")
	v := r.g.sanitizer.Evaluate(r.q)
	end(map[string]any{"safe": v.Safe, "violations": len(v.Violations)})

	r.ev.Stages.Sanitizer = &audit.SanitizerStage{Safe: v.Safe, Violations: v.Violations, Truncated: v.Truncated}
	r.res.Warnings = append(r.res.Warnings, v.Warnings...)
	if rules := v.Rules(); len(rules) > 0 {
		names := make([]string, len(rules))
		for i, id := range rules {
			names[i] = string(id)
		}
		r.g.tel.RecordViolations(sctx, names)
	}
	if v.Safe {
		r.res.Stage = StageSanitized
		return false, nil
	}

	// rejected input still costs the caller, so retry storms drain the bucket
	if r.g.chargeRejected {
		remaining := r.g.limiter.Charge(r.caller, r.g.cost, r.now)
		r.ev.Stages.RateLimit = &audit.RateLimitStage{Charged: true, Cost: r.g.cost, TokensRemaining: remaining}
	}
	return true, r.finish(ctx, audit.OutcomeSanitizerBlocked, string(v.Code()), v.Reason())
}

func (r *request) rateCheck(ctx context.Context) (bool, error) {
	_, end := r.stage(ctx, "rate_limit")
	d := r.g.limiter.Check(r.caller, r.g.cost, r.now)
	end(map[string]any{"allowed": d.Allowed, "impossible": d.Impossible})

	r.ev.Stages.RateLimit = &audit.RateLimitStage{
		Allowed:         d.Allowed,
		Cost:            r.g.cost,
		TokensRemaining: d.TokensRemaining,
		RetryAfterMs:    audit.Millis(d.RetryAfter),
		Impossible:      d.Impossible,
	}
	if d.Allowed {
		r.res.Stage = StageRateChecked
		return false, nil
	}
	if d.Impossible {
		return true, r.finish(ctx, audit.OutcomeRateLimited, CodeCostTooHigh, "request cost exceeds the rate limit capacity")
	}
	secs := d.RetryAfter.Seconds()
	r.res.RetryAfterSeconds = &secs
	return true, r.finish(ctx, audit.OutcomeRateLimited, CodeRateLimited,
		fmt.Sprintf("rate limit exceeded; retry after %gs", secs))
}

func (r *request) complexityCheck(ctx context.Context) (bool, error) {
	cctx, end := r.stage(ctx, "complexity")
	m, v := r.g.analyzer.Evaluate(r.q.Text())
	end(map[string]any{"score": m.Score, "allowed": v.Allowed})

	r.g.tel.RecordComplexity(cctx, m.Score)
	r.res.Complexity = &m
	r.ev.Stages.Complexity = &audit.ComplexityStage{Allowed: v.Allowed, Metrics: m, Breaches: v.Breaches}
	if v.Allowed {
		r.res.Stage = StageComplexityChecked
		return false, nil
	}
	return true, r.finish(ctx, audit.OutcomeComplexityBlocked, v.Code(), v.Reason)
}

func (r *request) accessCheck(ctx context.Context) (bool, error) {
	actx, end := r.stage(ctx, "access")
	d := r.g.access.Check(actx, r.q)
	end(map[string]any{"allowed": d.Allowed, "policy": d.Policy})

	r.ev.Stages.Access = &audit.AccessStage{Allowed: d.Allowed, Policy: d.Policy, Code: d.Code, Reason: d.Reason}
	if d.Allowed {
		r.res.Stage = StageAccessChecked
		return false, nil
	}
	return true, r.finish(ctx, audit.OutcomeAccessDenied, d.Code, d.Reason)
}

// recordDecision emits the non-terminal allowed event ahead of execution. In
// strict mode a failed decision event stops the request before it reaches the
// database.
func (r *request) recordDecision(ctx context.Context) error {
	dec := r.ev.Clone()
	dec.Outcome = audit.OutcomeAllowed
	dec.Terminal = false
	dec.Warnings = append([]string(nil), r.res.Warnings...)
	dec.LatencyMs = audit.Millis(time.Since(r.start))
	dec.Query = r.raw
	err := r.g.audit.Record(context.WithoutCancel(ctx), dec)
	if err == nil {
		return nil
	}
	r.g.logger.Error("gateway: decision event failed", "request_id", r.ev.RequestID, "err", err)
	aerr := r.finish(ctx, audit.OutcomeExecutionError, CodeAuditUnavailable, "audit unavailable")
	return join(fmt.Errorf("%w: %w", ErrAuditUnavailable, err), aerr)
}

func (r *request) execute(ctx context.Context) (Result, *executor.Rows, error) {
	xctx, end := r.stage(ctx, "execute")
	start := time.Now()
	rows, xerr := r.g.executor.Run(xctx, r.q.Text(), r.q.Params())
	lat := audit.Millis(time.Since(start))

	r.res.Stage = StageExecuted
	exec := &audit.Execution{Status: "success", Rows: rows.Len(), LatencyMs: lat}
	r.ev.Execution = exec
	if xerr == nil {
		end(map[string]any{"rows": exec.Rows})
		r.g.tel.RecordExecution(ctx, exec.Status, lat)
		if err := r.finish(ctx, audit.OutcomeSuccess, "", ""); err != nil {
			return r.res, nil, err
		}
		return r.res, rows, nil
	}

	exec.Error = xerr.Error()
	if cerr := ctx.Err(); cerr != nil && errors.Is(xerr, cerr) {
		exec.Status = "cancelled"
		end(map[string]any{"status": exec.Status})
		r.g.tel.RecordExecution(ctx, exec.Status, lat)
		aerr := r.finish(ctx, audit.OutcomeCancelled, CodeCancelled, "request cancelled during execution")
		return r.res, nil, join(fmt.Errorf("%w: %w", ErrCancelled, cerr), aerr)
	}
	exec.Status = "error"
	end(map[string]any{"status": exec.Status})
	r.g.tel.RecordExecution(ctx, exec.Status, lat)

	reason := "query execution failed"
	var xe *executor.Error
	if errors.As(xerr, &xe) && xe.Code != "" && xe.Code != "transport" {
		reason += " (" + xe.Code + ")"
	}
	aerr := r.finish(ctx, audit.OutcomeExecutionError, CodeExecutionFailed, reason)
	return r.res, nil, join(xerr, aerr)
}

// finish records the terminal event and fills in the result.
func (r *request) finish(ctx context.Context, outcome audit.Outcome, code, reason string) error {
	res := &r.res
	res.Outcome = outcome
	res.Code = code
	res.Reason = reason
	res.Allowed = outcome == audit.OutcomeAllowed || outcome == audit.OutcomeSuccess
	res.Verdict = verdictFor(outcome, code, reason, res.RetryAfterSeconds)
	if res.Allowed {
		text := r.q.Text()
		res.NormalizedQuery = &text
	}

	ev := r.ev
	ev.Outcome = outcome
	ev.Code = code
	ev.Reason = reason
	ev.Terminal = true
	ev.Warnings = append([]string(nil), res.Warnings...)
	ev.Query = r.raw
	ev.LatencyMs = audit.Millis(time.Since(r.start))

	err := r.g.audit.Record(context.WithoutCancel(ctx), ev)
	r.recorded = true
	r.g.tel.RecordRequest(ctx, string(outcome), code, ev.LatencyMs)
	if err == nil {
		return nil
	}
	r.g.logger.Error("gateway: terminal audit event failed",
		"request_id", ev.RequestID, "outcome", string(outcome), "err", err)
	res.Allowed = false
	res.NormalizedQuery = nil
	return fmt.Errorf("%w: %w", ErrAuditUnavailable, err)
}

// finishRecovered records the terminal event of a request that panicked,
// including a panic raised by the auditor itself during finish.
func (r *request) finishRecovered(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.recorded = true
			r.res.Allowed = false
			r.res.NormalizedQuery = nil
			err = fmt.Errorf("%w: auditor panicked: %v", ErrAuditUnavailable, p)
		}
	}()
	return r.finish(ctx, audit.OutcomeExecutionError, CodeInternal, "internal error")
}

func verdictFor(outcome audit.Outcome, code, reason string, retryAfter *float64) Verdict {
	switch outcome {
	case audit.OutcomeAllowed, audit.OutcomeSuccess:
		return Allowed{}
	case audit.OutcomeRateLimited:
		var d time.Duration
		if retryAfter != nil {
			d = time.Duration(*retryAfter * float64(time.Second))
		}
		return Throttled{RetryAfter: d}
	default:
		return Blocked{Code: code, Reason: reason}
	}
}

// join is errors.Join that keeps a lone error unwrapped.
func join(a, b error) error {
	switch {
	case b == nil:
		return a
	case a == nil:
		return b
	default:
		return errors.Join(a, b)
	}
}
