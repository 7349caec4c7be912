// Package audit records one tamper-evident, redacted event per request.
//
// Record runs synchronously on the request path. Events are sealed into an HMAC
// chain under a short lock and then delivered to every sink outside it, so a slow
// sink never blocks the chain for other requests. Delivery failures are handled
// by policy: best-effort logging by default, or a *SinkError in strict mode.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/redact"
)

// SinkFailure is one failed delivery.
type SinkFailure struct {
	Sink string
	Err  error
}

// SinkError reports failed deliveries in strict mode.
type SinkError struct {
	Seq      uint64
	Failures []SinkFailure
}

func (e *SinkError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Sink + ": " + f.Err.Error()
	}
	return fmt.Sprintf("audit: event %d not delivered: %s", e.Seq, strings.Join(parts, "; "))
}

func (e *SinkError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// Metrics counts deliveries per sink.
type Metrics struct {
	Recorded    uint64
	Fallbacks   uint64
	SinkSuccess map[string]uint64
	SinkFailure map[string]uint64
}

// Options carries the collaborators of a Logger. Zero values get defaults.
type Options struct {
	Sinks    []Sink
	Fallback *slog.Logger // receives failures and undelivered events; slog.Default() when nil
	Now      func() time.Time
	Key      []byte // HMAC key; loaded from audit.hmac_key_env (or random) when nil
	Salt     []byte // caller hash salt; loaded from audit.caller_salt_env (or random) when nil
	// Observe is called after every delivery attempt.
	Observe func(sink string, err error)
}

// Logger records audit events. It is safe for concurrent use.
type Logger struct {
	sinks        []Sink
	chain        *Chainer
	redactor     *redact.Redactor
	salt         []byte
	rawCaller    bool
	includeQuery bool
	maxPreview   int
	strict       bool
	fallback     *slog.Logger
	now          func() time.Time
	observe      func(string, error)

	mu      sync.Mutex
	metrics Metrics
}

func New(cfg *config.Config, opts Options) (*Logger, error) {
	if cfg == nil {
		panic("audit: nil config")
	}
	ac := cfg.Audit
	red, err := redact.New(ac.RedactionPatterns)
	if err != nil {
		return nil, &config.Error{Field: "audit.redaction_patterns", Err: err}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = slog.Default()
	}
	key := opts.Key
	if key == nil {
		var fromEnv bool
		key, fromEnv, err = LoadKey(ac.HMACKeyEnv)
		if err != nil {
			return nil, &config.Error{Field: "audit.hmac_key_env", Err: err}
		}
		if !fromEnv {
			fallback.Warn("audit: using a random chain key; set the key env var to verify chains later", "env", ac.HMACKeyEnv)
		}
	}
	salt := opts.Salt
	if salt == nil && ac.CallerMode != config.CallerRaw {
		salt, err = loadSalt(ac.CallerSaltEnv)
		if err != nil {
			return nil, &config.Error{Field: "audit.caller_salt_env", Err: err}
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	l := &Logger{
		sinks:        opts.Sinks,
		chain:        NewChainer(key),
		redactor:     red,
		salt:         salt,
		rawCaller:    ac.CallerMode == config.CallerRaw,
		includeQuery: ac.IncludeQuery,
		maxPreview:   ac.MaxQueryPreview,
		strict:       ac.Strict,
		fallback:     fallback,
		now:          now,
		observe:      opts.Observe,
		metrics: Metrics{
			SinkSuccess: make(map[string]uint64, len(opts.Sinks)),
			SinkFailure: make(map[string]uint64, len(opts.Sinks)),
		},
	}
	for _, s := range opts.Sinks {
		l.metrics.SinkSuccess[s.Name()] = 0
		l.metrics.SinkFailure[s.Name()] = 0
	}
	return l, nil
}

func loadSalt(env string) ([]byte, error) {
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return []byte(v), nil
		}
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate caller salt: %w", err)
	}
	return salt, nil
}

// Strict reports whether delivery failures are returned to the caller.
func (l *Logger) Strict() bool { return l.strict }

// CallerRef maps a caller id per audit.caller_mode.
func (l *Logger) CallerRef(caller string) string {
	return CallerRef(caller, l.salt, l.rawCaller)
}

// Sinks returns the configured sink names in delivery order.
func (l *Logger) Sinks() []string {
	out := make([]string, len(l.sinks))
	for i, s := range l.sinks {
		out[i] = s.Name()
	}
	return out
}

// Record fills defaults, redacts, seals and delivers ev, modifying it in place.
// Delivery is not bound to ctx cancellation: a cancelled request is still
// recorded.
func (l *Logger) Record(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	l.prepare(ev)
	if err := l.chain.Seal(ev); err != nil {
		l.fallback.Error("audit: seal failed", "request_id", ev.RequestID, "err", err)
		l.fallbackEvent(ev)
		if l.strict {
			return &SinkError{Failures: []SinkFailure{{Sink: "chain", Err: err}}}
		}
		return nil
	}

	var failures []SinkFailure
	for _, s := range l.sinks {
		err := s.Deliver(ctx, ev)
		l.count(s.Name(), err)
		if l.observe != nil {
			l.observe(s.Name(), err)
		}
		if err != nil {
			failures = append(failures, SinkFailure{Sink: s.Name(), Err: err})
			l.fallback.Error("audit: sink delivery failed",
				"sink", s.Name(), "seq", ev.Chain.Seq, "request_id", ev.RequestID, "err", err)
		}
	}
	if len(failures) == 0 && len(l.sinks) > 0 {
		return nil
	}
	l.fallbackEvent(ev)
	if l.strict && len(failures) > 0 {
		return &SinkError{Seq: ev.Chain.Seq, Failures: failures}
	}
	return nil
}

// prepare sets defaults and redacts every free-text field.
func (l *Logger) prepare(ev *Event) {
	if ev.Version == "" {
		ev.Version = Version
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}
	if ev.Caller != "" {
		ev.CallerRef = l.CallerRef(ev.Caller)
		ev.Caller = ""
	}

	r := l.redactor
	ev.Reason = r.String(ev.Reason)
	ev.Warnings = r.Strings(ev.Warnings)
	if ev.Execution != nil {
		ev.Execution.Error = r.String(ev.Execution.Error)
	}
	if a := ev.Stages.Access; a != nil {
		a.Reason = r.String(a.Reason)
	}
	if s := ev.Stages.Sanitizer; s != nil {
		for i := range s.Violations {
			s.Violations[i].Message = r.String(s.Violations[i].Message)
		}
	}
	if l.includeQuery && ev.Query != "" {
		ev.Query = truncate(r.String(ev.Query), l.maxPreview)
	} else {
		ev.Query = ""
	}
}

func (l *Logger) count(sink string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.metrics.SinkFailure[sink]++
		return
	}
	l.metrics.SinkSuccess[sink]++
}

// fallbackEvent writes the full event to the fallback logger so nothing is
// dropped.
func (l *Logger) fallbackEvent(ev *Event) {
	l.mu.Lock()
	l.metrics.Fallbacks++
	l.mu.Unlock()
	data, err := json.Marshal(ev)
	if err != nil {
		l.fallback.Error("audit: undeliverable event", "request_id", ev.RequestID, "encode_err", err)
		return
	}
	l.fallback.Warn("audit: undelivered event", "seq", ev.Chain.Seq, "event", string(data))
}

// Metrics returns a copy of the delivery counters.
func (l *Logger) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Metrics{
		Recorded:    l.chain.Seq(),
		Fallbacks:   l.metrics.Fallbacks,
		SinkSuccess: make(map[string]uint64, len(l.metrics.SinkSuccess)),
		SinkFailure: make(map[string]uint64, len(l.metrics.SinkFailure)),
	}
	for k, v := range l.metrics.SinkSuccess {
		out.SinkSuccess[k] = v
	}
	for k, v := range l.metrics.SinkFailure {
		out.SinkFailure[k] = v
	}
	return out
}

// Close closes every sink.
func (l *Logger) Close(ctx context.Context) error {
	var errs []error
	for _, s := range l.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// OpenSinks builds the configured sinks. stdout receives the stdout sink.
// Sinks opened before a failure are closed.
func OpenSinks(cfg config.AuditConfig, stdout io.Writer, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	fail := func(i int, err error) ([]Sink, error) {
		for _, s := range sinks {
			_ = s.Close(context.Background())
		}
		return nil, &config.Error{Field: fmt.Sprintf("audit.sinks[%d]", i), Err: err}
	}
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "file_jsonl":
			s, err := NewFileSink(sc.Path)
			if err != nil {
				return fail(i, err)
			}
			sinks = append(sinks, s)
		case "webhook":
			s, err := NewWebhookSink(sc.URL, sc.Headers, sc.Timeout)
			if err != nil {
				return fail(i, err)
			}
			sinks = append(sinks, s)
		case "badger":
			s, err := OpenBadgerSink(sc.Path, sc.InMemory, logger)
			if err != nil {
				return fail(i, err)
			}
			sinks = append(sinks, s)
		case "stdout":
			if stdout == nil {
				stdout = os.Stdout
			}
			sinks = append(sinks, NewWriterSink("stdout", stdout))
		default:
			return fail(i, fmt.Errorf("unknown sink type %q", sc.Type))
		}
	}
	return sinks, nil
}
