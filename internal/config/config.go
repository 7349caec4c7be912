package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds graphgate configuration. A loaded Config is treated as read-only by
// every component; nothing mutates it after Load returns.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Projects   []ProjectConfig  `yaml:"projects" validate:"dive"`
	Query      QueryConfig      `yaml:"query"`
	Sanitizer  SanitizerConfig  `yaml:"sanitizer"`
	Complexity ComplexityConfig `yaml:"complexity"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Audit      AuditConfig      `yaml:"audit"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Gateway    GatewayConfig    `yaml:"gateway"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"` // HTTP listen address, e.g. ":8080"
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gte=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	// RequireAuth rejects requests without a known API key. When false, an
	// anonymous caller is named by its remote host.
	RequireAuth bool `yaml:"require_auth"`
	// TrustCallerHeader lets anonymous callers name themselves with X-Caller-ID.
	// Enable it only behind a proxy that sets the header.
	TrustCallerHeader bool `yaml:"trust_caller_header"`
}

// ProjectConfig maps API keys to a caller id.
type ProjectConfig struct {
	ID      string   `yaml:"id" validate:"required"`
	APIKeys []string `yaml:"api_keys" validate:"dive,required"`
}

type QueryConfig struct {
	MaxLength      int    `yaml:"max_length" validate:"gte=0"`
	MaxParams      int    `yaml:"max_params" validate:"gte=0"`
	MaxParamLength int    `yaml:"max_param_length" validate:"gte=0"`
	Mode           string `yaml:"mode" validate:"omitempty,oneof=read_only read_write"`
}

// ReadOnly reports whether mutating clauses are denied.
func (q QueryConfig) ReadOnly() bool {
	return q.Mode != ModeReadWrite
}

const (
	ModeReadOnly  = "read_only"
	ModeReadWrite = "read_write"
)

// Character classes accepted by sanitizer.denied_char_classes.
const (
	CharClassZeroWidth  = "zero_width"
	CharClassBidi       = "bidi"
	CharClassControl    = "control"
	CharClassConfusable = "confusable"
)

type SanitizerConfig struct {
	DeniedCharClasses []string     `yaml:"denied_char_classes" validate:"dive,oneof=zero_width bidi control confusable"`
	DeniedProcedures  []string     `yaml:"denied_procedures" validate:"dive,required"`
	ExtraRules        []RuleConfig `yaml:"extra_rules" validate:"dive"`
	DisabledRules     []string     `yaml:"disabled_rules"`
	MaxViolations     int          `yaml:"max_violations" validate:"gte=0"`
	// WarnMissingLimit adds a missing_limit warning for RETURN without LIMIT.
	WarnMissingLimit *bool `yaml:"warn_missing_limit"`
}

// RuleConfig is a deny rule added through configuration. It uses the same shape as
// the embedded rule table.
type RuleConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Code    string `yaml:"code"`
	// Pattern is compiled case-insensitively.
	Pattern string `yaml:"pattern" validate:"required,regexp"`
	Message string `yaml:"message"`
	// Scope is "structure" (literals masked, the default) or "text" (full skeleton
	// including literal contents).
	Scope string `yaml:"scope" validate:"omitempty,oneof=structure text"`
	// When is "always" (default) or "read_only".
	When   string `yaml:"when" validate:"omitempty,oneof=always read_only"`
	Params bool   `yaml:"params"`
}

type ComplexityConfig struct {
	MaxScore       int           `yaml:"max_score" validate:"gte=0"`
	MaxDepth       int           `yaml:"max_depth" validate:"gte=0"`
	MaxRange       int           `yaml:"max_range" validate:"gte=0"`
	MaxHops        int           `yaml:"max_hops" validate:"gte=0"` // 0 disables the check
	AllowCartesian bool          `yaml:"allow_cartesian"`
	AllowUnbounded bool          `yaml:"allow_unbounded"`
	Weights        WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the score weights. A section left entirely empty gets the
// default weights; a partially filled one is taken as written.
type WeightsConfig struct {
	Pattern      int `yaml:"pattern" validate:"gte=0"`
	Relationship int `yaml:"relationship" validate:"gte=0"`
	Depth        int `yaml:"depth" validate:"gte=0"`
	Cartesian    int `yaml:"cartesian" validate:"gte=0"`
	Range        int `yaml:"range" validate:"gte=0"`
	Aggregation  int `yaml:"aggregation" validate:"gte=0"`
	Unbounded    int `yaml:"unbounded" validate:"gte=0"`
}

type RateLimitConfig struct {
	RequestsPerWindow float64       `yaml:"requests_per_window" validate:"gt=0"`
	Window            time.Duration `yaml:"window" validate:"gt=0"`
	Burst             float64       `yaml:"burst" validate:"gt=0"`
	Cost              float64       `yaml:"cost" validate:"gt=0"`
	Shards            int           `yaml:"shards" validate:"gt=0,lte=4096"`
	IdleTTL           time.Duration `yaml:"idle_ttl" validate:"gt=0"`
	SweepInterval     time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	ChargeRejected    *bool         `yaml:"charge_rejected"`
}

// Rate is the refill rate in tokens per second.
func (r RateLimitConfig) Rate() float64 {
	return r.RequestsPerWindow / r.Window.Seconds()
}

// ChargesRejected reports whether requests rejected by the sanitizer still cost the
// caller a token.
func (r RateLimitConfig) ChargesRejected() bool {
	return r.ChargeRejected == nil || *r.ChargeRejected
}

// Caller modes for audit.caller_mode.
const (
	CallerHashed = "hashed"
	CallerRaw    = "raw"
)

type AuditConfig struct {
	Strict             bool         `yaml:"strict"`
	CallerMode         string       `yaml:"caller_mode" validate:"omitempty,oneof=hashed raw"`
	CallerSaltEnv      string       `yaml:"caller_salt_env"`
	HMACKeyEnv         string       `yaml:"hmac_key_env"`
	IncludeQuery       bool         `yaml:"include_query"`
	MaxQueryPreview    int          `yaml:"max_query_preview" validate:"gte=0"`
	RedactionPatterns  []string     `yaml:"redaction_patterns" validate:"dive,regexp"`
	EmitDecisionEvents bool         `yaml:"emit_decision_events"`
	Sinks              []SinkConfig `yaml:"sinks" validate:"dive"`
}

// SinkConfig describes one audit sink.
type SinkConfig struct {
	Type     string            `yaml:"type" validate:"required,oneof=file_jsonl webhook badger stdout"`
	Path     string            `yaml:"path"`                                // file_jsonl, badger
	URL      string            `yaml:"url" validate:"omitempty,http_url"`   // webhook
	Headers  map[string]string `yaml:"headers"`                             // webhook
	Timeout  time.Duration     `yaml:"timeout" validate:"gte=0"`            // webhook
	InMemory bool              `yaml:"in_memory"`                           // badger
}

type ExecutorConfig struct {
	Type                 string        `yaml:"type" validate:"omitempty,oneof=none fake neo4j_http"`
	URL                  string        `yaml:"url" validate:"omitempty,http_url"`
	Database             string        `yaml:"database"`
	UsernameEnv          string        `yaml:"username_env"`
	PasswordEnv          string        `yaml:"password_env"`
	Timeout              time.Duration `yaml:"timeout" validate:"gte=0"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp prometheus stdout"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol" validate:"omitempty,oneof=grpc http"` // otlp only
	Service  string `yaml:"service"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

type GatewayConfig struct {
	// PropagateInternalErrors returns ErrInternal to the caller after a recovered
	// panic. When false the failure is only visible in the result.
	PropagateInternalErrors *bool `yaml:"propagate_internal_errors"`
}

func (g GatewayConfig) Propagate() bool {
	return g.PropagateInternalErrors == nil || *g.PropagateInternalErrors
}

// Error is a configuration failure. It is fatal at startup and never surfaced per
// request.
type Error struct {
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a *Error for field.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a *Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load reads configuration from a YAML file, applies defaults and validates it.
// If the file doesn't exist, it returns the default config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, &Error{Msg: "read " + path, Err: err}
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Msg: "parse yaml", Err: err}
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a fully defaulted config.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// DefaultDeniedProcedures are call targets denied unless the operator replaces the
// list.
var DefaultDeniedProcedures = []string{
	"dbms.",
	"apoc.cypher.",
	"apoc.periodic.",
	"apoc.trigger.",
	"apoc.systemdb.",
	"apoc.do.",
	"apoc.schema.",
	"db.create",
	"db.drop",
}

// DefaultWeights are the score weights used when complexity.weights is empty.
func DefaultWeights() WeightsConfig {
	return WeightsConfig{
		Pattern:      10,
		Relationship: 5,
		Depth:        3,
		Cartesian:    50,
		Range:        8,
		Aggregation:  4,
		Unbounded:    100,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Query.MaxLength == 0 {
		cfg.Query.MaxLength = 8192
	}
	if cfg.Query.MaxParams == 0 {
		cfg.Query.MaxParams = 64
	}
	if cfg.Query.MaxParamLength == 0 {
		cfg.Query.MaxParamLength = 4096
	}
	if cfg.Query.Mode == "" {
		cfg.Query.Mode = ModeReadOnly
	}

	if cfg.Sanitizer.DeniedCharClasses == nil {
		cfg.Sanitizer.DeniedCharClasses = []string{CharClassZeroWidth, CharClassBidi, CharClassControl}
	}
	if cfg.Sanitizer.DeniedProcedures == nil {
		cfg.Sanitizer.DeniedProcedures = append([]string(nil), DefaultDeniedProcedures...)
	}
	if cfg.Sanitizer.MaxViolations == 0 {
		cfg.Sanitizer.MaxViolations = 16
	}

	if cfg.Complexity.MaxScore == 0 {
		cfg.Complexity.MaxScore = 200
	}
	if cfg.Complexity.MaxDepth == 0 {
		cfg.Complexity.MaxDepth = 8
	}
	if cfg.Complexity.MaxRange == 0 {
		cfg.Complexity.MaxRange = 10
	}
	if cfg.Complexity.Weights == (WeightsConfig{}) {
		cfg.Complexity.Weights = DefaultWeights()
	}

	if cfg.RateLimit.RequestsPerWindow == 0 {
		cfg.RateLimit.RequestsPerWindow = 60
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.RateLimit.Cost == 0 {
		cfg.RateLimit.Cost = 1
	}
	if cfg.RateLimit.Shards == 0 {
		cfg.RateLimit.Shards = 32
	}
	if cfg.RateLimit.IdleTTL == 0 {
		cfg.RateLimit.IdleTTL = 10 * time.Minute
	}
	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = time.Minute
	}

	if cfg.Audit.CallerMode == "" {
		cfg.Audit.CallerMode = CallerHashed
	}
	if cfg.Audit.HMACKeyEnv == "" {
		cfg.Audit.HMACKeyEnv = "GRAPHGATE_AUDIT_KEY"
	}
	if cfg.Audit.CallerSaltEnv == "" {
		cfg.Audit.CallerSaltEnv = "GRAPHGATE_CALLER_SALT"
	}
	if cfg.Audit.MaxQueryPreview == 0 {
		cfg.Audit.MaxQueryPreview = 512
	}
	if len(cfg.Audit.Sinks) == 0 {
		cfg.Audit.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range cfg.Audit.Sinks {
		if cfg.Audit.Sinks[i].Type == "webhook" && cfg.Audit.Sinks[i].Timeout == 0 {
			cfg.Audit.Sinks[i].Timeout = 3 * time.Second
		}
	}

	if cfg.Executor.Type == "" {
		cfg.Executor.Type = "none"
	}
	if cfg.Executor.Database == "" {
		cfg.Executor.Database = "neo4j"
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = 30 * time.Second
	}

	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "otlp"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = "graphgate"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
