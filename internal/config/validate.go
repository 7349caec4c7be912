package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is built once; a *validator.Validate caches struct metadata and is safe
// for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("regexp", validateRegexp)
	return v
}

// validateRegexp accepts strings that compile as RE2 patterns.
func validateRegexp(fl validator.FieldLevel) bool {
	_, err := regexp.Compile(fl.Field().String())
	return err == nil
}

// Validate checks the loaded config for required fields and safe values. Every
// failure is a *Error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &Error{Msg: "config is nil"}
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return &Error{Msg: "invalid", Err: err}
	}

	seen := map[string]string{}
	for _, p := range cfg.Projects {
		for _, k := range p.APIKeys {
			if other, ok := seen[k]; ok && other != p.ID {
				return Errorf("projects", "api key shared by %q and %q", other, p.ID)
			}
			seen[k] = p.ID
		}
	}
	if cfg.Server.RequireAuth && len(seen) == 0 {
		return Errorf("server.require_auth", "at least one project api key must be configured")
	}

	if err := validateRuleIDs(cfg.Sanitizer); err != nil {
		return err
	}
	if err := validateSinks(cfg.Audit.Sinks); err != nil {
		return err
	}
	if err := validateExecutor(cfg.Executor); err != nil {
		return err
	}
	if err := validateTelemetry(cfg.Telemetry); err != nil {
		return err
	}
	return nil
}

func fieldError(fe validator.FieldError) *Error {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:] // drop the root type name
	}
	msg := fe.Tag()
	switch fe.Tag() {
	case "required":
		msg = "must be set"
	case "oneof":
		msg = fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gt", "gte", "lte":
		msg = fmt.Sprintf("must satisfy %s %s", fe.Tag(), fe.Param())
	case "regexp":
		msg = "pattern does not compile"
	case "http_url":
		msg = "must be an http or https url"
	}
	return &Error{Field: field, Msg: msg}
}

func validateRuleIDs(s SanitizerConfig) error {
	ids := map[string]struct{}{}
	for i, r := range s.ExtraRules {
		if _, ok := ids[r.ID]; ok {
			return Errorf(fmt.Sprintf("sanitizer.extra_rules[%d].id", i), "duplicate rule id %q", r.ID)
		}
		ids[r.ID] = struct{}{}
	}
	return nil
}

func validateSinks(sinks []SinkConfig) error {
	for i, s := range sinks {
		field := fmt.Sprintf("audit.sinks[%d]", i)
		switch s.Type {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return Errorf(field+".path", "file_jsonl sink requires a path")
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return Errorf(field+".url", "webhook sink requires a url")
			}
		case "badger":
			if !s.InMemory && strings.TrimSpace(s.Path) == "" {
				return Errorf(field+".path", "badger sink requires a path unless in_memory is set")
			}
		}
	}
	return nil
}

func validateExecutor(e ExecutorConfig) error {
	if e.Type != "neo4j_http" {
		return nil
	}
	if strings.TrimSpace(e.URL) == "" {
		return Errorf("executor.url", "neo4j_http executor requires a url")
	}
	u, err := url.Parse(e.URL)
	if err != nil || u.Host == "" {
		return Errorf("executor.url", "invalid url")
	}
	if err := blockPrivateHost(u.Host, e.AllowPrivateNetworks); err != nil {
		return &Error{Field: "executor.url", Msg: "blocked", Err: err}
	}
	return nil
}

func validateTelemetry(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if t.Exporter == "otlp" && strings.TrimSpace(t.Endpoint) == "" {
		return Errorf("telemetry.endpoint", "otlp exporter enabled but endpoint is empty")
	}
	return nil
}

func blockPrivateHost(hostport string, allowPrivate bool) error {
	if allowPrivate {
		return nil
	}
	host := hostport
	if strings.Contains(hostport, "]") || strings.Contains(hostport, ":") {
		h, _, err := net.SplitHostPort(hostport)
		if err == nil {
			host = h
		}
	}
	if strings.EqualFold(strings.TrimSpace(host), "localhost") {
		return errors.New("private network host localhost blocked for SSRF safety")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("private network IP %s blocked for SSRF safety", ip.String())
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	privateBlocks := []*net.IPNet{
		{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
		{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
		{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
		{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
		{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)},
		{IP: net.ParseIP("::1"), Mask: net.CIDRMask(128, 128)},
		{IP: net.ParseIP("fc00::"), Mask: net.CIDRMask(7, 128)},
		{IP: net.ParseIP("fe80::"), Mask: net.CIDRMask(10, 128)},
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
