// Package redact removes secrets and personal data from free-form text before it is
// logged or written to an audit sink.
package redact

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// secretRule rewrites one kind of credential. Rules run in order over the output
// of the previous rule.
type secretRule struct {
	name string
	re   *regexp.Regexp
	repl string                                  // expansion template when fn is nil
	fn   func(re *regexp.Regexp, m string) string // per-match rewrite
}

var secretRules = []secretRule{
	{name: "authorization", re: regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)([A-Za-z0-9._\-+/=]+)`), repl: "${1}[REDACTED]"},
	{name: "bearer", re: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`), repl: "${1}[REDACTED]"},
	{name: "api_key_list", re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*\[)([^\]]+)(\])`), repl: "${1}REDACTED${3}"},
	{name: "api_key", re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), repl: "${1}[REDACTED]"},
	{name: "gateway_key", re: regexp.MustCompile(`\bgg_[A-Za-z0-9]{16,}\b`), repl: "gg_[REDACTED]"},
	{name: "basic_auth", re: regexp.MustCompile(`(?i)(basic\s+)([A-Za-z0-9+/=]{8,})`), repl: "${1}[REDACTED]"},
	{name: "password", re: regexp.MustCompile(`(?i)(password|passwd|pwd)(\s*[:=]\s*)(\S+)`), repl: "${1}${2}[REDACTED]"},
	{name: "key_header", re: regexp.MustCompile(`(?i)(x-api-key|x-graphgate-key)\s*[:=]\s*([A-Za-z0-9._\-+/=]+)`), repl: "${1}=[REDACTED]"},
	{name: "key_assignment", re: regexp.MustCompile(`(?i)(key|token)\s*[:=]\s*([A-Za-z0-9._\-+/=]{6,})`), fn: redactAssignment},
	// Database and webhook URLs carry credentials in userinfo, paths and queries.
	{name: "url", re: regexp.MustCompile(`\b(?:https?|bolt|neo4j)(?:\+ssc|\+s)?://[^\s"'<>]+`), fn: redactURL},
}

// String redacts known secret patterns from free-form strings.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range secretRules {
		if r.fn == nil {
			s = r.re.ReplaceAllString(s, r.repl)
			continue
		}
		re, fn := r.re, r.fn
		s = re.ReplaceAllStringFunc(s, func(m string) string { return fn(re, m) })
	}
	for strings.Contains(s, "[REDACTED][REDACTED]") {
		s = strings.ReplaceAll(s, "[REDACTED][REDACTED]", "[REDACTED]")
	}
	return s
}

// SecretRules lists the names of the built-in secret rules in application order.
func SecretRules() []string {
	out := make([]string, len(secretRules))
	for i, r := range secretRules {
		out[i] = r.name
	}
	return out
}

func redactAssignment(re *regexp.Regexp, m string) string {
	if strings.Contains(m, "[REDACTED]") {
		return m
	}
	sub := re.FindStringSubmatch(m)
	if len(sub) < 3 {
		return m
	}
	return sub[1] + "=[REDACTED]"
}

// redactURL keeps scheme, host and the last path segment. Userinfo, query and
// fragment are dropped.
func redactURL(_ *regexp.Regexp, raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	prefix := u.Scheme + "://" + u.Host + "/"
	if strings.HasSuffix(u.Path, "/") {
		return prefix + "[REDACTED_PATH]"
	}
	switch base := path.Base(u.Path); base {
	case ".", "/", "":
		if u.RawQuery == "" && u.User == nil && u.Path == "" {
			return strings.TrimSuffix(prefix, "/")
		}
		return prefix + "[REDACTED_PATH]"
	default:
		return prefix + base
	}
}
