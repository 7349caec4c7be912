package sanitizer

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/straja-ai/graphgate/internal/config"
)

//go:embed rules.yaml
var embeddedRules []byte

// RuleID names a violation. The set is stable; callers may switch on it.
type RuleID string

const (
	RuleQueryTooLong        RuleID = "query_too_long"
	RuleBidiOverride        RuleID = "bidi_override"
	RuleZeroWidth           RuleID = "zero_width"
	RuleControlCharacters   RuleID = "control_characters"
	RuleInvalidEncoding     RuleID = "invalid_encoding"
	RuleConfusable          RuleID = "confusable_characters"
	RuleSyntaxConfusable    RuleID = "syntax_confusable"
	RuleUnterminatedLiteral RuleID = "unterminated_literal"
	RuleStatementChaining   RuleID = "statement_chaining"
	RuleCommentInjection    RuleID = "comment_injection"
	RuleWriteClause         RuleID = "write_clause"
	RuleSchemaCommand       RuleID = "schema_command"
	RuleAdminCommand        RuleID = "admin_command"
	RuleDeniedProcedure     RuleID = "denied_procedure"
	RuleFileNetworkAccess   RuleID = "file_network_access"
	RuleParamInvalidName    RuleID = "param_invalid_name"
	RuleParamInvalidType    RuleID = "param_invalid_type"
	RuleParamLimit          RuleID = "param_limit"
	RuleParamTooLong        RuleID = "param_too_long"
)

// Warning codes.
const (
	WarnConfusableFolded  = "confusable_characters_folded"
	WarnTrailingSemicolon = "trailing_semicolon"
	WarnMissingLimit      = "missing_limit"
)

type ruleFile struct {
	Version int        `yaml:"version"`
	Rules   []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID             string   `yaml:"id"`
	Message        string   `yaml:"message"`
	Pattern        string   `yaml:"pattern"`
	Scope          string   `yaml:"scope"`
	When           string   `yaml:"when"`
	Params         bool     `yaml:"params"`
	ParamPattern   string   `yaml:"param_pattern"`
	CallPrefixes   []string `yaml:"call_prefixes"`
	CallArgPattern string   `yaml:"call_arg_pattern"`
}

// rule is a compiled deny rule. Every matcher is optional; a rule fires when any of
// its matchers does.
type rule struct {
	id       RuleID
	message  string
	source   string // embedded | config
	fullText bool
	pattern  *regexp.Regexp
	params   *regexp.Regexp
	prefixes []string
	callArg  *regexp.Regexp
}

// RuleInfo describes a compiled rule without exposing its patterns.
type RuleInfo struct {
	ID       RuleID
	Message  string
	Source   string
	Params   bool
	Matchers []string
}

func (r *rule) info() RuleInfo {
	ri := RuleInfo{ID: r.id, Message: r.message, Source: r.source, Params: r.params != nil}
	if r.pattern != nil {
		if r.fullText {
			ri.Matchers = append(ri.Matchers, "text")
		} else {
			ri.Matchers = append(ri.Matchers, "structure")
		}
	}
	if len(r.prefixes) > 0 {
		ri.Matchers = append(ri.Matchers, "call_target")
	}
	if r.callArg != nil {
		ri.Matchers = append(ri.Matchers, "call_argument")
	}
	return ri
}

// Fingerprint is the sha256 of the embedded rule table.
func Fingerprint() string {
	sum := sha256.Sum256(embeddedRules)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// compileRules builds the ordered rule list: the embedded table, then
// extra_rules, minus disabled_rules, minus read-only rules in read_write mode.
func compileRules(cfg *config.Config) ([]*rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(embeddedRules, &file); err != nil {
		return nil, &config.Error{Field: "sanitizer", Msg: "embedded rule table", Err: err}
	}

	specs := make([]ruleSpec, 0, len(file.Rules)+len(cfg.Sanitizer.ExtraRules))
	sources := make([]string, 0, cap(specs))
	for _, s := range file.Rules {
		if s.ID == string(RuleDeniedProcedure) && cfg.Sanitizer.DeniedProcedures != nil {
			s.CallPrefixes = cfg.Sanitizer.DeniedProcedures
		}
		specs = append(specs, s)
		sources = append(sources, "embedded")
	}
	for _, r := range cfg.Sanitizer.ExtraRules {
		specs = append(specs, ruleSpec{
			ID:      r.ID,
			Message: r.Message,
			Pattern: foldCase(r.Pattern),
			Scope:   r.Scope,
			When:    r.When,
			Params:  r.Params,
		})
		sources = append(sources, "config")
	}

	disabled := make(map[string]struct{}, len(cfg.Sanitizer.DisabledRules))
	for _, id := range cfg.Sanitizer.DisabledRules {
		disabled[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(specs))
	out := make([]*rule, 0, len(specs))
	for i, s := range specs {
		if strings.TrimSpace(s.ID) == "" {
			return nil, config.Errorf("sanitizer.rules", "rule %d has no id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, config.Errorf("sanitizer.rules", "duplicate rule id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if _, off := disabled[s.ID]; off {
			continue
		}
		if s.When == config.ModeReadOnly && !cfg.Query.ReadOnly() {
			continue
		}
		r, err := compileRule(s)
		if err != nil {
			return nil, err
		}
		r.source = sources[i]
		out = append(out, r)
	}
	return out, nil
}

func compileRule(s ruleSpec) (*rule, error) {
	field := "sanitizer.rules." + s.ID
	r := &rule{id: RuleID(s.ID), message: s.Message, fullText: s.Scope == "text"}
	if r.message == "" {
		r.message = "query matched deny rule " + s.ID
	}

	var err error
	if s.Pattern != "" {
		if r.pattern, err = regexp.Compile(s.Pattern); err != nil {
			return nil, &config.Error{Field: field, Msg: "pattern does not compile", Err: err}
		}
	}
	for _, p := range s.CallPrefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			return nil, config.Errorf(field, "empty call prefix")
		}
		r.prefixes = append(r.prefixes, p)
	}
	if s.CallArgPattern != "" {
		if r.callArg, err = regexp.Compile(s.CallArgPattern); err != nil {
			return nil, &config.Error{Field: field, Msg: "call_arg_pattern does not compile", Err: err}
		}
	}
	if s.Params {
		switch {
		case s.ParamPattern != "":
			if r.params, err = regexp.Compile(s.ParamPattern); err != nil {
				return nil, &config.Error{Field: field, Msg: "param_pattern does not compile", Err: err}
			}
		case len(r.prefixes) > 0:
			// parameter values carrying a procedure name, e.g. a dynamic
			// apoc.cypher.run argument
			r.params = prefixPattern(r.prefixes)
		default:
			r.params = r.pattern
		}
	}
	if r.pattern == nil && len(r.prefixes) == 0 && r.callArg == nil {
		return nil, config.Errorf(field, "rule has no matcher")
	}
	return r, nil
}

// foldCase makes an operator pattern case-insensitive. Targets are lower-cased
// before matching, so a pattern written as `:Secret\b` would otherwise never fire.
func foldCase(pattern string) string {
	if pattern == "" || strings.HasPrefix(pattern, "(?i)") {
		return pattern
	}
	return "(?i)" + pattern
}

func prefixPattern(prefixes []string) *regexp.Regexp {
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(fmt.Sprintf(`(?:^|[^\w.])(?:%s)`, strings.Join(quoted, "|")))
}
