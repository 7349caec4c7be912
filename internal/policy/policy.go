// Package policy holds the access policies consulted after the internal gates
// pass and before a query is executed.
package policy

import (
	"context"
	"strings"

	"github.com/straja-ai/graphgate/internal/lexer"
	"github.com/straja-ai/graphgate/internal/query"
)

// Decision is the result of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Policy  string `json:"policy"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Engine decides whether an admitted query may be executed.
type Engine interface {
	Name() string
	Check(ctx context.Context, q *query.Query) Decision
}

// Reason codes.
const (
	CodeReadOnly       = "read_only_violation"
	CodeWriteProcedure = "write_procedure"
)

type allowAll struct{}

// AllowAll returns a policy that admits every query.
func AllowAll() Engine { return allowAll{} }

func (allowAll) Name() string { return "allow_all" }

func (allowAll) Check(context.Context, *query.Query) Decision {
	return Decision{Allowed: true, Policy: "allow_all"}
}

// mutating lists clause keywords that write to the store.
var mutating = map[string]bool{
	"CREATE": true, "MERGE": true, "DELETE": true, "DETACH": true,
	"SET": true, "REMOVE": true, "DROP": true, "FOREACH": true,
}

// DefaultWritePrefixes are procedure namespaces that mutate data.
var DefaultWritePrefixes = []string{
	"apoc.create.",
	"apoc.merge.",
	"apoc.refactor.",
	"apoc.nodes.delete",
	"apoc.atomic.",
	"apoc.lock.",
	"apoc.load.",
	"db.index.fulltext.create",
	"gds.graph.drop",
}

// ReadOnly denies mutating clauses and write procedures. It works on the token
// stream, so it holds even when the sanitizer's write rules are disabled.
type ReadOnly struct {
	WritePrefixes []string
}

// NewReadOnly returns a read-only policy with DefaultWritePrefixes.
func NewReadOnly() *ReadOnly {
	return &ReadOnly{WritePrefixes: DefaultWritePrefixes}
}

func (p *ReadOnly) Name() string { return "read_only" }

// Check scans both the forwarded text, whose literal spans are the ones the store
// sees, and the skeleton, where look-alike keywords are folded.
func (p *ReadOnly) Check(_ context.Context, q *query.Query) Decision {
	if d := p.check(lexer.All(q.Text())); !d.Allowed {
		return d
	}
	if q.Skeleton() == q.Text() {
		return Decision{Allowed: true, Policy: p.Name()}
	}
	return p.check(lexer.All(q.Skeleton()))
}

func (p *ReadOnly) check(toks []lexer.Token) Decision {
	for i, t := range toks {
		if t.Kind == lexer.Keyword && mutating[t.Upper] {
			// a keyword used as a property, label or map key is an identifier
			if (i > 0 && (toks[i-1].IsPunct(".") || toks[i-1].IsPunct(":"))) ||
				(i+1 < len(toks) && toks[i+1].IsPunct(":")) {
				continue
			}
			return Decision{
				Policy: p.Name(),
				Code:   CodeReadOnly,
				Reason: "read-only mode: " + t.Upper + " clause not permitted",
			}
		}
		if name, ok := callName(toks, i); ok {
			for _, prefix := range p.WritePrefixes {
				if strings.HasPrefix(name, prefix) {
					return Decision{
						Policy: p.Name(),
						Code:   CodeWriteProcedure,
						Reason: "read-only mode: procedure " + name + " may write",
					}
				}
			}
		}
	}
	return Decision{Allowed: true, Policy: p.Name()}
}

// callName returns the dotted, lower-cased name following a CALL at toks[i].
func callName(toks []lexer.Token, i int) (string, bool) {
	if !toks[i].Is("CALL") || i+1 >= len(toks) {
		return "", false
	}
	var b strings.Builder
	for j := i + 1; j < len(toks); j++ {
		t := toks[j]
		switch {
		case t.Kind == lexer.Ident || t.Kind == lexer.Keyword:
			b.WriteString(strings.ToLower(t.Text))
		case t.Kind == lexer.QuotedIdent:
			b.WriteString(strings.ToLower(strings.Trim(t.Text, "`")))
		case t.IsPunct("."):
			b.WriteByte('.')
		default:
			return b.String(), b.Len() > 0
		}
	}
	return b.String(), b.Len() > 0
}
