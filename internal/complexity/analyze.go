package complexity

import (
	"errors"
	"strconv"
	"strings"

	"github.com/straja-ai/graphgate/internal/lexer"
)

var aggregates = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {}, "collect": {},
	"stdev": {}, "stdevp": {}, "percentilecont": {}, "percentiledisc": {},
}

// reserved keywords are never taken as variable names. Other keywords (USER,
// INDEX, START...) are soft and may name variables.
var reserved = map[string]struct{}{
	"MATCH": {}, "OPTIONAL": {}, "WHERE": {}, "RETURN": {}, "WITH": {}, "UNWIND": {},
	"ORDER": {}, "BY": {}, "SKIP": {}, "LIMIT": {}, "UNION": {}, "ALL": {}, "DISTINCT": {},
	"CREATE": {}, "MERGE": {}, "DELETE": {}, "DETACH": {}, "SET": {}, "REMOVE": {},
	"CALL": {}, "YIELD": {}, "LOAD": {}, "CSV": {}, "FROM": {}, "AND": {}, "OR": {},
	"XOR": {}, "NOT": {}, "AS": {}, "CASE": {}, "WHEN": {}, "THEN": {}, "ELSE": {},
	"END": {}, "IN": {}, "IS": {}, "NULL": {}, "ON": {}, "FOREACH": {}, "USING": {},
	"EXISTS": {}, "ASC": {}, "DESC": {}, "ASCENDING": {}, "DESCENDING": {},
}

// clauseKeywords end the current pattern or predicate context at its depth.
var clauseKeywords = map[string]struct{}{
	"MATCH": {}, "OPTIONAL": {}, "WHERE": {}, "RETURN": {}, "WITH": {}, "UNWIND": {},
	"CALL": {}, "UNION": {}, "CREATE": {}, "MERGE": {}, "SET": {}, "DELETE": {},
	"DETACH": {}, "REMOVE": {}, "FOREACH": {}, "ORDER": {}, "SKIP": {}, "LIMIT": {},
	"LOAD": {}, "YIELD": {}, "USING": {},
}

type ctxKind int

const (
	ctxPattern ctxKind = iota
	ctxWhere
)

// ctx is an open MATCH pattern list or WHERE clause at a bracket depth.
type ctx struct {
	kind  ctxKind
	depth int
	group int             // current pattern group, -1 until the pattern starts
	pred  map[string]bool // variables referenced by the current predicate
}

// scope tracks pattern groups between UNION boundaries.
type scope struct {
	parent []int
	owner  map[string]int // variable -> first group that bound it
}

func (s *scope) add() int {
	s.parent = append(s.parent, len(s.parent))
	return len(s.parent) - 1
}

func (s *scope) find(i int) int {
	for s.parent[i] != i {
		s.parent[i] = s.parent[s.parent[i]]
		i = s.parent[i]
	}
	return i
}

func (s *scope) union(a, b int) {
	ra, rb := s.find(a), s.find(b)
	if ra != rb {
		s.parent[rb] = ra
	}
}

func (s *scope) bind(name string, group int) {
	if g, ok := s.owner[name]; ok {
		s.union(g, group)
		return
	}
	s.owner[name] = group
}

// link joins every group bound to one of names.
func (s *scope) link(names map[string]bool) {
	first := -1
	for n := range names {
		g, ok := s.owner[n]
		if !ok {
			continue
		}
		if first < 0 {
			first = g
			continue
		}
		s.union(first, g)
	}
}

func (s *scope) components() int {
	n := 0
	for i := range s.parent {
		if s.find(i) == i {
			n++
		}
	}
	return n
}

type bracket struct {
	open byte
	rel  bool
}

// Analyze counts the features of text. Score is left at zero.
func Analyze(text string) Metrics {
	var (
		m     Metrics
		toks  = significant(lexer.All(text))
		stack []bracket
		ctxs  []*ctx
		sc    = &scope{owner: map[string]int{}}
	)

	closeScope := func() {
		if c := sc.components(); c > 1 {
			m.CartesianProducts += c - 1
		}
		sc = &scope{owner: map[string]int{}}
	}
	// pop finishes contexts opened at or below depth d.
	pop := func(d int) {
		for len(ctxs) > 0 && ctxs[len(ctxs)-1].depth >= d {
			top := ctxs[len(ctxs)-1]
			if top.kind == ctxWhere {
				sc.link(top.pred)
			}
			ctxs = ctxs[:len(ctxs)-1]
		}
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		depth := len(stack)

		switch {
		case t.IsPunct("(") || t.IsPunct("[") || t.IsPunct("{"):
			rel := t.Text == "[" && i > 0 && toks[i-1].IsPunct("-")
			stack = append(stack, bracket{open: t.Text[0], rel: rel})
			if len(stack) > m.MaxDepth {
				m.MaxDepth = len(stack)
			}
			if top := topCtx(ctxs); top != nil && top.kind == ctxPattern && top.depth == depth && top.group < 0 {
				top.group = sc.add()
				m.PatternCount++
			}
			continue
		case t.IsPunct(")") || t.IsPunct("]") || t.IsPunct("}"):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			pop(len(stack) + 1)
			if t.Text == ")" && isRelationshipAfter(toks, i) {
				m.RelationshipCount++
			}
			continue
		case t.IsPunct("*") && len(stack) > 0 && stack[len(stack)-1].rel:
			lower, upper, bounded, next := parseRange(toks, i+1)
			i = next - 1
			if !bounded {
				m.UnboundedRanges++
				continue
			}
			if span := upper - lower; span > m.MaxRangeSpan {
				m.MaxRangeSpan = span
			}
			if upper > m.MaxHops {
				m.MaxHops = upper
			}
			continue
		case t.IsPunct(","):
			if top := topCtx(ctxs); top != nil && top.kind == ctxPattern && top.depth == depth {
				top.group = -1
			}
			continue
		case t.Kind == lexer.Keyword:
			if _, ok := clauseKeywords[t.Upper]; ok {
				pop(depth)
				switch t.Upper {
				case "UNION":
					pop(0)
					closeScope()
				case "MATCH":
					ctxs = append(ctxs, &ctx{kind: ctxPattern, depth: depth, group: -1})
				case "WHERE":
					ctxs = append(ctxs, &ctx{kind: ctxWhere, depth: depth, pred: map[string]bool{}})
				}
				continue
			}
			if t.Upper == "AND" || t.Upper == "OR" || t.Upper == "XOR" {
				if top := topCtx(ctxs); top != nil && top.kind == ctxWhere && top.depth == depth {
					sc.link(top.pred)
					top.pred = map[string]bool{}
				}
				continue
			}
		case t.Kind == lexer.Ident && isCall(toks, i):
			if _, ok := aggregates[strings.ToLower(t.Text)]; ok {
				m.AggregationCount++
			}
			continue
		}

		name, ok := variable(toks, i, stack)
		if !ok {
			continue
		}
		top := topCtx(ctxs)
		if top == nil {
			continue
		}
		switch top.kind {
		case ctxPattern:
			if top.group < 0 && top.depth == depth {
				// path variable: p = (a)-->(b)
				top.group = sc.add()
				m.PatternCount++
			}
			if top.group >= 0 {
				sc.bind(name, top.group)
			}
		case ctxWhere:
			top.pred[name] = true
		}
	}
	pop(0)
	closeScope()
	return m
}

func topCtx(ctxs []*ctx) *ctx {
	if len(ctxs) == 0 {
		return nil
	}
	return ctxs[len(ctxs)-1]
}

func significant(all []lexer.Token) []lexer.Token {
	out := all[:0]
	for _, t := range all {
		if t.Kind == lexer.LineComment || t.Kind == lexer.BlockComment {
			continue
		}
		out = append(out, t)
	}
	return out
}

// isRelationshipAfter reports whether the ")" at i starts a relationship:
// ")-[", ")--", ")->", or ")<-".
func isRelationshipAfter(toks []lexer.Token, i int) bool {
	if i+2 >= len(toks) {
		return false
	}
	a, b := toks[i+1], toks[i+2]
	if a.IsPunct("-") {
		return b.IsPunct("[") || b.IsPunct("-") || b.IsPunct(">")
	}
	return a.IsPunct("<") && b.IsPunct("-")
}

// maxRangeBound caps parsed range bounds so that span times weight stays in range.
const maxRangeBound = 1 << 20

// parseRange reads the range after "*" starting at i. It returns the bounds,
// whether an upper bound exists, and the index of the first unconsumed token.
func parseRange(toks []lexer.Token, i int) (lower, upper int, bounded bool, next int) {
	num := func(j int) (int, bool) {
		if j < len(toks) && toks[j].Kind == lexer.Number {
			n, err := strconv.Atoi(strings.ReplaceAll(toks[j].Text, "_", ""))
			if errors.Is(err, strconv.ErrRange) {
				return maxRangeBound, true
			}
			if err == nil {
				return min(n, maxRangeBound), true
			}
		}
		return 0, false
	}
	dots := func(j int) bool { return j < len(toks) && toks[j].IsPunct("..") }

	lo, hasLo := num(i)
	if hasLo {
		i++
	}
	if !dots(i) {
		if hasLo {
			return lo, lo, true, i // *n
		}
		return 1, 0, false, i // *
	}
	i++
	hi, hasHi := num(i)
	if !hasLo {
		lo = 1
	}
	if !hasHi {
		return lo, 0, false, i // *a..
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, true, i + 1
}

func isCall(toks []lexer.Token, i int) bool {
	if i+1 >= len(toks) || !toks[i+1].IsPunct("(") {
		return false
	}
	return i == 0 || !toks[i-1].IsPunct(".")
}

// variable returns the name when the token at i is a variable reference: an
// identifier that is not a label, type, property, map key or function name.
func variable(toks []lexer.Token, i int, stack []bracket) (string, bool) {
	t := toks[i]
	var name string
	switch t.Kind {
	case lexer.Ident:
		name = t.Text
	case lexer.QuotedIdent:
		name = strings.ReplaceAll(t.Text[1:len(t.Text)-1], "``", "`")
	case lexer.Keyword:
		if _, ok := reserved[t.Upper]; ok {
			return "", false
		}
		name = t.Text
	default:
		return "", false
	}
	inMap := len(stack) > 0 && stack[len(stack)-1].open == '{'
	if i > 0 {
		p := toks[i-1]
		// inside a map, ":" separates a key from its value expression
		if (p.IsPunct(":") && !inMap) || p.IsPunct(".") || p.IsPunct("|") || p.IsPunct("&") || p.IsPunct("!") {
			return "", false
		}
	}
	if i+1 < len(toks) {
		n := toks[i+1]
		if n.IsPunct("(") {
			return "", false
		}
		if n.IsPunct(":") && inMap {
			return "", false
		}
	}
	return name, true
}
