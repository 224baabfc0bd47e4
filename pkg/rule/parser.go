package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
)

type clauseSpec struct {
	required []string
	optional []string
}

// clauses lists the canonical clause keys per verb.
var clauses = map[Verb]clauseSpec{
	VerbHeader:  {required: []string{"rownum"}},
	VerbRename:  {required: []string{"col"}, optional: []string{"to"}},
	VerbReplace: {required: []string{"col"}, optional: []string{"on", "with", "global", "ignoreCase"}},
	VerbSetType: {required: []string{"col"}, optional: []string{"type", "format"}},
	VerbKeep:    {required: []string{"row"}},
}

// Parse parses a single rule string. Errors are reported as rule index 0.
func Parse(s string) (Rule, error) {
	return ParseIndexed(0, s)
}

// ParseAll parses rule strings in order, stopping at the first failure.
// The returned ParseError names the index of the failing rule.
func ParseAll(ruleStrings []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(ruleStrings))
	for i, s := range ruleStrings {
		r, err := ParseIndexed(i, s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ParseIndexed parses s, reporting failures as rule index.
func ParseIndexed(index int, s string) (Rule, error) {
	p := &parser{index: index}
	return p.parse(s)
}

type parser struct {
	index int
	verb  Verb
}

type clause struct {
	key  string
	pos  int
	toks []token
}

func (p *parser) fail(format string, args ...interface{}) error {
	return errors.NewParseError(p.index, string(p.verb), fmt.Sprintf(format, args...))
}

func (p *parser) parse(s string) (Rule, error) {
	toks, err := lex(s)
	if err != nil {
		return nil, p.fail("%v", err)
	}
	if toks[0].kind == tokEOF {
		return nil, p.fail("empty rule")
	}
	if toks[0].kind != tokIdent {
		return nil, p.fail("expected verb, found %s", toks[0].describe())
	}
	p.verb = Verb(strings.ToLower(toks[0].text))
	spec, ok := clauses[p.verb]
	if !ok {
		return nil, p.fail("unknown verb %q", toks[0].text)
	}

	found, err := p.splitClauses(toks[1:], spec)
	if err != nil {
		return nil, err
	}
	for _, key := range spec.required {
		if _, ok := found[key]; !ok {
			return nil, p.fail("missing required clause %s:", key)
		}
	}

	switch p.verb {
	case VerbHeader:
		return p.header(found)
	case VerbRename:
		return p.rename(found)
	case VerbReplace:
		return p.replace(found)
	case VerbSetType:
		return p.setType(found)
	default:
		return p.keep(found)
	}
}

// splitClauses groups the tokens after the verb by clause key. Keys match
// case-insensitively and are returned in canonical spelling.
func (p *parser) splitClauses(toks []token, spec clauseSpec) (map[string]clause, error) {
	canonical := make(map[string]string)
	for _, k := range append(append([]string{}, spec.required...), spec.optional...) {
		canonical[strings.ToLower(k)] = k
	}

	found := make(map[string]clause)
	var current *clause
	flush := func() error {
		if current == nil {
			return nil
		}
		if len(current.toks) == 0 {
			return p.fail("clause %s: has no value", current.key)
		}
		found[current.key] = *current
		return nil
	}

	for _, t := range toks {
		switch t.kind {
		case tokKey:
			if err := flush(); err != nil {
				return nil, err
			}
			key, ok := canonical[strings.ToLower(t.text)]
			if !ok {
				return nil, p.fail("unknown clause %s:", t.text)
			}
			if _, dup := found[key]; dup {
				return nil, p.fail("duplicate clause %s:", key)
			}
			current = &clause{key: key, pos: t.pos}
		case tokEOF:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			if current == nil {
				return nil, p.fail("expected clause, found %s", t.describe())
			}
			current.toks = append(current.toks, t)
		}
	}
	return found, nil
}

func (p *parser) header(found map[string]clause) (Rule, error) {
	n, err := p.intValue(found["rownum"])
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, p.fail("rownum must be at least 1, got %d", n)
	}
	return &Header{RowNum: n}, nil
}

func (p *parser) rename(found map[string]clause) (Rule, error) {
	col, err := p.nameValue(found["col"])
	if err != nil {
		return nil, err
	}
	r := &Rename{Column: col}
	if c, ok := found["to"]; ok {
		if r.To, err = p.nameValue(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (p *parser) replace(found map[string]clause) (Rule, error) {
	cols, err := p.listValue(found["col"])
	if err != nil {
		return nil, err
	}
	r := &Replace{Cols: cols, Global: true}
	if c, ok := found["on"]; ok {
		if r.On, err = p.literalValue(c); err != nil {
			return nil, err
		}
	}
	if c, ok := found["with"]; ok {
		if r.With, err = p.literalValue(c); err != nil {
			return nil, err
		}
	}
	if c, ok := found["global"]; ok {
		if r.Global, err = p.boolValue(c); err != nil {
			return nil, err
		}
	}
	if c, ok := found["ignoreCase"]; ok {
		if r.IgnoreCase, err = p.boolValue(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (p *parser) setType(found map[string]clause) (Rule, error) {
	cols, err := p.listValue(found["col"])
	if err != nil {
		return nil, err
	}
	r := &SetType{Cols: cols, Type: dataset.TypeString}
	if c, ok := found["type"]; ok {
		name, err := p.nameValue(c)
		if err != nil {
			return nil, err
		}
		t, ok := dataset.ParseType(name)
		if !ok {
			return nil, p.fail("unsupported type %q", name)
		}
		r.Type = t
	}
	if c, ok := found["format"]; ok {
		if r.Format, err = p.literalValue(c); err != nil {
			return nil, err
		}
		if r.Type != dataset.TypeTimestamp {
			return nil, p.fail("format: only applies to type timestamp")
		}
	}
	return r, nil
}

func (p *parser) keep(found map[string]clause) (Rule, error) {
	c := found["row"]
	ep := &exprParser{p: p, toks: c.toks}
	e, err := ep.parseOr()
	if err != nil {
		return nil, err
	}
	if ep.pos < len(ep.toks) {
		return nil, p.fail("unexpected %s in row expression", ep.toks[ep.pos].describe())
	}
	return &Keep{Row: e}, nil
}

func (p *parser) single(c clause) (token, error) {
	if len(c.toks) != 1 {
		return token{}, p.fail("clause %s: expects a single value, found %d tokens", c.key, len(c.toks))
	}
	return c.toks[0], nil
}

func (p *parser) intValue(c clause) (int, error) {
	t, err := p.single(c)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(t.text)
	if t.kind != tokNumber || err != nil {
		return 0, p.fail("clause %s: expects an integer, found %s", c.key, t.describe())
	}
	return n, nil
}

func (p *parser) nameValue(c clause) (string, error) {
	t, err := p.single(c)
	if err != nil {
		return "", err
	}
	name, ok := columnName(t)
	if !ok {
		return "", p.fail("clause %s: expects a name, found %s", c.key, t.describe())
	}
	return name, nil
}

func (p *parser) literalValue(c clause) (string, error) {
	t, err := p.single(c)
	if err != nil {
		return "", err
	}
	if t.kind != tokString {
		return "", p.fail("clause %s: expects a quoted literal, found %s", c.key, t.describe())
	}
	return t.text, nil
}

func (p *parser) boolValue(c clause) (bool, error) {
	t, err := p.single(c)
	if err != nil {
		return false, err
	}
	if t.kind == tokIdent {
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, p.fail("clause %s: expects true or false, found %s", c.key, t.describe())
}

// listValue parses `name (, name)*`.
func (p *parser) listValue(c clause) ([]string, error) {
	var names []string
	expectName := true
	for _, t := range c.toks {
		if expectName {
			name, ok := columnName(t)
			if !ok {
				return nil, p.fail("clause %s: expects a column name, found %s", c.key, t.describe())
			}
			names = append(names, name)
		} else if t.kind != tokComma {
			return nil, p.fail("clause %s: expects ',' between names, found %s", c.key, t.describe())
		}
		expectName = !expectName
	}
	if expectName {
		return nil, p.fail("clause %s: trailing ','", c.key)
	}
	return names, nil
}

func columnName(t token) (string, bool) {
	switch t.kind {
	case tokIdent, tokQuotedIdent, tokString, tokNumber:
		return t.text, t.text != ""
	default:
		return "", false
	}
}

type exprParser struct {
	p    *parser
	toks []token
	pos  int
}

func (e *exprParser) peek() token {
	if e.pos < len(e.toks) {
		return e.toks[e.pos]
	}
	return token{kind: tokEOF}
}

func (e *exprParser) next() token {
	t := e.peek()
	if e.pos < len(e.toks) {
		e.pos++
	}
	return t
}

func (e *exprParser) parseOr() (Expr, error) {
	left, err := e.parseAnd()
	if err != nil {
		return nil, err
	}
	for e.peek().kind == tokOr {
		e.next()
		right, err := e.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: Or, Left: left, Right: right}
	}
	return left, nil
}

func (e *exprParser) parseAnd() (Expr, error) {
	left, err := e.parsePrimary()
	if err != nil {
		return nil, err
	}
	for e.peek().kind == tokAnd {
		e.next()
		right, err := e.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: And, Left: left, Right: right}
	}
	return left, nil
}

func (e *exprParser) parsePrimary() (Expr, error) {
	t := e.next()
	if t.kind == tokLParen {
		inner, err := e.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := e.next(); closing.kind != tokRParen {
			return nil, e.p.fail("expected ')' in row expression, found %s", closing.describe())
		}
		return inner, nil
	}

	if t.kind != tokIdent && t.kind != tokQuotedIdent {
		return nil, e.p.fail("expected column name in row expression, found %s", t.describe())
	}
	op := e.next()
	if op.kind != tokOp {
		return nil, e.p.fail("expected comparison operator after %q, found %s", t.text, op.describe())
	}
	lit, err := e.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &Comparison{Column: t.text, Op: Operator(op.text), Value: lit}, nil
}

func (e *exprParser) parseLiteral() (Literal, error) {
	t := e.next()
	switch t.kind {
	case tokString:
		return Literal{Value: t.text}, nil
	case tokNumber:
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return Literal{Value: n}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Literal{}, e.p.fail("invalid number %q", t.text)
		}
		return Literal{Value: f}, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		case "null":
			return Literal{Value: nil}, nil
		}
	}
	return Literal{}, e.p.fail("expected literal in row expression, found %s", t.describe())
}
