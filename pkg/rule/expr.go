package rule

import (
	"strconv"
	"strings"
)

// Operator is a comparison operator of a keep expression.
type Operator string

const (
	OpEq Operator = "="
	OpNe Operator = "!="
	OpLt Operator = "<"
	OpGt Operator = ">"
	OpLe Operator = "<="
	OpGe Operator = ">="
)

// Connective joins two boolean expressions.
type Connective string

const (
	And Connective = "&&"
	Or  Connective = "||"
)

// Expr is a boolean row expression. Implementations are *Comparison and *Logical.
type Expr interface {
	String() string
	expr()
}

// Literal is a constant on the right side of a comparison. Value holds a
// string, int64, float64, bool or nil.
type Literal struct {
	Value any
}

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return quoteLiteral(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case bool:
		return strconv.FormatBool(v)
	default:
		return "null"
	}
}

// Comparison compares a column with a literal.
type Comparison struct {
	Column string
	Op     Operator
	Value  Literal
}

func (c *Comparison) expr() {}

func (c *Comparison) String() string {
	return quoteIdent(c.Column) + " " + string(c.Op) + " " + c.Value.String()
}

// Logical combines two expressions with && or ||.
type Logical struct {
	Op    Connective
	Left  Expr
	Right Expr
}

func (l *Logical) expr() {}

func (l *Logical) String() string {
	return "(" + l.Left.String() + " " + string(l.Op) + " " + l.Right.String() + ")"
}

// ExprColumns returns the columns referenced by e in order of appearance,
// without duplicates.
func ExprColumns(e Expr) []string {
	var cols []string
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *Comparison:
			if !seen[n.Column] {
				seen[n.Column] = true
				cols = append(cols, n.Column)
			}
		case *Logical:
			walk(n.Left)
			walk(n.Right)
		}
	}
	walk(e)
	return cols
}
