package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
	"github.com/ajitpratap0/dataprep/pkg/errors"
	"github.com/ajitpratap0/dataprep/pkg/rule"
)

// predicate reports whether a row satisfies a keep expression.
type predicate func(row int) bool

// compile type-checks e against the columns of ds and returns its row
// predicate. Type errors are reported before any row is evaluated. A null
// cell only satisfies "= null" and "!= null" comparisons in the expected way;
// every other comparison with a null cell is false.
func compile(e rule.Expr, ds *dataset.Dataset, requireColumn func(string) error, ruleIndex int) (predicate, error) {
	switch x := e.(type) {
	case *rule.Logical:
		left, err := compile(x.Left, ds, requireColumn, ruleIndex)
		if err != nil {
			return nil, err
		}
		right, err := compile(x.Right, ds, requireColumn, ruleIndex)
		if err != nil {
			return nil, err
		}
		if x.Op == rule.And {
			return func(row int) bool { return left(row) && right(row) }, nil
		}
		return func(row int) bool { return left(row) || right(row) }, nil
	case *rule.Comparison:
		if err := requireColumn(x.Column); err != nil {
			return nil, err
		}
		col, _ := ds.Column(x.Column)
		return compileComparison(x, col, ruleIndex)
	default:
		return nil, errors.NewExpressionError(ruleIndex, fmt.Sprintf("unsupported expression %s", e))
	}
}

func compileComparison(c *rule.Comparison, col *dataset.Column, ruleIndex int) (predicate, error) {
	values := col.Values
	mismatch := func(kind string) error {
		return errors.NewExpressionError(ruleIndex, fmt.Sprintf("cannot compare %s column %q with %s %s",
			col.Type, col.Name, kind, c.Value))
	}

	lit := c.Value.Value
	if lit == nil {
		switch c.Op {
		case rule.OpEq:
			return func(row int) bool { return values[row] == nil }, nil
		case rule.OpNe:
			return func(row int) bool { return values[row] != nil }, nil
		default:
			return nil, errors.NewExpressionError(ruleIndex, fmt.Sprintf("operator %s cannot be applied to null", c.Op))
		}
	}

	var cmp func(v any) int
	switch col.Type {
	case dataset.TypeNull:
		return func(int) bool { return false }, nil
	case dataset.TypeString:
		s, ok := lit.(string)
		if !ok {
			return nil, mismatch(literalKind(lit))
		}
		cmp = func(v any) int { return strings.Compare(v.(string), s) }
	case dataset.TypeLong, dataset.TypeDouble:
		switch n := lit.(type) {
		case int64:
			if col.Type == dataset.TypeLong {
				cmp = func(v any) int { return compareInt(v.(int64), n) }
			} else {
				f := float64(n)
				cmp = func(v any) int { return compareFloat(v.(float64), f) }
			}
		case float64:
			cmp = func(v any) int { return compareFloat(asFloat(v), n) }
		default:
			return nil, mismatch(literalKind(lit))
		}
	case dataset.TypeBoolean:
		b, ok := lit.(bool)
		if !ok {
			return nil, mismatch(literalKind(lit))
		}
		if c.Op != rule.OpEq && c.Op != rule.OpNe {
			return nil, errors.NewExpressionError(ruleIndex, fmt.Sprintf("operator %s cannot be applied to boolean column %q", c.Op, col.Name))
		}
		cmp = func(v any) int {
			if v.(bool) == b {
				return 0
			}
			return 1
		}
	case dataset.TypeTimestamp:
		s, ok := lit.(string)
		if !ok {
			return nil, mismatch(literalKind(lit))
		}
		t, ok := parseTimestamp(s, "")
		if !ok {
			return nil, errors.NewExpressionError(ruleIndex, fmt.Sprintf("%s is not a timestamp", c.Value))
		}
		cmp = func(v any) int { return v.(time.Time).Compare(t) }
	default:
		return nil, mismatch(literalKind(lit))
	}

	test, err := operatorTest(c.Op, ruleIndex)
	if err != nil {
		return nil, err
	}
	return func(row int) bool {
		v := values[row]
		if v == nil {
			return false
		}
		return test(cmp(v))
	}, nil
}

func operatorTest(op rule.Operator, ruleIndex int) (func(int) bool, error) {
	switch op {
	case rule.OpEq:
		return func(c int) bool { return c == 0 }, nil
	case rule.OpNe:
		return func(c int) bool { return c != 0 }, nil
	case rule.OpLt:
		return func(c int) bool { return c < 0 }, nil
	case rule.OpGt:
		return func(c int) bool { return c > 0 }, nil
	case rule.OpLe:
		return func(c int) bool { return c <= 0 }, nil
	case rule.OpGe:
		return func(c int) bool { return c >= 0 }, nil
	default:
		return nil, errors.NewExpressionError(ruleIndex, fmt.Sprintf("unknown operator %s", op))
	}
}

func literalKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int64, float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func asFloat(v any) float64 {
	if n, ok := v.(int64); ok {
		return float64(n)
	}
	return v.(float64)
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
