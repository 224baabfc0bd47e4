package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is the logical type shared by every cell of a column.
// Cells hold nil (null), string, int64, float64, bool or time.Time.
type Type string

const (
	TypeString    Type = "string"
	TypeLong      Type = "long"
	TypeDouble    Type = "double"
	TypeBoolean   Type = "boolean"
	TypeTimestamp Type = "timestamp"
	// TypeNull marks a column whose cells are all null and whose type is not known.
	TypeNull Type = "null"
)

// TimestampLayout is used whenever a timestamp is rendered as text.
const TimestampLayout = time.RFC3339Nano

// ParseType resolves a settype target name. Matching is case-insensitive and
// accepts the common aliases int/integer/bigint, float/decimal, bool and string/text.
func ParseType(name string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "long", "int", "integer", "bigint":
		return TypeLong, true
	case "double", "float", "decimal":
		return TypeDouble, true
	case "string", "text":
		return TypeString, true
	case "boolean", "bool":
		return TypeBoolean, true
	case "timestamp", "datetime":
		return TypeTimestamp, true
	default:
		return "", false
	}
}

// IsNumeric reports whether t is long or double.
func (t Type) IsNumeric() bool {
	return t == TypeLong || t == TypeDouble
}

// TypeOfValue returns the column type a cell value belongs to.
func TypeOfValue(v any) (Type, error) {
	switch v.(type) {
	case nil:
		return TypeNull, nil
	case string:
		return TypeString, nil
	case int64:
		return TypeLong, nil
	case float64:
		return TypeDouble, nil
	case bool:
		return TypeBoolean, nil
	case time.Time:
		return TypeTimestamp, nil
	default:
		return "", fmt.Errorf("unsupported cell value %T", v)
	}
}

// FormatValue renders a cell as text. Null renders as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(TimestampLayout)
	default:
		return fmt.Sprintf("%v", x)
	}
}
