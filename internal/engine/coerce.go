package engine

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/dataprep/pkg/dataset"
)

// CoercionResult counts the cells a settype partition could not convert.
// Partition results are merged after the partitions finish.
type CoercionResult struct {
	Cells    int
	Failures int
}

// Merge returns the sum of r and other.
func (r CoercionResult) Merge(other CoercionResult) CoercionResult {
	return CoercionResult{Cells: r.Cells + other.Cells, Failures: r.Failures + other.Failures}
}

// timestampLayouts are tried in order when settype has no format.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// coerceRange converts in[lo:hi] into out[lo:hi]. A cell that cannot be
// converted becomes null and is counted as a failure.
func coerceRange(ctx context.Context, in, out []any, lo, hi int, target dataset.Type, format string) (CoercionResult, error) {
	var res CoercionResult
	err := forRange(ctx, lo, hi, func(i int) {
		res.Cells++
		v, ok := coerce(in[i], target, format)
		if !ok {
			res.Failures++
		}
		out[i] = v
	})
	return res, err
}

// coerce converts one cell. Null and blank text convert to null without failing.
func coerce(v any, target dataset.Type, format string) (any, bool) {
	if v == nil {
		return nil, true
	}
	if s, isText := v.(string); isText && target != dataset.TypeString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, true
		}
		v = s
	}

	switch target {
	case dataset.TypeString:
		return dataset.FormatValue(v), true
	case dataset.TypeLong:
		return toLong(v)
	case dataset.TypeDouble:
		return toDouble(v)
	case dataset.TypeBoolean:
		return toBoolean(v)
	case dataset.TypeTimestamp:
		return toTimestamp(v, format)
	default:
		return nil, false
	}
}

func toLong(v any) (any, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63
		if math.IsNaN(x) || math.IsInf(x, 0) || x >= 1<<63 || x < math.MinInt64 {
			return nil, false
		}
		return int64(x), true
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case time.Time:
		return x.Unix(), true
	case string:
		if !isDecimal(x) {
			return nil, false
		}
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || f != math.Trunc(f) {
			return nil, false
		}
		return toLong(f)
	}
	return nil, false
}

func toDouble(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return x, true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1.0, true
		}
		return 0.0, true
	case time.Time:
		return float64(x.UnixNano()) / float64(time.Second), true
	case string:
		if !isDecimal(x) {
			return nil, false
		}
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

// isDecimal reports whether s is a plain decimal number with an optional
// exponent. It rejects what ParseFloat also accepts: NaN, Inf, hex floats
// and underscores.
func isDecimal(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		digits++
	}
	if i < len(s) && s[i] == '.' {
		for i++; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		exp := 0
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(s)
}

func toBoolean(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	case float64:
		return x != 0, true
	case string:
		switch strings.ToLower(x) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
	}
	return nil, false
}

func toTimestamp(v any, format string) (any, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case int64:
		return time.Unix(x, 0).UTC(), true
	case string:
		if t, ok := parseTimestamp(x, format); ok {
			return t, true
		}
	}
	return nil, false
}

func parseTimestamp(s, format string) (time.Time, bool) {
	if format != "" {
		t, err := time.Parse(format, s)
		return t.UTC(), err == nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
