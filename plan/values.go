package plan

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bawdo/relq/nodes"
)

// timeLayouts are tried in order for date/time columns that drivers hand
// back as text (SQLite, MySQL without parseTime).
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalize converts a driver value to the Go representation of t:
// integers become int64, decimals decimal.Decimal, floats float64,
// booleans bool (0/1 accepted), strings string and date/times time.Time.
// nil stays nil.
func Normalize(v any, t nodes.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case nodes.TypeInt, nodes.TypeInt64:
		return toInt64(v)
	case nodes.TypeDecimal:
		return toDecimal(v)
	case nodes.TypeFloat:
		return toFloat(v)
	case nodes.TypeBool:
		return toBool(v)
	case nodes.TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return fmt.Sprint(v), nil
	case nodes.TypeDateTime:
		return toTime(v)
	case nodes.TypeBytes:
		switch b := v.(type) {
		case []byte:
			return append([]byte(nil), b...), nil
		case string:
			return []byte(b), nil
		}
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("cannot convert %v to an integer", n)
		}
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return nil, fmt.Errorf("integer %v overflows int64", n)
		}
		return int64(n), nil
	case bool:
		if n {
			return int64(1), nil
		}
		return int64(0), nil
	case decimal.Decimal:
		if !n.IsInteger() {
			return nil, fmt.Errorf("cannot convert %s to an integer", n)
		}
		return decimalInt(n)
	case []byte:
		return parseInt(string(n))
	case string:
		return parseInt(n)
	}
	return nil, fmt.Errorf("cannot convert %T to an integer", v)
}

func parseInt(s string) (any, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err == nil {
		return i, nil
	}
	d, derr := decimal.NewFromString(strings.TrimSpace(s))
	if derr != nil || !d.IsInteger() {
		return nil, fmt.Errorf("cannot convert %q to an integer: %w", s, err)
	}
	return decimalInt(d)
}

func decimalInt(d decimal.Decimal) (any, error) {
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return nil, fmt.Errorf("integer %s overflows int64", d)
	}
	return d.IntPart(), nil
}

func toDecimal(v any) (any, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case []byte:
		return decimal.NewFromString(strings.TrimSpace(string(n)))
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	}
	i, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %T to a decimal", v)
	}
	return decimal.NewFromInt(i.(int64)), nil
}

func toFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case decimal.Decimal:
		return n.InexactFloat64(), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %T to a float", v)
	}
	return float64(i.(int64)), nil
}

func toBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(b)))
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	}
	i, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %T to a bool", v)
	}
	return i.(int64) != 0, nil
}

func toTime(v any) (any, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return nil, fmt.Errorf("cannot convert %T to a time", v)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as a time", s)
}
