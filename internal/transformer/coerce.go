package transformer

import (
	"math"
	"strconv"
	"strings"
)

// CoerceInt converts v to an integer, falling back to def when v is missing or
// not numeric. Fractional values are truncated toward zero ("3.0" -> 3,
// "2.9" -> 2).
func CoerceInt(v any, def int64) int64 {
	switch x := v.(type) {
	case nil:
		return def
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		return truncFloat(x, def)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return def
		}
		return truncFloat(f, def)
	default:
		return def
	}
}

func truncFloat(f float64, def int64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return def
	}
	return int64(math.Trunc(f))
}
