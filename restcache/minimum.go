package restcache

import (
	"math"
	"strconv"
	"strings"
)

// getMinimum resolves a QueryOptions.Minimum value against a known total,
// falling back to def when unset. Supported forms: a positive int (an
// absolute item count), a negative int (total+n, floored at 1), or a
// "NN%" string (ceil(total*NN/100)).
func getMinimum(raw any, total, def int) int {
	switch v := raw.(type) {
	case nil:
		return def
	case int:
		if v < 0 {
			n := total + v
			if n < 1 {
				n = 1
			}
			return n
		}
		if v == 0 {
			return def
		}
		return v
	case string:
		trimmed := strings.TrimSuffix(v, "%")
		if trimmed == v {
			return def
		}
		pct, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return def
		}
		return int(math.Ceil(float64(total) * pct / 100))
	default:
		return def
	}
}
