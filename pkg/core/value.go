package core

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"
	"time"
)

// CompareValues orders two cell values. NULL sorts first, then booleans,
// numbers, times, strings and bytes. Values of the same class compare
// naturally; anything else compares by its printed form.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		return cmp.Compare(boolInt(a.(bool)), boolInt(b.(bool)))
	case rankNumber:
		ia, aInt := asInt(a)
		ib, bInt := asInt(b)
		if aInt && bInt {
			return cmp.Compare(ia, ib)
		}
		return cmp.Compare(asFloat(a), asFloat(b))
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// Match reports whether v satisfies the operator. As in SQL, a NULL value
// only satisfies IS NULL.
func (o Operator) Match(v any, values []any) bool {
	switch o {
	case OpNone:
		return true
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	}
	if v == nil || len(values) == 0 {
		return false
	}
	switch o {
	case OpIn:
		for _, x := range values {
			if x != nil && CompareValues(v, x) == 0 {
				return true
			}
		}
		return false
	case OpLike:
		pattern, ok := values[0].(string)
		return ok && likeMatch(strings.ToLower(fmt.Sprint(v)), strings.ToLower(pattern))
	}
	if values[0] == nil {
		return false
	}
	c := CompareValues(v, values[0])
	switch o {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpGreater:
		return c > 0
	case OpGreaterEq:
		return c >= 0
	case OpLess:
		return c < 0
	case OpLessEq:
		return c <= 0
	default:
		return false
	}
}

// likeMatch implements LIKE with % and _ wildcards.
func likeMatch(s, p string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if p == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if likeMatch(s[i:], p) {
					return true
				}
			}
			return false
		case '_':
			if s == "" {
				return false
			}
			s, p = s[1:], p[1:]
		default:
			if s == "" || s[0] != p[0] {
				return false
			}
			s, p = s[1:], p[1:]
		}
	}
	return s == ""
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankBytes
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		return rankString
	case []byte:
		return rankBytes
	default:
		return rankOther
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case uint:
		return float64(x)
	case uint64:
		return float64(x)
	default:
		i, _ := asInt(v)
		return float64(i)
	}
}
