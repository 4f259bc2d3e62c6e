package query

import (
	"math"
	"reflect"
	"regexp"
	"time"
)

// DeepEqual is the structural equality contract the query engine uses to
// suppress no-op subscription callbacks: primitives by
// identity, NaN-equals-NaN, dates by instant, regexes by source+flags,
// arrays element-wise, plain maps by key-set, and anything else (sets,
// foreign objects) is never equal. reflect.DeepEqual does not satisfy the
// NaN-equals-NaN clause, so this is a small dedicated visitor over the
// supported shapes instead.
func DeepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		an, aok := numeric(av)
		bn, bok := numeric(b)
		return aok && bok && an == bn
	case float32, float64:
		an, _ := numeric(av)
		bn, bok := numeric(b)
		if !bok {
			return false
		}
		if math.IsNaN(an) && math.IsNaN(bn) {
			return true
		}
		return an == bn
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case *regexp.Regexp:
		bv, ok := b.(*regexp.Regexp)
		return ok && av.String() == bv.String()
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, exists := bv[k]
			if !exists || !DeepEqual(v, bvv) {
				return false
			}
		}
		return true
	default:
		// Foreign types (sets, structs, anything not in the supported
		// shape union): never deep-equal, even to themselves, rather
		// than attempting identity.
		_ = reflect.TypeOf(av)
		return false
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
