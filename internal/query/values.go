package query

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"time"
)

// number holds a numeric value as an exact integer when possible.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func toNumber(v interface{}) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{i: int64(n), isInt: true}, true
	case int64:
		return number{i: n, isInt: true}, true
	case float64:
		return number{f: n}, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{i: i, isInt: true}, true
		}
		if f, err := n.Float64(); err == nil {
			return number{f: f}, true
		}
		return number{}, false
	case nil, bool, string:
		return number{}, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{i: rv.Int(), isInt: true}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return number{f: float64(u)}, true
		}
		return number{i: int64(u), isInt: true}, true
	case reflect.Float32, reflect.Float64:
		return number{f: rv.Float()}, true
	}
	return number{}, false
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func compareNumbers(a, b number) int {
	if a.isInt && b.isInt {
		switch {
		case a.i > b.i:
			return 1
		case a.i < b.i:
			return -1
		}
		return 0
	}
	fa, fb := a.float(), b.float()
	switch {
	case fa > fb:
		return 1
	case fa < fb:
		return -1
	}
	return 0
}

// equal is strict equality: numbers compare by value across numeric kinds,
// slices and maps compare element by element, everything else must share a type
// and be deeply equal.
func equal(a, b interface{}) bool {
	na, okA := toNumber(a)
	nb, okB := toNumber(b)
	if okA || okB {
		if !(okA && okB) {
			return false
		}
		if !na.isInt && math.IsNaN(na.f) || !nb.isInt && math.IsNaN(nb.f) {
			return false
		}
		return compareNumbers(na, nb) == 0
	}

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}

	if sa, ok := asSlice(a); ok {
		sb, ok := asSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}

	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !equal(va, vb) {
				return false
			}
		}
		return true
	}

	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// order compares two ordered values. ok is false when the pair has no ordering.
func order(a, b interface{}) (int, bool) {
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		if !na.isInt && math.IsNaN(na.f) || !nb.isInt && math.IsNaN(nb.f) {
			return 0, false
		}
		return compareNumbers(na, nb), true
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	return 0, false
}

func isOrdered(v interface{}) bool {
	if _, ok := toNumber(v); ok {
		return true
	}
	switch v.(type) {
	case string, time.Time:
		return true
	}
	return false
}

// CompareValues returns -1 if a < b, 0 if a == b, 1 if a > b.
// Values without a mutual ordering sort nil first, then numbers, strings, times
// and everything else.
func CompareValues(a, b interface{}) int {
	if c, ok := order(a, b); ok {
		return c
	}
	ra, rb := rank(a), rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

func rank(v interface{}) int {
	if v == nil {
		return 0
	}
	if _, ok := toNumber(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case time.Time:
		return 3
	}
	return 4
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Clause:
		return m, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// AsSlice converts any slice or array into []interface{}.
func AsSlice(v interface{}) ([]interface{}, bool) {
	return asSlice(v)
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case nil, string:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
