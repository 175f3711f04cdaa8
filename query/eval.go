/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"reflect"
	"strings"
	"time"
)

// truth is a SQL truth value: NULL operands make a predicate unknown, and
// unknown survives negation.
type truth int8

const (
	unknown truth = iota
	isFalse
	isTrue
)

func truthOf(b bool) truth {
	if b {
		return isTrue
	}
	return isFalse
}

func (t truth) not() truth {
	switch t {
	case isTrue:
		return isFalse
	case isFalse:
		return isTrue
	}
	return unknown
}

// Eval evaluates a bound expression against a struct value with SQL
// semantics for NULL: a row matches only when the expression is true, so
// neither x == 1 nor !(x == 1) matches a row whose x is NULL.
func Eval(expr Expr, s *Schema, strct reflect.Value) bool {
	for strct.Kind() == reflect.Ptr {
		strct = strct.Elem()
	}
	return eval(expr, s, strct) == isTrue
}

func eval(expr Expr, s *Schema, strct reflect.Value) truth {
	switch n := expr.(type) {
	case *Compare:
		f, _ := s.Lookup(n.Field)
		got := f.Value(strct)
		if n.Value == nil {
			return truthOf((got == nil) == (n.Op == OpEq))
		}
		if got == nil {
			return unknown
		}
		c, ok := compareValues(got, n.Value)
		return truthOf(ok && holds(n.Op, c))
	case *FieldCompare:
		l, _ := s.Lookup(n.Left)
		r, _ := s.Lookup(n.Right)
		lv, rv := l.Value(strct), r.Value(strct)
		if lv == nil || rv == nil {
			return unknown
		}
		c, ok := compareValues(lv, rv)
		return truthOf(ok && holds(n.Op, c))
	case *In:
		if len(n.Values) == 0 {
			return isFalse
		}
		f, _ := s.Lookup(n.Field)
		got := f.Value(strct)
		if got == nil {
			return unknown
		}
		result := isFalse
		for _, v := range n.Values {
			if v == nil {
				result = unknown
				continue
			}
			if c, ok := compareValues(got, v); ok && c == 0 {
				return isTrue
			}
		}
		return result
	case *Match:
		f, _ := s.Lookup(n.Field)
		raw := f.Value(strct)
		if raw == nil {
			return unknown
		}
		got, ok := raw.(string)
		if !ok {
			rv := reflect.ValueOf(raw)
			if rv.Kind() != reflect.String {
				return isFalse
			}
			got = rv.String()
		}
		arg := n.Value.(string)
		switch n.Kind {
		case MatchStartsWith:
			return truthOf(strings.HasPrefix(got, arg))
		case MatchEndsWith:
			return truthOf(strings.HasSuffix(got, arg))
		default:
			return truthOf(strings.Contains(got, arg))
		}
	case *And:
		result := isTrue
		for _, t := range n.Terms {
			switch eval(t, s, strct) {
			case isFalse:
				return isFalse
			case unknown:
				result = unknown
			}
		}
		return result
	case *Or:
		result := isFalse
		for _, t := range n.Terms {
			switch eval(t, s, strct) {
			case isTrue:
				return isTrue
			case unknown:
				result = unknown
			}
		}
		return result
	case *Not:
		return eval(n.X, s, strct).not()
	case *Const:
		return truthOf(n.Value)
	}
	return isFalse
}

func holds(op Op, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// compareValues orders two scalars of compatible kinds. The second result is
// false when the values cannot be ordered against each other.
func compareValues(a, b interface{}) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isInt(av) && isInt(bv):
		return cmp3(av.Int(), bv.Int()), true
	case isUint(av) && isUint(bv):
		return cmp3(av.Uint(), bv.Uint()), true
	case isNumber(av) && isNumber(bv):
		return cmp3(toFloat(av), toFloat(bv)), true
	case av.Kind() == reflect.String && bv.Kind() == reflect.String:
		return strings.Compare(av.String(), bv.String()), true
	case av.Kind() == reflect.Bool && bv.Kind() == reflect.Bool:
		return cmp3(boolRank(av.Bool()), boolRank(bv.Bool())), true
	}
	return 0, false
}

type ordered interface {
	~int64 | ~uint64 | ~float64
}

func cmp3[N ordered](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolRank(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isInt(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumber(v reflect.Value) bool {
	return isInt(v) || isUint(v) || v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v):
		return float64(v.Int())
	case isUint(v):
		return float64(v.Uint())
	}
	return v.Float()
}
