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
	"fmt"
	"math"
	"reflect"

	"github.com/spf13/cast"

	"github.com/tomoncle/datakit/types"
)

// Bind resolves every field reference of expr against s and coerces values
// to the referenced field's type. The result uses canonical Go field names.
func Bind(expr Expr, s *Schema) (Expr, error) {
	switch n := expr.(type) {
	case *Compare:
		f, err := lookupFilterField(s, n.Field)
		if err != nil {
			return nil, err
		}
		if _, unbound := n.Value.(Param); unbound {
			return nil, filterError("placeholder %s is not bound", n.Value)
		}
		if n.Value == nil {
			if n.Op != OpEq && n.Op != OpNe {
				return nil, filterError("null can only be compared with == or !=")
			}
			return &Compare{Field: f.Name, Op: n.Op, Value: nil}, nil
		}
		v, err := Coerce(n.Value, f.Type)
		if err != nil {
			return nil, filterError("field %s: %v", f.Name, err)
		}
		if n.Op != OpEq && n.Op != OpNe && f.BaseType().Kind() == reflect.Bool {
			return nil, filterError("field %s: booleans only support == and !=", f.Name)
		}
		return &Compare{Field: f.Name, Op: n.Op, Value: v}, nil

	case *FieldCompare:
		l, err := lookupFilterField(s, n.Left)
		if err != nil {
			return nil, err
		}
		r, err := lookupFilterField(s, n.Right)
		if err != nil {
			return nil, err
		}
		return &FieldCompare{Left: l.Name, Op: n.Op, Right: r.Name}, nil

	case *In:
		f, err := lookupFilterField(s, n.Field)
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, len(n.Values))
		for i, raw := range n.Values {
			if _, unbound := raw.(Param); unbound {
				return nil, filterError("placeholder %s is not bound", raw)
			}
			if values[i], err = Coerce(raw, f.Type); err != nil {
				return nil, filterError("field %s: %v", f.Name, err)
			}
		}
		return &In{Field: f.Name, Values: values}, nil

	case *Match:
		f, err := lookupFilterField(s, n.Field)
		if err != nil {
			return nil, err
		}
		if f.BaseType().Kind() != reflect.String {
			return nil, filterError("%s requires a string field, %s is %s", n.Kind, f.Name, f.BaseType())
		}
		str, err := cast.ToStringE(n.Value)
		if err != nil {
			return nil, filterError("%s argument: %v", n.Kind, err)
		}
		return &Match{Field: f.Name, Kind: n.Kind, Value: str}, nil

	case *And:
		terms, err := bindTerms(n.Terms, s)
		if err != nil {
			return nil, err
		}
		return &And{Terms: terms}, nil

	case *Or:
		terms, err := bindTerms(n.Terms, s)
		if err != nil {
			return nil, err
		}
		return &Or{Terms: terms}, nil

	case *Not:
		x, err := Bind(n.X, s)
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil

	case *Const:
		return n, nil

	case *invalid:
		return nil, n.err

	case nil:
		return True(), nil
	}
	return nil, filterError("unsupported expression %T", expr)
}

func bindTerms(terms []Expr, s *Schema) ([]Expr, error) {
	out := make([]Expr, len(terms))
	for i, t := range terms {
		b, err := Bind(t, s)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func lookupFilterField(s *Schema, name string) (*Field, error) {
	f, ok := s.Lookup(name)
	if !ok {
		return nil, filterError("unknown field %q on %s", name, s.Type.Name())
	}
	return f, nil
}

func filterError(format string, args ...interface{}) error {
	return types.NewError(types.InvalidFilterExpressionKind, "filter", format, args...)
}

// Coerce converts v to the type t (or its pointer base type) using the
// lenient conversions of spf13/cast. nil stays nil.
func Coerce(v interface{}, t reflect.Type) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	base := t
	for base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return nil, fmt.Errorf("cannot compare %s with NaN", base)
	}
	if reflect.TypeOf(v) == base {
		return v, nil
	}

	var (
		out interface{}
		err error
	)
	switch {
	case base == timeType:
		out, err = cast.ToTimeE(v)
	default:
		switch base.Kind() {
		case reflect.Bool:
			out, err = cast.ToBoolE(v)
		case reflect.String:
			out, err = cast.ToStringE(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if f, ok := fractional(v, math.MinInt64, math.MaxInt64); ok {
				return f, nil
			}
			out, err = cast.ToInt64E(v)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if f, ok := fractional(v, 0, math.MaxUint64); ok {
				return f, nil
			}
			out, err = cast.ToUint64E(v)
		case reflect.Float32, reflect.Float64:
			out, err = cast.ToFloat64E(v)
		default:
			rv := reflect.ValueOf(v)
			if !rv.Type().ConvertibleTo(base) {
				return nil, fmt.Errorf("cannot use %T as %s", v, base)
			}
			return rv.Convert(base).Interface(), nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cannot use %v (%T) as %s", v, v, base)
	}
	return reflect.ValueOf(out).Convert(base).Interface(), nil
}

// fractional reports a float operand that no integer of the field's range
// can represent. Such values stay float64 so that comparisons against the
// integer field are numeric instead of truncated.
func fractional(v interface{}, lo, hi float64) (float64, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Float32 && rv.Kind() != reflect.Float64 {
		return 0, false
	}
	f := rv.Float()
	return f, f != math.Trunc(f) || f < lo || f >= hi
}
