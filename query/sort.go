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
	"sort"
	"strings"

	"github.com/tomoncle/datakit/types"
)

// Order is one sort key.
type Order struct {
	Field string
	Desc  bool
}

func Asc(field string) Order { return Order{Field: field} }

func Desc(field string) Order { return Order{Field: field, Desc: true} }

func (o Order) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field
}

// ParseSort reads "Rating desc, Id" style sort descriptions. The direction
// keyword may be asc, ascending, desc or descending, in any case.
func ParseSort(sorts string) ([]Order, error) {
	sorts = strings.TrimSpace(sorts)
	if sorts == "" {
		return nil, nil
	}
	var orders []Order
	for _, part := range strings.Split(sorts, ",") {
		words := strings.Fields(part)
		switch len(words) {
		case 1:
			orders = append(orders, Asc(words[0]))
		case 2:
			switch strings.ToLower(words[1]) {
			case "asc", "ascending":
				orders = append(orders, Asc(words[0]))
			case "desc", "descending":
				orders = append(orders, Desc(words[0]))
			default:
				return nil, sortError("unknown direction %q in %q", words[1], part)
			}
		default:
			return nil, sortError("malformed sort key %q", strings.TrimSpace(part))
		}
		if !validIdent(words[0]) {
			return nil, sortError("malformed field name %q", words[0])
		}
	}
	return orders, nil
}

// BindOrders resolves sort keys to canonical field names.
func BindOrders(orders []Order, s *Schema) ([]Order, error) {
	out := make([]Order, len(orders))
	for i, o := range orders {
		f, ok := s.Lookup(o.Field)
		if !ok {
			return nil, sortError("unknown field %q on %s", o.Field, s.Type.Name())
		}
		out[i] = Order{Field: f.Name, Desc: o.Desc}
	}
	return out, nil
}

// SortSlice orders items in place by bound keys; equal elements keep their
// relative order. NULLs sort first ascending, last descending.
func SortSlice[T any](items []*T, orders []Order, s *Schema) {
	if len(orders) == 0 {
		return
	}
	fields := make([]*Field, len(orders))
	for i, o := range orders {
		fields[i], _ = s.Lookup(o.Field)
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := reflect.ValueOf(items[i]).Elem(), reflect.ValueOf(items[j]).Elem()
		for k, o := range orders {
			c := compareNullable(fields[k].Value(a), fields[k].Value(b))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareNullable(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compareValues(a, b)
	return c
}

func validIdent(s string) bool {
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return s != ""
}

func sortError(format string, args ...interface{}) error {
	return types.NewError(types.InvalidSortExpressionKind, "sort", format, args...)
}
