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
	"context"
	"reflect"
)

// Source is a lazily evaluated, immutable query over entities of type T.
// Composition methods return a new Source and never touch the store; errors
// raised while composing are held and returned by the materializing calls.
//
// Skip and Take replace any earlier value. Count ignores them and counts
// every row matching the filters.
type Source[T any] interface {
	Where(expr Expr) Source[T]
	OrderBy(orders ...Order) Source[T]
	Skip(n int) Source[T]
	Take(n int) Source[T]
	Include(relations ...string) Source[T]

	List(ctx context.Context) ([]*T, error)
	First(ctx context.Context) (*T, error)
	Count(ctx context.Context) (int64, error)

	// Snapshot runs fn against a view of the source on which consecutive
	// reads observe the same data.
	Snapshot(ctx context.Context, fn func(ctx context.Context, src Source[T]) error) error

	Schema() *Schema
	Plan() Plan
	Err() error
}

// Plan is the store-independent description of a Source: bound filters,
// sort keys, slice bounds and relations to eager-load.
type Plan struct {
	Filters  []Expr
	Orders   []Order
	Offset   int
	Limit    int
	Includes []string
	Err      error
}

// NewPlan returns an unfiltered, unsorted, unsliced plan.
func NewPlan() Plan { return Plan{Limit: -1} }

// Where binds expr against s and appends it to the filters.
func (p Plan) Where(s *Schema, expr Expr) Plan {
	if p.Err != nil {
		return p
	}
	bound, err := Bind(expr, s)
	if err != nil {
		p.Err = err
		return p
	}
	p.Filters = append(append([]Expr(nil), p.Filters...), bound)
	return p
}

// OrderBy replaces the sort keys.
func (p Plan) OrderBy(s *Schema, orders []Order) Plan {
	if p.Err != nil {
		return p
	}
	bound, err := BindOrders(orders, s)
	if err != nil {
		p.Err = err
		return p
	}
	p.Orders = bound
	return p
}

func (p Plan) Skip(n int) Plan {
	if n < 0 {
		n = 0
	}
	p.Offset = n
	return p
}

func (p Plan) Take(n int) Plan {
	if n < 0 {
		n = 0
	}
	p.Limit = n
	return p
}

func (p Plan) Include(relations []string) Plan {
	p.Includes = append(append([]string(nil), p.Includes...), relations...)
	return p
}

// Filter combines every filter into one expression.
func (p Plan) Filter() Expr { return AndOf(p.Filters...) }

// Sliced reports whether Skip or Take was applied.
func (p Plan) Sliced() bool { return p.Offset > 0 || p.Limit >= 0 }

type sliceSource[T any] struct {
	items  []*T
	schema *Schema
	plan   Plan
}

// FromSlice returns a Source evaluated in memory over items. The slice is
// read at materialization time, not copied.
func FromSlice[T any](items []*T) Source[T] {
	return &sliceSource[T]{items: items, schema: SchemaOf[T](), plan: NewPlan()}
}

func (s *sliceSource[T]) with(plan Plan) Source[T] {
	return &sliceSource[T]{items: s.items, schema: s.schema, plan: plan}
}

func (s *sliceSource[T]) Where(expr Expr) Source[T] { return s.with(s.plan.Where(s.schema, expr)) }

func (s *sliceSource[T]) OrderBy(orders ...Order) Source[T] {
	return s.with(s.plan.OrderBy(s.schema, orders))
}

func (s *sliceSource[T]) Skip(n int) Source[T] { return s.with(s.plan.Skip(n)) }

func (s *sliceSource[T]) Take(n int) Source[T] { return s.with(s.plan.Take(n)) }

// Include is recorded only; in-memory entities already carry their relations.
func (s *sliceSource[T]) Include(relations ...string) Source[T] {
	return s.with(s.plan.Include(relations))
}

func (s *sliceSource[T]) Schema() *Schema { return s.schema }

func (s *sliceSource[T]) Plan() Plan { return s.plan }

func (s *sliceSource[T]) Err() error { return s.plan.Err }

func (s *sliceSource[T]) filtered(ctx context.Context) ([]*T, error) {
	if s.plan.Err != nil {
		return nil, s.plan.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := s.plan.Filter()
	out := make([]*T, 0, len(s.items))
	for _, item := range s.items {
		if item != nil && Eval(filter, s.schema, reflect.ValueOf(item)) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *sliceSource[T]) List(ctx context.Context) ([]*T, error) {
	items, err := s.filtered(ctx)
	if err != nil {
		return nil, err
	}
	SortSlice(items, s.plan.Orders, s.schema)
	start := s.plan.Offset
	if start > len(items) {
		start = len(items)
	}
	end := len(items)
	if s.plan.Limit >= 0 && start+s.plan.Limit < end {
		end = start + s.plan.Limit
	}
	return items[start:end], nil
}

func (s *sliceSource[T]) First(ctx context.Context) (*T, error) {
	items, err := s.Take(1).List(ctx)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (s *sliceSource[T]) Count(ctx context.Context) (int64, error) {
	items, err := s.filtered(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(items)), nil
}

func (s *sliceSource[T]) Snapshot(ctx context.Context, fn func(ctx context.Context, src Source[T]) error) error {
	frozen := make([]*T, len(s.items))
	copy(frozen, s.items)
	return fn(ctx, &sliceSource[T]{items: frozen, schema: s.schema, plan: s.plan})
}
