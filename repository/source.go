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

package repository

import (
	"context"
	"math"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/datakit/mapper"
	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/session"
	"github.com/tomoncle/datakit/types"
)

// unbounded is a LIMIT every supported dialect accepts as "all rows".
const unbounded = math.MaxInt

// bunSource is a query.Source whose plan is compiled into a bun SELECT when
// it is materialized.
type bunSource[T any] struct {
	root    *bun.DB
	db      bun.IDB
	sess    *session.Session
	table   *schema.Table
	columns columnMap
	schema  *query.Schema
	plan    query.Plan
	inTx    bool
	// resolve maps loaded rows onto their tracked instances; a nil result
	// drops the row.
	resolve func(*T) (*T, error)
}

// NewSource returns an untracked source over the table of T.
func NewSource[T any](db *bun.DB) query.Source[T] {
	return newBunSource[T](db, nil, nil)
}

func newBunSource[T any](db *bun.DB, sess *session.Session, resolve func(*T) (*T, error)) *bunSource[T] {
	table := db.Table(reflect.TypeOf((*T)(nil)).Elem())
	return &bunSource[T]{
		root:    db,
		db:      db,
		sess:    sess,
		table:   table,
		columns: newColumnMap(table),
		schema:  query.SchemaOf[T](),
		plan:    query.NewPlan(),
		resolve: resolve,
	}
}

func (s *bunSource[T]) with(plan query.Plan) *bunSource[T] {
	cp := *s
	cp.plan = plan
	return &cp
}

func (s *bunSource[T]) Where(expr query.Expr) query.Source[T] {
	return s.with(s.plan.Where(s.schema, expr))
}

func (s *bunSource[T]) OrderBy(orders ...query.Order) query.Source[T] {
	return s.with(s.plan.OrderBy(s.schema, orders))
}

func (s *bunSource[T]) Skip(n int) query.Source[T] { return s.with(s.plan.Skip(n)) }

func (s *bunSource[T]) Take(n int) query.Source[T] { return s.with(s.plan.Take(n)) }

func (s *bunSource[T]) Include(relations ...string) query.Source[T] {
	return s.with(s.plan.Include(relations))
}

func (s *bunSource[T]) Schema() *query.Schema { return s.schema }

func (s *bunSource[T]) Plan() query.Plan { return s.plan }

func (s *bunSource[T]) Err() error { return s.plan.Err }

// selectQuery builds the filtered SELECT over model without ordering or
// slicing.
func (s *bunSource[T]) selectQuery(model interface{}) (*bun.SelectQuery, error) {
	if s.plan.Err != nil {
		return nil, s.plan.Err
	}
	where, args, err := compileWhere(s.columns, s.plan.Filter())
	if err != nil {
		return nil, err
	}
	q := s.db.NewSelect().Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	return q, nil
}

// ordered adds the sort keys, the primary key as final tie-breaker, and the
// slice bounds.
func (s *bunSource[T]) ordered(q *bun.SelectQuery) (*bun.SelectQuery, error) {
	seen := make(map[string]bool, len(s.plan.Orders))
	for _, o := range s.plan.Orders {
		col, err := s.columns.column(o.Field)
		if err != nil {
			return nil, types.WrapError(types.InvalidSortExpressionKind, "sort", err)
		}
		q = q.OrderExpr("?TableAlias.? "+direction(o.Desc), bun.Ident(col))
		seen[col] = true
	}
	for _, pk := range s.table.PKs {
		if !seen[pk.Name] {
			q = q.OrderExpr("?TableAlias.? ASC", bun.Ident(pk.Name))
		}
	}
	if s.plan.Offset > 0 {
		q = q.Offset(s.plan.Offset)
	}
	switch {
	case s.plan.Limit > 0:
		q = q.Limit(s.plan.Limit)
	case s.plan.Offset > 0:
		// sqlite and mysql reject OFFSET without LIMIT
		q = q.Limit(unbounded)
	}
	return q, nil
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

// relations resolves include names case-insensitively against the model's
// relations.
func (s *bunSource[T]) relations() ([]string, error) {
	out := make([]string, 0, len(s.plan.Includes))
	for _, name := range s.plan.Includes {
		found := ""
		for goName := range s.table.Relations {
			if strings.EqualFold(goName, strings.TrimSpace(name)) {
				found = goName
				break
			}
		}
		if found == "" {
			return nil, types.NewError(types.InvalidArgumentKind, "include",
				"%s has no relation %q", s.table.Type.Name(), name)
		}
		out = append(out, found)
	}
	return out, nil
}

func (s *bunSource[T]) List(ctx context.Context) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.plan.Limit == 0 && s.plan.Err == nil {
		return []*T{}, nil
	}
	items := make([]*T, 0)
	q, err := s.selectQuery(&items)
	if err != nil {
		return nil, err
	}
	if q, err = s.ordered(q); err != nil {
		return nil, err
	}
	rels, err := s.relations()
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		q = q.Relation(rel)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	if s.resolve == nil {
		return items, nil
	}
	live := items[:0]
	for _, item := range items {
		tracked, err := s.resolve(item)
		if err != nil {
			return nil, err
		}
		if tracked == nil {
			// staged for deletion in this session
			continue
		}
		if tracked != item {
			s.copyRelations(rels, item, tracked)
		}
		live = append(live, tracked)
	}
	return live, nil
}

// copyRelations moves eager-loaded relations onto an already tracked
// instance.
func (s *bunSource[T]) copyRelations(rels []string, from, to *T) {
	src, dst := reflect.ValueOf(from).Elem(), reflect.ValueOf(to).Elem()
	for _, name := range rels {
		idx := s.table.Relations[name].Field.Index
		dst.FieldByIndex(idx).Set(src.FieldByIndex(idx))
	}
}

func (s *bunSource[T]) First(ctx context.Context) (*T, error) {
	items, err := s.Take(1).List(ctx)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (s *bunSource[T]) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q, err := s.selectQuery((*T)(nil))
	if err != nil {
		return 0, err
	}
	n, err := q.Count(ctx)
	return int64(n), err
}

// Snapshot runs fn against this source bound to a read transaction.
func (s *bunSource[T]) Snapshot(ctx context.Context, fn func(ctx context.Context, src query.Source[T]) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	run := func(ctx context.Context, tx bun.IDB) error {
		cp := *s
		cp.db = tx
		cp.inTx = true
		return fn(ctx, &cp)
	}
	if s.sess != nil {
		return s.sess.ReadSnapshot(ctx, run)
	}
	return s.root.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return run(ctx, tx)
	})
}

// Projection pairs a source column with the destination column it is
// selected as.
type Projection struct {
	Column string
	As     string
}

// projections resolves the mapper bindings of T to dst into column pairs.
func (s *bunSource[T]) projections(m *mapper.Mapper, dst reflect.Type) ([]Projection, error) {
	bindings, err := m.Bindings(s.table.Type, dst)
	if err != nil {
		return nil, err
	}
	dstColumns := newColumnMap(s.root.Table(dst))
	out := make([]Projection, 0, len(bindings))
	for _, b := range bindings {
		col, err := s.columns.column(b.Src)
		if err != nil {
			return nil, types.WrapError(types.InvalidArgumentKind, "project", err)
		}
		as, ok := dstColumns[b.Dst]
		if !ok {
			return nil, types.NewError(types.InvalidArgumentKind, "project",
				"%s.%s cannot receive a column", dst.Name(), b.Dst)
		}
		out = append(out, Projection{Column: col, As: as})
	}
	return out, nil
}

// scanInto selects only the projected columns, in plan order, into dest.
func (s *bunSource[T]) scanInto(ctx context.Context, dest interface{}, projections []Projection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q, err := s.selectQuery((*T)(nil))
	if err != nil {
		return err
	}
	if s.plan.Limit == 0 {
		return nil
	}
	if q, err = s.ordered(q); err != nil {
		return err
	}
	for _, p := range projections {
		q = q.ColumnExpr("?TableAlias.? AS ?", bun.Ident(p.Column), bun.Ident(p.As))
	}
	return q.Scan(ctx, dest)
}
