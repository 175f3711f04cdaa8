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
	"reflect"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/datakit/database"
	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/session"
	"github.com/tomoncle/datakit/types"
)

type baseRepositoryImpl[E any, K any] struct {
	sess   *session.Session
	table  *schema.Table
	fields fieldTable
	name   string
	logger database.Logger
}

// New returns a repository of E keyed by K that stages its writes on sess.
// K is the primary key type, or a struct listing the key fields in order
// when E has a composite key. The repository does not own sess.
func New[E any, K any](sess *session.Session) Repository[E, K] {
	return newBase[E, K](sess)
}

func newBase[E any, K any](sess *session.Session) *baseRepositoryImpl[E, K] {
	table := sess.DB().Table(reflect.TypeOf((*E)(nil)).Elem())
	return &baseRepositoryImpl[E, K]{
		sess:   sess,
		table:  table,
		fields: newFieldTable(table),
		name:   table.Type.Name(),
		logger: sess.Logger(),
	}
}

func (r *baseRepositoryImpl[E, K]) Session() *session.Session { return r.sess }

func (r *baseRepositoryImpl[E, K]) Dialect() schema.Dialect { return r.sess.DB().Dialect() }

func (r *baseRepositoryImpl[E, K]) NewSelect() *bun.SelectQuery {
	return r.sess.DB().NewSelect().Model((*E)(nil))
}

func (r *baseRepositoryImpl[E, K]) Queryable() query.Source[E] {
	return r.source()
}

func (r *baseRepositoryImpl[E, K]) source() *bunSource[E] {
	return newBunSource[E](r.sess.DB(), r.sess, r.resolve)
}

func (r *baseRepositoryImpl[E, K]) resolve(loaded *E) (*E, error) {
	tracked, err := r.sess.Resolve(loaded)
	if err != nil || tracked == nil {
		return nil, err
	}
	return tracked.(*E), nil
}

// keyValues lists the primary key values of id in key column order.
func (r *baseRepositoryImpl[E, K]) keyValues(id K) ([]interface{}, error) {
	pks := r.table.PKs
	if len(pks) == 0 {
		return nil, types.NewError(types.InvalidArgumentKind, "key", "%s has no primary key", r.name)
	}
	if len(pks) == 1 {
		return []interface{}{id}, nil
	}
	v := reflect.Indirect(reflect.ValueOf(id))
	if v.Kind() != reflect.Struct || v.NumField() != len(pks) {
		return nil, types.NewError(types.InvalidArgumentKind, "key",
			"%s has a key of %d fields, %T does not match", r.name, len(pks), id)
	}
	values := make([]interface{}, len(pks))
	for i, pk := range pks {
		fv := v.FieldByName(pk.GoName)
		if !fv.IsValid() {
			fv = v.Field(i)
		}
		values[i] = fv.Interface()
	}
	return values, nil
}

func (r *baseRepositoryImpl[E, K]) keyExpr(values []interface{}) query.Expr {
	terms := make([]query.Expr, len(values))
	for i, pk := range r.table.PKs {
		terms[i] = query.Eq(pk.GoName, values[i])
	}
	return query.AndOf(terms...)
}

func (r *baseRepositoryImpl[E, K]) GetByID(ctx context.Context, id K) (*E, error) {
	keys, err := r.keyValues(id)
	if err != nil {
		return nil, err
	}
	if tracked, ok := r.sess.Find((*E)(nil), keys...); ok {
		return tracked.(*E), nil
	}
	return r.source().Where(r.keyExpr(keys)).First(ctx)
}

func (r *baseRepositoryImpl[E, K]) idsExpr(ids []K) (query.Expr, error) {
	if len(r.table.PKs) == 1 {
		values := make([]interface{}, len(ids))
		for i, id := range ids {
			values[i] = id
		}
		return query.IsIn(r.table.PKs[0].GoName, values...), nil
	}
	terms := make([]query.Expr, 0, len(ids))
	for _, id := range ids {
		keys, err := r.keyValues(id)
		if err != nil {
			return nil, err
		}
		terms = append(terms, r.keyExpr(keys))
	}
	return query.OrOf(terms...), nil
}

func (r *baseRepositoryImpl[E, K]) GetByIDs(ctx context.Context, ids []K) ([]*E, error) {
	if len(ids) == 0 {
		return []*E{}, nil
	}
	where, err := r.idsExpr(ids)
	if err != nil {
		return nil, err
	}
	return r.source().Where(where).List(ctx)
}

func (r *baseRepositoryImpl[E, K]) Get(ctx context.Context, where query.Expr) (*E, error) {
	return r.source().Where(where).First(ctx)
}

func (r *baseRepositoryImpl[E, K]) GetAll(ctx context.Context) ([]*E, error) {
	return r.source().List(ctx)
}

func (r *baseRepositoryImpl[E, K]) GetMany(ctx context.Context, where query.Expr) ([]*E, error) {
	return r.source().Where(where).List(ctx)
}

func (r *baseRepositoryImpl[E, K]) GetPaginated(ctx context.Context, criteria *types.PaginatedCriteria) (*types.Paginated[E], error) {
	return query.ToPaginated[E](ctx, r.source(), criteria)
}

func (r *baseRepositoryImpl[E, K]) GetDynamicPaginated(ctx context.Context, criteria *types.DynamicPaginatedCriteria) (*types.Paginated[E], error) {
	return query.ApplyDynamicPaginated[E](ctx, r.source(), criteria)
}

func (r *baseRepositoryImpl[E, K]) Add(entity *E) error {
	if entity == nil {
		return types.NewError(types.InvalidArgumentKind, "add", "%s must not be nil", r.name)
	}
	return r.sess.Add(entity)
}

func (r *baseRepositoryImpl[E, K]) AddRange(entities ...*E) error {
	for _, e := range entities {
		if err := r.Add(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[E, K]) Update(entity *E) error {
	if entity == nil {
		return types.NewError(types.InvalidArgumentKind, "update", "%s must not be nil", r.name)
	}
	return r.sess.Update(entity)
}

func (r *baseRepositoryImpl[E, K]) UpdateFieldByID(ctx context.Context, id K, sets ...Setter[E]) error {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return types.NotFound("update", r.name, id)
	}
	return r.modify("update", e, sets)
}

func (r *baseRepositoryImpl[E, K]) UpdateField(ctx context.Context, where query.Expr, sets ...Setter[E]) error {
	e, err := r.Get(ctx, where)
	if err != nil {
		return err
	}
	if e == nil {
		return types.NewError(types.NotFoundKind, "update", "there is no item in %s matching %s", r.name, where)
	}
	return r.modify("update", e, sets)
}

func (r *baseRepositoryImpl[E, K]) modify(op string, e *E, sets []Setter[E]) error {
	if err := applySetters(op, r.fields, e, sets); err != nil {
		return err
	}
	return r.sess.Update(e)
}

// GenericUpdate assigns every entry of fieldset to the entity with key id.
// Names are checked before the entity is loaded; an unknown or key field
// fails the whole call and nothing is staged.
func (r *baseRepositoryImpl[E, K]) GenericUpdate(ctx context.Context, id K, fieldset types.JsonObject) error {
	if len(fieldset) == 0 {
		return types.NewError(types.InvalidArgumentKind, "generic update", "fieldset is empty")
	}
	values, err := r.fields.resolve("generic update", fieldset)
	if err != nil {
		return err
	}
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return types.NotFound("generic update", r.name, id)
	}
	if err := r.fields.assign("generic update", e, values); err != nil {
		return err
	}
	r.logger.Debug("generic update staged", "entity", r.name, "id", id, "fields", fieldset.Keys())
	return r.sess.Update(e)
}

func (r *baseRepositoryImpl[E, K]) DeleteByID(ctx context.Context, id K) error {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return types.NotFound("delete", r.name, id)
	}
	return r.sess.Remove(e)
}

func (r *baseRepositoryImpl[E, K]) Delete(entity *E) error {
	if entity == nil {
		return types.NewError(types.InvalidArgumentKind, "delete", "%s must not be nil", r.name)
	}
	return r.sess.Remove(entity)
}

// DeleteMany stages the deletion of every entity matching where and returns
// how many were staged.
func (r *baseRepositoryImpl[E, K]) DeleteMany(ctx context.Context, where query.Expr) (int, error) {
	items, err := r.GetMany(ctx, where)
	if err != nil {
		return 0, err
	}
	for _, e := range items {
		if err := r.sess.Remove(e); err != nil {
			return 0, err
		}
	}
	r.logger.Debug("delete staged", "entity", r.name, "count", len(items))
	return len(items), nil
}

// Upsert stages entity for an insert-or-update resolved by the store at
// commit. conflictFields name the unique fields that identify an existing
// row and default to the primary key.
func (r *baseRepositoryImpl[E, K]) Upsert(entity *E, conflictFields ...string) error {
	if entity == nil {
		return types.NewError(types.InvalidArgumentKind, "upsert", "%s must not be nil", r.name)
	}
	columns := make([]string, 0, len(conflictFields))
	for _, name := range conflictFields {
		col, ok := r.columnOf(name)
		if !ok {
			return types.NewError(types.InvalidArgumentKind, "upsert", "%s has no field %s", r.name, name)
		}
		columns = append(columns, col)
	}
	return r.sess.Upsert(entity, columns, nil)
}

func (r *baseRepositoryImpl[E, K]) columnOf(name string) (string, bool) {
	n := normalizeName(name)
	for _, f := range r.table.Fields {
		if normalizeName(f.GoName) == n || normalizeName(f.Name) == n {
			return f.Name, true
		}
	}
	return "", false
}

func (r *baseRepositoryImpl[E, K]) Commit(ctx context.Context) types.Result {
	return r.sess.Commit(ctx)
}
