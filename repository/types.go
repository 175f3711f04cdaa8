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

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/session"
	"github.com/tomoncle/datakit/types"
)

// ReadRepository loads entities. Loaded entities are tracked by the session.
type ReadRepository[E any, K any] interface {
	Queryable() query.Source[E]

	GetByID(ctx context.Context, id K) (*E, error)

	GetByIDs(ctx context.Context, ids []K) ([]*E, error)

	Get(ctx context.Context, where query.Expr) (*E, error)

	GetAll(ctx context.Context) ([]*E, error)

	GetMany(ctx context.Context, where query.Expr) ([]*E, error)

	GetPaginated(ctx context.Context, criteria *types.PaginatedCriteria) (*types.Paginated[E], error)

	GetDynamicPaginated(ctx context.Context, criteria *types.DynamicPaginatedCriteria) (*types.Paginated[E], error)
}

// WriteRepository stages changes on the session. Nothing reaches the store
// before Commit.
type WriteRepository[E any, K any] interface {
	Add(entity *E) error
	AddRange(entities ...*E) error
	Update(entity *E) error
	UpdateFieldByID(ctx context.Context, id K, sets ...Setter[E]) error
	UpdateField(ctx context.Context, where query.Expr, sets ...Setter[E]) error
	GenericUpdate(ctx context.Context, id K, fieldset types.JsonObject) error
	DeleteByID(ctx context.Context, id K) error
	Delete(entity *E) error
	DeleteMany(ctx context.Context, where query.Expr) (int, error)
	Upsert(entity *E, conflictFields ...string) error
	Commit(ctx context.Context) types.Result
}

// Repository combines reads and staged writes over one entity type and
// exposes the session and the Bun query builders for advanced use cases.
type Repository[E any, K any] interface {
	ReadRepository[E, K]
	WriteRepository[E, K]
	Session() *session.Session
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
}
