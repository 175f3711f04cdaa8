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

package datakit

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/tomoncle/datakit/database"
	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/repository"
	"github.com/tomoncle/datakit/session"
	"github.com/tomoncle/datakit/types"
)

// Service runs every call in its own session: reads return detached
// entities and writes are committed before the call returns.
type Service[E any, K any] interface {
	// Get returns the entity with key id, or nil.
	Get(ctx context.Context, id K) (*E, error)

	// All returns all entities.
	All(ctx context.Context) ([]*E, error)

	// List returns the entities matching where.
	List(ctx context.Context, where query.Expr) ([]*E, error)

	// Page filters, sorts and pages with dynamic criteria.
	Page(ctx context.Context, criteria *types.DynamicPaginatedCriteria) (*types.Paginated[E], error)

	// Save inserts new entities.
	Save(ctx context.Context, models ...*E) types.Result

	// SaveOrUpdate upserts entities on conflictFields, the primary key when
	// empty.
	SaveOrUpdate(ctx context.Context, conflictFields []string, models ...*E) types.Result

	// Update writes every field of model.
	Update(ctx context.Context, model *E) types.Result

	// Patch assigns the given fields of the entity with key id.
	Patch(ctx context.Context, id K, fieldset types.JsonObject) types.Result

	// Delete removes the entity with key id.
	Delete(ctx context.Context, id K) types.Result

	// DeleteWhere removes every entity matching where.
	DeleteWhere(ctx context.Context, where query.Expr) types.Result

	// Do stages the changes made by fn and commits them together.
	Do(ctx context.Context, fn func(repo repository.Repository[E, K]) error) types.Result

	// SelectBuilder returns a Bun select query builder for the entity.
	SelectBuilder() *bun.SelectQuery
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	db       *bun.DB
	registry database.ModelRegistry
}

// WithDB binds the service to db instead of the global database.
func WithDB(db *bun.DB) ServiceOption {
	return func(o *serviceOptions) { o.db = db }
}

// WithRegistry sets the model registry that orders commits.
func WithRegistry(registry database.ModelRegistry) ServiceOption {
	return func(o *serviceOptions) { o.registry = registry }
}

type baseServiceImpl[E any, K any] struct {
	opts serviceOptions
}

// NewService returns a Service over the global database connection unless
// WithDB is given. The connection is looked up on every call.
func NewService[E any, K any](opts ...ServiceOption) Service[E, K] {
	s := &baseServiceImpl[E, K]{opts: serviceOptions{registry: database.DefaultRegistry()}}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

func (s *baseServiceImpl[E, K]) db() (*bun.DB, error) {
	if s.opts.db != nil {
		return s.opts.db, nil
	}
	if db := database.GetDB(); db != nil {
		return db, nil
	}
	return nil, types.NewError(types.InvalidArgumentKind, "service", "database is not initialized")
}

// withRepo runs fn on a repository over a fresh session that is closed
// afterwards.
func (s *baseServiceImpl[E, K]) withRepo(fn func(repo repository.Repository[E, K]) error) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	sess := session.New(db, session.WithRegistry(s.opts.registry))
	defer func() { _ = sess.Close() }()
	return fn(repository.New[E, K](sess))
}

func (s *baseServiceImpl[E, K]) Get(ctx context.Context, id K) (out *E, err error) {
	err = s.withRepo(func(repo repository.Repository[E, K]) error {
		out, err = repo.GetByID(ctx, id)
		return err
	})
	return out, err
}

func (s *baseServiceImpl[E, K]) All(ctx context.Context) (out []*E, err error) {
	err = s.withRepo(func(repo repository.Repository[E, K]) error {
		out, err = repo.GetAll(ctx)
		return err
	})
	return out, err
}

func (s *baseServiceImpl[E, K]) List(ctx context.Context, where query.Expr) (out []*E, err error) {
	err = s.withRepo(func(repo repository.Repository[E, K]) error {
		out, err = repo.GetMany(ctx, where)
		return err
	})
	return out, err
}

func (s *baseServiceImpl[E, K]) Page(ctx context.Context, criteria *types.DynamicPaginatedCriteria) (out *types.Paginated[E], err error) {
	err = s.withRepo(func(repo repository.Repository[E, K]) error {
		out, err = repo.GetDynamicPaginated(ctx, criteria)
		return err
	})
	return out, err
}

func (s *baseServiceImpl[E, K]) Do(ctx context.Context, fn func(repo repository.Repository[E, K]) error) types.Result {
	var res types.Result
	err := s.withRepo(func(repo repository.Repository[E, K]) error {
		if err := fn(repo); err != nil {
			return err
		}
		res = repo.Commit(ctx)
		return nil
	})
	if err != nil {
		return types.ResultFromError(err)
	}
	return res
}

func (s *baseServiceImpl[E, K]) Save(ctx context.Context, models ...*E) types.Result {
	return s.Do(ctx, func(repo repository.Repository[E, K]) error {
		return repo.AddRange(models...)
	})
}

func (s *baseServiceImpl[E, K]) SaveOrUpdate(ctx context.Context, conflictFields []string, models ...*E) types.Result {
	return s.Do(ctx, func(repo repository.Repository[E, K]) error {
		for _, m := range models {
			if err := repo.Upsert(m, conflictFields...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *baseServiceImpl[E, K]) Update(ctx context.Context, model *E) types.Result {
	return s.Do(ctx, func(repo repository.Repository[E, K]) error {
		return repo.Update(model)
	})
}

func (s *baseServiceImpl[E, K]) Patch(ctx context.Context, id K, fieldset types.JsonObject) types.Result {
	return s.Do(ctx, func(repo repository.Repository[E, K]) error {
		return repo.GenericUpdate(ctx, id, fieldset)
	})
}

func (s *baseServiceImpl[E, K]) Delete(ctx context.Context, id K) types.Result {
	return s.Do(ctx, func(repo repository.Repository[E, K]) error {
		return repo.DeleteByID(ctx, id)
	})
}

func (s *baseServiceImpl[E, K]) DeleteWhere(ctx context.Context, where query.Expr) types.Result {
	return s.Do(ctx, func(repo repository.Repository[E, K]) error {
		_, err := repo.DeleteMany(ctx, where)
		return err
	})
}

func (s *baseServiceImpl[E, K]) SelectBuilder() *bun.SelectQuery {
	db, err := s.db()
	if err != nil {
		return nil
	}
	return db.NewSelect().Model((*E)(nil))
}
