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

	"github.com/tomoncle/datakit/mapper"
	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/session"
	"github.com/tomoncle/datakit/types"
)

// SmartRepository is a Repository that also reads and writes through the
// DTO type D.
type SmartRepository[E any, K any, D any] interface {
	Repository[E, K]
	Mapper() *mapper.Mapper

	GetByIDAs(ctx context.Context, id K) (*D, error)
	GetByIDsAs(ctx context.Context, ids []K) ([]*D, error)
	GetAs(ctx context.Context, where query.Expr) (*D, error)
	GetAllAs(ctx context.Context) ([]*D, error)
	GetManyAs(ctx context.Context, where query.Expr) ([]*D, error)
	GetPaginatedAs(ctx context.Context, criteria *types.PaginatedCriteria) (*types.Paginated[D], error)
	GetDynamicPaginatedAs(ctx context.Context, criteria *types.DynamicPaginatedCriteria) (*types.Paginated[D], error)

	AddDTO(dto *D) (*E, error)
	AddRangeDTO(dtos ...*D) ([]*E, error)
	UpdateByID(ctx context.Context, id K, dto *D) (*E, error)
	// AddOrUpdate loads the entity with key id, then adds or updates it from
	// dto. Another writer may insert the same key in between; use Upsert
	// when that matters.
	AddOrUpdate(ctx context.Context, id K, dto *D) (*E, error)
}

type smartRepositoryImpl[E any, K any, D any] struct {
	*baseRepositoryImpl[E, K]
	mapper *mapper.Mapper
}

// NewSmart returns a SmartRepository. Both the E to D and the D to E maps
// must be configured on m and valid.
func NewSmart[E any, K any, D any](sess *session.Session, m *mapper.Mapper) (SmartRepository[E, K, D], error) {
	if m == nil {
		return nil, types.NewError(types.InvalidArgumentKind, "smart repository", "mapper is required")
	}
	if err := mapper.Validate[E, D](m); err != nil {
		return nil, err
	}
	if err := mapper.Validate[D, E](m); err != nil {
		return nil, err
	}
	return &smartRepositoryImpl[E, K, D]{baseRepositoryImpl: newBase[E, K](sess), mapper: m}, nil
}

func (r *smartRepositoryImpl[E, K, D]) Mapper() *mapper.Mapper { return r.mapper }

func (r *smartRepositoryImpl[E, K, D]) GetByIDAs(ctx context.Context, id K) (*D, error) {
	keys, err := r.keyValues(id)
	if err != nil {
		return nil, err
	}
	return r.first(ctx, r.source().Where(r.keyExpr(keys)))
}

func (r *smartRepositoryImpl[E, K, D]) GetByIDsAs(ctx context.Context, ids []K) ([]*D, error) {
	if len(ids) == 0 {
		return []*D{}, nil
	}
	where, err := r.idsExpr(ids)
	if err != nil {
		return nil, err
	}
	return Project[E, D](ctx, r.mapper, r.source().Where(where))
}

func (r *smartRepositoryImpl[E, K, D]) GetAs(ctx context.Context, where query.Expr) (*D, error) {
	return r.first(ctx, r.source().Where(where))
}

func (r *smartRepositoryImpl[E, K, D]) first(ctx context.Context, src query.Source[E]) (*D, error) {
	items, err := Project[E, D](ctx, r.mapper, src.Take(1))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (r *smartRepositoryImpl[E, K, D]) GetAllAs(ctx context.Context) ([]*D, error) {
	return Project[E, D](ctx, r.mapper, r.source())
}

func (r *smartRepositoryImpl[E, K, D]) GetManyAs(ctx context.Context, where query.Expr) ([]*D, error) {
	return Project[E, D](ctx, r.mapper, r.source().Where(where))
}

func (r *smartRepositoryImpl[E, K, D]) GetPaginatedAs(ctx context.Context, criteria *types.PaginatedCriteria) (*types.Paginated[D], error) {
	return ProjectPaginated[E, D](ctx, r.mapper, r.source(), criteria)
}

func (r *smartRepositoryImpl[E, K, D]) GetDynamicPaginatedAs(ctx context.Context, criteria *types.DynamicPaginatedCriteria) (*types.Paginated[D], error) {
	src := query.ApplyCriteria[E](r.source(), criteria.Dynamic())
	return ProjectPaginated[E, D](ctx, r.mapper, src, criteria.Paging())
}

func (r *smartRepositoryImpl[E, K, D]) AddDTO(dto *D) (*E, error) {
	e, err := mapper.Map[D, E](r.mapper, dto)
	if err != nil {
		return nil, err
	}
	if err := r.Add(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *smartRepositoryImpl[E, K, D]) AddRangeDTO(dtos ...*D) ([]*E, error) {
	out := make([]*E, 0, len(dtos))
	for _, dto := range dtos {
		e, err := r.AddDTO(dto)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateByID maps dto onto the entity with key id. Key fields keep their
// loaded values.
func (r *smartRepositoryImpl[E, K, D]) UpdateByID(ctx context.Context, id K, dto *D) (*E, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, types.NotFound("update", r.name, id)
	}
	if err := r.mapOnto(dto, e); err != nil {
		return nil, err
	}
	if err := r.sess.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *smartRepositoryImpl[E, K, D]) mapOnto(dto *D, e *E) error {
	cp := *e
	if err := mapper.MapOnto[D, E](r.mapper, dto, &cp); err != nil {
		return err
	}
	before, after := reflect.ValueOf(e).Elem(), reflect.ValueOf(&cp).Elem()
	for _, pk := range r.table.PKs {
		after.FieldByIndex(pk.Index).Set(before.FieldByIndex(pk.Index))
	}
	*e = cp
	return nil
}

func (r *smartRepositoryImpl[E, K, D]) AddOrUpdate(ctx context.Context, id K, dto *D) (*E, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return r.AddDTO(dto)
	}
	if err := r.mapOnto(dto, e); err != nil {
		return nil, err
	}
	if err := r.sess.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Project materializes src as D values. Bun sources select only the bound
// columns and scan them straight into D; other sources are loaded and then
// mapped.
func Project[E any, D any](ctx context.Context, m *mapper.Mapper, src query.Source[E]) ([]*D, error) {
	bs, ok := src.(*bunSource[E])
	if !ok {
		items, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		return mapper.MapSlice[E, D](m, items)
	}
	projections, err := bs.projections(m, reflect.TypeOf((*D)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	dest := make([]*D, 0)
	if err := bs.scanInto(ctx, &dest, projections); err != nil {
		return nil, err
	}
	return dest, nil
}

// ProjectPaginated is query.ToPaginated with the page projected to D.
func ProjectPaginated[E any, D any](ctx context.Context, m *mapper.Mapper, src query.Source[E], criteria *types.PaginatedCriteria) (*types.Paginated[D], error) {
	if criteria == nil {
		criteria = types.DefaultPaginatedCriteria()
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	var page *types.Paginated[D]
	err := src.Snapshot(ctx, func(ctx context.Context, snap query.Source[E]) error {
		total, err := snap.Count(ctx)
		if err != nil {
			return err
		}
		var data []*D
		if total > int64(criteria.StartIndex()) {
			data, err = Project[E, D](ctx, m, query.ToPage(snap, criteria.StartIndex(), criteria.GetPageSize()))
			if err != nil {
				return err
			}
		}
		page = types.NewPaginated(data, total, criteria.GetCurrentPage(), criteria.GetPageSize())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}
