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
	"strings"

	"github.com/tomoncle/datakit/types"
)

// ApplyFilter narrows src by a textual filter clause. An empty clause
// returns src unchanged.
func ApplyFilter[T any](src Source[T], clause string, params ...interface{}) Source[T] {
	if strings.TrimSpace(clause) == "" {
		return src
	}
	return src.Where(Where(clause, params...))
}

// ApplySort orders src by a textual sort description. An empty description
// returns src unchanged.
func ApplySort[T any](src Source[T], sorts string) Source[T] {
	if strings.TrimSpace(sorts) == "" {
		return src
	}
	orders, err := ParseSort(sorts)
	if err != nil {
		return src.Where(Invalid(err))
	}
	return src.OrderBy(orders...)
}

// ApplyCriteria filters, then sorts, then registers the includes.
func ApplyCriteria[T any](src Source[T], criteria *types.DynamicCriteria) Source[T] {
	if criteria == nil {
		return src
	}
	out := ApplySort(ApplyFilter(src, criteria.FilterClause, criteria.FilterParameters...), criteria.Sorts)
	if len(criteria.Includes) > 0 {
		out = out.Include(criteria.Includes...)
	}
	return out
}

// ToPage slices [startIndex, startIndex+pageSize). A negative start is
// treated as zero; a start past the end yields an empty page.
func ToPage[T any](src Source[T], startIndex int, pageSize int) Source[T] {
	if startIndex < 0 {
		startIndex = 0
	}
	return src.Skip(startIndex).Take(pageSize)
}

// ToPaginated counts the unsliced source and loads the requested page, one
// after the other, within a single snapshot of src. A nil criteria means
// page 1 of size 10.
func ToPaginated[T any](ctx context.Context, src Source[T], criteria *types.PaginatedCriteria) (*types.Paginated[T], error) {
	if criteria == nil {
		criteria = types.DefaultPaginatedCriteria()
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	var page *types.Paginated[T]
	err := src.Snapshot(ctx, func(ctx context.Context, snap Source[T]) error {
		total, err := snap.Count(ctx)
		if err != nil {
			return err
		}
		var data []*T
		if total > int64(criteria.StartIndex()) {
			data, err = ToPage(snap, criteria.StartIndex(), criteria.GetPageSize()).List(ctx)
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

// ApplyDynamicPaginated applies the dynamic half of criteria, then pages.
func ApplyDynamicPaginated[T any](ctx context.Context, src Source[T], criteria *types.DynamicPaginatedCriteria) (*types.Paginated[T], error) {
	return ToPaginated(ctx, ApplyCriteria(src, criteria.Dynamic()), criteria.Paging())
}
