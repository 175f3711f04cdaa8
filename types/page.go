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

package types

import (
	"encoding/json"
	"math"
)

const (
	DefaultCurrentPage = 1
	DefaultPageSize    = 10
)

// PaginatedCriteria describes the requested page. A nil criteria stands for
// the defaults (page 1, size 10).
type PaginatedCriteria struct {
	CurrentPage int `json:"current_page" yaml:"current_page"`
	PageSize    int `json:"page_size" yaml:"page_size"`
}

// NewPaginatedCriteria constructs a criteria for the given page and size.
func NewPaginatedCriteria(currentPage int, pageSize int) *PaginatedCriteria {
	return &PaginatedCriteria{CurrentPage: currentPage, PageSize: pageSize}
}

// DefaultPaginatedCriteria returns page 1 of size 10.
func DefaultPaginatedCriteria() *PaginatedCriteria {
	return NewPaginatedCriteria(DefaultCurrentPage, DefaultPageSize)
}

func (p *PaginatedCriteria) GetCurrentPage() int {
	if p == nil || p.CurrentPage < 1 {
		return DefaultCurrentPage
	}
	return p.CurrentPage
}

func (p *PaginatedCriteria) GetPageSize() int {
	if p == nil {
		return DefaultPageSize
	}
	return p.PageSize
}

// StartIndex is the zero-based offset of the first row of the page. It
// saturates at math.MaxInt when the offset is not representable.
func (p *PaginatedCriteria) StartIndex() int {
	if p.offsetOverflows() {
		return math.MaxInt
	}
	return (p.GetCurrentPage() - 1) * p.GetPageSize()
}

func (p *PaginatedCriteria) offsetOverflows() bool {
	size := p.GetPageSize()
	return size > 0 && p.GetCurrentPage()-1 > math.MaxInt/size
}

// Validate rejects page sizes below one and pages whose offset overflows.
func (p *PaginatedCriteria) Validate() error {
	if p.GetPageSize() < 1 {
		return NewError(InvalidArgumentKind, "paginate", "page size must be at least 1, got %d", p.GetPageSize())
	}
	if p.offsetOverflows() {
		return NewError(InvalidArgumentKind, "paginate", "page %d of size %d is out of range", p.GetCurrentPage(), p.GetPageSize())
	}
	return nil
}

// DynamicCriteria is a runtime filter/sort description. FilterClause uses
// positional placeholders (@0, @1, ...) bound to FilterParameters in order.
type DynamicCriteria struct {
	FilterClause     string        `json:"filter_clause" yaml:"filter"`
	FilterParameters []interface{} `json:"filter_parameters" yaml:"parameters"`
	Sorts            string        `json:"sorts" yaml:"sorts"`
	Includes         []string      `json:"includes" yaml:"includes"`
}

// NewDynamicCriteria creates criteria with a filter clause and its parameters.
func NewDynamicCriteria(filterClause string, filterParameters ...interface{}) *DynamicCriteria {
	return &DynamicCriteria{FilterClause: filterClause, FilterParameters: filterParameters}
}

// WithSorts sets the sort description and returns the criteria.
func (c *DynamicCriteria) WithSorts(sorts string) *DynamicCriteria {
	c.Sorts = sorts
	return c
}

// WithIncludes appends relations to eager-load and returns the criteria.
func (c *DynamicCriteria) WithIncludes(includes ...string) *DynamicCriteria {
	c.Includes = append(c.Includes, includes...)
	return c
}

// DynamicPaginatedCriteria filters, sorts, then pages.
type DynamicPaginatedCriteria struct {
	DynamicCriteria   `yaml:",inline"`
	PaginatedCriteria `yaml:",inline"`
}

// NewDynamicPaginatedCriteria combines dynamic criteria with a page request.
func NewDynamicPaginatedCriteria(criteria *DynamicCriteria, currentPage int, pageSize int) *DynamicPaginatedCriteria {
	out := &DynamicPaginatedCriteria{PaginatedCriteria: PaginatedCriteria{CurrentPage: currentPage, PageSize: pageSize}}
	if criteria != nil {
		out.DynamicCriteria = *criteria
	}
	return out
}

// Dynamic returns the filter/sort half of the criteria.
func (c *DynamicPaginatedCriteria) Dynamic() *DynamicCriteria {
	if c == nil {
		return &DynamicCriteria{}
	}
	return &c.DynamicCriteria
}

// Paging returns the page half of the criteria.
func (c *DynamicPaginatedCriteria) Paging() *PaginatedCriteria {
	if c == nil {
		return DefaultPaginatedCriteria()
	}
	return &c.PaginatedCriteria
}

// Paginated holds one page of results and the total row count. Page
// navigation values are computed from those four fields.
type Paginated[T any] struct {
	Data           []*T  `json:"data"`
	TotalRowsCount int64 `json:"total_rows_count"`
	CurrentPage    int   `json:"current_page"`
	PageSize       int   `json:"page_size"`
}

// NewPaginated constructs a page container.
func NewPaginated[T any](data []*T, totalRowsCount int64, currentPage int, pageSize int) *Paginated[T] {
	if data == nil {
		data = make([]*T, 0)
	}
	return &Paginated[T]{Data: data, TotalRowsCount: totalRowsCount, CurrentPage: currentPage, PageSize: pageSize}
}

// PageCount is ceil(TotalRowsCount / PageSize).
func (p *Paginated[T]) PageCount() int {
	if p.PageSize < 1 || p.TotalRowsCount <= 0 {
		return 0
	}
	size := int64(p.PageSize)
	return int((p.TotalRowsCount + size - 1) / size)
}

func (p *Paginated[T]) IsFirstPage() bool { return p.CurrentPage <= 1 }

func (p *Paginated[T]) IsLastPage() bool { return p.CurrentPage >= p.PageCount() }

func (p *Paginated[T]) PreviousPage() int {
	if p.CurrentPage-1 < 1 {
		return 1
	}
	return p.CurrentPage - 1
}

// NextPage stays on the last page; an empty result navigates to page 1.
func (p *Paginated[T]) NextPage() int {
	count := p.PageCount()
	next := count
	if p.CurrentPage < count {
		next = p.CurrentPage + 1
	}
	if next < 1 {
		next = 1
	}
	return next
}

// Equal compares page metadata and data element-wise with eq.
func (p *Paginated[T]) Equal(other *Paginated[T], eq func(a, b *T) bool) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.TotalRowsCount != other.TotalRowsCount ||
		p.CurrentPage != other.CurrentPage ||
		p.PageSize != other.PageSize ||
		len(p.Data) != len(other.Data) {
		return false
	}
	for i := range p.Data {
		if !eq(p.Data[i], other.Data[i]) {
			return false
		}
	}
	return true
}

type paginatedJSON[T any] struct {
	Data           []*T  `json:"data"`
	TotalRowsCount int64 `json:"total_rows_count"`
	CurrentPage    int   `json:"current_page"`
	PageSize       int   `json:"page_size"`
	PageCount      int   `json:"page_count"`
	IsFirstPage    bool  `json:"is_first_page"`
	IsLastPage     bool  `json:"is_last_page"`
	PreviousPage   int   `json:"previous_page"`
	NextPage       int   `json:"next_page"`
}

// MarshalJSON emits the stored fields together with the computed navigation.
func (p Paginated[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(paginatedJSON[T]{
		Data:           p.Data,
		TotalRowsCount: p.TotalRowsCount,
		CurrentPage:    p.CurrentPage,
		PageSize:       p.PageSize,
		PageCount:      p.PageCount(),
		IsFirstPage:    p.IsFirstPage(),
		IsLastPage:     p.IsLastPage(),
		PreviousPage:   p.PreviousPage(),
		NextPage:       p.NextPage(),
	})
}

// MapPaginated converts every row of a page, keeping its metadata.
func MapPaginated[T any, R any](p *Paginated[T], fn func(*T) (*R, error)) (*Paginated[R], error) {
	out := make([]*R, 0, len(p.Data))
	for _, item := range p.Data {
		mapped, err := fn(item)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return NewPaginated(out, p.TotalRowsCount, p.CurrentPage, p.PageSize), nil
}
