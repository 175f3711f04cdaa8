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
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginatedNavigation(t *testing.T) {
	tests := []struct {
		name         string
		total        int64
		page, size   int
		pageCount    int
		first, last  bool
		prev, next   int
	}{
		{"second of two", 15, 2, 10, 2, false, true, 1, 2},
		{"first of two", 15, 1, 10, 2, true, false, 1, 2},
		{"exact multiple", 20, 1, 10, 2, true, false, 1, 2},
		{"empty", 0, 1, 10, 0, true, true, 1, 1},
		{"beyond end", 15, 5, 10, 2, false, true, 4, 2},
		{"single row pages", 3, 2, 1, 3, false, false, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPaginated[int](nil, tt.total, tt.page, tt.size)
			assert.Equal(t, tt.pageCount, p.PageCount())
			assert.Equal(t, tt.first, p.IsFirstPage())
			assert.Equal(t, tt.last, p.IsLastPage())
			assert.Equal(t, tt.prev, p.PreviousPage())
			assert.Equal(t, tt.next, p.NextPage())
		})
	}
}

func TestPageCountIsCeiling(t *testing.T) {
	for size := 1; size <= 7; size++ {
		for total := int64(0); total <= 30; total++ {
			p := NewPaginated[int](nil, total, 1, size)
			want := int(total) / size
			if int(total)%size != 0 {
				want++
			}
			require.Equal(t, want, p.PageCount(), "total=%d size=%d", total, size)
			require.Equal(t, 1 >= want, p.IsLastPage())
		}
	}
}

func TestPaginatedCriteria(t *testing.T) {
	var nilCriteria *PaginatedCriteria
	assert.Equal(t, 1, nilCriteria.GetCurrentPage())
	assert.Equal(t, 10, nilCriteria.GetPageSize())
	assert.Equal(t, 0, nilCriteria.StartIndex())
	assert.NoError(t, nilCriteria.Validate())

	c := NewPaginatedCriteria(3, 25)
	assert.Equal(t, 50, c.StartIndex())

	c = NewPaginatedCriteria(0, 10)
	assert.Equal(t, 1, c.GetCurrentPage())
	assert.Equal(t, 0, c.StartIndex())

	err := NewPaginatedCriteria(1, 0).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestPaginatedCriteriaOffsetOverflow(t *testing.T) {
	c := NewPaginatedCriteria(math.MaxInt/5, 10)
	assert.Equal(t, math.MaxInt, c.StartIndex())
	assert.True(t, errors.Is(c.Validate(), ErrInvalidArgument))

	c = NewPaginatedCriteria(math.MaxInt/10+1, 10)
	assert.Equal(t, math.MaxInt/10*10, c.StartIndex())
	assert.NoError(t, c.Validate())
}

func TestPaginatedEqual(t *testing.T) {
	a, b, c := 1, 1, 2
	eq := func(x, y *int) bool { return *x == *y }

	left := NewPaginated([]*int{&a}, 1, 1, 10)
	assert.True(t, left.Equal(NewPaginated([]*int{&b}, 1, 1, 10), eq))
	assert.False(t, left.Equal(NewPaginated([]*int{&c}, 1, 1, 10), eq))
	assert.False(t, left.Equal(NewPaginated([]*int{&b}, 2, 1, 10), eq))
	assert.False(t, left.Equal(nil, eq))
}

func TestPaginatedJSONIncludesNavigation(t *testing.T) {
	one := 1
	raw, err := json.Marshal(NewPaginated([]*int{&one}, 15, 2, 10))
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.EqualValues(t, 2, out["page_count"])
	assert.Equal(t, true, out["is_last_page"])
	assert.EqualValues(t, 1, out["previous_page"])
}

func TestPaginatedValueJSON(t *testing.T) {
	one := 1
	page := *NewPaginated([]*int{&one}, 15, 1, 10)
	raw, err := json.Marshal(struct {
		Page Paginated[int] `json:"page"`
	}{page})
	require.NoError(t, err)

	var out struct {
		Page map[string]interface{} `json:"page"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.EqualValues(t, 2, out.Page["page_count"])
	assert.EqualValues(t, 2, out.Page["next_page"])
	assert.EqualValues(t, []interface{}{float64(1)}, out.Page["data"])
	assert.Contains(t, out.Page, "total_rows_count")
}

func TestMapPaginated(t *testing.T) {
	one, two := 1, 2
	page := NewPaginated([]*int{&one, &two}, 12, 2, 2)
	mapped, err := MapPaginated(page, func(v *int) (*string, error) {
		s := string(rune('a' + *v))
		return &s, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), mapped.TotalRowsCount)
	assert.Equal(t, "b", *mapped.Data[0])
	assert.Equal(t, "c", *mapped.Data[1])
}

func TestErrorKinds(t *testing.T) {
	err := NotFound("deleteById", "Blog", 42)
	assert.Equal(t, "deleteById: there is no item in Blog with id : 42", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrCommitFailure))
	assert.Equal(t, NotFoundKind, KindOf(err))

	conflict := WrapError(ConcurrencyConflictKind, "commit", errors.New("0 rows"))
	assert.True(t, errors.Is(conflict, ErrConcurrencyConflict))
	assert.False(t, errors.Is(conflict, ErrCommitFailure))

	res := ResultFromError(conflict)
	assert.False(t, res.OK())
	assert.Equal(t, 409, res.StatusCode)
}

func TestEntityStateEnum(t *testing.T) {
	assert.Equal(t, "Modified", Modified.String())
	assert.Equal(t, 3, Modified.Number())
	assert.True(t, Deleted.Pending())
	assert.False(t, Unchanged.Pending())
	assert.False(t, EntityState(42).IsValid())
	assert.Equal(t, IllegalName, EntityState(42).Name())
}
