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
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/datakit/types"
)

type blog struct {
	Id     int
	Url    string
	Rating int
	Owner  *string
	Posts  []string
}

func seedBlogs(n int) []*blog {
	blogs := make([]*blog, 0, n)
	for i := 1; i <= n; i++ {
		blogs = append(blogs, &blog{Id: i, Url: fmt.Sprintf("https://blog-%d.example", i), Rating: i % 3})
	}
	return blogs
}

func ids(items []*blog) []int {
	out := make([]int, len(items))
	for i, b := range items {
		out[i] = b.Id
	}
	return out
}

func TestParseValid(t *testing.T) {
	tests := []struct {
		clause string
		want   string
	}{
		{"Id == @0", "Id == @0"},
		{"Id = 3", "Id == 3"},
		{"5 < Id", "Id > 5"},
		{"Id > 1 && Rating <> 2", "(Id > 1) && (Rating != 2)"},
		{"Id > 1 and not (Rating == 2)", "(Id > 1) && (!(Rating == 2))"},
		{"Id in (1, 2, @1)", "Id in (1, 2, @1)"},
		{"Url.StartsWith('https')", `Url.StartsWith("https")`},
		{"Owner == null || Rating >= -1.5", "(Owner == null) || (Rating >= -1.5)"},
		{"Rating == Id", "Rating == Id"},
		{"true", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			expr, err := Parse(tt.clause)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.String())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, clause := range []string{
		"Id ==",
		"Id == 'open",
		"(Id > 1",
		"Id & 2",
		"1 == 2",
		"Url.Matches('x')",
		"Id in 1",
		"Id > 1 Rating",
		"@",
	} {
		t.Run(clause, func(t *testing.T) {
			_, err := Parse(clause)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidFilterExpression), err.Error())
		})
	}
}

func TestWhereBindsParameters(t *testing.T) {
	expr := Where("Id in (@0) && Url.Contains(@1)", []int{2, 4, 6}, "blog-")
	assert.Equal(t, `(Id in (2, 4, 6)) && (Url.Contains("blog-"))`, expr.String())

	_, err := FromSlice(seedBlogs(1)).Where(Where("Id == @3", 1)).List(context.Background())
	assert.True(t, errors.Is(err, types.ErrInvalidFilterExpression))
}

func TestParseIsCached(t *testing.T) {
	first, err := Parse("Rating > @0")
	require.NoError(t, err)
	second, err := Parse("  Rating > @0 ")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCriteriaPresets(t *testing.T) {
	presets, err := LoadCriteriaPresets([]byte(`
presets:
  top-rated:
    filter: "Rating >= @0"
    parameters: [2]
    sorts: "Id desc"
    page_size: 2
  everything:
    sorts: "Id"
`))
	require.NoError(t, err)

	top, ok := presets.Get("top-rated")
	require.True(t, ok)
	assert.Equal(t, 1, top.CurrentPage)
	page, err := ApplyDynamicPaginated(context.Background(), FromSlice(seedBlogs(9)), top)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 5}, ids(page.Data))

	all, ok := presets.Get("everything")
	require.True(t, ok)
	assert.Equal(t, 10, all.PageSize)

	_, err = LoadCriteriaPresets([]byte("presets:\n  broken:\n    filter: \"Id ==\"\n"))
	assert.True(t, errors.Is(err, types.ErrInvalidFilterExpression))
}

func TestFilterAndSortAreIdentityWhenEmpty(t *testing.T) {
	src := FromSlice(seedBlogs(3))
	assert.Same(t, src, ApplyFilter(src, "  "))
	assert.Same(t, src, ApplySort(src, ""))
}

func TestApplySortAndFilter(t *testing.T) {
	ctx := context.Background()
	src := FromSlice(seedBlogs(15))

	sorted, err := ApplySort(src, "Id desc").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, sorted[0].Id)
	assert.Equal(t, 1, sorted[14].Id)

	filtered, err := ApplyFilter(src, "Id == @0", 1).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(filtered))
}

func TestApplyCriteriaFiltersBeforeSorting(t *testing.T) {
	criteria := types.NewDynamicCriteria("Id > @0", 10).WithSorts("Id desc")
	items, err := ApplyCriteria(FromSlice(seedBlogs(15)), criteria).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{15, 14, 13, 12, 11}, ids(items))
}

func TestUnknownFieldsFailWithTheirKind(t *testing.T) {
	ctx := context.Background()
	src := FromSlice(seedBlogs(3))

	_, err := ApplyFilter(src, "Missing > 1").List(ctx)
	assert.True(t, errors.Is(err, types.ErrInvalidFilterExpression))

	_, err = ApplySort(src, "Missing desc").List(ctx)
	assert.True(t, errors.Is(err, types.ErrInvalidSortExpression))

	_, err = ApplySort(src, "Id sideways").Count(ctx)
	assert.True(t, errors.Is(err, types.ErrInvalidSortExpression))

	_, err = ApplyFilter(src, "Url > 'a' && Rating == 'high'").List(ctx)
	assert.True(t, errors.Is(err, types.ErrInvalidFilterExpression))
}

func TestMultiKeySortIsStable(t *testing.T) {
	items, err := ApplySort(FromSlice(seedBlogs(9)), "rating desc, ID").List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 8, 1, 4, 7, 3, 6, 9}, ids(items))
}

func TestPredicates(t *testing.T) {
	owner := "ann"
	blogs := seedBlogs(6)
	blogs[0].Owner = &owner
	src := FromSlice(blogs)
	ctx := context.Background()

	tests := []struct {
		name string
		expr Expr
		want []int
	}{
		{"null", Where("Owner == null && Id < 4"), []int{2, 3}},
		{"not null", Where("Owner != null"), []int{1}},
		{"ne skips null", Where("Owner != 'bob'"), []int{1}},
		{"in", IsIn("Id", 2, "5"), []int{2, 5}},
		{"ends with", EndsWith("Url", "-3.example"), []int{3}},
		{"field compare", Where("Rating >= Id"), []int{1, 2}},
		{"flipped", Where("3 >= Id"), []int{1, 2, 3}},
		{"or", OrOf(Eq("Id", 1), Eq("Id", 6)), []int{1, 6}},
		{"builder and", AndOf(Gt("Id", 1), Le("Id", 3), Ne("Rating", 0)), []int{2}},
		{"false", False(), []int{}},
		{"fraction ge", Where("Rating >= 1.5"), []int{2, 5}},
		{"fraction eq", Where("Rating == 1.5"), []int{}},
		{"fraction param", Where("Rating < @0", 0.5), []int{3, 6}},
		{"integral float", Where("Rating == @0", 2.0), []int{2, 5}},
		{"not keeps null unknown", Where("not (Owner == 'ann')"), []int{}},
		{"not of ne", NotOf(Ne("Owner", "bob")), []int{}},
		{"or absorbs unknown", Where("Owner == 'ann' || Rating == 0"), []int{1, 3, 6}},
		{"not or", NotOf(OrOf(Eq("Owner", "x"), Eq("Id", 2))), []int{1}},
		{"and with false", NotOf(AndOf(Eq("Owner", "x"), Eq("Id", 0))), []int{1, 2, 3, 4, 5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := src.Where(tt.expr).List(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(items))
		})
	}
}

func TestToPage(t *testing.T) {
	ctx := context.Background()
	src := FromSlice(seedBlogs(15))

	items, err := ToPage(src, -5, 3).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids(items))

	items, err = ToPage(src, 14, 10).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{15}, ids(items))

	items, err = ToPage(src, 40, 10).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestToPaginatedSecondPage(t *testing.T) {
	page, err := ToPaginated(context.Background(), FromSlice(seedBlogs(15)), types.NewPaginatedCriteria(2, 10))
	require.NoError(t, err)
	assert.Equal(t, []int{11, 12, 13, 14, 15}, ids(page.Data))
	assert.Equal(t, int64(15), page.TotalRowsCount)
	assert.Equal(t, 2, page.PageCount())
	assert.True(t, page.IsLastPage())
}

func TestToPaginatedDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	page, err := ToPaginated(ctx, FromSlice(seedBlogs(15)), nil)
	require.NoError(t, err)
	assert.Len(t, page.Data, 10)
	assert.Equal(t, 1, page.CurrentPage)

	_, err = ToPaginated(ctx, FromSlice(seedBlogs(15)), types.NewPaginatedCriteria(1, 0))
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	_, err = ToPaginated(ctx, FromSlice(seedBlogs(15)), types.NewPaginatedCriteria(math.MaxInt/5, 10))
	assert.True(t, errors.Is(err, types.ErrInvalidArgument), "page offset overflows int")

	empty, err := ToPaginated(ctx, FromSlice([]*blog{}), types.NewPaginatedCriteria(3, 10))
	require.NoError(t, err)
	assert.Empty(t, empty.Data)
	assert.Equal(t, 0, empty.PageCount())
	assert.True(t, empty.IsLastPage())
}

func TestPagesPartitionTheSource(t *testing.T) {
	ctx := context.Background()
	src := ApplySort(FromSlice(seedBlogs(23)), "Rating, Id")
	seen := map[int]bool{}
	for page := 1; page <= 5; page++ {
		p, err := ToPaginated(ctx, src, types.NewPaginatedCriteria(page, 5))
		require.NoError(t, err)
		for _, b := range p.Data {
			require.False(t, seen[b.Id], "row %d repeated on page %d", b.Id, page)
			seen[b.Id] = true
		}
	}
	assert.Len(t, seen, 23)
}

func TestApplyDynamicPaginated(t *testing.T) {
	criteria := types.NewDynamicPaginatedCriteria(types.NewDynamicCriteria("Rating == @0", 0).WithSorts("Id desc"), 1, 2)
	page, err := ApplyDynamicPaginated(context.Background(), FromSlice(seedBlogs(12)), criteria)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 9}, ids(page.Data))
	assert.Equal(t, int64(4), page.TotalRowsCount)
	assert.Equal(t, 2, page.NextPage())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ToPaginated(ctx, FromSlice(seedBlogs(3)), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoerce(t *testing.T) {
	schema := SchemaOf[blog]()
	f, ok := schema.Lookup("rating")
	require.True(t, ok)

	v, err := Coerce("7", f.Type)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = Coerce("seven", f.Type)
	assert.Error(t, err)

	v, err = Coerce(2.5, f.Type)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v, "fractions are not truncated")

	v, err = Coerce(3.0, f.Type)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = Coerce(1e19, f.Type)
	require.NoError(t, err)
	assert.Equal(t, 1e19, v, "out of range values stay float")

	_, err = Coerce(math.NaN(), f.Type)
	assert.Error(t, err)

	_, ok = schema.Lookup("Posts")
	assert.False(t, ok, "slices are not filterable")
}
