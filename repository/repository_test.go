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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tomoncle/datakit/internal/dbtest"
	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/session"
	"github.com/tomoncle/datakit/types"
)

func newBlogRepo(t *testing.T) (Repository[dbtest.Blog, int], *bun.DB) {
	t.Helper()
	db := dbtest.NewDB(t)
	return New[dbtest.Blog, int](session.New(db, session.WithRegistry(dbtest.Registry()))), db
}

// reopen returns a repository on a fresh session over the same database.
func reopen(db *bun.DB) Repository[dbtest.Blog, int] {
	return New[dbtest.Blog, int](session.New(db, session.WithRegistry(dbtest.Registry())))
}

func ids(blogs []*dbtest.Blog) []int {
	out := make([]int, len(blogs))
	for i, b := range blogs {
		out[i] = b.Id
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()

	owner := "ann"
	blog := &dbtest.Blog{Url: dbtest.BlogURL(1), Rating: 5, Owner: &owner}
	require.NoError(t, repo.Add(blog))
	res := repo.Commit(ctx)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "1 updated on the database", res.Message)

	got, err := reopen(db).GetByID(ctx, blog.Id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, blog.Url, got.Url)
	assert.Equal(t, 5, got.Rating)
	require.NotNil(t, got.Owner)
	assert.Equal(t, "ann", *got.Owner)

	missing, err := repo.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetByIDReturnsTrackedInstance(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 2)

	a, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	a.Rating = 42
	require.NoError(t, repo.Update(a))

	b, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 42, b.Rating)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Same(t, a, all[0], "reads resolve to the tracked instance")
	assert.Equal(t, types.Modified, repo.Session().State(a))
}

func TestGetByIDs(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 5)

	got, err := repo.GetByIDs(ctx, []int{4, 2, 9})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, ids(got))

	none, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetAndGetMany(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 6)

	many, err := repo.GetMany(ctx, query.Where("Rating == @0", 1))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, ids(many))

	many, err = repo.GetMany(ctx, query.Where("Id in (@0) && Url.Contains(@1)", []int{2, 3, 5}, "blog-"))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 5}, ids(many))

	one, err := repo.Get(ctx, query.Gt("Id", 4))
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, 5, one.Id)

	none, err := repo.Get(ctx, query.False())
	require.NoError(t, err)
	assert.Nil(t, none)

	nulls, err := repo.GetMany(ctx, query.IsNull("Owner"))
	require.NoError(t, err)
	assert.Len(t, nulls, 6)

	escaped, err := repo.GetMany(ctx, query.Contains("Url", "%"))
	require.NoError(t, err)
	assert.Empty(t, escaped, "wildcards in the pattern match literally")
}

func TestInvalidExpressions(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 1)

	_, err := repo.GetMany(ctx, query.Where("Nope == 1"))
	assert.True(t, errors.Is(err, types.ErrInvalidFilterExpression), err)

	_, err = repo.GetMany(ctx, query.Where("Rating ==="))
	assert.True(t, errors.Is(err, types.ErrInvalidFilterExpression), err)

	criteria := types.NewDynamicPaginatedCriteria(types.NewDynamicCriteria("").WithSorts("Nope desc"), 1, 10)
	_, err = repo.GetDynamicPaginated(ctx, criteria)
	assert.True(t, errors.Is(err, types.ErrInvalidSortExpression), err)
}

func TestGetPaginated(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 15)

	page, err := repo.GetPaginated(ctx, types.NewPaginatedCriteria(2, 10))
	require.NoError(t, err)
	assert.Equal(t, []int{11, 12, 13, 14, 15}, ids(page.Data))
	assert.EqualValues(t, 15, page.TotalRowsCount)
	assert.Equal(t, 2, page.PageCount())
	assert.True(t, page.IsLastPage())
	assert.Equal(t, 1, page.PreviousPage())
	assert.Equal(t, 2, page.NextPage())

	first, err := repo.GetPaginated(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, first.Data, 10)
	assert.Equal(t, 1, first.CurrentPage)

	beyond, err := repo.GetPaginated(ctx, types.NewPaginatedCriteria(9, 10))
	require.NoError(t, err)
	assert.Empty(t, beyond.Data)
	assert.EqualValues(t, 15, beyond.TotalRowsCount)

	_, err = repo.GetPaginated(ctx, types.NewPaginatedCriteria(1, 0))
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestGetDynamicPaginated(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 9)

	criteria := types.NewDynamicPaginatedCriteria(
		types.NewDynamicCriteria("Rating >= @0", 1).WithSorts("Rating desc, Id desc"), 1, 4)
	page, err := repo.GetDynamicPaginated(ctx, criteria)
	require.NoError(t, err)
	assert.EqualValues(t, 6, page.TotalRowsCount)
	assert.Equal(t, []int{8, 5, 2, 7}, ids(page.Data))
	assert.Equal(t, 2, page.NextPage())
}

func TestIncludes(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 2)
	dbtest.SeedPosts(t, db, 1, 3)

	tracked, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, tracked.Posts)

	criteria := types.NewDynamicPaginatedCriteria(types.NewDynamicCriteria("Id == @0", 1).WithIncludes("posts"), 1, 10)
	page, err := repo.GetDynamicPaginated(ctx, criteria)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Same(t, tracked, page.Data[0])
	assert.Len(t, tracked.Posts, 3)

	_, err = repo.Queryable().Include("Comments").List(ctx)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestUpdateFieldByID(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 2)

	err := repo.UpdateFieldByID(ctx, 2, Set(func(b *dbtest.Blog) *int { return &b.Rating }, 7), SetField[dbtest.Blog]("url", "https://moved.example"))
	require.NoError(t, err)
	res := repo.Commit(ctx)
	require.True(t, res.OK(), res.Message)

	got, err := reopen(db).GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Rating)
	assert.Equal(t, "https://moved.example", got.Url)
}

func TestUpdateFieldByIDMissing(t *testing.T) {
	repo, db := newBlogRepo(t)
	dbtest.SeedBlogs(t, db, 1)

	err := repo.UpdateFieldByID(context.Background(), 99, Set(func(b *dbtest.Blog) *int { return &b.Rating }, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Equal(t, "update: there is no item in Blog with id : 99", err.Error())
	assert.False(t, repo.Session().HasChanges())
}

func TestSettersCannotChangeKeys(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 1)

	err := repo.UpdateFieldByID(ctx, 1, Set(func(b *dbtest.Blog) *int { return &b.Id }, 5))
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	err = repo.UpdateFieldByID(ctx, 1, SetField[dbtest.Blog]("Id", 5))
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	blog, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, blog.Id)
	assert.False(t, repo.Session().HasChanges())
}

func TestUpdateField(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 3)

	require.NoError(t, repo.UpdateField(ctx, query.Eq("Url", dbtest.BlogURL(3)), SetField[dbtest.Blog]("Owner", "zed")))
	blog, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, blog.Owner)
	assert.Equal(t, "zed", *blog.Owner)
	assert.Equal(t, types.Modified, repo.Session().State(blog))

	err = repo.UpdateField(ctx, query.Eq("Url", "nowhere"), SetField[dbtest.Blog]("Owner", "zed"))
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestGenericUpdate(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 1)

	err := repo.GenericUpdate(ctx, 1, types.JsonObject{"rating": "5", "Url": "https://generic.example", "owner": "kim"})
	require.NoError(t, err)
	require.True(t, repo.Commit(ctx).OK())

	got, err := reopen(db).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Rating)
	assert.Equal(t, "https://generic.example", got.Url)
	require.NotNil(t, got.Owner)
	assert.Equal(t, "kim", *got.Owner)

	require.NoError(t, repo.GenericUpdate(ctx, 1, types.JsonObject{"owner": nil}))
	require.True(t, repo.Commit(ctx).OK())
	got, err = reopen(db).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.Owner)
}

func TestGenericUpdateRejectsUnknownFields(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 1)

	tests := []struct {
		name     string
		fieldset types.JsonObject
		kind     error
	}{
		{"unknown", types.JsonObject{"Rating": 3, "Nope": 1}, types.ErrInvalidArgument},
		{"key", types.JsonObject{"id": 3}, types.ErrInvalidArgument},
		{"empty", types.JsonObject{}, types.ErrInvalidArgument},
		{"bad value", types.JsonObject{"Rating": "high"}, types.ErrInvalidArgument},
		{"fraction", types.JsonObject{"Rating": 2.9}, types.ErrInvalidArgument},
		{"out of range", types.JsonObject{"Rating": 1e30}, types.ErrInvalidArgument},
		{"missing entity", types.JsonObject{"Rating": 1}, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := 1
			if tt.name == "missing entity" {
				id = 77
			}
			err := repo.GenericUpdate(ctx, id, tt.fieldset)
			assert.True(t, errors.Is(err, tt.kind), err)
			assert.False(t, repo.Session().HasChanges())
		})
	}

	blog, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, blog.Rating, "failed updates leave the entity untouched")
}

func TestGenericUpdateAcceptsIntegralFloats(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 1)

	require.NoError(t, repo.GenericUpdate(ctx, 1, types.JsonObject{"Rating": 4.0}))
	require.True(t, repo.Commit(ctx).OK())

	blog, err := reopen(db).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, blog.Rating)
}

func TestStagedDeleteHidesEntity(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 3)

	loaded, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteByID(ctx, 1))

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ids(all))

	err = repo.UpdateFieldByID(ctx, 1, SetField[dbtest.Blog]("Rating", 5))
	assert.True(t, errors.Is(err, types.ErrNotFound), err)
	assert.Equal(t, types.Deleted, repo.Session().State(loaded))

	res := repo.Commit(ctx)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "1 updated on the database", res.Message)
	gone, err := reopen(db).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSkipWithoutTake(t *testing.T) {
	repo, db := newBlogRepo(t)
	dbtest.SeedBlogs(t, db, 5)

	items, err := repo.Queryable().Skip(3).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, ids(items))
}

func TestSQLAndMemoryAgree(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 6)
	_, err := db.ExecContext(ctx, "UPDATE blogs SET owner = ? WHERE id = ?", "lee", 2)
	require.NoError(t, err)

	loaded, err := reopen(db).GetAll(ctx)
	require.NoError(t, err)
	memory := query.FromSlice(loaded)

	for _, expr := range []query.Expr{
		query.Where("not (Owner == 'kim')"),
		query.NotOf(query.Eq("Owner", "lee")),
		query.NotOf(query.OrOf(query.Eq("Owner", "kim"), query.Eq("Id", 3))),
		query.Where("Owner == null || not (Owner == 'lee')"),
		query.Where("Rating >= 1.5"),
		query.Where("Rating == @0", 1.5),
		query.Where("Rating < @0 && Id > @1", 0.5, 2),
	} {
		t.Run(expr.String(), func(t *testing.T) {
			fromSQL, err := repo.Queryable().Where(expr).List(ctx)
			require.NoError(t, err)
			fromMemory, err := memory.Where(expr).List(ctx)
			require.NoError(t, err)
			assert.Equal(t, ids(fromMemory), ids(fromSQL))
		})
	}
}

func TestDeleteByID(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 2)

	require.NoError(t, repo.DeleteByID(ctx, 1))
	assert.True(t, errors.Is(repo.DeleteByID(ctx, 10), types.ErrNotFound))
	require.NoError(t, repo.Delete(&dbtest.Blog{Id: 2}))

	res := repo.Commit(ctx)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "2 updated on the database", res.Message)

	all, err := reopen(db).GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeleteMany(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 5)

	n, err := repo.DeleteMany(ctx, query.True())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	res := repo.Commit(ctx)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "5 updated on the database", res.Message)

	count, err := reopen(db).Queryable().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRejectChangesThroughRepository(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 3)

	added := &dbtest.Blog{Url: "added"}
	require.NoError(t, repo.Add(added))
	require.NoError(t, repo.UpdateFieldByID(ctx, 1, SetField[dbtest.Blog]("Rating", 9)))
	require.NoError(t, repo.DeleteByID(ctx, 2))

	sess := repo.Session()
	sess.RejectChanges()
	sess.RejectChanges()

	assert.Equal(t, types.Detached, sess.State(added))
	modified, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, modified.Rating)
	assert.Equal(t, types.Unchanged, sess.State(modified))
	deleted, err := repo.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, types.Unchanged, sess.State(deleted))

	res := repo.Commit(ctx)
	assert.False(t, res.OK())
	assert.Equal(t, "no change were made to the database", res.Message)
}

func TestCompositeKey(t *testing.T) {
	db := dbtest.NewDB(t)
	ctx := context.Background()
	repo := New[dbtest.Story, dbtest.StoryKey](session.New(db, session.WithRegistry(dbtest.Registry())))

	require.NoError(t, repo.AddRange(
		&dbtest.Story{BlogId: 1, Seq: 1, Title: "one"},
		&dbtest.Story{BlogId: 1, Seq: 2, Title: "two"},
		&dbtest.Story{BlogId: 2, Seq: 1, Title: "three"},
	))
	require.True(t, repo.Commit(ctx).OK())

	fresh := New[dbtest.Story, dbtest.StoryKey](session.New(db))
	story, err := fresh.GetByID(ctx, dbtest.StoryKey{BlogId: 1, Seq: 2})
	require.NoError(t, err)
	require.NotNil(t, story)
	assert.Equal(t, "two", story.Title)

	stories, err := fresh.GetByIDs(ctx, []dbtest.StoryKey{{BlogId: 2, Seq: 1}, {BlogId: 1, Seq: 1}, {BlogId: 3, Seq: 3}})
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, "one", stories[0].Title)
	assert.Equal(t, "three", stories[1].Title)

	require.NoError(t, fresh.DeleteByID(ctx, dbtest.StoryKey{BlogId: 1, Seq: 1}))
	require.True(t, fresh.Commit(ctx).OK())
	count, err := fresh.Queryable().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	wrongKey := New[dbtest.Story, int](session.New(db))
	_, err = wrongKey.GetByID(ctx, 1)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestUpsertOnUniqueField(t *testing.T) {
	db := dbtest.NewDB(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 1)
	dbtest.SeedPosts(t, db, 1, 1)
	posts := New[dbtest.Post, int](session.New(db, session.WithRegistry(dbtest.Registry())))

	require.NoError(t, posts.Upsert(&dbtest.Post{BlogId: 1, Title: "renamed", Slug: "b1-p1"}, "Slug"))
	res := posts.Commit(ctx)
	require.True(t, res.OK(), res.Message)

	all, err := New[dbtest.Post, int](session.New(db)).GetMany(ctx, query.Eq("Slug", "b1-p1"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].Id)
	assert.Equal(t, "renamed", all[0].Title)

	err = posts.Upsert(&dbtest.Post{Id: 2, Slug: "x"}, "Headline")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestDuplicateKeyIsCommitFailure(t *testing.T) {
	repo, db := newBlogRepo(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 1)

	require.NoError(t, repo.Add(&dbtest.Blog{Id: 1, Url: "clash"}))
	res := repo.Commit(ctx)
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, types.ErrCommitFailure))
	assert.False(t, errors.Is(res.Err, types.ErrConcurrencyConflict))
}

func TestClosedSessionRejectsReads(t *testing.T) {
	repo, db := newBlogRepo(t)
	dbtest.SeedBlogs(t, db, 1)
	require.NoError(t, repo.Session().Close())

	_, err := repo.GetAll(context.Background())
	assert.ErrorIs(t, err, session.ErrSessionClosed)
	assert.ErrorIs(t, repo.Add(&dbtest.Blog{Url: "late"}), session.ErrSessionClosed)
}

func TestUntrackedSource(t *testing.T) {
	db := dbtest.NewDB(t)
	ctx := context.Background()
	dbtest.SeedBlogs(t, db, 4)

	src := NewSource[dbtest.Blog](db).OrderBy(query.Desc("Id")).Skip(1).Take(2)
	items, err := src.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, ids(items))

	count, err := src.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count, "count ignores the slice")

	empty, err := src.Take(0).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first, err := NewSource[dbtest.Blog](db).Where(query.Eq("Rating", 0)).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Id)
}

func TestCancelledRead(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.GetAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
