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

// Package dbtest provides in-memory sqlite databases and sample models for
// tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tomoncle/datakit/database"
)

type Blog struct {
	bun.BaseModel `bun:"table:blogs,alias:b"`

	Id     int     `bun:"id,pk,autoincrement" json:"id"`
	Url    string  `bun:"url,notnull" json:"url"`
	Rating int     `bun:"rating,notnull" json:"rating"`
	Owner  *string `bun:"owner" json:"owner,omitempty"`
	Posts  []*Post `bun:"rel:has-many,join:id=blog_id" json:"posts,omitempty"`
}

type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	Id     int    `bun:"id,pk,autoincrement" json:"id"`
	BlogId int    `bun:"blog_id,notnull" json:"blog_id"`
	Title  string `bun:"title,notnull" json:"title"`
	Slug   string `bun:"slug,notnull,unique" json:"slug"`
}

// Story has a composite key.
type Story struct {
	bun.BaseModel `bun:"table:stories,alias:s"`

	BlogId int    `bun:"blog_id,pk" json:"blog_id"`
	Seq    int    `bun:"seq,pk" json:"seq"`
	Title  string `bun:"title" json:"title"`
}

type StoryKey struct {
	BlogId int
	Seq    int
}

// BlogDto is the read projection of Blog.
type BlogDto struct {
	Id     int `json:"id"`
	Rating int `json:"rating"`
}

// BlogInput is the write shape of Blog.
type BlogInput struct {
	Url    string `json:"url"`
	Rating int    `json:"rating"`
}

// Registry lists the sample models, parents first.
func Registry() database.ModelRegistry {
	r := database.NewModelRegistry()
	r.Register(database.NewModelAdapter((*Blog)(nil), 1))
	r.Register(database.NewModelAdapter((*Post)(nil), 2))
	r.Register(database.NewModelAdapter((*Story)(nil), 2))
	return r
}

// NewDB opens a private in-memory sqlite database with the sample tables.
// It is closed when the test ends.
func NewDB(t testing.TB) *bun.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.AddQueryHook(database.NewQueryHook(database.WithEnabled(false), database.FromEnv("BUNDEBUG")))
	require.NoError(t, database.CreateTables(context.Background(), db, Registry()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// BlogURL is the Url of the n-th seeded blog.
func BlogURL(n int) string {
	return fmt.Sprintf("https://blog-%d.example", n)
}

// SeedBlogs inserts blogs 1..n with Rating n%3 and returns them.
func SeedBlogs(t testing.TB, db bun.IDB, n int) []*Blog {
	t.Helper()
	blogs := make([]*Blog, 0, n)
	for i := 1; i <= n; i++ {
		blogs = append(blogs, &Blog{Url: BlogURL(i), Rating: i % 3})
	}
	if n > 0 {
		_, err := db.NewInsert().Model(&blogs).Exec(context.Background())
		require.NoError(t, err)
	}
	return blogs
}

// SeedPosts inserts count posts for blogID.
func SeedPosts(t testing.TB, db bun.IDB, blogID int, count int) []*Post {
	t.Helper()
	posts := make([]*Post, 0, count)
	for i := 1; i <= count; i++ {
		posts = append(posts, &Post{
			BlogId: blogID,
			Title:  fmt.Sprintf("post %d of blog %d", i, blogID),
			Slug:   fmt.Sprintf("b%d-p%d", blogID, i),
		})
	}
	if count > 0 {
		_, err := db.NewInsert().Model(&posts).Exec(context.Background())
		require.NoError(t, err)
	}
	return posts
}
