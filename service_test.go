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

package datakit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tomoncle/datakit"
	"github.com/tomoncle/datakit/database"
	"github.com/tomoncle/datakit/internal/dbtest"
	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/repository"
	"github.com/tomoncle/datakit/types"
)

type SystemConfig struct {
	bun.BaseModel `bun:"table:system_config,alias:sc"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	ConfigKey   string `bun:"config_key,notnull,unique" json:"config_key"`
	ConfigValue string `bun:"config_value" json:"config_value"`
	Description string `bun:"description" json:"description"`
	ConfigType  string `bun:"config_type,notnull" json:"config_type"`
}

func init() {
	database.RegisteredModel(database.NewModelAdapter((*SystemConfig)(nil), 1))
}

func initSQLite(t *testing.T) {
	t.Helper()
	cfg := &database.Config{
		ConnectionConfig: database.ConnectionConfig{
			Type:           "sqlite",
			DSN:            fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
			MaxIdleConns:   1,
			MaxOpenConns:   1,
			ConnectTimeout: 5 * time.Second,
		},
		CreateTables: true,
	}
	_, err := database.InitDB(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDB() })
}

func configs(n int) []*SystemConfig {
	out := make([]*SystemConfig, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &SystemConfig{
			ConfigKey:   fmt.Sprintf("app.key.%d", i),
			ConfigValue: fmt.Sprintf("v%d", i),
			ConfigType:  "string",
		})
	}
	return out
}

func TestServiceOverGlobalDB(t *testing.T) {
	initSQLite(t)
	ctx := context.Background()
	svc := datakit.NewService[SystemConfig, int64]()

	res := svc.Save(ctx, configs(4)...)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "4 updated on the database", res.Message)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	one, err := svc.Get(ctx, all[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "app.key.2", one.ConfigKey)

	res = svc.Patch(ctx, one.ID, types.JsonObject{"config_value": "patched", "Description": "by test"})
	require.True(t, res.OK(), res.Message)
	one, err = svc.Get(ctx, one.ID)
	require.NoError(t, err)
	assert.Equal(t, "patched", one.ConfigValue)
	assert.Equal(t, "by test", one.Description)

	one.ConfigType = "int"
	require.True(t, svc.Update(ctx, one).OK())

	listed, err := svc.List(ctx, query.Eq("ConfigType", "int"))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, one.ID, listed[0].ID)

	page, err := svc.Page(ctx, types.NewDynamicPaginatedCriteria(
		types.NewDynamicCriteria("ConfigKey.StartsWith(@0)", "app.").WithSorts("ConfigKey desc"), 1, 3))
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.TotalRowsCount)
	require.Len(t, page.Data, 3)
	assert.Equal(t, "app.key.4", page.Data[0].ConfigKey)

	assert.True(t, errors.Is(svc.Delete(ctx, 999).Err, types.ErrNotFound))
	require.True(t, svc.Delete(ctx, all[0].ID).OK())

	res = svc.DeleteWhere(ctx, query.Ne("ConfigType", "int"))
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "2 updated on the database", res.Message)

	all, err = svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	count, err := svc.SelectBuilder().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestServiceSaveOrUpdate(t *testing.T) {
	initSQLite(t)
	ctx := context.Background()
	svc := datakit.NewService[SystemConfig, int64]()
	require.True(t, svc.Save(ctx, configs(1)...).OK())

	res := svc.SaveOrUpdate(ctx, []string{"ConfigKey"},
		&SystemConfig{ConfigKey: "app.key.1", ConfigValue: "replaced", ConfigType: "string"},
		&SystemConfig{ConfigKey: "app.key.2", ConfigValue: "inserted", ConfigType: "string"},
	)
	require.True(t, res.OK(), res.Message)

	all, err := svc.List(ctx, query.True())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "replaced", all[0].ConfigValue)
	assert.Equal(t, "inserted", all[1].ConfigValue)
}

func TestServiceDoCommitsTogether(t *testing.T) {
	db := dbtest.NewDB(t)
	ctx := context.Background()
	svc := datakit.NewService[dbtest.Blog, int](datakit.WithDB(db), datakit.WithRegistry(dbtest.Registry()))
	dbtest.SeedBlogs(t, db, 2)

	res := svc.Do(ctx, func(repo repository.Repository[dbtest.Blog, int]) error {
		if err := repo.Add(&dbtest.Blog{Url: "https://third.example"}); err != nil {
			return err
		}
		if err := repo.UpdateFieldByID(ctx, 1, repository.SetField[dbtest.Blog]("Rating", 5)); err != nil {
			return err
		}
		return repo.DeleteByID(ctx, 2)
	})
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "3 updated on the database", res.Message)

	res = svc.Do(ctx, func(repo repository.Repository[dbtest.Blog, int]) error {
		if err := repo.Add(&dbtest.Blog{Url: "never"}); err != nil {
			return err
		}
		return repo.DeleteByID(ctx, 2)
	})
	assert.False(t, res.OK())
	assert.Equal(t, 404, res.StatusCode)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2, "a failed callback commits nothing")
	assert.Equal(t, 5, all[0].Rating)
}

func TestServiceWithoutDatabase(t *testing.T) {
	database.SetDB(nil)
	svc := datakit.NewService[dbtest.Blog, int]()

	_, err := svc.All(context.Background())
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	res := svc.Save(context.Background(), &dbtest.Blog{})
	assert.False(t, res.OK())
	assert.Equal(t, 400, res.StatusCode)
	assert.Nil(t, svc.SelectBuilder())
}
