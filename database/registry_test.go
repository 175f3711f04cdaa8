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

package database_test

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tomoncle/datakit/database"
)

type tenant struct {
	bun.BaseModel `bun:"table:tenants"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

type member struct {
	bun.BaseModel `bun:"table:members"`

	ID       int64  `bun:"id,pk,autoincrement"`
	TenantID int64  `bun:"tenant_id,notnull"`
	Email    string `bun:"email"`
}

func init() {
	database.RegisteredModel(database.NewModelAdapter((*member)(nil), 2))
	database.RegisteredModel(database.NewModelAdapter((*tenant)(nil), 1))
}

func TestRegistryOrdersByPriority(t *testing.T) {
	r := database.NewModelRegistry()
	r.Register(database.NewModelAdapter((*member)(nil), 20))
	r.Register(database.NewModelAdapter((*tenant)(nil), 10))

	models := r.Models()
	require.Len(t, models, 2)
	assert.IsType(t, (*tenant)(nil), models[0].Instance())
	assert.IsType(t, (*member)(nil), models[1].Instance())

	p, ok := r.PriorityOf(reflect.TypeOf(&member{}))
	assert.True(t, ok)
	assert.Equal(t, 20, p)
	_, ok = r.PriorityOf(reflect.TypeOf(struct{}{}))
	assert.False(t, ok)
}

func TestInitDBCreatesRegisteredTables(t *testing.T) {
	ctx := context.Background()
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
	db, err := database.InitDB(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDB() })
	assert.Same(t, db, database.GetDB())

	_, err = db.NewInsert().Model(&tenant{Name: "acme"}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&member{TenantID: 1, Email: "a@acme.io"}).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&tenant{Name: "acme"}).Exec(ctx)
	require.Error(t, err)
	assert.Equal(t, database.DuplicateKeyErr, database.ClassifyError(err))

	status := database.GetHealthStatus(ctx)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.LastError)

	require.NoError(t, database.CloseDB())
	assert.Nil(t, database.GetDB())
	assert.Equal(t, "Database not initialized", database.GetHealthStatus(ctx).LastError)
}

func TestInitDBRejectsBadConfig(t *testing.T) {
	_, err := database.InitDB(context.Background(), nil)
	assert.Error(t, err)

	_, err = database.InitDB(context.Background(), &database.Config{
		ConnectionConfig: database.ConnectionConfig{Type: "oracle"},
	})
	assert.Error(t, err)
}
