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

package database

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/uptrace/bun"
)

var defaultRegistry = NewModelRegistry()

// SQLModel is an entity type known to the registry. Instance returns a bun
// model pointer; Priority orders both table creation and commits: parents
// get lower values than the children that reference them.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry stores SQL models and exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel)
	Models() []SQLModel
	// PriorityOf returns the priority of the registered model of struct
	// type typ.
	PriorityOf(typ reflect.Type) (int, bool)
}

type modelRegistry struct {
	models []SQLModel
	mutex  sync.RWMutex
}

// NewModelRegistry returns an empty registry.
func NewModelRegistry() ModelRegistry {
	return &modelRegistry{
		models: make([]SQLModel, 0),
	}
}

// DefaultRegistry returns the process wide registry.
func DefaultRegistry() ModelRegistry {
	return defaultRegistry
}

func (r *modelRegistry) Register(model SQLModel) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.models = append(r.models, model)
}

func (r *modelRegistry) Models() []SQLModel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]SQLModel, len(r.models))
	copy(result, r.models)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

func (r *modelRegistry) PriorityOf(typ reflect.Type) (int, bool) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, m := range r.models {
		t := reflect.TypeOf(m.Instance())
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if t == typ {
			return m.Priority(), true
		}
	}
	return 0, false
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct instance and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{
		instance: instance,
		priority: priority,
	}
}

func (a *ModelAdapter) Instance() interface{} {
	return a.instance
}

func (a *ModelAdapter) Priority() int {
	return a.priority
}

// GetRegisteredModels returns all models registered in the default registry
// sorted by ascending priority.
func GetRegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}

// RegisteredModel adds a model to the default registry.
func RegisteredModel(model SQLModel) {
	defaultRegistry.Register(model)
}

func RegisteredModelInstances() []interface{} {
	models := GetRegisteredModels()
	modelInstances := make([]interface{}, len(models))
	for i, model := range models {
		modelInstances[i] = model.Instance()
	}
	return modelInstances
}

// CreateTables creates the table of every model in registry, parents first.
// Existing tables are left alone.
func CreateTables(ctx context.Context, db bun.IDB, registry ModelRegistry) error {
	for _, m := range registry.Models() {
		if _, err := db.NewCreateTable().Model(m.Instance()).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", m.Instance(), err)
		}
	}
	return nil
}
