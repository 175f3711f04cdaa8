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
	"reflect"
	"strings"
	"sync"
	"time"
)

var (
	timeType    = reflect.TypeOf(time.Time{})
	schemaCache sync.Map // reflect.Type -> *Schema
)

// Field is a scalar struct field that predicates and sorts may reference.
type Field struct {
	Name  string
	Type  reflect.Type
	Index []int
}

// Nullable reports whether the field can hold NULL.
func (f *Field) Nullable() bool { return f.Type.Kind() == reflect.Ptr }

// BaseType is the field type with pointers removed.
func (f *Field) BaseType() reflect.Type {
	t := f.Type
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Value reads the field from a struct value; nil pointers yield nil.
func (f *Field) Value(strct reflect.Value) interface{} {
	v, err := strct.FieldByIndexErr(f.Index)
	if err != nil {
		return nil
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// Schema lists the scalar fields of an entity type, addressable by their Go
// name. Lookups ignore case and underscores, so "rating", "Rating" and
// "created_at" all resolve.
type Schema struct {
	Type   reflect.Type
	Fields []*Field
	byKey  map[string]*Field
}

// SchemaOf returns the cached schema of T.
func SchemaOf[T any]() *Schema {
	return NewSchema(reflect.TypeOf((*T)(nil)).Elem())
}

// NewSchema returns the cached schema of a struct type.
func NewSchema(typ reflect.Type) *Schema {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(*Schema)
	}
	s := &Schema{Type: typ, byKey: make(map[string]*Field)}
	if typ.Kind() == reflect.Struct {
		s.collect(typ, nil)
	}
	actual, _ := schemaCache.LoadOrStore(typ, s)
	return actual.(*Schema)
}

func (s *Schema) collect(typ reflect.Type, parent []int) {
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		index := append(append(make([]int, 0, len(parent)+1), parent...), i)
		ft := sf.Type
		if sf.Anonymous {
			for ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				s.collect(ft, index)
				continue
			}
		}
		if !sf.IsExported() || !isScalar(sf.Type) {
			continue
		}
		key := normalize(sf.Name)
		if _, exists := s.byKey[key]; exists {
			continue
		}
		f := &Field{Name: sf.Name, Type: sf.Type, Index: index}
		s.Fields = append(s.Fields, f)
		s.byKey[key] = f
	}
}

// Lookup resolves a field reference.
func (s *Schema) Lookup(name string) (*Field, bool) {
	f, ok := s.byKey[normalize(name)]
	return f, ok
}

func normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}

func isScalar(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
