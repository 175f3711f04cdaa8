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
	"reflect"
	"sort"
	"strings"

	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/datakit/mapper"
	"github.com/tomoncle/datakit/types"
)

// Setter assigns one field of an entity.
type Setter[E any] struct {
	field string
	value interface{}
	apply func(*E)
}

// Set assigns value to the field selected by field:
//
//	repository.Set(func(b *Blog) *int { return &b.Rating }, 5)
func Set[E any, F any](field func(*E) *F, value F) Setter[E] {
	return Setter[E]{apply: func(e *E) { *field(e) = value }}
}

// SetField assigns value to the named field. The name is matched against Go
// field names and column names, ignoring case and underscores.
func SetField[E any](name string, value interface{}) Setter[E] {
	return Setter[E]{field: name, value: value}
}

// fieldTable resolves the writable, non-key fields of a model.
type fieldTable struct {
	byName map[string]*schema.Field
	pks    []*schema.Field
}

func newFieldTable(table *schema.Table) fieldTable {
	t := fieldTable{byName: make(map[string]*schema.Field, len(table.DataFields)*2), pks: table.PKs}
	for _, f := range table.DataFields {
		t.byName[normalizeName(f.GoName)] = f
		t.byName[normalizeName(f.Name)] = f
	}
	return t
}

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}

func (t fieldTable) isKey(name string) bool {
	n := normalizeName(name)
	for _, pk := range t.pks {
		if normalizeName(pk.GoName) == n || normalizeName(pk.Name) == n {
			return true
		}
	}
	return false
}

// resolve maps every name of values to its Go field name. Unknown and key
// fields are reported together.
func (t fieldTable) resolve(op string, values map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(values))
	var bad []string
	for name, v := range values {
		if t.isKey(name) {
			bad = append(bad, name+" (key)")
			continue
		}
		f, ok := t.byName[normalizeName(name)]
		if !ok {
			bad = append(bad, name)
			continue
		}
		out[f.GoName] = v
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, types.NewError(types.InvalidArgumentKind, op, "cannot set fields: %s", strings.Join(bad, ", "))
	}
	return out, nil
}

// assign decodes values onto a copy of e and stores the copy only when every
// value converts. Nil values clear the field.
func (t fieldTable) assign(op string, e interface{}, values map[string]interface{}) error {
	target := reflect.ValueOf(e).Elem()
	cp := reflect.New(target.Type())
	cp.Elem().Set(target)
	rest := make(map[string]interface{}, len(values))
	for name, v := range values {
		if v == nil {
			fv := cp.Elem().FieldByName(name)
			fv.Set(reflect.Zero(fv.Type()))
			continue
		}
		rest[name] = v
	}
	if err := mapper.Decode(rest, cp.Interface()); err != nil {
		return types.WrapError(types.InvalidArgumentKind, op, err)
	}
	target.Set(cp.Elem())
	return nil
}

// applySetters runs sets against a copy of e, refuses key changes, then
// stores the result.
func applySetters[E any](op string, t fieldTable, e *E, sets []Setter[E]) error {
	if len(sets) == 0 {
		return types.NewError(types.InvalidArgumentKind, op, "no field to set")
	}
	named := make(map[string]interface{})
	for _, s := range sets {
		if s.apply == nil {
			named[s.field] = s.value
		}
	}
	resolved, err := t.resolve(op, named)
	if err != nil {
		return err
	}
	cp := *e
	for _, s := range sets {
		if s.apply != nil {
			s.apply(&cp)
		}
	}
	if len(resolved) > 0 {
		if err := t.assign(op, &cp, resolved); err != nil {
			return err
		}
	}
	before, after := reflect.ValueOf(e).Elem(), reflect.ValueOf(&cp).Elem()
	for _, pk := range t.pks {
		if !reflect.DeepEqual(before.FieldByIndex(pk.Index).Interface(), after.FieldByIndex(pk.Index).Interface()) {
			return types.NewError(types.InvalidArgumentKind, op, "key field %s cannot be changed", pk.GoName)
		}
	}
	*e = cp
	return nil
}
