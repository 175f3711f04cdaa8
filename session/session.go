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

package session

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/datakit/database"
	"github.com/tomoncle/datakit/types"
)

// ErrSessionClosed is returned by every operation on a closed session.
var ErrSessionClosed = types.NewError(types.InvalidArgumentKind, "session", "session is closed")

// Entry is the tracking record of one entity.
type Entry struct {
	entity   interface{}
	table    *schema.Table
	state    types.EntityState
	snapshot reflect.Value
	key      string
	seq      int
	upsert   *upsertSpec
}

func (e *Entry) Entity() interface{} { return e.entity }

func (e *Entry) State() types.EntityState { return e.state }

func (e *Entry) Table() *schema.Table { return e.table }

type upsertSpec struct {
	conflict []string
	update   []string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger replaces the package logger for this session.
func WithLogger(logger database.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithRegistry sets the model registry whose priorities order commits across
// entity types: inserts run in ascending priority, deletes in descending.
func WithRegistry(registry database.ModelRegistry) Option {
	return func(s *Session) { s.registry = registry }
}

// WithTxOptions sets the options of the commit transaction.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(s *Session) { s.txOptions = opts }
}

// WithReadTxOptions sets the options of snapshot read transactions, e.g.
// sql.LevelRepeatableRead on PostgreSQL.
func WithReadTxOptions(opts *sql.TxOptions) Option {
	return func(s *Session) { s.readTxOptions = opts }
}

// Session is a unit of work over a bun database. It tracks entities, stages
// their changes and writes them in one transaction on Commit.
//
// A Session is not safe for concurrent use. Repositories hold a reference to
// it and share its change set; closing it does not close the database.
type Session struct {
	id            string
	db            *bun.DB
	logger        database.Logger
	registry      database.ModelRegistry
	txOptions     *sql.TxOptions
	readTxOptions *sql.TxOptions

	entries []*Entry
	byPtr   map[interface{}]*Entry
	byKey   map[string]*Entry
	seq     int
	closed  bool
}

// New opens a session over db.
func New(db *bun.DB, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		db:       db,
		logger:   database.GetLogger(),
		registry: database.DefaultRegistry(),
		byPtr:    make(map[interface{}]*Entry),
		byKey:    make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) DB() *bun.DB { return s.db }

func (s *Session) Logger() database.Logger { return s.logger }

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed }

// Close ends the session and forgets every tracked entity.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.entries = nil
	s.byPtr = nil
	s.byKey = nil
	s.logger.Debug("session closed", "session", s.id)
	return nil
}

// Add stages entity for insertion.
func (s *Session) Add(entity interface{}) error {
	e, err := s.lookup("add", entity)
	if err != nil {
		return err
	}
	if e != nil {
		switch e.state {
		case types.Added:
			return nil
		case types.Deleted:
			e.state = types.Modified
			return nil
		}
		return types.NewError(types.InvalidArgumentKind, "add", "%s is already tracked as %s", describe(e), e.state)
	}
	_, err = s.track("add", entity, types.Added)
	return err
}

// Attach starts tracking entity as Unchanged, or returns its existing entry.
func (s *Session) Attach(entity interface{}) (*Entry, error) {
	e, err := s.lookup("attach", entity)
	if err != nil || e != nil {
		return e, err
	}
	return s.track("attach", entity, types.Unchanged)
}

// Update attaches entity if needed and marks it Modified.
func (s *Session) Update(entity interface{}) error {
	e, err := s.Attach(entity)
	if err != nil {
		return err
	}
	if e.state == types.Unchanged || e.state == types.Deleted {
		e.state = types.Modified
	}
	return nil
}

// Remove attaches entity if needed and marks it Deleted. An entity that was
// only staged for insertion is simply forgotten.
func (s *Session) Remove(entity interface{}) error {
	e, err := s.Attach(entity)
	if err != nil {
		return err
	}
	if e.state == types.Added || e.state == types.Upserted {
		s.forget(e)
		return nil
	}
	e.state = types.Deleted
	return nil
}

// Upsert stages entity for an insert that updates updateColumns when a row
// with the same conflictColumns exists. Empty conflictColumns means the
// primary key; empty updateColumns means every non-key column.
func (s *Session) Upsert(entity interface{}, conflictColumns []string, updateColumns []string) error {
	e, err := s.lookup("upsert", entity)
	if err != nil {
		return err
	}
	if e != nil {
		return types.NewError(types.InvalidArgumentKind, "upsert", "%s is already tracked as %s", describe(e), e.state)
	}
	e, err = s.track("upsert", entity, types.Upserted)
	if err != nil {
		return err
	}
	up := &upsertSpec{conflict: conflictColumns, update: updateColumns}
	if len(up.conflict) == 0 {
		for _, pk := range e.table.PKs {
			up.conflict = append(up.conflict, pk.Name)
		}
	}
	if len(up.update) == 0 {
		for _, f := range e.table.DataFields {
			up.update = append(up.update, f.Name)
		}
	}
	e.upsert = up
	return nil
}

// Detach stops tracking entity without touching it.
func (s *Session) Detach(entity interface{}) {
	if s.closed {
		return
	}
	if e, ok := s.byPtr[entity]; ok {
		s.forget(e)
	}
}

// State reports the tracking state of entity.
func (s *Session) State(entity interface{}) types.EntityState {
	if s.closed {
		return types.Detached
	}
	if e, ok := s.byPtr[entity]; ok {
		return e.state
	}
	return types.Detached
}

// Entries returns the tracked entries in tracking order.
func (s *Session) Entries() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// HasChanges reports whether a commit would write anything.
func (s *Session) HasChanges() bool {
	for _, e := range s.entries {
		if e.state.Pending() {
			return true
		}
	}
	return false
}

// Find returns the tracked instance of model's type whose primary key equals
// keyValues, in primary-key column order.
func (s *Session) Find(model interface{}, keyValues ...interface{}) (interface{}, bool) {
	if s.closed {
		return nil, false
	}
	table := s.db.Table(indirectType(reflect.TypeOf(model)))
	e, ok := s.byKey[keyString(table, keyValues)]
	if !ok || e.state == types.Deleted {
		return nil, false
	}
	return e.entity, true
}

// Resolve returns the already tracked instance with the same key as loaded,
// or attaches loaded as Unchanged and returns it. A row whose tracked
// instance is staged for deletion resolves to nil, as in Find.
func (s *Session) Resolve(loaded interface{}) (interface{}, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	table, v, err := s.inspect("resolve", loaded)
	if err != nil {
		return nil, err
	}
	if key, ok := entityKey(table, v); ok {
		if e, tracked := s.byKey[key]; tracked {
			if e.state == types.Deleted {
				return nil, nil
			}
			return e.entity, nil
		}
	}
	e, err := s.Attach(loaded)
	if err != nil {
		return nil, err
	}
	return e.entity, nil
}

// ReadSnapshot runs fn inside a read transaction so that its queries observe
// one consistent state of the database.
func (s *Session) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.db.RunInTx(ctx, s.readTxOptions, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

// RejectChanges discards every staged change: Added entities are forgotten,
// Modified ones get their field values back and Deleted ones are kept.
// Everything left is Unchanged.
func (s *Session) RejectChanges() {
	if s.closed {
		return
	}
	for _, e := range s.Entries() {
		switch e.state {
		case types.Added, types.Upserted:
			s.forget(e)
		case types.Modified, types.Deleted:
			s.restore(e)
			e.state = types.Unchanged
		}
	}
}

func (s *Session) lookup(op string, entity interface{}) (*Entry, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if _, _, err := s.inspect(op, entity); err != nil {
		return nil, err
	}
	return s.byPtr[entity], nil
}

func (s *Session) inspect(op string, entity interface{}) (*schema.Table, reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, reflect.Value{}, types.NewError(types.InvalidArgumentKind, op, "entity must be a non-nil struct pointer, got %T", entity)
	}
	table := s.db.Table(v.Elem().Type())
	if len(table.PKs) == 0 {
		return nil, reflect.Value{}, types.NewError(types.InvalidArgumentKind, op, "%s has no primary key", table.Type.Name())
	}
	return table, v.Elem(), nil
}

func (s *Session) track(op string, entity interface{}, state types.EntityState) (*Entry, error) {
	table, v, err := s.inspect(op, entity)
	if err != nil {
		return nil, err
	}
	key, hasKey := entityKey(table, v)
	if hasKey {
		if other, taken := s.byKey[key]; taken {
			return nil, types.NewError(types.InvalidArgumentKind, op,
				"another instance of %s with the same key is already tracked as %s", describe(other), other.state)
		}
	}
	s.seq++
	e := &Entry{entity: entity, table: table, state: state, seq: s.seq}
	e.snapshot = copyStruct(v)
	s.entries = append(s.entries, e)
	s.byPtr[entity] = e
	if hasKey {
		e.key = key
		s.byKey[key] = e
	}
	return e, nil
}

func (s *Session) forget(e *Entry) {
	delete(s.byPtr, e.entity)
	if e.key != "" && s.byKey[e.key] == e {
		delete(s.byKey, e.key)
	}
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	e.state = types.Detached
}

func (s *Session) restore(e *Entry) {
	if e.snapshot.IsValid() {
		reflect.ValueOf(e.entity).Elem().Set(e.snapshot)
	}
}

// resync makes the current values the new baseline and re-indexes the key,
// which the store may have just assigned.
func (s *Session) resync(e *Entry) {
	v := reflect.ValueOf(e.entity).Elem()
	e.snapshot = copyStruct(v)
	if e.key != "" && s.byKey[e.key] == e {
		delete(s.byKey, e.key)
	}
	e.key = ""
	if key, ok := entityKey(e.table, v); ok {
		e.key = key
		s.byKey[key] = e
	}
	e.upsert = nil
	e.state = types.Unchanged
}

func copyStruct(v reflect.Value) reflect.Value {
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	return cp
}

func entityKey(table *schema.Table, v reflect.Value) (string, bool) {
	values := make([]interface{}, len(table.PKs))
	for i, pk := range table.PKs {
		fv := v.FieldByName(pk.GoName)
		if !fv.IsValid() || fv.IsZero() {
			return "", false
		}
		values[i] = fv.Interface()
	}
	return keyString(table, values), true
}

func keyString(table *schema.Table, values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		rv := reflect.ValueOf(v)
		for rv.Kind() == reflect.Ptr && !rv.IsNil() {
			rv = rv.Elem()
		}
		if rv.IsValid() {
			v = rv.Interface()
		}
		parts[i] = fmt.Sprint(v)
	}
	return table.Type.String() + "#" + strings.Join(parts, "|")
}

func describe(e *Entry) string {
	if e.key != "" {
		return e.key
	}
	return e.table.Type.String()
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
