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

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// EntityState is the change-tracking state of an entity inside a session.
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
	Upserted
)

var _ BaseEnum = Detached

var entityStates = [...]struct{ name, desc string }{
	Detached:  {"Detached", "not tracked by the session"},
	Unchanged: {"Unchanged", "tracked, no pending change"},
	Added:     {"Added", "pending insert"},
	Modified:  {"Modified", "pending update"},
	Deleted:   {"Deleted", "pending delete"},
	Upserted:  {"Upserted", "pending insert or update on key conflict"},
}

func (s EntityState) IsValid() bool { return s >= Detached && s <= Upserted }

func (s EntityState) Number() int {
	if !s.IsValid() {
		return IllegalValue
	}
	return int(s)
}

func (s EntityState) Name() string {
	if !s.IsValid() {
		return IllegalName
	}
	return entityStates[s].name
}

func (s EntityState) String() string { return s.Name() }

func (s EntityState) Desc() string {
	if !s.IsValid() {
		return IllegalDesc
	}
	return entityStates[s].desc
}

// Pending reports whether the state will be written by the next commit.
func (s EntityState) Pending() bool {
	return s == Added || s == Modified || s == Deleted || s == Upserted
}
