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
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var opSymbols = [...]string{OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">="}

func (o Op) String() string {
	if o < OpEq || o > OpGe {
		return "?"
	}
	return opSymbols[o]
}

// flip mirrors the operator so that `5 < Id` can be stored as `Id > 5`.
func (o Op) flip() Op {
	switch o {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return o
	}
}

// MatchKind selects the string method of a Match node.
type MatchKind int

const (
	MatchContains MatchKind = iota
	MatchStartsWith
	MatchEndsWith
)

var matchNames = [...]string{MatchContains: "Contains", MatchStartsWith: "StartsWith", MatchEndsWith: "EndsWith"}

func (k MatchKind) String() string { return matchNames[k] }

// Expr is a boolean predicate over the fields of an entity.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Param is an unbound positional placeholder (@N) produced by Parse.
type Param int

func (p Param) String() string { return fmt.Sprintf("@%d", int(p)) }

// Compare tests a field against a value. A nil Value with OpEq or OpNe tests
// for NULL.
type Compare struct {
	Field string
	Op    Op
	Value interface{}
}

// FieldCompare tests one field against another.
type FieldCompare struct {
	Left  string
	Op    Op
	Right string
}

// In tests membership of a field value in a list.
type In struct {
	Field  string
	Values []interface{}
}

// Match applies a string method to a field.
type Match struct {
	Field string
	Kind  MatchKind
	Value interface{}
}

type And struct{ Terms []Expr }

type Or struct{ Terms []Expr }

type Not struct{ X Expr }

// Const is a predicate that always yields Value.
type Const struct{ Value bool }

// invalid defers a construction failure until the expression is applied.
type invalid struct{ err error }

func (*Compare) isExpr()      {}
func (*FieldCompare) isExpr() {}
func (*In) isExpr()           {}
func (*Match) isExpr()        {}
func (*And) isExpr()          {}
func (*Or) isExpr()           {}
func (*Not) isExpr()          {}
func (*Const) isExpr()        {}
func (*invalid) isExpr()      {}

func (c *Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, literal(c.Value))
}

func (c *FieldCompare) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

func (i *In) String() string {
	parts := make([]string, len(i.Values))
	for n, v := range i.Values {
		parts[n] = literal(v)
	}
	return fmt.Sprintf("%s in (%s)", i.Field, strings.Join(parts, ", "))
}

func (m *Match) String() string {
	return fmt.Sprintf("%s.%s(%s)", m.Field, m.Kind, literal(m.Value))
}

func (a *And) String() string { return joinTerms(a.Terms, " && ") }

func (o *Or) String() string { return joinTerms(o.Terms, " || ") }

func (n *Not) String() string { return "!(" + n.X.String() + ")" }

func (c *Const) String() string {
	if c.Value {
		return "true"
	}
	return "false"
}

func (i *invalid) String() string { return "invalid(" + i.err.Error() + ")" }

func joinTerms(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "(" + t.String() + ")"
	}
	return strings.Join(parts, sep)
}

func literal(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case Param:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

func Eq(field string, value interface{}) Expr { return &Compare{Field: field, Op: OpEq, Value: value} }

func Ne(field string, value interface{}) Expr { return &Compare{Field: field, Op: OpNe, Value: value} }

func Lt(field string, value interface{}) Expr { return &Compare{Field: field, Op: OpLt, Value: value} }

func Le(field string, value interface{}) Expr { return &Compare{Field: field, Op: OpLe, Value: value} }

func Gt(field string, value interface{}) Expr { return &Compare{Field: field, Op: OpGt, Value: value} }

func Ge(field string, value interface{}) Expr { return &Compare{Field: field, Op: OpGe, Value: value} }

func IsNull(field string) Expr { return &Compare{Field: field, Op: OpEq} }

func IsIn(field string, values ...interface{}) Expr { return &In{Field: field, Values: values} }

func Contains(field string, s string) Expr {
	return &Match{Field: field, Kind: MatchContains, Value: s}
}

func StartsWith(field string, s string) Expr {
	return &Match{Field: field, Kind: MatchStartsWith, Value: s}
}

func EndsWith(field string, s string) Expr {
	return &Match{Field: field, Kind: MatchEndsWith, Value: s}
}

// AndOf joins terms with logical AND. With no terms it is always true.
func AndOf(terms ...Expr) Expr {
	switch len(terms) {
	case 0:
		return True()
	case 1:
		return terms[0]
	}
	return &And{Terms: terms}
}

// OrOf joins terms with logical OR. With no terms it is always false.
func OrOf(terms ...Expr) Expr {
	switch len(terms) {
	case 0:
		return False()
	case 1:
		return terms[0]
	}
	return &Or{Terms: terms}
}

func NotOf(x Expr) Expr { return &Not{X: x} }

func True() Expr { return &Const{Value: true} }

func False() Expr { return &Const{Value: false} }

// Invalid returns an expression that fails with err wherever it is applied.
func Invalid(err error) Expr { return &invalid{err: err} }
