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
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/datakit/query"
	"github.com/tomoncle/datakit/types"
)

var sqlOps = map[query.Op]string{
	query.OpEq: "=",
	query.OpNe: "<>",
	query.OpLt: "<",
	query.OpLe: "<=",
	query.OpGt: ">",
	query.OpGe: ">=",
}

// likeEscaper escapes LIKE wildcards; patterns use ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// columnMap resolves Go field names of a bun model to column names.
type columnMap map[string]string

func newColumnMap(table *schema.Table) columnMap {
	m := make(columnMap, len(table.Fields))
	for _, f := range table.Fields {
		m[f.GoName] = f.Name
	}
	return m
}

func (m columnMap) column(goName string) (string, error) {
	col, ok := m[goName]
	if !ok {
		return "", types.NewError(types.InvalidFilterExpressionKind, "compile",
			"field %s is not mapped to a column", goName)
	}
	return col, nil
}

// compiler renders a bound expression into a bun WHERE fragment.
// Identifiers are passed as bun.Ident arguments and every column is
// qualified with ?TableAlias.
type compiler struct {
	columns columnMap
	sql     strings.Builder
	args    []interface{}
}

// compileWhere returns the SQL and arguments of expr, or an empty string
// when expr is always true.
func compileWhere(columns columnMap, expr query.Expr) (string, []interface{}, error) {
	if c, ok := expr.(*query.Const); ok && c.Value {
		return "", nil, nil
	}
	c := &compiler{columns: columns}
	if err := c.expr(expr); err != nil {
		return "", nil, err
	}
	return c.sql.String(), c.args, nil
}

func (c *compiler) ident(goName string) error {
	col, err := c.columns.column(goName)
	if err != nil {
		return err
	}
	c.sql.WriteString("?TableAlias.?")
	c.args = append(c.args, bun.Ident(col))
	return nil
}

func (c *compiler) expr(e query.Expr) error {
	switch n := e.(type) {
	case *query.Const:
		if n.Value {
			c.sql.WriteString("1 = 1")
		} else {
			c.sql.WriteString("1 = 0")
		}

	case *query.Compare:
		if err := c.ident(n.Field); err != nil {
			return err
		}
		if n.Value == nil {
			if n.Op == query.OpEq {
				c.sql.WriteString(" IS NULL")
			} else {
				c.sql.WriteString(" IS NOT NULL")
			}
			return nil
		}
		c.sql.WriteString(" " + sqlOps[n.Op] + " ?")
		c.args = append(c.args, n.Value)

	case *query.FieldCompare:
		if err := c.ident(n.Left); err != nil {
			return err
		}
		c.sql.WriteString(" " + sqlOps[n.Op] + " ")
		if err := c.ident(n.Right); err != nil {
			return err
		}

	case *query.In:
		if len(n.Values) == 0 {
			c.sql.WriteString("1 = 0")
			return nil
		}
		if err := c.ident(n.Field); err != nil {
			return err
		}
		c.sql.WriteString(" IN (?)")
		c.args = append(c.args, bun.In(n.Values))

	case *query.Match:
		if err := c.ident(n.Field); err != nil {
			return err
		}
		s, _ := n.Value.(string)
		pattern := likeEscaper.Replace(s)
		switch n.Kind {
		case query.MatchStartsWith:
			pattern += "%"
		case query.MatchEndsWith:
			pattern = "%" + pattern
		default:
			pattern = "%" + pattern + "%"
		}
		c.sql.WriteString(" LIKE ? ESCAPE '!'")
		c.args = append(c.args, pattern)

	case *query.And:
		return c.join(n.Terms, " AND ")

	case *query.Or:
		return c.join(n.Terms, " OR ")

	case *query.Not:
		c.sql.WriteString("NOT (")
		if err := c.expr(n.X); err != nil {
			return err
		}
		c.sql.WriteString(")")

	default:
		return types.NewError(types.InvalidFilterExpressionKind, "compile", "cannot translate %s to SQL", e)
	}
	return nil
}

func (c *compiler) join(terms []query.Expr, sep string) error {
	for i, t := range terms {
		if i > 0 {
			c.sql.WriteString(sep)
		}
		c.sql.WriteString("(")
		if err := c.expr(t); err != nil {
			return err
		}
		c.sql.WriteString(")")
	}
	return nil
}
