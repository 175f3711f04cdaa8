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
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tomoncle/datakit/types"
)

const parseCacheSize = 512

var parseCache *lru.Cache[string, Expr]

func init() {
	cache, err := lru.New[string, Expr](parseCacheSize)
	if err != nil {
		panic(err)
	}
	parseCache = cache
}

// Parse turns a filter clause into an expression whose placeholders are left
// unbound. Parsed trees are cached by clause text and must not be mutated.
//
//	Rating > @0 && (Url.Contains("blog") || Id in (1, 2, 3))
func Parse(clause string) (Expr, error) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return True(), nil
	}
	if cached, ok := parseCache.Get(clause); ok {
		return cached, nil
	}
	tokens, err := tokenize(clause)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxError(tok.pos, "unexpected %q", tok.text)
	}
	parseCache.Add(clause, expr)
	return expr, nil
}

// Where parses clause and binds params to its placeholders. A malformed
// clause yields an expression that fails when applied to a source.
func Where(clause string, params ...interface{}) Expr {
	expr, err := Parse(clause)
	if err != nil {
		return Invalid(err)
	}
	bound, err := BindParams(expr, params...)
	if err != nil {
		return Invalid(err)
	}
	return bound
}

// BindParams substitutes positional parameters. A slice bound as the single
// member of an in-list expands into its elements.
func BindParams(expr Expr, params ...interface{}) (Expr, error) {
	resolve := func(v interface{}) (interface{}, error) {
		p, ok := v.(Param)
		if !ok {
			return v, nil
		}
		if int(p) >= len(params) {
			return nil, types.NewError(types.InvalidFilterExpressionKind, "bind", "placeholder %s has no parameter, %d given", p, len(params))
		}
		return params[p], nil
	}
	var walk func(Expr) (Expr, error)
	walk = func(e Expr) (Expr, error) {
		switch n := e.(type) {
		case *Compare:
			v, err := resolve(n.Value)
			if err != nil {
				return nil, err
			}
			return &Compare{Field: n.Field, Op: n.Op, Value: v}, nil
		case *Match:
			v, err := resolve(n.Value)
			if err != nil {
				return nil, err
			}
			return &Match{Field: n.Field, Kind: n.Kind, Value: v}, nil
		case *In:
			values := make([]interface{}, 0, len(n.Values))
			for _, raw := range n.Values {
				v, err := resolve(raw)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			if len(values) == 1 {
				if rv := reflect.ValueOf(values[0]); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
					values = make([]interface{}, rv.Len())
					for i := range values {
						values[i] = rv.Index(i).Interface()
					}
				}
			}
			return &In{Field: n.Field, Values: values}, nil
		case *And:
			terms, err := walkTerms(n.Terms, walk)
			if err != nil {
				return nil, err
			}
			return &And{Terms: terms}, nil
		case *Or:
			terms, err := walkTerms(n.Terms, walk)
			if err != nil {
				return nil, err
			}
			return &Or{Terms: terms}, nil
		case *Not:
			x, err := walk(n.X)
			if err != nil {
				return nil, err
			}
			return &Not{X: x}, nil
		case *invalid:
			return nil, n.err
		default:
			return e, nil
		}
	}
	return walk(expr)
}

func walkTerms(terms []Expr, walk func(Expr) (Expr, error)) ([]Expr, error) {
	out := make([]Expr, len(terms))
	for i, t := range terms {
		e, err := walk(t)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

type operandKind int

const (
	operandField operandKind = iota
	operandValue
	operandMatch
)

type operand struct {
	kind  operandKind
	field string
	value interface{}
	match *Match
	pos   int
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isKeyword(words ...string) bool {
	tok := p.peek()
	if tok.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(tok.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) isOp(ops ...string) bool {
	tok := p.peek()
	if tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if tok.text == op {
			return true
		}
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, syntaxError(tok.pos, "expected %s, found %q", what, tok.text)
	}
	return tok, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.isOp("||") || p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return OrOf(terms...), nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.isOp("&&") || p.isKeyword("and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return AndOf(terms...), nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isOp("!") || p.isKeyword("not") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NotOf(x), nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.peek().kind == tokOp && !p.isOp("!", "&&", "||") {
		opTok := p.next()
		op, err := toOp(opTok)
		if err != nil {
			return nil, err
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return comparison(left, op, right)
	}

	if p.isKeyword("in") {
		p.next()
		return p.parseIn(left)
	}

	switch left.kind {
	case operandMatch:
		return left.match, nil
	case operandField:
		return &Compare{Field: left.field, Op: OpEq, Value: true}, nil
	default:
		if b, ok := left.value.(bool); ok {
			return &Const{Value: b}, nil
		}
		return nil, syntaxError(left.pos, "expected a predicate")
	}
}

func (p *parser) parseIn(left operand) (Expr, error) {
	if left.kind != operandField {
		return nil, syntaxError(left.pos, "in requires a field on its left")
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var values []interface{}
	for {
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if item.kind != operandValue {
			return nil, syntaxError(item.pos, "in-list members must be values")
		}
		values = append(values, item.value)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return &In{Field: left.field, Values: values}, nil
}

func (p *parser) parseOperand() (operand, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		v, err := parseNumber(tok.text)
		if err != nil {
			return operand{}, syntaxError(tok.pos, "bad number %q", tok.text)
		}
		return operand{kind: operandValue, value: v, pos: tok.pos}, nil
	case tokString:
		return operand{kind: operandValue, value: tok.text, pos: tok.pos}, nil
	case tokParam:
		n, err := strconv.Atoi(tok.text)
		if err != nil {
			return operand{}, syntaxError(tok.pos, "bad placeholder @%s", tok.text)
		}
		return operand{kind: operandValue, value: Param(n), pos: tok.pos}, nil
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return operand{kind: operandValue, value: true, pos: tok.pos}, nil
		case "false":
			return operand{kind: operandValue, value: false, pos: tok.pos}, nil
		case "null":
			return operand{kind: operandValue, value: nil, pos: tok.pos}, nil
		case "and", "or", "not", "in":
			return operand{}, syntaxError(tok.pos, "unexpected keyword %q", tok.text)
		}
		if p.peek().kind == tokDot {
			p.next()
			return p.parseMethod(tok)
		}
		return operand{kind: operandField, field: tok.text, pos: tok.pos}, nil
	default:
		return operand{}, syntaxError(tok.pos, "unexpected %q", tok.text)
	}
}

func (p *parser) parseMethod(field token) (operand, error) {
	name, err := p.expect(tokIdent, "method name")
	if err != nil {
		return operand{}, err
	}
	var kind MatchKind
	switch strings.ToLower(name.text) {
	case "contains":
		kind = MatchContains
	case "startswith":
		kind = MatchStartsWith
	case "endswith":
		kind = MatchEndsWith
	default:
		return operand{}, syntaxError(name.pos, "unsupported method %q", name.text)
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return operand{}, err
	}
	arg, err := p.parseOperand()
	if err != nil {
		return operand{}, err
	}
	if arg.kind != operandValue {
		return operand{}, syntaxError(arg.pos, "%s expects a value", name.text)
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return operand{}, err
	}
	return operand{kind: operandMatch, match: &Match{Field: field.text, Kind: kind, Value: arg.value}, pos: field.pos}, nil
}

func comparison(left operand, op Op, right operand) (Expr, error) {
	switch {
	case left.kind == operandMatch || right.kind == operandMatch:
		return nil, syntaxError(left.pos, "method calls cannot be compared")
	case left.kind == operandField && right.kind == operandField:
		return &FieldCompare{Left: left.field, Op: op, Right: right.field}, nil
	case left.kind == operandField:
		return &Compare{Field: left.field, Op: op, Value: right.value}, nil
	case right.kind == operandField:
		return &Compare{Field: right.field, Op: op.flip(), Value: left.value}, nil
	default:
		return nil, syntaxError(left.pos, "comparison needs a field")
	}
}

func toOp(tok token) (Op, error) {
	switch tok.text {
	case "==", "=":
		return OpEq, nil
	case "!=", "<>":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	}
	return 0, syntaxError(tok.pos, "unknown operator %q", tok.text)
}

func parseNumber(text string) (interface{}, error) {
	if strings.Contains(text, ".") {
		return strconv.ParseFloat(text, 64)
	}
	return strconv.ParseInt(text, 10, 64)
}
