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
	"strings"
	"unicode"

	"github.com/tomoncle/datakit/types"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokParam
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var twoCharOps = map[string]bool{"==": true, "!=": true, "<>": true, "<=": true, ">=": true, "&&": true, "||": true}

func tokenize(src string) ([]token, error) {
	var tokens []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case r == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case r == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case r == '.' && !(i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			tokens = append(tokens, token{tokDot, ".", i})
			i++
		case r == '@':
			start := i
			i++
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			if i == start+1 {
				return nil, syntaxError(start, "placeholder needs an index")
			}
			tokens = append(tokens, token{tokParam, string(rs[start+1 : i]), start})
		case r == '"' || r == '\'':
			text, next, err := readString(rs, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, text, i})
			i = next
		case unicode.IsDigit(r) || r == '.' || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1]) && expectsOperand(tokens)):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokNumber, string(rs[start:i]), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			tokens = append(tokens, token{tokIdent, string(rs[start:i]), start})
		case strings.ContainsRune("=!<>&|", r):
			if i+1 < len(rs) && twoCharOps[string(rs[i:i+2])] {
				tokens = append(tokens, token{tokOp, string(rs[i : i+2]), i})
				i += 2
				continue
			}
			if r == '&' || r == '|' {
				return nil, syntaxError(i, "unexpected %q", string(r))
			}
			tokens = append(tokens, token{tokOp, string(r), i})
			i++
		default:
			return nil, syntaxError(i, "unexpected %q", string(r))
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(rs)}), nil
}

// expectsOperand reports whether a leading '-' starts a negative number.
func expectsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	switch tokens[len(tokens)-1].kind {
	case tokOp, tokLParen, tokComma:
		return true
	}
	return false
}

func readString(rs []rune, start int) (string, int, error) {
	quote := rs[start]
	var b strings.Builder
	for i := start + 1; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			if i+1 < len(rs) {
				i++
				b.WriteRune(rs[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(rs[i])
		}
	}
	return "", 0, syntaxError(start, "unterminated string")
}

func syntaxError(pos int, format string, args ...interface{}) error {
	return types.NewError(types.InvalidFilterExpressionKind, "parse", "position %d: "+format, append([]interface{}{pos}, args...)...)
}
