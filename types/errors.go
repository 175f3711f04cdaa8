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

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures raised by repositories, the query engine and
// the unit of work.
type ErrorKind int

const (
	UnknownKind ErrorKind = iota
	NotFoundKind
	InvalidFilterExpressionKind
	InvalidSortExpressionKind
	InvalidArgumentKind
	CommitFailureKind
	ConcurrencyConflictKind
	CancelledKind
)

var kindNames = map[ErrorKind]string{
	UnknownKind:                 "unknown",
	NotFoundKind:                "not found",
	InvalidFilterExpressionKind: "invalid filter expression",
	InvalidSortExpressionKind:   "invalid sort expression",
	InvalidArgumentKind:         "invalid argument",
	CommitFailureKind:           "commit failure",
	ConcurrencyConflictKind:     "concurrency conflict",
	CancelledKind:               "cancelled",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return IllegalName
}

// StatusCode maps the kind onto the HTTP status carried by a Result.
func (k ErrorKind) StatusCode() int {
	switch k {
	case NotFoundKind:
		return http.StatusNotFound
	case InvalidFilterExpressionKind, InvalidSortExpressionKind, InvalidArgumentKind:
		return http.StatusBadRequest
	case ConcurrencyConflictKind:
		return http.StatusConflict
	case CancelledKind:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrNotFound                = &Error{Kind: NotFoundKind}
	ErrInvalidFilterExpression = &Error{Kind: InvalidFilterExpressionKind}
	ErrInvalidSortExpression   = &Error{Kind: InvalidSortExpressionKind}
	ErrInvalidArgument         = &Error{Kind: InvalidArgumentKind}
	ErrCommitFailure           = &Error{Kind: CommitFailureKind}
	ErrConcurrencyConflict     = &Error{Kind: ConcurrencyConflictKind}
	ErrCancelled               = &Error{Kind: CancelledKind}
)

// Error is the typed error returned across the module.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, ErrNotFound) holds for any
// not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError builds a typed error of the given kind.
func NewError(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of err, or UnknownKind when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownKind
}

// NotFound builds the error raised when a keyed load finds nothing.
func NotFound(op string, entity string, id interface{}) *Error {
	return NewError(NotFoundKind, op, "there is no item in %s with id : %v", entity, id)
}
