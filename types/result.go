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
	"context"
	"errors"
	"net/http"
)

// Result is the outcome of a commit. It is never an error value itself;
// callers branch on OK and inspect Err for the failure kind.
type Result struct {
	Succeeded  bool   `json:"succeeded"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Err        error  `json:"-"`
}

// Okay returns a successful result.
func Okay(message string) Result {
	return Result{Succeeded: true, Message: message, StatusCode: http.StatusOK}
}

// ErrorResult returns a failed result carrying only a message.
func ErrorResult(message string) Result {
	return Result{Message: message, StatusCode: http.StatusBadRequest}
}

// ResultFromError converts err into a failed result, deriving the status code
// from its kind. Context cancellation is reported as CancelledKind.
func ResultFromError(err error) Result {
	kind := KindOf(err)
	if kind == UnknownKind && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		kind = CancelledKind
		err = WrapError(CancelledKind, "commit", err)
	}
	return Result{Message: err.Error(), StatusCode: kind.StatusCode(), Err: err}
}

// OK reports whether the result succeeded.
func (r Result) OK() bool { return r.Succeeded }

func (r Result) String() string { return r.Message }
