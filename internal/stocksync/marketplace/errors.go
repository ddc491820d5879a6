// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package marketplace

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an API failure before any retry decision is made.
type ErrorKind string

const (
	// KindTransient covers network failures and timeouts.
	KindTransient ErrorKind = "transient"
	// KindRateLimited covers HTTP 429.
	KindRateLimited ErrorKind = "rate_limited"
	// KindServer covers HTTP 5xx.
	KindServer ErrorKind = "server"
	// KindAuth covers HTTP 401/403. Never retried.
	KindAuth ErrorKind = "auth"
	// KindClient covers the remaining 4xx. Never retried.
	KindClient ErrorKind = "client"
)

// Retryable reports whether a failure of this kind may be attempted again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindRateLimited, KindServer:
		return true
	default:
		return false
	}
}

// ErrorContext is the failure of one logical request, returned as data after
// classification (and, for retryable kinds, after the retry budget is
// spent). It is the signal the run uses to decide between failing fast and
// invoking the fallback path.
type ErrorContext struct {
	Kind     ErrorKind
	Message  string
	Attempts int
	// MaxAttempts is the retry budget that was in force when the failure was
	// produced. Only the retrying client sets it; contexts fabricated
	// elsewhere (payload parse, cancellation between pages) carry zero and
	// therefore never report exhaustion.
	MaxAttempts int
	StatusCode  int
}

func (e *ErrorContext) Error() string {
	return fmt.Sprintf("%s error after %d attempt(s): %s", e.Kind, e.Attempts, e.Message)
}

// Exhausted reports whether this failure actually spent the full retry budget
// on a retryable kind, which is the precondition for serving cached data. A
// retryable failure that gave up early (cancellation, parse failure) is not
// exhausted and must fail the run instead of reaching for a stale snapshot.
func (e *ErrorContext) Exhausted() bool {
	return e.Kind.Retryable() && e.MaxAttempts > 0 && e.Attempts >= e.MaxAttempts
}

// AsErrorContext unwraps err into an *ErrorContext when possible.
func AsErrorContext(err error) (*ErrorContext, bool) {
	var ec *ErrorContext
	if errors.As(err, &ec) {
		return ec, true
	}
	return nil, false
}

// classify maps an HTTP status (or transport error) to an ErrorKind.
func classify(status int, err error) ErrorKind {
	if err != nil && status == 0 {
		return KindTransient
	}
	switch {
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindServer
	case status == 401 || status == 403:
		return KindAuth
	case status >= 400:
		return KindClient
	default:
		return KindTransient
	}
}
