// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks permanent absence: the remote catalog has no such model or
// version. Callers react by ignore-marking, never by retrying.
var ErrNotFound = errors.New("model not found")

// ErrBulkUnsupported is returned by GetModelVersionsBulk when a backend has no
// bulk endpoint. The orchestrator and refresh engine fall back to per-model
// calls when they see it.
var ErrBulkUnsupported = errors.New("bulk lookup not supported")

// RateLimitedError is the typed rate-limit signal. It carries the backend's
// suggested retry delay and the offending provider's name so the caller can
// apply backpressure instead of treating the miss as clean absence of data.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("rate limited by %s, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// TransientError wraps network, HTTP, and parse failures. The orchestrator
// responds by failing over to the next provider, not by retrying the same one.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is (or wraps) a RateLimitedError.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
