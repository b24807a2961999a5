// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a remote data source failure. Classification is a
// type-level match on the error returned by the RemoteDataSource; nothing in
// the engine inspects error message text.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindServer     ErrorKind = "server"
	KindUnknown    ErrorKind = "unknown"
)

// RemoteError is the error type every RemoteDataSource implementation must
// return so the orchestrator can classify failures.
type RemoteError struct {
	Kind ErrorKind
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s error: %v", e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError wraps err with a kind.
func NewRemoteError(kind ErrorKind, err error) *RemoteError {
	return &RemoteError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried. Unknown errors count as
// transient so a misclassified failure can never silently drop a queued user
// mutation; the retry budget still bounds the damage.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindServer, KindUnknown:
		return true
	default:
		return false
	}
}

// ErrNotReady is returned by engine entry points before Init has completed.
var ErrNotReady = errors.New("karasync: engine not initialized")
