// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by this module wraps exactly one of
// them, so callers classify failures with errors.Is.
var (
	ErrInvalidShape            = errors.New("invalid shape")
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	ErrAllocation              = errors.New("allocation failed")
	ErrRecordingDepthExceeded  = errors.New("recording depth exceeded")
	ErrDataNotBound            = errors.New("data not bound")
	ErrNonCanonicalScalar      = errors.New("non-canonical alpha/beta")
	ErrUnsupportedDatatype     = errors.New("unsupported datatype")
	ErrDatatypeMismatch        = errors.New("datatype mismatch")
	ErrAliasing                = errors.New("operands alias")
	ErrRecorderBusy            = errors.New("recorder busy")
)

// Error carries the failing operation and a detail message around one of the
// sentinel errors.
type Error struct {
	Op     string // Operation that failed, e.g. "dispatch" or "trans"
	Err    error  // Sentinel
	Detail string // Human-readable detail, may be empty
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("smm %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("smm %s: %v: %s", e.Op, e.Err, e.Detail)
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error for op wrapping sentinel, formatting the detail.
func Errorf(op string, sentinel error, format string, args ...any) error {
	return &Error{Op: op, Err: sentinel, Detail: fmt.Sprintf(format, args...)}
}

// IsFallbackError reports whether err means "no specialized kernel for this
// request" so the caller should use the generic fallback instead of failing.
func IsFallbackError(err error) bool {
	return errors.Is(err, ErrUnsupportedArchitecture) ||
		errors.Is(err, ErrUnsupportedDatatype) ||
		errors.Is(err, ErrNonCanonicalScalar) ||
		errors.Is(err, ErrAllocation)
}
