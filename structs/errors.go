// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at component boundaries so callers can
// pick a recovery policy without string matching.
type ErrorKind string

const (
	// ErrTransient covers RPC publish/listen failures; retry on the
	// next period.
	ErrTransient ErrorKind = "transient"

	// ErrFatal covers adapters that cannot connect after bounded
	// retries; the session is abandoned.
	ErrFatal ErrorKind = "fatal"

	// ErrValidation covers malformed or unroutable requests; the task
	// is rejected.
	ErrValidation ErrorKind = "validation"

	// ErrCommand covers rejected flight commands; the task fails.
	ErrCommand ErrorKind = "command"

	// ErrAnomaly covers mid-task anomalies such as disarm or link
	// loss; the task fails and the executor is cancelled.
	ErrAnomaly ErrorKind = "anomaly"

	// ErrInternal covers bugs; logged and the loop continues.
	ErrInternal ErrorKind = "internal"
)

// KindError attaches an ErrorKind to an underlying cause.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// NewKindError wraps err with a kind. A nil err returns nil.
func NewKindError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Errorf builds a KindError from a format string.
func Errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrInternal
// for unclassified errors.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ErrInternal
}
