/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playouterr defines the error kinds surfaced by the slot, program
// and push operations.
package playouterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	ConfigurationMissing Kind = "configuration_missing"
	InvalidTimePeriod    Kind = "invalid_time_period"
	DuplicateTimeSlot    Kind = "duplicate_time_slot"
	OverlapConflict      Kind = "overlap_conflict"
	AmbiguousSchedule    Kind = "ambiguous_schedule"
	NotFound             Kind = "not_found"
	RunnerRequestFailed  Kind = "runner_request_failed"
	StoreFailure         Kind = "store_failure"
	TransactionAborted   Kind = "transaction_aborted"
)

// Error carries a kind, a user-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel-style checks such
// as errors.Is(err, playouterr.New(NotFound, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Store wraps a persistence failure.
func Store(cause error, op string) *Error {
	return Wrap(StoreFailure, cause, "%s", op)
}

// KindOf returns the kind of the first *Error in err's chain, or StoreFailure
// for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return StoreFailure
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsBadRequest reports whether the caller can fix the request and retry.
func IsBadRequest(err error) bool {
	switch KindOf(err) {
	case InvalidTimePeriod, DuplicateTimeSlot, OverlapConflict, AmbiguousSchedule, ConfigurationMissing:
		return true
	}
	return false
}
