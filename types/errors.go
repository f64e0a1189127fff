// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an update failure by which stage produced it
type ErrorKind int

const (
	// UnknownError unclassified
	UnknownError ErrorKind = iota
	// NetworkError the transport failed before any protocol payload
	NetworkError
	// ManifestError the manifest could not be fetched or parsed
	ManifestError
	// DownloadError the image transfer failed or was truncated
	DownloadError
	// ValidationError the image failed a post-download check
	ValidationError
	// FlashError writing or switching slots failed
	FlashError
	// StateError the requested operation is illegal in the current state
	StateError
	// RollbackTriggered boot attempts exhausted, rollback performed
	RollbackTriggered
)

// String returns the string name
func (kind ErrorKind) String() string {
	switch kind {
	case NetworkError:
		return "NetworkError"
	case ManifestError:
		return "ManifestError"
	case DownloadError:
		return "DownloadError"
	case ValidationError:
		return "ValidationError"
	case FlashError:
		return "FlashError"
	case StateError:
		return "StateError"
	case RollbackTriggered:
		return "RollbackTriggered"
	default:
		return "UnknownError"
	}
}

// UpdateError wraps an error with its ErrorKind. Stages return these so
// the orchestrator and status publishers can report which stage failed
// without string matching.
type UpdateError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface
func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap supports errors.Is and errors.As
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// NewUpdateError builds an UpdateError from a format string
func NewUpdateError(kind ErrorKind, format string, args ...interface{}) *UpdateError {
	return &UpdateError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapError wraps an existing error with a kind; a nil error stays nil
func WrapError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &UpdateError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from an error chain
func KindOf(err error) ErrorKind {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return UnknownError
}

// IsKind reports whether the error chain carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
