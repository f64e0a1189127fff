// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"
)

// ErrorSeverity tells the reader how to treat the recorded error
type ErrorSeverity int

const (
	// ErrorSeverityUnspecified severity unspecified
	ErrorSeverityUnspecified ErrorSeverity = iota
	// ErrorSeverityNotice informational, no action needed
	ErrorSeverityNotice
	// ErrorSeverityWarning may resolve on its own
	ErrorSeverityWarning
	// ErrorSeverityError requires a new action to recover
	ErrorSeverityError
)

// ErrorDescription carries the error string plus metadata
type ErrorDescription struct {
	Error         string
	ErrorSeverity ErrorSeverity
	ErrorTime     time.Time
}

// ErrorAndTime is embedded into status structs to record failures
type ErrorAndTime struct {
	ErrorDescription
}

// SetError sets an error with a specific time
func (etime *ErrorAndTime) SetError(errStr string, errorTime time.Time) {
	etime.Error = errStr
	etime.ErrorSeverity = ErrorSeverityError
	etime.ErrorTime = errorTime
}

// SetErrorNow sets an error with the current time
func (etime *ErrorAndTime) SetErrorNow(errStr string) {
	etime.SetError(errStr, time.Now())
}

// SetErrorDescription sets the full description
func (etime *ErrorAndTime) SetErrorDescription(description ErrorDescription) {
	etime.ErrorDescription = description
	if etime.ErrorTime.IsZero() {
		etime.ErrorTime = time.Now()
	}
}

// ClearError removes the error
func (etime *ErrorAndTime) ClearError() {
	etime.ErrorDescription = ErrorDescription{}
}

// HasError returns whether there is an error
func (etime ErrorAndTime) HasError() bool {
	return etime.Error != ""
}
