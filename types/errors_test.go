// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateErrorKind(t *testing.T) {
	err := NewUpdateError(DownloadError, "truncated at %d bytes", 512)
	assert.Equal(t, DownloadError, KindOf(err))
	assert.True(t, IsKind(err, DownloadError))
	assert.False(t, IsKind(err, NetworkError))
	assert.Contains(t, err.Error(), "DownloadError")
	assert.Contains(t, err.Error(), "truncated at 512 bytes")
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := NewUpdateError(ValidationError, "bad magic")
	outer := fmt.Errorf("standby slot: %w", inner)
	assert.Equal(t, ValidationError, KindOf(outer))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(FlashError, nil))

	plain := errors.New("disk full")
	wrapped := WrapError(FlashError, plain)
	assert.Equal(t, FlashError, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, plain))

	assert.Equal(t, UnknownError, KindOf(plain))
	assert.Equal(t, UnknownError, KindOf(nil))
}

func TestErrorAndTime(t *testing.T) {
	var status UpdateStatus
	assert.False(t, status.HasError())

	status.SetErrorNow("manifest fetch failed")
	assert.True(t, status.HasError())
	assert.Equal(t, ErrorSeverityError, status.ErrorSeverity)
	assert.False(t, status.ErrorTime.IsZero())

	status.ClearError()
	assert.False(t, status.HasError())
	assert.True(t, status.ErrorTime.IsZero())
}
