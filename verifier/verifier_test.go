// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = base.NewSourceLogObject(logrus.StandardLogger(), "verifier_test", 0)

const testTarget = "wclk-v2"

func makeImage(t *testing.T, version, target string, payloadLen int) []byte {
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	h := types.ImageHeader{
		Magic:          types.ImageMagic,
		DeclaredSize:   uint64(types.ImageHeaderSize + payloadLen),
		HardwareTarget: target,
		PayloadSHA256:  sha256.Sum256(payload),
		Version:        version,
	}
	hdr, err := h.Encode()
	require.NoError(t, err)
	return append(hdr, payload...)
}

func TestValidateGoodImage(t *testing.T) {
	image := makeImage(t, "2.0.0", testTarget, 100*1024)
	v := New(testLog, testTarget)

	h, err := v.Validate(bytes.NewReader(image), int64(len(image)), nil)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", h.Version)
	assert.Equal(t, testTarget, h.HardwareTarget)
}

func TestValidateReadsBackStorage(t *testing.T) {
	// validation must judge what the slot holds, not what was sent:
	// corrupt one payload byte after the header was computed
	image := makeImage(t, "2.0.0", testTarget, 100*1024)
	image[types.ImageHeaderSize+5000] ^= 0xff

	name := filepath.Join(t.TempDir(), "IMGB.img")
	require.NoError(t, os.WriteFile(name, image, 0644))
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()

	v := New(testLog, testTarget)
	_, err = v.Validate(f, int64(len(image)), nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ValidationError))
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestValidateBadMagic(t *testing.T) {
	image := makeImage(t, "2.0.0", testTarget, 4096)
	image[0] = 0x00

	v := New(testLog, testTarget)
	_, err := v.Validate(bytes.NewReader(image), int64(len(image)), nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ValidationError))
	assert.Contains(t, err.Error(), "bad magic")
}

func TestValidateTooLarge(t *testing.T) {
	image := makeImage(t, "2.0.0", testTarget, 4096)

	v := New(testLog, testTarget)
	_, err := v.Validate(bytes.NewReader(image), int64(len(image))-1, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ValidationError))
	assert.Contains(t, err.Error(), "too large")
}

func TestValidateIncompatibleTarget(t *testing.T) {
	image := makeImage(t, "2.0.0", "wclk-v1", 4096)

	v := New(testLog, testTarget)
	_, err := v.Validate(bytes.NewReader(image), int64(len(image)), nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ValidationError))
	assert.Contains(t, err.Error(), `targets "wclk-v1"`)
}

func TestValidateTruncatedImage(t *testing.T) {
	image := makeImage(t, "2.0.0", testTarget, 100*1024)
	truncated := image[:len(image)/2]

	v := New(testLog, testTarget)
	_, err := v.Validate(bytes.NewReader(truncated), int64(len(image)), nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ValidationError))
}

func TestValidateEmptySlot(t *testing.T) {
	v := New(testLog, testTarget)
	_, err := v.Validate(bytes.NewReader(nil), 1024, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ValidationError))
}

func TestValidateCheckOrder(t *testing.T) {
	// an image that is wrong in every way reports the magic first
	image := makeImage(t, "2.0.0", "wrong", 4096)
	image[0] = 0x00
	image[types.ImageHeaderSize] ^= 0xff

	v := New(testLog, testTarget)
	_, err := v.Validate(bytes.NewReader(image), 16, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")
}

func TestValidateCancelled(t *testing.T) {
	image := makeImage(t, "2.0.0", testTarget, 512*1024)
	cancelChan := make(chan struct{})
	close(cancelChan)

	v := New(testLog, testTarget)
	_, err := v.Validate(bytes.NewReader(image), int64(len(image)), cancelChan)
	require.ErrorIs(t, err, ErrCancelled)
}
