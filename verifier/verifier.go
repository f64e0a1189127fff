// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

// Package verifier validates a firmware image by reading it back from
// the slot it was written to. Trusting the bytes that went over the
// wire is not enough; what matters is what the flash actually holds.
package verifier

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/Stani56/Stanis-Clock-sub004/base"
	"github.com/Stani56/Stanis-Clock-sub004/types"
)

const readChunkSize int64 = 64 * 1024

// ErrCancelled is returned when validation stops on request
var ErrCancelled = errors.New("validation cancelled")

// Verifier validates slot contents
type Verifier struct {
	log            *base.LogObject
	hardwareTarget string
}

// New builds a verifier for the device's hardware target tag
func New(log *base.LogObject, hardwareTarget string) *Verifier {
	return &Verifier{log: log, hardwareTarget: hardwareTarget}
}

// Validate runs the checks in order against the image read from r:
// magic, declared size against the slot capacity, payload digest, and
// hardware target. The first failure wins. cancelChan may be nil;
// cancellation is honored between read chunks.
func (v *Verifier) Validate(r io.Reader, capacity int64, cancelChan <-chan struct{}) (types.ImageHeader, error) {
	var h types.ImageHeader
	hdr := make([]byte, types.ImageHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return h, types.NewUpdateError(types.ValidationError,
			"image header unreadable: %s", err)
	}
	h, err := types.ParseImageHeader(hdr)
	if err != nil {
		return h, types.WrapError(types.ValidationError, err)
	}
	if h.Magic != types.ImageMagic {
		return h, types.NewUpdateError(types.ValidationError,
			"bad magic 0x%08x, want 0x%08x", h.Magic, types.ImageMagic)
	}
	if h.DeclaredSize < types.ImageHeaderSize {
		return h, types.NewUpdateError(types.ValidationError,
			"declared size %d smaller than header", h.DeclaredSize)
	}
	if capacity > 0 && h.DeclaredSize > uint64(capacity) {
		return h, types.NewUpdateError(types.ValidationError,
			"image too large: declared %d bytes, slot holds %d",
			h.DeclaredSize, capacity)
	}

	digest, err := v.computeShaPayload(r, int64(h.DeclaredSize)-types.ImageHeaderSize,
		cancelChan)
	if err != nil {
		return h, err
	}
	if !bytes.Equal(digest, h.PayloadSHA256[:]) {
		return h, types.NewUpdateError(types.ValidationError,
			"checksum mismatch: computed %x, header %x",
			digest, h.PayloadSHA256)
	}

	if h.HardwareTarget != v.hardwareTarget {
		return h, types.NewUpdateError(types.ValidationError,
			"image targets %q, device is %q",
			h.HardwareTarget, v.hardwareTarget)
	}
	v.log.Infof("verifier: image version %s valid for %s",
		h.Version, v.hardwareTarget)
	return h, nil
}

// computeShaPayload hashes exactly length bytes from r in chunks
func (v *Verifier) computeShaPayload(r io.Reader, length int64, cancelChan <-chan struct{}) ([]byte, error) {
	hasher := sha256.New()
	var done int64
	for done < length {
		if cancelChan != nil {
			select {
			case <-cancelChan:
				return nil, ErrCancelled
			default:
			}
		}
		chunk := readChunkSize
		if length-done < chunk {
			chunk = length - done
		}
		n, err := io.CopyN(hasher, r, chunk)
		done += n
		if err != nil {
			return nil, types.NewUpdateError(types.ValidationError,
				"payload read failed at %d of %d bytes: %s",
				done, length, err)
		}
	}
	return hasher.Sum(nil), nil
}
