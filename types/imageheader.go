// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ImageMagic identifies a firmware image for this device family
const ImageMagic uint32 = 0x0C10C07A

// ImageHeaderSize is the fixed header length at the start of an image
const ImageHeaderSize = 64

// ImageHeader is the fixed-layout header at the start of every
// firmware image. DeclaredSize is the total image length including the
// header; PayloadSHA256 covers the bytes after the header up to
// DeclaredSize.
type ImageHeader struct {
	Magic          uint32
	DeclaredSize   uint64
	HardwareTarget string
	PayloadSHA256  [32]byte
	Version        string
}

// header layout, little endian:
//   0:4   magic
//   4:12  declared size
//   12:20 hardware target, zero padded
//   20:52 payload sha256
//   52:64 version string, zero padded

// ParseImageHeader decodes the header from the start of an image.
// It only checks that enough bytes are present; semantic checks such
// as the magic value belong to the validator.
func ParseImageHeader(b []byte) (ImageHeader, error) {
	var h ImageHeader
	if len(b) < ImageHeaderSize {
		return h, fmt.Errorf("image header truncated: %d bytes", len(b))
	}
	h.Magic = binary.LittleEndian.Uint32(b[0:4])
	h.DeclaredSize = binary.LittleEndian.Uint64(b[4:12])
	h.HardwareTarget = string(bytes.TrimRight(b[12:20], "\x00"))
	copy(h.PayloadSHA256[:], b[20:52])
	h.Version = string(bytes.TrimRight(b[52:64], "\x00"))
	return h, nil
}

// Encode produces the on-flash header bytes. Overlong target or
// version strings are an error rather than silent truncation.
func (h ImageHeader) Encode() ([]byte, error) {
	if len(h.HardwareTarget) > 8 {
		return nil, fmt.Errorf("hardware target %q longer than 8 bytes",
			h.HardwareTarget)
	}
	if len(h.Version) > 12 {
		return nil, fmt.Errorf("version %q longer than 12 bytes", h.Version)
	}
	b := make([]byte, ImageHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint64(b[4:12], h.DeclaredSize)
	copy(b[12:20], h.HardwareTarget)
	copy(b[20:52], h.PayloadSHA256[:])
	copy(b[52:64], h.Version)
	return b, nil
}
