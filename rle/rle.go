// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rle implements the run-length pixel codec used to ship
// rendered frames from compute processes to the driver.
//
// The codec operates on 4-byte RGBA pixels. Each code word is itself
// 4 bytes: the colour of the first pixel of a run followed by a count
// byte holding the number of additional identical pixels (0-255), so
// that a single word represents between 1 and 256 pixels.
//
// The alpha channel is reused to carry the count and is therefore
// NOT preserved: decoded pixels always have alpha 0xff. Frames
// transported by bigrender are opaque framebuffer captures, so this
// loss is accepted; callers that need alpha must not use this codec.
package rle

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

const (
	// PixelSize is the size in bytes of a pixel and of a code word.
	PixelSize = 4

	// MaxRun is the maximum number of pixels represented by a single
	// code word.
	MaxRun = 256

	// MaxLevel is the highest supported compression level.
	MaxLevel = 5
)

// Masks applied to the red/blue and green channels when comparing
// pixels at each compression level. Level 0 compares exactly; higher
// levels ignore low-order bits and so merge nearly-identical colours
// into a single run.
var (
	redBlueMasks = [MaxLevel + 1]byte{0xff, 0xfe, 0xfc, 0xf8, 0xf0, 0xe0}
	greenMasks   = [MaxLevel + 1]byte{0xff, 0xff, 0xfe, 0xfc, 0xf8, 0xf0}
)

// Encode appends to dst the encoding of the RGBA pixels in src,
// comparing pixels at the given compression level, and returns the
// extended buffer. Only level 0 is lossless for colour; alpha is
// always discarded.
func Encode(dst, src []byte, level int) ([]byte, error) {
	if len(src)%PixelSize != 0 {
		return dst, errors.E(errors.Invalid, fmt.Sprintf("rle: source length %d is not a multiple of %d", len(src), PixelSize))
	}
	if level < 0 || level > MaxLevel {
		return dst, errors.E(errors.Invalid, fmt.Sprintf("rle: invalid compression level %d", level))
	}
	rb, g := redBlueMasks[level], greenMasks[level]
	for i := 0; i < len(src); {
		r, gr, b := src[i], src[i+1], src[i+2]
		count := 0
		for j := i + PixelSize; j < len(src) && count < MaxRun-1; j += PixelSize {
			if (src[j]^r)&rb != 0 || (src[j+1]^gr)&g != 0 || (src[j+2]^b)&rb != 0 {
				break
			}
			count++
		}
		dst = append(dst, r, gr, b, byte(count))
		i += (count + 1) * PixelSize
	}
	return dst, nil
}

// DecodedLen returns the number of pixels represented by the
// encoded buffer src.
func DecodedLen(src []byte) (int, error) {
	if len(src)%PixelSize != 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("rle: encoded length %d is not a multiple of %d", len(src), PixelSize))
	}
	var n int
	for i := PixelSize - 1; i < len(src); i += PixelSize {
		n += int(src[i]) + 1
	}
	return n, nil
}

// Decode expands the code words in src into dst, which must be sized
// for the expected number of pixels. Decoded pixels have alpha 0xff.
// Decode returns the number of pixels written. It is an error for
// the encoded runs to overflow dst.
func Decode(dst, src []byte) (int, error) {
	if len(src)%PixelSize != 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("rle: encoded length %d is not a multiple of %d", len(src), PixelSize))
	}
	var off int
	for i := 0; i < len(src); i += PixelSize {
		n := int(src[i+3]) + 1
		if off+n*PixelSize > len(dst) {
			return off / PixelSize, errors.E(errors.Integrity,
				fmt.Sprintf("rle: runs overflow output buffer of %d pixels", len(dst)/PixelSize))
		}
		r, g, b := src[i], src[i+1], src[i+2]
		for ; n > 0; n-- {
			dst[off] = r
			dst[off+1] = g
			dst[off+2] = b
			dst[off+3] = 0xff
			off += PixelSize
		}
	}
	return off / PixelSize, nil
}

// Ratio returns the compression ratio reported for telemetry: the
// number of code words divided by the number of decoded pixels.
func Ratio(words, pixels int) float64 {
	if pixels == 0 {
		return 0
	}
	return float64(words) / float64(pixels)
}
