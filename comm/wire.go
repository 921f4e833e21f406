// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// Records cross the wire as fixed-layout little-endian words.
var order = binary.LittleEndian

// EncodeInts encodes v as a sequence of 32-bit integers.
func EncodeInts(v ...int) []byte {
	p := make([]byte, 4*len(v))
	for i, x := range v {
		order.PutUint32(p[4*i:], uint32(int32(x)))
	}
	return p
}

// DecodeInts decodes exactly n 32-bit integers from p.
func DecodeInts(p []byte, n int) ([]int, error) {
	if len(p) != 4*n {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("comm: got %d bytes, want %d ints", len(p), n))
	}
	v := make([]int, n)
	for i := range v {
		v[i] = int(int32(order.Uint32(p[4*i:])))
	}
	return v, nil
}

// EncodeFloat64s encodes v as a sequence of IEEE 754 doubles.
func EncodeFloat64s(v []float64) []byte {
	p := make([]byte, 8*len(v))
	for i, x := range v {
		order.PutUint64(p[8*i:], math.Float64bits(x))
	}
	return p
}

// DecodeFloat64s decodes a sequence of doubles from p.
func DecodeFloat64s(p []byte) ([]float64, error) {
	if len(p)%8 != 0 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("comm: %d bytes is not a sequence of doubles", len(p)))
	}
	v := make([]float64, len(p)/8)
	for i := range v {
		v[i] = math.Float64frombits(order.Uint64(p[8*i:]))
	}
	return v, nil
}

func encodeRMI(tag Tag, payload []byte) []byte {
	p := make([]byte, 4+len(payload))
	order.PutUint32(p, uint32(int32(tag)))
	copy(p[4:], payload)
	return p
}

func decodeRMI(p []byte) (Tag, []byte, error) {
	if len(p) < 4 {
		return 0, nil, errors.E(errors.Integrity, "comm: short rmi header")
	}
	return Tag(int32(order.Uint32(p))), p[4:], nil
}
