// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigrender/window"
	"github.com/spaolacci/murmur3"
)

// A Snapshot is the layout exchanged once per render between the
// driver and the compute root, and from the root to its group.
type Snapshot struct {
	Windows []Placement
	// Extent is the full packed extent. Drivers leave it zero; roots
	// fill it in before rebroadcasting.
	Extent window.Size
	// TileScale magnifies the compute surface for tiled screenshots.
	TileScale int
	// TileViewport is the region of the magnified image requested.
	TileViewport window.Viewport
	// UpdateRate is the desired update rate in frames per second.
	UpdateRate float64
}

// Wire layout, little-endian: int32 count, count × int32 {id, x, y,
// w, h}, int32 {extent w, extent h, tile scale}, float64 × 4 tile
// viewport, float64 update rate, uint32 murmur3 of everything before.
const (
	headerSize  = 4
	windowSize  = 5 * 4
	trailerSize = 3*4 + 5*8
	sumSize     = 4
)

var order = binary.LittleEndian

// MarshalBinary implements encoding.BinaryMarshaler.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	p := make([]byte, headerSize+len(s.Windows)*windowSize+trailerSize+sumSize)
	off := 0
	putInt := func(v int) {
		order.PutUint32(p[off:], uint32(int32(v)))
		off += 4
	}
	putFloat := func(v float64) {
		order.PutUint64(p[off:], math.Float64bits(v))
		off += 8
	}
	putInt(len(s.Windows))
	for _, w := range s.Windows {
		putInt(int(w.ID))
		putInt(w.Rect.X)
		putInt(w.Rect.Y)
		putInt(w.Rect.W)
		putInt(w.Rect.H)
	}
	putInt(s.Extent.W)
	putInt(s.Extent.H)
	putInt(s.TileScale)
	for _, v := range s.TileViewport {
		putFloat(v)
	}
	putFloat(s.UpdateRate)
	order.PutUint32(p[off:], murmur3.Sum32(p[:off]))
	return p, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Corrupt or
// truncated snapshots fail with errors.Integrity.
func (s *Snapshot) UnmarshalBinary(p []byte) error {
	if len(p) < headerSize+trailerSize+sumSize {
		return errors.E(errors.Integrity, fmt.Sprintf("layout: short snapshot of %d bytes", len(p)))
	}
	body, sum := p[:len(p)-sumSize], order.Uint32(p[len(p)-sumSize:])
	if got := murmur3.Sum32(body); got != sum {
		return errors.E(errors.Integrity, fmt.Sprintf("layout: snapshot checksum %08x, want %08x", got, sum))
	}
	off := 0
	getInt := func() int {
		v := int(int32(order.Uint32(body[off:])))
		off += 4
		return v
	}
	getFloat := func() float64 {
		v := math.Float64frombits(order.Uint64(body[off:]))
		off += 8
		return v
	}
	n := getInt()
	if n < 0 || headerSize+n*windowSize+trailerSize != len(body) {
		return errors.E(errors.Integrity, fmt.Sprintf("layout: snapshot of %d windows has %d bytes", n, len(body)))
	}
	s.Windows = make([]Placement, n)
	for i := range s.Windows {
		id := window.ID(getInt())
		x, y := getInt(), getInt()
		w, h := getInt(), getInt()
		s.Windows[i] = Placement{id, window.Rect{X: x, Y: y, W: w, H: h}}
	}
	s.Extent.W = getInt()
	s.Extent.H = getInt()
	s.TileScale = getInt()
	for i := range s.TileViewport {
		s.TileViewport[i] = getFloat()
	}
	s.UpdateRate = getFloat()
	return nil
}
