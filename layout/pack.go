// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package layout packs the logical windows of a session into one
// shared surface and derives the normalized viewport of every
// renderer inside it.
//
// Packing is a fixed-point relaxation ("shrink gaps"): each window is
// repeatedly slid left, then up, until it abuts a neighbour or the
// surface edge, and sweeps continue until no window moves. In tiled
// display mode a second pass grows windows right and down to close
// slivers at the end of rows and columns.
package layout

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/window"
)

// DefaultMaxSweeps bounds the relaxation loop.
const DefaultMaxSweeps = 1000

// A Placement is the rectangle of a logical window.
type Placement struct {
	ID   window.ID
	Rect window.Rect
}

// A Layout is the result of packing.
type Layout struct {
	// Windows holds the packed placements, in input order. Empty
	// windows are carried through unchanged.
	Windows []Placement
	// Extent is the size of the surface covering every non-empty
	// window. It is zero if there are no non-empty windows.
	Extent window.Size
	// Sweeps is the number of relaxation sweeps performed.
	Sweeps int
	// Converged is false if the sweep limit was reached before a
	// fixed point.
	Converged bool
}

// Packer packs windows.
type Packer struct {
	// Tiled enables the expansion pass used for tiled displays.
	Tiled bool
	// MaxSweeps bounds relaxation; DefaultMaxSweeps if zero.
	MaxSweeps int
}

// Pack packs windows. The input is not modified.
func (p Packer) Pack(windows []Placement) Layout {
	l := Layout{Windows: append([]Placement(nil), windows...)}
	max := p.MaxSweeps
	if max <= 0 {
		max = DefaultMaxSweeps
	}
	for !l.Converged {
		if l.Sweeps == max {
			log.Error.Printf("layout: no fixed point after %d sweeps over %d windows", max, len(windows))
			break
		}
		l.Sweeps++
		l.Converged = !shrink(l.Windows)
	}
	l.Extent = extent(l.Windows)
	if p.Tiled {
		expand(l.Windows, l.Extent)
	}
	return l
}

// shrink performs one sweep, sliding every window left and then up
// as far as its neighbours allow. It reports whether any window
// moved.
func shrink(ws []Placement) bool {
	var moved bool
	for i := range ws {
		w := &ws[i].Rect
		if w.Empty() {
			continue
		}
		x := 0
		for j := range ws {
			o := ws[j].Rect
			if j == i || o.Empty() || !o.SpansRows(*w) || o.Right() > w.X {
				continue
			}
			if o.Right() > x {
				x = o.Right()
			}
		}
		if x != w.X {
			w.X = x
			moved = true
		}
		y := 0
		for j := range ws {
			o := ws[j].Rect
			if j == i || o.Empty() || !o.SpansColumns(*w) || o.Bottom() > w.Y {
				continue
			}
			if o.Bottom() > y {
				y = o.Bottom()
			}
		}
		if y != w.Y {
			w.Y = y
			moved = true
		}
	}
	return moved
}

// extent returns the size covering the last pixel of every
// non-empty window.
func extent(ws []Placement) window.Size {
	maxX, maxY := -1, -1
	for _, w := range ws {
		if w.Rect.Empty() {
			continue
		}
		if x := w.Rect.Right() - 1; x > maxX {
			maxX = x
		}
		if y := w.Rect.Bottom() - 1; y > maxY {
			maxY = y
		}
	}
	return window.Size{W: maxX + 1, H: maxY + 1}
}

// expand grows every window right to its nearest neighbour's left
// edge, or to the extent, and then down likewise.
func expand(ws []Placement, ext window.Size) {
	for i := range ws {
		w := &ws[i].Rect
		if w.Empty() {
			continue
		}
		right := ext.W
		for j := range ws {
			o := ws[j].Rect
			if j == i || o.Empty() || !o.SpansRows(*w) || o.X < w.Right() {
				continue
			}
			if o.X < right {
				right = o.X
			}
		}
		if right > w.Right() {
			w.W = right - w.X
		}
		bottom := ext.H
		for j := range ws {
			o := ws[j].Rect
			if j == i || o.Empty() || !o.SpansColumns(*w) || o.Y < w.Bottom() {
				continue
			}
			if o.Y < bottom {
				bottom = o.Y
			}
		}
		if bottom > w.Bottom() {
			w.H = bottom - w.Y
		}
	}
}

// Capture returns the placements of the windows in reg, in
// registration order.
func Capture(reg *window.Registry) []Placement {
	recs := reg.Records()
	ps := make([]Placement, len(recs))
	for i, rec := range recs {
		ps[i] = Placement{rec.ID, rec.Rect()}
	}
	return ps
}
