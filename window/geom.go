// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window

import "fmt"

// Size is a width and height in pixels.
type Size struct{ W, H int }

// Empty tells whether s has no area.
func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

// Pixels returns the number of pixels in s.
func (s Size) Pixels() int {
	if s.Empty() {
		return 0
	}
	return s.W * s.H
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.W, s.H) }

// Point is a position in window space, where y=0 is the top edge.
type Point struct{ X, Y int }

// Rect is a rectangle in window space.
type Rect struct{ X, Y, W, H int }

// Empty tells whether r has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Right returns the first column past r.
func (r Rect) Right() int { return r.X + r.W }

// Bottom returns the first row past r.
func (r Rect) Bottom() int { return r.Y + r.H }

// SpansRows tells whether r and s share at least one row.
func (r Rect) SpansRows(s Rect) bool { return r.Y < s.Bottom() && s.Y < r.Bottom() }

// SpansColumns tells whether r and s share at least one column.
func (r Rect) SpansColumns(s Rect) bool { return r.X < s.Right() && s.X < r.Right() }

// Overlaps tells whether r and s share any pixel.
func (r Rect) Overlaps(s Rect) bool {
	return !r.Empty() && !s.Empty() && r.SpansRows(s) && r.SpansColumns(s)
}

func (r Rect) String() string { return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.W, r.H) }

// Viewport is a normalized rectangle {xmin, ymin, xmax, ymax} in
// [0,1]², with y=0 at the bottom edge.
type Viewport [4]float64

// FullViewport covers the whole surface.
var FullViewport = Viewport{0, 0, 1, 1}

// Map places the relative viewport inner inside v.
func (v Viewport) Map(inner Viewport) Viewport {
	w, h := v[2]-v[0], v[3]-v[1]
	return Viewport{
		v[0] + inner[0]*w,
		v[1] + inner[1]*h,
		v[0] + inner[2]*w,
		v[1] + inner[3]*h,
	}
}

// Relative expresses v in the coordinates of outer; it is the
// inverse of Map, so that outer.Map(v.Relative(outer)) == v. Parts of
// v outside outer fall outside [0,1]². Relative returns the zero
// viewport if outer is degenerate.
func (v Viewport) Relative(outer Viewport) Viewport {
	w, h := outer[2]-outer[0], outer[3]-outer[1]
	if w <= 0 || h <= 0 {
		return Viewport{}
	}
	return Viewport{
		(v[0] - outer[0]) / w,
		(v[1] - outer[1]) / h,
		(v[2] - outer[0]) / w,
		(v[3] - outer[1]) / h,
	}
}

// Valid tells whether v is a non-inverted rectangle inside [0,1]².
func (v Viewport) Valid() bool {
	for _, x := range v {
		if x < 0 || x > 1 {
			return false
		}
	}
	return v[0] <= v[2] && v[1] <= v[3]
}
