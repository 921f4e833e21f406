// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package layout

import (
	"github.com/grailbio/bigrender/window"
)

// WindowViewport returns the normalized viewport of r inside a
// surface of the given extent. Window space has y=0 at the top;
// viewports have y=0 at the bottom.
func WindowViewport(r window.Rect, extent window.Size) window.Viewport {
	if extent.Empty() {
		return window.Viewport{}
	}
	w, h := float64(extent.W), float64(extent.H)
	return window.Viewport{
		float64(r.X) / w,
		1 - float64(r.Bottom())/h,
		float64(r.Right()) / w,
		1 - float64(r.Y)/h,
	}
}

// Viewport returns the normalized viewport of window id.
func (l Layout) Viewport(id window.ID) (window.Viewport, bool) {
	for _, w := range l.Windows {
		if w.ID == id && !w.Rect.Empty() {
			return WindowViewport(w.Rect, l.Extent), true
		}
	}
	return window.Viewport{}, false
}

// Assign sets the viewport of every renderer registered in reg by
// mapping the renderer's relative viewport into its window's packed
// viewport. Renderers of windows missing from l, or empty in l, are
// left alone.
func (l Layout) Assign(reg *window.Registry) {
	l.AssignTile(reg, window.FullViewport)
}

// AssignTile is Assign for a surface that displays only the region
// tile of the packed surface: viewports are expressed relative to
// the tile.
func (l Layout) AssignTile(reg *window.Registry, tile window.Viewport) {
	for _, rec := range reg.Records() {
		vp, ok := l.Viewport(rec.ID)
		if !ok {
			continue
		}
		for _, rv := range rec.Renderers {
			rv.Renderer.SetViewport(vp.Map(rv.Viewport).Relative(tile))
		}
	}
}

// AssignDedicated sets renderer viewports for registries in which
// every window owns its surface: each window covers its whole
// surface, so renderers get their relative viewports unchanged.
func AssignDedicated(reg *window.Registry) {
	for _, rec := range reg.Records() {
		for _, rv := range rec.Renderers {
			rv.Renderer.SetViewport(window.FullViewport.Map(rv.Viewport))
		}
	}
}

// TileViewport returns the normalized viewport displayed by the tile
// at rank in a tiled display of the given tile counts and mullion
// widths, where every tile has size tile. Tiles are numbered row by
// row starting at the top left. TileViewport returns false if rank
// does not address a tile.
func TileViewport(rank int, tiles, mullions [2]int, tile window.Size) (window.Viewport, bool) {
	cols, rows := tiles[0], tiles[1]
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	if rank < 0 || rank >= cols*rows || tile.Empty() {
		return window.Viewport{}, false
	}
	col, row := rank%cols, rank/cols
	full := window.Size{
		W: cols*tile.W + (cols-1)*mullions[0],
		H: rows*tile.H + (rows-1)*mullions[1],
	}
	r := window.Rect{
		X: col * (tile.W + mullions[0]),
		Y: row * (tile.H + mullions[1]),
		W: tile.W,
		H: tile.H,
	}
	return WindowViewport(r, full), true
}

// TileSize returns the size of one tile of a tiled display whose
// full extent, mullions included, is full. Tile dimensions are at
// least one pixel.
func TileSize(full window.Size, tiles, mullions [2]int) window.Size {
	div := func(n, count, gap int) int {
		if count <= 0 {
			count = 1
		}
		w := (n - (count-1)*gap) / count
		if w < 1 {
			w = 1
		}
		return w
	}
	return window.Size{
		W: div(full.W, tiles[0], mullions[0]),
		H: div(full.H, tiles[1], mullions[1]),
	}
}
