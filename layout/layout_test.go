// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package layout

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigrender/window"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func rects(l Layout) []window.Rect {
	rs := make([]window.Rect, len(l.Windows))
	for i, w := range l.Windows {
		rs[i] = w.Rect
	}
	return rs
}

func TestShrinkGaps(t *testing.T) {
	l := Packer{}.Pack([]Placement{
		{1, window.Rect{X: 0, Y: 0, W: 100, H: 100}},
		{2, window.Rect{X: 150, Y: 0, W: 100, H: 100}},
		{3, window.Rect{X: 0, Y: 150, W: 100, H: 100}},
	})
	expect.EQ(t, rects(l), []window.Rect{
		{X: 0, Y: 0, W: 100, H: 100},
		{X: 100, Y: 0, W: 100, H: 100},
		{X: 0, Y: 100, W: 100, H: 100},
	})
	expect.EQ(t, l.Extent, window.Size{W: 200, H: 200})
	if !l.Converged {
		t.Error("not converged")
	}
}

func TestSingleWindow(t *testing.T) {
	l := Packer{}.Pack([]Placement{{1, window.Rect{X: 40, Y: 30, W: 320, H: 240}}})
	expect.EQ(t, rects(l), []window.Rect{{X: 0, Y: 0, W: 320, H: 240}})
	expect.EQ(t, l.Extent, window.Size{W: 320, H: 240})
	vp, ok := l.Viewport(1)
	if !ok {
		t.Fatal("no viewport")
	}
	expect.EQ(t, vp, window.FullViewport)
}

func TestNoWindows(t *testing.T) {
	l := Packer{Tiled: true}.Pack(nil)
	expect.EQ(t, l.Extent, window.Size{})
	if !l.Converged {
		t.Error("not converged")
	}
}

func TestEmptyWindowsKept(t *testing.T) {
	l := Packer{}.Pack([]Placement{
		{1, window.Rect{X: 50, Y: 50, W: 0, H: 100}},
		{2, window.Rect{X: 10, Y: 10, W: 100, H: 100}},
	})
	expect.EQ(t, rects(l), []window.Rect{{X: 50, Y: 50, W: 0, H: 100}, {X: 0, Y: 0, W: 100, H: 100}})
	expect.EQ(t, l.Extent, window.Size{W: 100, H: 100})
	if _, ok := l.Viewport(1); ok {
		t.Error("empty window has a viewport")
	}
}

func TestSweepLimit(t *testing.T) {
	in := []Placement{
		{1, window.Rect{X: 200, Y: 0, W: 100, H: 100}},
		{2, window.Rect{X: 100, Y: 0, W: 100, H: 100}},
	}
	l := Packer{MaxSweeps: 1}.Pack(in)
	if l.Converged {
		t.Error("converged in a single sweep")
	}
	expect.EQ(t, l.Sweeps, 1)
	l = Packer{}.Pack(in)
	if !l.Converged {
		t.Error("not converged")
	}
	expect.EQ(t, rects(l), []window.Rect{{X: 100, Y: 0, W: 100, H: 100}, {X: 0, Y: 0, W: 100, H: 100}})
}

func TestTiledExpansion(t *testing.T) {
	in := []Placement{
		{1, window.Rect{X: 0, Y: 0, W: 100, H: 100}},
		{2, window.Rect{X: 100, Y: 0, W: 100, H: 100}},
		{3, window.Rect{X: 0, Y: 100, W: 150, H: 100}},
	}
	l := Packer{}.Pack(in)
	expect.EQ(t, rects(l)[2], window.Rect{X: 0, Y: 100, W: 150, H: 100})
	l = Packer{Tiled: true}.Pack(in)
	expect.EQ(t, rects(l), []window.Rect{
		{X: 0, Y: 0, W: 100, H: 100},
		{X: 100, Y: 0, W: 100, H: 100},
		{X: 0, Y: 100, W: 200, H: 100},
	})
}

// randomLayout places up to 25 windows in distinct cells of a 5x5
// grid of 100-pixel cells, so that no two windows overlap.
func randomLayout(fz *fuzz.Fuzzer) []Placement {
	var (
		cells [25]bool
		ws    []Placement
	)
	fz.Fuzz(&cells)
	for i, ok := range cells {
		if !ok {
			continue
		}
		var dims [4]uint8
		fz.Fuzz(&dims)
		w, h := int(dims[0])%100+1, int(dims[1])%100+1
		x := (i%5)*100 + int(dims[2])%(101-w)
		y := (i/5)*100 + int(dims[3])%(101-h)
		ws = append(ws, Placement{window.ID(i + 1), window.Rect{X: x, Y: y, W: w, H: h}})
	}
	return ws
}

func TestFixedPoint(t *testing.T) {
	fz := fuzz.New()
	for iter := 0; iter < 200; iter++ {
		in := randomLayout(fz)
		l := Packer{}.Pack(in)
		if !l.Converged {
			t.Fatalf("iteration %d: not converged", iter)
		}
		for i := range l.Windows {
			for j := i + 1; j < len(l.Windows); j++ {
				if l.Windows[i].Rect.Overlaps(l.Windows[j].Rect) {
					t.Fatalf("iteration %d: %v overlaps %v", iter, l.Windows[i], l.Windows[j])
				}
			}
		}
		out := append([]Placement(nil), l.Windows...)
		if shrink(out) {
			t.Fatalf("iteration %d: a window can still move", iter)
		}
		again := Packer{}.Pack(l.Windows)
		expect.EQ(t, again.Windows, l.Windows)
		expect.EQ(t, again.Extent, l.Extent)
		expect.EQ(t, again.Sweeps, 1)
		for _, w := range l.Windows {
			if w.Rect.Right() > l.Extent.W || w.Rect.Bottom() > l.Extent.H {
				t.Fatalf("iteration %d: %v outside extent %v", iter, w, l.Extent)
			}
		}
	}
}

func TestTiledNoOverlap(t *testing.T) {
	fz := fuzz.New()
	for iter := 0; iter < 100; iter++ {
		l := Packer{Tiled: true}.Pack(randomLayout(fz))
		for i := range l.Windows {
			for j := i + 1; j < len(l.Windows); j++ {
				if l.Windows[i].Rect.Overlaps(l.Windows[j].Rect) {
					t.Fatalf("iteration %d: %v overlaps %v", iter, l.Windows[i], l.Windows[j])
				}
			}
		}
	}
}

type testRenderer struct{ vp window.Viewport }

func (r *testRenderer) SetViewport(vp window.Viewport) { r.vp = vp }

func TestAssign(t *testing.T) {
	reg := window.NewSharedRegistry(nil)
	var a, b, c testRenderer
	for id, r := range map[window.ID]window.Rect{
		1: {X: 0, Y: 0, W: 100, H: 100},
		2: {X: 150, Y: 0, W: 100, H: 100},
		3: {X: 0, Y: 150, W: 100, H: 100},
	} {
		assert.NoError(t, reg.Register(id, nil))
		assert.NoError(t, reg.SetPosition(id, r.X, r.Y))
		assert.NoError(t, reg.SetSize(id, r.W, r.H))
	}
	assert.NoError(t, reg.AddRenderer(1, &a))
	assert.NoError(t, reg.AddRendererViewport(2, &b, window.Viewport{0, 0, 0.5, 1}))
	assert.NoError(t, reg.AddRenderer(3, &c))
	l := Packer{}.Pack(Capture(reg))
	l.Assign(reg)
	expect.EQ(t, a.vp, window.Viewport{0, 0.5, 0.5, 1})
	expect.EQ(t, b.vp, window.Viewport{0.5, 0.5, 0.75, 1})
	expect.EQ(t, c.vp, window.Viewport{0, 0, 0.5, 0.5})

	// The top right quarter of the packed surface.
	l.AssignTile(reg, window.Viewport{0.5, 0.5, 1, 1})
	expect.EQ(t, a.vp, window.Viewport{-1, 0, 0, 1})
	expect.EQ(t, b.vp, window.Viewport{0, 0, 0.5, 1})
	expect.EQ(t, c.vp, window.Viewport{-1, -1, 0, 0})

	AssignDedicated(reg)
	expect.EQ(t, a.vp, window.FullViewport)
	expect.EQ(t, b.vp, window.Viewport{0, 0, 0.5, 1})
}

func TestTileViewport(t *testing.T) {
	tile := window.Size{W: 100, H: 100}
	vp, ok := TileViewport(1, [2]int{2, 1}, [2]int{10, 0}, tile)
	if !ok {
		t.Fatal("rank 1 not a tile")
	}
	expect.EQ(t, vp, window.Viewport{110.0 / 210, 0, 1, 1})
	vp, ok = TileViewport(2, [2]int{2, 2}, [2]int{0, 0}, tile)
	if !ok {
		t.Fatal("rank 2 not a tile")
	}
	expect.EQ(t, vp, window.Viewport{0, 0, 0.5, 0.5})
	if _, ok := TileViewport(4, [2]int{2, 2}, [2]int{}, tile); ok {
		t.Error("rank 4 addressed a tile in a 2x2 display")
	}
	vp, ok = TileViewport(0, [2]int{}, [2]int{}, tile)
	if !ok {
		t.Fatal("rank 0 not a tile")
	}
	expect.EQ(t, vp, window.FullViewport)
}

func TestTileSize(t *testing.T) {
	for _, c := range []struct {
		full            window.Size
		tiles, mullions [2]int
		want            window.Size
	}{
		{window.Size{W: 210, H: 100}, [2]int{2, 1}, [2]int{10, 0}, window.Size{W: 100, H: 100}},
		{window.Size{W: 200, H: 200}, [2]int{2, 2}, [2]int{}, window.Size{W: 100, H: 100}},
		{window.Size{W: 200, H: 100}, [2]int{}, [2]int{}, window.Size{W: 200, H: 100}},
		{window.Size{W: 4, H: 4}, [2]int{8, 1}, [2]int{2, 0}, window.Size{W: 1, H: 4}},
	} {
		if got, want := TileSize(c.full, c.tiles, c.mullions), c.want; got != want {
			t.Errorf("%v %v %v: got %v, want %v", c.full, c.tiles, c.mullions, got, want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	s := Snapshot{
		Windows: []Placement{
			{1, window.Rect{X: 0, Y: 0, W: 100, H: 100}},
			{9, window.Rect{X: 100, Y: 0, W: 50, H: 75}},
		},
		Extent:       window.Size{W: 150, H: 100},
		TileScale:    2,
		TileViewport: window.Viewport{0, 0, 0.5, 0.5},
		UpdateRate:   5,
	}
	p, err := s.MarshalBinary()
	assert.NoError(t, err)
	expect.EQ(t, len(p), 4+2*20+3*4+5*8+4)
	var got Snapshot
	assert.NoError(t, got.UnmarshalBinary(p))
	expect.EQ(t, got, s)

	p[5] ^= 1
	if err := got.UnmarshalBinary(p); !errors.Is(errors.Integrity, err) {
		t.Errorf("unexpected error %v", err)
	}
	if err := got.UnmarshalBinary(p[:3]); !errors.Is(errors.Integrity, err) {
		t.Errorf("unexpected error %v", err)
	}

	var empty Snapshot
	p, err = empty.MarshalBinary()
	assert.NoError(t, err)
	assert.NoError(t, got.UnmarshalBinary(p))
	expect.EQ(t, len(got.Windows), 0)
}
