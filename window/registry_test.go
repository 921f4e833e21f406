// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window

import (
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type testSurface struct {
	size   Size
	resize int
	closed bool
}

func (s *testSurface) SetSize(w, h int) {
	s.size = Size{w, h}
	s.resize++
}

func (s *testSurface) Close() error {
	s.closed = true
	return nil
}

type testRenderer struct{ vp Viewport }

func (r *testRenderer) SetViewport(vp Viewport) { r.vp = vp }

func TestRegister(t *testing.T) {
	reg := NewRegistry()
	s := new(testSurface)
	assert.NoError(t, reg.Register(1, s))
	if err := reg.Register(1, s); !errors.Is(errors.Exists, err) {
		t.Fatalf("unexpected error %v", err)
	}
	if err := reg.Register(0, s); !errors.Is(errors.Invalid, err) {
		t.Fatalf("unexpected error %v", err)
	}
	assert.NoError(t, reg.Unregister(1))
	// Ids may be reused once unregistered.
	assert.NoError(t, reg.Register(1, s))
	if err := reg.Unregister(2); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error %v", err)
	}
	if _, ok := reg.Get(2); ok {
		t.Error("unexpected record")
	}
}

func TestSetSizeForwards(t *testing.T) {
	reg := NewRegistry()
	s := new(testSurface)
	assert.NoError(t, reg.Register(7, s))
	assert.NoError(t, reg.SetSize(7, 640, 480))
	assert.NoError(t, reg.SetPosition(7, 10, 20))
	expect.EQ(t, s.size, Size{640, 480})
	rec, ok := reg.Get(7)
	if !ok {
		t.Fatal("record not found")
	}
	expect.EQ(t, rec.Rect(), Rect{10, 20, 640, 480})
	if err := reg.SetSize(7, -1, 2); !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error %v", err)
	}
	if err := reg.SetSize(8, 1, 2); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSharedSurface(t *testing.T) {
	var created []*testSurface
	reg := NewSharedRegistry(func() Surface {
		s := new(testSurface)
		created = append(created, s)
		return s
	})
	if s, _ := reg.SharedSurface(); s != nil {
		t.Fatal("surface created eagerly")
	}
	assert.NoError(t, reg.Register(1, nil))
	assert.NoError(t, reg.Register(2, nil))
	if err := reg.Register(3, new(testSurface)); !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error %v", err)
	}
	expect.EQ(t, len(created), 1)
	s, refs := reg.SharedSurface()
	expect.EQ(t, refs, 2)
	r1, _ := reg.Get(1)
	r2, _ := reg.Get(2)
	if r1.Surface != s || r2.Surface != s {
		t.Error("windows not mapped to the shared surface")
	}

	// Per-window sizes are bookkeeping only.
	assert.NoError(t, reg.SetSize(1, 300, 200))
	expect.EQ(t, created[0].resize, 0)

	assert.NoError(t, reg.Unregister(1))
	assert.NoError(t, reg.Unregister(2))
	s, refs = reg.SharedSurface()
	expect.EQ(t, refs, 0)
	if s == nil {
		t.Fatal("shared surface released before close")
	}
	assert.NoError(t, reg.Close())
	if !created[0].closed {
		t.Error("shared surface not closed")
	}
}

func TestRenderers(t *testing.T) {
	reg := NewRegistry()
	assert.NoError(t, reg.Register(1, nil))
	var a, b, c testRenderer
	assert.NoError(t, reg.AddRenderer(1, &a))
	assert.NoError(t, reg.AddRendererViewport(1, &b, Viewport{0, 0, 0.5, 1}))
	if err := reg.AddRendererViewport(1, &c, Viewport{0, 0, 2, 1}); !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error %v", err)
	}
	rec, _ := reg.Get(1)
	expect.EQ(t, len(rec.Renderers), 2)
	expect.EQ(t, rec.Renderers[0].Viewport, FullViewport)

	if !reg.UpdateRendererViewport(1, &b, Viewport{0.5, 0, 1, 1}) {
		t.Error("renderer b not updated")
	}
	if reg.UpdateRendererViewport(1, &c, FullViewport) {
		t.Error("unregistered renderer updated")
	}
	if reg.UpdateRendererViewport(2, &b, FullViewport) {
		t.Error("renderer updated in unknown window")
	}
	rec, _ = reg.Get(1)
	expect.EQ(t, rec.Renderers[1].Viewport, Viewport{0.5, 0, 1, 1})

	// Records are copies.
	rec.Renderers[0].Viewport = Viewport{}
	rec, _ = reg.Get(1)
	expect.EQ(t, rec.Renderers[0].Viewport, FullViewport)

	assert.NoError(t, reg.ClearRenderers(1))
	rec, _ = reg.Get(1)
	expect.EQ(t, len(rec.Renderers), 0)
}

func TestOrder(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []ID{5, 3, 9} {
		assert.NoError(t, reg.Register(id, nil))
	}
	assert.NoError(t, reg.Unregister(3))
	expect.EQ(t, reg.IDs(), []ID{5, 9})
	expect.EQ(t, reg.Len(), 2)
}

func TestViewportMap(t *testing.T) {
	outer := Viewport{0.5, 0, 1, 0.5}
	expect.EQ(t, outer.Map(FullViewport), outer)
	expect.EQ(t, outer.Map(Viewport{0, 0.5, 0.5, 1}), Viewport{0.5, 0.25, 0.75, 0.5})
}

func TestViewportRelative(t *testing.T) {
	outer := Viewport{0.5, 0, 1, 0.5}
	expect.EQ(t, outer.Relative(outer), FullViewport)
	v := Viewport{0.5, 0.25, 0.75, 0.5}
	expect.EQ(t, v.Relative(outer), Viewport{0, 0.5, 0.5, 1})
	expect.EQ(t, outer.Map(v.Relative(outer)), v)
	expect.EQ(t, FullViewport.Relative(outer), Viewport{-1, 0, 1, 2})
	expect.EQ(t, v.Relative(Viewport{0.5, 0, 0.5, 1}), Viewport{})
}
