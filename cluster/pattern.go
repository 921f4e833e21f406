// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/delivery"
	"github.com/grailbio/bigrender/window"
	"github.com/spaolacci/murmur3"
)

// Background is the colour of pattern pixels outside every window.
var Background = color.RGBA{0, 0, 0, 0xff}

// Pattern is a synthetic shared surface: every logical window is
// drawn as a rectangle of a colour derived from its id, filling the
// viewport assigned to it. Pattern is used by servers in place of a
// real renderer.
type Pattern struct {
	mu     sync.Mutex
	size   window.Size
	views  map[window.ID]*patternView
	frames int
}

type patternView struct {
	mu sync.Mutex
	vp window.Viewport
}

func (v *patternView) SetViewport(vp window.Viewport) {
	v.mu.Lock()
	v.vp = vp
	v.mu.Unlock()
}

func (v *patternView) viewport() window.Viewport {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vp
}

// NewPattern returns an empty pattern.
func NewPattern() *Pattern {
	return &Pattern{views: make(map[window.ID]*patternView)}
}

// SetSize implements window.Surface.
func (p *Pattern) SetSize(w, h int) {
	p.mu.Lock()
	p.size = window.Size{W: w, H: h}
	p.mu.Unlock()
}

// Size returns the surface size.
func (p *Pattern) Size() window.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Attach adds (or removes) the renderer of window id. Its signature
// matches bigrender.WindowHook.
func (p *Pattern) Attach(reg *window.Registry, id window.ID, registered bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !registered {
		delete(p.views, id)
		return
	}
	v := new(patternView)
	if err := reg.AddRenderer(id, v); err != nil {
		log.Error.Printf("cluster: window %d: %v", id, err)
		return
	}
	p.views[id] = v
}

// Render counts a frame.
func (p *Pattern) Render(ctx context.Context, id window.ID) error {
	p.mu.Lock()
	p.frames++
	p.mu.Unlock()
	return nil
}

// Frames returns the number of frames rendered.
func (p *Pattern) Frames() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.frames)
}

// Color returns the colour of window id.
func Color(id window.ID) color.RGBA {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	h := murmur3.Sum32(b[:])
	return color.RGBA{byte(h), byte(h >> 8), byte(h >> 16), 0xff}
}

// bounds returns the pixel rectangle of viewport vp.
func (p *Pattern) bounds(vp window.Viewport) image.Rectangle {
	w, h := float64(p.size.W), float64(p.size.H)
	return image.Rect(int(vp[0]*w), int((1-vp[3])*h), int(vp[2]*w), int((1-vp[1])*h))
}

// ReadPixels implements delivery.Framebuffer.
func (p *Pattern) ReadPixels(ctx context.Context) (*delivery.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	img := delivery.NewImage(p.size, 4)
	rgba := img.RGBA()
	draw.Draw(rgba, rgba.Rect, &image.Uniform{Background}, image.ZP, draw.Src)
	for id, v := range p.views {
		r := p.bounds(v.viewport()).Intersect(rgba.Rect)
		draw.Draw(rgba, r, &image.Uniform{Color(id)}, image.ZP, draw.Src)
	}
	return img, nil
}

// Depth returns 0.5 inside a window and 1, the far plane, elsewhere.
func (p *Pattern) Depth(x, y int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt := image.Pt(x, y)
	for _, v := range p.views {
		if pt.In(p.bounds(v.viewport())) {
			return 0.5
		}
	}
	return 1
}
