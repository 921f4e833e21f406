// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package window keeps the per-process bookkeeping of logical
// windows: their size, position, and the renderers that draw into
// them.
//
// On drivers each logical window owns a native surface. On compute
// processes every logical window maps onto a single shared surface
// whose size is governed by the packed layout; see package layout.
package window

import (
	"fmt"
	"io"
	"sync"

	"github.com/grailbio/base/errors"
)

// ID identifies a logical window. IDs are non-zero.
type ID int

// A Surface is a native render surface.
type Surface interface {
	// SetSize resizes the surface.
	SetSize(w, h int)
}

// A Renderer draws into a viewport of a surface.
type Renderer interface {
	// SetViewport assigns the normalized region of the surface the
	// renderer draws into.
	SetViewport(vp Viewport)
}

// A RendererView is a renderer together with the viewport it
// occupies relative to its logical window.
type RendererView struct {
	Renderer Renderer
	Viewport Viewport
}

// A Record describes a logical window.
type Record struct {
	ID        ID
	Size      Size
	Position  Point
	Renderers []RendererView
	Surface   Surface
}

// Rect returns the window's rectangle in window space.
func (r Record) Rect() Rect {
	return Rect{r.Position.X, r.Position.Y, r.Size.W, r.Size.H}
}

// Registry holds the records of the logical windows known to a
// process. A registry is safe for concurrent use, though bigrender
// mutates it from a single goroutine per process role.
type Registry struct {
	shared     bool
	newSurface func() Surface

	mu      sync.Mutex
	records map[ID]*Record
	order   []ID
	surface Surface
	refs    int
}

// NewRegistry returns a registry in which every window owns its own
// native surface, as on drivers and standalone processes.
func NewRegistry() *Registry {
	return &Registry{records: make(map[ID]*Record)}
}

// NewSharedRegistry returns a registry in which every window maps
// onto one shared surface, created by newSurface on the first
// registration. NewSurface may be nil for headless processes.
func NewSharedRegistry(newSurface func() Surface) *Registry {
	return &Registry{
		shared:     true,
		newSurface: newSurface,
		records:    make(map[ID]*Record),
	}
}

// Shared tells whether windows share a single surface.
func (r *Registry) Shared() bool { return r.shared }

// Register adds a record for window id drawing to surface s. On
// shared registries s must be nil; the window is mapped to the
// shared surface instead. Registering a live id fails with
// errors.Exists.
func (r *Registry) Register(id ID, s Surface) error {
	if id == 0 {
		return errors.E(errors.Invalid, "window: zero window id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; ok {
		return errors.E(errors.Exists, fmt.Sprintf("window: window %d already registered", id))
	}
	if r.shared {
		if s != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("window: window %d: shared registries own their surface", id))
		}
		if r.surface == nil && r.newSurface != nil {
			r.surface = r.newSurface()
		}
		s = r.surface
		r.refs++
	}
	r.records[id] = &Record{ID: id, Surface: s}
	r.order = append(r.order, id)
	return nil
}

// Unregister removes window id. The shared surface outlives its last
// window; it is released by Close.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return notExist(id)
	}
	delete(r.records, id)
	for i := range r.order {
		if r.order[i] == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.shared {
		r.refs--
	}
	return nil
}

// Get returns a copy of the record for window id.
func (r *Registry) Get(id ID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	cp := *rec
	cp.Renderers = append([]RendererView(nil), rec.Renderers...)
	return cp, true
}

// IDs returns the registered window ids in registration order.
func (r *Registry) IDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ID(nil), r.order...)
}

// Records returns copies of all records in registration order.
func (r *Registry) Records() []Record {
	ids := r.IDs()
	recs := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.Get(id); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

// Len returns the number of registered windows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// SetSize records the size of window id. On registries with
// per-window surfaces the native surface is resized as well; shared
// surfaces are sized by the packed layout instead.
func (r *Registry) SetSize(id ID, w, h int) error {
	if w < 0 || h < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("window: window %d: negative size %dx%d", id, w, h))
	}
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return notExist(id)
	}
	rec.Size = Size{w, h}
	s := rec.Surface
	r.mu.Unlock()
	if !r.shared && s != nil {
		s.SetSize(w, h)
	}
	return nil
}

// SetPosition records the position of window id.
func (r *Registry) SetPosition(id ID, x, y int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return notExist(id)
	}
	rec.Position = Point{x, y}
	return nil
}

// AddRenderer adds a renderer covering all of window id.
func (r *Registry) AddRenderer(id ID, ren Renderer) error {
	return r.AddRendererViewport(id, ren, FullViewport)
}

// AddRendererViewport adds a renderer occupying the relative
// viewport vp of window id.
func (r *Registry) AddRendererViewport(id ID, ren Renderer, vp Viewport) error {
	if !vp.Valid() {
		return errors.E(errors.Invalid, fmt.Sprintf("window: window %d: invalid viewport %v", id, vp))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return notExist(id)
	}
	rec.Renderers = append(rec.Renderers, RendererView{ren, vp})
	return nil
}

// UpdateRendererViewport changes the relative viewport of renderer
// ren in window id. It returns false if the renderer was not
// registered with the window.
func (r *Registry) UpdateRendererViewport(id ID, ren Renderer, vp Viewport) bool {
	if !vp.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	for i := range rec.Renderers {
		if rec.Renderers[i].Renderer == ren {
			rec.Renderers[i].Viewport = vp
			return true
		}
	}
	return false
}

// ClearRenderers removes all renderers from window id.
func (r *Registry) ClearRenderers(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return notExist(id)
	}
	rec.Renderers = nil
	return nil
}

// SharedSurface returns the shared surface, or nil if none has been
// created yet, together with the number of windows mapped to it.
func (r *Registry) SharedSurface() (Surface, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surface, r.refs
}

// Close releases the shared surface. Closing a registry with
// per-window surfaces is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	s := r.surface
	r.surface = nil
	r.mu.Unlock()
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func notExist(id ID) error {
	return errors.E(errors.NotExist, fmt.Sprintf("window: window %d not registered", id))
}
