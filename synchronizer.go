// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrender

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/delivery"
	"github.com/grailbio/bigrender/deploy"
	"github.com/grailbio/bigrender/layout"
	"github.com/grailbio/bigrender/reduce"
	"github.com/grailbio/bigrender/stats"
	"github.com/grailbio/bigrender/window"
)

// A RenderFunc draws logical window id on the local process.
type RenderFunc func(ctx context.Context, id window.ID) error

// A DepthFunc samples the depth buffer of the last rendered frame at
// pixel (x, y) of the shared surface.
type DepthFunc func(x, y int) float64

// An Option represents a synchronizer configuration parameter value.
type Option func(s *Synchronizer)

// Renderer sets the function that draws a logical window. It is
// called between BeginRender and EndRender on processes that render
// locally.
func Renderer(fn RenderFunc) Option {
	return func(s *Synchronizer) {
		s.render = fn
	}
}

// Framebuffer sets the pixel source of a render root. It is required
// on render roots connected to a driver.
func Framebuffer(fb delivery.Framebuffer) Option {
	return func(s *Synchronizer) {
		s.fb = fb
	}
}

// Depth sets the function answering depth queries on render roots.
func Depth(fn DepthFunc) Option {
	return func(s *Synchronizer) {
		s.depth = fn
	}
}

// Value sets the function providing the local value of reductions
// triggered by the driver.
func Value(fn func() float64) Option {
	return func(s *Synchronizer) {
		s.value = fn
	}
}

// LocalBounds sets the function providing the local bounding box of
// bounds synchronizations triggered by the driver.
func LocalBounds(fn func() reduce.Bounds) Option {
	return func(s *Synchronizer) {
		s.bounds = fn
	}
}

// WindowHook sets a function called on render roots after a window
// is registered or unregistered on behalf of the driver. Servers use
// it to attach renderers to new windows.
func WindowHook(fn func(reg *window.Registry, id window.ID, registered bool)) Option {
	return func(s *Synchronizer) {
		s.windowHook = fn
	}
}

// Abort sets the function called with fatal errors: topology
// mismatches and corrupt layouts. The default calls log.Fatal.
func Abort(fn func(error)) Option {
	return func(s *Synchronizer) {
		s.abort = fn
	}
}

// Stats sets the map in which the synchronizer and its delivery
// channel maintain counters.
func Stats(m *stats.Map) Option {
	return func(s *Synchronizer) {
		s.stats = m
	}
}

// A Synchronizer runs the render cycle of one process. Its methods
// must be called by one goroutine at a time, except that the window
// registration methods may be called on drivers while a cycle is in
// progress; the changes take effect at the next cycle.
type Synchronizer struct {
	top deploy.Topology
	dep deploy.Deployment
	reg *window.Registry

	render     RenderFunc
	fb         delivery.Framebuffer
	depth      DepthFunc
	value      func() float64
	bounds     func() reduce.Bounds
	windowHook func(*window.Registry, window.ID, bool)
	abort      func(error)
	stats      *stats.Map

	reduce   *reduce.Service
	sender   *delivery.Sender
	receiver *delivery.Receiver

	// mu serializes the start of a cycle with window registration,
	// and protects the fields below.
	mu            sync.Mutex
	active        window.ID
	inCycle       bool
	begin         time.Time
	tileScale     int
	tileViewport  window.Viewport
	remoteDisplay bool
	layout        layout.Snapshot
	frame         delivery.Frame
	renderTime    time.Duration
	procTime      time.Duration
}

// New returns a synchronizer for the process placed by top in a
// session configured by dep. Reg holds the process's logical
// windows; it should be a shared registry on render roots and batch
// drivers, and may be nil on satellites and data processes.
func New(top deploy.Topology, dep deploy.Deployment, reg *window.Registry, opts ...Option) (*Synchronizer, error) {
	if err := top.Validate(); err != nil {
		return nil, err
	}
	if err := dep.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = window.NewRegistry()
	}
	s := &Synchronizer{
		top:           top,
		dep:           dep,
		reg:           reg,
		tileScale:     1,
		tileViewport:  window.FullViewport,
		remoteDisplay: true,
		abort:         func(err error) { log.Fatal(err) },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stats == nil {
		s.stats = stats.NewMap()
	}
	s.reduce = reduce.New(top)
	switch {
	case top.Role == deploy.Driver && top.Render != nil:
		s.receiver = delivery.NewReceiver(top.Render, deploy.RootRank, s.stats)
	case top.Role == deploy.RenderCompute && top.Uplink() != nil:
		if s.fb == nil {
			return nil, errors.E(errors.Invalid, errors.Fatal, "bigrender: render roots connected to a driver need a framebuffer")
		}
		s.sender = delivery.NewSender(top.Render, deploy.DriverRank, top.Group, s.fb, s.stats)
	}
	s.registerRMIs()
	return s, nil
}

// Role returns the role of the local process.
func (s *Synchronizer) Role() deploy.Role { return s.top.Role }

// Registry returns the window registry of the local process.
func (s *Synchronizer) Registry() *window.Registry { return s.reg }

// Deployment returns the deployment in effect. Tile parameters
// reflect those agreed at Start.
func (s *Synchronizer) Deployment() deploy.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dep
}

// Start agrees on the tiled-display parameters: the render root's
// parameters are adopted by its group and by the driver. Start must
// be called concurrently by every process of the render fabric
// before the first cycle.
func (s *Synchronizer) Start(ctx context.Context) error {
	top := s.top
	switch {
	case s.renderRoot():
		p := encodeTiles(s.dep)
		if top.GroupSize() > 1 {
			if _, err := top.Group.Broadcast(ctx, p, 0); err != nil {
				return err
			}
		}
		if top.Role == deploy.RenderCompute && top.Render != nil {
			return top.Render.Send(ctx, p, deploy.DriverRank, comm.TileParametersTag)
		}
	case top.Role == deploy.RenderCompute:
		p, err := top.Group.Broadcast(ctx, nil, 0)
		if err != nil {
			return err
		}
		return s.adoptTiles(p)
	case top.Role == deploy.Driver && top.Render != nil:
		p, err := top.Render.Receive(ctx, deploy.RootRank, comm.TileParametersTag)
		if err != nil {
			return err
		}
		return s.adoptTiles(p)
	}
	return nil
}

func (s *Synchronizer) adoptTiles(p []byte) error {
	dep, err := decodeTiles(s.Deployment(), p)
	if err != nil {
		return errors.E(errors.Fatal, "bigrender: tile parameters", err)
	}
	s.mu.Lock()
	if dep.Tiles != s.dep.Tiles || dep.Mullions != s.dep.Mullions {
		log.Printf("bigrender: %s: adopting tiles %v, mullions %v from the render root", s.top.Role, dep.Tiles, dep.Mullions)
	}
	s.dep = dep
	s.mu.Unlock()
	return nil
}

// renderRoot tells whether the process runs the root branch of the
// cycle: a render root, or the driver of a batch run.
func (s *Synchronizer) renderRoot() bool {
	switch s.top.Role {
	case deploy.RenderCompute:
		return s.top.GroupRoot()
	case deploy.Driver:
		return s.top.Batch()
	}
	return false
}

// ShouldRenderLocally tells whether the local process draws during a
// cycle. Client drivers display the image delivered by the render
// root instead; satellites draw only when they drive a display tile.
func (s *Synchronizer) ShouldRenderLocally() bool {
	switch s.top.Role {
	case deploy.Standalone:
		return true
	case deploy.Driver:
		return s.top.Batch()
	case deploy.RenderCompute:
		if s.top.GroupRoot() {
			return true
		}
		_, ok := s.TileViewport()
		return ok
	}
	return false
}

// SetTileScale sets the magnification of the render surface used
// for tiled screenshots. It takes effect at the next cycle.
func (s *Synchronizer) SetTileScale(n int) error {
	if n <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("bigrender: tile scale %d must be positive", n))
	}
	s.mu.Lock()
	s.tileScale = n
	s.mu.Unlock()
	return nil
}

// SetTileViewport sets the region of the magnified image requested by
// a tiled screenshot.
func (s *Synchronizer) SetTileViewport(vp window.Viewport) error {
	if !vp.Valid() {
		return errors.E(errors.Invalid, fmt.Sprintf("bigrender: invalid tile viewport %v", vp))
	}
	s.mu.Lock()
	s.tileViewport = vp
	s.mu.Unlock()
	return nil
}

// SetRemoteDisplay tells whether the driver wants the rendered image
// delivered. When disabled, only the frame parameters and timing are
// transferred and the previous image is kept.
func (s *Synchronizer) SetRemoteDisplay(display bool) {
	s.mu.Lock()
	s.remoteDisplay = display
	s.mu.Unlock()
}

// Layout returns the layout applied at the most recent cycle. On
// drivers it is the layout captured from the registry; on render
// processes it is the packed layout.
func (s *Synchronizer) Layout() layout.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// TileViewport returns the viewport of the display tile driven by
// the local process, if it drives one.
func (s *Synchronizer) TileViewport() (window.Viewport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dep.Tiled() || (s.top.Role != deploy.RenderCompute && !s.top.Batch()) {
		return window.Viewport{}, false
	}
	rank := 0
	if s.top.Group != nil {
		rank = s.top.Group.Rank()
	}
	full := s.layout.Extent
	scale := s.layout.TileScale
	if scale <= 0 {
		scale = 1
	}
	full.W *= scale
	full.H *= scale
	tile := layout.TileSize(full, s.dep.Tiles, s.dep.Mullions)
	return layout.TileViewport(rank, s.dep.Tiles, s.dep.Mullions, tile)
}

// ActiveWindow returns the logical window of the current or most
// recent cycle.
func (s *Synchronizer) ActiveWindow() window.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// UpdateRate returns the desired update rate in frames per second.
// On render processes it is the rate carried by the last layout.
func (s *Synchronizer) UpdateRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.top.Role == deploy.Driver || s.top.Role == deploy.Standalone {
		return s.dep.UpdateRate
	}
	return s.layout.UpdateRate
}

// RenderTime returns the duration of the last cycle. On drivers it
// includes the image processing time reported by the render root.
func (s *Synchronizer) RenderTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderTime
}

// ImageProcessingTime returns the time the render root spent reading
// back and encoding the last frame.
func (s *Synchronizer) ImageProcessingTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procTime
}

// Frame returns the delivery summary of the last cycle on drivers.
func (s *Synchronizer) Frame() delivery.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Image returns the last image delivered to the driver, and whether
// it was delivered in the last cycle.
func (s *Synchronizer) Image() (*delivery.Image, bool) {
	if s.receiver == nil {
		return nil, false
	}
	return s.receiver.Image()
}

// Stats returns a snapshot of the synchronizer's counters.
func (s *Synchronizer) Stats() stats.Values {
	vals := make(stats.Values)
	s.stats.AddAll(vals)
	return vals
}

// fatal passes err to the abort function and returns it, for aborts
// that return.
func (s *Synchronizer) fatal(err error) error {
	err = errors.E(errors.Fatal, err)
	s.abort(err)
	return err
}
