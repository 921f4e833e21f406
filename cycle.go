// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrender

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/delivery"
	"github.com/grailbio/bigrender/deploy"
	"github.com/grailbio/bigrender/layout"
	"github.com/grailbio/bigrender/window"
)

// BeginRender starts a render cycle of logical window id and, on
// processes that render locally, draws it. Every process of the
// render fabric must run the same cycle: drivers and standalone
// processes call BeginRender directly, while servers with render
// propagation enabled run it from Serve.
func (s *Synchronizer) BeginRender(ctx context.Context, id window.ID) error {
	if s.top.Role == deploy.DataHolder {
		return errors.E(errors.Invalid, "bigrender: data processes do not render")
	}
	s.mu.Lock()
	if s.inCycle {
		s.mu.Unlock()
		return errors.E(errors.Invalid, fmt.Sprintf("bigrender: render of window %d began during a render of window %d", id, s.active))
	}
	s.inCycle = true
	s.active = id
	s.begin = time.Now()
	s.mu.Unlock()
	log.Debug.Printf("bigrender: %s: begin render of window %d", s.top.Role, id)

	var err error
	switch {
	case s.top.Role == deploy.Standalone:
		s.beginStandalone()
	case s.top.Role == deploy.Driver && !s.top.Batch():
		err = s.beginDriver(ctx, id)
	case s.renderRoot():
		err = s.beginRoot(ctx, id)
	default:
		err = s.beginSatellite(ctx)
	}
	if err == nil && s.render != nil && s.ShouldRenderLocally() {
		err = s.render(ctx, id)
	}
	if err != nil {
		s.mu.Lock()
		s.inCycle = false
		s.mu.Unlock()
	}
	return err
}

func (s *Synchronizer) beginStandalone() {
	s.mu.Lock()
	s.layout = layout.Snapshot{Windows: layout.Capture(s.reg), TileScale: s.tileScale, UpdateRate: s.dep.UpdateRate}
	s.mu.Unlock()
	layout.AssignDedicated(s.reg)
}

// beginDriver sends the layout requested before this call to the
// render root. It holds mu so that no window is registered between
// the render trigger and the capture.
func (s *Synchronizer) beginDriver(ctx context.Context, id window.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	render := s.top.Render
	snap := layout.Snapshot{
		Windows:      layout.Capture(s.reg),
		TileScale:    s.tileScale,
		TileViewport: s.tileViewport,
		UpdateRate:   s.dep.UpdateRate,
	}
	s.layout = snap
	layout.AssignDedicated(s.reg)
	if render == nil {
		return nil
	}
	if s.dep.PropagateRender {
		if err := render.TriggerRMI(ctx, comm.EncodeInts(int(id)), deploy.RootRank, comm.RenderRMITag); err != nil {
			return err
		}
	}
	p, err := snap.MarshalBinary()
	if err != nil {
		return err
	}
	if err := render.Send(ctx, p, deploy.RootRank, comm.LayoutSyncTag); err != nil {
		return err
	}
	opts := delivery.Options{Enabled: s.dep.Compress, Level: s.dep.CompressionLevel}
	return s.receiver.PreRender(ctx, opts, s.remoteDisplay)
}

// beginRoot packs the driver's layout (or, in batch runs, the local
// layout) into the shared surface and hands the result to the group.
func (s *Synchronizer) beginRoot(ctx context.Context, id window.ID) error {
	top := s.top
	if s.dep.PropagateRender && top.GroupSize() > 1 {
		if err := top.Group.TriggerRMIOnChildren(ctx, comm.EncodeInts(int(id)), comm.RenderRMITag); err != nil {
			return err
		}
	}
	s.mu.Lock()
	snap := layout.Snapshot{TileScale: s.tileScale, TileViewport: s.tileViewport, UpdateRate: s.dep.UpdateRate}
	prev := s.layout.Extent
	s.mu.Unlock()
	if up := top.Uplink(); up != nil {
		p, err := up.Receive(ctx, deploy.DriverRank, comm.LayoutSyncTag)
		if err != nil {
			return err
		}
		if err := snap.UnmarshalBinary(p); err != nil {
			return s.fatal(errors.E("bigrender: layout from driver", err))
		}
		if err := s.applyWindows(snap.Windows); err != nil {
			return s.fatal(err)
		}
	}
	if snap.TileScale <= 0 {
		return s.fatal(errors.E(errors.Integrity, fmt.Sprintf("bigrender: layout with tile scale %d", snap.TileScale)))
	}
	packed := layout.Packer{Tiled: s.Deployment().Tiled()}.Pack(layout.Capture(s.reg))
	snap.Windows = packed.Windows
	snap.Extent = packed.Extent
	if snap.Extent.Empty() {
		snap.Extent = prev
	} else if surface, _ := s.reg.SharedSurface(); surface != nil {
		surface.SetSize(snap.Extent.W*snap.TileScale, snap.Extent.H*snap.TileScale)
	}
	packed.Assign(s.reg)
	s.mu.Lock()
	s.layout = snap
	s.mu.Unlock()
	log.Debug.Printf("bigrender: root: window %d: packed %d windows into %v in %d sweeps", id, len(snap.Windows), snap.Extent, packed.Sweeps)

	if top.GroupSize() > 1 {
		p, err := snap.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := top.Group.Broadcast(ctx, p, 0); err != nil {
			return err
		}
	}
	if s.sender != nil {
		return s.sender.PreRender(ctx)
	}
	return nil
}

// applyWindows records the driver's window geometry in the local
// registry. The set of windows must match exactly.
func (s *Synchronizer) applyWindows(ws []layout.Placement) error {
	if got, want := len(ws), s.reg.Len(); got != want {
		return errors.E(errors.Integrity, fmt.Sprintf("bigrender: driver reports %d windows, root holds %d", got, want))
	}
	for _, w := range ws {
		if _, ok := s.reg.Get(w.ID); !ok {
			return errors.E(errors.Integrity, fmt.Sprintf("bigrender: driver reports unknown window %d", w.ID))
		}
		if err := s.reg.SetSize(w.ID, w.Rect.W, w.Rect.H); err != nil {
			return err
		}
		if err := s.reg.SetPosition(w.ID, w.Rect.X, w.Rect.Y); err != nil {
			return err
		}
	}
	return nil
}

// beginSatellite applies the packed layout broadcast by the root:
// the satellite's registry mirrors the root's windows, its shared
// surface is sized to the region it draws, and renderer viewports
// are placed in that region.
func (s *Synchronizer) beginSatellite(ctx context.Context) error {
	p, err := s.top.Group.Broadcast(ctx, nil, 0)
	if err != nil {
		return err
	}
	var snap layout.Snapshot
	if err := snap.UnmarshalBinary(p); err != nil {
		return s.fatal(errors.E("bigrender: layout from root", err))
	}
	if err := s.mirrorWindows(snap.Windows); err != nil {
		return s.fatal(err)
	}
	s.mu.Lock()
	s.layout = snap
	s.mu.Unlock()
	if snap.Extent.Empty() {
		return nil
	}
	scale := snap.TileScale
	if scale <= 0 {
		scale = 1
	}
	full := window.Size{W: snap.Extent.W * scale, H: snap.Extent.H * scale}
	packed := layout.Layout{Windows: snap.Windows, Extent: snap.Extent}
	surface, _ := s.reg.SharedSurface()
	if tile, ok := s.TileViewport(); ok {
		if surface != nil {
			size := layout.TileSize(full, s.dep.Tiles, s.dep.Mullions)
			surface.SetSize(size.W, size.H)
		}
		packed.AssignTile(s.reg, tile)
		return nil
	}
	if surface != nil {
		surface.SetSize(full.W, full.H)
	}
	packed.Assign(s.reg)
	return nil
}

// mirrorWindows makes the local registry hold exactly the windows of
// ws with their packed geometry, registering and unregistering
// windows as needed.
func (s *Synchronizer) mirrorWindows(ws []layout.Placement) error {
	keep := make(map[window.ID]bool, len(ws))
	for _, w := range ws {
		keep[w.ID] = true
		if _, ok := s.reg.Get(w.ID); !ok {
			if err := s.reg.Register(w.ID, nil); err != nil {
				return errors.E(errors.Integrity, fmt.Sprintf("bigrender: mirror window %d", w.ID), err)
			}
			if s.windowHook != nil {
				s.windowHook(s.reg, w.ID, true)
			}
		}
		if err := s.reg.SetSize(w.ID, w.Rect.W, w.Rect.H); err != nil {
			return errors.E(errors.Integrity, err)
		}
		if err := s.reg.SetPosition(w.ID, w.Rect.X, w.Rect.Y); err != nil {
			return errors.E(errors.Integrity, err)
		}
	}
	for _, id := range s.reg.IDs() {
		if keep[id] {
			continue
		}
		if err := s.reg.Unregister(id); err != nil {
			return errors.E(errors.Integrity, err)
		}
		if s.windowHook != nil {
			s.windowHook(s.reg, id, false)
		}
	}
	return nil
}

// EndRender completes the cycle begun by BeginRender. It returns once
// every contributor has finished the frame; on drivers the delivered
// image is then available from Image.
func (s *Synchronizer) EndRender(ctx context.Context) error {
	s.mu.Lock()
	if !s.inCycle {
		s.mu.Unlock()
		return errors.E(errors.Invalid, "bigrender: end of render without a render in progress")
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inCycle = false
		s.mu.Unlock()
	}()

	top := s.top
	var procTime time.Duration
	switch {
	case top.Role == deploy.Standalone:
	case top.Role == deploy.Driver && !top.Batch():
		if s.receiver == nil {
			break
		}
		frame, err := s.receiver.PostRender(ctx)
		if err != nil {
			return err
		}
		if err := top.Render.Barrier(ctx); err != nil {
			return err
		}
		procTime = seconds(frame.Metrics.ImageProcessingTime)
		s.mu.Lock()
		s.frame = frame
		s.mu.Unlock()
		log.Debug.Printf("bigrender: driver: frame %v transfer %v ratio %.3f lost %v",
			frame.Params, frame.TransferTime, frame.CompressionRatio(), frame.Lost)
	case s.sender != nil:
		// The sender synchronizes the group before delivering.
		if err := s.sender.PostRender(ctx); err != nil {
			return err
		}
		if err := top.Render.Barrier(ctx); err != nil {
			return err
		}
	case top.GroupSize() > 1:
		if err := top.Group.Barrier(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.renderTime = time.Since(s.begin) + procTime
	if s.sender != nil {
		s.renderTime = s.sender.RenderTime()
	}
	if top.Role == deploy.Driver && !top.Batch() {
		s.procTime = procTime
	}
	s.mu.Unlock()
	s.stats.Int("cycles").Add(1)
	s.stats.Timer("cycletime").Add(s.RenderTime())
	return nil
}

// Render runs a complete cycle of window id.
func (s *Synchronizer) Render(ctx context.Context, id window.ID) error {
	if err := s.BeginRender(ctx, id); err != nil {
		return err
	}
	return s.EndRender(ctx)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
