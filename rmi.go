// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrender

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/deploy"
	"github.com/grailbio/bigrender/reduce"
	"github.com/grailbio/bigrender/window"
)

const (
	unregisterWindow = iota
	registerWindow
)

const (
	reduceScalar = iota
	reduceBounds
)

// serving returns the controller on which the process receives
// remote triggers: the driver channel on group roots, the group on
// satellites.
func (s *Synchronizer) serving() comm.Controller {
	switch {
	case s.top.Role == deploy.Standalone || s.top.Role == deploy.Driver:
		return nil
	case s.top.GroupRoot():
		return s.top.Uplink()
	default:
		return s.top.Group
	}
}

func (s *Synchronizer) registerRMIs() {
	c := s.serving()
	if c == nil {
		return
	}
	c.AddRMICallback(comm.ReduceRMITag, s.handleReduce)
	if s.top.Role != deploy.RenderCompute {
		return
	}
	c.AddRMICallback(comm.RenderRMITag, s.handleRender)
	if s.top.GroupRoot() {
		c.AddRMICallback(comm.WindowRMITag, s.handleWindow)
		c.AddRMICallback(comm.ZBufferRMITag, s.handleZBuffer)
	}
}

// Serve dispatches remote triggers until the driver (or, on
// satellites, the group root) shuts the session down. Group roots
// pass the shutdown on to their group before returning.
func (s *Synchronizer) Serve(ctx context.Context) error {
	c := s.serving()
	if c == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("bigrender: %s processes have no remote triggers to serve", s.top.Role))
	}
	log.Debug.Printf("bigrender: %s: serving rank %d", s.top.Role, c.Rank())
	if err := c.ProcessRMIs(ctx); err != nil {
		return err
	}
	if s.top.GroupRoot() && s.top.GroupSize() > 1 {
		return s.top.Group.TriggerRMIOnChildren(ctx, nil, comm.BreakRMITag)
	}
	return nil
}

func (s *Synchronizer) handleRender(ctx context.Context, p []byte, remote int) error {
	v, err := comm.DecodeInts(p, 1)
	if err != nil {
		return errors.E(errors.Fatal, "bigrender: render trigger", err)
	}
	return s.Render(ctx, window.ID(v[0]))
}

func (s *Synchronizer) handleWindow(ctx context.Context, p []byte, remote int) error {
	v, err := comm.DecodeInts(p, 2)
	if err != nil {
		return errors.E(errors.Fatal, "bigrender: window trigger", err)
	}
	id := window.ID(v[1])
	registered := v[0] == registerWindow
	if registered {
		err = s.reg.Register(id, nil)
	} else {
		err = s.reg.Unregister(id)
	}
	if err != nil {
		// The next layout reports the mismatch.
		log.Error.Printf("bigrender: root: window %d: %v", id, err)
		return nil
	}
	if s.windowHook != nil {
		s.windowHook(s.reg, id, registered)
	}
	return nil
}

func (s *Synchronizer) handleZBuffer(ctx context.Context, p []byte, remote int) error {
	v, err := comm.DecodeInts(p, 2)
	if err != nil {
		return errors.E(errors.Fatal, "bigrender: depth query", err)
	}
	z := 1.0
	if s.depth != nil {
		z = s.depth(v[0], v[1])
	} else {
		log.Error.Printf("bigrender: root: depth query at (%d, %d) without a depth buffer", v[0], v[1])
	}
	return s.top.Uplink().Send(ctx, comm.EncodeFloat64s([]float64{z}), remote, comm.ZBufferQueryTag)
}

func (s *Synchronizer) handleReduce(ctx context.Context, p []byte, remote int) error {
	v, err := comm.DecodeInts(p, 2)
	if err != nil {
		return errors.E(errors.Fatal, "bigrender: reduce trigger", err)
	}
	if s.top.GroupRoot() && s.top.GroupSize() > 1 {
		if err := s.top.Group.TriggerRMIOnChildren(ctx, p, comm.ReduceRMITag); err != nil {
			return err
		}
	}
	op := comm.Op(v[1])
	switch v[0] {
	case reduceScalar:
		x := identity(op)
		if s.value != nil {
			x = s.value()
		}
		_, err = s.reduce.Reduce(ctx, x, op)
	case reduceBounds:
		b := reduce.EmptyBounds
		if s.bounds != nil {
			b = s.bounds()
		}
		_, err = s.reduce.SynchronizeBounds(ctx, b)
	default:
		err = errors.E(errors.Fatal, errors.Integrity, fmt.Sprintf("bigrender: unknown reduction %d", v[0]))
	}
	return err
}

func identity(op comm.Op) float64 {
	switch op {
	case comm.Min:
		return math.Inf(1)
	case comm.Max:
		return math.Inf(-1)
	}
	return 0
}

// trigger triggers an RMI on the roots attached to a driver, or on
// the group of a batch driver.
func (s *Synchronizer) trigger(ctx context.Context, p []byte, tag comm.Tag, data bool) error {
	top := s.top
	if top.Role != deploy.Driver {
		return nil
	}
	if top.Batch() {
		return top.Group.TriggerRMIOnChildren(ctx, p, tag)
	}
	if top.Render != nil {
		if err := top.Render.TriggerRMI(ctx, p, deploy.RootRank, tag); err != nil {
			return err
		}
	}
	if data && top.Data != nil && top.Data != top.Render {
		return top.Data.TriggerRMI(ctx, p, deploy.RootRank, tag)
	}
	return nil
}

// Reduce folds v with op across every process of the session. On
// drivers it first triggers the reduction on the servers, which
// contribute the values of their Value functions.
func (s *Synchronizer) Reduce(ctx context.Context, v float64, op comm.Op) (float64, error) {
	if err := s.trigger(ctx, comm.EncodeInts(reduceScalar, int(op)), comm.ReduceRMITag, true); err != nil {
		return v, err
	}
	return s.reduce.Reduce(ctx, v, op)
}

// SynchronizeBounds returns the union of b and the bounds of every
// other process of the session.
func (s *Synchronizer) SynchronizeBounds(ctx context.Context, b reduce.Bounds) (reduce.Bounds, error) {
	if err := s.trigger(ctx, comm.EncodeInts(reduceBounds, int(comm.Min)), comm.ReduceRMITag, true); err != nil {
		return b, err
	}
	return s.reduce.SynchronizeBounds(ctx, b)
}

// ZBufferValue returns the depth of pixel (x, y) of the last frame.
// On client drivers the render root is queried.
func (s *Synchronizer) ZBufferValue(ctx context.Context, x, y int) (float64, error) {
	render := s.top.Render
	if s.top.Role != deploy.Driver || render == nil {
		if s.depth == nil {
			return 0, errors.E(errors.NotSupported, "bigrender: no depth buffer")
		}
		return s.depth(x, y), nil
	}
	if err := render.TriggerRMI(ctx, comm.EncodeInts(x, y), deploy.RootRank, comm.ZBufferRMITag); err != nil {
		return 0, err
	}
	p, err := render.Receive(ctx, deploy.RootRank, comm.ZBufferQueryTag)
	if err != nil {
		return 0, err
	}
	z, err := comm.DecodeFloat64s(p)
	if err != nil {
		return 0, err
	}
	if len(z) != 1 {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("bigrender: depth reply of %d values", len(z)))
	}
	return z[0], nil
}

// RegisterWindow registers logical window id drawing to surface s.
// On client drivers the render root registers the window too.
func (s *Synchronizer) RegisterWindow(ctx context.Context, id window.ID, surface window.Surface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.Register(id, surface); err != nil {
		return err
	}
	if s.top.Role != deploy.Driver || s.top.Render == nil {
		return nil
	}
	err := s.top.Render.TriggerRMI(ctx, comm.EncodeInts(registerWindow, int(id)), deploy.RootRank, comm.WindowRMITag)
	if err != nil {
		if uerr := s.reg.Unregister(id); uerr != nil {
			log.Error.Printf("bigrender: window %d: %v", id, uerr)
		}
	}
	return err
}

// UnregisterWindow removes logical window id, on the render root
// too if this is a client driver.
func (s *Synchronizer) UnregisterWindow(ctx context.Context, id window.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.Unregister(id); err != nil {
		return err
	}
	if s.top.Role != deploy.Driver || s.top.Render == nil {
		return nil
	}
	return s.top.Render.TriggerRMI(ctx, comm.EncodeInts(unregisterWindow, int(id)), deploy.RootRank, comm.WindowRMITag)
}

// Close ends the session. On drivers it shuts down the Serve loops
// of every server. Close releases the registry's surfaces.
func (s *Synchronizer) Close(ctx context.Context) error {
	err := s.trigger(ctx, nil, comm.BreakRMITag, true)
	if cerr := s.reg.Close(); err == nil {
		err = cerr
	}
	return err
}

func encodeTiles(dep deploy.Deployment) []byte {
	return comm.EncodeInts(dep.Tiles[0], dep.Tiles[1], dep.Mullions[0], dep.Mullions[1])
}

func decodeTiles(dep deploy.Deployment, p []byte) (deploy.Deployment, error) {
	v, err := comm.DecodeInts(p, 4)
	if err != nil {
		return dep, err
	}
	dep.Tiles = [2]int{v[0], v[1]}
	dep.Mullions = [2]int{v[2], v[3]}
	return dep, dep.Validate()
}
