// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package reduce implements value reduction across every process of
// a bigrender session.
//
// The three fabrics of a deployment (the intra-group collective, the
// driver's render connection and the driver's data connection) have
// no direct path between groups, so reductions take two levels: each
// group reduces to its root, the driver folds the roots' values and
// sends the result back, and each root broadcasts it to its group.
// Every process must call the same reduction concurrently.
package reduce

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/deploy"
)

// Service reduces values over a topology.
type Service struct {
	top deploy.Topology
}

// New returns a reduction service over top.
func New(top deploy.Topology) *Service {
	return &Service{top: top}
}

// Reduce folds v with op across every process and returns the
// global value. It returns v unchanged on standalone processes.
func (s *Service) Reduce(ctx context.Context, v float64, op comm.Op) (float64, error) {
	out, err := s.ReduceVector(ctx, []float64{v}, op)
	if err != nil {
		return v, err
	}
	return out[0], nil
}

// ReduceInt is Reduce for integer values.
func (s *Service) ReduceInt(ctx context.Context, v int, op comm.Op) (int, error) {
	out, err := s.Reduce(ctx, float64(v), op)
	return int(out), err
}

// ReduceVector folds v component-wise with op across every process.
// All processes must pass vectors of the same length.
func (s *Service) ReduceVector(ctx context.Context, v []float64, op comm.Op) ([]float64, error) {
	top := s.top
	if top.Role == deploy.Standalone {
		return v, nil
	}
	if top.GroupSize() > 1 {
		var err error
		if v, err = top.Group.Reduce(ctx, v, op, 0); err != nil {
			return nil, errors.E("reduce: group reduce", err)
		}
	}
	if top.GroupRoot() {
		var err error
		switch top.Role {
		case deploy.Driver:
			v, err = s.fanIn(ctx, v, op)
		case deploy.RenderCompute, deploy.DataHolder:
			if up := top.Uplink(); up != nil {
				v, err = exchange(ctx, up, v)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if top.GroupSize() > 1 {
		var p []byte
		if top.GroupRoot() {
			p = comm.EncodeFloat64s(v)
		}
		p, err := top.Group.Broadcast(ctx, p, 0)
		if err != nil {
			return nil, errors.E("reduce: group broadcast", err)
		}
		if v, err = comm.DecodeFloat64s(p); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// fanIn gathers the reduced value of each attached group root, folds
// them into v, and returns the global value to every root.
func (s *Service) fanIn(ctx context.Context, v []float64, op comm.Op) ([]float64, error) {
	var roots []comm.Controller
	if s.top.Render != nil {
		roots = append(roots, s.top.Render)
	}
	if s.top.DistinctData() {
		roots = append(roots, s.top.Data)
	}
	out := append([]float64(nil), v...)
	for _, c := range roots {
		p, err := c.Receive(ctx, deploy.RootRank, comm.ReduceTag)
		if err != nil {
			return nil, errors.E("reduce: receive from root", err)
		}
		w, err := comm.DecodeFloat64s(p)
		if err != nil {
			return nil, err
		}
		if len(w) != len(out) {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("reduce: root reduced %d values, want %d", len(w), len(out)))
		}
		op.Fold(out, w)
	}
	p := comm.EncodeFloat64s(out)
	for _, c := range roots {
		if err := c.Send(ctx, p, deploy.RootRank, comm.ReduceTag); err != nil {
			return nil, errors.E("reduce: send to root", err)
		}
	}
	return out, nil
}

// exchange sends a root's group value to the driver and returns the
// global value.
func exchange(ctx context.Context, up comm.Controller, v []float64) ([]float64, error) {
	if err := up.Send(ctx, comm.EncodeFloat64s(v), deploy.DriverRank, comm.ReduceTag); err != nil {
		return nil, errors.E("reduce: send to driver", err)
	}
	p, err := up.Receive(ctx, deploy.DriverRank, comm.ReduceTag)
	if err != nil {
		return nil, errors.E("reduce: receive from driver", err)
	}
	w, err := comm.DecodeFloat64s(p)
	if err != nil {
		return nil, err
	}
	if len(w) != len(v) {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("reduce: driver returned %d values, want %d", len(w), len(v)))
	}
	return w, nil
}

// Bounds is an axis-aligned box {xmin, xmax, ymin, ymax, zmin, zmax}.
// A box whose minimum exceeds its maximum along any axis is empty.
type Bounds [6]float64

// EmptyBounds is the identity of Union.
var EmptyBounds = Bounds{
	math.Inf(1), math.Inf(-1),
	math.Inf(1), math.Inf(-1),
	math.Inf(1), math.Inf(-1),
}

// Empty tells whether b contains no points.
func (b Bounds) Empty() bool {
	return b[0] > b[1] || b[2] > b[3] || b[4] > b[5]
}

// Union returns the smallest box containing b and c.
func (b Bounds) Union(c Bounds) Bounds {
	switch {
	case b.Empty():
		return c
	case c.Empty():
		return b
	}
	return Bounds{
		math.Min(b[0], c[0]), math.Max(b[1], c[1]),
		math.Min(b[2], c[2]), math.Max(b[3], c[3]),
		math.Min(b[4], c[4]), math.Max(b[5], c[5]),
	}
}

// SynchronizeBounds returns the union of the boxes of every process.
// Empty boxes contribute nothing.
func (s *Service) SynchronizeBounds(ctx context.Context, b Bounds) (Bounds, error) {
	local := b
	if local.Empty() {
		local = EmptyBounds
	}
	lo, err := s.ReduceVector(ctx, []float64{local[0], local[2], local[4]}, comm.Min)
	if err != nil {
		return b, err
	}
	hi, err := s.ReduceVector(ctx, []float64{local[1], local[3], local[5]}, comm.Max)
	if err != nil {
		return b, err
	}
	global := Bounds{lo[0], hi[0], lo[1], hi[1], lo[2], hi[2]}
	return b.Union(global), nil
}
