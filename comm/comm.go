// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package comm implements the controller abstraction over which
// bigrender processes exchange layout, image and reduction messages.
//
// A Controller connects a fixed set of ranks. It provides ordered,
// reliable point-to-point messages multiplexed by tag; collective
// broadcast, reduce and barrier built on top of them; and one-way
// remote procedure triggers (RMIs) dispatched by a serving loop.
//
// Two transports are provided: Fabric, which wires ranks together
// inside a single process, and Remote, which carries messages over
// RPC calls to mailbox services (see package cluster).
package comm

import (
	"context"
	"fmt"
	"math"
)

// AnySource may be passed to Receive to accept a message from any rank.
const AnySource = -1

// A Tag multiplexes unrelated message types over a shared channel.
// Tag values are stable for the lifetime of a session.
type Tag int

// Wire tags used by bigrender. Negative tags are reserved for the
// controller's own collectives.
const (
	LayoutSyncTag Tag = 0x2200 + iota
	ZBufferQueryTag
	TileParametersTag
	ImageParamsTag
	ImagePayloadTag
	TimingMetricsTag
	SquirtOptionsTag
	RemoteDisplayTag
	ReduceTag
)

// RMI tags.
const (
	RenderRMITag Tag = 0x2300 + iota
	WindowRMITag
	ZBufferRMITag
	ReduceRMITag
	BreakRMITag
)

const (
	broadcastTag Tag = -1 - iota
	reduceTag
	barrierTag
	rmiTag
)

func (t Tag) String() string {
	switch t {
	case LayoutSyncTag:
		return "layout-sync"
	case ZBufferQueryTag:
		return "zbuffer-query"
	case TileParametersTag:
		return "tile-parameters"
	case ImageParamsTag:
		return "image-params"
	case ImagePayloadTag:
		return "image-payload"
	case TimingMetricsTag:
		return "timing-metrics"
	case SquirtOptionsTag:
		return "squirt-options"
	case RemoteDisplayTag:
		return "remote-display"
	case ReduceTag:
		return "reduce"
	case RenderRMITag:
		return "rmi:render"
	case WindowRMITag:
		return "rmi:window"
	case ZBufferRMITag:
		return "rmi:zbuffer"
	case ReduceRMITag:
		return "rmi:reduce"
	case BreakRMITag:
		return "rmi:break"
	case broadcastTag:
		return "broadcast"
	case reduceTag:
		return "collective-reduce"
	case barrierTag:
		return "barrier"
	case rmiTag:
		return "rmi"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Op is a reduction operator.
type Op int

const (
	// Min computes the minimum of its operands.
	Min Op = iota
	// Max computes the maximum of its operands.
	Max
	// Sum computes the sum of its operands.
	Sum
)

// Apply folds x and y with op.
func (op Op) Apply(x, y float64) float64 {
	switch op {
	case Min:
		return math.Min(x, y)
	case Max:
		return math.Max(x, y)
	case Sum:
		return x + y
	default:
		panic(fmt.Sprintf("comm: invalid op %d", op))
	}
}

// Fold folds the vector y into x component-wise.
func (op Op) Fold(x, y []float64) {
	for i := range x {
		x[i] = op.Apply(x[i], y[i])
	}
}

func (op Op) String() string {
	switch op {
	case Min:
		return "min"
	case Max:
		return "max"
	case Sum:
		return "sum"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// An RMIFunc handles a remote procedure trigger. Remote is the
// rank of the triggering process.
type RMIFunc func(ctx context.Context, payload []byte, remote int) error

// Controller is the set of communication primitives used by
// bigrender. All blocking operations honor ctx.
type Controller interface {
	// NumRanks returns the number of ranks connected by the controller.
	NumRanks() int
	// Rank returns the rank of the local process.
	Rank() int

	// Send sends p to rank dest with the given tag.
	Send(ctx context.Context, p []byte, dest int, tag Tag) error
	// Receive receives the next message with the given tag from src,
	// or from any rank if src is AnySource.
	Receive(ctx context.Context, src int, tag Tag) ([]byte, error)

	// Broadcast distributes the root's p to every rank. Every rank
	// returns the root's buffer.
	Broadcast(ctx context.Context, p []byte, root int) ([]byte, error)
	// Reduce folds in across all ranks with op. The result is valid
	// only on root; other ranks get their input back.
	Reduce(ctx context.Context, in []float64, op Op, root int) ([]float64, error)
	// Barrier returns once every rank has entered it.
	Barrier(ctx context.Context) error

	// AddRMICallback registers fn to handle RMIs with tag.
	AddRMICallback(tag Tag, fn RMIFunc)
	// TriggerRMI triggers the RMI tag on rank dest.
	TriggerRMI(ctx context.Context, payload []byte, dest int, tag Tag) error
	// TriggerRMIOnChildren triggers the RMI tag on every other rank.
	TriggerRMIOnChildren(ctx context.Context, payload []byte, tag Tag) error
	// ProcessRMIs dispatches incoming RMIs until a BreakRMITag
	// trigger is received, a handler fails, or ctx is done.
	ProcessRMIs(ctx context.Context) error
}
