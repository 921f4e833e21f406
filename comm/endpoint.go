// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// A Transport moves messages between the ranks of a channel. Messages
// from one sender to one receiver must be delivered in order.
type Transport interface {
	NumRanks() int
	Rank() int
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context, src int, tag Tag) (Message, error)
}

// An Endpoint implements Controller on top of a Transport.
// Collectives are rooted trees of depth one over point-to-point
// messages on reserved tags.
type Endpoint struct {
	transport Transport

	mu   sync.Mutex
	rmis map[Tag]RMIFunc
}

var _ Controller = (*Endpoint)(nil)

// NewEndpoint returns a controller that communicates over t.
func NewEndpoint(t Transport) *Endpoint {
	return &Endpoint{transport: t, rmis: make(map[Tag]RMIFunc)}
}

// NumRanks implements Controller.
func (e *Endpoint) NumRanks() int { return e.transport.NumRanks() }

// Rank implements Controller.
func (e *Endpoint) Rank() int { return e.transport.Rank() }

func (e *Endpoint) check(rank int) error {
	if rank < 0 || rank >= e.NumRanks() {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: rank %d out of range [0, %d)", rank, e.NumRanks()))
	}
	return nil
}

// Send implements Controller.
func (e *Endpoint) Send(ctx context.Context, p []byte, dest int, tag Tag) error {
	if err := e.check(dest); err != nil {
		return err
	}
	return e.transport.Send(ctx, Message{Src: e.Rank(), Dest: dest, Tag: tag, Payload: p})
}

// Receive implements Controller.
func (e *Endpoint) Receive(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if src != AnySource {
		if err := e.check(src); err != nil {
			return nil, err
		}
	}
	msg, err := e.transport.Receive(ctx, src, tag)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// Broadcast implements Controller.
func (e *Endpoint) Broadcast(ctx context.Context, p []byte, root int) ([]byte, error) {
	if err := e.check(root); err != nil {
		return nil, err
	}
	if e.Rank() != root {
		return e.Receive(ctx, root, broadcastTag)
	}
	for r := 0; r < e.NumRanks(); r++ {
		if r == root {
			continue
		}
		if err := e.Send(ctx, p, r, broadcastTag); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Reduce implements Controller. The root folds contributions in rank
// order so that results are deterministic.
func (e *Endpoint) Reduce(ctx context.Context, in []float64, op Op, root int) ([]float64, error) {
	if err := e.check(root); err != nil {
		return nil, err
	}
	if e.Rank() != root {
		return in, e.Send(ctx, EncodeFloat64s(in), root, reduceTag)
	}
	out := append([]float64(nil), in...)
	for r := 0; r < e.NumRanks(); r++ {
		if r == root {
			continue
		}
		p, err := e.Receive(ctx, r, reduceTag)
		if err != nil {
			return nil, err
		}
		v, err := DecodeFloat64s(p)
		if err != nil {
			return nil, err
		}
		if len(v) != len(out) {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("comm: rank %d reduced %d values, want %d", r, len(v), len(out)))
		}
		op.Fold(out, v)
	}
	return out, nil
}

// Barrier implements Controller.
func (e *Endpoint) Barrier(ctx context.Context) error {
	if e.NumRanks() < 2 {
		return nil
	}
	if e.Rank() != 0 {
		if err := e.Send(ctx, nil, 0, barrierTag); err != nil {
			return err
		}
		_, err := e.Receive(ctx, 0, barrierTag)
		return err
	}
	for r := 1; r < e.NumRanks(); r++ {
		if _, err := e.Receive(ctx, r, barrierTag); err != nil {
			return err
		}
	}
	for r := 1; r < e.NumRanks(); r++ {
		if err := e.Send(ctx, nil, r, barrierTag); err != nil {
			return err
		}
	}
	return nil
}

// AddRMICallback implements Controller. Registering two callbacks
// for the same tag is a programming error.
func (e *Endpoint) AddRMICallback(tag Tag, fn RMIFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rmis[tag]; ok {
		log.Panicf("comm: rmi %s already registered", tag)
	}
	e.rmis[tag] = fn
}

// TriggerRMI implements Controller.
func (e *Endpoint) TriggerRMI(ctx context.Context, payload []byte, dest int, tag Tag) error {
	return e.Send(ctx, encodeRMI(tag, payload), dest, rmiTag)
}

// TriggerRMIOnChildren implements Controller.
func (e *Endpoint) TriggerRMIOnChildren(ctx context.Context, payload []byte, tag Tag) error {
	for r := 0; r < e.NumRanks(); r++ {
		if r == e.Rank() {
			continue
		}
		if err := e.TriggerRMI(ctx, payload, r, tag); err != nil {
			return err
		}
	}
	return nil
}

// ProcessRMIs implements Controller.
func (e *Endpoint) ProcessRMIs(ctx context.Context) error {
	for {
		msg, err := e.transport.Receive(ctx, AnySource, rmiTag)
		if err != nil {
			return err
		}
		tag, payload, err := decodeRMI(msg.Payload)
		if err != nil {
			return err
		}
		if tag == BreakRMITag {
			return nil
		}
		e.mu.Lock()
		fn := e.rmis[tag]
		e.mu.Unlock()
		if fn == nil {
			log.Error.Printf("comm: rank %d: no handler for %s from rank %d", e.Rank(), tag, msg.Src)
			continue
		}
		if err := fn(ctx, payload, msg.Src); err != nil {
			return err
		}
	}
}
