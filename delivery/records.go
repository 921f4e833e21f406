// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package delivery

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/rle"
	"github.com/grailbio/bigrender/window"
)

// Options is the squirt options record sent by the driver before
// every render.
type Options struct {
	// Enabled allows the sender to compress.
	Enabled bool
	// Level is the squirt compression level, 0-5.
	Level int
}

func (o Options) marshal() []byte {
	return comm.EncodeInts(boolInt(o.Enabled), o.Level)
}

func (o *Options) unmarshal(p []byte) error {
	v, err := comm.DecodeInts(p, 2)
	if err != nil {
		return err
	}
	if v[1] < 0 || v[1] > rle.MaxLevel {
		return errors.E(errors.Invalid, fmt.Sprintf("delivery: compression level %d out of range", v[1]))
	}
	o.Enabled, o.Level = v[0] != 0, v[1]
	return nil
}

// Params describes the frame that follows it on the wire.
type Params struct {
	// RemoteDisplay is set when a pixel payload follows.
	RemoteDisplay bool
	// Compressed is set when the payload is run-length encoded.
	Compressed bool
	// Components is the number of bytes per pixel.
	Components int
	// BufferSize is the payload length in bytes.
	BufferSize int
	// Size is the image size; it determines the decoded pixel count.
	Size window.Size
}

// NeutralParams describe a frame with no remote display, used when
// the real parameters are lost.
var NeutralParams = Params{Components: 4}

func (p Params) marshal() []byte {
	return comm.EncodeInts(boolInt(p.RemoteDisplay), boolInt(p.Compressed), p.Components, p.BufferSize, p.Size.W, p.Size.H)
}

func (p *Params) unmarshal(b []byte) error {
	v, err := comm.DecodeInts(b, 6)
	if err != nil {
		return err
	}
	q := Params{
		RemoteDisplay: v[0] != 0,
		Compressed:    v[1] != 0,
		Components:    v[2],
		BufferSize:    v[3],
		Size:          window.Size{W: v[4], H: v[5]},
	}
	if q.RemoteDisplay {
		if q.Components <= 0 || q.BufferSize < 0 || q.Size.W < 0 || q.Size.H < 0 {
			return errors.E(errors.Integrity, fmt.Sprintf("delivery: invalid image parameters %+v", q))
		}
		if q.Compressed && q.Components != 4 {
			return errors.E(errors.Integrity, fmt.Sprintf("delivery: compressed image with %d components", q.Components))
		}
	}
	*p = q
	return nil
}

// Metrics is the timing record sent after every frame.
type Metrics struct {
	// ImageProcessingTime is the time in seconds the sender spent
	// reading back and encoding the image.
	ImageProcessingTime float64
}

func (m Metrics) marshal() []byte {
	return comm.EncodeFloat64s([]float64{m.ImageProcessingTime})
}

func (m *Metrics) unmarshal(p []byte) error {
	v, err := comm.DecodeFloat64s(p)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return errors.E(errors.Integrity, fmt.Sprintf("delivery: timing record of %d values", len(v)))
	}
	m.ImageProcessingTime = v[0]
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Every record is stamped with the number of the frame it belongs
// to. Both ends count frames from 1, advancing at PreRender.
const stampSize = 4

func stamp(seq uint32, p []byte) []byte {
	q := make([]byte, stampSize+len(p))
	binary.LittleEndian.PutUint32(q, seq)
	copy(q[stampSize:], p)
	return q
}

// receive returns the body of the next record tagged tag that belongs
// to frame seq. Records of earlier frames, left over when those
// frames were lost, are discarded.
func receive(ctx context.Context, c comm.Controller, peer int, tag comm.Tag, seq uint32) ([]byte, error) {
	for {
		p, err := c.Receive(ctx, peer, tag)
		if err != nil {
			return nil, err
		}
		if len(p) < stampSize {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("delivery: %s record of %d bytes", tag, len(p)))
		}
		got := binary.LittleEndian.Uint32(p)
		switch {
		case got == seq:
			return p[stampSize:], nil
		case got < seq:
			log.Debug.Printf("delivery: discarding %s record of lost frame %d", tag, got)
		default:
			return nil, errors.E(errors.Integrity, fmt.Sprintf("delivery: %s record of frame %d during frame %d", tag, got, seq))
		}
	}
}
