// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/rle"
	"github.com/grailbio/bigrender/stats"
)

// A Frame summarizes one completed exchange on the receiver.
type Frame struct {
	Params  Params
	Metrics Metrics
	// TransferTime is the time spent receiving and decoding the
	// payload; zero when no payload was sent.
	TransferTime time.Duration
	// Lost is set when the exchange failed and neutral values were
	// substituted.
	Lost bool
}

// CompressionRatio returns code words per decoded pixel for
// compressed frames, and 1 otherwise.
func (f Frame) CompressionRatio() float64 {
	if !f.Params.Compressed {
		return 1
	}
	return rle.Ratio(f.Params.BufferSize/rle.PixelSize, f.Params.Size.Pixels())
}

// Receiver is the driver side of the channel.
type Receiver struct {
	c     comm.Controller
	peer  int
	stats *stats.Map

	// Payloads are decoded into spare, which is swapped with image
	// only once complete, so a failed transfer never disturbs the
	// displayed image.
	image, spare *Image
	current      bool
	seq          uint32
}

// NewReceiver returns a receiver for frames sent by rank peer of c.
func NewReceiver(c comm.Controller, peer int, st *stats.Map) *Receiver {
	return &Receiver{c: c, peer: peer, stats: st}
}

// PreRender sends the options for the next frame. Display tells the
// sender whether to produce a displayable image at all.
func (r *Receiver) PreRender(ctx context.Context, opts Options, display bool) error {
	if opts.Level < 0 || opts.Level > rle.MaxLevel {
		return errors.E(errors.Invalid, fmt.Sprintf("delivery: compression level %d out of range", opts.Level))
	}
	r.current = false
	r.seq++
	if err := r.c.Send(ctx, stamp(r.seq, opts.marshal()), r.peer, comm.SquirtOptionsTag); err != nil {
		return r.lost(ctx, "send options", err)
	}
	if err := r.c.Send(ctx, stamp(r.seq, comm.EncodeInts(boolInt(display))), r.peer, comm.RemoteDisplayTag); err != nil {
		return r.lost(ctx, "send display flag", err)
	}
	return nil
}

// PostRender receives the frame. A lost frame is reported in the
// returned Frame; the previous image is left untouched, and the
// records of the frame that did arrive are consumed so that they
// cannot be mistaken for those of the next frame.
func (r *Receiver) PostRender(ctx context.Context) (Frame, error) {
	frame := Frame{Params: NeutralParams}
	p, err := receive(ctx, r.c, r.peer, comm.ImageParamsTag, r.seq)
	if err != nil {
		frame.Lost = true
		return frame, r.lost(ctx, "receive image parameters", err)
	}
	if err := frame.Params.unmarshal(p); err != nil {
		// Whether a payload follows is unknown; a stray one is
		// discarded by the next frame that receives a payload.
		frame.Params, frame.Lost = NeutralParams, true
		r.drain(ctx, comm.TimingMetricsTag)
		return frame, r.lost(ctx, "decode image parameters", err)
	}
	if frame.Params.RemoteDisplay {
		begin := time.Now()
		if err := r.receivePayload(ctx, frame.Params); err != nil {
			frame.Lost = true
			r.drain(ctx, comm.TimingMetricsTag)
			return frame, r.lost(ctx, "receive image payload", err)
		}
		frame.TransferTime = time.Since(begin)
	}
	p, err = receive(ctx, r.c, r.peer, comm.TimingMetricsTag, r.seq)
	if err == nil {
		err = frame.Metrics.unmarshal(p)
	}
	if err != nil {
		frame.Metrics, frame.Lost = Metrics{}, true
		return frame, r.lost(ctx, "receive timing metrics", err)
	}
	r.stats.Int("frames").Add(1)
	r.stats.Timer("transfertime").Add(frame.TransferTime)
	r.stats.Timer("processingtime").AddSeconds(frame.Metrics.ImageProcessingTime)
	return frame, nil
}

// drain consumes the current frame's record tagged tag.
func (r *Receiver) drain(ctx context.Context, tag comm.Tag) {
	if _, err := receive(ctx, r.c, r.peer, tag, r.seq); err != nil {
		log.Error.Printf("delivery: drain %s of lost frame %d: %v", tag, r.seq, err)
	}
}

func (r *Receiver) receivePayload(ctx context.Context, params Params) error {
	p, err := receive(ctx, r.c, r.peer, comm.ImagePayloadTag, r.seq)
	if err != nil {
		return err
	}
	if len(p) != params.BufferSize {
		return errors.E(errors.Integrity, fmt.Sprintf("delivery: payload of %d bytes, want %d", len(p), params.BufferSize))
	}
	img := r.spare
	if !img.fits(params.Size, params.Components) {
		img = NewImage(params.Size, params.Components)
	}
	if params.Compressed {
		n, err := rle.Decode(img.Pix, p)
		if err != nil {
			return err
		}
		if n != params.Size.Pixels() {
			return errors.E(errors.Integrity, fmt.Sprintf("delivery: decoded %d pixels, want %d", n, params.Size.Pixels()))
		}
	} else {
		if len(p) != len(img.Pix) {
			return errors.E(errors.Integrity, fmt.Sprintf("delivery: raw payload of %d bytes for %v image", len(p), params.Size))
		}
		copy(img.Pix, p)
	}
	r.image, r.spare, r.current = img, r.image, true
	r.stats.Int("payloadbytes").Add(int64(len(p)))
	return nil
}

// Image returns the most recently received image, and whether it was
// received in the current frame.
func (r *Receiver) Image() (*Image, bool) { return r.image, r.current }

func (r *Receiver) lost(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Error.Printf("delivery: %s: %v: frame lost", what, err)
	r.stats.Int("lostframes").Add(1)
	return nil
}
