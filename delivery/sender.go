// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package delivery implements the per-frame image channel between a
// rendering process (the sender) and the driver (the receiver).
//
// Before rendering, the receiver sends the compression options and
// whether it wants a displayable image. After rendering, the sender
// transmits an image parameters record, the pixel payload (omitted
// when no remote display is requested, run-length encoded when
// compression is enabled and the image is RGBA), and a timing record.
//
// Transfer failures never propagate past this package: a failed
// exchange degrades to a lost frame with neutral parameters, and the
// receiver keeps displaying its previous image.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/rle"
	"github.com/grailbio/bigrender/stats"
)

// Sender is the rendering side of the channel.
type Sender struct {
	uplink comm.Controller
	peer   int
	group  comm.Controller
	fb     Framebuffer
	stats  *stats.Map

	opts       Options
	display    bool
	start      time.Time
	renderTime time.Duration
	buf        []byte
	seq        uint32
}

// NewSender returns a sender that delivers frames read from fb to
// rank peer of uplink. If group is non-nil, the post-render barrier
// also synchronizes the sender's group.
func NewSender(uplink comm.Controller, peer int, group comm.Controller, fb Framebuffer, st *stats.Map) *Sender {
	return &Sender{uplink: uplink, peer: peer, group: group, fb: fb, stats: st}
}

// PreRender receives the driver's options for the next frame. If
// they cannot be received the frame is rendered without remote
// display or compression.
func (s *Sender) PreRender(ctx context.Context) error {
	s.start = time.Now()
	s.seq++
	s.opts, s.display = Options{}, false
	p, err := receive(ctx, s.uplink, s.peer, comm.SquirtOptionsTag, s.seq)
	if err != nil {
		return s.lost(ctx, "receive options", err)
	}
	var opts Options
	optsErr := opts.unmarshal(p)
	// The display flag is consumed even when the options are invalid.
	p, err = receive(ctx, s.uplink, s.peer, comm.RemoteDisplayTag, s.seq)
	if err != nil {
		return s.lost(ctx, "receive display flag", err)
	}
	v, err := comm.DecodeInts(p, 1)
	if err != nil {
		return s.lost(ctx, "decode display flag", err)
	}
	if optsErr != nil {
		return s.lost(ctx, "decode options", optsErr)
	}
	s.opts, s.display = opts, v[0] != 0
	return nil
}

// PostRender waits for the group to finish rendering and delivers
// the frame to the driver.
func (s *Sender) PostRender(ctx context.Context) error {
	if s.group != nil && s.group.NumRanks() > 1 {
		if err := s.group.Barrier(ctx); err != nil {
			return s.lost(ctx, "render barrier", err)
		}
	}
	s.renderTime = time.Since(s.start)
	s.stats.Timer("rendertime").Add(s.renderTime)

	params := NeutralParams
	var payload []byte
	begin := time.Now()
	if s.display {
		img, err := s.fb.ReadPixels(ctx)
		if err != nil {
			log.Error.Printf("delivery: read pixels: %v", err)
		} else {
			params, payload = s.encode(img)
		}
	}
	metrics := Metrics{ImageProcessingTime: time.Since(begin).Seconds()}

	if err := s.uplink.Send(ctx, stamp(s.seq, params.marshal()), s.peer, comm.ImageParamsTag); err != nil {
		return s.lost(ctx, "send image parameters", err)
	}
	if params.RemoteDisplay {
		if err := s.uplink.Send(ctx, stamp(s.seq, payload), s.peer, comm.ImagePayloadTag); err != nil {
			return s.lost(ctx, "send image payload", err)
		}
	}
	if err := s.uplink.Send(ctx, stamp(s.seq, metrics.marshal()), s.peer, comm.TimingMetricsTag); err != nil {
		return s.lost(ctx, "send timing metrics", err)
	}
	s.stats.Int("frames").Add(1)
	s.stats.Timer("processingtime").AddSeconds(metrics.ImageProcessingTime)
	return nil
}

// encode chooses the wire representation of img. Compression is
// used only when enabled and the image is RGBA.
func (s *Sender) encode(img *Image) (Params, []byte) {
	params := Params{
		RemoteDisplay: true,
		Components:    img.Components,
		Size:          img.Size,
	}
	payload := img.Pix
	if s.opts.Enabled && img.Components == 4 {
		var err error
		s.buf, err = rle.Encode(s.buf[:0], img.Pix, s.opts.Level)
		if err != nil {
			log.Error.Printf("delivery: compress %v image: %v; sending uncompressed", img.Size, err)
		} else {
			params.Compressed = true
			payload = s.buf
			s.stats.Int("compressedframes").Add(1)
		}
	}
	params.BufferSize = len(payload)
	s.stats.Int("rawbytes").Add(int64(len(img.Pix)))
	s.stats.Int("payloadbytes").Add(int64(len(payload)))
	return params, payload
}

// RenderTime returns the time from the last PreRender until every
// process of the group finished rendering.
func (s *Sender) RenderTime() time.Duration { return s.renderTime }

// Options returns the options in effect for the current frame and
// whether the driver requested a displayable image.
func (s *Sender) Options() (Options, bool) { return s.opts, s.display }

func (s *Sender) lost(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Error.Printf("delivery: %s: %v: frame lost", what, err)
	s.stats.Int("lostframes").Add(1)
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("display=%v compressed=%v components=%d size=%v bytes=%d",
		p.RemoteDisplay, p.Compressed, p.Components, p.Size, p.BufferSize)
}
