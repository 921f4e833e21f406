// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package delivery

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/stats"
	"github.com/grailbio/bigrender/window"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type testFramebuffer struct{ img *Image }

func (f *testFramebuffer) ReadPixels(ctx context.Context) (*Image, error) {
	return f.img, nil
}

// stripes returns an image of horizontal stripes, which compresses
// to one code word per row.
func stripes(size window.Size, components int) *Image {
	img := NewImage(size, components)
	for y := 0; y < size.H; y++ {
		for x := 0; x < size.W; x++ {
			off := (y*size.W + x) * components
			for c := 0; c < components; c++ {
				img.Pix[off+c] = byte(y*10 + c)
			}
		}
	}
	return img
}

type pair struct {
	sender   *Sender
	receiver *Receiver
	rstats   *stats.Map
	sstats   *stats.Map
}

func newPair(img *Image) pair {
	f := comm.NewFabric(2)
	p := pair{rstats: stats.NewMap(), sstats: stats.NewMap()}
	p.receiver = NewReceiver(f[0], 1, p.rstats)
	p.sender = NewSender(f[1], 0, nil, &testFramebuffer{img}, p.sstats)
	return p
}

// frame runs one exchange. The sender runs in its own goroutine.
func (p pair) frame(t *testing.T, opts Options, display bool) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		if err := p.sender.PreRender(ctx); err != nil {
			errc <- err
			return
		}
		errc <- p.sender.PostRender(ctx)
	}()
	assert.NoError(t, p.receiver.PreRender(ctx, opts, display))
	frame, err := p.receiver.PostRender(ctx)
	assert.NoError(t, err)
	assert.NoError(t, <-errc)
	return frame
}

func opaque(p []byte) []byte {
	q := append([]byte(nil), p...)
	for i := 3; i < len(q); i += 4 {
		q[i] = 0xff
	}
	return q
}

func TestUncompressed(t *testing.T) {
	src := stripes(window.Size{W: 8, H: 4}, 4)
	p := newPair(src)
	frame := p.frame(t, Options{}, true)
	expect.EQ(t, frame.Params, Params{
		RemoteDisplay: true,
		Components:    4,
		BufferSize:    8 * 4 * 4,
		Size:          window.Size{W: 8, H: 4},
	})
	img, current := p.receiver.Image()
	if !current {
		t.Error("image not current")
	}
	if !bytes.Equal(img.Pix, src.Pix) {
		t.Error("pixels differ")
	}
	expect.EQ(t, frame.CompressionRatio(), 1.0)
}

func TestCompressed(t *testing.T) {
	src := stripes(window.Size{W: 16, H: 4}, 4)
	p := newPair(src)
	frame := p.frame(t, Options{Enabled: true, Level: 0}, true)
	if !frame.Params.Compressed {
		t.Fatal("frame not compressed")
	}
	expect.EQ(t, frame.Params.BufferSize, 4*4)
	img, _ := p.receiver.Image()
	if !bytes.Equal(img.Pix, opaque(src.Pix)) {
		t.Error("pixels differ")
	}
	expect.EQ(t, frame.CompressionRatio(), 4.0/64)
	expect.EQ(t, p.sstats.Int("compressedframes").Get(), int64(1))
	expect.EQ(t, p.sstats.Int("payloadbytes").Get(), int64(16))
	expect.EQ(t, p.sstats.Int("rawbytes").Get(), int64(16*4*4))
}

func TestCompressionRequiresRGBA(t *testing.T) {
	src := stripes(window.Size{W: 4, H: 4}, 3)
	p := newPair(src)
	frame := p.frame(t, Options{Enabled: true, Level: 5}, true)
	if frame.Params.Compressed {
		t.Fatal("3-component frame compressed")
	}
	expect.EQ(t, frame.Params.Components, 3)
	img, _ := p.receiver.Image()
	if !bytes.Equal(img.Pix, src.Pix) {
		t.Error("pixels differ")
	}
	if img.RGBA() != nil {
		t.Error("3-component image converted to RGBA")
	}
}

func TestNoRemoteDisplay(t *testing.T) {
	src := stripes(window.Size{W: 4, H: 4}, 4)
	p := newPair(src)
	p.frame(t, Options{}, true)
	before, _ := p.receiver.Image()
	snapshot := append([]byte(nil), before.Pix...)

	src.Pix[0] = 99
	frame := p.frame(t, Options{Enabled: true}, false)
	if frame.Params.RemoteDisplay {
		t.Fatal("unexpected remote display")
	}
	expect.EQ(t, frame.TransferTime, time.Duration(0))
	after, current := p.receiver.Image()
	if current {
		t.Error("stale image marked current")
	}
	if after != before || !bytes.Equal(after.Pix, snapshot) {
		t.Error("displayed image changed")
	}
	expect.EQ(t, p.rstats.Int("payloadbytes").Get(), int64(4*4*4))
}

func TestLostFrame(t *testing.T) {
	f := comm.NewFabric(2)
	st := stats.NewMap()
	r := NewReceiver(f[0], 1, st)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	send := func(seq uint32, p []byte, tag comm.Tag) {
		t.Helper()
		assert.NoError(t, f[1].Send(ctx, stamp(seq, p), 0, tag))
	}
	params := Params{RemoteDisplay: true, Components: 4, BufferSize: 8, Size: window.Size{W: 2, H: 1}}

	// A truncated parameters record, followed by the rest of its frame.
	assert.NoError(t, r.PreRender(ctx, Options{}, true))
	send(1, []byte{1, 2, 3}, comm.ImageParamsTag)
	send(1, make([]byte, 8), comm.ImagePayloadTag)
	send(1, Metrics{7}.marshal(), comm.TimingMetricsTag)
	frame, err := r.PostRender(ctx)
	assert.NoError(t, err)
	if !frame.Lost {
		t.Error("frame not lost")
	}
	expect.EQ(t, frame.Params, NeutralParams)
	expect.EQ(t, st.Int("lostframes").Get(), int64(1))
	if img, _ := r.Image(); img != nil {
		t.Error("unexpected image")
	}

	// A payload that does not match its parameters.
	assert.NoError(t, r.PreRender(ctx, Options{}, true))
	send(2, params.marshal(), comm.ImageParamsTag)
	send(2, make([]byte, 4), comm.ImagePayloadTag)
	send(2, Metrics{7}.marshal(), comm.TimingMetricsTag)
	frame, err = r.PostRender(ctx)
	assert.NoError(t, err)
	if !frame.Lost {
		t.Error("frame not lost")
	}
	expect.EQ(t, st.Int("lostframes").Get(), int64(2))

	// The next intact frame reads only its own records.
	pix := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	assert.NoError(t, r.PreRender(ctx, Options{}, true))
	send(3, params.marshal(), comm.ImageParamsTag)
	send(3, pix, comm.ImagePayloadTag)
	send(3, Metrics{0.5}.marshal(), comm.TimingMetricsTag)
	frame, err = r.PostRender(ctx)
	assert.NoError(t, err)
	if frame.Lost {
		t.Fatal("intact frame lost")
	}
	expect.EQ(t, frame.Params, params)
	expect.EQ(t, frame.Metrics, Metrics{0.5})
	img, current := r.Image()
	if !current {
		t.Error("image not current")
	}
	if !bytes.Equal(img.Pix, pix) {
		t.Errorf("got pixels %v, want %v", img.Pix, pix)
	}
	expect.EQ(t, st.Int("lostframes").Get(), int64(2))
	expect.EQ(t, st.Int("frames").Get(), int64(1))
}

func TestStaleRecordsDiscarded(t *testing.T) {
	f := comm.NewFabric(2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for seq := uint32(1); seq <= 3; seq++ {
		assert.NoError(t, f[1].Send(ctx, stamp(seq, []byte{byte(seq)}), 0, comm.ImagePayloadTag))
	}
	p, err := receive(ctx, f[0], 1, comm.ImagePayloadTag, 3)
	assert.NoError(t, err)
	expect.EQ(t, p, []byte{3})

	assert.NoError(t, f[1].Send(ctx, stamp(5, nil), 0, comm.ImagePayloadTag))
	if _, err := receive(ctx, f[0], 1, comm.ImagePayloadTag, 4); !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want integrity error", err)
	}
}

func TestSenderLostOptions(t *testing.T) {
	f := comm.NewFabric(2)
	st := stats.NewMap()
	s := NewSender(f[1], 0, nil, &testFramebuffer{stripes(window.Size{W: 2, H: 2}, 4)}, st)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	send := func(seq uint32, p []byte, tag comm.Tag) {
		t.Helper()
		assert.NoError(t, f[0].Send(ctx, stamp(seq, p), 1, tag))
	}
	send(1, comm.EncodeInts(1, 9), comm.SquirtOptionsTag)
	send(1, comm.EncodeInts(1), comm.RemoteDisplayTag)
	assert.NoError(t, s.PreRender(ctx))
	opts, display := s.Options()
	expect.EQ(t, opts, Options{})
	if display {
		t.Error("display requested after lost options")
	}
	expect.EQ(t, st.Int("lostframes").Get(), int64(1))

	// The lost frame's display flag was consumed with it.
	send(2, Options{Enabled: true, Level: 2}.marshal(), comm.SquirtOptionsTag)
	send(2, comm.EncodeInts(0), comm.RemoteDisplayTag)
	assert.NoError(t, s.PreRender(ctx))
	opts, display = s.Options()
	expect.EQ(t, opts, Options{Enabled: true, Level: 2})
	if display {
		t.Error("display flag of the lost frame consumed")
	}
	expect.EQ(t, st.Int("lostframes").Get(), int64(1))
}

func TestGroupBarrier(t *testing.T) {
	link := comm.NewFabric(2)
	group := comm.NewFabric(2)
	src := stripes(window.Size{W: 2, H: 2}, 4)
	s := NewSender(link[1], 0, group[0], &testFramebuffer{src}, nil)
	r := NewReceiver(link[0], 1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 2)
	go func() {
		if err := s.PreRender(ctx); err != nil {
			errc <- err
			return
		}
		errc <- s.PostRender(ctx)
	}()
	assert.NoError(t, r.PreRender(ctx, Options{}, true))
	// The sender cannot deliver until the satellite reaches the barrier.
	time.Sleep(10 * time.Millisecond)
	go func() { errc <- group[1].Barrier(ctx) }()
	frame, err := r.PostRender(ctx)
	assert.NoError(t, err)
	assert.NoError(t, <-errc)
	assert.NoError(t, <-errc)
	if !frame.Params.RemoteDisplay {
		t.Error("no remote display")
	}
	if s.RenderTime() < 10*time.Millisecond {
		t.Errorf("render time %v does not include the barrier", s.RenderTime())
	}
}
