// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/bigrender"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/deploy"
	"github.com/grailbio/bigrender/reduce"
	"github.com/grailbio/bigrender/window"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestCluster(t *testing.T) {
	b := bigmachine.Start(testsystem.New())
	defer b.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dep := deploy.Deployment{PropagateRender: true, Compress: true}
	c, err := Start(ctx, b, dep, 2, 1, nil)
	assert.NoError(t, err)
	expect.EQ(t, len(c.Render), 2)
	expect.EQ(t, len(c.Data), 1)

	driver, err := bigrender.New(c.Topology(), dep, window.NewRegistry())
	assert.NoError(t, err)
	assert.NoError(t, driver.Start(ctx))
	reg := driver.Registry()
	for i, r := range []window.Rect{{X: 0, Y: 0, W: 40, H: 30}, {X: 60, Y: 0, W: 20, H: 30}} {
		id := window.ID(i + 1)
		assert.NoError(t, driver.RegisterWindow(ctx, id, nil))
		assert.NoError(t, reg.SetPosition(id, r.X, r.Y))
		assert.NoError(t, reg.SetSize(id, r.W, r.H))
	}
	const nframe = 3
	for i := 0; i < nframe; i++ {
		assert.NoError(t, driver.Render(ctx, 1))
	}
	frame := driver.Frame()
	if frame.Lost {
		t.Fatal("frame lost")
	}
	if !frame.Params.Compressed {
		t.Error("frame not compressed")
	}
	expect.EQ(t, frame.Params.Size, window.Size{W: 60, H: 30})
	img, current := driver.Image()
	if !current {
		t.Fatal("no current image")
	}
	rgba := img.RGBA()
	if got, want := rgba.RGBAAt(10, 10), Color(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rgba.RGBAAt(50, 10), Color(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	z, err := driver.ZBufferValue(ctx, 10, 10)
	assert.NoError(t, err)
	expect.EQ(t, z, 0.5)

	// Only the render root draws outside tiled mode.
	frames, err := driver.Reduce(ctx, 0, comm.Sum)
	assert.NoError(t, err)
	expect.EQ(t, frames, float64(nframe))
	bounds, err := driver.SynchronizeBounds(ctx, reduce.EmptyBounds)
	assert.NoError(t, err)
	expect.EQ(t, bounds, reduce.Bounds{0, 2, 0, 1, 0, 1})

	assert.NoError(t, driver.Close(ctx))
	assert.NoError(t, c.Wait())

	all, err := c.Stats(ctx)
	assert.NoError(t, err)
	expect.EQ(t, all[c.Render[0].Addr]["frames"], int64(nframe))
}

func TestStartInvalid(t *testing.T) {
	b := bigmachine.Start(testsystem.New())
	defer b.Shutdown()
	_, err := Start(context.Background(), b, deploy.Deployment{}, 0, 0, nil)
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestPattern(t *testing.T) {
	p := NewPattern()
	reg := window.NewSharedRegistry(func() window.Surface { return p })
	assert.NoError(t, reg.Register(3, nil))
	p.Attach(reg, 3, true)
	p.SetSize(4, 2)
	rec, _ := reg.Get(3)
	rec.Renderers[0].Renderer.SetViewport(window.Viewport{0.5, 0, 1, 1})

	img, err := p.ReadPixels(context.Background())
	assert.NoError(t, err)
	rgba := img.RGBA()
	for x := 0; x < 4; x++ {
		want := Background
		if x >= 2 {
			want = Color(3)
		}
		if got := rgba.RGBAAt(x, 1); got != want {
			t.Errorf("pixel %d: got %v, want %v", x, got, want)
		}
	}
	expect.EQ(t, p.Depth(3, 0), 0.5)
	expect.EQ(t, p.Depth(0, 0), 1.0)
	if Color(1) == Color(2) {
		t.Error("windows share a colour")
	}
	expect.EQ(t, Color(1).A, uint8(0xff))

	p.Attach(reg, 3, false)
	img, err = p.ReadPixels(context.Background())
	assert.NoError(t, err)
	if got, want := img.RGBA().RGBAAt(3, 1), Background; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
