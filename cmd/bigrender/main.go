// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigrender runs a synthetic render session: a driver on the
// local process and render (and optionally data) servers on machines
// of the configured bigmachine system. The servers draw a flat
// pattern for every window, which lets the distribution, delivery
// and compression paths be exercised without a graphics stack.
//
// Usage:
//
//	bigrender [flags]
//	bigrender setup-ec2 [-securitygroup name]
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigrender"
	"github.com/grailbio/bigrender/cluster"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/reduce"
	"github.com/grailbio/bigrender/renderconfig"
	"github.com/grailbio/bigrender/window"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Bigrender runs a distributed render session.

Usage:

	bigrender [flags]
	bigrender setup-ec2 [-securitygroup name]

The render session is configured by the profile at %s,
as amended by the -set flag.

The flags are:
`, renderconfig.Path)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	var (
		nframe        = flag.Int("frames", 10, "number of frames to render")
		nwindow       = flag.Int("windows", 2, "number of windows to register")
		windowSize    = flag.Int("window-size", 256, "width and height of each window in pixels")
		consoleStatus = flag.Bool("status", false, "print session status to stdout")
		httpAddr      = flag.String("http", "", "address of the HTTP debug and status server")
	)
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("bigrender: ")
	must.Func = log.Fatal
	flag.Usage = usage
	cfg := renderconfig.Parse()

	switch flag.Arg(0) {
	case "":
	case "setup-ec2":
		setupEc2Cmd(flag.Args()[1:])
		return
	default:
		fmt.Fprintln(os.Stderr, "unknown command", flag.Arg(0))
		flag.Usage()
	}
	if *nwindow < 1 || *windowSize < 1 {
		log.Fatal("at least one nonempty window is required")
	}

	b := bigmachine.Start(cfg.System)
	defer b.Shutdown()
	var st status.Status
	if *consoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, &st)
	}
	if *httpAddr != "" {
		b.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(&st))
		go func() {
			log.Printf("HTTP status at %s", *httpAddr)
			if err := http.ListenAndServe(*httpAddr, nil); err != nil {
				log.Error.Printf("start HTTP at %s: %v", *httpAddr, err)
			}
		}()
	}

	ctx := context.Background()
	c, err := cluster.Start(ctx, b, cfg.Deployment, cfg.RenderProcs, cfg.DataProcs, st.Group("machines"))
	must.Nil(err, "starting cluster")
	driver, err := bigrender.New(c.Topology(), cfg.Deployment, window.NewRegistry())
	must.Nil(err)
	must.Nil(driver.Start(ctx), "synchronizing tiles")

	reg := driver.Registry()
	for i := 0; i < *nwindow; i++ {
		id := window.ID(i + 1)
		must.Nil(driver.RegisterWindow(ctx, id, nil))
		must.Nil(reg.SetSize(id, *windowSize, *windowSize))
		must.Nil(reg.SetPosition(id, i**windowSize, 0))
	}

	task := st.Group("render").Start()
	task.Title("render ", *nframe, " frames")
	var elapsed time.Duration
	for i := 0; i < *nframe; i++ {
		id := window.ID(i%*nwindow + 1)
		must.Nil(driver.Render(ctx, id), "render of window ", id)
		elapsed += driver.RenderTime()
		frame := driver.Frame()
		task.Printf("frame %d: %v ratio %.3f", i, frame.Params, frame.CompressionRatio())
		if frame.Lost {
			log.Error.Printf("frame %d lost", i)
		}
	}
	task.Done()

	frames, err := driver.Reduce(ctx, 0, comm.Sum)
	must.Nil(err)
	bounds, err := driver.SynchronizeBounds(ctx, reduce.EmptyBounds)
	must.Nil(err)
	log.Printf("rendered %d frames (%v on the servers) in %v; mean %v; bounds %v",
		*nframe, frames, elapsed, elapsed/time.Duration(max(*nframe, 1)), bounds)
	log.Printf("driver: %v", driver.Stats())

	must.Nil(driver.Close(ctx))
	must.Nil(c.Wait())
	all, err := c.Stats(ctx)
	if err != nil {
		log.Error.Printf("server stats: %v", err)
		return
	}
	addrs := make([]string, 0, len(all))
	for addr := range all {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		log.Printf("%s: %v", addr, all[addr])
	}
}

func max(x, y int) int {
	if x > y {
		return x
	}
	return y
}
