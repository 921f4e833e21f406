// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigrender/deploy"
)

// Config is a session configuration: the deployment options shared
// by every process and the machines that host the servers.
type Config struct {
	Deployment deploy.Deployment
	// System is the bigmachine system hosting the servers.
	System bigmachine.System
	// RenderProcs and DataProcs are the sizes of the render and
	// data groups.
	RenderProcs, DataProcs int
}

func init() {
	config.Register("bigrender", func(inst *config.Constructor) {
		cfg := new(Config)
		dep := &cfg.Deployment
		inst.IntVar(&dep.Tiles[0], "tiles-x", 0, "number of display tiles in x; tiled display when either tile count is positive")
		inst.IntVar(&dep.Tiles[1], "tiles-y", 0, "number of display tiles in y")
		inst.IntVar(&dep.Mullions[0], "mullion-x", 0, "gap in pixels between horizontally adjacent tiles")
		inst.IntVar(&dep.Mullions[1], "mullion-y", 0, "gap in pixels between vertically adjacent tiles")
		inst.BoolVar(&dep.Compress, "compress", true, "run-length encode images delivered to the driver")
		inst.IntVar(&dep.CompressionLevel, "compression-level", 0, "squirt compression level, 0 (lossless) to 5")
		inst.BoolVar(&dep.PropagateRender, "propagate-render", true, "trigger a render on the servers at every driver render")
		inst.FloatVar(&dep.UpdateRate, "update-rate", 5, "desired update rate in frames per second")
		inst.IntVar(&cfg.RenderProcs, "render-procs", 2, "number of render processes")
		inst.IntVar(&cfg.DataProcs, "data-procs", 0, "number of data processes")
		inst.InstanceVar(&cfg.System, "system", "", "the bigmachine system hosting render and data processes")
		inst.Doc = "bigrender configures a bigrender session"
		inst.New = func() (interface{}, error) {
			if cfg.System == nil {
				cfg.System = bigmachine.Local
			}
			if err := cfg.Deployment.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
	})
}
