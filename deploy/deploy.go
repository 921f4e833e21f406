// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package deploy describes how a bigrender process is deployed: its
// role, the tiled-display configuration it participates in, and the
// controllers that connect it to its peers.
package deploy

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Role is the fixed responsibility of a process.
type Role int

const (
	// Standalone processes render and display locally without peers.
	Standalone Role = iota
	// Driver is the process the user interacts with: a client, or
	// rank 0 of a batch run.
	Driver
	// RenderCompute is a render-server rank.
	RenderCompute
	// DataHolder is a data-server rank.
	DataHolder
)

func (r Role) String() string {
	switch r {
	case Standalone:
		return "standalone"
	case Driver:
		return "driver"
	case RenderCompute:
		return "render"
	case DataHolder:
		return "data"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole parses the names produced by Role.String.
func ParseRole(s string) (Role, error) {
	for r := Standalone; r <= DataHolder; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("deploy: unknown role %q", s))
}

// Deployment holds the session-wide options supplied at startup.
type Deployment struct {
	// Tiles is the number of display tiles in x and y. Tiled-display
	// mode is enabled when either is positive.
	Tiles [2]int
	// Mullions is the gap in pixels between adjacent tiles.
	Mullions [2]int
	// Compress enables image compression on the delivery channel.
	Compress bool
	// CompressionLevel is the squirt level, 0-5.
	CompressionLevel int
	// PropagateRender makes the driver trigger a render on its
	// peers at every render cycle.
	PropagateRender bool
	// UpdateRate is the desired update rate in frames per second.
	UpdateRate float64
}

// Tiled tells whether the deployment drives a tiled display.
func (d Deployment) Tiled() bool {
	return d.Tiles[0] > 0 || d.Tiles[1] > 0
}

// Validate checks that the deployment options are consistent.
func (d Deployment) Validate() error {
	for i := range d.Tiles {
		if d.Tiles[i] < 0 || d.Mullions[i] < 0 {
			return errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("deploy: negative tile configuration %v, mullions %v", d.Tiles, d.Mullions))
		}
	}
	if d.CompressionLevel < 0 || d.CompressionLevel > 5 {
		return errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("deploy: compression level %d out of range [0, 5]", d.CompressionLevel))
	}
	return nil
}
