// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package deploy

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigrender/comm"
)

// Topology places a process among its peers. Each of the three
// communication fabrics is independent; any of them may be nil.
//
// On the driver, Render and Data connect to the roots of the render
// and data groups with the driver at rank 0 and the root at rank 1.
// On a group root, Render (or Data) is the same two-party channel
// seen from rank 1. Group is the intra-group collective of compute or
// data processes; group rank 0 is the root.
type Topology struct {
	Role   Role
	Group  comm.Controller
	Render comm.Controller
	Data   comm.Controller
}

// Remote ranks on two-party channels.
const (
	DriverRank = 0
	RootRank   = 1
)

// GroupSize returns the number of processes in the local group.
func (t Topology) GroupSize() int {
	if t.Group == nil {
		return 1
	}
	return t.Group.NumRanks()
}

// GroupRoot tells whether this process is the root of its group.
func (t Topology) GroupRoot() bool {
	return t.Group == nil || t.Group.Rank() == 0
}

// Batch tells whether this is the driving rank of a batch run: a
// driver without a separate render connection that leads a group.
func (t Topology) Batch() bool {
	return t.Role == Driver && t.Render == nil && t.Group != nil
}

// DistinctData tells whether the driver's data connection is a
// separate channel from its render connection.
func (t Topology) DistinctData() bool {
	return t.Data != nil && t.Data != t.Render
}

// Uplink returns the two-party channel connecting a group root to
// the driver, or nil.
func (t Topology) Uplink() comm.Controller {
	if !t.GroupRoot() {
		return nil
	}
	switch t.Role {
	case RenderCompute:
		return t.Render
	case DataHolder:
		return t.Data
	}
	return nil
}

// Validate checks that the controllers are consistent with the role.
func (t Topology) Validate() error {
	bad := func(msg string) error {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("deploy: %s topology: %s", t.Role, msg))
	}
	check := func(c comm.Controller, name string, rank int) error {
		if c == nil {
			return nil
		}
		if c.NumRanks() != 2 || c.Rank() != rank {
			return bad(fmt.Sprintf("%s channel must connect two ranks with the local rank %d", name, rank))
		}
		return nil
	}
	switch t.Role {
	case Standalone:
		if t.Group != nil || t.Render != nil || t.Data != nil {
			return bad("standalone processes have no peers")
		}
	case Driver:
		if err := check(t.Render, "render", DriverRank); err != nil {
			return err
		}
		if err := check(t.Data, "data", DriverRank); err != nil {
			return err
		}
		if t.Group != nil && t.Group.Rank() != 0 {
			return bad("a batch driver must be rank 0 of its group")
		}
		if t.Group != nil && t.Render != nil {
			return bad("a driver cannot both lead a group and connect to a render root")
		}
	case RenderCompute:
		if t.Data != nil {
			return bad("render processes have no data channel")
		}
		if !t.GroupRoot() && t.Render != nil {
			return bad("only the group root connects to the driver")
		}
		if err := check(t.Render, "render", RootRank); err != nil {
			return err
		}
	case DataHolder:
		if t.Render != nil {
			return bad("data processes have no render channel")
		}
		if !t.GroupRoot() && t.Data != nil {
			return bad("only the group root connects to the driver")
		}
		if err := check(t.Data, "data", RootRank); err != nil {
			return err
		}
	default:
		return bad("unknown role")
	}
	return nil
}
