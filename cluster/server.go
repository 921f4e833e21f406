// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigrender"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/deploy"
	"github.com/grailbio/bigrender/reduce"
	"github.com/grailbio/bigrender/stats"
	"github.com/grailbio/bigrender/window"
)

func init() {
	gob.Register(&Server{})
}

// ServiceName is the name under which Server is installed on
// machines.
const ServiceName = "Server"

const groupChannel = "group"

// A ServeRequest places a machine in the session.
type ServeRequest struct {
	Role       deploy.Role
	Deployment deploy.Deployment
	// Rank is the machine's rank in its group.
	Rank int
	// Group holds the addresses of the machine's group, by rank.
	Group []string
	// Uplink holds the addresses of the two-party channel to the
	// driver; it is set on group roots only.
	Uplink []string
}

// Server is the bigmachine service that hosts one render or data
// process. Peers exchange messages by calling Put and Take; the
// driver places the process with Serve.
type Server struct {
	// Exported satisfies gob, which needs at least one exported field.
	Exported struct{}

	b     *bigmachine.B
	box   *comm.Mailbox
	stats *stats.Map

	mu      sync.Mutex
	serving bool
}

// Init implements bigmachine.Service.
func (s *Server) Init(b *bigmachine.B) error {
	s.b = b
	s.box = comm.NewMailbox()
	s.stats = stats.NewMap()
	return nil
}

// Put delivers a message to this machine.
func (s *Server) Put(ctx context.Context, msg comm.Message, _ *struct{}) error {
	s.box.Put(msg)
	return nil
}

// Take takes a message held by this machine, blocking until one
// matching req arrives. Drivers, which cannot be called, fetch their
// messages this way.
func (s *Server) Take(ctx context.Context, req comm.TakeRequest, reply *comm.Message) error {
	msg, err := s.box.Take(ctx, req)
	if err != nil {
		return err
	}
	*reply = msg
	return nil
}

// Stats returns a snapshot of the machine's counters.
func (s *Server) Stats(ctx context.Context, _ struct{}, vals *stats.Values) error {
	*vals = make(stats.Values)
	s.stats.AddAll(*vals)
	return nil
}

// Serve runs the process described by req until the driver shuts
// the session down. A machine serves once.
func (s *Server) Serve(ctx context.Context, req ServeRequest, _ *struct{}) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return errors.E(errors.Exists, "cluster: machine already serving")
	}
	s.serving = true
	s.mu.Unlock()

	if req.Role != deploy.RenderCompute && req.Role != deploy.DataHolder {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("cluster: machines cannot serve as %s", req.Role))
	}
	top := deploy.Topology{Role: req.Role}
	if len(req.Group) > 1 {
		top.Group = s.remote(groupChannel, req.Rank, req.Group)
	}
	if len(req.Uplink) > 0 {
		up := s.remote(req.Role.String(), deploy.RootRank, req.Uplink)
		if req.Role == deploy.RenderCompute {
			top.Render = up
		} else {
			top.Data = up
		}
	}

	pattern := NewPattern()
	opts := []bigrender.Option{
		bigrender.Stats(s.stats),
		bigrender.Value(pattern.Frames),
		bigrender.LocalBounds(func() reduce.Bounds {
			r := float64(req.Rank)
			return reduce.Bounds{r, r + 1, 0, 1, 0, 1}
		}),
	}
	var reg *window.Registry
	if req.Role == deploy.RenderCompute {
		reg = window.NewSharedRegistry(func() window.Surface { return pattern })
		opts = append(opts,
			bigrender.Renderer(pattern.Render),
			bigrender.Framebuffer(pattern),
			bigrender.Depth(pattern.Depth),
			bigrender.WindowHook(pattern.Attach),
			bigrender.Abort(func(err error) {
				log.Error.Printf("cluster: %s rank %d: aborting: %v", req.Role, req.Rank, err)
			}),
		)
	}
	syncer, err := bigrender.New(top, req.Deployment, reg, opts...)
	if err != nil {
		return err
	}
	if err := syncer.Start(ctx); err != nil {
		return err
	}
	log.Printf("cluster: %s rank %d of %d serving", req.Role, req.Rank, len(req.Group))
	err = syncer.Serve(ctx)
	if cerr := syncer.Close(ctx); err == nil {
		err = cerr
	}
	log.Printf("cluster: %s rank %d done: %s", req.Role, req.Rank, syncer.Stats())
	return err
}

func (s *Server) remote(channel string, rank int, addrs []string) comm.Controller {
	return comm.NewRemote(comm.Remote{
		Channel: channel,
		Rank:    rank,
		Addrs:   addrs,
		Box:     s.box,
		Dialer:  dialer{s.b},
		Service: ServiceName,
	})
}
