// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cluster runs the render and data groups of a bigrender
// session on bigmachine machines. Every machine hosts a Server; the
// machines of a group, and the driver, exchange messages through the
// servers' mailboxes.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigrender/comm"
	"github.com/grailbio/bigrender/deploy"
	"github.com/grailbio/bigrender/stats"
	"golang.org/x/sync/errgroup"
)

var retryPolicy = retry.MaxTries(retry.Backoff(100*time.Millisecond, 5*time.Second, 1.5), 8)

// dialer dials machines of a bigmachine session, retrying transient
// failures.
type dialer struct{ b *bigmachine.B }

func (d dialer) Dial(ctx context.Context, addr string) (comm.Caller, error) {
	for retries := 0; ; retries++ {
		m, err := d.b.Dial(ctx, addr)
		if err == nil {
			return m, nil
		}
		log.Error.Printf("cluster: dial %s (%d): %v", addr, retries, err)
		if werr := retry.Wait(ctx, retryPolicy, retries); werr != nil {
			return nil, errors.E(errors.Net, fmt.Sprintf("cluster: dial %s", addr), err)
		}
	}
}

// A Cluster is a running session's set of server machines.
type Cluster struct {
	// Render and Data hold the machines of the render and data
	// groups, by group rank.
	Render, Data []*bigmachine.Machine

	top deploy.Topology
	g   errgroup.Group
}

// Start starts nrender render machines and ndata data machines on b
// and places each in the session configured by dep. Start returns
// once every machine is serving; the driver then connects with the
// topology returned by Topology. Group, if not nil, reports machine
// status.
func Start(ctx context.Context, b *bigmachine.B, dep deploy.Deployment, nrender, ndata int, group *status.Group) (*Cluster, error) {
	if nrender < 1 || ndata < 0 {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("cluster: %d render and %d data machines", nrender, ndata))
	}
	if err := dep.Validate(); err != nil {
		return nil, err
	}
	machines, err := b.Start(ctx, nrender+ndata, bigmachine.Services{ServiceName: &Server{}})
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, machines, group); err != nil {
		return nil, err
	}
	c := &Cluster{
		Render: machines[:nrender],
		Data:   machines[nrender:],
	}
	c.top = deploy.Topology{Role: deploy.Driver}
	c.top.Render = c.serve(ctx, b, deploy.RenderCompute, dep, c.Render)
	if ndata > 0 {
		c.top.Data = c.serve(ctx, b, deploy.DataHolder, dep, c.Data)
	}
	return c, nil
}

// wait waits for every machine to enter the running state.
func wait(ctx context.Context, machines []*bigmachine.Machine, group *status.Group) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range machines {
		m := m
		var task *status.Task
		if group != nil {
			task = group.Start()
			task.Print("waiting for machine to boot")
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.Wait(bigmachine.Running):
			}
			if err := m.Err(); err != nil {
				log.Printf("machine %s failed to start: %v", m.Addr, err)
				if task != nil {
					task.Printf("failed to start: %v", err)
					task.Done()
				}
				return err
			}
			if task != nil {
				task.Title(m.Addr)
				task.Print("running")
			}
			log.Printf("machine %v is ready", m.Addr)
			return nil
		})
	}
	return g.Wait()
}

// serve places the machines of a group and returns the driver's
// channel to its root.
func (c *Cluster) serve(ctx context.Context, b *bigmachine.B, role deploy.Role, dep deploy.Deployment, machines []*bigmachine.Machine) comm.Controller {
	addrs := make([]string, len(machines))
	for i, m := range machines {
		addrs[i] = m.Addr
	}
	uplink := []string{"", addrs[0]}
	for i, m := range machines {
		req := ServeRequest{Role: role, Deployment: dep, Rank: i, Group: addrs}
		if i == 0 {
			req.Uplink = uplink
		}
		m := m
		c.g.Go(func() error {
			err := m.Call(ctx, ServiceName+".Serve", req, nil)
			if err != nil {
				log.Error.Printf("cluster: %s rank %d at %s: %v", role, req.Rank, m.Addr, err)
			}
			return err
		})
	}
	return comm.NewRemote(comm.Remote{
		Channel: role.String(),
		Rank:    deploy.DriverRank,
		Addrs:   uplink,
		Dialer:  dialer{b},
		Service: ServiceName,
	})
}

// Topology returns the driver's topology.
func (c *Cluster) Topology() deploy.Topology { return c.top }

// Wait returns once every machine stopped serving, which happens
// after the driver closes its synchronizer. It returns the first
// error reported by a machine.
func (c *Cluster) Wait() error {
	return c.g.Wait()
}

// Stats returns the counters of every machine, keyed by address.
func (c *Cluster) Stats(ctx context.Context) (map[string]stats.Values, error) {
	var (
		mu  sync.Mutex
		all = make(map[string]stats.Values)
		g   errgroup.Group
	)
	for _, m := range append(append([]*bigmachine.Machine(nil), c.Render...), c.Data...) {
		m := m
		g.Go(func() error {
			var vals stats.Values
			if err := m.RetryCall(ctx, ServiceName+".Stats", struct{}{}, &vals); err != nil {
				return err
			}
			mu.Lock()
			all[m.Addr] = vals
			mu.Unlock()
			return nil
		})
	}
	return all, g.Wait()
}
