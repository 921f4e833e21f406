// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
)

// A Caller invokes a method on a remote service. It is satisfied by
// *bigmachine.Machine.
type Caller interface {
	Call(ctx context.Context, serviceMethod string, arg, reply interface{}) error
}

// A Dialer connects to the process serving at addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Caller, error)
}

// Remote configures a transport whose ranks live in different
// processes. Every rank with a non-empty address hosts the named
// service, which must dispatch Put to Mailbox.Put and Take to
// Mailbox.Take on Box. A rank without an address (the driver) cannot
// be called; messages destined for it are held in the sender's own
// mailbox and fetched by the driver with Take.
type Remote struct {
	// Channel distinguishes this controller's messages from those of
	// other controllers sharing the mailbox.
	Channel string
	// Rank is the local rank.
	Rank int
	// Addrs holds the address of each rank.
	Addrs []string
	// Box is the local mailbox; nil on ranks without an address.
	Box *Mailbox
	// Dialer connects to peers.
	Dialer Dialer
	// Service is the name of the mailbox service on peers.
	Service string
}

// NewRemote returns an endpoint over the remote transport r.
func NewRemote(r Remote) *Endpoint {
	return NewEndpoint(&remoteTransport{Remote: r, peers: make(map[int]Caller)})
}

type remoteTransport struct {
	Remote

	mu    sync.Mutex
	peers map[int]Caller
}

func (t *remoteTransport) NumRanks() int { return len(t.Addrs) }
func (t *remoteTransport) Rank() int     { return t.Remote.Rank }

func (t *remoteTransport) peer(ctx context.Context, rank int) (Caller, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.peers[rank]; c != nil {
		return c, nil
	}
	c, err := t.Dialer.Dial(ctx, t.Addrs[rank])
	if err != nil {
		return nil, errors.E(errors.Net, fmt.Sprintf("comm: dial rank %d at %s", rank, t.Addrs[rank]), err)
	}
	t.peers[rank] = c
	return c, nil
}

func (t *remoteTransport) Send(ctx context.Context, msg Message) error {
	msg.Channel = t.Channel
	if t.Addrs[msg.Dest] == "" {
		if t.Box == nil {
			return errors.E(errors.Invalid, fmt.Sprintf("comm: neither rank %d nor rank %d can hold messages", msg.Src, msg.Dest))
		}
		t.Box.Put(msg)
		return nil
	}
	c, err := t.peer(ctx, msg.Dest)
	if err != nil {
		return err
	}
	return c.Call(ctx, t.Service+".Put", msg, nil)
}

func (t *remoteTransport) Receive(ctx context.Context, src int, tag Tag) (Message, error) {
	req := TakeRequest{Channel: t.Channel, Src: src, Dest: t.Remote.Rank, Tag: tag}
	if t.Box != nil {
		return t.Box.Take(ctx, req)
	}
	if src == AnySource {
		if len(t.Addrs) != 2 {
			return Message{}, errors.E(errors.NotSupported, "comm: clients must receive from a named rank")
		}
		src = 1 - t.Remote.Rank
		req.Src = src
	}
	c, err := t.peer(ctx, src)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	err = c.Call(ctx, t.Service+".Take", req, &msg)
	return msg, err
}
