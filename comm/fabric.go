// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import "context"

// NewFabric returns n endpoints connected to each other inside the
// current process. Endpoint i has rank i. Fabrics are used by
// standalone sessions and by tests that simulate a multi-process
// deployment with one goroutine per rank.
func NewFabric(n int) []*Endpoint {
	boxes := make([]*Mailbox, n)
	for i := range boxes {
		boxes[i] = NewMailbox()
	}
	endpoints := make([]*Endpoint, n)
	for i := range endpoints {
		endpoints[i] = NewEndpoint(&fabricTransport{rank: i, boxes: boxes})
	}
	return endpoints
}

// CloseFabric closes every mailbox of the fabric, failing all
// pending receives.
func CloseFabric(endpoints []*Endpoint) {
	for _, e := range endpoints {
		if t, ok := e.transport.(*fabricTransport); ok {
			t.boxes[t.rank].Close()
		}
	}
}

type fabricTransport struct {
	rank  int
	boxes []*Mailbox
}

func (t *fabricTransport) NumRanks() int { return len(t.boxes) }
func (t *fabricTransport) Rank() int     { return t.rank }

func (t *fabricTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	t.boxes[msg.Dest].Put(msg)
	return nil
}

func (t *fabricTransport) Receive(ctx context.Context, src int, tag Tag) (Message, error) {
	return t.boxes[t.rank].Take(ctx, TakeRequest{Src: src, Dest: t.rank, Tag: tag})
}
