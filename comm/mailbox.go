// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigrender/ctxsync"
)

// A Message is a single tagged payload travelling between two ranks
// of a channel.
type Message struct {
	// Channel names the controller the message belongs to, so that
	// several controllers may share a mailbox.
	Channel string
	Src     int
	Dest    int
	Tag     Tag
	Payload []byte
}

// TakeRequest selects a message from a mailbox.
type TakeRequest struct {
	Channel string
	Src     int
	Dest    int
	Tag     Tag
}

func (r TakeRequest) matches(m Message) bool {
	return m.Channel == r.Channel && m.Dest == r.Dest && m.Tag == r.Tag &&
		(r.Src == AnySource || m.Src == r.Src)
}

// A Mailbox is a FIFO of messages with selective, blocking receipt.
// Messages from the same sender are taken in the order they were
// put.
type Mailbox struct {
	mu     sync.Mutex
	cond   *ctxsync.Cond
	msgs   []Message
	closed bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	m := new(Mailbox)
	m.cond = ctxsync.NewCond(&m.mu)
	return m
}

// Put enqueues msg. Put on a closed mailbox drops the message.
func (m *Mailbox) Put(msg Message) {
	m.mu.Lock()
	if !m.closed {
		m.msgs = append(m.msgs, msg)
		m.cond.Broadcast()
	}
	m.mu.Unlock()
}

// Take dequeues the oldest message matching req, blocking until one
// is available, the mailbox is closed, or ctx is done.
func (m *Mailbox) Take(ctx context.Context, req TakeRequest) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := -1
	err := m.cond.WaitFor(ctx, func() bool {
		if m.closed {
			return true
		}
		for i, msg := range m.msgs {
			if req.matches(msg) {
				index = i
				return true
			}
		}
		return false
	})
	if err != nil {
		return Message{}, err
	}
	if index < 0 {
		return Message{}, errors.E(errors.Unavailable, "comm: mailbox closed")
	}
	msg := m.msgs[index]
	m.msgs = append(m.msgs[:index], m.msgs[index+1:]...)
	return msg, nil
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// Close discards queued messages and fails pending and future takes.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.msgs = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}
