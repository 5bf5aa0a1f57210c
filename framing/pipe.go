// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"sync"

	"github.com/beamlink/beamlink/lib/clock"
)

// Pipe returns two Conns wired back to back in process: frames written
// on one side are delivered to the other side's inbox, and closing
// either side fails both. It plays the role a data channel pair plays
// in production, so protocol code can be exercised without a network.
func Pipe(clk clock.Clock) (*Conn, *Conn) {
	left := &pipeChannel{}
	right := &pipeChannel{}
	leftConn := NewConn(left, clk)
	rightConn := NewConn(right, clk)
	left.local = leftConn
	left.remote = rightConn
	right.local = rightConn
	right.remote = leftConn
	return leftConn, rightConn
}

// pipeChannel delivers sends synchronously into the remote Conn. The
// buffered amount is always zero: in-process delivery never queues.
type pipeChannel struct {
	mu     sync.Mutex
	closed bool
	local  *Conn
	remote *Conn
}

func (channel *pipeChannel) SendText(text string) error {
	return channel.deliver(Frame{Kind: KindText, Data: []byte(text)})
}

func (channel *pipeChannel) Send(data []byte) error {
	// Copy: the sender may reuse its buffer after Send returns.
	clone := make([]byte, len(data))
	copy(clone, data)
	return channel.deliver(Frame{Kind: KindBinary, Data: clone})
}

func (channel *pipeChannel) deliver(frame Frame) error {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	if channel.closed {
		return ErrTransportClosed
	}
	channel.remote.Deliver(frame)
	return nil
}

func (channel *pipeChannel) BufferedAmount() uint64 { return 0 }

func (channel *pipeChannel) Close() error {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	if channel.closed {
		return nil
	}
	channel.closed = true
	channel.local.Fail(ErrTransportClosed)
	channel.remote.Fail(ErrTransportClosed)
	return nil
}
