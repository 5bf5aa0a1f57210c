// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beamlink/beamlink/lib/clock"
)

// bufferPollInterval is how often buffered-amount waits re-check the
// transport's outstanding byte count.
const bufferPollInterval = 50 * time.Millisecond

// ErrTransportClosed is the failure delivered to pending reads when the
// underlying transport closes. Suspended operations observe it and
// terminate with an aborted outcome instead of hanging.
var ErrTransportClosed = errors.New("framing: transport closed")

// Channel is the outbound half of an ordered, lossless message
// transport: a WebRTC data channel in production, an in-process fake in
// tests. BufferedAmount reports bytes queued locally but not yet
// acknowledged by the transport — the value backpressure waits poll.
type Channel interface {
	SendText(text string) error
	Send(data []byte) error
	BufferedAmount() uint64
	Close() error
}

// Conn bundles a Channel with the inbox of inbound frames and provides
// the control-message operations used by the handshake and transfer
// protocols. The transport's message handler calls Deliver for each
// inbound frame and Fail when the transport dies.
type Conn struct {
	channel Channel
	frames  *Inbox[Frame]
	clock   clock.Clock

	failed   chan struct{}
	failOnce sync.Once
}

// NewConn wraps an outbound channel. The caller wires inbound delivery
// by invoking Deliver/Fail from the transport's handlers.
func NewConn(channel Channel, clk clock.Clock) *Conn {
	return &Conn{
		channel: channel,
		frames:  NewInbox[Frame](),
		clock:   clk,
		failed:  make(chan struct{}),
	}
}

// Deliver appends one inbound frame. Called from the transport's
// message handler; never blocks.
func (conn *Conn) Deliver(frame Frame) {
	conn.frames.Append(frame)
}

// Fail marks the transport dead. Pending and future reads drain any
// buffered frames, then observe the error; buffered-amount waits wake
// immediately.
func (conn *Conn) Fail(err error) {
	conn.frames.Fail(err)
	conn.failOnce.Do(func() { close(conn.failed) })
}

// Frames exposes the inbound frame inbox for protocol loops that need
// frame-level access (the transfer receive loop).
func (conn *Conn) Frames() *Inbox[Frame] {
	return conn.frames
}

// WriteFrame sends one pre-built frame.
func (conn *Conn) WriteFrame(frame Frame) error {
	if frame.Kind == KindText {
		return conn.channel.SendText(string(frame.Data))
	}
	return conn.channel.Send(frame.Data)
}

// WriteControl sends one control payload, chunking it into fragments
// when it exceeds FragmentSize.
func (conn *Conn) WriteControl(payload []byte) error {
	for _, frame := range ChunkControl(payload) {
		if err := conn.WriteFrame(frame); err != nil {
			return fmt.Errorf("framing: sending control fragment: %w", err)
		}
	}
	return nil
}

// WriteDelimiter sends the bare end-of-block delimiter.
func (conn *Conn) WriteDelimiter() error {
	return conn.WriteFrame(DelimiterFrame())
}

// ReadControl reads one logical control message: binary fragments are
// buffered until a text frame completes the payload. The second return
// is true when the message is the bare delimiter. A binary frame
// arriving where file chunks are not expected is part of a chunked
// control by contract (binary and text never interleave within one
// logical message).
func (conn *Conn) ReadControl(ctx context.Context) ([]byte, bool, error) {
	var pending []byte
	for {
		frame, err := conn.frames.ReadNext(ctx)
		if err != nil {
			return nil, false, err
		}
		if frame.Kind == KindBinary {
			pending = append(pending, frame.Data...)
			continue
		}
		if len(pending) == 0 && IsDelimiter(frame.Data) {
			return nil, true, nil
		}
		return append(pending, frame.Data...), false, nil
	}
}

// WaitBufferedBelow suspends until the channel's outstanding
// unacknowledged byte count is at or below mark, polling at a fixed
// short interval. This is the backpressure contract that bounds
// receiver-side buffering. A transport failure wakes the wait with
// ErrTransportClosed — a dead transport never acknowledges the bytes
// it has buffered.
func (conn *Conn) WaitBufferedBelow(ctx context.Context, mark uint64) error {
	for conn.channel.BufferedAmount() > mark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.failed:
			return ErrTransportClosed
		case <-conn.clock.After(bufferPollInterval):
		}
	}
	return nil
}

// DrainAndClose waits for the outbound buffer to reach zero, then
// closes the channel. Closing without draining can lose the final
// outcome or acknowledgment message. A transport that failed while
// draining counts as drained: its buffer will never flush, and the
// peer is already gone.
func (conn *Conn) DrainAndClose(ctx context.Context) error {
	if err := conn.WaitBufferedBelow(ctx, 0); err != nil {
		conn.channel.Close()
		if errors.Is(err, ErrTransportClosed) {
			return nil
		}
		return err
	}
	return conn.channel.Close()
}

// Close closes the outbound channel without draining.
func (conn *Conn) Close() error {
	return conn.channel.Close()
}
