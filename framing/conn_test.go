// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beamlink/beamlink/lib/clock"
)

// fakeChannel records outbound frames and reports a script-controlled
// buffered amount.
type fakeChannel struct {
	mu       sync.Mutex
	frames   []Frame
	buffered uint64
	closed   bool
}

func (channel *fakeChannel) SendText(text string) error {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	channel.frames = append(channel.frames, Frame{Kind: KindText, Data: []byte(text)})
	return nil
}

func (channel *fakeChannel) Send(data []byte) error {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	copied := append([]byte(nil), data...)
	channel.frames = append(channel.frames, Frame{Kind: KindBinary, Data: copied})
	return nil
}

func (channel *fakeChannel) BufferedAmount() uint64 {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	return channel.buffered
}

func (channel *fakeChannel) Close() error {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	channel.closed = true
	return nil
}

func (channel *fakeChannel) setBuffered(amount uint64) {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	channel.buffered = amount
}

func (channel *fakeChannel) sentFrames() []Frame {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	return append([]Frame(nil), channel.frames...)
}

func (channel *fakeChannel) isClosed() bool {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	return channel.closed
}

func TestConn_ControlRoundTripThroughFrames(t *testing.T) {
	channel := &fakeChannel{}
	sender := NewConn(channel, clock.Real())

	// Large enough to force chunking, with multi-byte runes in the mix.
	payload := append([]byte(`{"padding":"`), bytes.Repeat([]byte("héllo "), 8*1024)...)
	payload = append(payload, []byte(`"}`)...)

	if err := sender.WriteControl(payload); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}

	receiver := NewConn(&fakeChannel{}, clock.Real())
	for _, frame := range channel.sentFrames() {
		receiver.Deliver(frame)
	}

	got, isDelimiter, err := receiver.ReadControl(context.Background())
	if err != nil {
		t.Fatalf("ReadControl failed: %v", err)
	}
	if isDelimiter {
		t.Fatal("control message misread as delimiter")
	}
	if !bytes.Equal(got, payload) {
		t.Error("reassembled control payload differs from original")
	}
}

func TestConn_ReadControlDelimiter(t *testing.T) {
	conn := NewConn(&fakeChannel{}, clock.Real())
	conn.Deliver(DelimiterFrame())

	payload, isDelimiter, err := conn.ReadControl(context.Background())
	if err != nil {
		t.Fatalf("ReadControl failed: %v", err)
	}
	if !isDelimiter {
		t.Error("delimiter not recognized")
	}
	if payload != nil {
		t.Errorf("delimiter carried payload %q, want none", payload)
	}
}

func TestConn_ReadControlObservesFailure(t *testing.T) {
	conn := NewConn(&fakeChannel{}, clock.Real())
	conn.Fail(ErrTransportClosed)

	_, _, err := conn.ReadControl(context.Background())
	if !errors.Is(err, ErrTransportClosed) {
		t.Errorf("error = %v, want ErrTransportClosed", err)
	}
}

func TestConn_WaitBufferedBelowBlocksWhileHigh(t *testing.T) {
	channel := &fakeChannel{}
	channel.setBuffered(2 * 1024 * 1024)
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	conn := NewConn(channel, fakeClock)

	done := make(chan error, 1)
	go func() {
		done <- conn.WaitBufferedBelow(context.Background(), 1024*1024)
	}()

	// The waiter registers its first poll timer and must stay blocked
	// while the buffered amount is above the mark.
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("WaitBufferedBelow returned %v while buffered amount was high", err)
	default:
	}

	// The waiter re-arms its poll timer before the buffered amount
	// drops; lowering it first could let the re-check return without
	// another timer and leave WaitForTimers stuck.
	fakeClock.WaitForTimers(1)
	channel.setBuffered(512 * 1024)
	fakeClock.Advance(50 * time.Millisecond)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitBufferedBelow failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitBufferedBelow did not return after buffered amount dropped")
	}
}

func TestConn_WaitBufferedBelowWakesOnTransportFailure(t *testing.T) {
	channel := &fakeChannel{}
	channel.setBuffered(2 * 1024 * 1024)
	fakeClock := clock.Fake(time.Unix(0, 0))
	conn := NewConn(channel, fakeClock)

	done := make(chan error, 1)
	go func() {
		done <- conn.WaitBufferedBelow(context.Background(), 0)
	}()
	fakeClock.WaitForTimers(1)

	// The peer closes the transport while the buffered amount is
	// frozen above the mark: the wait must not spin on the clock
	// forever.
	conn.Fail(ErrTransportClosed)

	select {
	case err := <-done:
		if !errors.Is(err, ErrTransportClosed) {
			t.Errorf("error = %v, want ErrTransportClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitBufferedBelow did not observe the transport failure")
	}
}

func TestConn_DrainAndCloseCompletesOnTransportFailure(t *testing.T) {
	channel := &fakeChannel{}
	channel.setBuffered(100)
	fakeClock := clock.Fake(time.Unix(0, 0))
	conn := NewConn(channel, fakeClock)

	done := make(chan error, 1)
	go func() {
		done <- conn.DrainAndClose(context.Background())
	}()
	fakeClock.WaitForTimers(1)
	conn.Fail(ErrTransportClosed)

	select {
	case err := <-done:
		// A transport that died mid-drain counts as drained: its
		// buffer will never flush.
		if err != nil {
			t.Errorf("DrainAndClose failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DrainAndClose did not observe the transport failure")
	}
	if !channel.isClosed() {
		t.Error("channel not closed after the transport failed")
	}
}

func TestConn_WaitBufferedBelowImmediateWhenLow(t *testing.T) {
	channel := &fakeChannel{}
	conn := NewConn(channel, clock.Fake(time.Unix(0, 0)))

	// No timer should be needed when the buffer is already below the
	// mark; with a fake clock a poll would block forever.
	if err := conn.WaitBufferedBelow(context.Background(), 1024); err != nil {
		t.Fatalf("WaitBufferedBelow failed: %v", err)
	}
}

func TestConn_DrainAndClose(t *testing.T) {
	channel := &fakeChannel{}
	channel.setBuffered(100)
	fakeClock := clock.Fake(time.Unix(0, 0))
	conn := NewConn(channel, fakeClock)

	done := make(chan error, 1)
	go func() {
		done <- conn.DrainAndClose(context.Background())
	}()

	fakeClock.WaitForTimers(1)
	if channel.isClosed() {
		t.Fatal("channel closed before the outbound buffer drained")
	}

	channel.setBuffered(0)
	fakeClock.Advance(50 * time.Millisecond)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("DrainAndClose failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DrainAndClose did not complete after drain")
	}
	if !channel.isClosed() {
		t.Error("channel not closed after drain")
	}
}
