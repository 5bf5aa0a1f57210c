// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"context"
	"sync"
)

// Inbox is a pull view over a transport that pushes asynchronously.
// The transport's inbound handler calls Append; protocol code reads
// through a [Consumer]. At most one consumer is active at a time, and
// releasing a consumer keeps unconsumed buffered items available to
// the next one.
//
// Inbox is safe for concurrent Append and consumption; the
// single-consumer restriction applies to Consume/Next/Release only.
type Inbox[T any] struct {
	mu     sync.Mutex
	items  []T
	err    error
	active bool

	// wake is closed and replaced whenever items or err change, waking
	// any blocked Next call.
	wake chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox[T any]() *Inbox[T] {
	return &Inbox[T]{wake: make(chan struct{})}
}

// Append adds an item. It never blocks and preserves arrival order.
// Items buffer unboundedly until consumed. Appending after Fail is
// allowed but the items are unreachable (consumers see the error
// after draining what was buffered before it).
func (inbox *Inbox[T]) Append(item T) {
	inbox.mu.Lock()
	defer inbox.mu.Unlock()
	inbox.items = append(inbox.items, item)
	inbox.wakeLocked()
}

// Fail terminates the inbox. Blocked and future Next calls drain the
// remaining buffered items, then return err. The first call wins;
// subsequent calls are no-ops.
func (inbox *Inbox[T]) Fail(err error) {
	inbox.mu.Lock()
	defer inbox.mu.Unlock()
	if inbox.err != nil {
		return
	}
	inbox.err = err
	inbox.wakeLocked()
}

// Consume acquires the single consumer slot and returns a handle for
// pulling items. The handle must be released before a new one is
// created; a second concurrent Consume panics — overlapping consumers
// are a programming error, not a recoverable condition.
func (inbox *Inbox[T]) Consume() *Consumer[T] {
	inbox.mu.Lock()
	defer inbox.mu.Unlock()
	if inbox.active {
		panic("framing: Inbox already has an active consumer")
	}
	inbox.active = true
	return &Consumer[T]{inbox: inbox}
}

// ReadNext consumes exactly one item then releases the consumer slot.
func (inbox *Inbox[T]) ReadNext(ctx context.Context) (T, error) {
	consumer := inbox.Consume()
	defer consumer.Release()
	return consumer.Next(ctx)
}

// wakeLocked signals state change to blocked consumers. Callers must
// hold inbox.mu.
func (inbox *Inbox[T]) wakeLocked() {
	close(inbox.wake)
	inbox.wake = make(chan struct{})
}

// Consumer is an exclusive pull handle over an Inbox.
type Consumer[T any] struct {
	inbox    *Inbox[T]
	released bool
}

// Next returns the oldest unconsumed item, suspending until one is
// appended. After Fail, Next drains the buffer then returns the
// failure error. Cancellation of ctx returns ctx.Err() without
// consuming anything.
func (consumer *Consumer[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if consumer.released {
		panic("framing: Next on released consumer")
	}
	for {
		consumer.inbox.mu.Lock()
		if len(consumer.inbox.items) > 0 {
			item := consumer.inbox.items[0]
			consumer.inbox.items = consumer.inbox.items[1:]
			consumer.inbox.mu.Unlock()
			return item, nil
		}
		if err := consumer.inbox.err; err != nil {
			consumer.inbox.mu.Unlock()
			return zero, err
		}
		wake := consumer.inbox.wake
		consumer.inbox.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Release frees the consumer slot without discarding unconsumed items;
// they remain available to the next consumer. Release is idempotent.
func (consumer *Consumer[T]) Release() {
	if consumer.released {
		return
	}
	consumer.released = true
	consumer.inbox.mu.Lock()
	consumer.inbox.active = false
	consumer.inbox.mu.Unlock()
}
