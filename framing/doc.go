// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package framing implements the message layer shared by the handshake
// and transfer protocols: two frame kinds (text and binary) multiplexed
// over one ordered, lossless transport channel.
//
// A control message is zero or more binary fragments followed by exactly
// one text fragment; [ChunkControl] splits oversized payloads into
// fragments of at most [FragmentSize] bytes, and the receive side
// reassembles by concatenating buffered binary fragments with the text
// fragment's bytes. Binary and text never interleave within one logical
// message. The single-character text frame "0" is the end-of-block
// delimiter: it signals that no further file chunks belong to the
// current logical block, and it is recognized before any JSON parsing.
//
// [Inbox] turns the transport's push-style message delivery into a
// pull interface with at most one active consumer. Items buffer
// unboundedly until consumed; releasing a consumer keeps unconsumed
// items available to the next one, so a reader can stop at a delimiter
// and a later reader resumes with the remainder. Creating a second
// active consumer is a programming error and panics.
//
// [Conn] bundles an outbound [Channel] with an inbound Inbox of frames
// and provides the control read/write operations and the buffered-amount
// waits (backpressure, pre-close drain) used by both protocol roles.
package framing
