// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package session establishes authenticated direct-transport sessions
// between two peers. It owns three concerns: wrapping a WebRTC data
// channel as a framed connection, the offer/answer peer connection
// lifecycle with vanilla ICE (all candidates gathered before the SDP
// is exchanged, so signaling needs exactly one round-trip), and the
// cryptographic handshake that runs over the opened channel before any
// file data flows.
//
// The handshake authenticates both peers with single-use signed tokens
// bound to a per-session nonce pair, optionally gates access behind a
// human-entered PIN with a bounded retry budget, and supports a
// pairing request round that the file-presenting side may decline.
//
// The Orchestrator ties the pieces together: it consumes signaling
// events, enforces the one-active-session rule, and drives a transfer
// in either role once the handshake completes.
package session
