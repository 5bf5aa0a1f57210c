// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling maintains the WebSocket connection to the relay
// server: it registers the local identity, tracks the peer roster, and
// forwards session-description offers and answers between peers.
//
// [Client] is an explicitly owned instance with a blocking [Client.Run]
// loop, mirroring the transport listener pattern: the caller starts Run
// in a goroutine and waits on [Client.Ready]. All inbound activity —
// connection state changes, roster deltas, relayed offers and answers —
// is consumed as tagged [Event] variants through a single
// framing.Inbox, so callers write ordinary sequential code instead of
// registering callbacks.
//
// The connection is expendable by design: on any failure the client
// resets the roster to empty, reports a [Disconnected] event, waits a
// fixed five-second backoff, and redials unconditionally. There is no
// exponential backoff and no give-up; the next successful hello
// rebuilds the roster from scratch. A keepalive empty text frame every
// two minutes holds intermediaries open.
//
// Session descriptions are compressed on send and decompressed on
// receive (wire.CompressSDP), so callers only ever see plain SDP text.
package signaling
