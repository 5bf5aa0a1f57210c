// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the JSON message shapes exchanged with the relay
// server and over the peer-to-peer data channel, and the codec for
// session descriptions carried through the relay.
//
// Relay messages flow over a WebSocket connection and are discriminated
// by a "type" field. [ParseRelayMessage] decodes a server frame into one
// of the concrete message types (hello, joined, left, update, offer,
// answer, error); unrecognized types are an error, never silently
// dropped. Client-to-server messages are [OfferSignal], [AnswerSignal],
// and [InfoUpdate].
//
// Data-channel control messages are likewise "type"-discriminated.
// [ParseControl] decodes one control payload into a [Control] variant
// (nonce, client token, auth response, PIN submission, manifest,
// accepted-file map, file header, file outcome). Consumers switch
// exhaustively over the variants; an unknown type is a protocol error
// that is fatal to the session.
//
// Session descriptions are large and highly compressible, so they are
// deflate-compressed and base64url-encoded (no padding) before they
// travel through the relay. [CompressSDP] and [DecompressSDP] implement
// that codec.
package wire
