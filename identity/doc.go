// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity provides the ephemeral cryptographic identity used
// to authenticate peers without a central authority.
//
// Each process generates one Ed25519 keypair ([New]) that lives for the
// process lifetime — there is deliberately no persistence, so a peer's
// identity is scoped to one session of the application. During the
// session handshake both sides exchange random nonces and present a
// signed [ClientToken]: a dot-separated string binding the key to the
// combined nonce material of exactly one handshake.
//
// Token layout:
//
//	hashMethod . b64url(sha256(pubkeyDER ‖ nonce)) . b64url(nonce) . signMethod . b64url(signature)
//
// where the signature covers the hash bytes. Verification recomputes
// the hash from the presented public key and the embedded nonce,
// checks the Ed25519 signature, and requires the embedded nonce to
// equal the nonce material of the current handshake. [Verifier] adds
// replay protection on top: nonce material registered with Expect is
// single-use and expires after the freshness window.
//
// Tokens are time-bound but not revocable mid-window; a compromised
// keypair stays valid until its nonces age out. That is an accepted
// limitation of the authority-free design.
package identity
