// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/beamlink/beamlink/lib/clock"
)

// NonceSize is the length of locally generated nonces. The validation
// bounds below are the wider wire contract; 32 bytes is a local choice.
const NonceSize = 32

// Nonce length bounds accepted from peers.
const (
	minNonceLength = 16
	maxNonceLength = 128
)

// FreshnessWindow is the default maximum age of nonce material: a token
// over material older than this is rejected as a replay.
const FreshnessWindow = 5 * time.Minute

// NewNonce returns a fresh random nonce of NonceSize bytes.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("identity: generating nonce: %w", err)
	}
	return nonce, nil
}

// ValidateNonceLength enforces the wire bounds on nonce material.
func ValidateNonceLength(nonce []byte) error {
	if len(nonce) < minNonceLength || len(nonce) > maxNonceLength {
		return fmt.Errorf("identity: nonce length %d outside [%d,%d]", len(nonce), minNonceLength, maxNonceLength)
	}
	return nil
}

// NonceMaterial combines the two sides' nonces into the session-binding
// value. The initiator's bytes always come first — both sides must call
// this with the same argument order regardless of which nonce is
// locally generated, so the material is byte-identical on both ends.
func NonceMaterial(initiator, responder []byte) []byte {
	material := make([]byte, 0, len(initiator)+len(responder))
	material = append(material, initiator...)
	return append(material, responder...)
}

// Verifier validates peer tokens with replay protection. Nonce material
// must be registered with Expect when the handshake derives it; Verify
// then accepts exactly one token per registered material, and only
// while the material is younger than the freshness window.
type Verifier struct {
	clock  clock.Clock
	window time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // material → registration time
}

// NewVerifier creates a Verifier. A zero window means FreshnessWindow.
func NewVerifier(clk clock.Clock, window time.Duration) *Verifier {
	if window <= 0 {
		window = FreshnessWindow
	}
	return &Verifier{
		clock:   clk,
		window:  window,
		pending: make(map[string]time.Time),
	}
}

// Expect registers nonce material derived by a handshake. Registration
// time starts the freshness window.
func (verifier *Verifier) Expect(nonce []byte) {
	verifier.mu.Lock()
	defer verifier.mu.Unlock()
	verifier.prunedLocked()
	verifier.pending[string(nonce)] = verifier.clock.Now()
}

// Verify validates a peer token against registered nonce material. The
// material is consumed on success and on any cryptographic failure once
// it has been looked up — a token is single-use per nonce pair.
func (verifier *Verifier) Verify(token string, publicKeyDER, nonce []byte) (ed25519.PublicKey, error) {
	verifier.mu.Lock()
	registered, known := verifier.pending[string(nonce)]
	if known {
		delete(verifier.pending, string(nonce))
	}
	now := verifier.clock.Now()
	verifier.mu.Unlock()

	if !known {
		return nil, fmt.Errorf("%w: unknown or already used nonce material", ErrTokenInvalid)
	}
	if now.Sub(registered) > verifier.window {
		return nil, fmt.Errorf("%w: nonce material older than %s", ErrTokenInvalid, verifier.window)
	}
	return VerifyToken(token, publicKeyDER, nonce)
}

// prunedLocked drops expired material so the pending map cannot grow
// unboundedly across many abandoned handshakes.
func (verifier *Verifier) prunedLocked() {
	cutoff := verifier.clock.Now().Add(-verifier.window)
	for material, registered := range verifier.pending {
		if registered.Before(cutoff) {
			delete(verifier.pending, material)
		}
	}
}
