// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// Identity is an ephemeral Ed25519 keypair. It is generated per
// process and never persisted.
type Identity struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
	der     []byte
}

// New generates a fresh identity.
func New() (*Identity, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating keypair: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("identity: encoding public key: %w", err)
	}
	return &Identity{public: public, private: private, der: der}, nil
}

// PublicKeyDER returns the PKIX DER encoding of the public key, the
// form that is hashed into tokens and presented to peers.
func (id *Identity) PublicKeyDER() []byte {
	return id.der
}

// sign produces an Ed25519 signature over message.
func (id *Identity) sign(message []byte) []byte {
	return ed25519.Sign(id.private, message)
}
