// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Method tags embedded in tokens. Verification rejects any token whose
// tags are not exactly these values.
const (
	hashMethodSHA256  = "sha-256"
	signMethodEd25519 = "ed25519"
)

// tokenEncoding is base64url without padding for all binary token parts.
var tokenEncoding = base64.RawURLEncoding

// ErrTokenMalformed is returned when a token does not have the
// five-part dot-separated layout or a part fails to decode.
var ErrTokenMalformed = errors.New("identity: malformed token")

// ErrTokenInvalid is returned when a structurally valid token fails
// cryptographic verification: hash mismatch, bad signature, or a nonce
// that is not the one this handshake agreed on.
var ErrTokenInvalid = errors.New("identity: token verification failed")

// Token signs a client token over this identity's public key and the
// given nonce material. The nonce length must be within the protocol
// bounds; the local generator always produces 32-byte nonces, so the
// combined two-party material is 64 bytes.
func (id *Identity) Token(nonce []byte) (string, error) {
	if err := ValidateNonceLength(nonce); err != nil {
		return "", err
	}

	hash := tokenHash(id.der, nonce)
	signature := id.sign(hash)

	parts := []string{
		hashMethodSHA256,
		tokenEncoding.EncodeToString(hash),
		tokenEncoding.EncodeToString(nonce),
		signMethodEd25519,
		tokenEncoding.EncodeToString(signature),
	}
	return strings.Join(parts, "."), nil
}

// VerifyToken checks a peer's token against the public key it presented
// and the nonce material of the current handshake. On success it
// returns the parsed Ed25519 public key for the caller to pin. It does
// not enforce freshness or single-use; see [Verifier].
func VerifyToken(token string, publicKeyDER []byte, expectedNonce []byte) (ed25519.PublicKey, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: %d parts, want 5", ErrTokenMalformed, len(parts))
	}
	if parts[0] != hashMethodSHA256 {
		return nil, fmt.Errorf("%w: unrecognized hash method %q", ErrTokenMalformed, parts[0])
	}
	if parts[3] != signMethodEd25519 {
		return nil, fmt.Errorf("%w: unrecognized signature method %q", ErrTokenMalformed, parts[3])
	}

	hash, err := tokenEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable hash: %v", ErrTokenMalformed, err)
	}
	nonce, err := tokenEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable nonce: %v", ErrTokenMalformed, err)
	}
	signature, err := tokenEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable signature: %v", ErrTokenMalformed, err)
	}

	if err := ValidateNonceLength(nonce); err != nil {
		return nil, err
	}
	if !bytes.Equal(nonce, expectedNonce) {
		return nil, fmt.Errorf("%w: nonce does not match this handshake", ErrTokenInvalid)
	}
	if !bytes.Equal(hash, tokenHash(publicKeyDER, nonce)) {
		return nil, fmt.Errorf("%w: hash mismatch", ErrTokenInvalid)
	}

	parsed, err := x509.ParsePKIXPublicKey(publicKeyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable public key: %v", ErrTokenMalformed, err)
	}
	publicKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, want Ed25519", ErrTokenMalformed, parsed)
	}
	if !ed25519.Verify(publicKey, hash, signature) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrTokenInvalid)
	}

	return publicKey, nil
}

// tokenHash computes sha256(pubkeyDER ‖ nonce), the value tokens embed
// and sign.
func tokenHash(publicKeyDER, nonce []byte) []byte {
	hasher := sha256.New()
	hasher.Write(publicKeyDER)
	hasher.Write(nonce)
	return hasher.Sum(nil)
}
