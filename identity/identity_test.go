// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beamlink/beamlink/lib/clock"
)

func testNonceMaterial(t *testing.T) []byte {
	t.Helper()
	local, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}
	remote, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}
	return NonceMaterial(local, remote)
}

func TestTokenRoundTrip(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)

	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	publicKey, err := VerifyToken(token, id.PublicKeyDER(), material)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if len(publicKey) == 0 {
		t.Error("VerifyToken returned no public key")
	}
}

func TestTokenHasFiveParts(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	token, err := id.Token(testNonceMaterial(t))
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		t.Fatalf("token has %d parts, want 5", len(parts))
	}
	if parts[0] != "sha-256" {
		t.Errorf("hash method = %q, want sha-256", parts[0])
	}
	if parts[3] != "ed25519" {
		t.Errorf("signature method = %q, want ed25519", parts[3])
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token contains non-base64url characters: %q", token)
	}
}

// TestVerifyToken_TamperedParts flips one character in each binary part
// of the token and requires verification to fail every time.
func TestVerifyToken_TamperedParts(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	parts := strings.Split(token, ".")
	for _, index := range []int{1, 2, 4} { // hash, nonce, signature
		tampered := make([]string, len(parts))
		copy(tampered, parts)
		mutated := []byte(tampered[index])
		if mutated[0] == 'A' {
			mutated[0] = 'B'
		} else {
			mutated[0] = 'A'
		}
		tampered[index] = string(mutated)

		if _, err := VerifyToken(strings.Join(tampered, "."), id.PublicKeyDER(), material); err == nil {
			t.Errorf("verification succeeded with tampered part %d", index)
		}
	}
}

func TestVerifyToken_UnrecognizedMethods(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	parts := strings.Split(token, ".")

	badHash := strings.Join(append([]string{"md5"}, parts[1:]...), ".")
	if _, err := VerifyToken(badHash, id.PublicKeyDER(), material); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("unknown hash method: error = %v, want ErrTokenMalformed", err)
	}

	badSign := strings.Join([]string{parts[0], parts[1], parts[2], "rsa", parts[4]}, ".")
	if _, err := VerifyToken(badSign, id.PublicKeyDER(), material); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("unknown signature method: error = %v, want ErrTokenMalformed", err)
	}
}

func TestVerifyToken_WrongNonce(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	other := testNonceMaterial(t)
	if _, err := VerifyToken(token, id.PublicKeyDER(), other); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid for foreign nonce material", err)
	}
}

func TestVerifyToken_WrongKey(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	impostor, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	if _, err := VerifyToken(token, impostor.PublicKeyDER(), material); err == nil {
		t.Error("verification succeeded against a different public key")
	}
}

func TestNonceBounds(t *testing.T) {
	if err := ValidateNonceLength(make([]byte, 15)); err == nil {
		t.Error("15-byte nonce accepted, want rejection")
	}
	if err := ValidateNonceLength(make([]byte, 129)); err == nil {
		t.Error("129-byte nonce accepted, want rejection")
	}
	for _, length := range []int{16, 32, 64, 128} {
		if err := ValidateNonceLength(make([]byte, length)); err != nil {
			t.Errorf("%d-byte nonce rejected: %v", length, err)
		}
	}
}

func TestNonceMaterialOrder(t *testing.T) {
	initiator := bytes.Repeat([]byte{1}, NonceSize)
	responder := bytes.Repeat([]byte{2}, NonceSize)

	material := NonceMaterial(initiator, responder)
	if len(material) != 2*NonceSize {
		t.Fatalf("material length = %d, want %d", len(material), 2*NonceSize)
	}
	if !bytes.Equal(material[:NonceSize], initiator) {
		t.Error("initiator bytes are not first in the material")
	}
	if !bytes.Equal(material[NonceSize:], responder) {
		t.Error("responder bytes are not last in the material")
	}
}

func TestVerifier_SingleUse(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	verifier := NewVerifier(clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), 0)
	verifier.Expect(material)

	if _, err := verifier.Verify(token, id.PublicKeyDER(), material); err != nil {
		t.Fatalf("first Verify failed: %v", err)
	}
	if _, err := verifier.Verify(token, id.PublicKeyDER(), material); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("replayed token: error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifier_FreshnessWindow(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	verifier := NewVerifier(fakeClock, 0)
	verifier.Expect(material)

	fakeClock.Advance(FreshnessWindow + time.Second)
	if _, err := verifier.Verify(token, id.PublicKeyDER(), material); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("stale material: error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifier_UnknownMaterial(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	material := testNonceMaterial(t)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	verifier := NewVerifier(clock.Fake(time.Unix(0, 0)), 0)
	if _, err := verifier.Verify(token, id.PublicKeyDER(), material); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("unregistered material: error = %v, want ErrTokenInvalid", err)
	}
}
