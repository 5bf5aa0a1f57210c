// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/identity"
	"github.com/beamlink/beamlink/lib/clock"
	"github.com/beamlink/beamlink/lib/testutil"
	"github.com/beamlink/beamlink/wire"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newHandshakeConfig(t *testing.T) HandshakeConfig {
	t.Helper()
	id, err := identity.New()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	return HandshakeConfig{
		Identity: id,
		Verifier: identity.NewVerifier(clock.Real(), 0),
		Logger:   quietLogger(),
	}
}

// runHandshake runs both roles concurrently over an in-process pipe
// and returns each side's result.
func runHandshake(t *testing.T, initiator, responder HandshakeConfig) (initiatorErr, responderErr error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initiatorConn, responderConn := framing.Pipe(clock.Real())
	results := make(chan error, 1)
	go func() {
		results <- RunResponder(ctx, responderConn, responder)
	}()
	initiatorErr = RunInitiator(ctx, initiatorConn, initiator)
	responderErr = testutil.RequireReceive(t, results, 10*time.Second, "responder result")
	return initiatorErr, responderErr
}

func TestHandshake_MutualAuth(t *testing.T) {
	initiatorErr, responderErr := runHandshake(t, newHandshakeConfig(t), newHandshakeConfig(t))
	if initiatorErr != nil {
		t.Errorf("initiator failed: %v", initiatorErr)
	}
	if responderErr != nil {
		t.Errorf("responder failed: %v", responderErr)
	}
}

func TestHandshake_PinCorrectWithinBudget(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.PIN = "482913"
	responder.MaxPinAttempts = 3

	// Two wrong submissions, then the correct PIN on the final
	// permitted attempt.
	submissions := []string{"000000", "111111", "482913"}
	initiator := newHandshakeConfig(t)
	initiator.PinPrompt = func(context.Context) (string, bool) {
		next := submissions[0]
		submissions = submissions[1:]
		return next, true
	}

	initiatorErr, responderErr := runHandshake(t, initiator, responder)
	if initiatorErr != nil {
		t.Errorf("initiator failed: %v", initiatorErr)
	}
	if responderErr != nil {
		t.Errorf("responder failed: %v", responderErr)
	}
	if len(submissions) != 0 {
		t.Errorf("%d submissions unused, want all consumed", len(submissions))
	}
}

func TestHandshake_PinExhausted(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.PIN = "482913"
	responder.MaxPinAttempts = 3

	prompts := 0
	initiator := newHandshakeConfig(t)
	initiator.PinPrompt = func(context.Context) (string, bool) {
		prompts++
		return "999999", true
	}

	initiatorErr, responderErr := runHandshake(t, initiator, responder)
	if !errors.Is(initiatorErr, ErrPinExhausted) {
		t.Errorf("initiator error = %v, want ErrPinExhausted", initiatorErr)
	}
	if !errors.Is(responderErr, ErrPinExhausted) {
		t.Errorf("responder error = %v, want ErrPinExhausted", responderErr)
	}
	if prompts != responder.MaxPinAttempts {
		t.Errorf("prompts = %d, want exactly %d", prompts, responder.MaxPinAttempts)
	}
}

func TestHandshake_PinGateNotifiesBothSidesOnce(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.PIN = "482913"
	responder.MaxPinAttempts = 3
	responderNotices := 0
	responder.PinGateEntered = func() { responderNotices++ }

	// Two wrong submissions force a retry, so the once-only guarantee
	// is observable on both sides.
	submissions := []string{"000000", "111111", "482913"}
	initiator := newHandshakeConfig(t)
	initiator.PinPrompt = func(context.Context) (string, bool) {
		next := submissions[0]
		submissions = submissions[1:]
		return next, true
	}
	initiatorNotices := 0
	initiator.PinGateEntered = func() { initiatorNotices++ }

	initiatorErr, responderErr := runHandshake(t, initiator, responder)
	if initiatorErr != nil {
		t.Errorf("initiator failed: %v", initiatorErr)
	}
	if responderErr != nil {
		t.Errorf("responder failed: %v", responderErr)
	}
	if responderNotices != 1 {
		t.Errorf("responder PIN gate notices = %d, want 1", responderNotices)
	}
	if initiatorNotices != 1 {
		t.Errorf("initiator PIN gate notices = %d, want 1", initiatorNotices)
	}
}

func TestHandshake_PinPromptDeclined(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.PIN = "482913"

	initiator := newHandshakeConfig(t)
	initiator.PinPrompt = func(context.Context) (string, bool) {
		return "", false
	}

	initiatorErr, responderErr := runHandshake(t, initiator, responder)
	if !errors.Is(initiatorErr, ErrDeclined) {
		t.Errorf("initiator error = %v, want ErrDeclined", initiatorErr)
	}
	// The responder observes the closed transport while waiting for a
	// PIN submission.
	if !errors.Is(responderErr, framing.ErrTransportClosed) {
		t.Errorf("responder error = %v, want ErrTransportClosed", responderErr)
	}
}

func TestHandshake_NilPromptDeclines(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.PIN = "482913"

	initiatorErr, _ := runHandshake(t, newHandshakeConfig(t), responder)
	if !errors.Is(initiatorErr, ErrDeclined) {
		t.Errorf("initiator error = %v, want ErrDeclined", initiatorErr)
	}
}

func TestHandshake_PairingAccepted(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.RequestPairing = true

	initiator := newHandshakeConfig(t)
	initiator.AcceptPairing = func() bool { return true }

	initiatorErr, responderErr := runHandshake(t, initiator, responder)
	if initiatorErr != nil {
		t.Errorf("initiator failed: %v", initiatorErr)
	}
	if responderErr != nil {
		t.Errorf("responder failed: %v", responderErr)
	}
}

func TestHandshake_PairingDeclinedFallsBack(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.RequestPairing = true

	// AcceptPairing nil: the initiator declines, and the responder's
	// single fallback verdict lets the session proceed unpaired.
	initiatorErr, responderErr := runHandshake(t, newHandshakeConfig(t), responder)
	if initiatorErr != nil {
		t.Errorf("initiator failed: %v", initiatorErr)
	}
	if responderErr != nil {
		t.Errorf("responder failed: %v", responderErr)
	}
}

func TestHandshake_PinThenPairing(t *testing.T) {
	responder := newHandshakeConfig(t)
	responder.PIN = "314159"
	responder.RequestPairing = true

	initiator := newHandshakeConfig(t)
	initiator.PinPrompt = func(context.Context) (string, bool) { return "314159", true }
	initiator.AcceptPairing = func() bool { return true }

	initiatorErr, responderErr := runHandshake(t, initiator, responder)
	if initiatorErr != nil {
		t.Errorf("initiator failed: %v", initiatorErr)
	}
	if responderErr != nil {
		t.Errorf("responder failed: %v", responderErr)
	}
}

// TestResponder_RejectsTamperedToken drives the initiator side by hand
// to present a token signed over the wrong material.
func TestResponder_RejectsTamperedToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initiatorConn, responderConn := framing.Pipe(clock.Real())
	results := make(chan error, 1)
	go func() {
		results <- RunResponder(ctx, responderConn, newHandshakeConfig(t))
	}()

	id, err := identity.New()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	localNonce, err := identity.NewNonce()
	if err != nil {
		t.Fatalf("generating nonce: %v", err)
	}
	if err := sendControl(initiatorConn, wire.NonceExchange{
		Type:  "nonce",
		Nonce: base64.RawURLEncoding.EncodeToString(localNonce),
	}); err != nil {
		t.Fatalf("sending nonce: %v", err)
	}
	if _, err := expectControl[wire.NonceExchange](ctx, initiatorConn); err != nil {
		t.Fatalf("reading responder nonce: %v", err)
	}

	// Sign over the local nonce alone instead of the session material.
	badToken, err := id.Token(localNonce)
	if err != nil {
		t.Fatalf("building token: %v", err)
	}
	if err := sendControl(initiatorConn, wire.TokenPresentation{
		Type:      "clientToken",
		Token:     badToken,
		PublicKey: base64.RawURLEncoding.EncodeToString(id.PublicKeyDER()),
	}); err != nil {
		t.Fatalf("sending token: %v", err)
	}

	response, err := expectControl[wire.AuthResponse](ctx, initiatorConn)
	if err != nil {
		t.Fatalf("reading verdict: %v", err)
	}
	if response.Status != wire.StatusInvalidSignature {
		t.Errorf("verdict = %q, want %q", response.Status, wire.StatusInvalidSignature)
	}
	if responderErr := testutil.RequireReceive(t, results, 10*time.Second, "responder result"); !errors.Is(responderErr, ErrAuthFailed) {
		t.Errorf("responder error = %v, want ErrAuthFailed", responderErr)
	}
}

// TestInitiator_RejectsStaleResponderToken drives the responder side
// by hand and delays its verdict past the freshness window; the
// initiator's verifier must reject the responder token.
func TestInitiator_RejectsStaleResponderToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fakeClock := clock.Fake(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	initiator := newHandshakeConfig(t)
	initiator.Verifier = identity.NewVerifier(fakeClock, time.Minute)

	initiatorConn, responderConn := framing.Pipe(clock.Real())
	results := make(chan error, 1)
	go func() {
		results <- RunInitiator(ctx, initiatorConn, initiator)
	}()

	remoteNonce, err := expectControl[wire.NonceExchange](ctx, responderConn)
	if err != nil {
		t.Fatalf("reading initiator nonce: %v", err)
	}
	initiatorNonce, err := base64.RawURLEncoding.DecodeString(remoteNonce.Nonce)
	if err != nil {
		t.Fatalf("decoding initiator nonce: %v", err)
	}
	localNonce, err := identity.NewNonce()
	if err != nil {
		t.Fatalf("generating nonce: %v", err)
	}
	if err := sendControl(responderConn, wire.NonceExchange{
		Type:  "nonce",
		Nonce: base64.RawURLEncoding.EncodeToString(localNonce),
	}); err != nil {
		t.Fatalf("sending nonce: %v", err)
	}
	if _, err := expectControl[wire.TokenPresentation](ctx, responderConn); err != nil {
		t.Fatalf("reading token presentation: %v", err)
	}

	// A correctly signed verdict, but issued after the material has
	// aged out of the initiator's freshness window.
	id, err := identity.New()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	material := identity.NonceMaterial(initiatorNonce, localNonce)
	token, err := id.Token(material)
	if err != nil {
		t.Fatalf("building token: %v", err)
	}
	fakeClock.Advance(2 * time.Minute)
	if err := sendControl(responderConn, wire.AuthResponse{
		Type:      "authResponse",
		Status:    wire.StatusOK,
		Token:     token,
		PublicKey: base64.RawURLEncoding.EncodeToString(id.PublicKeyDER()),
	}); err != nil {
		t.Fatalf("sending verdict: %v", err)
	}

	if initiatorErr := testutil.RequireReceive(t, results, 10*time.Second, "initiator result"); !errors.Is(initiatorErr, ErrAuthFailed) {
		t.Errorf("initiator error = %v, want ErrAuthFailed", initiatorErr)
	}
}

// TestHandshake_UnexpectedMessageIsFatal sends a manifest where a
// nonce is required.
func TestHandshake_UnexpectedMessageIsFatal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initiatorConn, responderConn := framing.Pipe(clock.Real())
	results := make(chan error, 1)
	go func() {
		results <- RunResponder(ctx, responderConn, newHandshakeConfig(t))
	}()

	if err := sendControl(initiatorConn, wire.Manifest{Type: "manifest"}); err != nil {
		t.Fatalf("sending manifest: %v", err)
	}
	if responderErr := testutil.RequireReceive(t, results, 10*time.Second, "responder result"); responderErr == nil {
		t.Error("responder accepted an out-of-order message, want error")
	}
}
