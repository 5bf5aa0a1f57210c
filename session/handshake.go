// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/identity"
	"github.com/beamlink/beamlink/wire"
)

// defaultMaxPinAttempts bounds the PIN retry sub-loop when the
// configuration does not set a budget.
const defaultMaxPinAttempts = 3

// ErrAuthFailed reports a token that did not verify, in either
// direction. Fatal to the session.
var ErrAuthFailed = errors.New("session: peer authentication failed")

// ErrPinExhausted reports a PIN gate whose attempt budget ran out.
// Fatal to the session.
var ErrPinExhausted = errors.New("session: pin attempts exhausted")

// ErrDeclined reports a clean, user-driven termination: the PIN prompt
// yielded no value, or a required pairing was refused. Not an error
// condition to surface loudly.
var ErrDeclined = errors.New("session: declined by user")

// handshakeEncoding encodes nonces, public keys, and PINs on the wire.
var handshakeEncoding = base64.RawURLEncoding

// HandshakeConfig carries one side's identity and policy for a
// session handshake. Identity is required. Verifier, when set, enforces
// nonce freshness and single use on peer tokens in either role.
type HandshakeConfig struct {
	Identity *identity.Identity
	Verifier *identity.Verifier

	// PIN, when non-empty, gates the responder: the initiator must
	// submit a matching PIN within MaxPinAttempts tries.
	PIN            string
	MaxPinAttempts int

	// PinPrompt obtains a PIN from the user on the initiator side.
	// Returning false declines, and the session terminates cleanly.
	// A nil prompt declines immediately.
	PinPrompt func(ctx context.Context) (string, bool)

	// PinGateEntered, when set, is notified once when the PIN gate
	// engages: the responder demands a PIN, or the initiator receives
	// that demand.
	PinGateEntered func()

	// RequestPairing makes the responder ask the initiator to confirm
	// a pairing before the transfer proceeds. AcceptPairing answers
	// that request on the initiator side; nil declines.
	RequestPairing bool
	AcceptPairing  func() bool

	Logger *slog.Logger
}

func (config HandshakeConfig) logger() *slog.Logger {
	if config.Logger != nil {
		return config.Logger
	}
	return slog.Default()
}

func (config HandshakeConfig) maxPinAttempts() int {
	if config.MaxPinAttempts > 0 {
		return config.MaxPinAttempts
	}
	return defaultMaxPinAttempts
}

// sendControl marshals and writes one control message.
func sendControl(conn *framing.Conn, message wire.Control) error {
	payload, err := wire.MarshalControl(message)
	if err != nil {
		return err
	}
	return conn.WriteControl(payload)
}

// readControl reads and parses one control message. A bare delimiter
// is a protocol violation during the handshake.
func readControl(ctx context.Context, conn *framing.Conn) (wire.Control, error) {
	payload, isDelimiter, err := conn.ReadControl(ctx)
	if err != nil {
		return nil, err
	}
	if isDelimiter {
		return nil, errors.New("session: unexpected delimiter during handshake")
	}
	return wire.ParseControl(payload)
}

// expectControl reads one control message and requires it to be of
// type T. Any other shape is transport-fatal.
func expectControl[T wire.Control](ctx context.Context, conn *framing.Conn) (T, error) {
	var zero T
	message, err := readControl(ctx, conn)
	if err != nil {
		return zero, err
	}
	typed, ok := message.(T)
	if !ok {
		return zero, fmt.Errorf("session: expected %T, got %T", zero, message)
	}
	return typed, nil
}

// exchangeNonces sends the local session nonce, reads the remote one,
// and returns the session-binding material (initiator bytes first).
func exchangeNonces(ctx context.Context, conn *framing.Conn, isInitiator bool) ([]byte, error) {
	local, err := identity.NewNonce()
	if err != nil {
		return nil, err
	}
	localMessage := wire.NonceExchange{
		Type:  "nonce",
		Nonce: handshakeEncoding.EncodeToString(local),
	}

	// The initiator speaks first; the responder echoes its own nonce.
	if isInitiator {
		if err := sendControl(conn, localMessage); err != nil {
			return nil, err
		}
	}
	remoteMessage, err := expectControl[wire.NonceExchange](ctx, conn)
	if err != nil {
		return nil, err
	}
	if !isInitiator {
		if err := sendControl(conn, localMessage); err != nil {
			return nil, err
		}
	}

	remote, err := handshakeEncoding.DecodeString(remoteMessage.Nonce)
	if err != nil {
		return nil, fmt.Errorf("session: decoding peer nonce: %w", err)
	}
	if err := identity.ValidateNonceLength(remote); err != nil {
		return nil, err
	}

	if isInitiator {
		return identity.NonceMaterial(local, remote), nil
	}
	return identity.NonceMaterial(remote, local), nil
}

// RunInitiator drives the handshake from the offering side: exchange
// nonces, present the signed token, then answer the responder's
// verdicts (PIN demands and pairing requests) until the session is
// accepted or terminated. On fatal verdicts and declines the transport
// is closed before returning.
func RunInitiator(ctx context.Context, conn *framing.Conn, config HandshakeConfig) error {
	material, err := exchangeNonces(ctx, conn, true)
	if err != nil {
		return err
	}
	if config.Verifier != nil {
		config.Verifier.Expect(material)
	}

	token, err := config.Identity.Token(material)
	if err != nil {
		return err
	}
	presentation := wire.TokenPresentation{
		Type:      "clientToken",
		Token:     token,
		PublicKey: handshakeEncoding.EncodeToString(config.Identity.PublicKeyDER()),
	}
	if err := sendControl(conn, presentation); err != nil {
		return err
	}

	peerVerified := false
	pairingDeclined := false
	pinGateSeen := false
	for {
		response, err := expectControl[wire.AuthResponse](ctx, conn)
		if err != nil {
			return err
		}

		// The responder's first non-fatal verdict carries its own
		// token; authentication is mutual.
		if response.Token != "" && !peerVerified {
			peerKey, err := handshakeEncoding.DecodeString(response.PublicKey)
			if err != nil {
				conn.Close()
				return fmt.Errorf("session: decoding responder public key: %w", err)
			}
			if config.Verifier != nil {
				_, err = config.Verifier.Verify(response.Token, peerKey, material)
			} else {
				_, err = identity.VerifyToken(response.Token, peerKey, material)
			}
			if err != nil {
				conn.Close()
				return fmt.Errorf("session: responder token rejected: %w", ErrAuthFailed)
			}
			peerVerified = true
		}

		switch response.Status {
		case wire.StatusOK:
			if !peerVerified {
				conn.Close()
				return fmt.Errorf("session: responder never presented a token: %w", ErrAuthFailed)
			}
			return nil

		case wire.StatusPinRequired:
			if !pinGateSeen {
				pinGateSeen = true
				if config.PinGateEntered != nil {
					config.PinGateEntered()
				}
			}
			if config.PinPrompt == nil {
				conn.Close()
				return ErrDeclined
			}
			pin, ok := config.PinPrompt(ctx)
			if !ok {
				conn.Close()
				return ErrDeclined
			}
			submission := wire.PinSubmission{
				Type: "pin",
				Pin:  handshakeEncoding.EncodeToString([]byte(pin)),
			}
			if err := sendControl(conn, submission); err != nil {
				return err
			}

		case wire.StatusPair:
			if pairingDeclined {
				// The responder insists after our decline. Give up
				// cleanly.
				conn.Close()
				return ErrDeclined
			}
			if config.AcceptPairing != nil && config.AcceptPairing() {
				if err := sendControl(conn, wire.AuthResponse{Type: "authResponse", Status: wire.StatusOK}); err != nil {
					return err
				}
				if !peerVerified {
					conn.Close()
					return fmt.Errorf("session: responder never presented a token: %w", ErrAuthFailed)
				}
				return nil
			}
			pairingDeclined = true
			if err := sendControl(conn, wire.AuthResponse{Type: "authResponse", Status: wire.StatusPairDeclined}); err != nil {
				return err
			}

		case wire.StatusInvalidSignature:
			return fmt.Errorf("session: responder rejected token: %w", ErrAuthFailed)

		case wire.StatusTooManyAttempts:
			return ErrPinExhausted

		case wire.StatusPairDeclined:
			conn.Close()
			return ErrDeclined

		default:
			conn.Close()
			return fmt.Errorf("session: unknown auth status %q", response.Status)
		}
	}
}

// RunResponder drives the handshake from the answering side: exchange
// nonces, verify the presented token (single use, within the
// freshness window when a Verifier is configured), then apply the PIN
// gate and pairing policy before accepting.
func RunResponder(ctx context.Context, conn *framing.Conn, config HandshakeConfig) error {
	material, err := exchangeNonces(ctx, conn, false)
	if err != nil {
		return err
	}
	if config.Verifier != nil {
		config.Verifier.Expect(material)
	}

	presented, err := expectControl[wire.TokenPresentation](ctx, conn)
	if err != nil {
		return err
	}
	peerKey, err := handshakeEncoding.DecodeString(presented.PublicKey)
	if err != nil {
		conn.Close()
		return fmt.Errorf("session: decoding initiator public key: %w", err)
	}

	if config.Verifier != nil {
		_, err = config.Verifier.Verify(presented.Token, peerKey, material)
	} else {
		_, err = identity.VerifyToken(presented.Token, peerKey, material)
	}
	if err != nil {
		sendControl(conn, wire.AuthResponse{Type: "authResponse", Status: wire.StatusInvalidSignature})
		conn.DrainAndClose(ctx)
		return fmt.Errorf("session: initiator token rejected: %w", ErrAuthFailed)
	}

	ownToken, err := config.Identity.Token(material)
	if err != nil {
		return err
	}
	tokenSent := false
	verdict := func(status wire.AuthStatus) wire.AuthResponse {
		response := wire.AuthResponse{Type: "authResponse", Status: status}
		if !tokenSent {
			response.Token = ownToken
			response.PublicKey = handshakeEncoding.EncodeToString(config.Identity.PublicKeyDER())
			tokenSent = true
		}
		return response
	}

	if config.PIN != "" {
		if err := runPinGate(ctx, conn, config, verdict); err != nil {
			return err
		}
	}

	if config.RequestPairing {
		if err := sendControl(conn, verdict(wire.StatusPair)); err != nil {
			return err
		}
		reply, err := expectControl[wire.AuthResponse](ctx, conn)
		if err != nil {
			return err
		}
		switch reply.Status {
		case wire.StatusOK:
			return nil
		case wire.StatusPairDeclined:
			// One fallback round: proceed without the pairing.
			config.logger().Info("pairing declined by peer, continuing unpaired")
			return sendControl(conn, verdict(wire.StatusOK))
		default:
			conn.Close()
			return fmt.Errorf("session: unexpected pairing reply %q", reply.Status)
		}
	}

	return sendControl(conn, verdict(wire.StatusOK))
}

// runPinGate demands PINs until one matches or the attempt budget is
// exhausted. Wrong submissions increment the counter; reaching the
// budget sends TOO_MANY_ATTEMPTS and closes after flushing outbound.
func runPinGate(ctx context.Context, conn *framing.Conn, config HandshakeConfig, verdict func(wire.AuthStatus) wire.AuthResponse) error {
	if config.PinGateEntered != nil {
		config.PinGateEntered()
	}
	if err := sendControl(conn, verdict(wire.StatusPinRequired)); err != nil {
		return err
	}

	wrongAttempts := 0
	maxAttempts := config.maxPinAttempts()
	for {
		submission, err := expectControl[wire.PinSubmission](ctx, conn)
		if err != nil {
			return err
		}
		pin, err := handshakeEncoding.DecodeString(submission.Pin)
		if err == nil && string(pin) == config.PIN {
			return nil
		}

		wrongAttempts++
		config.logger().Warn("wrong pin submitted",
			"attempt", wrongAttempts,
			"max", maxAttempts,
		)
		if wrongAttempts >= maxAttempts {
			if err := sendControl(conn, verdict(wire.StatusTooManyAttempts)); err != nil {
				return err
			}
			conn.DrainAndClose(ctx)
			return ErrPinExhausted
		}
		if err := sendControl(conn, verdict(wire.StatusPinRequired)); err != nil {
			return err
		}
	}
}
