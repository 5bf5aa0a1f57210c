// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// FileDescriptor describes one offered file in a manifest. The ID is a
// sender-local ordinal, unique within one manifest; it joins the
// manifest entry, the per-file access token, and the chunk stream.
// A descriptor is immutable once included in a manifest.
type FileDescriptor struct {
	ID       int           `json:"id"`
	FileName string        `json:"fileName"`
	Size     int64         `json:"size"`
	MimeType string        `json:"mimeType"`
	SHA256   string        `json:"sha256,omitempty"`
	Metadata *FileMetadata `json:"metadata,omitempty"`
}

// FileMetadata carries optional filesystem timestamps for a file.
type FileMetadata struct {
	Modified *time.Time `json:"modified,omitempty"`
	Accessed *time.Time `json:"accessed,omitempty"`
}

// AuthStatus is the responder's verdict in the handshake token and PIN
// exchanges. The values are protocol constants.
type AuthStatus string

const (
	// StatusOK accepts the presented token or PIN.
	StatusOK AuthStatus = "OK"
	// StatusPinRequired demands a PIN before access is granted. Also
	// sent after a wrong PIN while attempts remain.
	StatusPinRequired AuthStatus = "PIN_REQUIRED"
	// StatusInvalidSignature rejects a token whose signature or hash
	// does not verify. Fatal to the session.
	StatusInvalidSignature AuthStatus = "INVALID_SIGNATURE"
	// StatusTooManyAttempts terminates the PIN exchange after the
	// attempt budget is exhausted. Fatal to the session.
	StatusTooManyAttempts AuthStatus = "TOO_MANY_ATTEMPTS"
	// StatusPair asks the file-presenting side to confirm a pairing
	// before the transfer proceeds.
	StatusPair AuthStatus = "PAIR"
	// StatusPairDeclined is the file-presenting side refusing a PAIR
	// request. The remote answers with exactly one fallback verdict.
	StatusPairDeclined AuthStatus = "PAIR_DECLINED"
)

// Control is a data-channel control message. Concrete types:
// [NonceExchange], [TokenPresentation], [AuthResponse], [PinSubmission],
// [Manifest], [AcceptedFiles], [FileHeader], [FileOutcome].
type Control interface {
	controlMessage()
}

// NonceExchange carries one side's random session nonce,
// base64url-encoded without padding.
type NonceExchange struct {
	Type  string `json:"type"` // "nonce"
	Nonce string `json:"nonce"`
}

// TokenPresentation carries the initiator's signed client token and the
// DER form of its public key (base64url, no padding). The responder
// answers with an [AuthResponse].
type TokenPresentation struct {
	Type      string `json:"type"` // "clientToken"
	Token     string `json:"token"`
	PublicKey string `json:"publicKey"`
}

// AuthResponse is the responder's verdict on a token or PIN. On
// StatusOK and StatusPinRequired it carries the responder's own token
// and public key so authentication is mutual.
type AuthResponse struct {
	Type      string     `json:"type"` // "authResponse"
	Status    AuthStatus `json:"status"`
	Token     string     `json:"token,omitempty"`
	PublicKey string     `json:"publicKey,omitempty"`
}

// PinSubmission carries a base64url-encoded PIN entered by the user.
// The expected PIN never travels; the gate decodes the submission and
// compares locally.
type PinSubmission struct {
	Type string `json:"type"` // "pin"
	Pin  string `json:"pin"`
}

// Manifest is the full list of offered files, sent by the
// authenticated file-holder before any bytes flow.
type Manifest struct {
	Type  string           `json:"type"` // "manifest"
	Files []FileDescriptor `json:"files"`
}

// AcceptedFiles maps accepted file IDs to their unguessable per-file
// tokens. Manifest IDs absent from the map are implicitly skipped.
type AcceptedFiles struct {
	Type  string         `json:"type"` // "acceptedFiles"
	Files map[int]string `json:"files"`
}

// FileHeader announces the file whose chunks follow. The token must
// match the one minted for this ID in [AcceptedFiles].
type FileHeader struct {
	Type  string `json:"type"` // "fileHeader"
	ID    int    `json:"id"`
	Token string `json:"token"`
}

// FileOutcome reports the receiver's verdict for one completed file.
type FileOutcome struct {
	Type    string `json:"type"` // "fileOutcome"
	ID      int    `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (NonceExchange) controlMessage()     {}
func (TokenPresentation) controlMessage() {}
func (AuthResponse) controlMessage()      {}
func (PinSubmission) controlMessage()     {}
func (Manifest) controlMessage()          {}
func (AcceptedFiles) controlMessage()     {}
func (FileHeader) controlMessage()        {}
func (FileOutcome) controlMessage()       {}

// MarshalControl serializes a control message, filling in its "type"
// discriminator. Callers may leave the Type field zero-valued.
func MarshalControl(message Control) ([]byte, error) {
	switch m := message.(type) {
	case NonceExchange:
		m.Type = "nonce"
		return json.Marshal(m)
	case TokenPresentation:
		m.Type = "clientToken"
		return json.Marshal(m)
	case AuthResponse:
		m.Type = "authResponse"
		return json.Marshal(m)
	case PinSubmission:
		m.Type = "pin"
		return json.Marshal(m)
	case Manifest:
		m.Type = "manifest"
		return json.Marshal(m)
	case AcceptedFiles:
		m.Type = "acceptedFiles"
		return json.Marshal(m)
	case FileHeader:
		m.Type = "fileHeader"
		return json.Marshal(m)
	case FileOutcome:
		m.Type = "fileOutcome"
		return json.Marshal(m)
	default:
		panic(fmt.Sprintf("wire: unregistered control type %T", message))
	}
}

// decodeControl unmarshals data into a concrete control variant.
func decodeControl[T Control](tag string, data []byte) (Control, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: malformed %s control message: %w", tag, err)
	}
	return m, nil
}

// ParseControl decodes one control payload into its tagged variant. An
// unrecognized type or malformed payload is a protocol error — callers
// treat it as fatal to the session.
func ParseControl(data []byte) (Control, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("wire: malformed control message: %w", err)
	}

	switch probe.Type {
	case "nonce":
		return decodeControl[NonceExchange](probe.Type, data)
	case "clientToken":
		return decodeControl[TokenPresentation](probe.Type, data)
	case "authResponse":
		return decodeControl[AuthResponse](probe.Type, data)
	case "pin":
		return decodeControl[PinSubmission](probe.Type, data)
	case "manifest":
		return decodeControl[Manifest](probe.Type, data)
	case "acceptedFiles":
		return decodeControl[AcceptedFiles](probe.Type, data)
	case "fileHeader":
		return decodeControl[FileHeader](probe.Type, data)
	case "fileOutcome":
		return decodeControl[FileOutcome](probe.Type, data)
	default:
		return nil, fmt.Errorf("wire: unrecognized control message type %q", probe.Type)
	}
}
