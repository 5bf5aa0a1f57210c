// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the peer protocol version announced in ClientInfo.
// Peers with mismatched major versions refuse to negotiate a session.
const ProtocolVersion = "2.0"

// DeviceType classifies the peer's device for display purposes.
type DeviceType string

// Device types recognized by the roster. The relay passes the value
// through verbatim; unknown values degrade to a generic display.
const (
	DeviceMobile   DeviceType = "mobile"
	DeviceDesktop  DeviceType = "desktop"
	DeviceWeb      DeviceType = "web"
	DeviceHeadless DeviceType = "headless"
	DeviceServer   DeviceType = "server"
)

// ClientInfo is the self-description a peer registers with the relay.
// It never contains the peer ID — the relay is the sole authority for
// ID assignment and uniqueness.
type ClientInfo struct {
	Alias           string     `json:"alias"`
	ProtocolVersion string     `json:"protocolVersion"`
	DeviceModel     string     `json:"deviceModel,omitempty"`
	DeviceType      DeviceType `json:"deviceType"`
}

// Peer is a roster entry: a relay-assigned, session-scoped ID plus the
// peer's self-description. AuthToken is issued by the relay on
// registration and identifies this connection for subsequent updates.
type Peer struct {
	ID        string     `json:"id"`
	Info      ClientInfo `json:"info"`
	AuthToken string     `json:"authToken,omitempty"`
}

// RelayMessage is a server-to-client relay message. Concrete types:
// [Hello], [PeerJoined], [PeerLeft], [PeerUpdated], [OfferRelayed],
// [AnswerRelayed], [RelayError].
type RelayMessage interface {
	relayMessage()
}

// Hello is the first message on every relay connection: the registered
// local identity and the current roster.
type Hello struct {
	Client Peer   `json:"client"`
	Peers  []Peer `json:"peers"`
}

// PeerJoined announces a peer that connected after the hello roster.
type PeerJoined struct {
	Peer Peer `json:"peer"`
}

// PeerLeft announces a peer disconnecting from the relay.
type PeerLeft struct {
	PeerID string `json:"peerId"`
}

// PeerUpdated carries a peer's changed self-description (alias, device
// info). The ID is stable; only Info changes.
type PeerUpdated struct {
	Peer Peer `json:"peer"`
}

// OfferRelayed is a session-description offer forwarded from another
// peer. SDP is compressed per [CompressSDP].
type OfferRelayed struct {
	Peer      Peer   `json:"peer"`
	SessionID string `json:"sessionId"`
	SDP       string `json:"sdp"`
}

// AnswerRelayed is a session-description answer forwarded from another
// peer. SDP is compressed per [CompressSDP].
type AnswerRelayed struct {
	Peer      Peer   `json:"peer"`
	SessionID string `json:"sessionId"`
	SDP       string `json:"sdp"`
}

// RelayError reports a server-side error code (e.g. an unknown signal
// target). The connection stays open.
type RelayError struct {
	Code string `json:"code"`
}

func (Hello) relayMessage()         {}
func (PeerJoined) relayMessage()    {}
func (PeerLeft) relayMessage()      {}
func (PeerUpdated) relayMessage()   {}
func (OfferRelayed) relayMessage()  {}
func (AnswerRelayed) relayMessage() {}
func (RelayError) relayMessage()    {}

// relayEnvelope carries the discriminator plus the union of all
// server-message fields. Decoding through the envelope avoids a second
// JSON pass per message.
type relayEnvelope struct {
	Type      string     `json:"type"`
	Client    *Peer      `json:"client,omitempty"`
	Peers     []Peer     `json:"peers,omitempty"`
	Peer      *Peer      `json:"peer,omitempty"`
	PeerID    string     `json:"peerId,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	SDP       string     `json:"sdp,omitempty"`
	Code      string     `json:"code,omitempty"`
	Info      *ClientInfo `json:"info,omitempty"`
}

// ParseRelayMessage decodes one server-to-client relay frame. An
// unrecognized "type" value is an error: the relay protocol is
// versioned through ClientInfo, so an unknown message means the client
// is talking to an incompatible server.
func ParseRelayMessage(data []byte) (RelayMessage, error) {
	var envelope relayEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("wire: malformed relay message: %w", err)
	}

	switch envelope.Type {
	case "hello":
		if envelope.Client == nil {
			return nil, fmt.Errorf("wire: hello without client identity")
		}
		return Hello{Client: *envelope.Client, Peers: envelope.Peers}, nil
	case "joined":
		if envelope.Peer == nil {
			return nil, fmt.Errorf("wire: joined without peer")
		}
		return PeerJoined{Peer: *envelope.Peer}, nil
	case "left":
		if envelope.PeerID == "" {
			return nil, fmt.Errorf("wire: left without peerId")
		}
		return PeerLeft{PeerID: envelope.PeerID}, nil
	case "update":
		if envelope.Peer == nil {
			return nil, fmt.Errorf("wire: update without peer")
		}
		return PeerUpdated{Peer: *envelope.Peer}, nil
	case "offer":
		if envelope.Peer == nil {
			return nil, fmt.Errorf("wire: offer without peer")
		}
		return OfferRelayed{Peer: *envelope.Peer, SessionID: envelope.SessionID, SDP: envelope.SDP}, nil
	case "answer":
		if envelope.Peer == nil {
			return nil, fmt.Errorf("wire: answer without peer")
		}
		return AnswerRelayed{Peer: *envelope.Peer, SessionID: envelope.SessionID, SDP: envelope.SDP}, nil
	case "error":
		return RelayError{Code: envelope.Code}, nil
	default:
		return nil, fmt.Errorf("wire: unrecognized relay message type %q", envelope.Type)
	}
}

// OfferSignal is a client-to-server request to forward a session
// offer to the target peer.
type OfferSignal struct {
	Type      string `json:"type"` // always "offer"
	SessionID string `json:"sessionId"`
	Target    string `json:"target"`
	SDP       string `json:"sdp"`
}

// AnswerSignal is a client-to-server request to forward a session
// answer to the target peer.
type AnswerSignal struct {
	Type      string `json:"type"` // always "answer"
	SessionID string `json:"sessionId"`
	Target    string `json:"target"`
	SDP       string `json:"sdp"`
}

// InfoUpdate is a client-to-server notification that the local
// self-description changed. The relay rebroadcasts it to the roster as
// an "update" message.
type InfoUpdate struct {
	Type string     `json:"type"` // always "UPDATE"
	Info ClientInfo `json:"info"`
}
