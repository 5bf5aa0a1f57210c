// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import "github.com/beamlink/beamlink/wire"

// Event is an inbound relay event. Concrete types: [Connected],
// [Disconnected], [PeerJoined], [PeerLeft], [PeerUpdated],
// [OfferReceived], [AnswerReceived], [RelayErrored]. Consumers switch
// exhaustively; an unknown concrete type is a programming error.
type Event interface {
	relayEvent()
}

// Connected reports a successful registration: the relay-assigned local
// identity and the roster at connect time.
type Connected struct {
	Self  wire.Peer
	Peers []wire.Peer
}

// Disconnected reports that the relay connection dropped. The roster
// has been reset; the client is about to back off and redial.
type Disconnected struct {
	Err error
}

// PeerJoined reports a peer arriving on the roster.
type PeerJoined struct {
	Peer wire.Peer
}

// PeerLeft reports a peer leaving the roster.
type PeerLeft struct {
	PeerID string
}

// PeerUpdated reports a peer's changed self-description.
type PeerUpdated struct {
	Peer wire.Peer
}

// OfferReceived is a session offer relayed from a peer. SDP is the
// decompressed session description.
type OfferReceived struct {
	Peer      wire.Peer
	SessionID string
	SDP       string
}

// AnswerReceived is a session answer relayed from a peer. SDP is the
// decompressed session description.
type AnswerReceived struct {
	Peer      wire.Peer
	SessionID string
	SDP       string
}

// RelayErrored is a server-reported error code. The connection stays
// up; the consumer decides whether the in-flight operation can proceed.
type RelayErrored struct {
	Code string
}

func (Connected) relayEvent()      {}
func (Disconnected) relayEvent()   {}
func (PeerJoined) relayEvent()     {}
func (PeerLeft) relayEvent()       {}
func (PeerUpdated) relayEvent()    {}
func (OfferReceived) relayEvent()  {}
func (AnswerReceived) relayEvent() {}
func (RelayErrored) relayEvent()   {}
