// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"fmt"
	"sync"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/wire"
)

// MemoryHub is an in-process signaling relay: peers that join the same
// hub see each other in the roster and can exchange offers and
// answers without a network. Used by tests and same-process setups.
type MemoryHub struct {
	mu      sync.Mutex
	nextID  int
	clients map[string]*MemorySignaler
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{clients: make(map[string]*MemorySignaler)}
}

// Join registers a peer and returns its signaler. The new peer
// receives a Connected event carrying the current roster; existing
// peers receive PeerJoined.
func (hub *MemoryHub) Join(info wire.ClientInfo) *MemorySignaler {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	hub.nextID++
	self := wire.Peer{
		ID:   fmt.Sprintf("peer-%d", hub.nextID),
		Info: info,
	}
	signaler := &MemorySignaler{
		hub:    hub,
		self:   self,
		events: framing.NewInbox[Event](),
	}

	roster := make([]wire.Peer, 0, len(hub.clients))
	for _, other := range hub.clients {
		roster = append(roster, other.self)
		other.events.Append(PeerJoined{Peer: self})
	}
	hub.clients[self.ID] = signaler
	signaler.events.Append(Connected{Self: self, Peers: roster})
	return signaler
}

// MemorySignaler is one peer's handle on a MemoryHub. It mirrors the
// Client surface the session layer consumes.
type MemorySignaler struct {
	hub    *MemoryHub
	self   wire.Peer
	events *framing.Inbox[Event]
}

// Self returns the hub-assigned peer identity.
func (signaler *MemorySignaler) Self() wire.Peer {
	return signaler.self
}

// Events exposes the inbound signaling event inbox.
func (signaler *MemorySignaler) Events() *framing.Inbox[Event] {
	return signaler.events
}

// SendOffer delivers an SDP offer to the target peer.
func (signaler *MemorySignaler) SendOffer(target, sessionID, sdp string) error {
	return signaler.deliver(target, func(remote *MemorySignaler) {
		remote.events.Append(OfferReceived{
			Peer:      signaler.self,
			SessionID: sessionID,
			SDP:       sdp,
		})
	})
}

// SendAnswer delivers an SDP answer to the target peer.
func (signaler *MemorySignaler) SendAnswer(target, sessionID, sdp string) error {
	return signaler.deliver(target, func(remote *MemorySignaler) {
		remote.events.Append(AnswerReceived{
			Peer:      signaler.self,
			SessionID: sessionID,
			SDP:       sdp,
		})
	})
}

func (signaler *MemorySignaler) deliver(target string, send func(*MemorySignaler)) error {
	signaler.hub.mu.Lock()
	remote, ok := signaler.hub.clients[target]
	signaler.hub.mu.Unlock()
	if !ok {
		return fmt.Errorf("signaling: no peer %s on hub", target)
	}
	send(remote)
	return nil
}

// Close removes the peer from the hub. Other peers receive PeerLeft;
// pending event reads observe ErrNotConnected.
func (signaler *MemorySignaler) Close() error {
	signaler.hub.mu.Lock()
	delete(signaler.hub.clients, signaler.self.ID)
	others := make([]*MemorySignaler, 0, len(signaler.hub.clients))
	for _, other := range signaler.hub.clients {
		others = append(others, other)
	}
	signaler.hub.mu.Unlock()

	for _, other := range others {
		other.events.Append(PeerLeft{PeerID: signaler.self.ID})
	}
	signaler.events.Fail(ErrNotConnected)
	return nil
}
