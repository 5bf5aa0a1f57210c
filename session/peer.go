// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/lib/clock"
)

// dataChannelLabel names the single data channel a session uses for
// both control messages and file chunks.
const dataChannelLabel = "beamlink"

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before giving up on the session description.
const iceGatherTimeout = 15 * time.Second

// channelOpenTimeout is the maximum time to wait for the data channel
// to open after the session descriptions are exchanged.
const channelOpenTimeout = 30 * time.Second

// Peer owns one WebRTC peer connection and the framed data channel
// riding on it. The caller role creates the channel and produces an
// offer; the callee role answers and adopts the inbound channel. Both
// converge on WaitOpen.
type Peer struct {
	connection *webrtc.PeerConnection
	clock      clock.Clock
	logger     *slog.Logger

	mu     sync.Mutex
	conn   *framing.Conn
	opened chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// NewPeer creates a peer connection with the given ICE servers.
// Loopback candidates are enabled so same-machine sessions and test
// environments work without a reachable external interface.
func NewPeer(iceServers []webrtc.ICEServer, clk clock.Clock, logger *slog.Logger) (*Peer, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	connection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("session: creating peer connection: %w", err)
	}

	peer := &Peer{
		connection: connection,
		clock:      clk,
		logger:     logger,
		opened:     make(chan struct{}),
		closed:     make(chan struct{}),
	}
	connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("ICE state change", "state", state.String())
	})
	return peer, nil
}

// Offer creates the session data channel, gathers all ICE candidates,
// and returns the complete local SDP offer.
func (peer *Peer) Offer(ctx context.Context) (string, error) {
	ordered := true
	dc, err := peer.connection.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return "", fmt.Errorf("session: creating data channel: %w", err)
	}
	peer.adopt(dc)

	offer, err := peer.connection.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("session: creating offer: %w", err)
	}
	return peer.completeLocalDescription(ctx, offer)
}

// AcceptAnswer applies the remote SDP answer to a peer that offered.
func (peer *Peer) AcceptAnswer(sdp string) error {
	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}
	if err := peer.connection.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("session: setting remote answer: %w", err)
	}
	return nil
}

// Answer responds to a remote SDP offer: it registers the inbound data
// channel handler, gathers all ICE candidates, and returns the
// complete local SDP answer.
func (peer *Peer) Answer(ctx context.Context, offerSDP string) (string, error) {
	peer.connection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			peer.logger.Warn("unexpected data channel ignored", "label", dc.Label())
			return
		}
		peer.adopt(dc)
	})

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}
	if err := peer.connection.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("session: setting remote offer: %w", err)
	}

	answer, err := peer.connection.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("session: creating answer: %w", err)
	}
	return peer.completeLocalDescription(ctx, answer)
}

// completeLocalDescription sets the local description and waits for
// ICE gathering to finish, so the returned SDP carries every
// candidate.
func (peer *Peer) completeLocalDescription(ctx context.Context, description webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(peer.connection)
	if err := peer.connection.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("session: setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-peer.clock.After(iceGatherTimeout):
		return "", fmt.Errorf("session: ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-peer.closed:
		return "", framing.ErrTransportClosed
	}
	return peer.connection.LocalDescription().SDP, nil
}

// adopt wires the session data channel into a framed connection.
// Inbound handlers are registered immediately; the opened signal fires
// once the channel is usable.
func (peer *Peer) adopt(dc *webrtc.DataChannel) {
	conn := framing.NewConn(dataChannel{dc: dc}, peer.clock)
	wireInbound(dc, conn)
	dc.OnOpen(func() {
		peer.mu.Lock()
		peer.conn = conn
		peer.mu.Unlock()
		close(peer.opened)
	})
}

// WaitOpen blocks until the session data channel is open and returns
// the framed connection.
func (peer *Peer) WaitOpen(ctx context.Context) (*framing.Conn, error) {
	select {
	case <-peer.opened:
	case <-peer.clock.After(channelOpenTimeout):
		return nil, fmt.Errorf("session: data channel did not open within %s", channelOpenTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-peer.closed:
		return nil, framing.ErrTransportClosed
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()
	return peer.conn, nil
}

// Close tears down the peer connection. The data channel's close
// handler fails the framed connection, so suspended protocol
// operations observe the shutdown.
func (peer *Peer) Close() error {
	var err error
	peer.closeOnce.Do(func() {
		close(peer.closed)
		err = peer.connection.Close()
	})
	return err
}
