// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/lib/clock"
	"github.com/beamlink/beamlink/wire"
)

// reconnectBackoff is the fixed wait between relay connection attempts.
// Deliberately not exponential: the relay is expected to come back, and
// a peer that waits minutes to reappear on rosters is broken in practice.
const reconnectBackoff = 5 * time.Second

// keepaliveInterval is how often an empty text frame is sent to hold
// the connection open through idle-sensitive intermediaries.
const keepaliveInterval = 120 * time.Second

// relayPath is the WebSocket endpoint path on the relay host.
const relayPath = "/v1/ws"

// ErrNotConnected is returned by signal sends while the relay
// connection is down (between disconnect and the next successful dial).
var ErrNotConnected = errors.New("signaling: not connected to relay")

// Config configures a relay Client.
type Config struct {
	// URL is the relay base URL, e.g. "wss://relay.example.com". The
	// endpoint path and registration parameter are appended by the
	// client.
	URL string

	// Info is the local self-description registered on every connect.
	Info wire.ClientInfo

	// Dialer performs WebSocket dials. Nil means
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Clock drives the keepalive ticker and reconnect backoff. Nil
	// means the real clock.
	Clock clock.Clock

	// Logger receives structured connection logs. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Client maintains one relay connection for one local identity.
type Client struct {
	baseURL string
	dialer  *websocket.Dialer
	clock   clock.Clock
	logger  *slog.Logger

	events *framing.Inbox[Event]

	// mu guards the mutable connection state below. writeMu serializes
	// WebSocket writes (the connection allows one concurrent writer).
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	info    wire.ClientInfo
	self    wire.Peer
	roster  map[string]wire.Peer

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a relay client. It does not connect; call Run.
func NewClient(config Config) (*Client, error) {
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("signaling: invalid relay URL %q: %w", config.URL, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("signaling: relay URL scheme %q, want ws or wss", parsed.Scheme)
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: config.URL,
		dialer:  dialer,
		clock:   clk,
		logger:  logger,
		events:  framing.NewInbox[Event](),
		info:    config.Info,
		roster:  make(map[string]wire.Peer),
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}, nil
}

// Events exposes the inbound event inbox.
func (client *Client) Events() *framing.Inbox[Event] {
	return client.events
}

// Ready returns a channel closed after the first successful
// registration (hello received).
func (client *Client) Ready() <-chan struct{} {
	return client.ready
}

// Run connects to the relay and processes inbound messages, redialing
// with a fixed backoff on every failure. It blocks until ctx is
// cancelled or Close is called, and never returns a connection error —
// relay failures are recoverable by contract.
func (client *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.closed:
			return nil
		default:
		}

		if err := client.runOnce(ctx); err != nil {
			client.logger.Warn("relay connection failed", "error", err)
			client.events.Append(Disconnected{Err: err})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.closed:
			return nil
		case <-client.clock.After(reconnectBackoff):
		}
	}
}

// Close shuts the client down. Pending event consumers observe the
// closed inbox after draining.
func (client *Client) Close() error {
	client.closeOnce.Do(func() {
		close(client.closed)
		client.mu.Lock()
		if client.conn != nil {
			client.conn.Close()
		}
		client.mu.Unlock()
		client.events.Fail(framing.ErrTransportClosed)
	})
	return nil
}

// registrationURL builds the connect URL with the encoded local info in
// the d query parameter.
func (client *Client) registrationURL() (string, error) {
	client.mu.Lock()
	info := client.info
	client.mu.Unlock()

	encoded, err := wire.EncodeClientInfo(info)
	if err != nil {
		return "", err
	}
	return client.baseURL + relayPath + "?d=" + encoded, nil
}

// runOnce performs one connection lifetime: dial, read until failure.
// The roster is reset when it returns.
func (client *Client) runOnce(ctx context.Context) error {
	target, err := client.registrationURL()
	if err != nil {
		return err
	}

	conn, _, err := client.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}

	client.mu.Lock()
	client.conn = conn
	client.mu.Unlock()

	defer func() {
		client.mu.Lock()
		client.conn = nil
		client.self = wire.Peer{}
		client.roster = make(map[string]wire.Peer)
		client.mu.Unlock()
		conn.Close()
	}()

	// Keepalive runs for the lifetime of this connection.
	keepaliveDone := make(chan struct{})
	defer close(keepaliveDone)
	go client.keepalive(conn, keepaliveDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.closed:
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading relay message: %w", err)
		}
		if len(data) == 0 {
			continue // keepalive echo
		}
		if err := client.handleMessage(data); err != nil {
			return err
		}
	}
}

// keepalive sends an empty text frame at the keepalive interval until
// done is closed.
func (client *Client) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := client.clock.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-client.closed:
			return
		case <-ticker.C:
			client.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte{})
			client.writeMu.Unlock()
			if err != nil {
				// The read loop observes the same failure and triggers
				// the reconnect; nothing to do here.
				return
			}
		}
	}
}

// handleMessage dispatches one server message: roster bookkeeping plus
// an event append for the consumer.
func (client *Client) handleMessage(data []byte) error {
	message, err := wire.ParseRelayMessage(data)
	if err != nil {
		// An unparseable server message means protocol mismatch; treat
		// the connection as poisoned and redial.
		return err
	}

	switch m := message.(type) {
	case wire.Hello:
		client.mu.Lock()
		client.self = m.Client
		client.roster = make(map[string]wire.Peer, len(m.Peers))
		for _, peer := range m.Peers {
			client.roster[peer.ID] = peer
		}
		client.mu.Unlock()
		client.readyOnce.Do(func() { close(client.ready) })
		client.logger.Info("registered with relay", "id", m.Client.ID, "peers", len(m.Peers))
		client.events.Append(Connected{Self: m.Client, Peers: m.Peers})

	case wire.PeerJoined:
		client.mu.Lock()
		client.roster[m.Peer.ID] = m.Peer
		client.mu.Unlock()
		client.events.Append(PeerJoined{Peer: m.Peer})

	case wire.PeerLeft:
		client.mu.Lock()
		delete(client.roster, m.PeerID)
		client.mu.Unlock()
		client.events.Append(PeerLeft{PeerID: m.PeerID})

	case wire.PeerUpdated:
		client.mu.Lock()
		client.roster[m.Peer.ID] = m.Peer
		client.mu.Unlock()
		client.events.Append(PeerUpdated{Peer: m.Peer})

	case wire.OfferRelayed:
		sdp, err := wire.DecompressSDP(m.SDP)
		if err != nil {
			client.logger.Warn("dropping offer with undecodable SDP", "peer", m.Peer.ID, "error", err)
			return nil
		}
		client.events.Append(OfferReceived{Peer: m.Peer, SessionID: m.SessionID, SDP: sdp})

	case wire.AnswerRelayed:
		sdp, err := wire.DecompressSDP(m.SDP)
		if err != nil {
			client.logger.Warn("dropping answer with undecodable SDP", "peer", m.Peer.ID, "error", err)
			return nil
		}
		client.events.Append(AnswerReceived{Peer: m.Peer, SessionID: m.SessionID, SDP: sdp})

	case wire.RelayError:
		client.logger.Warn("relay reported error", "code", m.Code)
		client.events.Append(RelayErrored{Code: m.Code})

	default:
		return fmt.Errorf("signaling: unhandled relay message %T", message)
	}
	return nil
}

// SendOffer relays a session-description offer to the target peer. The
// SDP is compressed for transport.
func (client *Client) SendOffer(target, sessionID, sdp string) error {
	return client.sendSignal("offer", target, sessionID, sdp)
}

// SendAnswer relays a session-description answer to the target peer.
func (client *Client) SendAnswer(target, sessionID, sdp string) error {
	return client.sendSignal("answer", target, sessionID, sdp)
}

func (client *Client) sendSignal(kind, target, sessionID, sdp string) error {
	compressed, err := wire.CompressSDP(sdp)
	if err != nil {
		return err
	}

	client.mu.Lock()
	conn := client.conn
	client.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	var signal any
	if kind == "offer" {
		signal = wire.OfferSignal{Type: kind, SessionID: sessionID, Target: target, SDP: compressed}
	} else {
		signal = wire.AnswerSignal{Type: kind, SessionID: sessionID, Target: target, SDP: compressed}
	}
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := conn.WriteJSON(signal); err != nil {
		return fmt.Errorf("signaling: sending %s: %w", kind, err)
	}
	return nil
}

// UpdateInfo announces a changed self-description to the relay and
// uses it for subsequent re-registrations.
func (client *Client) UpdateInfo(info wire.ClientInfo) error {
	client.mu.Lock()
	client.info = info
	conn := client.conn
	client.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := conn.WriteJSON(wire.InfoUpdate{Type: "UPDATE", Info: info}); err != nil {
		return fmt.Errorf("signaling: sending update: %w", err)
	}
	return nil
}

// Self returns the relay-assigned local identity. The second return is
// false while disconnected.
func (client *Client) Self() (wire.Peer, bool) {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.self, client.self.ID != ""
}

// Roster returns the current peers sorted by ID. Empty while
// disconnected — roster state never outlives its connection.
func (client *Client) Roster() []wire.Peer {
	client.mu.Lock()
	defer client.mu.Unlock()
	peers := make([]wire.Peer, 0, len(client.roster))
	for _, peer := range client.roster {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}
