// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/identity"
	"github.com/beamlink/beamlink/lib/clock"
	"github.com/beamlink/beamlink/signaling"
	"github.com/beamlink/beamlink/transfer"
	"github.com/beamlink/beamlink/wire"
)

// answerTimeout is the maximum time the caller waits for the peer's
// SDP answer after publishing an offer.
const answerTimeout = 30 * time.Second

// ErrSessionActive rejects an outbound send while another session is
// running. Exactly one transfer session is active at a time.
var ErrSessionActive = errors.New("session: another session is active")

// State is a session's position in its lifecycle. Transitions are
// monotonic; only the PIN retry sub-loop re-enters a state.
type State string

const (
	StateNegotiating      State = "negotiating"
	StateAuthenticating   State = "authenticating"
	StatePinPending       State = "pin-pending"
	StateManifestSent     State = "manifest-sent"
	StateManifestReceived State = "manifest-received"
	StateTransferring     State = "transferring"
	StateCompleted        State = "completed"
	StateAborted          State = "aborted"
)

// Signaler is the signaling surface a session needs: the inbound
// event stream plus offer and answer publication. The relay client
// implements it in production; an in-process hub serves tests.
type Signaler interface {
	Events() *framing.Inbox[signaling.Event]
	SendOffer(target, sessionID, sdp string) error
	SendAnswer(target, sessionID, sdp string) error
}

// OrchestratorConfig wires the collaborators an Orchestrator drives.
// Signaling and Identity are required; the rest have working defaults.
type OrchestratorConfig struct {
	Signaling Signaler
	Identity  *identity.Identity

	ICEServers []webrtc.ICEServer

	// PIN and MaxPinAttempts gate inbound sessions; PinPrompt answers
	// PIN demands on outbound ones.
	PIN            string
	MaxPinAttempts int
	PinPrompt      func(ctx context.Context) (string, bool)

	Source   transfer.FileSource
	Sink     transfer.FileSink
	Selector transfer.Selector
	Observer transfer.Observer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Orchestrator owns the one-active-session rule: it consumes signaling
// events, answers inbound offers when idle, and drives outbound sends.
// An inbound offer arriving while a session is active is dropped with
// a warning.
type Orchestrator struct {
	config   OrchestratorConfig
	logger   *slog.Logger
	verifier *identity.Verifier

	mu      sync.Mutex
	busy    bool
	state   State
	answers map[string]chan signaling.AnswerReceived
}

// NewOrchestrator validates the configuration and builds an idle
// orchestrator. Run must be called to process signaling events.
func NewOrchestrator(config OrchestratorConfig) (*Orchestrator, error) {
	if config.Signaling == nil {
		return nil, errors.New("session: signaling client is required")
	}
	if config.Identity == nil {
		return nil, errors.New("session: identity is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config:   config,
		logger:   logger,
		verifier: identity.NewVerifier(config.Clock, 0),
		answers:  make(map[string]chan signaling.AnswerReceived),
	}, nil
}

// Run consumes signaling events until ctx is cancelled or the
// signaling client closes. Inbound offers start receive sessions;
// answers are routed to the outbound session waiting for them.
func (orchestrator *Orchestrator) Run(ctx context.Context) error {
	events := orchestrator.config.Signaling.Events()
	for {
		event, err := events.ReadNext(ctx)
		if err != nil {
			return err
		}
		switch event := event.(type) {
		case signaling.OfferReceived:
			orchestrator.handleOffer(ctx, event)
		case signaling.AnswerReceived:
			orchestrator.routeAnswer(event)
		case signaling.Disconnected:
			if event.Err != nil {
				orchestrator.logger.Warn("relay connection lost", "error", event.Err)
			}
		case signaling.RelayErrored:
			orchestrator.logger.Warn("relay reported error", "code", event.Code)
		}
	}
}

// handleOffer starts a receive session for an inbound offer, unless a
// session is already active.
func (orchestrator *Orchestrator) handleOffer(ctx context.Context, offer signaling.OfferReceived) {
	orchestrator.mu.Lock()
	if orchestrator.busy {
		orchestrator.mu.Unlock()
		orchestrator.logger.Warn("dropping inbound offer, session active",
			"peer", offer.Peer.ID,
			"alias", offer.Peer.Info.Alias,
		)
		return
	}
	orchestrator.busy = true
	orchestrator.state = StateNegotiating
	orchestrator.mu.Unlock()

	go func() {
		err := orchestrator.receive(ctx, offer)
		orchestrator.finish(err)
		switch {
		case err == nil:
			orchestrator.logger.Info("receive session completed", "peer", offer.Peer.ID)
		case errors.Is(err, ErrDeclined):
			orchestrator.logger.Info("receive session declined", "peer", offer.Peer.ID)
		default:
			orchestrator.logger.Error("receive session failed",
				"peer", offer.Peer.ID,
				"error", err,
			)
		}
	}()
}

// routeAnswer hands an SDP answer to the outbound session waiting on
// its session ID. Unmatched answers are stale and dropped.
func (orchestrator *Orchestrator) routeAnswer(answer signaling.AnswerReceived) {
	orchestrator.mu.Lock()
	waiter, ok := orchestrator.answers[answer.SessionID]
	orchestrator.mu.Unlock()
	if !ok {
		orchestrator.logger.Warn("dropping answer for unknown session",
			"session", answer.SessionID,
		)
		return
	}
	select {
	case waiter <- answer:
	default:
	}
}

// SendFiles offers files to the given peer and streams the accepted
// ones. It fails fast with ErrSessionActive when another session is
// running.
func (orchestrator *Orchestrator) SendFiles(ctx context.Context, peerID string, files []wire.FileDescriptor) error {
	orchestrator.mu.Lock()
	if orchestrator.busy {
		orchestrator.mu.Unlock()
		return ErrSessionActive
	}
	orchestrator.busy = true
	orchestrator.state = StateNegotiating
	orchestrator.mu.Unlock()

	err := orchestrator.send(ctx, peerID, files)
	orchestrator.finish(err)
	return err
}

func (orchestrator *Orchestrator) send(ctx context.Context, peerID string, files []wire.FileDescriptor) error {
	sessionID := uuid.NewString()
	answers := make(chan signaling.AnswerReceived, 1)
	orchestrator.mu.Lock()
	orchestrator.answers[sessionID] = answers
	orchestrator.mu.Unlock()
	defer func() {
		orchestrator.mu.Lock()
		delete(orchestrator.answers, sessionID)
		orchestrator.mu.Unlock()
	}()

	peer, err := NewPeer(orchestrator.config.ICEServers, orchestrator.config.Clock, orchestrator.logger)
	if err != nil {
		return err
	}
	defer peer.Close()

	offerSDP, err := peer.Offer(ctx)
	if err != nil {
		return err
	}
	if err := orchestrator.config.Signaling.SendOffer(peerID, sessionID, offerSDP); err != nil {
		return fmt.Errorf("session: publishing offer: %w", err)
	}

	var answer signaling.AnswerReceived
	select {
	case answer = <-answers:
	case <-orchestrator.config.Clock.After(answerTimeout):
		return fmt.Errorf("session: no answer from %s within %s", peerID, answerTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := peer.AcceptAnswer(answer.SDP); err != nil {
		return err
	}

	conn, err := peer.WaitOpen(ctx)
	if err != nil {
		return err
	}

	orchestrator.setState(StateAuthenticating)
	if err := RunInitiator(ctx, conn, orchestrator.handshakeConfig()); err != nil {
		return err
	}

	orchestrator.setState(StateManifestSent)
	if err := transfer.Send(ctx, conn, files, transfer.SendConfig{
		Source:   orchestrator.config.Source,
		Observer: orchestrator.transferObserver(),
		Logger:   orchestrator.logger,
	}); err != nil {
		return err
	}
	return conn.DrainAndClose(ctx)
}

func (orchestrator *Orchestrator) receive(ctx context.Context, offer signaling.OfferReceived) error {
	peer, err := NewPeer(orchestrator.config.ICEServers, orchestrator.config.Clock, orchestrator.logger)
	if err != nil {
		return err
	}
	defer peer.Close()

	answerSDP, err := peer.Answer(ctx, offer.SDP)
	if err != nil {
		return err
	}
	if err := orchestrator.config.Signaling.SendAnswer(offer.Peer.ID, offer.SessionID, answerSDP); err != nil {
		return fmt.Errorf("session: publishing answer: %w", err)
	}

	conn, err := peer.WaitOpen(ctx)
	if err != nil {
		return err
	}

	orchestrator.setState(StateAuthenticating)
	if err := RunResponder(ctx, conn, orchestrator.handshakeConfig()); err != nil {
		return err
	}

	orchestrator.setState(StateManifestReceived)
	if err := transfer.Receive(ctx, conn, transfer.ReceiveConfig{
		Sink:     orchestrator.config.Sink,
		Selector: orchestrator.config.Selector,
		Observer: orchestrator.transferObserver(),
		Logger:   orchestrator.logger,
	}); err != nil {
		return err
	}
	return conn.DrainAndClose(ctx)
}

func (orchestrator *Orchestrator) handshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		Identity:       orchestrator.config.Identity,
		Verifier:       orchestrator.verifier,
		PIN:            orchestrator.config.PIN,
		MaxPinAttempts: orchestrator.config.MaxPinAttempts,
		PinPrompt:      orchestrator.config.PinPrompt,
		PinGateEntered: func() { orchestrator.setState(StatePinPending) },
		Logger:         orchestrator.logger,
	}
}

// transferObserver wraps the configured observer so the session
// advances to transferring when the first chunk activity is reported.
func (orchestrator *Orchestrator) transferObserver() transfer.Observer {
	inner := orchestrator.config.Observer
	if inner == nil {
		inner = transfer.NopObserver{}
	}
	return &stateObserver{orchestrator: orchestrator, inner: inner}
}

// stateObserver advances the session state on the first sending or
// receiving file report, then delegates every update.
type stateObserver struct {
	orchestrator *Orchestrator
	inner        transfer.Observer
	once         sync.Once
}

func (observer *stateObserver) FileUpdated(state transfer.FileState) {
	if state.Status == transfer.StatusSending || state.Status == transfer.StatusReceiving {
		observer.once.Do(func() { observer.orchestrator.setState(StateTransferring) })
	}
	observer.inner.FileUpdated(state)
}

func (observer *stateObserver) SessionFailed(err error) {
	observer.inner.SessionFailed(err)
}

func (orchestrator *Orchestrator) setState(state State) {
	orchestrator.mu.Lock()
	orchestrator.state = state
	orchestrator.mu.Unlock()
	orchestrator.logger.Debug("session state", "state", string(state))
}

// finish releases the one-session slot and records the terminal state.
func (orchestrator *Orchestrator) finish(err error) {
	terminal := StateCompleted
	if err != nil && !errors.Is(err, ErrDeclined) {
		terminal = StateAborted
	}
	orchestrator.mu.Lock()
	orchestrator.state = terminal
	orchestrator.busy = false
	orchestrator.mu.Unlock()
}

// State reports the current (or most recent) session's lifecycle
// position. The zero value means no session has run yet.
func (orchestrator *Orchestrator) State() State {
	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()
	return orchestrator.state
}

// Busy reports whether a session is currently active.
func (orchestrator *Orchestrator) Busy() bool {
	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()
	return orchestrator.busy
}
