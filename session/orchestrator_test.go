// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/beamlink/beamlink/identity"
	"github.com/beamlink/beamlink/lib/clock"
	"github.com/beamlink/beamlink/signaling"
	"github.com/beamlink/beamlink/transfer"
	"github.com/beamlink/beamlink/wire"
)

// memorySource serves file content from a map keyed by file ID.
type memorySource map[int][]byte

func (source memorySource) Open(_ context.Context, file wire.FileDescriptor) (io.ReadCloser, error) {
	data, ok := source[file.ID]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// memorySink collects received content per file ID.
type memorySink struct {
	mu    sync.Mutex
	files map[int]*bytes.Buffer
}

func newMemorySink() *memorySink {
	return &memorySink{files: make(map[int]*bytes.Buffer)}
}

func (sink *memorySink) Create(_ context.Context, file wire.FileDescriptor) (io.WriteCloser, error) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	buffer := &bytes.Buffer{}
	sink.files[file.ID] = buffer
	return nopWriteCloser{buffer}, nil
}

func (sink *memorySink) content(id int) ([]byte, bool) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	buffer, ok := sink.files[id]
	if !ok {
		return nil, false
	}
	return buffer.Bytes(), true
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func describe(t *testing.T, id int, name string, content []byte) wire.FileDescriptor {
	t.Helper()
	digest := sha256.Sum256(content)
	return wire.FileDescriptor{
		ID:       id,
		FileName: name,
		Size:     int64(len(content)),
		MimeType: "application/octet-stream",
		SHA256:   hex.EncodeToString(digest[:]),
	}
}

func newOrchestrator(t *testing.T, config OrchestratorConfig) *Orchestrator {
	t.Helper()
	id, err := identity.New()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	config.Identity = id
	config.Clock = clock.Real()
	config.Logger = quietLogger()
	orchestrator, err := NewOrchestrator(config)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return orchestrator
}

// waitIdle polls until the orchestrator's session slot frees up.
func waitIdle(t *testing.T, orchestrator *Orchestrator) {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for orchestrator.Busy() {
		select {
		case <-deadline:
			t.Fatal("orchestrator still busy")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// TestOrchestrator_EndToEnd runs a complete session over loopback
// WebRTC: signaling through an in-process hub, offer/answer with
// vanilla ICE, the token handshake, and a multi-block file transfer.
func TestOrchestrator_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("establishes a real loopback peer connection")
	}

	hub := signaling.NewMemoryHub()
	senderSignaler := hub.Join(wire.ClientInfo{Alias: "sender", ProtocolVersion: wire.ProtocolVersion, DeviceType: wire.DeviceHeadless})
	receiverSignaler := hub.Join(wire.ClientInfo{Alias: "receiver", ProtocolVersion: wire.ProtocolVersion, DeviceType: wire.DeviceHeadless})

	contents := map[int][]byte{
		1: make([]byte, 5*transfer.BlockSize+123),
		2: []byte("short file"),
	}
	if _, err := rand.Read(contents[1]); err != nil {
		t.Fatalf("generating content: %v", err)
	}
	files := []wire.FileDescriptor{
		describe(t, 1, "large.bin", contents[1]),
		describe(t, 2, "short.txt", contents[2]),
	}

	sink := newMemorySink()
	sender := newOrchestrator(t, OrchestratorConfig{
		Signaling: senderSignaler,
		Source:    memorySource(contents),
	})
	receiver := newOrchestrator(t, OrchestratorConfig{
		Signaling: receiverSignaler,
		Sink:      sink,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	go sender.Run(ctx)
	go receiver.Run(ctx)

	if err := sender.SendFiles(ctx, receiverSignaler.Self().ID, files); err != nil {
		t.Fatalf("SendFiles failed: %v", err)
	}

	waitIdle(t, receiver)
	for id, want := range contents {
		got, ok := sink.content(id)
		if !ok {
			t.Errorf("file %d missing from sink", id)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("file %d content differs: got %d bytes, want %d", id, len(got), len(want))
		}
	}
	if state := sender.State(); state != StateCompleted {
		t.Errorf("sender state = %q, want %q", state, StateCompleted)
	}
	if state := receiver.State(); state != StateCompleted {
		t.Errorf("receiver state = %q, want %q", state, StateCompleted)
	}
}

// TestOrchestrator_EndToEndWithPin runs the same session with the
// receiver demanding a PIN.
func TestOrchestrator_EndToEndWithPin(t *testing.T) {
	if testing.Short() {
		t.Skip("establishes a real loopback peer connection")
	}

	hub := signaling.NewMemoryHub()
	senderSignaler := hub.Join(wire.ClientInfo{Alias: "sender", ProtocolVersion: wire.ProtocolVersion, DeviceType: wire.DeviceHeadless})
	receiverSignaler := hub.Join(wire.ClientInfo{Alias: "receiver", ProtocolVersion: wire.ProtocolVersion, DeviceType: wire.DeviceHeadless})

	contents := map[int][]byte{1: []byte("guarded content")}
	files := []wire.FileDescriptor{describe(t, 1, "guarded.txt", contents[1])}

	sink := newMemorySink()
	sender := newOrchestrator(t, OrchestratorConfig{
		Signaling: senderSignaler,
		Source:    memorySource(contents),
		PinPrompt: func(context.Context) (string, bool) { return "271828", true },
	})
	receiver := newOrchestrator(t, OrchestratorConfig{
		Signaling:      receiverSignaler,
		Sink:           sink,
		PIN:            "271828",
		MaxPinAttempts: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	go sender.Run(ctx)
	go receiver.Run(ctx)

	if err := sender.SendFiles(ctx, receiverSignaler.Self().ID, files); err != nil {
		t.Fatalf("SendFiles failed: %v", err)
	}
	waitIdle(t, receiver)

	got, ok := sink.content(1)
	if !ok || !bytes.Equal(got, contents[1]) {
		t.Error("guarded file not delivered intact")
	}
}

func TestOrchestrator_RejectsConcurrentSend(t *testing.T) {
	hub := signaling.NewMemoryHub()
	signaler := hub.Join(wire.ClientInfo{Alias: "solo", ProtocolVersion: wire.ProtocolVersion, DeviceType: wire.DeviceHeadless})

	orchestrator := newOrchestrator(t, OrchestratorConfig{Signaling: signaler})
	orchestrator.mu.Lock()
	orchestrator.busy = true
	orchestrator.mu.Unlock()

	err := orchestrator.SendFiles(context.Background(), "peer-2", nil)
	if err != ErrSessionActive {
		t.Errorf("SendFiles while busy = %v, want ErrSessionActive", err)
	}
}

func TestOrchestrator_DropsOfferWhileBusy(t *testing.T) {
	hub := signaling.NewMemoryHub()
	signaler := hub.Join(wire.ClientInfo{Alias: "solo", ProtocolVersion: wire.ProtocolVersion, DeviceType: wire.DeviceHeadless})

	orchestrator := newOrchestrator(t, OrchestratorConfig{Signaling: signaler})
	orchestrator.mu.Lock()
	orchestrator.busy = true
	orchestrator.state = StateTransferring
	orchestrator.mu.Unlock()

	orchestrator.handleOffer(context.Background(), signaling.OfferReceived{
		Peer: wire.Peer{ID: "peer-9"},
		SDP:  "v=0",
	})

	if state := orchestrator.State(); state != StateTransferring {
		t.Errorf("state after dropped offer = %q, want unchanged %q", state, StateTransferring)
	}
}

// TestOrchestrator_StateTracksProtocolPhases exercises the lifecycle
// positions between authentication and chunk flow: the PIN gate and
// the manifest-to-transfer handover reported by the observer wrapper.
func TestOrchestrator_StateTracksProtocolPhases(t *testing.T) {
	hub := signaling.NewMemoryHub()
	orchestrator := newOrchestrator(t, OrchestratorConfig{
		Signaling: hub.Join(wire.ClientInfo{Alias: "phases", DeviceType: wire.DeviceHeadless}),
	})

	orchestrator.handshakeConfig().PinGateEntered()
	if got := orchestrator.State(); got != StatePinPending {
		t.Errorf("state after PIN gate = %q, want %q", got, StatePinPending)
	}

	orchestrator.setState(StateManifestSent)
	observer := orchestrator.transferObserver()

	// Pending and skipped reports precede chunk flow and must not
	// advance the state.
	observer.FileUpdated(transfer.FileState{Status: transfer.StatusPending})
	observer.FileUpdated(transfer.FileState{Status: transfer.StatusSkipped})
	if got := orchestrator.State(); got != StateManifestSent {
		t.Errorf("state before chunk flow = %q, want %q", got, StateManifestSent)
	}

	observer.FileUpdated(transfer.FileState{Status: transfer.StatusSending})
	if got := orchestrator.State(); got != StateTransferring {
		t.Errorf("state after first chunk report = %q, want %q", got, StateTransferring)
	}
}
