// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"io"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/wire"
)

// BlockSize is the fixed size of one file content block on the wire.
const BlockSize = framing.FragmentSize

// HighWaterMark is the outstanding unacknowledged byte count above
// which the sender suspends before emitting the next block.
const HighWaterMark = 1 << 20

// Status is the lifecycle position of one file within a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSkipped   Status = "skipped"
	StatusSending   Status = "sending"
	StatusReceiving Status = "receiving"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
)

// FileState is a snapshot of one file's transfer progress.
// BytesTransferred never exceeds the descriptor's size.
type FileState struct {
	Descriptor       wire.FileDescriptor
	Status           Status
	BytesTransferred int64
	Error            string
}

// Observer receives per-file progress snapshots and session-level
// failures. Progress is reported incrementally while bytes flow, not
// only at completion.
type Observer interface {
	FileUpdated(state FileState)
	SessionFailed(err error)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) FileUpdated(FileState) {}
func (NopObserver) SessionFailed(error)   {}

// FileSource provides the content of an offered file on the sending
// side.
type FileSource interface {
	Open(ctx context.Context, file wire.FileDescriptor) (io.ReadCloser, error)
}

// FileSink persists received file content on the receiving side.
type FileSink interface {
	Create(ctx context.Context, file wire.FileDescriptor) (io.WriteCloser, error)
}

// Selector decides which offered files to accept. It returns the IDs
// of accepted files; manifest IDs it omits are skipped.
type Selector interface {
	SelectFiles(files []wire.FileDescriptor) []int
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(files []wire.FileDescriptor) []int

func (f SelectorFunc) SelectFiles(files []wire.FileDescriptor) []int { return f(files) }

// AcceptAll accepts every offered file.
var AcceptAll Selector = SelectorFunc(func(files []wire.FileDescriptor) []int {
	ids := make([]int, len(files))
	for i, file := range files {
		ids[i] = file.ID
	}
	return ids
})
