// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/wire"
)

// SendConfig carries the sending side's collaborators. Source is
// required; a nil Observer discards progress.
type SendConfig struct {
	Source   FileSource
	Observer Observer
	Logger   *slog.Logger
}

func (config SendConfig) observer() Observer {
	if config.Observer != nil {
		return config.Observer
	}
	return NopObserver{}
}

func (config SendConfig) logger() *slog.Logger {
	if config.Logger != nil {
		return config.Logger
	}
	return slog.Default()
}

// queuedFile is one accepted file awaiting transmission, with the
// receiver-minted token that must introduce its chunk stream.
type queuedFile struct {
	descriptor wire.FileDescriptor
	token      string
	state      *FileState
}

// Send offers files to the peer and streams the accepted ones. It
// returns when every accepted file has an acknowledged outcome and the
// outbound buffer has drained, or with an error when the transport
// fails or the peer violates the protocol. Individual file failures do
// not abort the session; they surface through the observer and the
// per-file outcome.
func Send(ctx context.Context, conn *framing.Conn, files []wire.FileDescriptor, config SendConfig) error {
	observer := config.observer()
	logger := config.logger()

	manifest, err := wire.MarshalControl(wire.Manifest{Type: "manifest", Files: files})
	if err != nil {
		return err
	}
	if err := conn.WriteControl(manifest); err != nil {
		return fail(observer, err)
	}
	if err := conn.WriteDelimiter(); err != nil {
		return fail(observer, err)
	}

	accepted, err := awaitControl[wire.AcceptedFiles](ctx, conn)
	if err != nil {
		return fail(observer, err)
	}

	queue := make([]queuedFile, 0, len(files))
	for _, file := range files {
		state := &FileState{Descriptor: file, Status: StatusPending}
		token, ok := accepted.Files[file.ID]
		if !ok {
			state.Status = StatusSkipped
			observer.FileUpdated(*state)
			continue
		}
		queue = append(queue, queuedFile{descriptor: file, token: token, state: state})
		observer.FileUpdated(*state)
	}

	if len(queue) == 0 {
		if err := conn.WriteDelimiter(); err != nil {
			return fail(observer, err)
		}
		return drainOutbound(ctx, conn, observer)
	}

	if err := sendHeader(conn, queue[0]); err != nil {
		return fail(observer, err)
	}
	for index, item := range queue {
		if err := streamFile(ctx, conn, item, config); err != nil {
			return fail(observer, err)
		}

		// Pipeline the next header (or the terminal delimiter) right
		// behind this file's last chunk, so the receiver needs no
		// round trip to learn whether more files follow.
		if index+1 < len(queue) {
			if err := sendHeader(conn, queue[index+1]); err != nil {
				return fail(observer, err)
			}
		} else {
			if err := conn.WriteDelimiter(); err != nil {
				return fail(observer, err)
			}
		}

		outcome, err := awaitControl[wire.FileOutcome](ctx, conn)
		if err != nil {
			return fail(observer, err)
		}
		if outcome.ID != item.descriptor.ID {
			err := fmt.Errorf("transfer: outcome for file %d, want %d", outcome.ID, item.descriptor.ID)
			conn.Close()
			return fail(observer, err)
		}
		if outcome.Success {
			item.state.Status = StatusFinished
		} else {
			item.state.Status = StatusFailed
			item.state.Error = outcome.Error
			logger.Warn("file rejected by receiver",
				"file", item.descriptor.FileName,
				"error", outcome.Error,
			)
		}
		observer.FileUpdated(*item.state)
	}

	// Drain before the caller closes the transport, else the peer may
	// miss the terminal delimiter.
	return drainOutbound(ctx, conn, observer)
}

// drainOutbound flushes the outbound buffer at session end. The peer
// closing first is not a failure: everything owed to it has already
// been exchanged.
func drainOutbound(ctx context.Context, conn *framing.Conn, observer Observer) error {
	if err := conn.WaitBufferedBelow(ctx, 0); err != nil && !errors.Is(err, framing.ErrTransportClosed) {
		return fail(observer, err)
	}
	return nil
}

// streamFile emits one file's content in fixed-size blocks, suspending
// while the transport's outstanding byte count exceeds the high-water
// mark. Source errors end the stream early; the receiver detects the
// short file and reports failure through the outcome message.
func streamFile(ctx context.Context, conn *framing.Conn, item queuedFile, config SendConfig) error {
	observer := config.observer()
	item.state.Status = StatusSending
	observer.FileUpdated(*item.state)

	reader, err := config.Source.Open(ctx, item.descriptor)
	if err != nil {
		config.logger().Warn("opening file failed",
			"file", item.descriptor.FileName,
			"error", err,
		)
		return nil
	}
	defer reader.Close()

	// The limit keeps a file that grew after manifest time from
	// overrunning its announced size.
	limited := io.LimitReader(reader, item.descriptor.Size)
	for {
		block := make([]byte, BlockSize)
		n, err := io.ReadFull(limited, block)
		if n > 0 {
			if err := conn.WaitBufferedBelow(ctx, HighWaterMark); err != nil {
				return err
			}
			if err := conn.WriteFrame(framing.Frame{Kind: framing.KindBinary, Data: block[:n]}); err != nil {
				return err
			}
			item.state.BytesTransferred += int64(n)
			observer.FileUpdated(*item.state)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			config.logger().Warn("reading file failed",
				"file", item.descriptor.FileName,
				"error", err,
			)
			return nil
		}
	}
}

func sendHeader(conn *framing.Conn, item queuedFile) error {
	payload, err := wire.MarshalControl(wire.FileHeader{
		Type:  "fileHeader",
		ID:    item.descriptor.ID,
		Token: item.token,
	})
	if err != nil {
		return err
	}
	return conn.WriteControl(payload)
}

// awaitControl reads the next control message and requires type T.
func awaitControl[T wire.Control](ctx context.Context, conn *framing.Conn) (T, error) {
	var zero T
	payload, isDelimiter, err := conn.ReadControl(ctx)
	if err != nil {
		return zero, err
	}
	if isDelimiter {
		return zero, errors.New("transfer: unexpected delimiter")
	}
	message, err := wire.ParseControl(payload)
	if err != nil {
		return zero, err
	}
	typed, ok := message.(T)
	if !ok {
		return zero, fmt.Errorf("transfer: expected %T, got %T", zero, message)
	}
	return typed, nil
}

// fail surfaces a session-fatal error to the observer before
// returning it.
func fail(observer Observer, err error) error {
	observer.SessionFailed(err)
	return err
}
