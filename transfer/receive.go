// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/beamlink/beamlink/framing"
	"github.com/beamlink/beamlink/wire"
)

// ReceiveConfig carries the receiving side's collaborators. Sink is
// required. A nil Selector accepts every file; a nil Observer discards
// progress.
type ReceiveConfig struct {
	Sink     FileSink
	Selector Selector
	Observer Observer
	Logger   *slog.Logger
}

func (config ReceiveConfig) selector() Selector {
	if config.Selector != nil {
		return config.Selector
	}
	return AcceptAll
}

func (config ReceiveConfig) observer() Observer {
	if config.Observer != nil {
		return config.Observer
	}
	return NopObserver{}
}

func (config ReceiveConfig) logger() *slog.Logger {
	if config.Logger != nil {
		return config.Logger
	}
	return slog.Default()
}

// openFile is the file currently accumulating chunks.
type openFile struct {
	state    *FileState
	writer   io.WriteCloser
	digest   hash.Hash
	received int64
}

// Receive accepts a manifest, selects files, and consumes the chunk
// stream until the terminal delimiter. It returns when the sender has
// finished and every outcome has drained, or with an error when the
// transport fails or the sender violates the protocol.
func Receive(ctx context.Context, conn *framing.Conn, config ReceiveConfig) error {
	observer := config.observer()
	logger := config.logger()

	manifest, err := awaitControl[wire.Manifest](ctx, conn)
	if err != nil {
		return fail(observer, err)
	}
	// The manifest block is closed by a delimiter.
	if _, isDelimiter, err := conn.ReadControl(ctx); err != nil {
		return fail(observer, err)
	} else if !isDelimiter {
		err := fmt.Errorf("transfer: manifest not followed by delimiter")
		conn.Close()
		return fail(observer, err)
	}

	descriptors := make(map[int]wire.FileDescriptor, len(manifest.Files))
	states := make(map[int]*FileState, len(manifest.Files))
	for _, file := range manifest.Files {
		descriptors[file.ID] = file
		states[file.ID] = &FileState{Descriptor: file, Status: StatusSkipped}
	}

	// Mint one unguessable token per accepted file; the chunk-stream
	// header must present it back.
	tokens := make(map[int]string)
	for _, id := range config.selector().SelectFiles(manifest.Files) {
		if _, ok := descriptors[id]; !ok {
			continue
		}
		tokens[id] = uuid.NewString()
		states[id].Status = StatusPending
	}
	acceptance, err := wire.MarshalControl(wire.AcceptedFiles{Type: "acceptedFiles", Files: tokens})
	if err != nil {
		return fail(observer, err)
	}
	if err := conn.WriteControl(acceptance); err != nil {
		return fail(observer, err)
	}
	for _, file := range manifest.Files {
		observer.FileUpdated(*states[file.ID])
	}

	var current *openFile
	streamed := make(map[int]bool)
	for {
		frame, err := conn.Frames().ReadNext(ctx)
		if err != nil {
			if current != nil {
				current.abort(observer, err)
			}
			return fail(observer, err)
		}

		if frame.Kind == framing.KindBinary {
			if current == nil {
				err := fmt.Errorf("transfer: file chunk received outside a chunk stream")
				conn.Close()
				return fail(observer, err)
			}
			current.append(frame.Data, observer)
			continue
		}

		// A text message always ends the previous file, if one is
		// open: finalize it and report the outcome back.
		if current != nil {
			outcome := current.finalize(observer, logger)
			payload, err := wire.MarshalControl(outcome)
			if err != nil {
				return fail(observer, err)
			}
			if err := conn.WriteControl(payload); err != nil {
				return fail(observer, err)
			}
			current = nil
		}

		if framing.IsDelimiter(frame.Data) {
			// End of all files. Flush the outstanding outcome before
			// the caller closes the transport. The peer closing first
			// is not a failure; everything it wanted has been sent.
			if err := conn.WaitBufferedBelow(ctx, 0); err != nil && !errors.Is(err, framing.ErrTransportClosed) {
				return fail(observer, err)
			}
			return nil
		}

		message, err := wire.ParseControl(frame.Data)
		if err != nil {
			conn.Close()
			return fail(observer, err)
		}
		header, ok := message.(wire.FileHeader)
		if !ok {
			err := fmt.Errorf("transfer: expected file header, got %T", message)
			conn.Close()
			return fail(observer, err)
		}

		current, err = openStream(ctx, header, descriptors, tokens, streamed, config)
		if err != nil {
			conn.Close()
			return fail(observer, err)
		}
	}
}

// openStream validates a chunk-stream header and opens the sink for
// the announced file. A header with an unknown ID, a wrong token, or a
// repeated ID is transport-fatal.
func openStream(
	ctx context.Context,
	header wire.FileHeader,
	descriptors map[int]wire.FileDescriptor,
	tokens map[int]string,
	streamed map[int]bool,
	config ReceiveConfig,
) (*openFile, error) {
	descriptor, ok := descriptors[header.ID]
	if !ok {
		return nil, fmt.Errorf("transfer: header for unknown file %d", header.ID)
	}
	token, accepted := tokens[header.ID]
	if !accepted || token != header.Token {
		return nil, fmt.Errorf("transfer: wrong token for file %d", header.ID)
	}
	if streamed[header.ID] {
		return nil, fmt.Errorf("transfer: duplicate chunk stream for file %d", header.ID)
	}
	streamed[header.ID] = true

	state := &FileState{Descriptor: descriptor, Status: StatusReceiving}
	file := &openFile{state: state, digest: sha256.New()}

	// A sink that cannot open fails this file only: the chunk stream
	// is consumed and discarded, the outcome reports the error, and
	// the remaining files still transfer.
	writer, err := config.Sink.Create(ctx, descriptor)
	if err != nil {
		state.Error = fmt.Sprintf("creating sink: %v", err)
		config.logger().Warn("creating sink failed",
			"file", descriptor.FileName,
			"error", err,
		)
	} else {
		file.writer = writer
	}

	config.observer().FileUpdated(*state)
	return file, nil
}

// append writes one chunk and reports incremental progress.
func (file *openFile) append(chunk []byte, observer Observer) {
	file.received += int64(len(chunk))
	if file.writer != nil {
		if _, err := file.writer.Write(chunk); err != nil {
			file.state.Error = err.Error()
			file.writer.Close()
			file.writer = nil
		}
	}
	file.digest.Write(chunk)

	file.state.BytesTransferred = min(file.received, file.state.Descriptor.Size)
	observer.FileUpdated(*file.state)
}

// finalize closes the sink, decides success, and builds the outcome
// message. Success requires the byte count to match the manifest and,
// when the manifest carries a checksum, the content digest to match.
func (file *openFile) finalize(observer Observer, logger *slog.Logger) wire.FileOutcome {
	if file.writer != nil {
		if err := file.writer.Close(); err != nil && file.state.Error == "" {
			file.state.Error = err.Error()
		}
	}

	switch {
	case file.state.Error != "":
	case file.received != file.state.Descriptor.Size:
		file.state.Error = fmt.Sprintf("received %d bytes, manifest announced %d",
			file.received, file.state.Descriptor.Size)
	case file.state.Descriptor.SHA256 != "" &&
		hex.EncodeToString(file.digest.Sum(nil)) != file.state.Descriptor.SHA256:
		file.state.Error = "content checksum mismatch"
	}

	outcome := wire.FileOutcome{Type: "fileOutcome", ID: file.state.Descriptor.ID}
	if file.state.Error == "" {
		outcome.Success = true
		file.state.Status = StatusFinished
	} else {
		outcome.Error = file.state.Error
		file.state.Status = StatusFailed
		logger.Warn("received file rejected",
			"file", file.state.Descriptor.FileName,
			"error", file.state.Error,
		)
	}
	observer.FileUpdated(*file.state)
	return outcome
}

// abort marks the in-flight file failed when the transport dies.
func (file *openFile) abort(observer Observer, err error) {
	if file.writer != nil {
		file.writer.Close()
	}
	file.state.Status = StatusFailed
	file.state.Error = err.Error()
	observer.FileUpdated(*file.state)
}
