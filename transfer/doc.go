// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer implements the file transfer protocol that runs
// over an authenticated session channel: manifest negotiation with
// per-file accept/skip, chunked flow-controlled content streaming, and
// per-file outcome acknowledgment.
//
// The sender offers a manifest, the receiver picks files and mints an
// unguessable token per accepted file, and content then flows in
// fixed-size binary blocks. Each file's chunk stream is introduced by
// a header control message carrying the minted token; the header for
// the next file is pipelined immediately after the previous file's
// last chunk, and a bare delimiter replaces the header after the last
// file. The sender suspends while the transport's outstanding byte
// count exceeds a high-water mark, which bounds receiver-side
// buffering.
//
// File persistence and file selection are injected collaborators
// (FileSink, FileSource, Selector); progress flows to an Observer.
package transfer
