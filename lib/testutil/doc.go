// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Beamlink packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. Protocol
// tests drive goroutines that block on channels; these helpers turn a
// hung goroutine into a test failure instead of a suite timeout.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Beamlink-internal dependencies.
package testutil
