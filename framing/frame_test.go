// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"
)

// reassemble concatenates chunked fragments the way the receive side
// does: buffered binary fragments plus the final text fragment.
func reassemble(t *testing.T, frames []Frame) []byte {
	t.Helper()
	var payload []byte
	for index, frame := range frames {
		if frame.Kind == KindText && index != len(frames)-1 {
			t.Fatalf("text frame at index %d, want text only as final frame", index)
		}
		if frame.Kind == KindBinary && index == len(frames)-1 {
			t.Fatal("final frame is binary, want text")
		}
		payload = append(payload, frame.Data...)
	}
	return payload
}

func TestChunkControl_SmallPayloadSingleTextFrame(t *testing.T) {
	payload := []byte(`{"type":"nonce","nonce":"AA"}`)
	frames := ChunkControl(payload)
	if len(frames) != 1 {
		t.Fatalf("frame count = %d, want 1", len(frames))
	}
	if frames[0].Kind != KindText {
		t.Errorf("frame kind = %v, want KindText", frames[0].Kind)
	}
	if !bytes.Equal(frames[0].Data, payload) {
		t.Error("frame data differs from payload")
	}
}

func TestChunkControl_RoundTripAcrossBoundaries(t *testing.T) {
	// Sizes straddling every interesting boundary relative to the
	// fragment size.
	sizes := []int{
		0, 1, FragmentSize - 1, FragmentSize, FragmentSize + 1,
		2*FragmentSize - 1, 2 * FragmentSize, 2*FragmentSize + 1,
		5*FragmentSize + 1234,
	}
	for _, size := range sizes {
		payload := make([]byte, size)
		for index := range payload {
			payload[index] = byte(index % 251)
		}
		frames := ChunkControl(payload)
		for _, frame := range frames {
			if len(frame.Data) > FragmentSize {
				t.Errorf("size %d: fragment of %d bytes exceeds FragmentSize", size, len(frame.Data))
			}
		}
		if got := reassemble(t, frames); !bytes.Equal(got, payload) {
			t.Errorf("size %d: reassembled payload differs from original", size)
		}
	}
}

func TestChunkControl_TextFragmentRespectsRuneBoundaries(t *testing.T) {
	// A payload of multi-byte runes sized so a naive split would cut
	// a rune in half at the text-fragment boundary.
	payload := []byte(strings.Repeat("é", FragmentSize)) // 2 bytes per rune
	frames := ChunkControl(payload)

	final := frames[len(frames)-1]
	if final.Kind != KindText {
		t.Fatal("final frame is not text")
	}
	if !utf8.Valid(final.Data) {
		t.Error("final text fragment is not valid UTF-8")
	}
	if got := reassemble(t, frames); !bytes.Equal(got, payload) {
		t.Error("reassembled payload differs from original")
	}
}

func TestIsDelimiter(t *testing.T) {
	if !IsDelimiter(DelimiterFrame().Data) {
		t.Error("DelimiterFrame not recognized as delimiter")
	}
	for _, payload := range [][]byte{nil, []byte("00"), []byte("1"), []byte(`{"type":"x"}`), []byte(`0 `)} {
		if IsDelimiter(payload) {
			t.Errorf("IsDelimiter(%q) = true, want false", payload)
		}
	}
}
