// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package framing

// FragmentSize is the maximum payload of one frame, text or binary.
// File chunks and control-message fragments never exceed it.
const FragmentSize = 16 * 1024

// delimiterByte is the single-character end-of-block delimiter.
const delimiterByte = '0'

// FrameKind distinguishes the two message kinds the transport carries.
type FrameKind uint8

const (
	// KindText frames carry UTF-8 control data: a whole control
	// message, the final fragment of a chunked one, or the delimiter.
	KindText FrameKind = iota
	// KindBinary frames carry raw bytes: file content during the chunk
	// phase, control-message fragments otherwise.
	KindBinary
)

// Frame is one transport message.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// DelimiterFrame returns the end-of-block delimiter frame.
func DelimiterFrame() Frame {
	return Frame{Kind: KindText, Data: []byte{delimiterByte}}
}

// IsDelimiter reports whether an assembled control payload is the bare
// end-of-block delimiter. A bare delimiter carries no payload and must
// never be parsed as JSON.
func IsDelimiter(payload []byte) bool {
	return len(payload) == 1 && payload[0] == delimiterByte
}

// ChunkControl splits a control payload into transport frames. Payloads
// of at most FragmentSize become a single text frame. Larger payloads
// become binary fragments followed by one final text fragment; the
// split before the text fragment is moved forward to a UTF-8 rune
// boundary so the text frame is valid UTF-8 on its own.
func ChunkControl(payload []byte) []Frame {
	if len(payload) <= FragmentSize {
		return []Frame{{Kind: KindText, Data: payload}}
	}

	// The text fragment is the payload tail. Starting it mid-rune would
	// make it invalid UTF-8, so advance past continuation bytes (this
	// only shrinks the fragment, never grows it past FragmentSize).
	textStart := len(payload) - FragmentSize
	for textStart < len(payload) && payload[textStart]&0xC0 == 0x80 {
		textStart++
	}

	var frames []Frame
	for position := 0; position < textStart; position += FragmentSize {
		end := position + FragmentSize
		if end > textStart {
			end = textStart
		}
		frames = append(frames, Frame{Kind: KindBinary, Data: payload[position:end]})
	}
	return append(frames, Frame{Kind: KindText, Data: payload[textStart:]})
}
