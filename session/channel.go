// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/beamlink/beamlink/framing"
)

// Compile-time interface check.
var _ framing.Channel = dataChannel{}

// dataChannel adapts a pion data channel to the framing.Channel
// outbound contract. Message-oriented sends map directly; no detach is
// needed because the protocol is frame-based, not stream-based.
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (channel dataChannel) SendText(text string) error { return channel.dc.SendText(text) }
func (channel dataChannel) Send(data []byte) error     { return channel.dc.Send(data) }
func (channel dataChannel) BufferedAmount() uint64     { return channel.dc.BufferedAmount() }
func (channel dataChannel) Close() error               { return channel.dc.Close() }

// wireInbound registers the data channel's message and close handlers
// to feed the Conn. Must run before the channel opens so no frame is
// missed.
func wireInbound(dc *webrtc.DataChannel, conn *framing.Conn) {
	dc.OnMessage(func(message webrtc.DataChannelMessage) {
		kind := framing.KindText
		if !message.IsString {
			kind = framing.KindBinary
		}
		conn.Deliver(framing.Frame{Kind: kind, Data: message.Data})
	})
	dc.OnClose(func() {
		conn.Fail(framing.ErrTransportClosed)
	})
}
