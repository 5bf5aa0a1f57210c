// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// sdpEncoding is base64url without padding, matching the encoding used
// for the registration query parameter.
var sdpEncoding = base64.RawURLEncoding

// CompressSDP deflate-compresses a session description and encodes the
// result as base64url without padding, the form carried in relay offer
// and answer messages.
func CompressSDP(sdp string) (string, error) {
	var buffer bytes.Buffer
	writer, err := flate.NewWriter(&buffer, flate.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("wire: creating deflate writer: %w", err)
	}
	if _, err := writer.Write([]byte(sdp)); err != nil {
		return "", fmt.Errorf("wire: compressing session description: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("wire: flushing deflate stream: %w", err)
	}
	return sdpEncoding.EncodeToString(buffer.Bytes()), nil
}

// DecompressSDP reverses [CompressSDP].
func DecompressSDP(encoded string) (string, error) {
	compressed, err := sdpEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("wire: decoding session description: %w", err)
	}
	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()
	sdp, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("wire: decompressing session description: %w", err)
	}
	return string(sdp), nil
}

// EncodeClientInfo serializes a ClientInfo for the relay registration
// query parameter: base64url-no-padding over the UTF-8 JSON form.
func EncodeClientInfo(info ClientInfo) (string, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("wire: encoding client info: %w", err)
	}
	return sdpEncoding.EncodeToString(data), nil
}
