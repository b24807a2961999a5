// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"fmt"

	"github.com/golang/snappy"
)

// Values are snappy-compressed on disk. The comprehensive warm-up can cache
// thousands of JSON payloads on low-end devices, so the few cycles spent
// here buy real storage headroom. A one-byte version prefix keeps room for
// future codecs.
const codecSnappy byte = 0x01

func encodeValue(value []byte) []byte {
	compressed := snappy.Encode(nil, value)
	out := make([]byte, 0, 1+len(compressed))
	out = append(out, codecSnappy)
	return append(out, compressed...)
}

func decodeValue(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty stored value")
	}
	if raw[0] != codecSnappy {
		return nil, fmt.Errorf("unknown value codec 0x%02x", raw[0])
	}
	value, err := snappy.Decode(nil, raw[1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decompress value: %w", err)
	}
	return value, nil
}
