// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package payload implements the fixed-width uplink record sent by the tracker.
//
// Layout (network byte order, most significant byte first):
//
//	offset 0  int32  latitude
//	offset 4  int32  longitude
//	offset 8  int16  altitude
//	offset 10 uint8  satellite count
//
// Latitude and longitude are carried as raw integers. The codec does not apply
// any scale; the GPS source and the backend decoder agree on it.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the exact length of an encoded record.
const Size = 4 + 4 + 2 + 1

var (
	// ErrBufferTooSmall is returned by Encode when the destination cannot hold a record.
	ErrBufferTooSmall = errors.New("payload: buffer too small")
	// ErrShortPayload is returned by Decode for inputs shorter than Size.
	ErrShortPayload = errors.New("payload: short payload")
)

// Record is the decoded form of an uplink payload.
type Record struct {
	Latitude   int32 `json:"lat"`
	Longitude  int32 `json:"lon"`
	Altitude   int16 `json:"alt"`
	Satellites uint8 `json:"sat"`
}

// Encode writes one record into dst and returns the number of bytes written.
//
// dst is zero-filled over its whole length before the record is written so
// stale bytes from a previous uplink never trail the record. If dst is shorter
// than Size nothing is written.
func Encode(lat, lon int32, alt int16, sat uint8, dst []byte) (int, error) {
	if len(dst) < Size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, Size, len(dst))
	}
	clear(dst)

	binary.BigEndian.PutUint32(dst[0:4], uint32(lat))
	binary.BigEndian.PutUint32(dst[4:8], uint32(lon))
	binary.BigEndian.PutUint16(dst[8:10], uint16(alt))
	dst[10] = sat

	return Size, nil
}

// Decode parses the first Size bytes of b. Trailing bytes are ignored.
func Decode(b []byte) (Record, error) {
	if len(b) < Size {
		return Record{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortPayload, len(b), Size)
	}
	return Record{
		Latitude:   int32(binary.BigEndian.Uint32(b[0:4])),
		Longitude:  int32(binary.BigEndian.Uint32(b[4:8])),
		Altitude:   int16(binary.BigEndian.Uint16(b[8:10])),
		Satellites: b[10],
	}, nil
}
