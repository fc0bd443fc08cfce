/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of the CS protocol header, in bytes.
const HeaderSize = 24

// Magic is the fixed first byte of every CS header.
const Magic = 0x3A

// Version is the protocol version this package speaks.
const Version = 0x04

// SerialSize is the length of a device serial number.
const SerialSize = 8

// Serial is an 8-byte device serial number.
type Serial [SerialSize]byte

var broadcastSerial = Serial{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Broadcast is the reserved serial meaning "every device".
func Broadcast() Serial { return broadcastSerial }

// IsBroadcast reports whether s is the broadcast serial.
func (s Serial) IsBroadcast() bool { return s == broadcastSerial }

// Header is the 24-byte CS protocol header.
type Header struct {
	CmdType   PacketType
	SessionID uint8
	SrcSerial Serial
	DstSerial Serial
	// PayloadLength is recomputed by Encode from the actual payload;
	// callers reading a wire header use it to know how much more to read.
	PayloadLength uint32
}

// Encode serializes the header.
func (h Header) Encode(payloadLen int) []byte {
	b := make([]byte, HeaderSize)
	b[0] = Magic
	b[1] = Version
	b[2] = byte(h.CmdType)
	b[3] = h.SessionID
	copy(b[4:12], h.SrcSerial[:])
	copy(b[12:20], h.DstSerial[:])
	binary.LittleEndian.PutUint32(b[20:24], uint32(payloadLen))
	return b
}

// DecodeHeader parses a 24-byte CS header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("cs: short header: %d bytes", len(b))
	}
	if b[0] != Magic {
		return Header{}, fmt.Errorf("cs: bad magic byte 0x%x", b[0])
	}
	if b[1] != Version {
		return Header{}, fmt.Errorf("cs: unsupported version 0x%x", b[1])
	}
	h := Header{
		CmdType:       PacketType(b[2]),
		SessionID:     b[3],
		PayloadLength: binary.LittleEndian.Uint32(b[20:24]),
	}
	copy(h.SrcSerial[:], b[4:12])
	copy(h.DstSerial[:], b[12:20])
	return h, nil
}

// IsBroadcast reports whether this request targets every device.
func (h Header) IsBroadcast() bool { return h.DstSerial.IsBroadcast() }

// ResponseHeader builds the header for a response to this request. The
// response's src/dst are swapped; ownSerial overrides the response's
// src_serial, which matters for broadcast requests where the gateway
// must answer with its own identity rather than the broadcast address.
func (h Header) ResponseHeader(cmdType PacketType, ownSerial Serial) Header {
	src := h.DstSerial
	if h.IsBroadcast() {
		src = ownSerial
	}
	return Header{
		CmdType:   cmdType,
		SessionID: h.SessionID,
		SrcSerial: src,
		DstSerial: h.SrcSerial,
	}
}

// DevID packs a device type and serial into the 12-byte form the
// NodeIDListResponse embeds one of per discovered device.
type DevID struct {
	DevType DevType
	Serial  Serial
}

// Encode serializes a DevID entry.
func (d DevID) Encode() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b[2:4], uint16(d.DevType))
	copy(b[4:12], d.Serial[:])
	return b
}

// String renders the serial in hex for logs.
func (s Serial) String() string {
	return fmt.Sprintf("%x", bytes.TrimRight(s[:], "\x00"))
}
