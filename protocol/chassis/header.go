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

package chassis

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of the chassis link header, in bytes.
const HeaderSize = 16

// Header is the 16-byte little-endian header that precedes every
// chassis link message. Reserved bytes exist on the wire but are not
// exposed as fields.
type Header struct {
	IfType   IfType
	ChunkN   uint8
	ChunkSz  uint16
	RandomID uint8
	SrcAddr  uint8
	DstAddr  uint8
	MsgType  MsgType
	NakCode  NakCode
}

// Encode writes the header in wire format.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.IfType)
	b[1] = h.ChunkN
	binary.LittleEndian.PutUint16(b[2:4], h.ChunkSz)
	b[8] = h.RandomID
	b[12] = h.SrcAddr
	b[13] = h.DstAddr
	b[14] = byte(h.MsgType)
	b[15] = byte(h.NakCode)
	return b
}

// DecodeHeader parses a 16-byte chassis link header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("chassis: short header: %d bytes", len(b))
	}
	return Header{
		IfType:   IfType(b[0]),
		ChunkN:   b[1],
		ChunkSz:  binary.LittleEndian.Uint16(b[2:4]),
		RandomID: b[8],
		SrcAddr:  b[12],
		DstAddr:  b[13],
		MsgType:  MsgType(b[14]),
		NakCode:  NakCode(b[15]),
	}, nil
}

// FullAddr combines an interface type and address into the registry
// key used throughout the coordinator.
func FullAddr(ifType IfType, addr uint8) uint16 {
	return uint16(ifType)<<8 | uint16(addr)
}

// ResponseHeader builds the header for a response to this header,
// swapping src/dst and carrying the same random_id, as chassis devices
// do when acknowledging a request.
func (h Header) ResponseHeader(msgType MsgType, nak NakCode) Header {
	return Header{
		IfType:   h.IfType,
		ChunkN:   1,
		RandomID: h.RandomID,
		SrcAddr:  h.DstAddr,
		DstAddr:  h.SrcAddr,
		MsgType:  msgType,
		NakCode:  nak,
	}
}

// MatchesResponse reports whether resp is the response to req: equal
// if_type, req's dst_addr equal to resp's src_addr, and equal
// random_id.
func (req Header) MatchesResponse(resp Header) bool {
	return req.IfType == resp.IfType && req.DstAddr == resp.SrcAddr && req.RandomID == resp.RandomID
}
