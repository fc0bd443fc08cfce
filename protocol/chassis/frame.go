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

// Frame is a header plus its payload bytes, after any two-chunk
// reassembly has already happened.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewRequest builds a request frame with the given interface, target
// address, message type and payload. ChunkN is left at 1 (single
// chunk); callers streaming a two-chunk payload set it explicitly.
func NewRequest(ifType IfType, srcAddr, dstAddr uint8, msgType MsgType, randomID uint8, payload []byte) Frame {
	return Frame{
		Header: Header{
			IfType:   ifType,
			ChunkN:   1,
			ChunkSz:  uint16(len(payload)),
			RandomID: randomID,
			SrcAddr:  srcAddr,
			DstAddr:  dstAddr,
			MsgType:  msgType,
		},
		Payload: payload,
	}
}

// Encode serializes the frame as header followed by payload.
func (f Frame) Encode() []byte {
	out := make([]byte, 0, HeaderSize+len(f.Payload))
	out = append(out, f.Header.Encode()...)
	out = append(out, f.Payload...)
	return out
}
