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
	"math"

	"github.com/antonov-mipt/pp218-linret/protocol/bits"
)

// BitmaskWords is the number of 32-bit words in a STREAM_START/STREAM_FB
// packet acknowledgement bitmask, covering up to 416 packet slots.
const BitmaskWords = 13

// Bitmask is a fixed-size packet acknowledgement bitmask, one bit per
// packet number.
type Bitmask [BitmaskWords]uint32

// Set marks packet n as received.
func (m *Bitmask) Set(n int) {
	m[n>>5] |= 1 << uint(n&0x1F)
}

// Clear marks packet n as missing.
func (m *Bitmask) Clear(n int) {
	m[n>>5] &^= 1 << uint(n&0x1F)
}

// Test reports whether packet n is marked as received.
func (m Bitmask) Test(n int) bool {
	return m[n>>5]&(1<<uint(n&0x1F)) != 0
}

func (m Bitmask) encode(b []byte) {
	for i, w := range m {
		binary.LittleEndian.PutUint32(b[i*4:i*4+4], w)
	}
}

func decodeBitmask(b []byte) Bitmask {
	var m Bitmask
	for i := range m {
		m[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return m
}

// StreamStartPayload is the STREAM_START request payload: the target
// acquisition start time, the expected-packet bitmask, and the active
// ADC configuration in its SRM-packed form.
type StreamStartPayload struct {
	Timestamp uint32
	Expected  Bitmask
	ADCCode   [4]byte
}

// Encode serializes the payload.
func (p StreamStartPayload) Encode() []byte {
	b := make([]byte, 4+BitmaskWords*4+4)
	binary.LittleEndian.PutUint32(b[0:4], p.Timestamp)
	p.Expected.encode(b[4 : 4+BitmaskWords*4])
	copy(b[4+BitmaskWords*4:], p.ADCCode[:])
	return b
}

// DecodeStreamStartPayload parses a STREAM_START payload.
func DecodeStreamStartPayload(b []byte) (StreamStartPayload, error) {
	want := 4 + BitmaskWords*4 + 4
	if len(b) < want {
		return StreamStartPayload{}, fmt.Errorf("chassis: short STREAM_START payload: %d", len(b))
	}
	p := StreamStartPayload{
		Timestamp: binary.LittleEndian.Uint32(b[0:4]),
		Expected:  decodeBitmask(b[4 : 4+BitmaskWords*4]),
	}
	copy(p.ADCCode[:], b[4+BitmaskWords*4:want])
	return p, nil
}

// StreamFBPayload is the STREAM_FB (selective-repeat feedback) payload:
// the set of packets already received for the current acquisition; the
// chassis is expected to resend only the complement.
type StreamFBPayload struct {
	Timestamp uint32
	Received  Bitmask
}

// Encode serializes the payload.
func (p StreamFBPayload) Encode() []byte {
	b := make([]byte, 4+BitmaskWords*4)
	binary.LittleEndian.PutUint32(b[0:4], p.Timestamp)
	p.Received.encode(b[4:])
	return b
}

// DecodeStreamFBPayload parses a STREAM_FB payload.
func DecodeStreamFBPayload(b []byte) (StreamFBPayload, error) {
	want := 4 + BitmaskWords*4
	if len(b) < want {
		return StreamFBPayload{}, fmt.Errorf("chassis: short STREAM_FB payload: %d", len(b))
	}
	return StreamFBPayload{
		Timestamp: binary.LittleEndian.Uint32(b[0:4]),
		Received:  decodeBitmask(b[4:want]),
	}, nil
}

// StreamDataFirstChunk is the first chunk of a STREAM_DATA message: a
// one-byte node id, a packed flags byte, two pad bytes, then sample
// data starting at offset 4.
type StreamDataFirstChunk struct {
	NodeID         uint8
	PacketInNode   uint8
	PayloadPresent bool
	ErrCode        uint8
	Data           []byte
}

// DecodeStreamDataFirstChunk parses the first chunk of a STREAM_DATA
// message. Continuation chunks carry raw sample data with no header and
// do not go through this function.
func DecodeStreamDataFirstChunk(b []byte) (StreamDataFirstChunk, error) {
	if len(b) < 4 {
		return StreamDataFirstChunk{}, fmt.Errorf("chassis: short STREAM_DATA first chunk: %d", len(b))
	}
	r := bits.NewReader(b[1:2])
	c := StreamDataFirstChunk{NodeID: b[0]}
	c.PacketInNode = uint8(r.Read(3))
	c.PayloadPresent = r.ReadBool()
	c.ErrCode = uint8(r.Read(4))
	c.Data = b[4:]
	return c, nil
}

// Encode serializes the first chunk.
func (c StreamDataFirstChunk) Encode() []byte {
	w := &bits.Writer{}
	w.Write(uint32(c.PacketInNode), 3)
	w.WriteBool(c.PayloadPresent)
	w.Write(uint32(c.ErrCode), 4)
	flags := w.Flush()
	b := make([]byte, 4+len(c.Data))
	b[0] = c.NodeID
	b[1] = flags[0]
	copy(b[4:], c.Data)
	return b
}

// SRMRunPayload is the SRM_RUN request payload: clock/coordinate
// sourcing flags, the scheduled start second, an optional PPS-alignment
// override, chassis GPS position, and the active ADC config.
type SRMRunPayload struct {
	UseChassisTime  bool
	UseChassisCoord bool
	CmdSendTime     uint32
	IgnorePPS       bool
	Height          int16
	Lat             int32
	Lon             int32
	ADCParams       [4]byte
}

// Encode serializes the payload: a 4-byte flags block followed by a
// 20-byte SRM command block.
func (p SRMRunPayload) Encode() []byte {
	b := make([]byte, 24)
	if p.UseChassisTime {
		b[0] = 1
	}
	if p.UseChassisCoord {
		b[1] = 1
	}
	binary.LittleEndian.PutUint32(b[4:8], p.CmdSendTime)
	if p.IgnorePPS {
		b[8] = 1
	}
	binary.LittleEndian.PutUint16(b[10:12], uint16(p.Height))
	binary.LittleEndian.PutUint32(b[12:16], uint32(p.Lat))
	binary.LittleEndian.PutUint32(b[16:20], uint32(p.Lon))
	copy(b[20:24], p.ADCParams[:])
	return b
}

// DecodeSRMRunPayload parses an SRM_RUN payload.
func DecodeSRMRunPayload(b []byte) (SRMRunPayload, error) {
	if len(b) < 24 {
		return SRMRunPayload{}, fmt.Errorf("chassis: short SRM_RUN payload: %d", len(b))
	}
	p := SRMRunPayload{
		UseChassisTime:  b[0] != 0,
		UseChassisCoord: b[1] != 0,
		CmdSendTime:     binary.LittleEndian.Uint32(b[4:8]),
		IgnorePPS:       b[8] != 0,
		Height:          int16(binary.LittleEndian.Uint16(b[10:12])),
		Lat:             int32(binary.LittleEndian.Uint32(b[12:16])),
		Lon:             int32(binary.LittleEndian.Uint32(b[16:20])),
	}
	copy(p.ADCParams[:], b[20:24])
	return p, nil
}

// SetClockPayload is the CNTL_CLK_SET_REQ payload: a single unix second
// the chassis should align its clock to.
type SetClockPayload struct {
	Second uint32
}

// Encode serializes the payload.
func (p SetClockPayload) Encode() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, p.Second)
	return b
}

// DecodeSetClockPayload parses a CNTL_CLK_SET_REQ payload.
func DecodeSetClockPayload(b []byte) (SetClockPayload, error) {
	if len(b) < 4 {
		return SetClockPayload{}, fmt.Errorf("chassis: short CNTL_CLK_SET_REQ payload: %d", len(b))
	}
	return SetClockPayload{Second: binary.LittleEndian.Uint32(b[:4])}, nil
}

// SetClockAck is the CNTL_CLK_SET_ACK payload: the phase difference, in
// nanoseconds, the chassis measured between its prior clock and the
// requested second. Absent when the chassis didn't include a phase.
type SetClockAck struct {
	PhaseNs uint32
	Present bool
}

// DecodeSetClockAck parses a CNTL_CLK_SET_ACK payload, which may be empty.
func DecodeSetClockAck(b []byte) SetClockAck {
	if len(b) < 4 {
		return SetClockAck{}
	}
	return SetClockAck{PhaseNs: binary.LittleEndian.Uint32(b[:4]), Present: true}
}

// ChaStatusPayload is the CNTL_STAT_ACK payload: a chassis's periodic
// health snapshot. Battery rails, GPS fix summary, PPS input validity
// and the peer MACs currently configured on its wired uplink/downlink,
// which the coordinator cross-references against discovery results to
// build the wifi digest a CS status response reports.
type ChaStatusPayload struct {
	Battery0V    float32
	Battery1V    float32
	GPSNumSV     uint8
	GPSLat       int32 // degrees * 1e7
	GPSLon       int32
	InptPPSValid bool
	UplinkMAC    [6]byte
	DownlinkMAC  [6]byte
}

// chaStatusPayloadSize is the encoded size of a ChaStatusPayload.
const chaStatusPayloadSize = 4 + 4 + 1 + 4 + 4 + 1 + 6 + 6

// Encode serializes the payload.
func (p ChaStatusPayload) Encode() []byte {
	b := make([]byte, chaStatusPayloadSize)
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(p.Battery0V))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(p.Battery1V))
	b[8] = p.GPSNumSV
	binary.LittleEndian.PutUint32(b[9:13], uint32(p.GPSLat))
	binary.LittleEndian.PutUint32(b[13:17], uint32(p.GPSLon))
	if p.InptPPSValid {
		b[17] = 1
	}
	copy(b[18:24], p.UplinkMAC[:])
	copy(b[24:30], p.DownlinkMAC[:])
	return b
}

// DecodeChaStatusPayload parses a CNTL_STAT_ACK payload.
func DecodeChaStatusPayload(b []byte) (ChaStatusPayload, error) {
	if len(b) < chaStatusPayloadSize {
		return ChaStatusPayload{}, fmt.Errorf("chassis: short CNTL_STAT_ACK payload: %d", len(b))
	}
	p := ChaStatusPayload{
		Battery0V:    math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Battery1V:    math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		GPSNumSV:     b[8],
		GPSLat:       int32(binary.LittleEndian.Uint32(b[9:13])),
		GPSLon:       int32(binary.LittleEndian.Uint32(b[13:17])),
		InptPPSValid: b[17] != 0,
	}
	copy(p.UplinkMAC[:], b[18:24])
	copy(p.DownlinkMAC[:], b[24:30])
	return p, nil
}

// SRMStatusPayload is the SRM_STAT_ACK payload: the recorder's run-state
// flags alongside its currently-applied ADC configuration.
type SRMStatusPayload struct {
	AcqRunning      bool
	SDOk            bool
	ADCSyncOK       bool
	PPSPresent      bool
	SDRecordRunning bool
	Config          ADCConfig
}

// Encode serializes the payload: a one-byte flag bitfield followed by
// the 4-byte SRM-packed ADC configuration.
func (p SRMStatusPayload) Encode() []byte {
	w := &bits.Writer{}
	w.WriteBool(p.AcqRunning)
	w.WriteBool(p.SDOk)
	w.WriteBool(p.ADCSyncOK)
	w.WriteBool(p.PPSPresent)
	w.WriteBool(p.SDRecordRunning)
	flags := w.Flush()
	cfg := p.Config.ToSRMBytes()
	b := make([]byte, 1+len(cfg))
	b[0] = flags[0]
	copy(b[1:], cfg[:])
	return b
}

// DecodeSRMStatusPayload parses an SRM_STAT_ACK payload.
func DecodeSRMStatusPayload(b []byte) (SRMStatusPayload, error) {
	if len(b) < 5 {
		return SRMStatusPayload{}, fmt.Errorf("chassis: short SRM_STAT_ACK payload: %d", len(b))
	}
	r := bits.NewReader(b[0:1])
	p := SRMStatusPayload{
		AcqRunning:      r.ReadBool(),
		SDOk:            r.ReadBool(),
		ADCSyncOK:       r.ReadBool(),
		PPSPresent:      r.ReadBool(),
		SDRecordRunning: r.ReadBool(),
	}
	cfg, err := FromSRMBytes(b[1:5])
	if err != nil {
		return SRMStatusPayload{}, err
	}
	p.Config = cfg
	return p, nil
}

// DiscoverySlotWire is one neighbor-discovery slot as carried on the
// wire in a CNTL_DISC_ACK: a peer MAC, its RSSI, and the GPS position
// last reported for it.
type DiscoverySlotWire struct {
	PeerMAC [6]byte
	RSSI    int8
	Valid   bool
	Lat     int32 // degrees * 1e7
	Lon     int32
}

// DiscoverySlotCount is the number of neighbor slots a CNTL_DISC_ACK
// reports, matching the chassis's fixed-size discovery table.
const DiscoverySlotCount = 8

const discoverySlotWireSize = 6 + 1 + 1 + 4 + 4

// DiscoveryPayload is the CNTL_DISC_ACK payload.
type DiscoveryPayload struct {
	Slots [DiscoverySlotCount]DiscoverySlotWire
}

// Encode serializes the payload.
func (p DiscoveryPayload) Encode() []byte {
	b := make([]byte, DiscoverySlotCount*discoverySlotWireSize)
	for i, s := range p.Slots {
		off := i * discoverySlotWireSize
		copy(b[off:off+6], s.PeerMAC[:])
		b[off+6] = byte(s.RSSI)
		if s.Valid {
			b[off+7] = 1
		}
		binary.LittleEndian.PutUint32(b[off+8:off+12], uint32(s.Lat))
		binary.LittleEndian.PutUint32(b[off+12:off+16], uint32(s.Lon))
	}
	return b
}

// DecodeDiscoveryPayload parses a CNTL_DISC_ACK payload.
func DecodeDiscoveryPayload(b []byte) (DiscoveryPayload, error) {
	want := DiscoverySlotCount * discoverySlotWireSize
	if len(b) < want {
		return DiscoveryPayload{}, fmt.Errorf("chassis: short CNTL_DISC_ACK payload: %d", len(b))
	}
	var p DiscoveryPayload
	for i := range p.Slots {
		off := i * discoverySlotWireSize
		var s DiscoverySlotWire
		copy(s.PeerMAC[:], b[off:off+6])
		s.RSSI = int8(b[off+6])
		s.Valid = b[off+7] != 0
		s.Lat = int32(binary.LittleEndian.Uint32(b[off+8 : off+12]))
		s.Lon = int32(binary.LittleEndian.Uint32(b[off+12 : off+16]))
		p.Slots[i] = s
	}
	return p, nil
}
