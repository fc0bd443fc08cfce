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
	"encoding/binary"
	"fmt"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
)

// NodeIDListReq asks for the serials of devices of a given type.
type NodeIDListReq struct {
	DevType DevType
}

// DecodeNodeIDListRequest parses the payload of a NodeIDListReq.
func DecodeNodeIDListRequest(b []byte) (NodeIDListReq, error) {
	if len(b) < 2 {
		return NodeIDListReq{}, fmt.Errorf("cs: short NodeIDListRequest payload")
	}
	return NodeIDListReq{DevType: DevType(binary.LittleEndian.Uint16(b[:2]))}, nil
}

// NodeIDListReply lists the matching devices.
type NodeIDListReply struct {
	Devices []DevID
}

// Encode serializes the response payload: a count followed by 12-byte
// DevID entries.
func (r NodeIDListReply) Encode() []byte {
	b := make([]byte, 2+12*len(r.Devices))
	binary.LittleEndian.PutUint16(b[:2], uint16(len(r.Devices)))
	for i, d := range r.Devices {
		copy(b[2+12*i:2+12*(i+1)], d.Encode())
	}
	return b
}

// AckNak is a one-byte ACK/NAK/STALL response payload.
type AckNak struct {
	Code AckCode
}

// Encode serializes the response.
func (a AckNak) Encode() []byte { return []byte{byte(a.Code)} }

// SetConfigReq carries a new ADC acquisition configuration in its
// CS-packed 4-byte form.
type SetConfigReq struct {
	Config chassis.ADCConfig
}

// DecodeSetConfigRequest parses the request payload.
func DecodeSetConfigRequest(b []byte) (SetConfigReq, error) {
	cfg, err := chassis.FromCSBytes(b)
	if err != nil {
		return SetConfigReq{}, err
	}
	return SetConfigReq{Config: cfg}, nil
}

// AcqControlReq starts or stops acquisition, optionally requesting
// a test signal injection.
type AcqControlReq struct {
	AcqCode  AcqState
	TestCode uint8
}

// DecodeAcqControlRequest parses the request payload.
func DecodeAcqControlRequest(b []byte) (AcqControlReq, error) {
	if len(b) < 2 {
		return AcqControlReq{}, fmt.Errorf("cs: short AcqControlRequest payload")
	}
	return AcqControlReq{AcqCode: AcqState(b[0]), TestCode: b[1]}, nil
}

// LRStateReply reports the gateway's own serial.
type LRStateReply struct {
	Serial Serial
}

// Encode serializes the response.
func (r LRStateReply) Encode() []byte { return append([]byte(nil), r.Serial[:]...) }

// WifiClient summarizes one wifi neighbor of a chassis, as reported in
// a CHA status response.
type WifiClient struct {
	RSSI int8
	Lon  int32 // degrees * 1e6
	Lat  int32 // degrees * 1e6
	Up   bool
}

// StatusSRMResponse reports the state of the SRM attached to a chassis.
type StatusSRMResponse struct {
	ErrCode            uint32
	Config             chassis.ADCConfig
	AcquisitionRunning bool
	TemperatureC       int8
	HumidityPct        uint8
	SyncOK             bool
	TestSignal         uint8
}

// Encode serializes the response.
func (r StatusSRMResponse) Encode() []byte {
	b := make([]byte, 11)
	binary.LittleEndian.PutUint32(b[0:4], r.ErrCode)
	cfg := r.Config.ToCSBytes()
	copy(b[4:8], cfg[:])
	if r.AcquisitionRunning {
		b[8] = 1
	}
	b[9] = byte(r.TemperatureC)
	b[10] = r.HumidityPct
	return b
}

// StatusChaResponse reports the state of a chassis: battery, GPS fix,
// environment, SRM serial, and wifi neighbors. CHA_RN and CHA_LR
// variants additionally report their wired-chain neighbor serials.
type StatusChaResponse struct {
	DevType      DevType
	BatState     [2]uint8
	WifiClients  []WifiClient
	SRMSerial    Serial
	Lon          int32 // degrees * 1e7, zero if no GPS fix
	Lat          int32
	HeightM      int16
	TemperatureC int8
	HumidityPct  uint8
	// Populated for CHA_RN/CHA_LR devices with a wired uplink/downlink.
	WiredConn1 Serial
	WiredConn2 Serial
}

// Encode serializes the response into a compact, self-describing form:
// fixed fields followed by a count-prefixed wifi client list.
func (r StatusChaResponse) Encode() []byte {
	b := make([]byte, 0, 64)
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, uint16(r.DevType))
	b = append(b, tmp...)
	b = append(b, r.BatState[0], r.BatState[1])
	b = append(b, r.SRMSerial[:]...)
	le4 := make([]byte, 4)
	binary.LittleEndian.PutUint32(le4, uint32(r.Lon))
	b = append(b, le4...)
	binary.LittleEndian.PutUint32(le4, uint32(r.Lat))
	b = append(b, le4...)
	le2 := make([]byte, 2)
	binary.LittleEndian.PutUint16(le2, uint16(r.HeightM))
	b = append(b, le2...)
	b = append(b, byte(r.TemperatureC), r.HumidityPct)
	b = append(b, r.WiredConn1[:]...)
	b = append(b, r.WiredConn2[:]...)
	b = append(b, byte(len(r.WifiClients)))
	for _, w := range r.WifiClients {
		up := byte(0)
		if w.Up {
			up = 1
		}
		binary.LittleEndian.PutUint32(le4, uint32(w.Lon))
		b = append(b, le4...)
		binary.LittleEndian.PutUint32(le4, uint32(w.Lat))
		b = append(b, le4...)
		b = append(b, byte(w.RSSI), up)
	}
	return b
}
