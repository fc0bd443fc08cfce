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

package coordinator

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antonov-mipt/pp218-linret/chassislink"
	"github.com/antonov-mipt/pp218-linret/config"
	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
	"github.com/antonov-mipt/pp218-linret/protocol/cs"
	"github.com/antonov-mipt/pp218-linret/stream"
)

func newTestCoordinator() *Coordinator {
	cfg := config.Defaults()
	link := chassislink.New("eth0", net.HardwareAddr{0, 1, 2, 3, 4, 5}, net.HardwareAddr{6, 7, 8, 9, 10, 11}, &chassis.IDGen{})
	submit := func(*stream.Job) bool { return true }
	return New(cfg, link, func() (time.Time, bool) { return time.Now(), true }, submit, nil, &chassis.IDGen{})
}

func TestHandleChassisFrameDiscoversUnknownChassis(t *testing.T) {
	c := newTestCoordinator()

	status := chassis.ChaStatusPayload{Battery0V: 14.4, Battery1V: 14.2, GPSNumSV: 6, InptPPSValid: true}
	hdr := chassis.Header{IfType: chassis.IfWired0, SrcAddr: 3, MsgType: chassis.CntlStatAck, NakCode: chassis.NoError}

	c.handleChassisFrame(chassis.Frame{Header: hdr, Payload: status.Encode()})

	dev, ok := c.reg.Get(chassis.IfWired0, 3)
	require.True(t, ok)
	require.Equal(t, 6, dev.gpsNumSV)
	require.True(t, dev.inptPPSValid)
}

func TestHandleChassisFrameUnknownDeviceNonStatusDropped(t *testing.T) {
	c := newTestCoordinator()
	hdr := chassis.Header{IfType: chassis.IfWired0, SrcAddr: 5, MsgType: chassis.SRMStatAck, NakCode: chassis.NoError}
	c.handleChassisFrame(chassis.Frame{Header: hdr})
	_, ok := c.reg.Get(chassis.IfWired0, 5)
	require.False(t, ok)
	require.Equal(t, uint64(1), c.statsLocked().RxPacketsDropped)
}

func TestDispatchSRMFatAckAssignsSerial(t *testing.T) {
	c := newTestCoordinator()
	dev := NewDevice(chassis.IfLocal, 1, cs.DevSRM)
	c.reg.Add(dev)

	f := chassis.Frame{Header: chassis.Header{IfType: chassis.IfLocal, SrcAddr: 1, MsgType: chassis.SRMFatAck}}
	c.dispatch(dev, f, pendingRequest{})

	require.True(t, dev.srmSerialKnow)
	require.Equal(t, c.minter.SRMSerial(chassis.IfLocal, 1), dev.SRMSerial)
}

func TestDispatchClockSetAckMarksSyncedOnSmallPhaseDiff(t *testing.T) {
	c := newTestCoordinator()
	dev := NewDevice(chassis.IfLocal, 1, cs.DevChaLR)
	c.reg.Add(dev)

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, 50_000_000) // 50ms, reported by the chassis

	f := chassis.Frame{Header: chassis.Header{IfType: chassis.IfLocal, SrcAddr: 1, MsgType: chassis.CntlClkSetAck}, Payload: payload}
	pr := pendingRequest{clockSecond: 1000, clockPhase: 50} // requested at the 50ms mark too: zero diff
	c.dispatch(dev, f, pr)

	require.True(t, dev.stateTimeSyncOK)
	require.True(t, dev.appendedSet)
	require.Equal(t, uint32(1000), dev.appendedUnixTime)
}

func TestDispatchClockSetAckRejectsLargePhaseDiff(t *testing.T) {
	c := newTestCoordinator()
	dev := NewDevice(chassis.IfLocal, 1, cs.DevChaLR)
	c.reg.Add(dev)

	payload := make([]byte, 4) // phaseNs = 0 -> chassis reports 0ms

	f := chassis.Frame{Header: chassis.Header{IfType: chassis.IfLocal, SrcAddr: 1, MsgType: chassis.CntlClkSetAck}, Payload: payload}
	pr := pendingRequest{clockSecond: 1000, clockPhase: 999} // 999ms requested vs 0ms reported: big diff
	c.dispatch(dev, f, pr)

	require.False(t, dev.stateTimeSyncOK)
}

func TestHandleCSRequestNodeIDListReturnsGatewaySerial(t *testing.T) {
	c := newTestCoordinator()
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(cs.DevLR))

	hdr := cs.Header{CmdType: cs.NodeIDListRequest, DstSerial: cs.Broadcast()}
	resp := c.handleCSRequest(hdr, payload)

	require.Equal(t, cs.NodeIDListResponse, resp.Header.CmdType)
	serials := parseNodeIDListReplySerials(resp.Payload)
	require.Len(t, serials, 1)
	require.Equal(t, c.minter.LRSerial(), serials[0])
}

// parseNodeIDListReplySerials extracts just the serials from an encoded
// NodeIDListReply, enough to assert on without re-exporting its layout.
func parseNodeIDListReplySerials(b []byte) []cs.Serial {
	if len(b) < 2 {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(b[:2]))
	out := make([]cs.Serial, 0, n)
	for i := 0; i < n; i++ {
		off := 2 + 12*i
		var s cs.Serial
		copy(s[:], b[off+4:off+12])
		out = append(out, s)
	}
	return out
}

func TestHandleAcqControlNaksWithoutConfigAndAcksWithConfig(t *testing.T) {
	c := newTestCoordinator()
	payload := []byte{byte(cs.AcqRunning), 0}
	hdr := cs.Header{CmdType: cs.AcqControlRequest, DstSerial: cs.Broadcast()}

	resp := c.handleAcqControl(hdr, payload)
	require.Equal(t, cs.AckNakResponse, resp.Header.CmdType)
	require.Equal(t, cs.Nak, cs.AckCode(resp.Payload[0]))

	cfg := chassis.ADCConfig{DataRate: chassis.DR500}
	c.cfg.LatestADCConfig = &cfg
	resp = c.handleAcqControl(hdr, payload)
	require.Equal(t, cs.Ack, cs.AckCode(resp.Payload[0]))
}

func TestAcqControlAppliesRegardlessOfConfiguredAcqMode(t *testing.T) {
	c := newTestCoordinator()
	c.acqMode = AcqDoNothing // operator hasn't opted the periodic controller into anything
	cfg := chassis.ADCConfig{DataRate: chassis.DR500}
	c.cfg.LatestADCConfig = &cfg

	dev := NewDevice(chassis.IfLocal, 1, cs.DevSRM)
	dev.srmSerialKnow = true
	dev.chassisTimeValid = true
	dev.stateTimeSyncOK = true
	dev.srmStatusSeen = true
	dev.ppsPresent = true
	dev.appendedSet = true
	c.reg.Add(dev)

	payload := []byte{byte(cs.AcqRunning), 0}
	hdr := cs.Header{CmdType: cs.AcqControlRequest, DstSerial: cs.Broadcast()}

	resp := c.handleAcqControl(hdr, payload)
	require.Equal(t, cs.Ack, cs.AckCode(resp.Payload[0]))
	require.Len(t, dev.pending, 1)
	require.Equal(t, chassis.SRMRunReq, dev.pending[0].msgType)
}
