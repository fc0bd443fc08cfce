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

package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
	"github.com/antonov-mipt/pp218-linret/protocol/cs"
)

func testConfig() chassis.ADCConfig {
	return chassis.ADCConfig{
		DataRate: chassis.DR500,
		Channels: [4]bool{true, true, false, false},
	}
}

func dataFrame(ifType chassis.IfType, nodeID uint8, packetInNode uint8, data []byte) (chassis.Header, []byte) {
	chunk := chassis.StreamDataFirstChunk{NodeID: nodeID, PacketInNode: packetInNode, PayloadPresent: true, Data: data}
	return chassis.Header{IfType: ifType, MsgType: chassis.StreamData}, chunk.Encode()
}

func TestIfaceJobHappyPath(t *testing.T) {
	var sent []chassis.Frame
	send := func(f chassis.Frame) bool { sent = append(sent, f); return true }
	idGen := &chassis.IDGen{}

	devices := []DeviceRef{{Addr: 1, SRMSerial: cs.Serial{0x01}, NodeID: 1}}
	cfg := testConfig()
	j := NewIfaceJob(chassis.IfLocal, devices, cfg, 1000, send, idGen)
	require.Equal(t, cfg.PacketsPerNode(), j.ppn)

	now := time.Now()
	j.Work(now)
	require.Equal(t, IfaceWaitStartAck, j.state)
	require.Len(t, sent, 1)
	require.Equal(t, chassis.StreamStart, sent[0].Header.MsgType)

	ackHdr := chassis.Header{IfType: chassis.IfLocal, MsgType: chassis.StreamStart | chassis.AckBit}
	j.RxPacket(ackHdr, nil)
	require.Equal(t, IfaceWaitData, j.state)

	for n := 0; n < j.ppn; n++ {
		hdr, payload := dataFrame(chassis.IfLocal, 1, uint8(n), []byte{byte(n), byte(n + 1)})
		j.RxPacket(hdr, payload)
	}
	require.True(t, j.dataRecvd)

	j.Work(now.Add(time.Millisecond))
	require.Equal(t, IfaceWaitStopAck, j.state)

	stopAck := chassis.Header{IfType: chassis.IfLocal, MsgType: chassis.StreamStop | chassis.AckBit}
	j.RxPacket(stopAck, nil)
	j.Work(now.Add(waitStopTimeout + 10*time.Millisecond))
	require.True(t, j.Done())

	blocks := j.CollectedBlocks()
	require.Len(t, blocks, 1)
	require.Contains(t, blocks, cs.Serial{0x01})
}

func TestIfaceJobSelectiveRepeatFeedbackCarriesReceivedSet(t *testing.T) {
	var sent []chassis.Frame
	send := func(f chassis.Frame) bool { sent = append(sent, f); return true }
	idGen := &chassis.IDGen{}

	devices := []DeviceRef{{Addr: 1, SRMSerial: cs.Serial{0x02}, NodeID: 1}}
	cfg := testConfig()
	j := NewIfaceJob(chassis.IfLocal, devices, cfg, 2000, send, idGen)
	require.True(t, j.ppn > 1, "test requires more than one packet per node to exercise feedback")

	j.state = IfaceWaitData
	enter := time.Now()
	j.enteredAt = enter
	j.lastSentAt = enter

	hdr, payload := dataFrame(chassis.IfLocal, 1, 0, []byte{0xAA})
	j.RxPacket(hdr, payload)
	require.False(t, j.dataRecvd)

	require.True(t, j.received.Test(j.packetN(1, 0)))
	require.False(t, j.received.Test(j.packetN(1, 1)))

	j.Work(enter.Add(waitStartTimeout + time.Millisecond))
	require.Equal(t, IfaceWaitData, j.state)

	var sawFeedback bool
	for _, f := range sent {
		if f.Header.MsgType == chassis.StreamFB {
			sawFeedback = true
			fb, err := chassis.DecodeStreamFBPayload(f.Payload)
			require.NoError(t, err)
			require.True(t, fb.Received.Test(j.packetN(1, 0)))
			require.False(t, fb.Received.Test(j.packetN(1, 1)))
		}
	}
	require.True(t, sawFeedback)
}

func TestIfaceJobDuplicatePacketIgnored(t *testing.T) {
	send := func(chassis.Frame) bool { return true }
	idGen := &chassis.IDGen{}
	devices := []DeviceRef{{Addr: 1, SRMSerial: cs.Serial{0x03}, NodeID: 1}}
	j := NewIfaceJob(chassis.IfLocal, devices, testConfig(), 3000, send, idGen)
	j.state = IfaceWaitData

	hdr, payload := dataFrame(chassis.IfLocal, 1, 0, []byte{0x01, 0x02})
	j.RxPacket(hdr, payload)
	j.RxPacket(hdr, payload)

	require.Len(t, j.storedData[cs.Serial{0x03}][0], 2)
}

func TestJobFinishesOnlyWhenEveryIfaceDone(t *testing.T) {
	send := func(chassis.Frame) bool { return true }
	idGen := &chassis.IDGen{}
	devices := []DeviceRef{{Addr: 1, SRMSerial: cs.Serial{0x04}, NodeID: 1}}
	local := NewIfaceJob(chassis.IfLocal, devices, testConfig(), 4000, send, idGen)
	wifi0 := NewIfaceJob(chassis.IfWifi0, devices, testConfig(), 4000, send, idGen)
	local.state = IfaceFinished
	job := NewJob(4000, map[chassis.IfType]*IfaceJob{chassis.IfLocal: local, chassis.IfWifi0: wifi0})

	now := time.Now()
	state := job.Work(now)
	require.Equal(t, GlobalActive, state)

	wifi0.state = IfaceFinished
	state = job.Work(now)
	require.Equal(t, GlobalFinished, state)
}
