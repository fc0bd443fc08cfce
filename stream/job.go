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

// Package stream implements the streaming acquisition job state
// machine: per-interface sub-jobs driving STREAM_START/STREAM_FB/
// STREAM_STOP exchanges with selective-repeat packet recovery, and the
// top-level job that waits for every interface to finish before
// persisting collected samples.
package stream

import (
	"time"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
	"github.com/antonov-mipt/pp218-linret/protocol/cs"
)

// GlobalState is a Job's overall lifecycle state.
type GlobalState int

const (
	GlobalInactive GlobalState = iota
	GlobalActive
	GlobalFinished
)

// IfaceState is one interface sub-job's lifecycle state.
type IfaceState int

const (
	IfaceInactive IfaceState = iota
	IfaceWaitStartAck
	IfaceWaitData
	IfaceWaitStopAck
	IfaceFinished
)

const (
	waitStartTimeout = 200 * time.Millisecond
	waitDataTimeout  = 1500 * time.Millisecond
	waitStopTimeout  = 100 * time.Millisecond
)

// DeviceRef names one node participating in an interface sub-job: its
// chassis address and the serial of the SRM actually producing data.
type DeviceRef struct {
	Addr      uint8
	SRMSerial cs.Serial
	NodeID    uint8 // 1-based position within the interface's node list
}

// Sender transmits a chassis frame, matching the signature of
// chassislink.Link.Send, without depending on that package directly.
type Sender func(chassis.Frame) bool

// IfaceJob drives one interface's STREAM_START -> STREAM_DATA ->
// STREAM_STOP exchange, with selective-repeat recovery of missing
// packets via periodic STREAM_FB feedback.
type IfaceJob struct {
	IfType    chassis.IfType
	Devices   []DeviceRef
	Config    chassis.ADCConfig
	Timestamp uint32

	ppn int

	state       IfaceState
	enteredAt   time.Time
	lastSentAt  time.Time
	dataRecvd   bool

	expected Bitmask
	received chassis.Bitmask

	storedData map[cs.Serial][][]byte

	send  Sender
	idGen *chassis.IDGen
}

// Bitmask is an alias kept for readability at call sites; it is the
// same representation chassis.Bitmask uses for packet acknowledgement.
type Bitmask = chassis.Bitmask

// NewIfaceJob constructs a sub-job for one interface.
func NewIfaceJob(ifType chassis.IfType, devices []DeviceRef, cfg chassis.ADCConfig, ts uint32, send Sender, idGen *chassis.IDGen) *IfaceJob {
	j := &IfaceJob{
		IfType:     ifType,
		Devices:    devices,
		Config:     cfg,
		Timestamp:  ts,
		ppn:        cfg.PacketsPerNode(),
		send:       send,
		idGen:      idGen,
		storedData: make(map[cs.Serial][][]byte),
	}
	for _, d := range devices {
		for n := 0; n < j.ppn; n++ {
			j.expected.Set(j.packetN(d.NodeID, n))
		}
	}
	return j
}

// packetN computes the global packet number for a packet-in-node index
// on the given 1-based node id.
func (j *IfaceJob) packetN(nodeID uint8, packetInNode int) int {
	return j.ppn*(int(nodeID)-1) + packetInNode
}

// Work advances the sub-job's state machine by one tick.
func (j *IfaceJob) Work(now time.Time) {
	switch j.state {
	case IfaceInactive:
		j.sendStart(now)
		j.state = IfaceWaitStartAck
		j.enteredAt = now
	case IfaceWaitStartAck:
		if now.Sub(j.enteredAt) > waitStartTimeout {
			j.sendStart(now)
			j.enteredAt = now
		}
	case IfaceWaitData:
		if j.dataRecvd {
			j.sendStop(now)
			j.state = IfaceWaitStopAck
			j.enteredAt = now
			return
		}
		if now.Sub(j.enteredAt) > waitDataTimeout {
			j.sendStop(now)
			j.state = IfaceWaitStopAck
			j.enteredAt = now
			return
		}
		if now.Sub(j.lastSentAt) > waitStartTimeout {
			j.sendFeedback(now)
		}
	case IfaceWaitStopAck:
		if now.Sub(j.enteredAt) > waitStopTimeout {
			j.state = IfaceFinished
		}
	}
}

// Done reports whether the sub-job has finished.
func (j *IfaceJob) Done() bool { return j.state == IfaceFinished }

func (j *IfaceJob) sendStart(now time.Time) {
	p := chassis.StreamStartPayload{Timestamp: j.Timestamp, Expected: j.expected, ADCCode: j.Config.ToSRMBytes()}
	for _, d := range j.Devices {
		f := chassis.NewRequest(j.IfType, 0, d.Addr, chassis.StreamStart, j.idGen.Next(), p.Encode())
		j.send(f)
	}
	j.lastSentAt = now
}

// sendFeedback reports the set of packets already received; the
// chassis resends only the complement (selective repeat).
func (j *IfaceJob) sendFeedback(now time.Time) {
	p := chassis.StreamFBPayload{Timestamp: j.Timestamp, Received: j.received}
	for _, d := range j.Devices {
		f := chassis.NewRequest(j.IfType, 0, d.Addr, chassis.StreamFB, j.idGen.Next(), p.Encode())
		j.send(f)
	}
	j.lastSentAt = now
}

func (j *IfaceJob) sendStop(now time.Time) {
	for _, d := range j.Devices {
		f := chassis.NewRequest(j.IfType, 0, d.Addr, chassis.StreamStop, j.idGen.Next(), nil)
		j.send(f)
	}
	j.lastSentAt = now
}

// RxPacket feeds one received chassis response into the sub-job,
// state-dependent: in WaitStartAck, either a start ack or an early data
// packet counts as the start acknowledgement; in WaitData only data
// packets are accepted; in WaitStopAck a stop ack or a still-incoming
// data packet (if data isn't already fully received) is accepted.
func (j *IfaceJob) RxPacket(hdr chassis.Header, payload []byte) {
	switch j.state {
	case IfaceWaitStartAck:
		if hdr.MsgType == chassis.StreamStart|chassis.AckBit {
			j.state = IfaceWaitData
			j.enteredAt = time.Now()
			return
		}
		if hdr.MsgType == chassis.StreamData {
			j.processData(hdr, payload)
			j.state = IfaceWaitData
			j.enteredAt = time.Now()
		}
	case IfaceWaitData:
		if hdr.MsgType == chassis.StreamData {
			j.processData(hdr, payload)
		}
	case IfaceWaitStopAck:
		if hdr.MsgType == chassis.StreamStop|chassis.AckBit {
			j.state = IfaceFinished
			return
		}
		if hdr.MsgType == chassis.StreamData && !j.dataRecvd {
			j.processData(hdr, payload)
		}
	}
}

func (j *IfaceJob) processData(hdr chassis.Header, payload []byte) {
	chunk, err := chassis.DecodeStreamDataFirstChunk(payload)
	if err != nil {
		return
	}
	n := j.packetN(chunk.NodeID, int(chunk.PacketInNode))
	if j.received.Test(n) {
		return
	}
	j.received.Set(n)
	if chunk.PayloadPresent {
		j.store(hdr, chunk.NodeID, int(chunk.PacketInNode), chunk.Data)
	}
	if j.allReceived() {
		j.dataRecvd = true
	}
}

func (j *IfaceJob) store(hdr chassis.Header, nodeID uint8, packetInNode int, data []byte) {
	var serial cs.Serial
	for _, d := range j.Devices {
		if d.NodeID == nodeID {
			serial = d.SRMSerial
			break
		}
	}
	slots := j.storedData[serial]
	if slots == nil {
		slots = make([][]byte, j.ppn)
	}
	if packetInNode < len(slots) {
		slots[packetInNode] = append([]byte(nil), data...)
	}
	j.storedData[serial] = slots
}

func (j *IfaceJob) allReceived() bool {
	for i := range j.expected {
		if j.expected[i]&^j.received[i] != 0 {
			return false
		}
	}
	return true
}

// CollectedBlocks returns, for each SRM serial with a complete set of
// packets, the concatenated sample block ready to persist.
func (j *IfaceJob) CollectedBlocks() map[cs.Serial][]byte {
	out := make(map[cs.Serial][]byte)
	for serial, slots := range j.storedData {
		complete := true
		total := 0
		for _, s := range slots {
			if s == nil {
				complete = false
				break
			}
			total += len(s)
		}
		if !complete {
			continue
		}
		block := make([]byte, 0, total)
		for _, s := range slots {
			block = append(block, s...)
		}
		out[serial] = block
	}
	return out
}

// Job is a whole streaming acquisition: one sub-job per participating
// interface, finished only once every sub-job is finished.
type Job struct {
	Timestamp uint32
	Ifaces    map[chassis.IfType]*IfaceJob
	state     GlobalState
}

// NewJob constructs a job over the given per-interface sub-jobs.
func NewJob(ts uint32, ifaces map[chassis.IfType]*IfaceJob) *Job {
	return &Job{Timestamp: ts, Ifaces: ifaces, state: GlobalInactive}
}

// Work advances every sub-job by one tick and transitions the job to
// Finished once all of them are.
func (j *Job) Work(now time.Time) GlobalState {
	if j.state == GlobalInactive {
		j.state = GlobalActive
	}
	if j.state != GlobalActive {
		return j.state
	}
	allDone := true
	for _, ij := range j.Ifaces {
		ij.Work(now)
		if !ij.Done() {
			allDone = false
		}
	}
	if allDone {
		j.state = GlobalFinished
	}
	return j.state
}

// RxPacket routes a received chassis response to the sub-job for its
// interface.
func (j *Job) RxPacket(hdr chassis.Header, payload []byte) {
	if ij, ok := j.Ifaces[hdr.IfType]; ok {
		ij.RxPacket(hdr, payload)
	}
}
