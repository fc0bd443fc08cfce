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

func TestSubmitDropsOldestWhenBacklogFull(t *testing.T) {
	e := NewEngine(NewMemorySink(), func() (time.Time, bool) { return time.Now(), true }, time.Second, time.Second, nil, nil)

	for i := 0; i < pendingJobsCap; i++ {
		e.Submit(NewJob(uint32(1000+i), nil))
	}
	_, dropped := e.Stats()
	require.Equal(t, uint64(0), dropped)
	require.Len(t, e.pending, pendingJobsCap)
	require.Equal(t, uint32(1000), e.pending[0].Timestamp)

	e.Submit(NewJob(9999, nil))
	_, dropped = e.Stats()
	require.Equal(t, uint64(1), dropped)
	require.Len(t, e.pending, pendingJobsCap)
	require.Equal(t, uint32(1001), e.pending[0].Timestamp, "oldest job should have been dropped")
	require.Equal(t, uint32(9999), e.pending[pendingJobsCap-1].Timestamp)
}

func TestPostChaResponseDropsWhenInboundQueueFull(t *testing.T) {
	e := NewEngine(NewMemorySink(), func() (time.Time, bool) { return time.Now(), true }, time.Second, time.Second, nil, nil)

	for i := 0; i < inboundQueueCap; i++ {
		require.True(t, e.PostChaResponse(chassis.Header{}, nil))
	}
	dropped, _ := e.Stats()
	require.Equal(t, uint64(0), dropped)

	require.False(t, e.PostChaResponse(chassis.Header{}, nil))
	dropped, _ = e.Stats()
	require.Equal(t, uint64(1), dropped)
}

func TestTickAdmitsReadyJobAndCallsOnJobActive(t *testing.T) {
	delayBefore := 5 * time.Second
	base := time.Now()
	trueNow := base.Add(10 * time.Second)

	var activeCalled bool
	e := NewEngine(NewMemorySink(), func() (time.Time, bool) { return trueNow, true }, time.Second, delayBefore,
		func() { activeCalled = true }, nil)

	job := NewJob(uint32(base.Unix()), map[chassis.IfType]*IfaceJob{})
	e.Submit(job)

	e.tick(base)
	require.True(t, activeCalled)
	require.NotNil(t, e.active)
	require.Len(t, e.pending, 0)
}

func TestTickSkipsJobNotYetOldEnough(t *testing.T) {
	delayBefore := 5 * time.Second
	base := time.Now()
	trueNow := base.Add(time.Second) // younger than delayBefore

	var activeCalled bool
	e := NewEngine(NewMemorySink(), func() (time.Time, bool) { return trueNow, true }, time.Second, delayBefore,
		func() { activeCalled = true }, nil)

	e.Submit(NewJob(uint32(base.Unix()), map[chassis.IfType]*IfaceJob{}))
	e.tick(base)

	require.False(t, activeCalled)
	require.Nil(t, e.active)
	require.Len(t, e.pending, 1)
}

func TestTickRespectsDelayBetweenRequests(t *testing.T) {
	base := time.Now()
	e := NewEngine(NewMemorySink(), func() (time.Time, bool) { return base, true }, 10*time.Second, 0, nil, nil)
	e.lastJobFinishAt = base

	e.Submit(NewJob(uint32(base.Unix()), map[chassis.IfType]*IfaceJob{}))
	e.tick(base.Add(time.Second)) // well under delayBetweenRequests

	require.Nil(t, e.active)
	require.Len(t, e.pending, 1)
}

func TestTickFinishesJobAndPersistsRecords(t *testing.T) {
	send := func(chassis.Frame) bool { return true }
	idGen := &chassis.IDGen{}
	devices := []DeviceRef{{Addr: 1, SRMSerial: cs.Serial{0x09}, NodeID: 1}}
	cfg := testConfig()
	ij := NewIfaceJob(chassis.IfLocal, devices, cfg, 5000, send, idGen)
	ij.state = IfaceFinished
	slots := make([][]byte, ij.ppn)
	for i := range slots {
		slots[i] = []byte{byte(i), byte(i + 1)}
	}
	ij.storedData[cs.Serial{0x09}] = slots
	job := NewJob(5000, map[chassis.IfType]*IfaceJob{chassis.IfLocal: ij})

	sink := NewMemorySink()
	var finishedCalled bool
	e := NewEngine(sink, func() (time.Time, bool) { return time.Now(), true }, time.Second, 0,
		nil, func() { finishedCalled = true })
	e.active = job

	e.tick(time.Now())

	require.True(t, finishedCalled)
	require.Nil(t, e.active)
	require.Len(t, sink.Records, 1)
	rec := sink.Records[0]
	require.Equal(t, cs.Serial{0x09}, rec.Serial)
	require.Equal(t, cfg.DataRate.Hz(), rec.Samples)
	require.Equal(t, uint8(cfg.DataRate), rec.Frequency)

	latest, ok := sink.LatestByID[cs.Serial{0x09}]
	require.True(t, ok)
	require.Equal(t, rec.TimeStart, latest.TimeStart)
}

func TestTickFinishWithNoDataSkipsSinkWrite(t *testing.T) {
	ij := NewIfaceJob(chassis.IfLocal, nil, testConfig(), 6000, func(chassis.Frame) bool { return true }, &chassis.IDGen{})
	ij.state = IfaceFinished
	job := NewJob(6000, map[chassis.IfType]*IfaceJob{chassis.IfLocal: ij})

	sink := NewMemorySink()
	e := NewEngine(sink, func() (time.Time, bool) { return time.Now(), true }, time.Second, 0, nil, nil)
	e.active = job

	e.tick(time.Now())

	require.Nil(t, e.active)
	require.Len(t, sink.Records, 0)
}
