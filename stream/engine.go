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
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
)

// inboundQueueCap bounds the raw chassis-response queue the engine
// drains every tick.
const inboundQueueCap = 25

// pendingJobsCap bounds the backlog of jobs waiting for arbitration to
// admit them, distinct from the raw inbound queue above: the
// coordinator can plan jobs faster than the engine can run them, and
// only a handful of the most recent plans are worth keeping.
const pendingJobsCap = 5

// arbitrationTick is the minimum interval between scheduler passes.
const arbitrationTick = 15 * time.Millisecond

// TrueTimeFunc reports current true time, as TimeBase.NowTrue does.
type TrueTimeFunc func() (time.Time, bool)

// Engine is the streaming acquisition component: it arbitrates between
// queued job plans and one currently running job, and persists
// completed jobs to a Sink.
type Engine struct {
	sink Sink
	now  TrueTimeFunc

	delayBetweenRequests time.Duration
	delayBeforeRequest   time.Duration

	inbound chan chassis.Frame

	mu      chan struct{} // 1-buffered mutex guarding pending, since Submit can be called from another goroutine
	pending []*Job

	onJobActive   func()
	onJobFinished func()

	log *log.Entry

	active           *Job
	lastJobFinishAt  time.Time
	droppedInbound   uint64
	droppedPending   uint64
}

// NewEngine constructs an Engine.
func NewEngine(sink Sink, now TrueTimeFunc, delayBetweenRequests, delayBeforeRequest time.Duration, onJobActive, onJobFinished func()) *Engine {
	e := &Engine{
		sink:                 sink,
		now:                  now,
		delayBetweenRequests: delayBetweenRequests,
		delayBeforeRequest:   delayBeforeRequest,
		inbound:              make(chan chassis.Frame, inboundQueueCap),
		mu:                   make(chan struct{}, 1),
		onJobActive:          onJobActive,
		onJobFinished:        onJobFinished,
		log:                  log.WithField("component", "STREAM"),
	}
	e.mu <- struct{}{}
	return e
}

// Submit appends a planned job to the pending backlog, dropping the
// oldest pending job if the backlog is already at pendingJobsCap -
// newer plans are always more relevant than stale ones.
func (e *Engine) Submit(j *Job) bool {
	<-e.mu
	defer func() { e.mu <- struct{}{} }()
	if len(e.pending) >= pendingJobsCap {
		e.pending = e.pending[1:]
		atomic.AddUint64(&e.droppedPending, 1)
	}
	e.pending = append(e.pending, j)
	return true
}

// peekReady returns the oldest pending job if arbitration would admit
// it right now, without removing it from the backlog.
func (e *Engine) peekReady(trueNow time.Time) (*Job, bool) {
	<-e.mu
	defer func() { e.mu <- struct{}{} }()
	if len(e.pending) == 0 {
		return nil, false
	}
	j := e.pending[0]
	if trueNow.Sub(time.Unix(int64(j.Timestamp), 0)) < e.delayBeforeRequest {
		return nil, false
	}
	return j, true
}

// popFront removes the oldest pending job, the one peekReady just
// admitted.
func (e *Engine) popFront() {
	<-e.mu
	defer func() { e.mu <- struct{}{} }()
	if len(e.pending) > 0 {
		e.pending = e.pending[1:]
	}
}

// PostChaResponse feeds a STREAM-tagged chassis response into the
// engine, dropping it if the inbound queue is full.
func (e *Engine) PostChaResponse(hdr chassis.Header, payload []byte) bool {
	select {
	case e.inbound <- chassis.Frame{Header: hdr, Payload: payload}:
		return true
	default:
		atomic.AddUint64(&e.droppedInbound, 1)
		return false
	}
}

// Stats returns a point-in-time copy of the engine's drop counters,
// safe to call from any goroutine.
func (e *Engine) Stats() (droppedInbound, droppedPending uint64) {
	return atomic.LoadUint64(&e.droppedInbound), atomic.LoadUint64(&e.droppedPending)
}

// Run drives the engine's arbitration loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(arbitrationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-e.inbound:
			if e.active != nil {
				e.active.RxPacket(f.Header, f.Payload)
			}
		case <-ticker.C:
			e.tick(time.Now())
		}
	}
}

func (e *Engine) tick(now time.Time) {
	if e.active != nil {
		if e.active.Work(now) == GlobalFinished {
			e.finish(now)
		}
		return
	}
	if now.Sub(e.lastJobFinishAt) < e.delayBetweenRequests {
		return
	}
	trueNow, ok := e.now()
	if !ok {
		return
	}
	j, ready := e.peekReady(trueNow)
	if !ready {
		return
	}
	e.popFront()
	e.active = j
	j.Work(now)
	if e.onJobActive != nil {
		e.onJobActive()
	}
}

func (e *Engine) finish(now time.Time) {
	j := e.active
	e.active = nil
	e.lastJobFinishAt = now

	var records []Record
	for _, ij := range j.Ifaces {
		csBytes := ij.Config.ToCSBytes()
		chMask := csBytes[1]
		gainMask := binary.LittleEndian.Uint16(csBytes[2:4])
		for serial, data := range ij.CollectedBlocks() {
			records = append(records, Record{
				Serial:    serial,
				TimeStart: time.Unix(int64(j.Timestamp), 0).UTC(),
				Samples:   ij.Config.DataRate.Hz(),
				Frequency: uint8(ij.Config.DataRate),
				Channels:  chMask,
				Gain:      gainMask,
				Data:      data,
			})
		}
	}
	if len(records) > 0 {
		if err := e.sink.InsertMany(records); err != nil {
			e.log.WithError(err).Warn("failed to insert acquisition records")
		}
		if err := e.sink.UpsertMax(records); err != nil {
			e.log.WithError(err).Warn("failed to update time-cache records")
		}
	}
	if e.onJobFinished != nil {
		e.onJobFinished()
	}
}
