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
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/antonov-mipt/pp218-linret/chassislink"
	"github.com/antonov-mipt/pp218-linret/config"
	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
	"github.com/antonov-mipt/pp218-linret/protocol/cs"
	"github.com/antonov-mipt/pp218-linret/stream"
)

// TrueTimeFunc reports current true time, as TimeBase.NowTrue does.
type TrueTimeFunc func() (time.Time, bool)

// StreamSubmitter accepts a planned streaming job, matching
// stream.Engine.Submit without importing it as a concrete type here.
type StreamSubmitter func(*stream.Job) bool

// StreamPoster feeds a STREAM-tagged chassis response into the stream
// engine, matching stream.Engine.PostChaResponse.
type StreamPoster func(chassis.Header, []byte) bool

// Coordinator is the gateway's single-threaded control loop: it owns
// the device registry, runs discovery, decides when to schedule
// acquisition jobs, and answers upstream control-server requests.
type Coordinator struct {
	cfg    config.Config
	link   *chassislink.Link
	nowTrue TrueTimeFunc
	submit StreamSubmitter
	streamPost StreamPoster
	minter cs.SerialMinter
	idGen  *chassis.IDGen

	reg *Registry

	inbox chan any

	acqMode           AcqMode
	lastAcqCtlAt      time.Time
	lastSyncAt        time.Time
	lastTimeoutCheck  time.Time
	lastDiscoverAt    map[chassis.IfType]time.Time
	nextJobSchedule   int64
	jobActive         bool

	log *log.Entry

	nodeTotalLifetime time.Duration
	discoverPeriod    time.Duration

	invalidPacketDrops uint64
	rxPacketsDropped   uint64
}

// New constructs a Coordinator.
func New(cfg config.Config, link *chassislink.Link, nowTrue TrueTimeFunc, submit StreamSubmitter, streamPost StreamPoster, idGen *chassis.IDGen) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		link:           link,
		nowTrue:        nowTrue,
		submit:         submit,
		streamPost:     streamPost,
		minter:         cs.SerialMinter{LRNumber: cfg.LRNumber},
		idGen:          idGen,
		reg:            NewRegistry(),
		inbox:          make(chan any, 64),
		lastDiscoverAt: make(map[chassis.IfType]time.Time),
		log:            log.WithField("component", "CORE"),
		nodeTotalLifetime: time.Duration(cfg.NodeTimeouts.NodeTotalLifetimeSec * float64(time.Second)),
		discoverPeriod:    time.Duration(cfg.NodesDiscoverPeriodSec * float64(time.Second)),
	}
}

// SetAcqMode changes the gateway-wide acquisition control mode the
// periodic acqController acts on. Operator-facing callers (the CLI,
// an eventual control surface) use this; a CS CMD_ACQ_CTL request is
// instead applied immediately by handleAcqControl and never touches
// this mode.
func (c *Coordinator) SetAcqMode(mode AcqMode) {
	c.Post(setAcqModeEvent{mode: mode})
}

// NotifyJobActive tells the coordinator a streaming job has started,
// matching stream.Engine's onJobActive callback shape so main can wire
// the two components together without either importing the other's
// unexported event types.
func (c *Coordinator) NotifyJobActive() {
	c.Post(jobActiveEvent{})
}

// NotifyJobFinished tells the coordinator the active streaming job has
// finished.
func (c *Coordinator) NotifyJobFinished() {
	c.Post(jobFinishedEvent{})
}

// Post enqueues an event for the coordinator loop, dropping it if the
// inbox is full.
func (c *Coordinator) Post(ev any) bool {
	select {
	case c.inbox <- ev:
		return true
	default:
		return false
	}
}

// SubmitCSRequest hands an upstream request to the coordinator and
// blocks until a response is produced.
func (c *Coordinator) SubmitCSRequest(hdr cs.Header, payload []byte) CSResponse {
	respCh := make(chan CSResponse, 1)
	if !c.Post(CSRequest{Header: hdr, Payload: payload, RespCh: respCh}) {
		return CSResponse{Header: hdr.ResponseHeader(cs.AckNakResponse, c.minter.LRSerial()), Payload: cs.AckNak{Code: cs.Nak}.Encode()}
	}
	return <-respCh
}

// Run drives the coordinator's event loop until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.inbox:
			if _, ok := ev.(shutdownEvent); ok {
				return nil
			}
			c.handleEvent(ev)
		case f := <-c.link.Received:
			if f.Header.MsgType.IsStream() {
				if c.streamPost != nil {
					c.streamPost(f.Header, f.Payload)
				}
				continue
			}
			c.handleChassisFrame(f)
		case <-ticker.C:
			c.tick(time.Now())
		}
	}
}

func (c *Coordinator) handleEvent(ev any) {
	switch e := ev.(type) {
	case shutdownEvent:
	case jobActiveEvent:
		c.jobActive = true
	case jobFinishedEvent:
		c.jobActive = false
	case setAcqModeEvent:
		c.acqMode = e.mode
	case CSRequest:
		e.RespCh <- c.handleCSRequest(e.Header, e.Payload)
	case statsRequestEvent:
		e.respCh <- c.statsLocked()
	case snapshotRequestEvent:
		e.respCh <- c.snapshotLocked()
	default:
		atomic.AddUint64(&c.invalidPacketDrops, 1)
	}
}

func (c *Coordinator) tick(now time.Time) {
	trueNow, haveTrue := c.nowTrue()

	c.jobScheduler(now, trueNow, haveTrue)
	if haveTrue {
		c.nodesSyncer(now, trueNow)
		c.acqController(now, trueNow)
	}
	c.checkDeviceTimeouts(now)
	c.discoverNext(now)
}

// phaseGate reports whether now falls within the [0.4, 0.6) fractional
// second window the original design used to avoid colliding periodic
// control traffic with the PPS edge.
func phaseGate(now time.Time) bool {
	frac := float64(now.Nanosecond()) / 1e9
	return frac >= 0.4 && frac < 0.6
}

func (c *Coordinator) jobScheduler(now time.Time, trueNow time.Time, haveTrue bool) {
	if !haveTrue {
		return
	}
	if c.nextJobSchedule == 0 {
		c.nextJobSchedule = trueNow.Unix() + 1
		return
	}
	if trueNow.Unix() < c.nextJobSchedule {
		return
	}
	c.nextJobSchedule = trueNow.Unix() + 1

	if c.cfg.LatestADCConfig == nil {
		return
	}
	byIface := c.reg.ByInterface()
	planned := make(map[chassis.IfType]*stream.IfaceJob)
	for ifType, devs := range byIface {
		var refs []stream.DeviceRef
		nodeID := uint8(1)
		for _, d := range devs {
			if !d.IsActiveDev(*c.cfg.LatestADCConfig) {
				continue
			}
			refs = append(refs, stream.DeviceRef{Addr: d.Addr, SRMSerial: d.SRMSerial, NodeID: nodeID})
			nodeID++
		}
		if len(refs) == 0 {
			continue
		}
		planned[ifType] = stream.NewIfaceJob(ifType, refs, *c.cfg.LatestADCConfig, uint32(trueNow.Unix()), c.link.Send, c.idGen)
	}
	if len(planned) == 0 {
		return
	}
	// A job is "planned" as soon as eligible devices exist; it is only
	// actually dispatched to the stream engine when auto-acquisition is
	// enabled, so disabling it never silently drops device eligibility
	// tracking, only the act of running the job.
	if !c.cfg.AutoRequestData {
		c.log.Debug("job planned but not dispatched: auto_request_data disabled")
		return
	}
	job := stream.NewJob(uint32(trueNow.Unix()), planned)
	if !c.submit(job) {
		c.log.Warn("stream engine pending queue full, dropping planned job")
	}
}

func (c *Coordinator) nodesSyncer(now time.Time, trueNow time.Time) {
	if !phaseGate(now) || now.Sub(c.lastSyncAt) < time.Second {
		return
	}
	c.lastSyncAt = now
	for _, d := range c.reg.All() {
		if f := d.SyncIfNecessary(now, trueNow); f != nil {
			c.link.Send(*f)
		}
	}
}

func (c *Coordinator) acqController(now time.Time, trueNow time.Time) {
	if !phaseGate(now) || now.Sub(c.lastAcqCtlAt) < time.Second {
		return
	}
	c.lastAcqCtlAt = now
	if c.cfg.LatestADCConfig == nil {
		return
	}
	switch c.acqMode {
	case AcqRun:
		for _, d := range c.reg.All() {
			if f := d.RunIfNecessary(trueNow, *c.cfg.LatestADCConfig); f != nil {
				c.link.Send(*f)
			}
		}
	case AcqStop:
		for _, d := range c.reg.All() {
			if f := d.StopIfNecessary(); f != nil {
				c.link.Send(*f)
			}
		}
	}
}

func (c *Coordinator) checkDeviceTimeouts(now time.Time) {
	if now.Sub(c.lastTimeoutCheck) < 100*time.Millisecond {
		return
	}
	c.lastTimeoutCheck = now
	packetWaitTimeout := time.Duration(c.cfg.NodeTimeouts.PacketWaitTimeoutSec * float64(time.Second))
	packetLifetime := time.Duration(c.cfg.NodeTimeouts.PacketLifetimeSec * float64(time.Second))
	for _, d := range c.reg.All() {
		if d.CheckTimeouts(now, c.jobActive, c.nodeTotalLifetime) {
			c.log.WithField("device", d.FullAddr()).Info("device timed out, removing")
			c.reg.Remove(d.FullAddr())
			continue
		}
		lost, n := d.SweepTimeouts(now, packetWaitTimeout)
		if lost > 0 {
			atomic.AddUint64(&c.rxPacketsDropped, uint64(lost))
		}
		if n > maxPendingWarn {
			c.log.WithField("device", d.FullAddr()).WithField("pending", n).Warn("device has many outstanding requests")
		}
		for _, f := range d.PollIfNecessary(now, c.jobActive, packetLifetime) {
			c.link.Send(f)
		}
	}
}

// discoverNext probes the next unknown address on each interface,
// skipping interfaces while a job is active so discovery traffic never
// competes with a running acquisition.
func (c *Coordinator) discoverNext(now time.Time) {
	if c.jobActive {
		return
	}
	for ifType, max := range c.maxNodesPerInterface() {
		if now.Sub(c.lastDiscoverAt[ifType]) < c.discoverPeriod {
			continue
		}
		c.lastDiscoverAt[ifType] = now
		present := map[uint8]bool{}
		for _, d := range c.reg.All() {
			if d.IfType == ifType {
				present[d.Addr] = true
			}
		}
		for addr := uint8(1); int(addr) <= max; addr++ {
			if !present[addr] {
				f := chassis.NewRequest(ifType, 0, addr, chassis.CntlStatReq, c.idGen.Next(), nil)
				c.link.Send(f)
				break
			}
		}
	}
}

func (c *Coordinator) maxNodesPerInterface() map[chassis.IfType]int {
	out := make(map[chassis.IfType]int)
	for name, n := range c.cfg.MaxNodesPerInterface {
		switch name {
		case chassis.IfLocal.String():
			out[chassis.IfLocal] = n
		case chassis.IfWifi0.String():
			out[chassis.IfWifi0] = n
		case chassis.IfWifi1.String():
			out[chassis.IfWifi1] = n
		case chassis.IfWired0.String():
			out[chassis.IfWired0] = n
		case chassis.IfWired1.String():
			out[chassis.IfWired1] = n
		}
	}
	return out
}

func (c *Coordinator) handleChassisFrame(f chassis.Frame) {
	fullAddr := chassis.FullAddr(f.Header.IfType, f.Header.SrcAddr)
	dev, known := c.reg.Get(f.Header.IfType, f.Header.SrcAddr)

	if !known {
		if f.Header.MsgType == chassis.CntlStatAck && f.Header.NakCode == chassis.NoError {
			dev = NewDevice(f.Header.IfType, f.Header.SrcAddr, cs.DevChaRN)
			dev.applyStatus(f.Payload, time.Now())
			c.reg.Add(dev)
			c.log.WithField("device", fullAddr).Info("discovered chassis")
			// accelerate the sweep: immediately probe the next address too
			next := chassis.NewRequest(f.Header.IfType, 0, f.Header.SrcAddr+1, chassis.CntlStatReq, c.idGen.Next(), nil)
			c.link.Send(next)
			return
		}
		atomic.AddUint64(&c.rxPacketsDropped, 1)
		return
	}

	now := time.Now()
	dev.lastRxAt = now
	pr, matched := dev.MatchResponse(f.Header, now)
	if !matched {
		atomic.AddUint64(&c.rxPacketsDropped, 1)
		return
	}
	if f.Header.NakCode != chassis.NoError {
		// A NAK is still a completed round trip - the device is alive and
		// responsive, it just declined the request. State is not updated.
		c.log.WithField("device", fullAddr).WithField("msg_type", f.Header.MsgType).
			WithField("nak_code", f.Header.NakCode).Debug("chassis NAK response")
		return
	}
	c.dispatch(dev, f, pr)
}

func (c *Coordinator) dispatch(dev *Device, f chassis.Frame, pr pendingRequest) {
	switch f.Header.MsgType {
	case chassis.CntlStatAck:
		dev.applyStatus(f.Payload, time.Now())
	case chassis.SRMStatAck:
		dev.applySRMStatus(f.Payload)
	case chassis.SRMRunAck:
		dev.srmRunning = true
		dev.wasInStoppedState = false
	case chassis.SRMStopAck:
		dev.srmRunning = false
		dev.wasInStoppedState = true
	case chassis.SRMFatAck:
		dev.SRMSerial = c.minter.SRMSerial(dev.IfType, dev.Addr)
		dev.srmSerialKnow = true
	case chassis.CntlDiscAck:
		dev.applyDiscovery(f.Payload)
	case chassis.CntlClkSetAck:
		ack := chassis.DecodeSetClockAck(f.Payload)
		if ack.Present {
			diff := pr.clockPhase - int32(ack.PhaseNs/1_000_000)
			if diff < 0 {
				diff = -diff
			}
			if diff < 100 {
				dev.stateTimeSyncOK = true
				dev.appendedUnixTime = pr.clockSecond
				dev.appendedSet = true
			} else {
				dev.stateTimeSyncOK = false
			}
		}
	}
}

func (c *Coordinator) handleCSRequest(hdr cs.Header, payload []byte) CSResponse {
	switch hdr.CmdType {
	case cs.NodeIDListRequest:
		return c.handleNodeIDList(hdr, payload)
	case cs.LRStateRequest:
		resp := cs.LRStateReply{Serial: c.minter.LRSerial()}
		return CSResponse{Header: hdr.ResponseHeader(cs.LRStateResponse, c.minter.LRSerial()), Payload: resp.Encode()}
	case cs.SRMStateRequest, cs.ChaStateRequest, cs.ChaLRStateRequest:
		return c.handleStatusRequest(hdr, payload)
	case cs.SetConfigRequest:
		req, err := cs.DecodeSetConfigRequest(payload)
		if err != nil {
			return c.nak(hdr)
		}
		c.cfg.LatestADCConfig = &req.Config
		return c.ack(hdr)
	case cs.AcqControlRequest:
		return c.handleAcqControl(hdr, payload)
	default:
		return c.nak(hdr)
	}
}

func (c *Coordinator) handleNodeIDList(hdr cs.Header, payload []byte) CSResponse {
	req, err := cs.DecodeNodeIDListRequest(payload)
	if err != nil {
		return c.nak(hdr)
	}
	var devices []cs.DevID
	switch req.DevType {
	case cs.DevAny, cs.DevLR:
		devices = append(devices, cs.DevID{DevType: cs.DevLR, Serial: c.minter.LRSerial()})
	case cs.DevSRM:
		for _, d := range c.reg.All() {
			if d.srmSerialKnow {
				devices = append(devices, cs.DevID{DevType: cs.DevSRM, Serial: d.SRMSerial})
			}
		}
	case cs.DevChaLR, cs.DevChaRN:
		for _, d := range c.reg.All() {
			devices = append(devices, cs.DevID{DevType: d.DevType, Serial: c.minter.ChaSerial(d.DevType, d.IfType, d.Addr)})
		}
	}
	resp := cs.NodeIDListReply{Devices: devices}
	return CSResponse{Header: hdr.ResponseHeader(cs.NodeIDListResponse, c.minter.LRSerial()), Payload: resp.Encode()}
}

func (c *Coordinator) handleStatusRequest(hdr cs.Header, payload []byte) CSResponse {
	for _, d := range c.reg.All() {
		chaSerial := c.minter.ChaSerial(d.DevType, d.IfType, d.Addr)
		srmSerial := c.minter.SRMSerial(d.IfType, d.Addr)
		if hdr.DstSerial != chaSerial && hdr.DstSerial != srmSerial {
			continue
		}
		switch hdr.CmdType {
		case cs.SRMStateRequest:
			resp := cs.StatusSRMResponse{
				Config:             derefConfig(d.activeConfig),
				AcquisitionRunning: d.srmRunning,
				SyncOK:             d.stateTimeSyncOK,
			}
			return CSResponse{Header: hdr.ResponseHeader(cs.SRMStateResponse, c.minter.LRSerial()), Payload: resp.Encode()}
		case cs.ChaStateRequest, cs.ChaLRStateRequest:
			resp := cs.StatusChaResponse{
				DevType:     d.DevType,
				BatState:    [2]uint8{clampVoltage(d.battery0V), clampVoltage(d.battery1V)},
				SRMSerial:   d.SRMSerial,
				Lon:         d.gpsLon,
				Lat:         d.gpsLat,
				WifiClients: d.WifiDigest(),
			}
			if hdr.CmdType == cs.ChaLRStateRequest {
				resp.WiredConn1 = c.minter.PrevSN(d.DevType, d.IfType, d.Addr)
				resp.WiredConn2 = c.minter.NextSN(d.DevType, d.IfType, d.Addr)
			}
			return CSResponse{Header: hdr.ResponseHeader(statusResponseType(hdr.CmdType), c.minter.LRSerial()), Payload: resp.Encode()}
		}
	}
	return c.nak(hdr)
}

// clampVoltage packs a battery voltage reading (volts) into the
// tenths-of-a-volt byte the CHA status response wire form carries.
func clampVoltage(v float64) uint8 {
	tenths := v * 10
	if tenths < 0 {
		return 0
	}
	if tenths > 255 {
		return 255
	}
	return uint8(tenths)
}

// derefConfig returns the zero configuration when a device's active
// config hasn't been observed yet, so a status response is always well
// formed even before the first SRM status snapshot arrives.
func derefConfig(cfg *chassis.ADCConfig) chassis.ADCConfig {
	if cfg == nil {
		return chassis.ADCConfig{}
	}
	return *cfg
}

func statusResponseType(req cs.PacketType) cs.PacketType {
	switch req {
	case cs.SRMStateRequest:
		return cs.SRMStateResponse
	case cs.ChaStateRequest:
		return cs.ChaStateResponse
	case cs.ChaLRStateRequest:
		return cs.ChaLRStateResponse
	default:
		return cs.AckNakResponse
	}
}

func (c *Coordinator) handleAcqControl(hdr cs.Header, payload []byte) CSResponse {
	req, err := cs.DecodeAcqControlRequest(payload)
	if err != nil {
		return c.nak(hdr)
	}
	trueNow, haveTrue := c.nowTrue()
	if !haveTrue || c.cfg.LatestADCConfig == nil {
		return c.nak(hdr)
	}
	if hdr.IsBroadcast() {
		for _, d := range c.reg.All() {
			switch req.AcqCode {
			case cs.AcqRunning:
				if f := d.RunIfNecessary(trueNow, *c.cfg.LatestADCConfig); f != nil {
					c.link.Send(*f)
				}
			case cs.AcqIdle:
				if f := d.StopIfNecessary(); f != nil {
					c.link.Send(*f)
				}
			}
		}
		return c.ack(hdr)
	}
	for _, d := range c.reg.All() {
		if c.minter.ChaSerial(d.DevType, d.IfType, d.Addr) == hdr.DstSerial {
			switch req.AcqCode {
			case cs.AcqRunning:
				if f := d.RunIfNecessary(trueNow, *c.cfg.LatestADCConfig); f != nil {
					c.link.Send(*f)
				}
			case cs.AcqIdle:
				if f := d.StopIfNecessary(); f != nil {
					c.link.Send(*f)
				}
			}
			return c.ack(hdr)
		}
	}
	return c.nak(hdr)
}

func (c *Coordinator) ack(hdr cs.Header) CSResponse {
	return CSResponse{Header: hdr.ResponseHeader(cs.AckNakResponse, c.minter.LRSerial()), Payload: cs.AckNak{Code: cs.Ack}.Encode()}
}

func (c *Coordinator) nak(hdr cs.Header) CSResponse {
	return CSResponse{Header: hdr.ResponseHeader(cs.AckNakResponse, c.minter.LRSerial()), Payload: cs.AckNak{Code: cs.Nak}.Encode()}
}

// snapshotLocked builds the device table; must only run on the
// coordinator's own goroutine.
func (c *Coordinator) snapshotLocked() []DeviceSnapshot {
	now := time.Now()
	var out []DeviceSnapshot
	for _, d := range c.reg.All() {
		out = append(out, d.Snapshot(now))
	}
	return out
}

// Snapshot returns the current device table for status reporting. Safe
// to call from any goroutine: the read runs on the coordinator's own
// loop and the result is handed back over a private channel.
func (c *Coordinator) Snapshot() []DeviceSnapshot {
	respCh := make(chan []DeviceSnapshot, 1)
	if !c.Post(snapshotRequestEvent{respCh: respCh}) {
		return nil
	}
	return <-respCh
}

// CoreStats is a point-in-time copy of the coordinator's own debug
// counters, for the monitor's metrics and status views.
type CoreStats struct {
	InvalidPacketDrops uint64
	RxPacketsDropped   uint64
	KnownDevices       int
}

func (c *Coordinator) statsLocked() CoreStats {
	return CoreStats{
		InvalidPacketDrops: atomic.LoadUint64(&c.invalidPacketDrops),
		RxPacketsDropped:   atomic.LoadUint64(&c.rxPacketsDropped),
		KnownDevices:       len(c.reg.All()),
	}
}

// Stats returns the coordinator's current counters. Safe to call from
// another goroutine (e.g. the monitor's HTTP handler).
func (c *Coordinator) Stats() CoreStats {
	respCh := make(chan CoreStats, 1)
	if !c.Post(statsRequestEvent{respCh: respCh}) {
		return CoreStats{}
	}
	return <-respCh
}
