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

// Package coordinator implements the gateway's central control loop:
// the device registry, discovery sweep, acquisition job scheduling, and
// translation between the chassis link protocol and the upstream CS
// protocol.
package coordinator

import (
	"time"

	"github.com/eclesh/welford"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
	"github.com/antonov-mipt/pp218-linret/protocol/cs"
)

// statsRetention is how long rx/latency samples are kept before being
// pruned from a device's stats window.
const statsRetention = 60 * time.Second

// maxPendingWarn is the outstanding-request count beyond which the
// coordinator logs a warning; pending requests are never refused past
// this point, only flagged.
const maxPendingWarn = 10

// pendingRequest correlates an outbound chassis request with the
// response that will eventually (or never) arrive, by (if_type, addr,
// random_id).
type pendingRequest struct {
	ifType      chassis.IfType
	addr        uint8
	randomID    uint8
	msgType     chassis.MsgType
	sentAt      time.Time
	clockSecond uint32 // CNTL_CLK_SET_REQ only: the second requested
	clockPhase  int32  // CNTL_CLK_SET_REQ only: send-time fractional ms
}

// sample is one timestamped round-trip observation in a device's
// rolling stats window.
type sample struct {
	at   time.Time
	lost bool
	lat  time.Duration
}

// DiscoverySlot is one neighbor-discovery entry reported by a chassis's
// CNTL_DISC_ACK: a peer's MAC, its signal strength, and the GPS
// position last reported for it.
type DiscoverySlot struct {
	PeerMAC [6]byte
	RSSI    int8
	Valid   bool
	Lat     int32
	Lon     int32
}

// Device tracks one chassis discovered on a chassis link: its identity,
// recent request/response traffic, and the clock/acquisition state
// needed to decide whether it should be running.
type Device struct {
	IfType  chassis.IfType
	Addr    uint8
	DevType cs.DevType

	SRMSerial     cs.Serial
	srmSerialKnow bool

	randomID uint8
	pending  []pendingRequest

	samples    []sample
	smoothed   *welford.Stats
	latSampleN int

	lastRxAt         time.Time
	lastStatusRecvAt time.Time

	chassisTimeValid bool
	stateTimeSyncOK  bool
	inptPPSValid     bool // chassis's own GPS PPS input, gates clock sync
	appendedUnixTime uint32
	appendedSet      bool

	srmStatusSeen     bool
	srmRunning        bool
	ppsPresent        bool // recorder's own PPS, gates SRM_RUN
	adcSyncOK         bool
	wasInStoppedState bool

	discoverySlots [chassis.DiscoverySlotCount]DiscoverySlot
	uplinkMAC      [6]byte
	downlinkMAC    [6]byte

	gpsLat, gpsLon int32
	gpsNumSV       int

	battery0V, battery1V float64

	activeConfig *chassis.ADCConfig
}

// NewDevice constructs a freshly discovered device.
func NewDevice(ifType chassis.IfType, addr uint8, devType cs.DevType) *Device {
	return &Device{
		IfType:   ifType,
		Addr:     addr,
		DevType:  devType,
		smoothed: welford.New(),
		lastRxAt: time.Now(),
	}
}

// FullAddr is the registry key for this device.
func (d *Device) FullAddr() uint16 { return chassis.FullAddr(d.IfType, d.Addr) }

// pruneStats drops samples older than statsRetention, relative to now.
// It must run before any stats computation reads this window, so loss
// is always computed over the retained window and never over stale
// unbounded history. Average latency is not windowed: it is the running
// mean in smoothed, over every reply since the device was added.
func (d *Device) pruneStats(now time.Time) {
	cut := 0
	for cut < len(d.samples) && now.Sub(d.samples[cut].at) > statsRetention {
		cut++
	}
	if cut > 0 {
		d.samples = append([]sample(nil), d.samples[cut:]...)
	}
}

// recordSuccess records a correlated reply and its round-trip latency.
func (d *Device) recordSuccess(now time.Time, lat time.Duration) {
	d.samples = append(d.samples, sample{at: now, lat: lat})
	d.smoothed.Add(lat.Seconds())
	d.latSampleN++
	d.lastRxAt = now
}

// recordLoss records a request that was swept out as timed out without
// ever being answered.
func (d *Device) recordLoss(now time.Time) {
	d.samples = append(d.samples, sample{at: now, lost: true})
}

// nextRandomID hands out this device's next request-correlation id,
// wrapping modulo 256.
func (d *Device) nextRandomID() uint8 {
	id := d.randomID
	d.randomID++
	return id
}

// newRequest builds a chassis request addressed to this device, minting
// a fresh random_id and tracking the request as pending.
func (d *Device) newRequest(msgType chassis.MsgType, payload []byte, now time.Time) chassis.Frame {
	id := d.nextRandomID()
	d.pending = append(d.pending, pendingRequest{
		ifType:   d.IfType,
		addr:     d.Addr,
		randomID: id,
		msgType:  msgType,
		sentAt:   now,
	})
	return chassis.NewRequest(d.IfType, 0, d.Addr, msgType, id, payload)
}

// MatchResponse scans this device's pending requests for the one hdr
// answers, by (if_type, addr, random_id). If found, it is consumed and
// the round trip is recorded as a success; the matched request is
// returned so callers needing more than its message type (clock-sync
// bookkeeping) can read it.
func (d *Device) MatchResponse(hdr chassis.Header, now time.Time) (pendingRequest, bool) {
	for i, p := range d.pending {
		if p.ifType == hdr.IfType && p.addr == hdr.SrcAddr && p.randomID == hdr.RandomID {
			d.pending = append(d.pending[:i:i], d.pending[i+1:]...)
			d.recordSuccess(now, now.Sub(p.sentAt))
			return p, true
		}
	}
	return pendingRequest{}, false
}

// SweepTimeouts drops pending requests older than timeout, recording
// each as a loss, and reports how many were lost and how many remain
// outstanding.
func (d *Device) SweepTimeouts(now time.Time, timeout time.Duration) (lost, remaining int) {
	kept := d.pending[:0]
	for _, p := range d.pending {
		if now.Sub(p.sentAt) > timeout {
			d.recordLoss(now)
			lost++
			continue
		}
		kept = append(kept, p)
	}
	d.pending = kept
	return lost, len(d.pending)
}

// PollIfNecessary builds this tick's periodic status/recorder/discovery
// requests, following the per-device polling rules: a chassis status
// request whenever the last received status snapshot has gone stale,
// and - whenever no job is active - recorder status, the recorder
// serial if still unknown, discovery, and a stop command if the
// recorder reports running without this device having been marked
// freshly stopped.
func (d *Device) PollIfNecessary(now time.Time, jobActive bool, packetLifetime time.Duration) []chassis.Frame {
	var frames []chassis.Frame
	if now.Sub(d.lastStatusRecvAt) > packetLifetime {
		frames = append(frames, d.newRequest(chassis.CntlStatReq, nil, now))
	}
	if jobActive {
		return frames
	}
	frames = append(frames, d.newRequest(chassis.SRMStatReq, nil, now))
	if !d.srmSerialKnow {
		frames = append(frames, d.newRequest(chassis.SRMFatReq, nil, now))
	}
	frames = append(frames, d.newRequest(chassis.CntlDiscReq, nil, now))
	if d.srmRunning && !d.wasInStoppedState {
		frames = append(frames, d.newRequest(chassis.SRMStopReq, nil, now))
	}
	return frames
}

// CheckTimeouts prunes stale state and reports whether the device
// should be considered timed out and removed from the registry.
// jobIsActive suppresses the liveness requirement while the gateway
// still has unfinished acquisitions from this device outstanding.
func (d *Device) CheckTimeouts(now time.Time, jobIsActive bool, nodeTotalLifetime time.Duration) bool {
	d.pruneStats(now)
	if jobIsActive {
		return false
	}
	return now.Sub(d.lastRxAt) > nodeTotalLifetime
}

// IsActiveDev reports whether this device should participate in the
// next streaming job under the given configuration: its recorder must
// be known, acquiring, synced, and running the given configuration.
func (d *Device) IsActiveDev(active chassis.ADCConfig) bool {
	return d.srmSerialKnow && d.srmRunning && d.adcSyncOK &&
		d.activeConfig != nil && d.activeConfig.Equal(active)
}

// RunIfNecessary starts acquisition on this device's SRM if every
// precondition holds: the gateway has true time, the device's own
// clock is synced, its SRM has reported status at least once and is
// idle, PPS is present, and the chassis's clock has been stamped with
// an appended_unix_time.
func (d *Device) RunIfNecessary(trueTime time.Time, active chassis.ADCConfig) *chassis.Frame {
	if !d.chassisTimeValid || !d.stateTimeSyncOK || !d.srmStatusSeen || !d.srmSerialKnow {
		return nil
	}
	if !d.ppsPresent || !d.appendedSet || d.srmRunning {
		return nil
	}
	payload := chassis.SRMRunPayload{
		UseChassisTime:  true,
		UseChassisCoord: d.gpsLat != 0 && d.gpsLon != 0,
		CmdSendTime:     uint32(trueTime.Unix()),
		Lat:             d.gpsLat,
		Lon:             d.gpsLon,
		ADCParams:       active.ToSRMBytes(),
	}
	d.activeConfig = &active
	f := d.newRequest(chassis.SRMRunReq, payload.Encode(), trueTime)
	return &f
}

// StopIfNecessary stops acquisition on this device's SRM if it is
// currently running.
func (d *Device) StopIfNecessary() *chassis.Frame {
	if !d.srmRunning {
		return nil
	}
	f := d.newRequest(chassis.SRMStopReq, nil, time.Now())
	return &f
}

// SyncIfNecessary sends a clock-set request carrying the current true
// time, if this chassis's clock has not yet been stamped and it
// reports a valid GPS PPS input. now is the local send time (used for
// pending-request bookkeeping); trueTime is the GPS-anchored time
// actually sent to the chassis.
func (d *Device) SyncIfNecessary(now, trueTime time.Time) *chassis.Frame {
	if d.appendedSet || !d.inptPPSValid {
		return nil
	}
	payload := chassis.SetClockPayload{Second: uint32(trueTime.Unix())}
	id := d.nextRandomID()
	phaseMs := int32(trueTime.Nanosecond() / 1_000_000)
	d.pending = append(d.pending, pendingRequest{
		ifType:      d.IfType,
		addr:        d.Addr,
		randomID:    id,
		msgType:     chassis.CntlClkSetReq,
		sentAt:      now,
		clockSecond: payload.Second,
		clockPhase:  phaseMs,
	})
	f := chassis.NewRequest(d.IfType, 0, d.Addr, chassis.CntlClkSetReq, id, payload.Encode())
	return &f
}

// applyStatus folds a CNTL_STAT_ACK into the device's state.
func (d *Device) applyStatus(payload []byte, now time.Time) {
	d.chassisTimeValid = true
	d.lastStatusRecvAt = now
	st, err := chassis.DecodeChaStatusPayload(payload)
	if err != nil {
		return
	}
	d.battery0V = float64(st.Battery0V)
	d.battery1V = float64(st.Battery1V)
	d.gpsNumSV = int(st.GPSNumSV)
	d.gpsLat = st.GPSLat
	d.gpsLon = st.GPSLon
	d.inptPPSValid = st.InptPPSValid
	d.uplinkMAC = st.UplinkMAC
	d.downlinkMAC = st.DownlinkMAC
}

// applySRMStatus folds an SRM_STAT_ACK into the device's state.
func (d *Device) applySRMStatus(payload []byte) {
	st, err := chassis.DecodeSRMStatusPayload(payload)
	if err != nil {
		return
	}
	d.srmStatusSeen = true
	d.srmRunning = st.AcqRunning
	d.adcSyncOK = st.ADCSyncOK
	d.ppsPresent = st.PPSPresent
	cfg := st.Config
	d.activeConfig = &cfg
}

// applyDiscovery folds a CNTL_DISC_ACK into the device's neighbor table.
func (d *Device) applyDiscovery(payload []byte) {
	dp, err := chassis.DecodeDiscoveryPayload(payload)
	if err != nil {
		return
	}
	for i, s := range dp.Slots {
		d.discoverySlots[i] = DiscoverySlot{
			PeerMAC: s.PeerMAC,
			RSSI:    s.RSSI,
			Valid:   s.Valid,
			Lat:     s.Lat,
			Lon:     s.Lon,
		}
	}
}

// WifiDigest cross-references this chassis's configured uplink/downlink
// peer MACs against its discovery table, reporting the RSSI and GPS
// position of each live wifi neighbor, as a CHA status response does.
func (d *Device) WifiDigest() []cs.WifiClient {
	var out []cs.WifiClient
	var zero [6]byte
	for _, link := range []struct {
		mac [6]byte
		up  bool
	}{{d.uplinkMAC, true}, {d.downlinkMAC, false}} {
		if link.mac == zero {
			continue
		}
		for _, slot := range d.discoverySlots {
			if slot.Valid && slot.PeerMAC == link.mac {
				out = append(out, cs.WifiClient{RSSI: slot.RSSI, Lat: slot.Lat, Lon: slot.Lon, Up: link.up})
			}
		}
	}
	return out
}

// DeviceSnapshot is the color-coded status row rendered by the CLI
// `status` subcommand and the monitor's JSON snapshot, mirroring the
// device stats digest the original gateway reported.
type DeviceSnapshot struct {
	IfType       string
	Addr         uint8
	SRMSerial    string
	GPSNumSV     int
	SyncOK       bool
	Battery0V    float64
	Battery1V    float64
	SRMRunning   bool
	LossPct      float64
	AvgLatencyMs float64
	Pending      int
}

// Snapshot computes the current status row for this device.
func (d *Device) Snapshot(now time.Time) DeviceSnapshot {
	d.pruneStats(now)
	var sn DeviceSnapshot
	sn.IfType = d.IfType.String()
	sn.Addr = d.Addr
	if d.srmSerialKnow {
		sn.SRMSerial = d.SRMSerial.String()
	}
	sn.GPSNumSV = d.gpsNumSV
	sn.SyncOK = d.stateTimeSyncOK
	sn.Battery0V = d.battery0V
	sn.Battery1V = d.battery1V
	sn.SRMRunning = d.srmRunning
	sn.Pending = len(d.pending)
	if d.latSampleN > 0 {
		sn.AvgLatencyMs = d.smoothed.Mean() * 1000
	}
	if total := len(d.samples); total > 0 {
		lost := 0
		for _, s := range d.samples {
			if s.lost {
				lost++
			}
		}
		sn.LossPct = float64(lost) / float64(total) * 100
	}
	return sn
}
