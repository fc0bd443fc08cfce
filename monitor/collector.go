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

// Package monitor exposes the gateway's internal state over HTTP: a
// Prometheus /metrics endpoint mirroring the per-component dbg_stats
// counters, and a JSON device-table snapshot mirroring CHASSIS.get_stats,
// in the manner of ptp4u/stats's JSON reporter and its monitoring port.
package monitor

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antonov-mipt/pp218-linret/chassislink"
	"github.com/antonov-mipt/pp218-linret/coordinator"
	"github.com/antonov-mipt/pp218-linret/cslink"
	"github.com/antonov-mipt/pp218-linret/stream"
)

// Core is the subset of *coordinator.Coordinator the collector needs;
// defined as an interface so it can be faked in tests.
type Core interface {
	Stats() coordinator.CoreStats
	Snapshot() []coordinator.DeviceSnapshot
}

// Collector implements prometheus.Collector, gathering metrics from
// the coordinator, chassis link, CS link, and stream engine on every
// scrape rather than pushing them, the way the rdma exporter's
// RdmaCollector builds its descs once and fills values in Collect.
type Collector struct {
	core   Core
	link   *chassislink.Link
	cs     *cslink.Server
	stream *stream.Engine
	sys    *SysStats

	collectMu sync.Mutex

	knownDevices       *prometheus.Desc
	invalidPacketDrops *prometheus.Desc
	rxPacketsDropped   *prometheus.Desc

	chaTxCtr          *prometheus.Desc
	chaRxCtr          *prometheus.Desc
	chaQueueFullDrops *prometheus.Desc
	chaHdrErrors      *prometheus.Desc
	chaExtraBytes     *prometheus.Desc
	chaChunkSeqErr    *prometheus.Desc

	csTxCtr           *prometheus.Desc
	csRxCtr           *prometheus.Desc
	csDroppedQFull    *prometheus.Desc
	csDroppedNoClient *prometheus.Desc
	csReconnections   *prometheus.Desc
	csHdrErrors       *prometheus.Desc
	csUnSerializeErr  *prometheus.Desc

	streamDroppedInbound *prometheus.Desc
	streamDroppedPending *prometheus.Desc

	deviceSyncOK     *prometheus.Desc
	deviceSRMRunning *prometheus.Desc
	deviceLossPct    *prometheus.Desc
	deviceLatencyMs  *prometheus.Desc
	deviceBattery0V  *prometheus.Desc
	deviceBattery1V  *prometheus.Desc
	deviceGPSNumSV   *prometheus.Desc
	devicePending    *prometheus.Desc

	cpuTempC *prometheus.Desc
}

// NewCollector builds a Collector wired to the running components.
// Any of link/cs/stream/sys may be nil if that component isn't in
// use; their metrics are simply skipped.
func NewCollector(core Core, link *chassislink.Link, cs *cslink.Server, eng *stream.Engine, sys *SysStats) *Collector {
	ns := "linret"
	return &Collector{
		core:   core,
		link:   link,
		cs:     cs,
		stream: eng,
		sys:    sys,

		knownDevices:       prometheus.NewDesc(ns+"_known_devices", "Number of devices currently in the registry.", nil, nil),
		invalidPacketDrops: prometheus.NewDesc(ns+"_invalid_packet_drops_total", "Events posted to the coordinator that it did not recognise.", nil, nil),
		rxPacketsDropped:   prometheus.NewDesc(ns+"_rx_packets_dropped_total", "Responses dropped for not matching any pending request, requests that timed out, and non-status frames from unknown devices.", nil, nil),

		chaTxCtr:          prometheus.NewDesc(ns+"_chassis_tx_total", "Chassis link frames sent.", nil, nil),
		chaRxCtr:          prometheus.NewDesc(ns+"_chassis_rx_total", "Chassis link frames received.", nil, nil),
		chaQueueFullDrops: prometheus.NewDesc(ns+"_chassis_queue_full_drops_total", "Chassis frames dropped because the send queue was full.", nil, nil),
		chaHdrErrors:      prometheus.NewDesc(ns+"_chassis_header_errors_total", "Chassis frames dropped for a malformed header.", nil, nil),
		chaExtraBytes:     prometheus.NewDesc(ns+"_chassis_extra_bytes_total", "Chassis frames that carried trailing bytes past their declared length.", nil, nil),
		chaChunkSeqErr:    prometheus.NewDesc(ns+"_chassis_chunk_sequence_errors_total", "Multi-chunk reassemblies that arrived out of order.", nil, nil),

		csTxCtr:           prometheus.NewDesc(ns+"_cs_tx_total", "CS link frames sent.", nil, nil),
		csRxCtr:           prometheus.NewDesc(ns+"_cs_rx_total", "CS link frames received.", nil, nil),
		csDroppedQFull:    prometheus.NewDesc(ns+"_cs_dropped_queue_full_total", "CS frames dropped because a queue toward the core or the client was full.", nil, nil),
		csDroppedNoClient: prometheus.NewDesc(ns+"_cs_dropped_no_client_total", "CS frames dropped because no client connection was active.", nil, nil),
		csReconnections:   prometheus.NewDesc(ns+"_cs_reconnections_total", "CS client reconnection events.", nil, nil),
		csHdrErrors:       prometheus.NewDesc(ns+"_cs_header_errors_total", "CS frames dropped for a malformed header.", nil, nil),
		csUnSerializeErr:  prometheus.NewDesc(ns+"_cs_unserialize_errors_total", "CS payloads that failed to decode.", nil, nil),

		streamDroppedInbound: prometheus.NewDesc(ns+"_stream_dropped_inbound_total", "STREAM_DATA packets dropped because the engine's inbound queue was full.", nil, nil),
		streamDroppedPending: prometheus.NewDesc(ns+"_stream_dropped_pending_total", "Planned jobs dropped from the backlog to make room for a newer one.", nil, nil),

		deviceSyncOK:     prometheus.NewDesc(ns+"_device_sync_ok", "1 if the device's clock is synced, 0 otherwise.", []string{"iface", "addr"}, nil),
		deviceSRMRunning: prometheus.NewDesc(ns+"_device_srm_running", "1 if the device's recorder is currently running, 0 otherwise.", []string{"iface", "addr"}, nil),
		deviceLossPct:    prometheus.NewDesc(ns+"_device_loss_pct", "Request/response loss percentage over the retained window.", []string{"iface", "addr"}, nil),
		deviceLatencyMs:  prometheus.NewDesc(ns+"_device_latency_ms", "Smoothed request/response latency in milliseconds.", []string{"iface", "addr"}, nil),
		deviceBattery0V:  prometheus.NewDesc(ns+"_device_battery0_volts", "Primary battery voltage.", []string{"iface", "addr"}, nil),
		deviceBattery1V:  prometheus.NewDesc(ns+"_device_battery1_volts", "Secondary battery voltage.", []string{"iface", "addr"}, nil),
		deviceGPSNumSV:   prometheus.NewDesc(ns+"_device_gps_numsv", "Number of GPS satellites the device's fix uses.", []string{"iface", "addr"}, nil),
		devicePending:    prometheus.NewDesc(ns+"_device_pending_requests", "Number of outstanding unmatched requests for this device.", []string{"iface", "addr"}, nil),

		cpuTempC: prometheus.NewDesc(ns+"_cpu_temperature_celsius", "Host CPU temperature, read via the first available sensor.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.knownDevices
	ch <- c.invalidPacketDrops
	ch <- c.rxPacketsDropped
	ch <- c.chaTxCtr
	ch <- c.chaRxCtr
	ch <- c.chaQueueFullDrops
	ch <- c.chaHdrErrors
	ch <- c.chaExtraBytes
	ch <- c.chaChunkSeqErr
	ch <- c.csTxCtr
	ch <- c.csRxCtr
	ch <- c.csDroppedQFull
	ch <- c.csDroppedNoClient
	ch <- c.csReconnections
	ch <- c.csHdrErrors
	ch <- c.csUnSerializeErr
	ch <- c.streamDroppedInbound
	ch <- c.streamDroppedPending
	ch <- c.deviceSyncOK
	ch <- c.deviceSRMRunning
	ch <- c.deviceLossPct
	ch <- c.deviceLatencyMs
	ch <- c.deviceBattery0V
	ch <- c.deviceBattery1V
	ch <- c.deviceGPSNumSV
	ch <- c.devicePending
	ch <- c.cpuTempC
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	core := c.core.Stats()
	ch <- prometheus.MustNewConstMetric(c.knownDevices, prometheus.GaugeValue, float64(core.KnownDevices))
	ch <- prometheus.MustNewConstMetric(c.invalidPacketDrops, prometheus.CounterValue, float64(core.InvalidPacketDrops))
	ch <- prometheus.MustNewConstMetric(c.rxPacketsDropped, prometheus.CounterValue, float64(core.RxPacketsDropped))

	if c.link != nil {
		s := c.link.Stats.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.chaTxCtr, prometheus.CounterValue, float64(s.TxCtr))
		ch <- prometheus.MustNewConstMetric(c.chaRxCtr, prometheus.CounterValue, float64(s.RxCtr))
		ch <- prometheus.MustNewConstMetric(c.chaQueueFullDrops, prometheus.CounterValue, float64(s.QueueFullDrops))
		ch <- prometheus.MustNewConstMetric(c.chaHdrErrors, prometheus.CounterValue, float64(s.InptHdrErrors))
		ch <- prometheus.MustNewConstMetric(c.chaExtraBytes, prometheus.CounterValue, float64(s.ExtraBytesRecvd))
		ch <- prometheus.MustNewConstMetric(c.chaChunkSeqErr, prometheus.CounterValue, float64(s.ChunkSequenceError))
	}

	if c.cs != nil {
		s := c.cs.Stats.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.csTxCtr, prometheus.CounterValue, float64(s.TxCtr))
		ch <- prometheus.MustNewConstMetric(c.csRxCtr, prometheus.CounterValue, float64(s.RxCtr))
		ch <- prometheus.MustNewConstMetric(c.csDroppedQFull, prometheus.CounterValue, float64(s.PacketsToCoreDroppedQFull+s.PacketsToCSDroppedQFull))
		ch <- prometheus.MustNewConstMetric(c.csDroppedNoClient, prometheus.CounterValue, float64(s.PacketsDroppedNoClient))
		ch <- prometheus.MustNewConstMetric(c.csReconnections, prometheus.CounterValue, float64(s.Reconnections))
		ch <- prometheus.MustNewConstMetric(c.csHdrErrors, prometheus.CounterValue, float64(s.InptHdrErrors))
		ch <- prometheus.MustNewConstMetric(c.csUnSerializeErr, prometheus.CounterValue, float64(s.UnSerializeErrors))
	}

	if c.stream != nil {
		droppedInbound, droppedPending := c.stream.Stats()
		ch <- prometheus.MustNewConstMetric(c.streamDroppedInbound, prometheus.CounterValue, float64(droppedInbound))
		ch <- prometheus.MustNewConstMetric(c.streamDroppedPending, prometheus.CounterValue, float64(droppedPending))
	}

	for _, d := range c.core.Snapshot() {
		addr := strconv.Itoa(int(d.Addr))
		ch <- prometheus.MustNewConstMetric(c.deviceSyncOK, prometheus.GaugeValue, boolVal(d.SyncOK), d.IfType, addr)
		ch <- prometheus.MustNewConstMetric(c.deviceSRMRunning, prometheus.GaugeValue, boolVal(d.SRMRunning), d.IfType, addr)
		ch <- prometheus.MustNewConstMetric(c.deviceLossPct, prometheus.GaugeValue, d.LossPct, d.IfType, addr)
		ch <- prometheus.MustNewConstMetric(c.deviceLatencyMs, prometheus.GaugeValue, d.AvgLatencyMs, d.IfType, addr)
		ch <- prometheus.MustNewConstMetric(c.deviceBattery0V, prometheus.GaugeValue, d.Battery0V, d.IfType, addr)
		ch <- prometheus.MustNewConstMetric(c.deviceBattery1V, prometheus.GaugeValue, d.Battery1V, d.IfType, addr)
		ch <- prometheus.MustNewConstMetric(c.deviceGPSNumSV, prometheus.GaugeValue, float64(d.GPSNumSV), d.IfType, addr)
		ch <- prometheus.MustNewConstMetric(c.devicePending, prometheus.GaugeValue, float64(d.Pending), d.IfType, addr)
	}

	if c.sys != nil {
		if temp, err := c.sys.CPUTemperatureC(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.cpuTempC, prometheus.GaugeValue, temp)
		}
	}
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

