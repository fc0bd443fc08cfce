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

// Package chassislink implements the raw-Ethernet transport to the
// seismic chassis fleet: framing, two-chunk reassembly, send pacing,
// and the keepalive handshake, built the way the example package's
// node sender/receiver pair drives gopacket/pcap for its own raw
// packet sweeps.
package chassislink

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
)

const (
	// TxEtherType tags frames this gateway sends to the chassis fleet.
	TxEtherType = 0xEEF9
	// RxEtherType tags frames the chassis fleet sends back.
	RxEtherType = 0xEEFA

	snapshotLen  = 2048
	promiscuous  = true
	recvTimeout  = 10 * time.Millisecond
	sendQueueCap = 50

	// handshakeIdleWindow is how long without any inbound traffic before
	// the link considers itself disconnected and re-sends a handshake.
	handshakeIdleWindow = 3 * time.Second
)

// Link owns the raw socket to the chassis fleet. It is driven entirely
// by its own three goroutines (send, receive, handshake); callers interact only
// through channels and the Send method.
type Link struct {
	iface   string
	srcMAC  net.HardwareAddr
	dstMAC  net.HardwareAddr
	minter  *chassis.IDGen

	handle *pcap.Handle

	sendQueue chan chassis.Frame
	Received  chan chassis.Frame

	Stats Stats
	log   *log.Entry

	pending   map[chassis.IfType]*pendingChunk
	lastRxAt  time.Time
	connected bool
}

type pendingChunk struct {
	header  chassis.Header
	payload []byte
}

// New constructs a Link bound to iface. dstMAC is the fixed chassis_mac
// address configured for this deployment.
func New(iface string, srcMAC, dstMAC net.HardwareAddr, idGen *chassis.IDGen) *Link {
	return &Link{
		iface:     iface,
		srcMAC:    srcMAC,
		dstMAC:    dstMAC,
		minter:    idGen,
		sendQueue: make(chan chassis.Frame, sendQueueCap),
		Received:  make(chan chassis.Frame, sendQueueCap),
		log:       log.WithField("component", "CHAS"),
		pending:   make(map[chassis.IfType]*pendingChunk),
	}
}

// Send enqueues a frame for transmission, returning false (and
// counting a drop) if the send queue is full rather than blocking.
func (l *Link) Send(f chassis.Frame) bool {
	select {
	case l.sendQueue <- f:
		return true
	default:
		incr(&l.Stats.QueueFullDrops)
		return false
	}
}

// Run opens the pcap handle and drives the send/receive loops until
// ctx is cancelled.
func (l *Link) Run(ctx context.Context) error {
	handle, err := pcap.OpenLive(l.iface, snapshotLen, promiscuous, recvTimeout)
	if err != nil {
		return fmt.Errorf("chassislink: opening %s: %w", l.iface, err)
	}
	l.handle = handle
	defer handle.Close()

	if err := handle.SetBPFFilter(fmt.Sprintf("ether proto 0x%x", RxEtherType)); err != nil {
		return fmt.Errorf("chassislink: setting BPF filter: %w", err)
	}

	done := make(chan struct{}, 2)
	go func() { l.recvLoop(ctx); done <- struct{}{} }()
	go func() { l.sendLoop(ctx); done <- struct{}{} }()
	go l.handshaker(ctx)

	<-ctx.Done()
	<-done
	<-done
	return ctx.Err()
}

func (l *Link) recvLoop(ctx context.Context) {
	src := gopacket.NewPacketSource(l.handle, l.handle.LinkType())
	pkts := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-pkts:
			if !ok {
				return
			}
			l.handlePacket(pkt)
		}
	}
}

func (l *Link) handlePacket(pkt gopacket.Packet) {
	eth, ok := pkt.LinkLayer().(*layers.Ethernet)
	if !ok || eth.EthernetType != layers.EthernetType(RxEtherType) {
		return
	}
	body := eth.LayerPayload()
	l.lastRxAt = time.Now()
	l.connected = true

	if len(body) < chassis.HeaderSize {
		incr(&l.Stats.InptHdrErrors)
		return
	}
	hdr, err := chassis.DecodeHeader(body)
	if err != nil {
		incr(&l.Stats.InptHdrErrors)
		return
	}
	payload := body[chassis.HeaderSize:]
	if hdr.IfType == chassis.IfDriver {
		// keepalive from the driver link, not dispatched further
		return
	}

	if len(payload) > int(hdr.ChunkSz) {
		incr(&l.Stats.ExtraBytesRecvd)
		payload = payload[:hdr.ChunkSz]
	} else if len(payload) < int(hdr.ChunkSz) {
		incr(&l.Stats.InptHdrErrors)
		return
	}

	incr(&l.Stats.RxCtr)

	if hdr.ChunkN == 2 {
		l.pending[hdr.IfType] = &pendingChunk{header: hdr, payload: append([]byte(nil), payload...)}
		return
	}
	if pc, ok := l.pending[hdr.IfType]; ok && pc.header.RandomID == hdr.RandomID && pc.header.SrcAddr == hdr.SrcAddr {
		delete(l.pending, hdr.IfType)
		full := append(pc.payload, payload...)
		l.deliver(pc.header, full)
		return
	}
	if _, had := l.pending[hdr.IfType]; had {
		incr(&l.Stats.ChunkSequenceError)
		delete(l.pending, hdr.IfType)
	}
	l.deliver(hdr, payload)
}

func (l *Link) deliver(hdr chassis.Header, payload []byte) {
	f := chassis.Frame{Header: hdr, Payload: payload}
	select {
	case l.Received <- f:
	default:
		incr(&l.Stats.QueueFullDrops)
	}
}

func (l *Link) sendLoop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(time.Millisecond), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.sendQueue:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			l.writeFrame(f)
		}
	}
}

func (l *Link) writeFrame(f chassis.Frame) {
	ethLayer := &layers.Ethernet{
		SrcMAC:       l.srcMAC,
		DstMAC:       l.dstMAC,
		EthernetType: layers.EthernetType(TxEtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	payload := gopacket.Payload(f.Encode())
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, payload); err != nil {
		l.log.WithError(err).Error("failed to serialize chassis frame")
		return
	}
	if err := l.handle.WritePacketData(buf.Bytes()); err != nil {
		l.log.WithError(err).Error("failed to write chassis frame")
		return
	}
	incr(&l.Stats.TxCtr)
}

// handshaker re-sends the driver-link handshake whenever no traffic
// has been seen for handshakeIdleWindow, marking the link disconnected
// until traffic resumes.
func (l *Link) handshaker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(l.lastRxAt) > handshakeIdleWindow {
				l.connected = false
				l.Send(chassis.NewRequest(chassis.IfDriver, 0, 0, chassis.LRHandshakeReq, l.minter.Next(), nil))
			}
		}
	}
}

// Connected reports whether the link has seen traffic recently.
func (l *Link) Connected() bool { return l.connected }
