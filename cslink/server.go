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

// Package cslink implements the upstream control-server protocol: a
// TCP server the recording/control server connects to, framing CS
// requests and responses the way the program this gateway replaces
// does over its own asyncio socket server.
package cslink

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/antonov-mipt/pp218-linret/protocol/cs"
)

// setReuseAddr lets a restarted gateway rebind the CS port immediately
// instead of waiting out TIME_WAIT, the way ptp4u's server sets socket
// options directly on the raw fd via golang.org/x/sys/unix.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

// outboundQueueCap bounds each connection's response queue; a
// connection that isn't draining fast enough loses responses rather
// than stalling the coordinator that produced them.
const outboundQueueCap = 32

// Handler answers one CS request with a response header and payload.
// It is expected to block until the coordinator has actually produced
// an answer.
type Handler func(hdr cs.Header, payload []byte) (cs.Header, []byte)

// Server is the upstream CS protocol listener.
type Server struct {
	addr    string
	handle  Handler
	Stats   Stats
	log     *log.Entry

	mu        sync.Mutex
	nClients  int
}

// New constructs a Server bound to addr (":<port>" form).
func New(addr string, handle Handler) *Server {
	return &Server{
		addr:   addr,
		handle: handle,
		log:    log.WithField("component", "CS"),
	}
}

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.log.WithError(err).Error("accept failed")
				continue
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := xid.New()
	clog := s.log.WithField("conn", id.String())

	s.mu.Lock()
	s.nClients++
	n := s.nClients
	s.mu.Unlock()
	incr(&s.Stats.Reconnections)
	clog.Warnf("CS %d connected", n)

	outbound := make(chan []byte, outboundQueueCap)
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(connCtx, conn, outbound, clog)
	s.readLoop(connCtx, conn, outbound, clog)

	conn.Close()
	s.mu.Lock()
	s.nClients--
	n = s.nClients
	s.mu.Unlock()
	clog.Warnf("CS %d disconnected", n)
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn, outbound chan<- []byte, clog *log.Entry) {
	hdrBuf := make([]byte, cs.HeaderSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := io.ReadFull(conn, hdrBuf); err != nil {
			if err != io.EOF {
				clog.WithError(err).Debug("cs connection read ended")
			}
			return
		}
		incr(&s.Stats.RxCtr)

		hdr, err := cs.DecodeHeader(hdrBuf)
		if err != nil {
			incr(&s.Stats.InptHdrErrors)
			continue
		}

		var payload []byte
		if hdr.PayloadLength > 0 {
			payload = make([]byte, hdr.PayloadLength)
			if _, err := io.ReadFull(conn, payload); err != nil {
				clog.WithError(err).Debug("cs connection payload read ended")
				return
			}
		}

		respHdr, respPayload := s.handle(hdr, payload)
		frame := append(respHdr.Encode(len(respPayload)), respPayload...)
		select {
		case outbound <- frame:
		default:
			incr(&s.Stats.PacketsToCSDroppedQFull)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn net.Conn, outbound <-chan []byte, clog *log.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-outbound:
			if _, err := conn.Write(frame); err != nil {
				clog.WithError(err).Warn("cs connection write failed")
				return
			}
			incr(&s.Stats.TxCtr)
		}
	}
}
