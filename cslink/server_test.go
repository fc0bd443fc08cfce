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

package cslink

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antonov-mipt/pp218-linret/protocol/cs"
)

func TestServeConnRoundTrip(t *testing.T) {
	handler := func(hdr cs.Header, payload []byte) (cs.Header, []byte) {
		return cs.Header{CmdType: cs.AckNakResponse}, []byte{byte(cs.Ack)}
	}
	srv := New(":0", handler)
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() { srv.serveConn(context.Background(), serverConn); close(done) }()

	req := cs.Header{CmdType: cs.LRStateRequest, DstSerial: cs.Broadcast()}
	_, err := clientConn.Write(req.Encode(0))
	require.NoError(t, err)

	respHdrBuf := make([]byte, cs.HeaderSize)
	_, err = io.ReadFull(clientConn, respHdrBuf)
	require.NoError(t, err)
	respHdr, err := cs.DecodeHeader(respHdrBuf)
	require.NoError(t, err)
	require.Equal(t, cs.AckNakResponse, respHdr.CmdType)

	respPayload := make([]byte, respHdr.PayloadLength)
	_, err = io.ReadFull(clientConn, respPayload)
	require.NoError(t, err)
	require.Equal(t, []byte{byte(cs.Ack)}, respPayload)

	clientConn.Close()
	<-done

	stats := srv.Stats.Snapshot()
	require.Equal(t, uint64(1), stats.RxCtr)
	require.Equal(t, uint64(1), stats.TxCtr)
}

func TestServeConnBadHeaderIncrementsCounterAndContinues(t *testing.T) {
	var gotHdr cs.Header
	handler := func(hdr cs.Header, payload []byte) (cs.Header, []byte) {
		gotHdr = hdr
		return cs.Header{CmdType: cs.AckNakResponse}, nil
	}
	srv := New(":0", handler)
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() { srv.serveConn(context.Background(), serverConn); close(done) }()

	_, err := clientConn.Write(make([]byte, cs.HeaderSize)) // magic byte wrong
	require.NoError(t, err)

	good := cs.Header{CmdType: cs.LRStateRequest, DstSerial: cs.Broadcast()}
	_, err = clientConn.Write(good.Encode(0))
	require.NoError(t, err)

	respHdrBuf := make([]byte, cs.HeaderSize)
	_, err = io.ReadFull(clientConn, respHdrBuf)
	require.NoError(t, err)

	clientConn.Close()
	<-done

	require.Equal(t, cs.LRStateRequest, gotHdr.CmdType)
	stats := srv.Stats.Snapshot()
	require.Equal(t, uint64(1), stats.InptHdrErrors)
	require.Equal(t, uint64(2), stats.RxCtr)
}

func TestServeConnTracksClientCount(t *testing.T) {
	handler := func(hdr cs.Header, payload []byte) (cs.Header, []byte) {
		return cs.Header{CmdType: cs.AckNakResponse}, nil
	}
	srv := New(":0", handler)
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() { srv.serveConn(context.Background(), serverConn); close(done) }()

	clientConn.Close()
	<-done

	require.Equal(t, 0, srv.nClients)
}
