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

package chassis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		IfType:   IfWifi0,
		ChunkN:   1,
		ChunkSz:  42,
		RandomID: 7,
		SrcAddr:  3,
		DstAddr:  9,
		MsgType:  CntlStatReq,
		NakCode:  NoError,
	}
	got, err := DecodeHeader(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestHeaderMatchesResponse(t *testing.T) {
	req := Header{IfType: IfLocal, SrcAddr: 0, DstAddr: 2, RandomID: 5}
	resp := Header{IfType: IfLocal, SrcAddr: 2, DstAddr: 0, RandomID: 5}
	require.True(t, req.MatchesResponse(resp))

	wrongID := resp
	wrongID.RandomID = 6
	require.False(t, req.MatchesResponse(wrongID))

	wrongIface := resp
	wrongIface.IfType = IfWired0
	require.False(t, req.MatchesResponse(wrongIface))
}

func TestResponseHeaderSwapsAddrs(t *testing.T) {
	req := Header{IfType: IfWifi1, SrcAddr: 0, DstAddr: 4, RandomID: 9}
	resp := req.ResponseHeader(CntlStatAck, NoError)
	require.Equal(t, req.DstAddr, resp.SrcAddr)
	require.Equal(t, req.SrcAddr, resp.DstAddr)
	require.Equal(t, req.RandomID, resp.RandomID)
	require.Equal(t, CntlStatAck, resp.MsgType)
}

func TestFullAddrDistinguishesInterfaces(t *testing.T) {
	require.NotEqual(t, FullAddr(IfWifi0, 1), FullAddr(IfWifi1, 1))
	require.Equal(t, FullAddr(IfLocal, 2), FullAddr(IfLocal, 2))
}
