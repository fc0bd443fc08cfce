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

func TestNewRequestEncode(t *testing.T) {
	f := NewRequest(IfWired0, 1, 2, CntlStatReq, 17, []byte{0xAB, 0xCD})
	require.Equal(t, IfWired0, f.Header.IfType)
	require.Equal(t, uint8(1), f.Header.SrcAddr)
	require.Equal(t, uint8(2), f.Header.DstAddr)
	require.Equal(t, uint8(17), f.Header.RandomID)
	require.Equal(t, uint16(2), f.Header.ChunkSz)

	b := f.Encode()
	require.Len(t, b, HeaderSize+2)

	hdr, err := DecodeHeader(b[:HeaderSize])
	require.NoError(t, err)
	require.Equal(t, f.Header, hdr)
	require.Equal(t, f.Payload, b[HeaderSize:])
}
