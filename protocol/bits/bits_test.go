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

package bits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTripsAcrossByteBoundary(t *testing.T) {
	w := &Writer{}
	w.Write(0x5, 3)  // 101
	w.WriteBool(true)
	w.Write(0x7, 4) // 0111, fills the first byte exactly
	w.WriteBool(false) // crosses into the second byte
	out := w.Flush()

	r := NewReader(out)
	require.Equal(t, uint32(0x5), r.Read(3))
	require.True(t, r.ReadBool())
	require.Equal(t, uint32(0x7), r.Read(4))
	require.False(t, r.ReadBool())
}

func TestFlushPadsPartialByte(t *testing.T) {
	w := &Writer{}
	w.Write(0x1, 1)
	out := w.Flush()
	require.Len(t, out, 1)
	require.Equal(t, byte(0x1), out[0])
}

func TestFlushNoOpWhenByteAligned(t *testing.T) {
	w := &Writer{}
	w.Write(0xAB, 8)
	out := w.Flush()
	require.Equal(t, []byte{0xAB}, out)
	// a second Flush with nothing pending must not duplicate the byte
	out = w.Flush()
	require.Equal(t, []byte{0xAB}, out)
}

func TestReadPastInputReturnsZeroBits(t *testing.T) {
	r := NewReader([]byte{0xFF})
	r.Read(8)
	require.Equal(t, uint32(0), r.Read(4))
}
