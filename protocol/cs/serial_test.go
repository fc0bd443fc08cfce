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

package cs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
)

func TestLRSerialEncodesLRNumberAndDevType(t *testing.T) {
	m := SerialMinter{LRNumber: 3}
	s := m.LRSerial()
	require.Equal(t, "EMU_", string(s[:4]))
	require.Equal(t, byte('0'+3), s[4])
	require.Equal(t, byte(DevLR), s[5])
}

func TestSRMSerialAndChaSerialVaryByInterfaceAndAddr(t *testing.T) {
	m := SerialMinter{LRNumber: 1}
	srm := m.SRMSerial(chassis.IfWifi0, 5)
	require.Equal(t, byte(DevSRM), srm[5])
	require.Equal(t, byte('0'+byte(chassis.IfWifi0)), srm[6])
	require.Equal(t, byte('0'+5), srm[7])

	cha := m.ChaSerial(DevChaLR, chassis.IfLocal, 2)
	require.Equal(t, byte(DevChaLR), cha[5])
	require.NotEqual(t, srm, cha)
}

func TestNextSNAndPrevSNStepAlongTheWiredChain(t *testing.T) {
	m := SerialMinter{LRNumber: 1}
	base := m.ChaSerial(DevChaLR, chassis.IfLocal, 5)
	next := m.NextSN(DevChaLR, chassis.IfLocal, 5)
	prev := m.PrevSN(DevChaLR, chassis.IfLocal, 5)

	require.Equal(t, base[7]+1, next[7])
	require.Equal(t, base[7]-1, prev[7])
}
