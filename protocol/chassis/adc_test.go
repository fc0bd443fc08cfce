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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleConfigs() []ADCConfig {
	return []ADCConfig{
		{DataRate: DR500, Channels: [4]bool{true, false, false, false}, Gains: [4]GainCode{Gain1x, Gain1x, Gain1x, Gain1x}},
		{DataRate: DR1000, Channels: [4]bool{true, true, true, false}, Gains: [4]GainCode{Gain2x, Gain4x, Gain8x, Gain16x}},
		{DataRate: DR2000, Channels: [4]bool{true, true, true, true}, Gains: [4]GainCode{Gain32x, Gain64x, Gain1x, Gain2x}},
	}
}

func TestADCConfigSRMRoundTrip(t *testing.T) {
	for _, c := range sampleConfigs() {
		b := c.ToSRMBytes()
		got, err := FromSRMBytes(b[:])
		require.NoError(t, err)
		require.True(t, c.Equal(got))
	}
}

func TestADCConfigCSRoundTrip(t *testing.T) {
	for _, c := range sampleConfigs() {
		b := c.ToCSBytes()
		got, err := FromCSBytes(b[:])
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestADCConfigJSONRoundTrip(t *testing.T) {
	for _, c := range sampleConfigs() {
		raw, err := json.Marshal(c)
		require.NoError(t, err)
		var got ADCConfig
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, c, got)
	}
}

func TestADCConfigPacketsPerNode(t *testing.T) {
	c := ADCConfig{DataRate: DR500, Channels: [4]bool{true, false, false, false}}
	require.Equal(t, 1, c.PacketsPerNode())

	c = ADCConfig{DataRate: DR1000, Channels: [4]bool{true, true, true, false}}
	require.Equal(t, 6, c.PacketsPerNode())
}

func TestADCConfigEqualIgnoresNothingButPackedBits(t *testing.T) {
	a := ADCConfig{DataRate: DR500, Channels: [4]bool{true, false, false, false}, Gains: [4]GainCode{Gain1x, Gain1x, Gain1x, Gain1x}}
	b := a
	require.True(t, a.Equal(b))
	b.Gains[1] = Gain2x
	require.False(t, a.Equal(b))
}

func TestDataRateFromHzUnsupported(t *testing.T) {
	_, err := DataRateFromHz(123)
	require.Error(t, err)
}
