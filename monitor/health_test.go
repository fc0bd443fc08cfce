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

package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antonov-mipt/pp218-linret/coordinator"
)

func TestBatteryHealthThresholds(t *testing.T) {
	require.Equal(t, HealthGreen, BatteryHealth(15))
	require.Equal(t, HealthYellow, BatteryHealth(14.2))
	require.Equal(t, HealthRed, BatteryHealth(13.9))
}

func TestGPSFixHealthThresholds(t *testing.T) {
	require.Equal(t, HealthGreen, GPSFixHealth(5))
	require.Equal(t, HealthYellow, GPSFixHealth(3))
	require.Equal(t, HealthRed, GPSFixHealth(1))
}

func TestRowHealthIsWorstOfItsCells(t *testing.T) {
	d := coordinator.DeviceSnapshot{SyncOK: true, Battery0V: 15, Battery1V: 15, GPSNumSV: 1}
	require.Equal(t, HealthRed, RowHealth(d))

	d2 := coordinator.DeviceSnapshot{SyncOK: true, Battery0V: 15, Battery1V: 15, GPSNumSV: 5}
	require.Equal(t, HealthGreen, RowHealth(d2))

	d3 := coordinator.DeviceSnapshot{SyncOK: false, Battery0V: 15, Battery1V: 15, GPSNumSV: 5}
	require.Equal(t, HealthRed, RowHealth(d3))
}
