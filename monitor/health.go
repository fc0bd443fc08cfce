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
	"github.com/fatih/color"

	"github.com/antonov-mipt/pp218-linret/coordinator"
)

// Health is a traffic-light verdict for one device-table cell, the
// way ptpcheck's diag command colors a threshold check.
type Health int

// Health levels, ordered worst to best so callers can take the min
// across several cells to decide a row's overall color.
const (
	HealthRed Health = iota
	HealthYellow
	HealthGreen
)

// BatteryHealth applies the gateway's 15V/14V battery thresholds: at or
// above 15V is green, at or above 14V is yellow, anything lower is red.
func BatteryHealth(volts float64) Health {
	switch {
	case volts >= 15:
		return HealthGreen
	case volts >= 14:
		return HealthYellow
	default:
		return HealthRed
	}
}

// GPSFixHealth applies the gateway's satellite-count thresholds: 4 or
// more tracked satellites is green, 3 is yellow, anything lower is red.
func GPSFixHealth(numSV int) Health {
	switch {
	case numSV >= 4:
		return HealthGreen
	case numSV >= 3:
		return HealthYellow
	default:
		return HealthRed
	}
}

// SyncHealth colors the device's clock-sync flag.
func SyncHealth(syncOK bool) Health {
	if syncOK {
		return HealthGreen
	}
	return HealthRed
}

// Colorize renders s in the color matching h, the way ptpcheck colors
// its check results green/yellow/red.
func (h Health) Colorize(s string) string {
	switch h {
	case HealthGreen:
		return color.GreenString("%s", s)
	case HealthYellow:
		return color.YellowString("%s", s)
	default:
		return color.RedString("%s", s)
	}
}

// RowHealth is the worst of a device row's individual cell healths,
// used to color the row's overall indicator in the CLI table.
func RowHealth(d coordinator.DeviceSnapshot) Health {
	h := SyncHealth(d.SyncOK)
	if bh := BatteryHealth(d.Battery0V); bh < h {
		h = bh
	}
	if bh := BatteryHealth(d.Battery1V); bh < h {
		h = bh
	}
	if gh := GPSFixHealth(d.GPSNumSV); gh < h {
		h = gh
	}
	return h
}
