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
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

var procStartTime = time.Now()

// SysStats reads host/process metrics the way CollectRuntimeStats did
// in the program this gateway replaces, supplementing the original's
// raw /sys/class/thermal read with gopsutil's portable sensor lookup.
type SysStats struct {
	proc *process.Process
}

// NewSysStats constructs a SysStats bound to the current process.
func NewSysStats() (*SysStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("monitor: finding own process: %w", err)
	}
	return &SysStats{proc: p}, nil
}

// ProcessStats is a point-in-time digest of this process's resource
// use, named the way core.py's stats_sender reported them.
type ProcessStats struct {
	UptimeSec float64
	CPUPct    float64
	RSSBytes  uint64
	NumFDs    int32
	NumGR     int32
}

// Collect gathers process-level stats. Any single sub-reading that
// fails (permissions, platform support) is left at its zero value
// rather than aborting the whole snapshot.
func (s *SysStats) Collect() ProcessStats {
	var st ProcessStats
	st.UptimeSec = time.Since(procStartTime).Seconds()
	if pct, err := s.proc.Percent(0); err == nil {
		st.CPUPct = pct
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		st.RSSBytes = mem.RSS
	}
	if n, err := s.proc.NumFDs(); err == nil {
		st.NumFDs = n
	}
	if n, err := s.proc.NumThreads(); err == nil {
		st.NumGR = n
	}
	return st
}

// CPUTemperatureC reports the first available sensor temperature in
// Celsius, replacing core.py's unguarded read of
// /sys/class/thermal/thermal_zone0/temp with a read that fails closed
// (returns an error, on which callers leave the temperature out)
// instead of panicking the stats-reporting loop on an unsupported host.
func (s *SysStats) CPUTemperatureC() (float64, error) {
	sensors, err := host.SensorsTemperatures()
	if err != nil {
		return 0, fmt.Errorf("monitor: reading sensors: %w", err)
	}
	for _, sn := range sensors {
		if sn.Temperature > 0 {
			return sn.Temperature, nil
		}
	}
	return 0, fmt.Errorf("monitor: no sensor reported a temperature")
}
