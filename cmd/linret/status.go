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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/antonov-mipt/pp218-linret/coordinator"
	"github.com/antonov-mipt/pp218-linret/monitor"
)

type statusSnapshot struct {
	Core    coordinator.CoreStats        `json:"core"`
	Devices []coordinator.DeviceSnapshot `json:"devices"`
	CPUTemp float64                      `json:"cpu_temp_c,omitempty"`
}

// statusMain implements the `linret status` introspection subcommand:
// it fetches the running gateway's JSON snapshot over its monitoring
// port and renders the device table the way cmd/ptpcheck's `sources`
// command renders its unicast master table, with the same color-coded
// thresholds CHASSIS.get_stats used.
func statusMain(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	port := fs.Int("port", 8000, "Gateway's monitoring port")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/", *port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "linret status: fetching snapshot: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var snap statusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		fmt.Fprintf(os.Stderr, "linret status: decoding snapshot: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("known devices: %d  invalid drops: %d  rx drops: %d  cpu temp: %.1fC\n",
		snap.Core.KnownDevices, snap.Core.InvalidPacketDrops, snap.Core.RxPacketsDropped, snap.CPUTemp)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(16)
	table.SetHeader([]string{"IF", "ADDR", "SRM SERIAL", "GPS", "SYNC", "BAT0", "BAT1", "SRM RUN", "LOSS%", "LAT(ms)", "PENDING"})
	for _, d := range snap.Devices {
		table.Append([]string{
			d.IfType,
			strconv.Itoa(int(d.Addr)),
			d.SRMSerial,
			monitor.GPSFixHealth(d.GPSNumSV).Colorize(strconv.Itoa(d.GPSNumSV)),
			monitor.SyncHealth(d.SyncOK).Colorize(strconv.FormatBool(d.SyncOK)),
			monitor.BatteryHealth(d.Battery0V).Colorize(fmt.Sprintf("%.1f", d.Battery0V)),
			monitor.BatteryHealth(d.Battery1V).Colorize(fmt.Sprintf("%.1f", d.Battery1V)),
			strconv.FormatBool(d.SRMRunning),
			fmt.Sprintf("%.1f", d.LossPct),
			fmt.Sprintf("%.1f", d.AvgLatencyMs),
			strconv.Itoa(d.Pending),
		})
	}
	table.Render()
}
