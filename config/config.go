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

// Package config loads and persists the gateway's JSON configuration
// file, filling in defaults for any key the file is missing and
// writing the filled-in file back, mirroring the read-or-default-and-
// persist pattern of the program this gateway replaces.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/antonov-mipt/pp218-linret/protocol/chassis"
)

// NodeTimeouts holds the device/packet lifetime knobs the coordinator
// and stream engine use to age out stale state.
type NodeTimeouts struct {
	NodeTotalLifetimeSec float64 `json:"node_total_lifetime"`
	PacketWaitTimeoutSec float64 `json:"packet_wait_timeout"`
	PacketLifetimeSec    float64 `json:"packet_lifetime"`
}

// SinkConfig addresses the persistent store the stream engine writes
// acquired samples to.
type SinkConfig struct {
	URL                string `json:"url"`
	DBName             string `json:"db_name"`
	DataCollection     string `json:"data_collection"`
	TimeCacheCollection string `json:"timecache_collection"`
}

// Config is the gateway's full runtime configuration.
type Config struct {
	WebUIPort             int                      `json:"web_ui_port"`
	CSPort                int                      `json:"cs_port"`
	EthIface              string                   `json:"eth_iface"`
	LRNumber              uint8                    `json:"lr_number"`
	ChassisMAC            string                   `json:"chassis_mac"`
	Sink                  SinkConfig               `json:"db_config"`
	AutoRequestData       bool                     `json:"auto_request_data"`
	UseSystemTime         bool                     `json:"use_system_time"`
	MaxNodesPerInterface  map[string]int           `json:"max_nodes_per_interface"`
	NodesDiscoverPeriodSec float64                 `json:"nodes_discover_period"`
	NodeTimeouts          NodeTimeouts             `json:"node_timeouts"`
	DelayBetweenRequestsSec float64                `json:"delay_between_requests"`
	DelayBeforeRequestSec float64                  `json:"delay_before_request"`
	LatestADCConfig       *chassis.ADCConfig       `json:"latest_adc_config,omitempty"`
	GPSDevice             string                   `json:"gps_device"`
	// AcqMode is the operator's chosen gateway-wide acquisition mode:
	// "none" (default, leave devices alone), "run", or "stop". A CS
	// CMD_ACQ_CTL request is applied immediately regardless of this
	// setting; this only gates the periodic autonomous controller.
	AcqMode string `json:"acq_mode"`
}

// Defaults returns the configuration this gateway ships with when no
// config file, or an incomplete one, is found.
func Defaults() Config {
	return Config{
		WebUIPort:  8000,
		CSPort:     56987,
		EthIface:   "eth2",
		LRNumber:   1,
		ChassisMAC: "pp218\x00",
		Sink: SinkConfig{
			URL:                 "mongodb://localhost:27017",
			DBName:              "linret",
			DataCollection:      "data",
			TimeCacheCollection: "timecache",
		},
		AutoRequestData: false,
		UseSystemTime:   false,
		MaxNodesPerInterface: map[string]int{
			chassis.IfLocal.String(): 1,
			chassis.IfWifi0.String(): 0,
			chassis.IfWifi1.String(): 0,
			chassis.IfWired0.String(): 0,
			chassis.IfWired1.String(): 0,
		},
		NodesDiscoverPeriodSec: 1,
		NodeTimeouts: NodeTimeouts{
			NodeTotalLifetimeSec: 10,
			PacketWaitTimeoutSec: 0.15,
			PacketLifetimeSec:    0.75,
		},
		DelayBetweenRequestsSec: 0.15,
		DelayBeforeRequestSec:   2.4,
		GPSDevice:               "/dev/ttyS0",
		AcqMode:                 "none",
	}
}

// Load reads cfg from path, filling any key the file omits with its
// default and writing the merged config back to path. If path doesn't
// exist, the full default configuration is written and returned.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := save(path, cfg); werr != nil {
			return cfg, werr
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := save(path, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
