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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/antonov-mipt/pp218-linret/coordinator"
)

// snapshotResponse is the payload served at "/", matching the shape
// of JSONStats.handleRequest in the program this gateway borrows its
// monitoring-port idiom from.
type snapshotResponse struct {
	Core    coordinator.CoreStats        `json:"core"`
	Devices []coordinator.DeviceSnapshot `json:"devices"`
	CPUTemp float64                      `json:"cpu_temp_c,omitempty"`
}

// Server is the monitoring HTTP endpoint: a JSON device/stats snapshot
// at "/" and Prometheus metrics at "/metrics".
type Server struct {
	core Core
	sys  *SysStats
	log  *log.Entry
}

// NewServer builds a monitoring Server and registers coll with a
// private Prometheus registry, so this gateway's metrics don't collide
// with anything already registered against the default one.
func NewServer(core Core, coll *Collector, sys *SysStats) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(coll)
	return &Server{core: core, sys: sys, log: log.WithField("component", "MONITOR")}, reg
}

// Handler builds the mux serving the JSON snapshot and /metrics.
func (s *Server) Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSnapshot)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// Start runs the monitoring HTTP server until it fails; mirrors
// JSONStats.Start's "one port, blocking ListenAndServe" shape.
func (s *Server) Start(port int, reg *prometheus.Registry) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.Infof("starting monitoring http server on %s", addr)
	return http.ListenAndServe(addr, s.Handler(reg))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	resp := snapshotResponse{
		Core:    s.core.Stats(),
		Devices: s.core.Snapshot(),
	}
	if s.sys != nil {
		if t, err := s.sys.CPUTemperatureC(); err == nil {
			resp.CPUTemp = t
		}
	}
	js, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		s.log.WithError(err).Warn("failed to write monitoring response")
	}
}
