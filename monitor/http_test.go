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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antonov-mipt/pp218-linret/coordinator"
)

func TestHandleSnapshotServesCoreAndDevices(t *testing.T) {
	core := fakeCore{
		stats: coordinator.CoreStats{KnownDevices: 1},
		snapshot: []coordinator.DeviceSnapshot{
			{IfType: "local", Addr: 1, Battery0V: 14.8},
		},
	}
	coll := NewCollector(core, nil, nil, nil, nil)
	srv, reg := NewServer(core, coll, nil)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler(reg).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Core.KnownDevices)
	require.Len(t, resp.Devices, 1)
	require.Equal(t, 14.8, resp.Devices[0].Battery0V)
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	core := fakeCore{stats: coordinator.CoreStats{KnownDevices: 3}}
	coll := NewCollector(core, nil, nil, nil, nil)
	srv, reg := NewServer(core, coll, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler(reg).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "linret_known_devices 3")
}
