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

package timebase

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// withChecksum appends a valid NMEA checksum to body, which must start
// with '$' and carry no checksum of its own.
func withChecksum(body string) string {
	var sum byte
	for i := 1; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("%s*%02X", body, sum)
}

func TestChecksumOK(t *testing.T) {
	s := withChecksum("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	require.True(t, checksumOK(s))

	corrupted := []byte(s)
	corrupted[10] ^= 0x01
	require.False(t, checksumOK(string(corrupted)))
}

func TestParseRMC(t *testing.T) {
	s := withChecksum("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	rmc, err := parseRMC(s)
	require.NoError(t, err)
	require.True(t, rmc.valid)
	require.Equal(t, time.Date(2094, 3, 23, 12, 35, 19, 0, time.UTC), rmc.utc)
}

func TestParseRMCVoidStatus(t *testing.T) {
	s := withChecksum("$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	rmc, err := parseRMC(s)
	require.NoError(t, err)
	require.False(t, rmc.valid)
}

func TestParseGGA(t *testing.T) {
	s := withChecksum("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	gga, err := parseGGA(s)
	require.NoError(t, err)
	require.Equal(t, 1, gga.qual)
	require.Equal(t, 8, gga.numSV)
	require.Equal(t, 12*time.Hour+35*time.Minute+19*time.Second, gga.timeOfDay)
}

func TestSentenceKind(t *testing.T) {
	require.Equal(t, "RMC", sentenceKind("$GPRMC,..."))
	require.Equal(t, "GGA", sentenceKind("$GNGGA,..."))
	require.Equal(t, "", sentenceKind("$X"))
}
