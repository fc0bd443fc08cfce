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

// Package timebase tracks a GPS-anchored monotonic wall clock: it
// reads NMEA RMC/GGA sentences off a serial GPS receiver, confirms
// agreement between the two sentence types before committing a new
// reference, and serves "true" time to the rest of the gateway as a
// commit point plus elapsed monotonic time, the way mac.Mac reads its
// serial link in the example this gateway is built in the image of.
package timebase

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// NMEAOffset compensates for the fixed latency between the NMEA
// sentence's timestamp and when it actually reaches the serial port.
const NMEAOffset = 140 * time.Millisecond

// discardWindow is how long of serial data is thrown away immediately
// after (re)opening the port, to skip a partially-buffered sentence.
const discardWindow = time.Second

// maxStaleness bounds how long a committed reference may be extrapolated
// forward before NowTrue reports time as unknown.
const maxStaleness = 60 * time.Second

// TimeBase serves the gateway's notion of true time.
type TimeBase struct {
	device        string
	useSystemTime bool
	log           *log.Entry

	mu         sync.Mutex
	latestTime time.Time
	latestMono time.Time

	pendingRMC    rmcFix
	havePendingRMC bool

	openErrPrinted  bool
	parseErrPrinted bool
}

// New constructs a TimeBase reading from device. If useSystemTime is
// set, NowTrue always returns the local system clock and the serial
// port is never opened — used for bench testing without a GPS.
func New(device string, useSystemTime bool) *TimeBase {
	return &TimeBase{
		device:        device,
		useSystemTime: useSystemTime,
		log:           log.WithField("component", "TIME"),
	}
}

// NowTrue returns the gateway's best estimate of current UTC time. The
// second return value is false when no recent GPS fix is available and
// UseSystemTime is off.
func (t *TimeBase) NowTrue() (time.Time, bool) {
	if t.useSystemTime {
		return time.Now().UTC(), true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latestMono.IsZero() {
		return time.Time{}, false
	}
	delta := time.Since(t.latestMono)
	if delta > maxStaleness {
		return time.Time{}, false
	}
	return t.latestTime.Add(delta), true
}

// Run opens the GPS serial port and feeds NowTrue until ctx is
// cancelled, reopening the port on any read error.
func (t *TimeBase) Run(ctx context.Context) error {
	if t.useSystemTime {
		<-ctx.Done()
		return ctx.Err()
	}
	for ctx.Err() == nil {
		if err := t.runOnce(ctx); err != nil {
			if !t.openErrPrinted {
				t.log.WithError(err).Warn("GPS serial session ended, reopening")
				t.openErrPrinted = true
			}
		}
	}
	return ctx.Err()
}

func (t *TimeBase) runOnce(ctx context.Context) error {
	var port serial.Port
	err := retry.Do(
		func() error {
			p, oerr := serial.Open(t.device, &serial.Mode{BaudRate: 9600})
			if oerr != nil {
				return oerr
			}
			port = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.MaxDelay(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("timebase: opening %s: %w", t.device, err)
	}
	defer port.Close()
	t.openErrPrinted = false

	scanner := bufio.NewScanner(port)
	opened := time.Now()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(opened) < discardWindow {
			continue
		}
		t.handleSentence(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("timebase: reading %s: %w", t.device, err)
	}
	return fmt.Errorf("timebase: serial port %s closed", t.device)
}

func (t *TimeBase) handleSentence(sentence string) {
	if !checksumOK(sentence) {
		return
	}
	kind := sentenceKind(sentence)
	switch kind {
	case "RMC":
		rmc, err := parseRMC(sentence)
		if err != nil {
			t.logParseErr(err)
			return
		}
		t.parseErrPrinted = false
		if !rmc.valid {
			return
		}
		t.mu.Lock()
		t.pendingRMC = rmc
		t.havePendingRMC = true
		t.mu.Unlock()
	case "GGA":
		gga, err := parseGGA(sentence)
		if err != nil {
			t.logParseErr(err)
			return
		}
		t.parseErrPrinted = false
		t.tryCommit(gga)
	}
}

func (t *TimeBase) logParseErr(err error) {
	if !t.parseErrPrinted {
		t.log.WithError(err).Debug("failed to parse NMEA sentence")
		t.parseErrPrinted = true
	}
}

// tryCommit checks whether gga agrees with the pending RMC fix (same
// timestamp within 1s, qual>=1, at least 2 satellites) and, if so,
// commits (latest_time, latest_mono).
func (t *TimeBase) tryCommit(gga ggaFix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.havePendingRMC {
		return
	}
	if gga.qual < 1 || gga.numSV < 2 {
		return
	}
	rmcTimeOfDay := time.Duration(t.pendingRMC.utc.Hour())*time.Hour +
		time.Duration(t.pendingRMC.utc.Minute())*time.Minute +
		time.Duration(t.pendingRMC.utc.Second())*time.Second
	diff := gga.timeOfDay - rmcTimeOfDay
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Second {
		return
	}
	t.latestTime = t.pendingRMC.utc.Add(NMEAOffset)
	t.latestMono = time.Now()
	t.havePendingRMC = false
}
