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
	"strconv"
	"strings"
	"time"
)

// rmcFix is the subset of a GPRMC/GNRMC sentence the true time needs:
// the UTC date+time of the fix, independent of any position data.
type rmcFix struct {
	utc   time.Time
	valid bool
}

// ggaFix is the subset of a GPGGA/GNGGA sentence the true time needs:
// the UTC time of day, fix quality, and satellite count.
type ggaFix struct {
	timeOfDay time.Duration // offset since midnight UTC
	qual      int
	numSV     int
}

func checksumOK(sentence string) bool {
	bang := strings.IndexByte(sentence, '*')
	if bang < 0 || bang+3 > len(sentence) {
		return false
	}
	want, err := strconv.ParseUint(sentence[bang+1:bang+3], 16, 8)
	if err != nil {
		return false
	}
	var got byte
	for i := 1; i < bang; i++ {
		got ^= sentence[i]
	}
	return byte(want) == got
}

func fields(sentence string) []string {
	bang := strings.IndexByte(sentence, '*')
	if bang >= 0 {
		sentence = sentence[:bang]
	}
	return strings.Split(sentence, ",")
}

// parseRMC parses a $__RMC sentence's date, time and validity flag.
func parseRMC(sentence string) (rmcFix, error) {
	f := fields(sentence)
	if len(f) < 10 {
		return rmcFix{}, fmt.Errorf("timebase: short RMC sentence")
	}
	hhmmss := f[1]
	status := f[2]
	ddmmyy := f[9]
	if len(hhmmss) < 6 || len(ddmmyy) < 6 {
		return rmcFix{}, fmt.Errorf("timebase: malformed RMC time/date fields")
	}
	hh, _ := strconv.Atoi(hhmmss[0:2])
	mm, _ := strconv.Atoi(hhmmss[2:4])
	ss, _ := strconv.Atoi(hhmmss[4:6])
	day, _ := strconv.Atoi(ddmmyy[0:2])
	month, _ := strconv.Atoi(ddmmyy[2:4])
	year, _ := strconv.Atoi(ddmmyy[4:6])
	t := time.Date(2000+year, time.Month(month), day, hh, mm, ss, 0, time.UTC)
	return rmcFix{utc: t, valid: status == "A"}, nil
}

// parseGGA parses a $__GGA sentence's time of day, fix quality and
// satellite count.
func parseGGA(sentence string) (ggaFix, error) {
	f := fields(sentence)
	if len(f) < 8 {
		return ggaFix{}, fmt.Errorf("timebase: short GGA sentence")
	}
	hhmmss := f[1]
	if len(hhmmss) < 6 {
		return ggaFix{}, fmt.Errorf("timebase: malformed GGA time field")
	}
	hh, _ := strconv.Atoi(hhmmss[0:2])
	mm, _ := strconv.Atoi(hhmmss[2:4])
	ss, _ := strconv.Atoi(hhmmss[4:6])
	qual, _ := strconv.Atoi(f[6])
	numSV, _ := strconv.Atoi(f[7])
	return ggaFix{
		timeOfDay: time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second,
		qual:      qual,
		numSV:     numSV,
	}, nil
}

func sentenceKind(sentence string) string {
	if len(sentence) < 6 {
		return ""
	}
	return sentence[3:6]
}
