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

package chassis

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/antonov-mipt/pp218-linret/protocol/bits"
)

// DataRate is the SRM-encoded sample rate selector.
type DataRate uint8

const (
	DR500  DataRate = 0
	DR1000 DataRate = 1
	DR2000 DataRate = 2
)

// Hz returns the real sample rate in samples per second.
func (d DataRate) Hz() int {
	switch d {
	case DR500:
		return 500
	case DR1000:
		return 1000
	case DR2000:
		return 2000
	default:
		return 0
	}
}

// DataRateFromHz maps a real sample rate back to its SRM selector.
func DataRateFromHz(hz int) (DataRate, error) {
	switch hz {
	case 500:
		return DR500, nil
	case 1000:
		return DR1000, nil
	case 2000:
		return DR2000, nil
	default:
		return 0, fmt.Errorf("chassis: unsupported datarate %d hz", hz)
	}
}

// GainCode is the 3-bit per-channel analog gain selector.
type GainCode uint8

const (
	Gain1x  GainCode = 0
	Gain2x  GainCode = 1
	Gain4x  GainCode = 2
	Gain8x  GainCode = 4
	Gain16x GainCode = 5
	Gain32x GainCode = 6
	Gain64x GainCode = 7
)

// ADCConfig is the acquisition configuration value object: sample rate,
// per-channel enable mask, and per-channel gain. Two configs are equal
// iff their SRM-packed bit representation is equal.
type ADCConfig struct {
	DataRate DataRate
	Channels [4]bool
	Gains    [4]GainCode
}

// ActiveChannels returns the number of enabled channels.
func (c ADCConfig) ActiveChannels() int {
	n := 0
	for _, en := range c.Channels {
		if en {
			n++
		}
	}
	return n
}

// PacketsPerNode is the number of STREAM_DATA packets a single node
// emits per streamed block: datarate * 3 bytes/sample * active channels
// / 1500 (the payload size of one packet).
func (c ADCConfig) PacketsPerNode() int {
	return c.DataRate.Hz() * 3 * c.ActiveChannels() / 1500
}

// srmCode packs the config into the 32-bit little-endian SRM wire form:
// datarate(2 bits), 14 reserved bits, 4x1-bit channel enables, then
// 4x3-bit gains.
func (c ADCConfig) srmCode() uint32 {
	w := &bits.Writer{}
	w.Write(uint32(c.DataRate), 2)
	w.Write(0, 14)
	for _, en := range c.Channels {
		w.WriteBool(en)
	}
	for _, g := range c.Gains {
		w.Write(uint32(g), 3)
	}
	out := w.Flush()
	return binary.LittleEndian.Uint32(out)
}

// Equal reports whether two configs pack to the same SRM code.
func (c ADCConfig) Equal(o ADCConfig) bool {
	return c.srmCode() == o.srmCode()
}

// ToSRMBytes encodes the config into the 4-byte payload SRM_RUN and
// SRM_STAT messages embed.
func (c ADCConfig) ToSRMBytes() [4]byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], c.srmCode())
	return out
}

// FromSRMBytes decodes a config from its 4-byte SRM wire form.
func FromSRMBytes(b []byte) (ADCConfig, error) {
	if len(b) < 4 {
		return ADCConfig{}, fmt.Errorf("chassis: short srm adc bytes: %d", len(b))
	}
	code := binary.LittleEndian.Uint32(b[:4])
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], code)
	r := bits.NewReader(tmp[:])
	var c ADCConfig
	c.DataRate = DataRate(r.Read(2))
	r.Read(14)
	for i := range c.Channels {
		c.Channels[i] = r.ReadBool()
	}
	for i := range c.Gains {
		c.Gains[i] = GainCode(r.Read(3))
	}
	return c, nil
}

// ToCSBytes encodes the config into the 4-byte form used on the
// upstream CS protocol: datarate byte, channel-enable bitmask byte, and
// a 16-bit gain mask (4 bits per channel).
func (c ADCConfig) ToCSBytes() [4]byte {
	var out [4]byte
	out[0] = byte(c.DataRate)
	var mask byte
	for i, en := range c.Channels {
		if en {
			mask |= 1 << uint(i)
		}
	}
	out[1] = mask
	var gains uint16
	for i, g := range c.Gains {
		gains |= uint16(g&0xF) << uint(i*4)
	}
	binary.LittleEndian.PutUint16(out[2:4], gains)
	return out
}

// FromCSBytes decodes a config from its 4-byte CS wire form.
func FromCSBytes(b []byte) (ADCConfig, error) {
	if len(b) < 4 {
		return ADCConfig{}, fmt.Errorf("chassis: short cs adc bytes: %d", len(b))
	}
	var c ADCConfig
	c.DataRate = DataRate(b[0])
	mask := b[1]
	for i := range c.Channels {
		c.Channels[i] = mask&(1<<uint(i)) != 0
	}
	gains := binary.LittleEndian.Uint16(b[2:4])
	for i := range c.Gains {
		c.Gains[i] = GainCode((gains >> uint(i*4)) & 0xF)
	}
	return c, nil
}

// adcConfigJSON is the JSON wire shape for ADCConfig, matching the
// config file's persisted form.
type adcConfigJSON struct {
	DataRateHz int   `json:"datarate_hz"`
	Channels   [4]bool `json:"channels"`
	Gains      [4]int  `json:"gains"`
}

// MarshalJSON implements json.Marshaler.
func (c ADCConfig) MarshalJSON() ([]byte, error) {
	j := adcConfigJSON{DataRateHz: c.DataRate.Hz(), Channels: c.Channels}
	for i, g := range c.Gains {
		j.Gains[i] = int(g)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ADCConfig) UnmarshalJSON(b []byte) error {
	var j adcConfigJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	dr, err := DataRateFromHz(j.DataRateHz)
	if err != nil {
		return err
	}
	c.DataRate = dr
	c.Channels = j.Channels
	for i, g := range j.Gains {
		c.Gains[i] = GainCode(g)
	}
	return nil
}
