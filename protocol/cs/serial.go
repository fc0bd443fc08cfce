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

package cs

import "github.com/antonov-mipt/pp218-linret/protocol/chassis"

// SerialMinter synthesizes the 8-byte CS serials this gateway and its
// downstream chassis are known by, and derives a chassis's upstream and
// downstream wired-chain neighbor serials from its own. The original
// implementation used a package-level singleton for this; here it is an
// explicit value one component (the coordinator) owns and passes along,
// so no other package can reach into process-wide serial state.
type SerialMinter struct {
	LRNumber uint8
}

// Serial synthesizes the serial for a device of the given type at the
// given interface/address, in the "EMU_" + ASCII-digit-offset form the
// upstream control server expects.
func (m SerialMinter) Serial(devType DevType, ifType chassis.IfType, addr uint8) Serial {
	var s Serial
	copy(s[:4], []byte("EMU_"))
	s[4] = '0' + m.LRNumber
	s[5] = byte(devType)
	s[6] = '0' + byte(ifType)
	s[7] = '0' + addr
	return s
}

// LRSerial returns the gateway's own serial.
func (m SerialMinter) LRSerial() Serial {
	return m.Serial(DevLR, chassis.IfLocal, 0)
}

// SRMSerial returns the serial of the SRM attached to the chassis at
// (ifType, addr).
func (m SerialMinter) SRMSerial(ifType chassis.IfType, addr uint8) Serial {
	return m.Serial(DevSRM, ifType, addr)
}

// ChaSerial returns the serial of a chassis device at (ifType, addr),
// with devType chosen from the chassis's role (land/sea, LR/RN).
func (m SerialMinter) ChaSerial(devType DevType, ifType chassis.IfType, addr uint8) Serial {
	return m.Serial(devType, ifType, addr)
}

// NextSN returns the serial of the next device down the wired chain
// from a chassis at (ifType, addr): another chassis at the same
// interface, the next address along.
func (m SerialMinter) NextSN(devType DevType, ifType chassis.IfType, addr uint8) Serial {
	return m.Serial(devType, ifType, addr+1)
}

// PrevSN returns the serial of the previous device up the wired chain
// from a chassis at (ifType, addr).
func (m SerialMinter) PrevSN(devType DevType, ifType chassis.IfType, addr uint8) Serial {
	return m.Serial(devType, ifType, addr-1)
}
