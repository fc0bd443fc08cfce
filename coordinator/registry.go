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

package coordinator

import "github.com/antonov-mipt/pp218-linret/protocol/chassis"

// Registry owns every known Device, keyed by its full interface+address
// identity. It is touched only from the coordinator's own goroutine;
// nothing else ever reaches into it, so it needs no locking.
type Registry struct {
	devices map[uint16]*Device
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[uint16]*Device)}
}

// Get looks up a device by interface and address.
func (r *Registry) Get(ifType chassis.IfType, addr uint8) (*Device, bool) {
	d, ok := r.devices[chassis.FullAddr(ifType, addr)]
	return d, ok
}

// Add inserts a newly discovered device.
func (r *Registry) Add(d *Device) {
	r.devices[d.FullAddr()] = d
}

// Remove deletes a device from the registry.
func (r *Registry) Remove(fullAddr uint16) {
	delete(r.devices, fullAddr)
}

// All returns every known device. The caller must not mutate the slice
// concurrently with the coordinator loop; this is safe because both run
// on the same goroutine.
func (r *Registry) All() []*Device {
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// ByInterface groups known devices by their IfType.
func (r *Registry) ByInterface() map[chassis.IfType][]*Device {
	out := make(map[chassis.IfType][]*Device)
	for _, d := range r.devices {
		out[d.IfType] = append(out[d.IfType], d)
	}
	return out
}
