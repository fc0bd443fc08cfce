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

package cslink

import "sync/atomic"

// Stats counts upstream control-server traffic, mirroring the iface_cs
// dbg_stats fields of the program this gateway replaces.
type Stats struct {
	TxCtr                     uint64
	RxCtr                     uint64
	PacketsToCoreDroppedQFull uint64
	PacketsToCSDroppedQFull   uint64
	PacketsDroppedNoClient    uint64
	Reconnections             uint64
	InptHdrErrors             uint64
	UnSerializeErrors         uint64
}

func incr(c *uint64) { atomic.AddUint64(c, 1) }

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		TxCtr:                     atomic.LoadUint64(&s.TxCtr),
		RxCtr:                     atomic.LoadUint64(&s.RxCtr),
		PacketsToCoreDroppedQFull: atomic.LoadUint64(&s.PacketsToCoreDroppedQFull),
		PacketsToCSDroppedQFull:   atomic.LoadUint64(&s.PacketsToCSDroppedQFull),
		PacketsDroppedNoClient:    atomic.LoadUint64(&s.PacketsDroppedNoClient),
		Reconnections:             atomic.LoadUint64(&s.Reconnections),
		InptHdrErrors:             atomic.LoadUint64(&s.InptHdrErrors),
		UnSerializeErrors:         atomic.LoadUint64(&s.UnSerializeErrors),
	}
}
