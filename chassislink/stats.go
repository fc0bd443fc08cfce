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

package chassislink

import "sync/atomic"

// Stats are the per-link debug counters carried over from the chassis
// interface driver this link replaces: send/receive activity and the
// framing error conditions that can occur while reassembling messages.
type Stats struct {
	TxCtr             uint64
	RxCtr             uint64
	QueueFullDrops    uint64
	InptHdrErrors     uint64
	ExtraBytesRecvd   uint64
	ChunkSequenceError uint64
}

func incr(p *uint64) { atomic.AddUint64(p, 1) }

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		TxCtr:              atomic.LoadUint64(&s.TxCtr),
		RxCtr:               atomic.LoadUint64(&s.RxCtr),
		QueueFullDrops:       atomic.LoadUint64(&s.QueueFullDrops),
		InptHdrErrors:        atomic.LoadUint64(&s.InptHdrErrors),
		ExtraBytesRecvd:      atomic.LoadUint64(&s.ExtraBytesRecvd),
		ChunkSequenceError:   atomic.LoadUint64(&s.ChunkSequenceError),
	}
}
