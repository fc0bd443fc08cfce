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

package stream

import (
	"time"

	"github.com/antonov-mipt/pp218-linret/protocol/cs"
)

// Record is one complete acquisition block ready to persist: a node's
// concatenated samples for the job's time window plus the acquisition
// parameters that produced it.
type Record struct {
	Serial    cs.Serial
	TimeStart time.Time
	Samples   int
	Frequency uint8
	Channels  uint8
	Gain      uint16
	Data      []byte
}

// Sink is the persistent store acquisition data is written to. It is
// an external collaborator: production deployments back it with their
// own database, so this package only depends on the interface.
type Sink interface {
	// InsertMany appends a batch of newly acquired records.
	InsertMany(records []Record) error
	// UpsertMax keeps, per serial, the record with the latest TimeStart
	// seen so far, the way a time-cache collection records each node's
	// most recent acquisition start.
	UpsertMax(records []Record) error
	// EnsureIndexes is called once at startup; a real store uses it to
	// create whatever indexes its query patterns need. The reference
	// implementation below treats it as a no-op.
	EnsureIndexes() error
}

// MemorySink is a minimal in-memory Sink used for tests and for
// running the gateway without a configured external store. Failures in
// a real sink are only ever logged by the engine, never fatal to a
// job — acquisition data loss here is independent of gateway health.
type MemorySink struct {
	Records    []Record
	LatestByID map[cs.Serial]Record
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{LatestByID: make(map[cs.Serial]Record)}
}

// InsertMany appends records to the in-memory log.
func (m *MemorySink) InsertMany(records []Record) error {
	m.Records = append(m.Records, records...)
	return nil
}

// UpsertMax keeps the latest record per serial.
func (m *MemorySink) UpsertMax(records []Record) error {
	for _, r := range records {
		if cur, ok := m.LatestByID[r.Serial]; !ok || r.TimeStart.After(cur.TimeStart) {
			m.LatestByID[r.Serial] = r
		}
	}
	return nil
}

// EnsureIndexes is a no-op for the in-memory reference sink.
func (m *MemorySink) EnsureIndexes() error { return nil }
