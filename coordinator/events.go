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

import "github.com/antonov-mipt/pp218-linret/protocol/cs"

// CSRequest is a parsed upstream control-server request handed to the
// coordinator by cslink. RespCh receives exactly one CSResponse once
// the coordinator has processed it.
type CSRequest struct {
	Header  cs.Header
	Payload []byte
	RespCh  chan<- CSResponse
}

// CSResponse is the coordinator's answer to a CSRequest.
type CSResponse struct {
	Header  cs.Header
	Payload []byte
}

// setAcqModeEvent asks the coordinator to change its gateway-wide
// acquisition mode; SetAcqMode posts it.
type setAcqModeEvent struct {
	mode AcqMode
}

// jobActiveEvent / jobFinishedEvent mirror the stream engine posting
// its job lifecycle back to the coordinator, the way the two
// components notify each other in the original design.
type jobActiveEvent struct{}
type jobFinishedEvent struct{}

// shutdownEvent asks the coordinator's Run loop to return.
type shutdownEvent struct{}

// statsRequestEvent and snapshotRequestEvent let callers on other
// goroutines (the monitor's HTTP handlers, the CLI status command)
// read coordinator state without touching it directly: the request
// crosses into the owning goroutine via the inbox and the answer comes
// back over a private channel.
type statsRequestEvent struct {
	respCh chan CoreStats
}

type snapshotRequestEvent struct {
	respCh chan []DeviceSnapshot
}
