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

// IfType identifies which physical link on a chassis a message travels
// over: the maintenance driver link, the locally-attached SRM, or one
// of the wifi/wired uplinks to neighboring chassis.
type IfType uint8

const (
	IfInvalid IfType = 0
	IfDriver  IfType = 1
	IfLocal   IfType = 2
	IfWifi0   IfType = 3
	IfWifi1   IfType = 4
	IfWired0  IfType = 5
	IfWired1  IfType = 6
)

func (t IfType) String() string {
	switch t {
	case IfDriver:
		return "driver"
	case IfLocal:
		return "local"
	case IfWifi0:
		return "wifi0"
	case IfWifi1:
		return "wifi1"
	case IfWired0:
		return "wired0"
	case IfWired1:
		return "wired1"
	default:
		return "invalid"
	}
}

// MsgType is a bitfield: one class bit (StreamBit, SRMBit, CtlBit)
// names a class of message (stream, SRM acquisition, control) and the
// ack bit marks a response.
type MsgType uint8

const (
	StreamBit MsgType = 0x08
	SRMBit    MsgType = 0x10
	CtlBit    MsgType = 0x20
	AckBit    MsgType = 0x80

	LRHandshakeReq MsgType = 1

	CntlStatReq    MsgType = CtlBit | 1
	CntlStatAck    MsgType = CntlStatReq | AckBit
	CntlNodesBcReq MsgType = CtlBit | 2
	CntlNodesBcAck MsgType = CntlNodesBcReq | AckBit
	CntlDiscReq    MsgType = CtlBit | 3
	CntlDiscAck    MsgType = CntlDiscReq | AckBit
	CntlClkSetReq  MsgType = CtlBit | 5
	CntlClkSetAck  MsgType = CntlClkSetReq | AckBit

	SRMRunReq    MsgType = SRMBit | 0
	SRMRunAck    MsgType = SRMRunReq | AckBit
	SRMStopReq   MsgType = SRMBit | 1
	SRMStopAck   MsgType = SRMStopReq | AckBit
	SRMFatReq    MsgType = SRMBit | 2
	SRMFatAck    MsgType = SRMFatReq | AckBit
	SRMStatReq   MsgType = SRMBit | 3
	SRMStatAck   MsgType = SRMStatReq | AckBit
	SRMTableReq  MsgType = SRMBit | 4
	SRMTableAck  MsgType = SRMTableReq | AckBit

	StreamStart MsgType = StreamBit | 0
	StreamFB    MsgType = StreamBit | 1
	StreamData  MsgType = StreamBit | 2 | AckBit
	StreamStop  MsgType = StreamBit | 3
)

// IsStream reports whether a message belongs to the streaming data path
// (routed to the stream engine) rather than the control path (routed to
// the coordinator).
func (m MsgType) IsStream() bool { return m&StreamBit != 0 && m&SRMBit == 0 && m&CtlBit == 0 }

// IsAck reports whether the ack bit is set.
func (m MsgType) IsAck() bool { return m&AckBit != 0 }

// NakCode enumerates the error codes a chassis can report in a response
// header's nak_code field. NoError (0) means the request succeeded.
type NakCode uint8

const (
	NoError NakCode = iota
	NakUnknownDevice
	NakBadRequest
	NakBusy
	NakNotConfigured
	NakTimeNotSynced
	NakSRMNotConnected
	NakBadConfig
	NakAlreadyRunning
	NakNotRunning
	NakInternalError
	NakGPSNotPresent
	NakPPSNotPresent
	NakOutOfRange
	NakChunkSequenceError
	NakPayloadTooShort
	NakUnsupported
	NakSRMFault
	NakReserved18
	NakReserved19
)
