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

// Package cs implements the upstream control-server wire protocol: the
// TCP-framed request/response surface the gateway exposes to the
// recording/control server, distinct from the chassis link protocol
// spoken over raw Ethernet to the hardware.
package cs

// PacketType is the cs_cmd_type field of the CS header.
type PacketType uint8

const (
	AckNakResponse       PacketType = 1
	NodeIDListRequest    PacketType = 3
	NodeIDListResponse   PacketType = 19
	SRMStateRequest      PacketType = 5
	SRMStateResponse     PacketType = 21
	LRStateRequest       PacketType = 6
	LRStateResponse      PacketType = 22
	ChaStateRequest      PacketType = 7
	ChaStateResponse     PacketType = 23
	ChaLRStateRequest    PacketType = 8
	ChaLRStateResponse   PacketType = 24
	SetConfigRequest     PacketType = 12
	SetConfigResponse    PacketType = 28
	AcqControlRequest    PacketType = 14
	AcqControlResponse   PacketType = 30
)

// AckCode is the single-byte payload of an AckNakResponse.
type AckCode uint8

const (
	Ack   AckCode = 1
	Nak   AckCode = 2
	Stall AckCode = 3
)

// DevType identifies the kind of device a CS_DEV_ID entry or status
// response describes.
type DevType uint16

const (
	DevAny        DevType = 0
	DevLR         DevType = 0x1
	DevSRM        DevType = 0x2
	DevChaLR      DevType = 0x21
	DevChaRN      DevType = 0x22
	DevChaLRLand  DevType = 0x61
	DevChaLRSea   DevType = 0xA1
	DevChaRNLand  DevType = 0x62
	DevChaRNSea   DevType = 0xA2
)

// AcqState is the acquisition-control command carried in an
// AcqControlRequest.
type AcqState uint8

const (
	AcqIdle    AcqState = 0
	AcqRunning AcqState = 0xFF
)
