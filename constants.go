// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// command and register definitions follow the ARM CMSIS-DAP and ADIv5
// architecture documents

package gocmsisdap

// CMSIS-DAP command ids
const (
	cmdInfo              byte = 0x00
	cmdHostStatus        byte = 0x01
	cmdConnect           byte = 0x02
	cmdDisconnect        byte = 0x03
	cmdTransferConfigure byte = 0x04
	cmdTransfer          byte = 0x05
	cmdTransferBlock     byte = 0x06
	cmdTransferAbort     byte = 0x07
	cmdWriteAbort        byte = 0x08
	cmdDelay             byte = 0x09
	cmdResetTarget       byte = 0x0A
	cmdSwjPins           byte = 0x10
	cmdSwjClock          byte = 0x11
	cmdSwjSequence       byte = 0x12
	cmdSwdConfigure      byte = 0x13
	cmdJtagSequence      byte = 0x14
	cmdJtagConfigure     byte = 0x15
	cmdJtagIdCode        byte = 0x16
	cmdSwdSequence       byte = 0x1D
)

// DAP_Info ids
const (
	InfoVendor          byte = 0x01
	InfoProduct         byte = 0x02
	InfoSerialNumber    byte = 0x03
	InfoFirmwareVersion byte = 0x04
	InfoTargetVendor    byte = 0x05
	InfoTargetName      byte = 0x06
	InfoCapabilities    byte = 0xF0
	InfoTestDomainTimer byte = 0xF1
	InfoPacketCount     byte = 0xFE
	InfoPacketSize      byte = 0xFF
)

// status byte of generic command responses
const (
	dapOK    byte = 0x00
	dapError byte = 0xFF
)

// DapPort is the wire protocol requested by DAP_Connect.
type DapPort byte

const (
	PortAuto DapPort = 0
	PortSWD  DapPort = 1
	PortJTAG DapPort = 2
)

// HostStatusType selects the probe LED driven by DAP_HostStatus.
type HostStatusType byte

const (
	HostStatusConnected HostStatusType = 0
	HostStatusRunning   HostStatusType = 1
)

// transfer request bits
const (
	TransferAPnDP byte = 0x01
	TransferRnW   byte = 0x02
	TransferA2    byte = 0x04
	TransferA3    byte = 0x08

	transferRequestMask byte = 0x0F
)

// transfer response acknowledge bits
const (
	AckOK            byte = 0x01
	AckWait          byte = 0x02
	AckFault         byte = 0x04
	AckNoAck         byte = 0x07
	AckProtocolError byte = 0x08
	AckMismatch      byte = 0x10

	ackValueMask byte = 0x07
)

// DP register addresses. Bits [7:4] hold the DP bank for banked registers.
const (
	DPRegIDR      byte = 0x00
	DPRegAbort    byte = 0x00
	DPRegCtrlStat byte = 0x04
	DPRegSelect   byte = 0x08
	DPRegRdBuff   byte = 0x0C
)

// ABORT register flags
const (
	AbortDapAbort   uint32 = 1 << 0
	AbortStkCmpClr  uint32 = 1 << 1
	AbortStkErrClr  uint32 = 1 << 2
	AbortWdErrClr   uint32 = 1 << 3
	AbortOrunErrClr uint32 = 1 << 4

	abortClearAll = AbortStkCmpClr | AbortStkErrClr | AbortWdErrClr | AbortOrunErrClr
)

// CTRL/STAT flags
const (
	CtrlStatOrunDetect   uint32 = 1 << 0
	CtrlStatStickyOrun   uint32 = 1 << 1
	CtrlStatStickyCmp    uint32 = 1 << 4
	CtrlStatStickyErr    uint32 = 1 << 5
	CtrlStatReadOk       uint32 = 1 << 6
	CtrlStatWDataErr     uint32 = 1 << 7
	CtrlStatCDbgRstReq   uint32 = 1 << 26
	CtrlStatCDbgRstAck   uint32 = 1 << 27
	CtrlStatCDbgPwrUpReq uint32 = 1 << 28
	CtrlStatCDbgPwrUpAck uint32 = 1 << 29
	CtrlStatCSysPwrUpReq uint32 = 1 << 30
	CtrlStatCSysPwrUpAck uint32 = 1 << 31

	ctrlStatStickyMask = CtrlStatStickyOrun | CtrlStatStickyCmp | CtrlStatStickyErr | CtrlStatWDataErr
)

// MEM-AP register addresses, bits [7:4] select the AP bank
const (
	MemAPRegCSW  byte = 0x00
	MemAPRegTAR  byte = 0x04
	MemAPRegDRW  byte = 0x0C
	MemAPRegBD0  byte = 0x10
	MemAPRegBD1  byte = 0x14
	MemAPRegBD2  byte = 0x18
	MemAPRegBD3  byte = 0x1C
	MemAPRegBase byte = 0xF8
	APRegIDR     byte = 0xFC
)

// SWJ pin bits used by DAP_SWJ_Pins
const (
	PinSWCLK  byte = 1 << 0
	PinSWDIO  byte = 1 << 1
	PinTDI    byte = 1 << 2
	PinTDO    byte = 1 << 3
	PinNTRST  byte = 1 << 5
	PinNRESET byte = 1 << 7
)

const (
	// MaxAPIndex is the highest access port number addressable through SELECT.
	MaxAPIndex = 255

	defaultPacketSize   = 64
	maxTransferCount    = 255
	maxJtagSequences    = 255
	maxJtagCycles       = 64
	maxSwjSequenceBits  = 256
	maxBlockTransferCnt = 0xFFFF

	// header of DAP_Transfer requests and responses
	transferHeaderSize = 3
	// DAP_TransferBlock request: cmd, index, count(2), request
	transferBlockRequestHeader = 5
	// DAP_TransferBlock response: cmd, count(2), ack
	transferBlockResponseHeader = 4
	// DAP_JTAG_Sequence request: cmd, count
	jtagSequenceHeader = 2

	// MEM-AP auto increment wraps inside this window
	tarAutoIncrementWindow = 0x400

	maxPowerUpRetries  = 10
	maximumWaitRetries = 8
)
