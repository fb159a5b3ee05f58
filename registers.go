// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import "fmt"

// DPIDR is the identification register of the debug port.
type DPIDR struct {
	Designer uint16 // JEP106 code, bits [11:0]
	Version  uint8  // DP architecture version
	Min      bool   // minimal debug port without pushed operations
	PartNo   uint8
	Revision uint8
}

func ParseDPIDR(raw uint32) DPIDR {
	return DPIDR{
		Designer: uint16(getBits(raw, 0, 12)),
		Version:  uint8(getBits(raw, 12, 4)),
		Min:      getBits(raw, 16, 1) == 1,
		PartNo:   uint8(getBits(raw, 20, 8)),
		Revision: uint8(getBits(raw, 28, 4)),
	}
}

func (r DPIDR) Raw() uint32 {
	var raw uint32

	raw = setBits(raw, 0, 12, uint32(r.Designer))
	raw = setBits(raw, 12, 4, uint32(r.Version))
	raw = setBits(raw, 16, 1, uint32(boolToByte(r.Min)))
	raw = setBits(raw, 20, 8, uint32(r.PartNo))
	raw = setBits(raw, 28, 4, uint32(r.Revision))

	return raw
}

func (r DPIDR) String() string {
	return fmt.Sprintf("designer 0x%03x, version %d, part 0x%02x, revision %d, min %t",
		r.Designer, r.Version, r.PartNo, r.Revision, r.Min)
}

// AP classes
const (
	APClassJTAG   uint8 = 0x0
	APClassMemory uint8 = 0x8
)

// MEM-AP bus types
const (
	APTypeJTAGConnection uint8 = 0x0
	APTypeAHB            uint8 = 0x1
	APTypeAPB            uint8 = 0x2
	APTypeAXI            uint8 = 0x4
)

// APIDR is the identification register of an access port.
type APIDR struct {
	Type     uint8
	Variant  uint8
	Class    uint8
	JEP106   uint16 // continuation code in bits [10:7], identity in [6:0]
	Revision uint8
}

func ParseAPIDR(raw uint32) APIDR {
	return APIDR{
		Type:     uint8(getBits(raw, 0, 4)),
		Variant:  uint8(getBits(raw, 4, 4)),
		Class:    uint8(getBits(raw, 13, 4)),
		JEP106:   uint16(getBits(raw, 17, 11)),
		Revision: uint8(getBits(raw, 28, 4)),
	}
}

func (r APIDR) Raw() uint32 {
	var raw uint32

	raw = setBits(raw, 0, 4, uint32(r.Type))
	raw = setBits(raw, 4, 4, uint32(r.Variant))
	raw = setBits(raw, 13, 4, uint32(r.Class))
	raw = setBits(raw, 17, 11, uint32(r.JEP106))
	raw = setBits(raw, 28, 4, uint32(r.Revision))

	return raw
}

func (r APIDR) IsMemAP() bool {
	return r.Class == APClassMemory
}

func (r APIDR) Matches(t APType) bool {
	return r.Class == t.Class && r.Type == t.Type
}

func (r APIDR) String() string {
	return fmt.Sprintf("class 0x%x, type 0x%x, variant %d, jep106 0x%03x, revision %d",
		r.Class, r.Type, r.Variant, r.JEP106, r.Revision)
}

// APType identifies a kind of access port by the class and type fields of
// its IDR.
type APType struct {
	Class uint8
	Type  uint8
}

var (
	JTAGAP     = APType{Class: APClassJTAG, Type: APTypeJTAGConnection}
	MemAPOnAHB = APType{Class: APClassMemory, Type: APTypeAHB}
	MemAPOnAPB = APType{Class: APClassMemory, Type: APTypeAPB}
	MemAPOnAXI = APType{Class: APClassMemory, Type: APTypeAXI}
)

func (t APType) String() string {
	switch t {
	case JTAGAP:
		return "JTAG-AP"
	case MemAPOnAHB:
		return "MEM-AP (AHB)"
	case MemAPOnAPB:
		return "MEM-AP (APB)"
	case MemAPOnAXI:
		return "MEM-AP (AXI)"
	default:
		return fmt.Sprintf("AP class 0x%x type 0x%x", t.Class, t.Type)
	}
}

// CtrlStat is the DP control and status register.
type CtrlStat struct {
	OrunDetect   bool
	StickyOrun   bool
	TrnMode      uint8
	StickyCmp    bool
	StickyErr    bool
	ReadOk       bool
	WDataErr     bool
	MaskLane     uint8
	TrnCnt       uint16
	CDbgRstReq   bool
	CDbgRstAck   bool
	CDbgPwrUpReq bool
	CDbgPwrUpAck bool
	CSysPwrUpReq bool
	CSysPwrUpAck bool
}

func ParseCtrlStat(raw uint32) CtrlStat {
	return CtrlStat{
		OrunDetect:   getBits(raw, 0, 1) == 1,
		StickyOrun:   getBits(raw, 1, 1) == 1,
		TrnMode:      uint8(getBits(raw, 2, 2)),
		StickyCmp:    getBits(raw, 4, 1) == 1,
		StickyErr:    getBits(raw, 5, 1) == 1,
		ReadOk:       getBits(raw, 6, 1) == 1,
		WDataErr:     getBits(raw, 7, 1) == 1,
		MaskLane:     uint8(getBits(raw, 8, 4)),
		TrnCnt:       uint16(getBits(raw, 12, 12)),
		CDbgRstReq:   getBits(raw, 26, 1) == 1,
		CDbgRstAck:   getBits(raw, 27, 1) == 1,
		CDbgPwrUpReq: getBits(raw, 28, 1) == 1,
		CDbgPwrUpAck: getBits(raw, 29, 1) == 1,
		CSysPwrUpReq: getBits(raw, 30, 1) == 1,
		CSysPwrUpAck: getBits(raw, 31, 1) == 1,
	}
}

func (r CtrlStat) Raw() uint32 {
	var raw uint32

	raw = setFlag(raw, 0, r.OrunDetect)
	raw = setFlag(raw, 1, r.StickyOrun)
	raw = setBits(raw, 2, 2, uint32(r.TrnMode))
	raw = setFlag(raw, 4, r.StickyCmp)
	raw = setFlag(raw, 5, r.StickyErr)
	raw = setFlag(raw, 6, r.ReadOk)
	raw = setFlag(raw, 7, r.WDataErr)
	raw = setBits(raw, 8, 4, uint32(r.MaskLane))
	raw = setBits(raw, 12, 12, uint32(r.TrnCnt))
	raw = setFlag(raw, 26, r.CDbgRstReq)
	raw = setFlag(raw, 27, r.CDbgRstAck)
	raw = setFlag(raw, 28, r.CDbgPwrUpReq)
	raw = setFlag(raw, 29, r.CDbgPwrUpAck)
	raw = setFlag(raw, 30, r.CSysPwrUpReq)
	raw = setFlag(raw, 31, r.CSysPwrUpAck)

	return raw
}

// HasStickyError reports any of the sticky error flags.
func (r CtrlStat) HasStickyError() bool {
	return r.StickyOrun || r.StickyCmp || r.StickyErr || r.WDataErr
}

// Select is the DP SELECT register. Reserved bits are dropped on parsing.
type Select struct {
	DPBank uint8
	APBank uint8
	APSel  uint8
}

func ParseSelect(raw uint32) Select {
	return Select{
		DPBank: uint8(getBits(raw, 0, 4)),
		APBank: uint8(getBits(raw, 4, 4)),
		APSel:  uint8(getBits(raw, 24, 8)),
	}
}

func (r Select) Raw() uint32 {
	var raw uint32

	raw = setBits(raw, 0, 4, uint32(r.DPBank))
	raw = setBits(raw, 4, 4, uint32(r.APBank))
	raw = setBits(raw, 24, 8, uint32(r.APSel))

	return raw
}

// NeedsUpdate reports whether SELECT has to be written to reach desired.
func (r Select) NeedsUpdate(desired Select) bool {
	return r.APSel != desired.APSel || r.APBank != desired.APBank || r.DPBank != desired.DPBank
}

// CSWSize is the MEM-AP access size field.
type CSWSize uint8

const (
	CSWSize8   CSWSize = 0
	CSWSize16  CSWSize = 1
	CSWSize32  CSWSize = 2
	CSWSize64  CSWSize = 3
	CSWSize128 CSWSize = 4
	CSWSize256 CSWSize = 5
)

// Bytes returns the width of one access.
func (s CSWSize) Bytes() uint32 {
	return 1 << s
}

// AddrInc is the MEM-AP address auto increment mode.
type AddrInc uint8

const (
	AddrIncOff    AddrInc = 0
	AddrIncSingle AddrInc = 1
	AddrIncPacked AddrInc = 2
)

// CSW is the MEM-AP control and status word.
type CSW struct {
	Size        CSWSize
	AddrInc     AddrInc
	DeviceEn    bool // read only
	TrInProg    bool // read only
	Mode        uint8
	Type        uint8
	SPIDEN      bool
	Prot        uint8
	DbgSwEnable bool
}

func ParseCSW(raw uint32) CSW {
	return CSW{
		Size:        CSWSize(getBits(raw, 0, 3)),
		AddrInc:     AddrInc(getBits(raw, 4, 2)),
		DeviceEn:    getBits(raw, 6, 1) == 1,
		TrInProg:    getBits(raw, 7, 1) == 1,
		Mode:        uint8(getBits(raw, 8, 4)),
		Type:        uint8(getBits(raw, 12, 4)),
		SPIDEN:      getBits(raw, 23, 1) == 1,
		Prot:        uint8(getBits(raw, 24, 7)),
		DbgSwEnable: getBits(raw, 31, 1) == 1,
	}
}

func (r CSW) Raw() uint32 {
	var raw uint32

	raw = setBits(raw, 0, 3, uint32(r.Size))
	raw = setBits(raw, 4, 2, uint32(r.AddrInc))
	raw = setFlag(raw, 6, r.DeviceEn)
	raw = setFlag(raw, 7, r.TrInProg)
	raw = setBits(raw, 8, 4, uint32(r.Mode))
	raw = setBits(raw, 12, 4, uint32(r.Type))
	raw = setFlag(raw, 23, r.SPIDEN)
	raw = setBits(raw, 24, 7, uint32(r.Prot))
	raw = setFlag(raw, 31, r.DbgSwEnable)

	return raw
}

// sameAccess reports equal size and increment configuration, the read only
// status bits are ignored.
func (r CSW) sameAccess(o CSW) bool {
	return r.Size == o.Size && r.AddrInc == o.AddrInc
}
