// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockProbe simulates a CMSIS-DAP probe with one SW-DP and a MEM-AP backed
// by sparse memory. Responses are queued on Write and handed out in order
// on Read.
type mockProbe struct {
	packetSize    int
	packetCount   int
	firmware      string
	caps          []byte
	connectPort   DapPort // answer to every connect, zero echoes the request
	rejectConnect bool
	failCommand   byte // answered with the error status

	sent        [][]byte
	responses   [][]byte
	outstanding int
	maxPending  int
	oversized   int
	failRead    bool

	// debug port
	dpidr    uint32
	ctrlStat uint32
	sel      uint32
	aborts   []uint32
	idcode   uint32

	// access ports
	apIDR map[byte]uint32
	memAP byte
	base  uint32
	csw   uint32
	tar   uint32
	half  uint32
	mem   map[uint32]byte

	// fault injection: the n-th AP access (1 based) answers ack, waitCount
	// AP accesses answer WAIT before the target recovers
	faultAt     int
	faultAck    byte
	apAccesses  int
	waitCount   int
	jtagFailAt  int
	jtagPackets int
}

func newMockProbe() *mockProbe {
	return &mockProbe{
		packetSize:  64,
		packetCount: 4,
		firmware:    "1.10",
		caps:        []byte{0x23}, // SWD, JTAG, SWD sequence
		dpidr:       0x2BA01477,
		idcode:      0x4BA00477,
		apIDR:       map[byte]uint32{0: 0x24770011},
		base:        0xE00FF003,
		csw:         0x23000042,
		mem:         map[uint32]byte{},
	}
}

// newTestDap runs the info handshake against m and forgets the packets it
// took.
func newTestDap(t *testing.T, m *mockProbe) *CmsisDap {
	t.Helper()

	dap, err := NewCmsisDapWithTransport(m)
	require.NoError(t, err)

	m.reset()

	return dap
}

func newSWDDap(t *testing.T, m *mockProbe) *CmsisDap {
	t.Helper()

	dap := newTestDap(t, m)
	require.NoError(t, dap.SelectTransport(TransportModeSWD))

	m.reset()

	return dap
}

func (m *mockProbe) reset() {
	m.sent = nil
	m.maxPending = 0
	m.aborts = nil
}

func (m *mockProbe) packets(cmd byte) [][]byte {
	var out [][]byte

	for _, p := range m.sent {
		if p[0] == cmd {
			out = append(out, p)
		}
	}

	return out
}

func (m *mockProbe) count(cmd byte) int {
	return len(m.packets(cmd))
}

// transferWrites returns the values written to DP or AP register reg by all
// DAP_Transfer packets sent so far.
func (m *mockProbe) transferWrites(ap bool, reg byte) []uint32 {
	var values []uint32

	want := requestByte(ap, reg)

	for _, p := range m.packets(cmdTransfer) {
		i := 3

		for n := 0; n < int(p[2]); n++ {
			req := p[i]
			i++

			if req&TransferRnW != 0 {
				continue
			}

			if req == want {
				values = append(values, binary.LittleEndian.Uint32(p[i:]))
			}

			i += 4
		}
	}

	return values
}

func (m *mockProbe) storeWord(addr uint32, value uint32) {
	for i := uint32(0); i < 4; i++ {
		m.mem[addr+i] = byte(value >> (8 * i))
	}
}

func (m *mockProbe) loadWord(addr uint32) uint32 {
	var value uint32

	for i := uint32(0); i < 4; i++ {
		value |= uint32(m.mem[addr+i]) << (8 * i)
	}

	return value
}

func (m *mockProbe) PacketSize() int {
	return m.packetSize
}

func (m *mockProbe) Close() error {
	return nil
}

func (m *mockProbe) Write(p []byte) (int, error) {
	packet := append([]byte(nil), p...)
	m.sent = append(m.sent, packet)

	if len(packet) > m.packetSize {
		m.oversized++
	}

	if packet[0] == cmdTransferAbort {
		return len(p), nil
	}

	m.responses = append(m.responses, m.handle(packet))
	m.outstanding++

	if m.outstanding > m.maxPending {
		m.maxPending = m.outstanding
	}

	return len(p), nil
}

func (m *mockProbe) Read(p []byte) (int, error) {
	if m.failRead {
		return 0, errors.New("mock: device disconnected")
	}

	if len(m.responses) == 0 {
		return 0, errors.New("mock: no response pending")
	}

	resp := m.responses[0]
	m.responses = m.responses[1:]
	m.outstanding--

	return copy(p, resp), nil
}

func (m *mockProbe) handle(p []byte) []byte {
	cmd := p[0]

	if m.failCommand != 0 && cmd == m.failCommand {
		return []byte{cmd, dapError}
	}

	switch cmd {
	case cmdInfo:
		return m.info(p[1])

	case cmdConnect:
		if m.rejectConnect {
			return []byte{cmd, 0}
		}

		port := DapPort(p[1])
		if m.connectPort != 0 {
			port = m.connectPort
		} else if port == PortAuto {
			port = PortSWD
		}

		return []byte{cmd, byte(port)}

	case cmdWriteAbort:
		m.aborts = append(m.aborts, binary.LittleEndian.Uint32(p[2:]))
		return []byte{cmd, dapOK}

	case cmdResetTarget:
		return []byte{cmd, dapOK, 1}

	case cmdSwjPins:
		return []byte{cmd, p[1] & p[2]}

	case cmdJtagIdCode:
		resp := []byte{cmd, dapOK, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(resp[2:], m.idcode)
		return resp

	case cmdJtagSequence:
		return m.jtagSequence(p)

	case cmdSwdSequence:
		return m.swdSequence(p)

	case cmdTransfer:
		return m.transfer(p)

	case cmdTransferBlock:
		return m.transferBlock(p)

	default:
		return []byte{cmd, dapOK}
	}
}

func (m *mockProbe) info(id byte) []byte {
	var data []byte

	switch id {
	case InfoPacketSize:
		data = []byte{byte(m.packetSize), byte(m.packetSize >> 8)}
	case InfoPacketCount:
		data = []byte{byte(m.packetCount)}
	case InfoCapabilities:
		data = m.caps
	case InfoFirmwareVersion:
		data = append([]byte(m.firmware), 0)
	case InfoVendor:
		data = []byte("ARM\x00")
	case InfoProduct:
		data = []byte("CMSIS-DAP\x00")
	case InfoSerialNumber:
		data = []byte("0001\x00")
	}

	return append([]byte{cmdInfo, byte(len(data))}, data...)
}

// TDI is looped back to TDO.
func (m *mockProbe) jtagSequence(p []byte) []byte {
	m.jtagPackets++

	if m.jtagPackets == m.jtagFailAt {
		return []byte{cmdJtagSequence, dapError}
	}

	resp := []byte{cmdJtagSequence, dapOK}
	i := 2

	for n := 0; n < int(p[1]); n++ {
		info := p[i]
		i++

		cycles := int(info & 0x3F)
		if cycles == 0 {
			cycles = 64
		}

		bytes := (cycles + 7) / 8

		if info&0x80 != 0 {
			resp = append(resp, p[i:i+bytes]...)
		}

		i += bytes
	}

	return resp
}

func (m *mockProbe) swdSequence(p []byte) []byte {
	resp := []byte{cmdSwdSequence, dapOK}
	i := 2

	for n := 0; n < int(p[1]); n++ {
		info := p[i]
		i++

		cycles := int(info & 0x3F)
		if cycles == 0 {
			cycles = 64
		}

		bytes := (cycles + 7) / 8

		if info&0x80 != 0 {
			resp = append(resp, make([]byte, bytes)...)
		} else {
			i += bytes
		}
	}

	return resp
}

func (m *mockProbe) transfer(p []byte) []byte {
	resp := []byte{cmdTransfer, 0, AckOK}
	count := int(p[2])
	i := 3

	for n := 0; n < count; n++ {
		req := p[i]
		i++

		var value uint32
		if req&TransferRnW == 0 {
			value = binary.LittleEndian.Uint32(p[i:])
			i += 4
		}

		ack, read := m.access(req, value)

		if ack != AckOK {
			resp[1] = byte(n)
			resp[2] = ack
			return resp
		}

		if req&TransferRnW != 0 {
			resp = binary.LittleEndian.AppendUint32(resp, read)
		}
	}

	resp[1] = byte(count)

	return resp
}

func (m *mockProbe) transferBlock(p []byte) []byte {
	resp := []byte{cmdTransferBlock, 0, 0, AckOK}
	count := int(binary.LittleEndian.Uint16(p[2:]))
	req := p[4]
	data := p[5:]

	for n := 0; n < count; n++ {
		var value uint32
		if req&TransferRnW == 0 {
			value = binary.LittleEndian.Uint32(data[4*n:])
		}

		ack, read := m.access(req, value)

		if ack != AckOK {
			binary.LittleEndian.PutUint16(resp[1:], uint16(n))
			resp[3] = ack
			return resp
		}

		if req&TransferRnW != 0 {
			resp = binary.LittleEndian.AppendUint32(resp, read)
		}
	}

	binary.LittleEndian.PutUint16(resp[1:], uint16(count))

	return resp
}

func (m *mockProbe) access(req byte, value uint32) (byte, uint32) {
	read := req&TransferRnW != 0
	reg := req & (TransferA2 | TransferA3)

	if req&TransferAPnDP == 0 {
		return AckOK, m.accessDP(reg, read, value)
	}

	m.apAccesses++

	if m.waitCount > 0 {
		m.waitCount--
		return AckWait, 0
	}

	if m.faultAt != 0 && m.apAccesses == m.faultAt {
		return m.faultAck, 0
	}

	ap := byte(m.sel >> 24)
	addr := byte(m.sel&0xF0) | reg

	if addr == APRegIDR {
		return AckOK, m.apIDR[ap]
	}

	if ap != m.memAP {
		return AckOK, 0
	}

	return AckOK, m.accessMemAP(addr, read, value)
}

func (m *mockProbe) accessDP(reg byte, read bool, value uint32) uint32 {
	switch {
	case reg == DPRegIDR && read:
		return m.dpidr
	case reg == DPRegAbort:
		m.aborts = append(m.aborts, value)
	case reg == DPRegCtrlStat && read:
		return m.ctrlStat
	case reg == DPRegCtrlStat:
		// sticky flags are write one to clear, the acknowledges follow the
		// requests
		sticky := m.ctrlStat & value & ctrlStatStickyMask
		m.ctrlStat = m.ctrlStat&ctrlStatStickyMask&^sticky | value&^ctrlStatStickyMask
		m.ctrlStat &^= CtrlStatCDbgPwrUpAck | CtrlStatCSysPwrUpAck | CtrlStatCDbgRstAck
		m.ctrlStat |= (value & (CtrlStatCDbgPwrUpReq | CtrlStatCSysPwrUpReq | CtrlStatCDbgRstReq)) << 1
	case reg == DPRegSelect && read:
		return m.sel
	case reg == DPRegSelect:
		m.sel = value
	}

	return 0
}

func (m *mockProbe) accessMemAP(addr byte, read bool, value uint32) uint32 {
	switch addr {
	case MemAPRegCSW:
		if read {
			return m.csw
		}
		m.csw = value
		m.half = 0

	case MemAPRegTAR:
		if read {
			return m.tar
		}
		m.tar = value
		m.half = 0

	case MemAPRegBase:
		return m.base

	case MemAPRegDRW:
		return m.drw(read, value)
	}

	return 0
}

func (m *mockProbe) drw(read bool, value uint32) uint32 {
	size := m.csw & 7
	inc := (m.csw >> 4) & 3

	if size == uint32(CSWSize64) {
		addr := m.tar + 4*m.half

		var result uint32
		if read {
			result = m.loadWord(addr)
		} else {
			m.storeWord(addr, value)
		}

		m.half ^= 1

		if m.half == 0 && inc != 0 {
			m.advance(8)
		}

		return result
	}

	width := uint32(1) << size
	word := m.tar &^ 3
	lane := m.tar & 3

	var result uint32
	if read {
		result = m.loadWord(word)
	} else {
		for b := lane; b < lane+width && b < 4; b++ {
			m.mem[word+b] = byte(value >> (8 * b))
		}
	}

	switch AddrInc(inc) {
	case AddrIncSingle:
		m.advance(width)
	case AddrIncPacked:
		m.advance(4)
	}

	return result
}

// auto increment only changes TAR[9:0]
func (m *mockProbe) advance(n uint32) {
	m.tar = m.tar&^(tarAutoIncrementWindow-1) | (m.tar+n)&(tarAutoIncrementWindow-1)
}
