// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"bytes"
	"errors"
)

func transportError(err error, op string) error {
	var dapErr *DapError

	if errors.As(err, &dapErr) {
		return err
	}

	return wrapDapError(ErrorTransportFailure, err, "%s failed", op)
}

func (h *CmsisDap) initCommand(cmd byte, size int) *Buffer {
	buf := NewBuffer(size + 1)
	buf.WriteByte(cmd)

	return buf
}

func (h *CmsisDap) writePacket(packet []byte) error {
	if h.transport == nil {
		return newDapError(ErrorTransportFailure, "session is closed")
	}

	if len(packet) > h.packetSize {
		return newDapError(ErrorPacketTooLarge, "command 0x%02x needs %d bytes, packet size is %d", packet[0], len(packet), h.packetSize)
	}

	tracePacket("tx", packet)

	n, err := h.transport.Write(packet)

	if err != nil {
		return transportError(err, "write")
	}

	if n < len(packet) {
		return newDapError(ErrorTransportFailure, "short write of %d from %d bytes", n, len(packet))
	}

	return nil
}

// readPacket reads one response and checks it echoes cmd.
func (h *CmsisDap) readPacket(cmd byte, resp []byte) (int, error) {
	n, err := h.transport.Read(resp)

	if err != nil {
		return 0, transportError(err, "read")
	}

	tracePacket("rx", resp[:n])

	if n < 1 {
		return 0, newDapError(ErrorProtocolMismatch, "empty response to command 0x%02x", cmd)
	}

	if resp[0] != cmd {
		return n, newDapError(ErrorProtocolMismatch, "response 0x%02x does not echo command 0x%02x", resp[0], cmd)
	}

	return n, nil
}

// command sends one packet and hands the response to decode. The response is
// only valid inside decode.
func (h *CmsisDap) command(cmd *Buffer, decode func(resp []byte) error) error {
	packet := cmd.Bytes()

	resp := h.responses.acquire()
	defer h.responses.release(resp)

	if err := h.writePacket(packet); err != nil {
		return err
	}

	n, err := h.readPacket(packet[0], resp)

	if err != nil {
		return err
	}

	if decode == nil {
		return nil
	}

	return decode(resp[:n])
}

func checkStatus(resp []byte, name string) error {
	if len(resp) < 2 {
		return newDapError(ErrorProtocolMismatch, "%s response too short", name)
	}

	switch resp[1] {
	case dapOK:
		return nil
	case dapError:
		return newDapError(ErrorCommandFailed, "%s returned error status", name)
	default:
		return newDapError(ErrorProtocolMismatch, "%s returned unknown status 0x%02x", name, resp[1])
	}
}

func (h *CmsisDap) statusCommand(cmd *Buffer, name string) error {
	return h.command(cmd, func(resp []byte) error {
		return checkStatus(resp, name)
	})
}

// Info reads one DAP_Info item. An empty slice means the probe has no value
// for id.
func (h *CmsisDap) Info(id byte) ([]byte, error) {
	var data []byte

	cmd := h.initCommand(cmdInfo, 1)
	cmd.WriteByte(id)

	err := h.command(cmd, func(resp []byte) error {
		if len(resp) < 2 {
			return newDapError(ErrorProtocolMismatch, "info response too short")
		}

		length := int(resp[1])

		if 2+length > len(resp) {
			return newDapError(ErrorProtocolMismatch, "info 0x%02x announces %d bytes, got %d", id, length, len(resp)-2)
		}

		data = append([]byte(nil), resp[2:2+length]...)

		return nil
	})

	return data, err
}

func (h *CmsisDap) InfoString(id byte) (string, error) {
	data, err := h.Info(id)

	if err != nil {
		return "", err
	}

	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}

	return string(data), nil
}

// HostStatus drives the connected and running LEDs of the probe.
func (h *CmsisDap) HostStatus(statusType HostStatusType, on bool) error {
	cmd := h.initCommand(cmdHostStatus, 2)
	cmd.WriteByte(byte(statusType))
	cmd.WriteByte(boolToByte(on))

	return h.statusCommand(cmd, "host status")
}

// Connect initializes the debug port for port and returns the port the probe
// actually selected, zero on failure.
func (h *CmsisDap) Connect(port DapPort) (DapPort, error) {
	var selected DapPort

	cmd := h.initCommand(cmdConnect, 1)
	cmd.WriteByte(byte(port))

	err := h.command(cmd, func(resp []byte) error {
		if len(resp) < 2 {
			return newDapError(ErrorProtocolMismatch, "connect response too short")
		}

		selected = DapPort(resp[1])

		return nil
	})

	return selected, err
}

func (h *CmsisDap) Disconnect() error {
	cmd := h.initCommand(cmdDisconnect, 0)

	err := h.statusCommand(cmd, "disconnect")

	h.mode = TransportModeNone
	h.InvalidateCache()

	return err
}

// TransferConfigure sets idle cycles after each transfer and the number of
// WAIT and value match retries the probe performs on its own.
func (h *CmsisDap) TransferConfigure(idleCycles byte, waitRetry uint16, matchRetry uint16) error {
	cmd := h.initCommand(cmdTransferConfigure, 5)
	cmd.WriteByte(idleCycles)
	cmd.WriteUint16LE(waitRetry)
	cmd.WriteUint16LE(matchRetry)

	logger.Debugf("transfer configure: idle %d, wait retry %d, match retry %d", idleCycles, waitRetry, matchRetry)

	return h.statusCommand(cmd, "transfer configure")
}

// TransferAbort cancels a running transfer. The probe sends no response.
func (h *CmsisDap) TransferAbort() error {
	cmd := h.initCommand(cmdTransferAbort, 0)

	return h.writePacket(cmd.Bytes())
}

// WriteAbort writes flags to the DP ABORT register.
func (h *CmsisDap) WriteAbort(flags uint32) error {
	cmd := h.initCommand(cmdWriteAbort, 5)
	cmd.WriteByte(h.dapIndex)
	cmd.WriteUint32LE(flags)

	logger.Debugf("write abort 0x%02x", flags)

	return h.statusCommand(cmd, "write abort")
}

func (h *CmsisDap) Delay(microseconds uint16) error {
	cmd := h.initCommand(cmdDelay, 2)
	cmd.WriteUint16LE(microseconds)

	return h.statusCommand(cmd, "delay")
}

// ResetTarget runs the device specific reset sequence of the probe. The
// returned flag is false if the probe has no such sequence.
func (h *CmsisDap) ResetTarget() (bool, error) {
	var executed bool

	cmd := h.initCommand(cmdResetTarget, 0)

	err := h.command(cmd, func(resp []byte) error {
		if err := checkStatus(resp, "reset target"); err != nil {
			return err
		}

		executed = len(resp) > 2 && resp[2] == 1

		return nil
	})

	return executed, err
}

// SwjPins drives the pins selected by mask to output, waits up to waitUs
// for them to settle and returns the pin input state.
func (h *CmsisDap) SwjPins(output byte, mask byte, waitUs uint32) (byte, error) {
	var pins byte

	cmd := h.initCommand(cmdSwjPins, 6)
	cmd.WriteByte(output)
	cmd.WriteByte(mask)
	cmd.WriteUint32LE(waitUs)

	err := h.command(cmd, func(resp []byte) error {
		if len(resp) < 2 {
			return newDapError(ErrorProtocolMismatch, "swj pins response too short")
		}

		pins = resp[1]

		return nil
	})

	return pins, err
}

func (h *CmsisDap) SwjClock(hz uint32) error {
	cmd := h.initCommand(cmdSwjClock, 4)
	cmd.WriteUint32LE(hz)

	return h.statusCommand(cmd, "swj clock")
}

// SwjSequence clocks out bitCount bits of data on SWDIO/TMS, LSB first.
// Sequences longer than one packet are split on byte boundaries.
func (h *CmsisDap) SwjSequence(bitCount int, data []byte) error {
	if bitCount < 1 {
		return newDapError(ErrorSequenceTooLarge, "swj sequence of %d bits", bitCount)
	}

	byteCount := (bitCount + 7) / 8

	if len(data) < byteCount {
		return newDapError(ErrorSequenceTooLarge, "swj sequence of %d bits needs %d bytes, got %d", bitCount, byteCount, len(data))
	}

	chunkBits := (h.packetSize - 2) * 8
	if chunkBits > maxSwjSequenceBits {
		chunkBits = maxSwjSequenceBits
	}

	if chunkBits < 8 {
		return newDapError(ErrorPacketTooLarge, "packet size %d too small for swj sequences", h.packetSize)
	}

	for sent := 0; sent < bitCount; sent += chunkBits {
		bits := bitCount - sent
		if bits > chunkBits {
			bits = chunkBits
		}

		chunk := data[sent/8 : sent/8+(bits+7)/8]

		cmd := h.initCommand(cmdSwjSequence, 1+len(chunk))
		cmd.WriteByte(byte(bits)) // 256 is encoded as 0
		cmd.Write(chunk)

		if err := h.statusCommand(cmd, "swj sequence"); err != nil {
			return err
		}
	}

	return nil
}

// SwdConfigure sets the turnaround period (1-4 clocks) and whether a data
// phase is generated on WAIT and FAULT.
func (h *CmsisDap) SwdConfigure(turnaround int, dataPhase bool) error {
	if err := h.requireCapability(CapSWD, "swd configure"); err != nil {
		return err
	}

	if turnaround < 1 || turnaround > 4 {
		return newDapError(ErrorCommandFailed, "invalid swd turnaround %d", turnaround)
	}

	cmd := h.initCommand(cmdSwdConfigure, 1)
	cmd.WriteByte(byte(turnaround-1) | boolToByte(dataPhase)<<2)

	return h.statusCommand(cmd, "swd configure")
}

// SwdSequence describes a raw SWDIO sequence. Output sequences carry Data,
// input sequences return the sampled bits.
type SwdSequence struct {
	Cycles int
	Input  bool
	Data   []byte
}

func (s SwdSequence) byteCount() int {
	return (s.Cycles + 7) / 8
}

// SwdSequence runs all sequences in one packet and returns the concatenated
// bytes captured by input sequences.
func (h *CmsisDap) SwdSequence(seqs []SwdSequence) ([]byte, error) {
	if err := h.requireCapability(CapSWDSequence, "swd sequence"); err != nil {
		return nil, err
	}

	if len(seqs) == 0 {
		return []byte{}, nil
	}

	if len(seqs) > maxJtagSequences {
		return nil, newDapError(ErrorPacketTooLarge, "%d swd sequences exceed one packet", len(seqs))
	}

	cmd := h.initCommand(cmdSwdSequence, h.packetSize)
	cmd.WriteByte(byte(len(seqs)))

	inputBytes := 0

	for _, s := range seqs {
		if s.Cycles < 1 || s.Cycles > maxJtagCycles {
			return nil, newDapError(ErrorSequenceTooLarge, "swd sequence of %d cycles", s.Cycles)
		}

		info := byte(s.Cycles & 0x3F)
		if s.Input {
			info |= 0x80
		}

		cmd.WriteByte(info)

		if s.Input {
			inputBytes += s.byteCount()
			continue
		}

		if len(s.Data) < s.byteCount() {
			return nil, newDapError(ErrorSequenceTooLarge, "swd sequence data too short")
		}

		cmd.Write(s.Data[:s.byteCount()])
	}

	if cmd.Len() > h.packetSize || 2+inputBytes > h.packetSize {
		return nil, newDapError(ErrorPacketTooLarge, "swd sequences need %d bytes, packet size is %d", cmd.Len(), h.packetSize)
	}

	captured := make([]byte, inputBytes)

	err := h.command(cmd, func(resp []byte) error {
		if err := checkStatus(resp, "swd sequence"); err != nil {
			return err
		}

		if len(resp) < 2+inputBytes {
			return newDapError(ErrorProtocolMismatch, "swd sequence response too short")
		}

		copy(captured, resp[2:])

		return nil
	})

	return captured, err
}

// JtagConfigure sets the instruction register length of every device on
// the scan chain.
func (h *CmsisDap) JtagConfigure(irLengths []byte) error {
	if err := h.requireCapability(CapJTAG, "jtag configure"); err != nil {
		return err
	}

	if len(irLengths) == 0 || len(irLengths) > maxJtagSequences {
		return newDapError(ErrorCommandFailed, "invalid jtag device count %d", len(irLengths))
	}

	cmd := h.initCommand(cmdJtagConfigure, 1+len(irLengths))
	cmd.WriteByte(byte(len(irLengths)))
	cmd.Write(irLengths)

	return h.statusCommand(cmd, "jtag configure")
}

// JtagIdCode reads the IDCODE of the device at index on the scan chain.
func (h *CmsisDap) JtagIdCode(index byte) (uint32, error) {
	var idCode uint32

	if err := h.requireCapability(CapJTAG, "jtag idcode"); err != nil {
		return 0, err
	}

	cmd := h.initCommand(cmdJtagIdCode, 1)
	cmd.WriteByte(index)

	err := h.command(cmd, func(resp []byte) error {
		if err := checkStatus(resp, "jtag idcode"); err != nil {
			return err
		}

		if len(resp) < 6 {
			return newDapError(ErrorProtocolMismatch, "jtag idcode response too short")
		}

		idCode = leUint32(resp[2:])

		return nil
	})

	return idCode, err
}
