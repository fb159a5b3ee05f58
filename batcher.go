// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

// JtagSequence is one DAP_JTAG_Sequence entry: Cycles TCK pulses (1-64)
// with constant TMS, shifting TDI LSB first.
type JtagSequence struct {
	Cycles  int
	TMS     bool
	Capture bool
	TDI     []byte
}

func (s JtagSequence) byteCount() int {
	return (s.Cycles + 7) / 8
}

// info byte: bits [5:0] cycle count with 64 encoded as 0, bit 6 TMS, bit 7
// capture TDO
func (s JtagSequence) info() byte {
	info := byte(s.Cycles & 0x3F)

	if s.TMS {
		info |= 0x40
	}

	if s.Capture {
		info |= 0x80
	}

	return info
}

// wirePacket is one command packet of a batched operation together with
// where its response data goes.
type wirePacket struct {
	cmd      byte
	data     []byte
	offset   int // first byte or word of the packet in the result
	expected int // bytes or words the response carries
}

// jtagPacker accumulates sequences into packets.
type jtagPacker struct {
	packetSize int
	packets    []*wirePacket

	current  *Buffer
	count    int
	captured int
	offset   int
}

func (p *jtagPacker) add(s JtagSequence) {
	n := s.byteCount()

	if p.current != nil && (p.count >= maxJtagSequences || p.current.Len()+1+n > p.packetSize) {
		p.flush()
	}

	if p.current == nil {
		p.current = NewBuffer(p.packetSize)
		p.current.WriteByte(cmdJtagSequence)
		p.current.WriteByte(0) // patched in flush
	}

	p.current.WriteByte(s.info())
	p.current.Write(s.TDI[:n])
	p.count++

	if s.Capture {
		p.captured += n
	}
}

func (p *jtagPacker) flush() {
	if p.current == nil {
		return
	}

	data := p.current.Bytes()
	data[1] = byte(p.count)

	p.packets = append(p.packets, &wirePacket{
		cmd:      cmdJtagSequence,
		data:     data,
		offset:   p.offset,
		expected: p.captured,
	})

	p.offset += p.captured
	p.current = nil
	p.count = 0
	p.captured = 0
}

// packJtagSequences splits seqs into packets and returns them with the total
// number of captured bytes.
func packJtagSequences(seqs []JtagSequence, packetSize int) ([]*wirePacket, int, error) {
	p := &jtagPacker{packetSize: packetSize}

	for i, s := range seqs {
		if s.Cycles < 1 || s.Cycles > maxJtagCycles {
			return nil, 0, newDapError(ErrorSequenceTooLarge, "sequence %d has %d cycles", i, s.Cycles)
		}

		if len(s.TDI) < s.byteCount() {
			return nil, 0, newDapError(ErrorSequenceTooLarge, "sequence %d needs %d TDI bytes, got %d", i, s.byteCount(), len(s.TDI))
		}

		if jtagSequenceHeader+1+s.byteCount() > packetSize {
			return nil, 0, newDapError(ErrorSequenceTooLarge, "sequence %d of %d cycles does not fit a %d byte packet", i, s.Cycles, packetSize)
		}

		p.add(s)
	}

	p.flush()

	return p.packets, p.offset, nil
}

// JtagSequences shifts seqs through the scan chain and returns the TDO bytes
// of all capturing sequences in order.
func (h *CmsisDap) JtagSequences(seqs []JtagSequence) ([]byte, error) {
	if err := h.requireCapability(CapJTAG, "jtag sequence"); err != nil {
		return nil, err
	}

	if h.mode != TransportModeJTAG {
		return nil, newDapError(ErrorWrongMode, "jtag sequence needs jtag mode, current mode is %s", h.mode)
	}

	if len(seqs) == 0 {
		return []byte{}, nil
	}

	packets, total, err := packJtagSequences(seqs, h.packetSize)

	if err != nil {
		return nil, err
	}

	logger.Debugf("jtag: %d sequences in %d packets, %d bytes captured", len(seqs), len(packets), total)

	tdo := make([]byte, total)

	err = h.pipeline(packets, func(p *wirePacket, resp []byte) error {
		if err := checkStatus(resp, "jtag sequence"); err != nil {
			return err
		}

		if len(resp) < 2+p.expected {
			return newDapError(ErrorProtocolMismatch, "jtag sequence response has %d of %d bytes", len(resp)-2, p.expected)
		}

		copy(tdo[p.offset:p.offset+p.expected], resp[2:])

		return nil
	})

	if err != nil {
		return nil, err
	}

	return tdo, nil
}

// pipeline writes up to packetCount packets before reading the first
// response, responses are consumed in order. After a failure the responses
// of packets already written are read and dropped and nothing more is sent.
func (h *CmsisDap) pipeline(packets []*wirePacket, handle func(p *wirePacket, resp []byte) error) error {
	window := h.packetCount
	if window < 1 {
		window = 1
	}

	resp := h.responses.acquire()
	defer h.responses.release(resp)

	written, read := 0, 0

	for read < len(packets) {
		for written < len(packets) && written-read < window {
			if err := h.writePacket(packets[written].data); err != nil {
				h.drain(packets[read:written], resp)
				return err
			}

			written++
		}

		p := packets[read]
		read++

		n, err := h.readPacket(p.cmd, resp)

		if err == nil {
			err = handle(p, resp[:n])
		}

		if err != nil {
			if ErrorCodeOf(err) != ErrorTransportFailure {
				h.drain(packets[read:written], resp)
			}

			return err
		}
	}

	return nil
}

func (h *CmsisDap) drain(pending []*wirePacket, resp []byte) {
	for _, p := range pending {
		if _, err := h.readPacket(p.cmd, resp); err != nil {
			logger.Debug("dropping pending response: ", err)

			if ErrorCodeOf(err) == ErrorTransportFailure {
				return
			}
		}
	}
}

// words of one DAP_TransferBlock packet
func (h *CmsisDap) blockWordsPerPacket(read bool) int {
	var n int

	if read {
		n = (h.packetSize - transferBlockResponseHeader) / 4
	} else {
		n = (h.packetSize - transferBlockRequestHeader) / 4
	}

	if n > maxBlockTransferCnt {
		n = maxBlockTransferCnt
	}

	return n
}

func (h *CmsisDap) blockPacket(request byte, offset int, count int, values []uint32) *wirePacket {
	cmd := h.initCommand(cmdTransferBlock, transferBlockRequestHeader+4*len(values))
	cmd.WriteByte(h.dapIndex)
	cmd.WriteUint16LE(uint16(count))
	cmd.WriteByte(request & transferRequestMask)

	for _, v := range values {
		cmd.WriteUint32LE(v)
	}

	return &wirePacket{cmd: cmdTransferBlock, data: cmd.Bytes(), offset: offset, expected: count}
}

func blockResult(p *wirePacket, resp []byte) (int, []byte, error) {
	if len(resp) < transferBlockResponseHeader {
		return 0, nil, newDapError(ErrorProtocolMismatch, "transfer block response too short")
	}

	completed := int(leUint16(resp[1:]))

	if completed > p.expected {
		return 0, nil, newDapError(ErrorProtocolMismatch, "probe completed %d of %d block transfers", completed, p.expected)
	}

	if err := ackToError(resp[3], p.offset+completed); err != nil {
		return completed, resp[transferBlockResponseHeader:], err
	}

	if completed != p.expected {
		return completed, nil, &DapError{errorString: "probe stopped block transfer without error", Code: ErrorTransferError, Completed: p.offset + completed}
	}

	return completed, resp[transferBlockResponseHeader:], nil
}

// TransferBlockRead reads count words from one register, for MEM-APs usually
// DRW with address auto increment. Packets are pipelined.
func (h *CmsisDap) TransferBlockRead(request byte, count int) ([]uint32, error) {
	if count == 0 {
		return []uint32{}, nil
	}

	request |= TransferRnW

	perPacket := h.blockWordsPerPacket(true)
	if perPacket < 1 {
		return nil, newDapError(ErrorPacketTooLarge, "packet size %d too small for block transfers", h.packetSize)
	}

	var packets []*wirePacket
	for offset := 0; offset < count; offset += perPacket {
		n := count - offset
		if n > perPacket {
			n = perPacket
		}

		packets = append(packets, h.blockPacket(request, offset, n, nil))
	}

	values := make([]uint32, count)
	done := 0

	err := h.pipeline(packets, func(p *wirePacket, resp []byte) error {
		completed, data, err := blockResult(p, resp)

		for i := 0; i < completed && len(data) >= 4; i++ {
			values[p.offset+i] = leUint32(data)
			data = data[4:]
			done = p.offset + i + 1
		}

		return err
	})

	if err != nil {
		h.InvalidateCache()
		return values[:done], err
	}

	return values, nil
}

// TransferBlockWrite writes values to one register using as few packets as
// the packet size allows.
func (h *CmsisDap) TransferBlockWrite(request byte, values []uint32) error {
	if len(values) == 0 {
		return nil
	}

	request &^= TransferRnW

	perPacket := h.blockWordsPerPacket(false)
	if perPacket < 1 {
		return newDapError(ErrorPacketTooLarge, "packet size %d too small for block transfers", h.packetSize)
	}

	var packets []*wirePacket
	for offset := 0; offset < len(values); offset += perPacket {
		end := offset + perPacket
		if end > len(values) {
			end = len(values)
		}

		packets = append(packets, h.blockPacket(request, offset, end-offset, values[offset:end]))
	}

	err := h.pipeline(packets, func(p *wirePacket, resp []byte) error {
		_, _, err := blockResult(p, resp)
		return err
	})

	if err != nil {
		h.InvalidateCache()
	}

	return err
}
