// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gocmsisdap

// keeps whatever increment mode CSW currently holds
const addrIncKeep AddrInc = 0xFF

var (
	readDRW = ReadRequest(true, MemAPRegDRW)
)

// SelectAP sets the MEM-AP used by all memory operations.
func (h *CmsisDap) SelectAP(ap byte) {
	if ap != h.currentAP {
		logger.Debugf("selecting access port %d", ap)

		h.currentAP = ap
		h.cswCache.valid = false
	}
}

func (h *CmsisDap) CurrentAP() byte {
	return h.currentAP
}

func (h *CmsisDap) ReadCSW() (CSW, error) {
	raw, err := h.ReadAP(h.currentAP, MemAPRegCSW)

	if err != nil {
		return CSW{}, err
	}

	csw := ParseCSW(raw)
	h.cswCache = cswCache{ap: h.currentAP, value: csw, valid: true}

	return csw, nil
}

func (h *CmsisDap) WriteCSW(csw CSW) error {
	if err := h.WriteAP(h.currentAP, MemAPRegCSW, csw.Raw()); err != nil {
		return err
	}

	h.cswCache = cswCache{ap: h.currentAP, value: csw, valid: true}

	return nil
}

func (h *CmsisDap) ReadTAR() (uint32, error) {
	return h.ReadAP(h.currentAP, MemAPRegTAR)
}

func (h *CmsisDap) WriteTAR(addr uint32) error {
	return h.WriteAP(h.currentAP, MemAPRegTAR, addr)
}

// cswFor returns the CSW needed for an access of size and inc and whether it
// differs from the value last programmed.
func (h *CmsisDap) cswFor(size CSWSize, inc AddrInc) (CSW, bool, error) {
	if !h.cswCache.valid || h.cswCache.ap != h.currentAP {
		if _, err := h.ReadCSW(); err != nil {
			return CSW{}, false, err
		}
	}

	current := h.cswCache.value
	want := current
	want.Size = size
	want.DeviceEn = false
	want.TrInProg = false

	if inc != addrIncKeep {
		want.AddrInc = inc
	}

	return want, !current.sameAccess(want), nil
}

// memTransfer runs reqs on the current MEM-AP with CSW set up for size and
// inc. The CSW write is merged into the same packet.
func (h *CmsisDap) memTransfer(size CSWSize, inc AddrInc, reqs ...TransferRequest) ([]uint32, error) {
	csw, writeCSW, err := h.cswFor(size, inc)

	if err != nil {
		return nil, err
	}

	all := reqs

	if writeCSW {
		all = append([]TransferRequest{WriteRequest(true, MemAPRegCSW, csw.Raw())}, reqs...)
	}

	values, err := h.transferAP(h.currentAP, 0, all)

	if err == nil && writeCSW {
		h.cswCache = cswCache{ap: h.currentAP, value: csw, valid: true}
	}

	if writeCSW {
		discountMerged(err, 1)
	}

	return values, err
}

func checkAlignment(addr uint32, size CSWSize) error {
	if addr&(size.Bytes()-1) != 0 {
		return newDapError(ErrorTargetUnalignedAccess, "address 0x%08x is not aligned to %d bytes", addr, size.Bytes())
	}

	return nil
}

func (h *CmsisDap) readMem(addr uint32, size CSWSize) (uint32, error) {
	if err := checkAlignment(addr, size); err != nil {
		return 0, err
	}

	values, err := h.memTransfer(size, addrIncKeep, WriteRequest(true, MemAPRegTAR, addr), readDRW)

	if err != nil {
		return 0, err
	}

	// narrow accesses return the data in the byte lanes of the address
	return values[0] >> (8 * (addr & 3)), nil
}

func (h *CmsisDap) writeMem(addr uint32, size CSWSize, value uint32) error {
	if err := checkAlignment(addr, size); err != nil {
		return err
	}

	_, err := h.memTransfer(size, addrIncKeep,
		WriteRequest(true, MemAPRegTAR, addr),
		WriteRequest(true, MemAPRegDRW, value<<(8*(addr&3))))

	return err
}

func (h *CmsisDap) ReadMem8(addr uint32) (uint8, error) {
	v, err := h.readMem(addr, CSWSize8)

	return uint8(v), err
}

func (h *CmsisDap) ReadMem16(addr uint32) (uint16, error) {
	v, err := h.readMem(addr, CSWSize16)

	return uint16(v), err
}

func (h *CmsisDap) ReadMem32(addr uint32) (uint32, error) {
	return h.readMem(addr, CSWSize32)
}

// ReadMem64 uses a 64 bit CSW access, DRW returns the low word first.
func (h *CmsisDap) ReadMem64(addr uint32) (uint64, error) {
	if err := checkAlignment(addr, CSWSize64); err != nil {
		return 0, err
	}

	values, err := h.memTransfer(CSWSize64, addrIncKeep, WriteRequest(true, MemAPRegTAR, addr), readDRW, readDRW)

	if err != nil {
		return 0, err
	}

	return uint64(values[0]) | uint64(values[1])<<32, nil
}

func (h *CmsisDap) WriteMem8(addr uint32, value uint8) error {
	return h.writeMem(addr, CSWSize8, uint32(value))
}

func (h *CmsisDap) WriteMem16(addr uint32, value uint16) error {
	return h.writeMem(addr, CSWSize16, uint32(value))
}

func (h *CmsisDap) WriteMem32(addr uint32, value uint32) error {
	return h.writeMem(addr, CSWSize32, value)
}

func (h *CmsisDap) WriteMem64(addr uint32, value uint64) error {
	if err := checkAlignment(addr, CSWSize64); err != nil {
		return err
	}

	_, err := h.memTransfer(CSWSize64, addrIncKeep,
		WriteRequest(true, MemAPRegTAR, addr),
		WriteRequest(true, MemAPRegDRW, uint32(value)),
		WriteRequest(true, MemAPRegDRW, uint32(value>>32)))

	return err
}

// addressStep is the TAR advance per DRW access.
func addressStep(inc AddrInc, size CSWSize) uint32 {
	switch inc {
	case AddrIncSingle:
		if size.Bytes() < 4 {
			return size.Bytes()
		}
		return 4
	case AddrIncPacked:
		return 4
	default:
		return 0
	}
}

// blockRuns splits count DRW accesses starting at addr into runs that stay
// inside one auto increment window.
func blockRuns(addr uint32, inc AddrInc, size CSWSize, count int) [][2]uint32 {
	step := addressStep(inc, size)

	if step == 0 {
		return [][2]uint32{{addr, uint32(count)}}
	}

	var runs [][2]uint32

	for count > 0 {
		n := int((tarAutoIncrementWindow - addr%tarAutoIncrementWindow) / step)
		if n < 1 {
			n = 1
		}
		if n > count {
			n = count
		}

		runs = append(runs, [2]uint32{addr, uint32(n)})

		addr += uint32(n) * step
		count -= n
	}

	return runs
}

// ReadMemBlock performs count DRW reads starting at addr. The words are
// returned as read from DRW, narrow accesses keep their byte lanes.
func (h *CmsisDap) ReadMemBlock(addr uint32, inc AddrInc, size CSWSize, count int) ([]uint32, error) {
	if err := checkAlignment(addr, size); err != nil {
		return nil, err
	}

	values := make([]uint32, 0, count)

	for _, run := range blockRuns(addr, inc, size, count) {
		if _, err := h.memTransfer(size, inc, WriteRequest(true, MemAPRegTAR, run[0])); err != nil {
			return values, err
		}

		words, err := h.TransferBlockRead(TransferAPnDP|MemAPRegDRW, int(run[1]))
		values = append(values, words...)

		if err != nil {
			return values, err
		}
	}

	return values, nil
}

// WriteMemBlock writes data to consecutive DRW accesses starting at addr.
func (h *CmsisDap) WriteMemBlock(addr uint32, inc AddrInc, size CSWSize, data []uint32) error {
	if err := checkAlignment(addr, size); err != nil {
		return err
	}

	offset := uint32(0)

	for _, run := range blockRuns(addr, inc, size, len(data)) {
		if _, err := h.memTransfer(size, inc, WriteRequest(true, MemAPRegTAR, run[0])); err != nil {
			return err
		}

		if err := h.TransferBlockWrite(TransferAPnDP|MemAPRegDRW, data[offset:offset+run[1]]); err != nil {
			return err
		}

		offset += run[1]
	}

	return nil
}

// ReadMemBytes reads length bytes from any address, the aligned middle part
// uses 32 bit block transfers.
func (h *CmsisDap) ReadMemBytes(addr uint32, length int) ([]byte, error) {
	data := make([]byte, 0, length)

	for length > 0 && addr&3 != 0 {
		b, err := h.ReadMem8(addr)
		if err != nil {
			return data, err
		}

		data = append(data, b)
		addr++
		length--
	}

	if words := length / 4; words > 0 {
		values, err := h.ReadMemBlock(addr, AddrIncSingle, CSWSize32, words)

		for _, v := range values {
			data = append(data, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
		}

		if err != nil {
			return data, err
		}

		addr += uint32(words) * 4
		length -= words * 4
	}

	for ; length > 0; length-- {
		b, err := h.ReadMem8(addr)
		if err != nil {
			return data, err
		}

		data = append(data, b)
		addr++
	}

	return data, nil
}

func (h *CmsisDap) WriteMemBytes(addr uint32, data []byte) error {
	for len(data) > 0 && addr&3 != 0 {
		if err := h.WriteMem8(addr, data[0]); err != nil {
			return err
		}

		addr++
		data = data[1:]
	}

	if words := len(data) / 4; words > 0 {
		values := make([]uint32, words)

		for i := range values {
			values[i] = leUint32(data[4*i:])
		}

		if err := h.WriteMemBlock(addr, AddrIncSingle, CSWSize32, values); err != nil {
			return err
		}

		addr += uint32(words) * 4
		data = data[words*4:]
	}

	for _, b := range data {
		if err := h.WriteMem8(addr, b); err != nil {
			return err
		}

		addr++
	}

	return nil
}
