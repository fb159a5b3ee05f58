// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gocmsisdap

import "errors"

// TransferRequest is one DP or AP register access of a DAP_Transfer.
type TransferRequest struct {
	Request byte // TransferAPnDP, TransferRnW, TransferA2, TransferA3
	Value   uint32
}

func (r TransferRequest) isRead() bool {
	return r.Request&TransferRnW != 0
}

// ReadRequest builds a read of register offset reg, only bits [3:2] are used.
func ReadRequest(ap bool, reg byte) TransferRequest {
	return TransferRequest{Request: requestByte(ap, reg) | TransferRnW}
}

func WriteRequest(ap bool, reg byte, value uint32) TransferRequest {
	return TransferRequest{Request: requestByte(ap, reg), Value: value}
}

func requestByte(ap bool, reg byte) byte {
	req := reg & (TransferA2 | TransferA3)

	if ap {
		req |= TransferAPnDP
	}

	return req
}

// transferSize returns the bytes needed by the request payload and the
// response data of reqs.
func transferSize(reqs []TransferRequest) (requestBytes int, responseBytes int) {
	for _, r := range reqs {
		requestBytes++

		if r.isRead() {
			responseBytes += 4
		} else {
			requestBytes += 4
		}
	}

	return requestBytes, responseBytes
}

// Transfer sends reqs as one DAP_Transfer packet and returns the read values
// in request order. The probe stops at the first failing request, on error
// the values of reads acknowledged before it are returned.
func (h *CmsisDap) Transfer(reqs []TransferRequest) ([]uint32, error) {
	if len(reqs) == 0 {
		return []uint32{}, nil
	}

	if len(reqs) > maxTransferCount {
		return nil, newDapError(ErrorPacketTooLarge, "%d transfers exceed the maximum of %d", len(reqs), maxTransferCount)
	}

	requestBytes, responseBytes := transferSize(reqs)

	if transferHeaderSize+requestBytes > h.packetSize {
		return nil, newDapError(ErrorPacketTooLarge, "transfer payload of %d bytes exceeds packet size %d", requestBytes, h.packetSize)
	}

	if transferHeaderSize+responseBytes > h.packetSize {
		return nil, newDapError(ErrorPacketTooLarge, "transfer response of %d bytes exceeds packet size %d", responseBytes, h.packetSize)
	}

	cmd := h.initCommand(cmdTransfer, 2+requestBytes)
	cmd.WriteByte(h.dapIndex)
	cmd.WriteByte(byte(len(reqs)))

	for _, r := range reqs {
		cmd.WriteByte(r.Request & transferRequestMask)

		if !r.isRead() {
			cmd.WriteUint32LE(r.Value)
		}
	}

	var values []uint32

	err := h.command(cmd, func(resp []byte) error {
		if len(resp) < transferHeaderSize {
			return newDapError(ErrorProtocolMismatch, "transfer response too short")
		}

		completed := int(resp[1])
		ack := resp[2]

		if completed > len(reqs) {
			return newDapError(ErrorProtocolMismatch, "probe completed %d of %d transfers", completed, len(reqs))
		}

		data := resp[transferHeaderSize:]

		for _, r := range reqs[:completed] {
			if !r.isRead() {
				continue
			}

			if len(data) < 4 {
				break
			}

			values = append(values, leUint32(data))
			data = data[4:]
		}

		if err := ackToError(ack, completed); err != nil {
			return err
		}

		if completed != len(reqs) {
			return &DapError{errorString: "probe stopped transfer without error", Code: ErrorTransferError, Completed: completed}
		}

		if len(values) != responseBytes/4 {
			return newDapError(ErrorProtocolMismatch, "transfer returned %d of %d values", len(values), responseBytes/4)
		}

		return nil
	})

	if err != nil {
		h.InvalidateCache()
		logger.Debug("transfer failed: ", err)
	}

	return values, err
}

// transferAP runs reqs against access port ap after selecting apBank. The
// SELECT write shares the packet with reqs when it is required.
func (h *CmsisDap) transferAP(ap byte, apBank byte, reqs []TransferRequest) ([]uint32, error) {
	desired := Select{APSel: ap, APBank: apBank, DPBank: h.selectCache.value.DPBank}

	if !h.selectCache.valid {
		desired.DPBank = 0
	}

	all := reqs
	writeSelect := !h.selectCache.valid || h.selectCache.value.NeedsUpdate(desired)

	if writeSelect {
		all = append([]TransferRequest{WriteRequest(false, DPRegSelect, desired.Raw())}, reqs...)
	}

	values, err := h.Transfer(all)

	if err == nil && writeSelect {
		h.selectCache = selectCache{value: desired, valid: true}
	}

	if writeSelect {
		discountMerged(err, 1)
	}

	return values, err
}

// discountMerged removes n requests the driver merged in front of the
// caller's requests from the completed count of err.
func discountMerged(err error, n int) {
	var dapErr *DapError

	if !errors.As(err, &dapErr) || dapErr.Completed == 0 {
		return
	}

	dapErr.Completed -= n

	if dapErr.Completed < 0 {
		dapErr.Completed = 0
	}
}

// selectDPBank makes sure the banked DP register space shows bank.
func (h *CmsisDap) selectDPBank(bank byte) error {
	desired := Select{DPBank: bank}

	if h.selectCache.valid {
		desired.APSel = h.selectCache.value.APSel
		desired.APBank = h.selectCache.value.APBank

		if !h.selectCache.value.NeedsUpdate(desired) {
			return nil
		}
	}

	return h.WriteDP(DPRegSelect, desired.Raw())
}

// ReadDP reads a debug port register. Bits [7:4] of reg select the DP bank
// for the banked CTRL/STAT address.
func (h *CmsisDap) ReadDP(reg byte) (uint32, error) {
	if reg&0x0F == DPRegCtrlStat {
		if err := h.selectDPBank(reg >> 4); err != nil {
			return 0, err
		}
	}

	values, err := h.Transfer([]TransferRequest{ReadRequest(false, reg)})

	if err != nil {
		return 0, err
	}

	return values[0], nil
}

func (h *CmsisDap) WriteDP(reg byte, value uint32) error {
	if reg&0x0F == DPRegCtrlStat {
		if err := h.selectDPBank(reg >> 4); err != nil {
			return err
		}
	}

	_, err := h.Transfer([]TransferRequest{WriteRequest(false, reg, value)})

	if err != nil {
		return err
	}

	if reg&0x0F == DPRegSelect {
		h.selectCache = selectCache{value: ParseSelect(value), valid: true}
	}

	return nil
}

// ReadAP reads register reg of access port ap, reg bits [7:4] are the bank.
func (h *CmsisDap) ReadAP(ap byte, reg byte) (uint32, error) {
	values, err := h.transferAP(ap, reg>>4, []TransferRequest{ReadRequest(true, reg)})

	if err != nil {
		return 0, err
	}

	return values[0], nil
}

func (h *CmsisDap) WriteAP(ap byte, reg byte, value uint32) error {
	_, err := h.transferAP(ap, reg>>4, []TransferRequest{WriteRequest(true, reg, value)})

	return err
}
