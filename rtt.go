// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// based on https://github.com/phryniszak/strtt

package gocmsisdap

import (
	"bytes"
	"sort"
)

// RttDataCb receives the bytes read from one up channel.
type RttDataCb func(int, []byte) error

// RamRange is a target memory region searched for the RTT control block.
type RamRange struct {
	Start uint32
	Size  uint32
}

const (
	seggerRttBufferSize       = 24
	seggerRttControlBlockSize = 24
	seggerRttNameLength       = 64

	// offset of rdOff inside a buffer descriptor
	seggerRttRdOffOffset = 16
)

var seggerRttId = []byte("SEGGER RTT")

// one up or down buffer descriptor
type seggerRttChannel struct {
	name         uint32 // pointer to name
	buffer       uint32 // pointer to start of buffer
	sizeOfBuffer uint32
	wrOff        uint32
	rdOff        uint32
	flags        uint32
}

type seggerRttControlBlock struct {
	acId              [16]byte // initialized to "SEGGER RTT"
	maxNumUpBuffers   uint32
	maxNumDownBuffers uint32
	channels          []*seggerRttChannel
}

type seggerRttInfo struct {
	address      uint32
	controlBlock seggerRttControlBlock
}

// InitializeRtt searches ranges for the RTT control block.
func (h *CmsisDap) InitializeRtt(ranges []RamRange) error {
	for _, r := range ranges {
		logger.Debugf("searching rtt control block in [0x%08x, 0x%x]", r.Start, r.Size)

		ram, err := h.ReadMemBytes(r.Start, int(r.Size))

		if err != nil {
			return err
		}

		occ := bytes.Index(ram, seggerRttId)

		if occ == -1 || occ+seggerRttControlBlockSize > len(ram) {
			continue
		}

		h.seggerRtt.address = r.Start + uint32(occ)

		logger.Infof("found rtt control block at address: 0x%08x", h.seggerRtt.address)

		parseRttControlBlock(ram[occ:], &h.seggerRtt.controlBlock)

		cb := &h.seggerRtt.controlBlock

		if cb.maxNumUpBuffers == 0 || cb.maxNumDownBuffers == 0 {
			return newDapError(ErrorCommandFailed, "could not find up or downstream buffers in rtt block")
		}

		logger.Debugf("got AC-ID: %s, MaxNumUpBuffers: %d, MaxNumDownBuffers: %d",
			bytes.TrimRight(cb.acId[:], "\x00"), cb.maxNumUpBuffers, cb.maxNumDownBuffers)

		cb.channels = make([]*seggerRttChannel, cb.maxNumUpBuffers+cb.maxNumDownBuffers)

		return nil
	}

	return newDapError(ErrorCommandFailed, "could not find SEGGER RTT control block id")
}

// UpdateRttChannels re-reads all buffer descriptors.
func (h *CmsisDap) UpdateRttChannels(readChannelNames bool) error {
	cb := &h.seggerRtt.controlBlock
	bufferAmount := len(cb.channels)

	if bufferAmount == 0 {
		return newDapError(ErrorCommandFailed, "rtt is not initialized")
	}

	descriptors, err := h.ReadMemBytes(h.seggerRtt.address+seggerRttControlBlockSize, bufferAmount*seggerRttBufferSize)

	if err != nil {
		return err
	}

	for i := 0; i < bufferAmount; i++ {
		d := descriptors[i*seggerRttBufferSize:]

		channel := &seggerRttChannel{
			name:         leUint32(d[0:]),
			buffer:       leUint32(d[4:]),
			sizeOfBuffer: leUint32(d[8:]),
			wrOff:        leUint32(d[12:]),
			rdOff:        leUint32(d[16:]),
			flags:        leUint32(d[20:]),
		}

		if channel.name != 0 && readChannelNames {
			name, err := h.ReadMemBytes(channel.name, seggerRttNameLength)

			if err == nil {
				if end := bytes.IndexByte(name, 0); end >= 0 {
					name = name[:end]
				}

				logger.Debugf("%d. channel name: %s, \tsize: %d, flags: %d, pBuffer 0x%08x, rdOff: %d, wrOff: %d", i,
					name, channel.sizeOfBuffer, channel.flags, channel.buffer, channel.rdOff, channel.wrOff)
			}
		}

		cb.channels[i] = channel
	}

	return nil
}

// ReadRttChannels reads pending data of all up channels with one memory
// read covering their buffers and passes it to callback.
func (h *CmsisDap) ReadRttChannels(callback RttDataCb) error {
	cb := &h.seggerRtt.controlBlock

	if cb.maxNumUpBuffers == 0 || len(cb.channels) == 0 {
		return newDapError(ErrorCommandFailed, "no channels for reading configured on target")
	}

	var blocks [][2]uint32

	for i, channel := range cb.channels[:cb.maxNumUpBuffers] {
		if channel == nil {
			return newDapError(ErrorCommandFailed, "rtt channel %d not updated", i)
		}

		if channel.sizeOfBuffer > 0 && channel.rdOff != channel.wrOff {
			blocks = append(blocks, [...]uint32{channel.buffer, channel.sizeOfBuffer})
		}
	}

	if len(blocks) == 0 {
		return nil
	}

	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i][0] != blocks[j][0] {
			return blocks[i][0] < blocks[j][0]
		}

		return blocks[i][1] < blocks[j][1]
	})

	start := blocks[0][0]
	end := start

	for _, b := range blocks {
		if b[0]+b[1] > end {
			end = b[0] + b[1]
		}
	}

	ram, err := h.ReadMemBytes(start, int(end-start))

	if err != nil {
		return err
	}

	for i, channel := range cb.channels[:cb.maxNumUpBuffers] {
		if channel.sizeOfBuffer == 0 || channel.rdOff == channel.wrOff {
			continue
		}

		data, err := h.readRttChannel(uint32(i), ram[channel.buffer-start:])

		if err != nil {
			return err
		}

		if err := callback(i, data); err != nil {
			return err
		}
	}

	return nil
}

// readRttChannel copies the unread part of the ring buffer and moves the
// target's rdOff forward.
func (h *CmsisDap) readRttChannel(channelIdx uint32, ring []byte) ([]byte, error) {
	channel := h.seggerRtt.controlBlock.channels[channelIdx]
	rdOff := channel.rdOff

	var data bytes.Buffer

	for rdOff != channel.wrOff && rdOff < channel.sizeOfBuffer {
		data.WriteByte(ring[rdOff])
		rdOff++

		if rdOff >= channel.sizeOfBuffer {
			rdOff = 0
		}
	}

	if data.Len() > 0 {
		addressRdOff := h.seggerRtt.address + seggerRttControlBlockSize +
			channelIdx*seggerRttBufferSize + seggerRttRdOffOffset

		if err := h.WriteMem32(addressRdOff, rdOff); err != nil {
			return nil, err
		}

		channel.rdOff = rdOff
	}

	return data.Bytes(), nil
}

func parseRttControlBlock(ram []byte, controlBlock *seggerRttControlBlock) {
	copy(controlBlock.acId[:], ram) // is 16 bytes long
	controlBlock.maxNumUpBuffers = leUint32(ram[len(controlBlock.acId):])
	controlBlock.maxNumDownBuffers = leUint32(ram[len(controlBlock.acId)+4:])
}
