// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"bytes"
	"math"
	"sync"
)

// Buffer collects the bytes of one outgoing command packet.
type Buffer struct {
	bytes.Buffer
}

func NewBuffer(initSize int) *Buffer {
	b := &Buffer{}

	b.Grow(initSize)

	return b
}

func (buf *Buffer) WriteUint32LE(value uint32) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
	buf.WriteByte(byte(value >> 16))
	buf.WriteByte(byte(value >> 24))
}

func (buf *Buffer) WriteUint16LE(value uint16) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
}

// leUint16 decodes a little endian field of a probe response.
func leUint16(buf []byte) uint16 {
	if len(buf) < 2 {
		logger.Errorf("could not read uint16 from %d byte buffer", len(buf))
		return math.MaxUint16
	}

	return uint16(buf[0]) | uint16(buf[1])<<8
}

func leUint32(buf []byte) uint32 {
	if len(buf) < 4 {
		logger.Errorf("could not read uint32 from %d byte buffer", len(buf))
		return math.MaxUint32
	}

	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// responsePool hands out receive buffers of the negotiated packet size.
type responsePool struct {
	size int
	pool sync.Pool
}

func newResponsePool(size int) *responsePool {
	p := &responsePool{size: size}

	p.pool.New = func() interface{} {
		return make([]byte, p.size)
	}

	return p
}

func (p *responsePool) acquire() []byte {
	buf := p.pool.Get().([]byte)

	if len(buf) < p.size {
		buf = make([]byte, p.size)
	}

	return buf[:p.size]
}

func (p *responsePool) release(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}

	p.pool.Put(buf)
}
