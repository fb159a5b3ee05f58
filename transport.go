// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

// Transport moves whole CMSIS-DAP packets between host and probe. Every
// Write carries exactly one command packet and every Read returns exactly
// one response packet. Timeouts are handled by the implementation.
type Transport interface {
	Write(packet []byte) (int, error)
	Read(packet []byte) (int, error)

	// PacketSize reports the transfer unit of the underlying endpoint. It is
	// used until the probe reports its own packet size.
	PacketSize() int

	Close() error
}
