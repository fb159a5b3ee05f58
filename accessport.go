// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code
package gocmsisdap

import (
	"fmt"

	"github.com/boljen/go-bitmap"
)

// component and peripheral id registers of a CoreSight component, relative
// to its 4 KB aligned base
const (
	componentPID4Offset = 0xFD0
	componentIdWords    = 12
)

// CoreSight component classes, CID bits [15:12]
const (
	ComponentClassGeneric   = 0x0
	ComponentClassROMTable  = 0x1
	ComponentClassCoreSight = 0x9
	ComponentClassPrimeCell = 0xF
)

// AccessPort describes one populated AP found by ScanAPs.
type AccessPort struct {
	Index byte
	IDR   APIDR
	Base  uint32 // MEM-APs only
}

func (ap AccessPort) String() string {
	s := fmt.Sprintf("AP %d: %s", ap.Index, ap.IDR)

	if ap.IDR.IsMemAP() {
		s += fmt.Sprintf(", base 0x%08x", ap.Base)
	}

	return s
}

// FindAP returns the index of the first access port whose IDR matches
// apType. Ports with a zero IDR are not populated.
func (h *CmsisDap) FindAP(apType APType) (byte, error) {
	for ap := 0; ap <= MaxAPIndex; ap++ {
		raw, err := h.ReadAP(byte(ap), APRegIDR)

		if err != nil {
			return 0, err
		}

		if raw == 0 {
			continue
		}

		idr := ParseAPIDR(raw)

		logger.Debugf("AP %d idr 0x%08x (%s)", ap, raw, idr)

		if idr.Matches(apType) {
			logger.Infof("found %s at AP %d", apType, ap)
			return byte(ap), nil
		}
	}

	return 0, newDapError(ErrorAPNotFound, "no %s on the debug port", apType)
}

// ScanAPs reads the IDR of every access port and returns the populated ones.
// For MEM-APs the debug base address is read as well.
func (h *CmsisDap) ScanAPs() ([]AccessPort, error) {
	var ports []AccessPort

	populated := bitmap.New(MaxAPIndex + 1)

	for ap := 0; ap <= MaxAPIndex; ap++ {
		raw, err := h.ReadAP(byte(ap), APRegIDR)

		if err != nil {
			return ports, err
		}

		if raw == 0 {
			continue
		}

		port := AccessPort{Index: byte(ap), IDR: ParseAPIDR(raw)}

		if port.IDR.IsMemAP() {
			if port.Base, err = h.ReadAP(byte(ap), MemAPRegBase); err != nil {
				return ports, err
			}
		}

		populated.Set(ap, true)
		ports = append(ports, port)
	}

	h.populatedAPs = populated

	return ports, nil
}

// IsAPPopulated reports whether the last ScanAPs found a port at index ap.
func (h *CmsisDap) IsAPPopulated(ap byte) bool {
	if h.populatedAPs == nil {
		return false
	}

	return h.populatedAPs.Get(int(ap))
}

// ReadComponentID reads the component and peripheral id registers of the
// component at base through the current MEM-AP. Only the low byte of each
// register is used.
func (h *CmsisDap) ReadComponentID(base uint32) (uint32, uint64, error) {
	words, err := h.ReadMemBlock(base+componentPID4Offset, AddrIncSingle, CSWSize32, componentIdWords)

	if err != nil {
		return 0, 0, err
	}

	var cid uint32
	var pid uint64

	for i := 0; i < 4; i++ {
		pid |= uint64(words[i]&0xFF) << (32 + 8*i) // PID4..PID7
		pid |= uint64(words[4+i]&0xFF) << (8 * i)  // PID0..PID3
		cid |= (words[8+i] & 0xFF) << (8 * i)      // CID0..CID3
	}

	return cid, pid, nil
}

// ComponentClass extracts the component class from a CID.
func ComponentClass(cid uint32) uint32 {
	return getBits(cid, 12, 4)
}
