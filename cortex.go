// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import "fmt"

const (
	regCPUID uint32 = 0xE000ED00

	// start of the SRAM region on Cortex-M devices
	DefaultRamStart = 0x20000000
)

var cortexParts = map[uint16]string{
	0xC20: "Cortex-M0",
	0xC60: "Cortex-M0+",
	0xC21: "Cortex-M1",
	0xC23: "Cortex-M3",
	0xC24: "Cortex-M4",
	0xC27: "Cortex-M7",
	0xD20: "Cortex-M23",
	0xD21: "Cortex-M33",
	0xD22: "Cortex-M55",
}

// CPUID is the Cortex-M CPUID base register.
type CPUID struct {
	Implementer uint8
	Variant     uint8
	PartNo      uint16
	Revision    uint8
}

func ParseCPUID(raw uint32) CPUID {
	return CPUID{
		Implementer: uint8(getBits(raw, 24, 8)),
		Variant:     uint8(getBits(raw, 20, 4)),
		PartNo:      uint16(getBits(raw, 4, 12)),
		Revision:    uint8(getBits(raw, 0, 4)),
	}
}

func (c CPUID) Name() string {
	vendor := fmt.Sprintf("implementer 0x%02x", c.Implementer)
	if c.Implementer == 0x41 {
		vendor = "ARM"
	}

	part, ok := cortexParts[c.PartNo]
	if !ok {
		part = fmt.Sprintf("part 0x%03x", c.PartNo)
	}

	return fmt.Sprintf("%s %s r%dp%d", vendor, part, c.Variant, c.Revision)
}

// ReadCPUID reads the CPUID register through the current MEM-AP.
func (h *CmsisDap) ReadCPUID() (CPUID, error) {
	raw, err := h.ReadMem32(regCPUID)

	if err != nil {
		return CPUID{}, err
	}

	cpuid := ParseCPUID(raw)

	logger.Debugf("cpuid 0x%08x: %s", raw, cpuid.Name())

	return cpuid, nil
}
