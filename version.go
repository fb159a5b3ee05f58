// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/boljen/go-bitmap"
)

// Capability is one feature bit advertised through DAP_Info.
type Capability int

// bit positions follow the capabilities info byte, info1 starts at bit 8
const (
	CapSWD             Capability = 0
	CapJTAG            Capability = 1
	CapSWOUart         Capability = 2
	CapSWOManchester   Capability = 3
	CapAtomic          Capability = 4
	CapSWDSequence     Capability = 5
	CapTestDomainTimer Capability = 6
	CapTraceDataManage Capability = 8

	capabilityBits = 16
)

var capabilityNames = map[Capability]string{
	CapSWD:             "SWD",
	CapJTAG:            "JTAG",
	CapSWOUart:         "SWO-UART",
	CapSWOManchester:   "SWO-Manchester",
	CapAtomic:          "Atomic",
	CapSWDSequence:     "SWD-Sequence",
	CapTestDomainTimer: "TestDomainTimer",
	CapTraceDataManage: "TraceDataManage",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}

	return fmt.Sprintf("capability %d", int(c))
}

// known firmware versions, major.minor times 100
const (
	firmwareVersion100 = 100
	firmwareVersion110 = 110
)

type dapVersion struct {
	firmware string
	number   int
	rawCaps  []byte
	flags    bitmap.Bitmap
}

// initialize runs the DAP_Info handshake: packet size, firmware version,
// packet count and capabilities.
func (h *CmsisDap) initialize(trustCapabilities bool) error {
	data, err := h.Info(InfoPacketSize)

	if err != nil {
		return err
	}

	if len(data) < 2 {
		return newDapError(ErrorProtocolMismatch, "packet size info has %d bytes", len(data))
	}

	packetSize := int(leUint16(data))

	if packetSize == 0 {
		return newDapError(ErrorProtocolMismatch, "probe reports a packet size of zero")
	}

	h.packetSize = packetSize
	h.responses = newResponsePool(packetSize)

	logger.Infof("cmsis-dap maximum packet size is %d", h.packetSize)

	h.version.firmware, err = h.InfoString(InfoFirmwareVersion)

	if err != nil {
		return err
	}

	h.version.number = parseFirmwareVersion(h.version.firmware)

	logger.Infof("cmsis-dap firmware version is %s (%d)", h.version.firmware, h.version.number)

	data, err = h.Info(InfoPacketCount)

	if err != nil {
		return err
	}

	if len(data) < 1 || data[0] == 0 {
		return newDapError(ErrorProtocolMismatch, "probe reports no packet count")
	}

	h.packetCount = int(data[0])

	logger.Infof("cmsis-dap maximum packet count is %d", h.packetCount)

	caps, err := h.Info(InfoCapabilities)

	if err != nil {
		return err
	}

	h.version.rawCaps = caps
	h.version.flags = capabilitiesForVersion(h.version.number, caps, trustCapabilities)

	logger.Infof("cmsis-dap capabilities: %s", h.CapabilityString())

	h.mode = TransportModeNone

	return nil
}

// capabilitiesForVersion maps the capability info bytes to feature flags.
// Firmware 1.0 only knows SWD and JTAG, 1.1 adds the remaining bits. Any other
// version gets no capabilities unless trust is set.
func capabilitiesForVersion(version int, caps []byte, trust bool) bitmap.Bitmap {
	var flags bitmap.Bitmap = bitmap.New(capabilityBits)

	var info0 byte
	if len(caps) > 0 {
		info0 = caps[0]
	}

	setCap := func(info byte, bit uint, c Capability) {
		if info&(1<<bit) != 0 {
			flags.Set(int(c), true)
		}
	}

	switch version {
	case firmwareVersion110:
		setCap(info0, 2, CapSWOUart)
		setCap(info0, 3, CapSWOManchester)
		setCap(info0, 4, CapAtomic)
		setCap(info0, 5, CapSWDSequence)
		setCap(info0, 6, CapTestDomainTimer)

		if len(caps) == 2 {
			setCap(caps[1], 0, CapTraceDataManage)
		}

		fallthrough

	case firmwareVersion100:
		setCap(info0, 0, CapSWD)
		setCap(info0, 1, CapJTAG)

	default:
		if !trust {
			logger.Warnf("unknown cmsis-dap firmware version %d, using minimal capability set", version)
			break
		}

		for bit := uint(0); bit <= 6; bit++ {
			setCap(info0, bit, Capability(bit))
		}

		if len(caps) == 2 {
			setCap(caps[1], 0, CapTraceDataManage)
		}
	}

	return flags
}

// parseFirmwareVersion converts the leading decimal number of the version
// string to an integer with two fractional digits, "1.10" becomes 110.
func parseFirmwareVersion(version string) int {
	end := 0
	dot := false

	for end < len(version) {
		c := version[end]

		if c == '.' && !dot {
			dot = true
		} else if c < '0' || c > '9' {
			break
		}

		end++
	}

	value, err := strconv.ParseFloat(strings.TrimSuffix(version[:end], "."), 64)

	if err != nil {
		return 0
	}

	return int(value * 100)
}

func (h *CmsisDap) HasCapability(c Capability) bool {
	if h.version.flags == nil {
		return false
	}

	return h.version.flags.Get(int(c))
}

func (h *CmsisDap) requireCapability(c Capability, command string) error {
	if !h.HasCapability(c) {
		return newDapError(ErrorUnsupportedCapability, "%s requires capability %s", command, c)
	}

	return nil
}

func (h *CmsisDap) CapabilityString() string {
	var names []string

	for c := Capability(0); c < capabilityBits; c++ {
		if h.HasCapability(c) {
			names = append(names, c.String())
		}
	}

	if len(names) == 0 {
		return "none"
	}

	return strings.Join(names, ", ")
}

// FirmwareVersion returns the version string reported by the probe.
func (h *CmsisDap) FirmwareVersion() string {
	return h.version.firmware
}

// ProbeInfo collects the identification strings of the probe.
type ProbeInfo struct {
	Vendor       string
	Product      string
	SerialNumber string
	Firmware     string
	TargetVendor string
	TargetName   string
}

func (h *CmsisDap) ProbeInfo() (ProbeInfo, error) {
	var info ProbeInfo

	fields := []struct {
		id  byte
		dst *string
	}{
		{InfoVendor, &info.Vendor},
		{InfoProduct, &info.Product},
		{InfoSerialNumber, &info.SerialNumber},
		{InfoFirmwareVersion, &info.Firmware},
		{InfoTargetVendor, &info.TargetVendor},
		{InfoTargetName, &info.TargetName},
	}

	for _, f := range fields {
		s, err := h.InfoString(f.id)

		if err != nil {
			return info, err
		}

		*f.dst = s
	}

	return info, nil
}
