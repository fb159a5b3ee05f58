// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

// TransportMode is the wire protocol spoken to the target debug port.
type TransportMode uint8

const (
	TransportModeNone TransportMode = 0
	TransportModeSWD  TransportMode = 1
	TransportModeJTAG TransportMode = 2
)

func (m TransportMode) String() string {
	switch m {
	case TransportModeSWD:
		return "SWD"
	case TransportModeJTAG:
		return "JTAG"
	default:
		return "none"
	}
}

// JTAG to SWD: at least 50 clocks with TMS high, 0xE79E, 50 clocks high,
// then idle. 144 bits.
var jtagToSwdSequence = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x9E, 0xE7,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x00, 0x00,
}

// SWD to JTAG: 56 clocks high, 0xE73C, 8 clocks high. 80 bits.
var swdToJtagSequence = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x3C, 0xE7,
	0xFF,
}

func (h *CmsisDap) Mode() TransportMode {
	return h.mode
}

// SelectTransport switches the probe to mode. Selecting the current mode
// sends nothing.
func (h *CmsisDap) SelectTransport(mode TransportMode) error {
	if mode == h.mode {
		return nil
	}

	var port DapPort
	var capability Capability
	var sequence []byte

	switch mode {
	case TransportModeSWD:
		port, capability, sequence = PortSWD, CapSWD, jtagToSwdSequence

	case TransportModeJTAG:
		port, capability, sequence = PortJTAG, CapJTAG, swdToJtagSequence

	default:
		return newDapError(ErrorWrongMode, "cannot switch to transport mode %s", mode)
	}

	if err := h.requireCapability(capability, "transport "+mode.String()); err != nil {
		return err
	}

	logger.Debugf("switching transport from %s to %s", h.mode, mode)

	selected, err := h.Connect(port)

	if err != nil {
		return err
	}

	if selected != port {
		return newDapError(ErrorModeSwitchRejected, "probe answered connect(%d) with port %d", port, selected)
	}

	// the probe is connected with the new port from here on, the old mode
	// and cached registers are no longer valid
	h.mode = TransportModeNone
	h.InvalidateCache()

	if err := h.SwjSequence(len(sequence)*8, sequence); err != nil {
		return err
	}

	h.mode = mode

	logger.Infof("transport mode is %s", mode)

	return nil
}
