// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

const (
	minClockKHz = 1
	// fastest clock any known probe firmware accepts
	maxClockKHz = 50000
)

// SetSpeed sets the SWD/JTAG clock. The value is clamped to what probes
// accept, the probe itself picks the closest divider it supports.
func (h *CmsisDap) SetSpeed(khz uint32) error {
	if khz < minClockKHz {
		logger.Warnf("clock of %d kHz too low, using %d kHz", khz, minClockKHz)
		khz = minClockKHz
	} else if khz > maxClockKHz {
		logger.Warnf("clock of %d kHz too high, using %d kHz", khz, maxClockKHz)
		khz = maxClockKHz
	}

	if err := h.SwjClock(khz * 1000); err != nil {
		return err
	}

	h.clockHz = khz * 1000

	logger.Debugf("interface clock set to %d kHz", khz)

	return nil
}

// Speed returns the last clock set in kHz, zero if the probe default is used.
func (h *CmsisDap) Speed() uint32 {
	return h.clockHz / 1000
}
