// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"time"
)

const maxWaitShift = 10

// waitDelay doubles with every attempt, up to 1 << maxWaitShift ms.
func waitDelay(attempt int) time.Duration {
	return time.Millisecond << min(attempt, maxWaitShift)
}

// RetryTransfer runs op and repeats it while it fails with a recoverable
// transfer error, at most retries times. WAIT is retried after an increasing
// delay, FAULT and protocol errors after clearing the sticky flags.
func (h *CmsisDap) RetryTransfer(retries int, op func() error) error {
	attempt := 0

	for {
		err := op()

		if err == nil || attempt >= retries {
			return err
		}

		switch ErrorCodeOf(err) {
		case ErrorTransferWait:
			delay := waitDelay(attempt)

			logger.Debugf("transfer WAIT, retry %d, delaying %v", attempt+1, delay)
			time.Sleep(delay)

		case ErrorTransferFault, ErrorTransferError, ErrorTransferMismatch:
			logger.Debugf("transfer failed (%v), clearing sticky errors for retry %d", err, attempt+1)

			if clearErr := h.ClearStickyErrors(); clearErr != nil {
				return clearErr
			}

		default:
			return err
		}

		attempt++
	}
}

// ClearStickyErrors resets the sticky error flags of the debug port. SWD
// uses the ABORT register, JTAG writes the set flags back to CTRL/STAT.
func (h *CmsisDap) ClearStickyErrors() error {
	switch h.mode {
	case TransportModeSWD:
		return h.WriteAbort(abortClearAll)

	case TransportModeJTAG:
		raw, err := h.ReadDP(DPRegCtrlStat)

		if err != nil {
			return err
		}

		// sticky flags are write one to clear on JTAG-DPs
		keep := ctrlStatStickyMask | CtrlStatCDbgPwrUpReq | CtrlStatCSysPwrUpReq

		return h.WriteDP(DPRegCtrlStat, raw&keep)

	default:
		return newDapError(ErrorWrongMode, "no transport mode selected")
	}
}

// PowerUpDebug requests debug and system power and waits for both
// acknowledges.
func (h *CmsisDap) PowerUpDebug() error {
	req := CtrlStatCDbgPwrUpReq | CtrlStatCSysPwrUpReq
	ack := CtrlStatCDbgPwrUpAck | CtrlStatCSysPwrUpAck

	return h.setCtrlStatAndWait(req, ack, ack)
}

// PowerDownDebug drops the power requests.
func (h *CmsisDap) PowerDownDebug() error {
	return h.setCtrlStatAndWait(0, CtrlStatCDbgPwrUpAck|CtrlStatCSysPwrUpAck, 0)
}

// DebugReset pulses CDBGRSTREQ and waits for the reset acknowledge to follow.
func (h *CmsisDap) DebugReset() error {
	power := CtrlStatCDbgPwrUpReq | CtrlStatCSysPwrUpReq

	if err := h.setCtrlStatAndWait(power|CtrlStatCDbgRstReq, CtrlStatCDbgRstAck, CtrlStatCDbgRstAck); err != nil {
		return err
	}

	return h.setCtrlStatAndWait(power, CtrlStatCDbgRstAck, 0)
}

func (h *CmsisDap) setCtrlStatAndWait(value uint32, mask uint32, want uint32) error {
	if err := h.WriteDP(DPRegCtrlStat, value); err != nil {
		return err
	}

	for retries := 0; retries < maxPowerUpRetries; retries++ {
		raw, err := h.ReadDP(DPRegCtrlStat)

		if err != nil {
			return err
		}

		if raw&mask == want {
			logger.Debugf("ctrl/stat 0x%08x after %d polls", raw, retries+1)
			return nil
		}

		time.Sleep(time.Duration(1<<retries) * time.Millisecond)
	}

	return newDapError(ErrorTimeout, "ctrl/stat did not reach 0x%08x under mask 0x%08x", want, mask)
}

// ReadIdCode reads DPIDR under SWD and the IDCODE of the selected device
// under JTAG.
func (h *CmsisDap) ReadIdCode() (uint32, error) {
	switch h.mode {
	case TransportModeSWD:
		return h.ReadDP(DPRegIDR)

	case TransportModeJTAG:
		return h.JtagIdCode(h.dapIndex)

	default:
		return 0, newDapError(ErrorWrongMode, "no transport mode selected")
	}
}

// AssertReset drives the nRESET line, assert pulls it low.
func (h *CmsisDap) AssertReset(assert bool) error {
	var output byte = PinNRESET

	if assert {
		output = 0
	}

	pins, err := h.SwjPins(output, PinNRESET, 0)

	if err != nil {
		return err
	}

	logger.Debugf("nRESET %s, pins 0x%02x", map[bool]string{true: "asserted", false: "released"}[assert], pins)

	return nil
}
