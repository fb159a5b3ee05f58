// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	ErrorOK ErrorCode = iota
	ErrorTransportFailure
	ErrorProtocolMismatch
	ErrorUnsupportedCapability
	ErrorCommandFailed
	ErrorTransferWait
	ErrorTransferFault
	ErrorTransferError
	ErrorTransferMismatch
	ErrorSequenceTooLarge
	ErrorPacketTooLarge
	ErrorAPNotFound
	ErrorModeSwitchRejected
	ErrorWrongMode
	ErrorTargetUnalignedAccess
	ErrorTimeout
)

var errorCodeNames = map[ErrorCode]string{
	ErrorOK:                    "ok",
	ErrorTransportFailure:      "transport failure",
	ErrorProtocolMismatch:      "protocol mismatch",
	ErrorUnsupportedCapability: "unsupported capability",
	ErrorCommandFailed:         "command failed",
	ErrorTransferWait:          "transfer wait",
	ErrorTransferFault:         "transfer fault",
	ErrorTransferError:         "transfer error",
	ErrorTransferMismatch:      "transfer mismatch",
	ErrorSequenceTooLarge:      "sequence too large",
	ErrorPacketTooLarge:        "packet too large",
	ErrorAPNotFound:            "access port not found",
	ErrorModeSwitchRejected:    "mode switch rejected",
	ErrorWrongMode:             "wrong transport mode",
	ErrorTargetUnalignedAccess: "unaligned access",
	ErrorTimeout:               "timeout",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}

	return fmt.Sprintf("error code %d", int(c))
}

// DapError is returned by every probe operation. Errors compare equal with
// errors.Is when their codes match, so callers test against the Err* values.
type DapError struct {
	errorString string
	Code        ErrorCode
	// Completed holds the number of transfers the probe acknowledged before
	// a failing DAP_Transfer or DAP_TransferBlock. SELECT and CSW writes the
	// driver merges into a caller's transfer are not counted.
	Completed int
	err       error
}

func (e *DapError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.errorString, e.err)
	}

	return e.errorString
}

func (e *DapError) Unwrap() error {
	return e.err
}

func (e *DapError) Is(target error) bool {
	t, ok := target.(*DapError)

	return ok && t.Code == e.Code
}

var (
	ErrTransportFailure      = &DapError{errorString: "transport failure", Code: ErrorTransportFailure}
	ErrProtocolMismatch      = &DapError{errorString: "protocol mismatch", Code: ErrorProtocolMismatch}
	ErrUnsupportedCapability = &DapError{errorString: "unsupported capability", Code: ErrorUnsupportedCapability}
	ErrCommandFailed         = &DapError{errorString: "command failed", Code: ErrorCommandFailed}
	ErrTransferWait          = &DapError{errorString: "transfer wait", Code: ErrorTransferWait}
	ErrTransferFault         = &DapError{errorString: "transfer fault", Code: ErrorTransferFault}
	ErrTransferError         = &DapError{errorString: "transfer error", Code: ErrorTransferError}
	ErrTransferMismatch      = &DapError{errorString: "transfer mismatch", Code: ErrorTransferMismatch}
	ErrSequenceTooLarge      = &DapError{errorString: "sequence too large", Code: ErrorSequenceTooLarge}
	ErrPacketTooLarge        = &DapError{errorString: "packet too large", Code: ErrorPacketTooLarge}
	ErrAPNotFound            = &DapError{errorString: "access port not found", Code: ErrorAPNotFound}
	ErrModeSwitchRejected    = &DapError{errorString: "mode switch rejected", Code: ErrorModeSwitchRejected}
	ErrWrongMode             = &DapError{errorString: "wrong transport mode", Code: ErrorWrongMode}
	ErrUnalignedAccess       = &DapError{errorString: "unaligned access", Code: ErrorTargetUnalignedAccess}
	ErrTimeout               = &DapError{errorString: "timeout", Code: ErrorTimeout}
)

func newDapError(code ErrorCode, format string, args ...interface{}) *DapError {
	return &DapError{errorString: fmt.Sprintf(format, args...), Code: code}
}

func wrapDapError(code ErrorCode, err error, format string, args ...interface{}) *DapError {
	return &DapError{errorString: fmt.Sprintf(format, args...), Code: code, err: err}
}

// ErrorCodeOf extracts the code of a DapError anywhere in the chain of err.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorOK
	}

	var dapErr *DapError
	if errors.As(err, &dapErr) {
		return dapErr.Code
	}

	return ErrorTransportFailure
}

// IsRecoverable reports whether the session stays usable after err. Target
// acknowledge failures can be cleared through the ABORT register and retried,
// a missing capability or access port lets the caller pick another path.
func IsRecoverable(err error) bool {
	switch ErrorCodeOf(err) {
	case ErrorTransferWait, ErrorTransferFault, ErrorTransferError, ErrorTransferMismatch,
		ErrorUnsupportedCapability, ErrorAPNotFound, ErrorTargetUnalignedAccess:
		return true
	default:
		return false
	}
}

// converts the ack byte of a transfer response, completed is the number of
// transfers executed by the probe
func ackToError(ack byte, completed int) error {
	var err *DapError

	switch {
	case ack == AckOK:
		return nil

	case ack&AckMismatch != 0:
		err = newDapError(ErrorTransferMismatch, "read value mismatch after %d transfers", completed)

	case ack&AckProtocolError != 0:
		err = newDapError(ErrorTransferError, "swd protocol error after %d transfers", completed)

	case ack&ackValueMask == AckWait:
		err = newDapError(ErrorTransferWait, "target responded WAIT after %d transfers", completed)

	case ack&ackValueMask == AckFault:
		err = newDapError(ErrorTransferFault, "target responded FAULT after %d transfers", completed)

	default:
		err = newDapError(ErrorTransferError, "no valid acknowledge (0x%02x) after %d transfers", ack, completed)
	}

	err.Completed = completed

	return err
}
