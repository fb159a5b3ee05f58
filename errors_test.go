// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckToError(t *testing.T) {
	cases := []struct {
		ack  byte
		want ErrorCode
	}{
		{AckOK, ErrorOK},
		{AckWait, ErrorTransferWait},
		{AckFault, ErrorTransferFault},
		{AckNoAck, ErrorTransferError},
		{AckProtocolError | AckOK, ErrorTransferError},
		{AckMismatch | AckOK, ErrorTransferMismatch},
		{0x00, ErrorTransferError},
	}

	for _, c := range cases {
		err := ackToError(c.ack, 3)

		assert.Equalf(t, c.want, ErrorCodeOf(err), "ack 0x%02x", c.ack)

		if err != nil {
			var dapErr *DapError
			require.True(t, errors.As(err, &dapErr))
			assert.Equal(t, 3, dapErr.Completed)
		}
	}
}

func TestDapErrorMatchesByCode(t *testing.T) {
	err := newDapError(ErrorTransferFault, "fault at 0x%08x", 0x20000000)

	assert.ErrorIs(t, err, ErrTransferFault)
	assert.NotErrorIs(t, err, ErrTransferWait)
	assert.Equal(t, "fault at 0x20000000", err.Error())

	wrapped := fmt.Errorf("reading flash: %w", err)
	assert.ErrorIs(t, wrapped, ErrTransferFault)
	assert.Equal(t, ErrorTransferFault, ErrorCodeOf(wrapped))
}

func TestWrappedTransportError(t *testing.T) {
	err := transportError(io.ErrUnexpectedEOF, "read")

	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "read failed")

	// errors already carrying a code keep it
	inner := newDapError(ErrorPacketTooLarge, "too large")
	assert.Equal(t, ErrorPacketTooLarge, ErrorCodeOf(transportError(inner, "write")))
}

func TestErrorCodeOf(t *testing.T) {
	assert.Equal(t, ErrorOK, ErrorCodeOf(nil))
	assert.Equal(t, ErrorTransportFailure, ErrorCodeOf(errors.New("usb gone")))
	assert.Equal(t, "sequence too large", ErrorSequenceTooLarge.String())
	assert.Equal(t, "error code 99", ErrorCode(99).String())
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ErrTransferWait))
	assert.True(t, IsRecoverable(ErrAPNotFound))
	assert.False(t, IsRecoverable(ErrProtocolMismatch))
	assert.False(t, IsRecoverable(ErrTransportFailure))
	assert.False(t, IsRecoverable(ErrPacketTooLarge))
}
