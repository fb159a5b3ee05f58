// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"testing"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketTrace(t *testing.T) {
	previous := logger
	defer SetLogger(previous)

	testLogger, hook := test.NewNullLogger()
	testLogger.SetLevel(logrus.TraceLevel)
	SetLogger(testLogger)

	m := newMockProbe()
	dap := newTestDap(t, m)
	hook.Reset()

	require.NoError(t, dap.Delay(1))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "tx 090100", entries[0].Message)
	assert.Equal(t, "rx 0900", entries[1].Message[:7])
	assert.Equal(t, 3, entries[0].Data["len"])
}

func TestNoTraceBelowTraceLevel(t *testing.T) {
	previous := logger
	defer SetLogger(previous)

	testLogger, hook := test.NewNullLogger()
	testLogger.SetLevel(logrus.DebugLevel)
	SetLogger(testLogger)

	m := newMockProbe()
	dap := newTestDap(t, m)
	hook.Reset()

	require.NoError(t, dap.Delay(1))
	assert.Empty(t, hook.AllEntries())
}

func TestNewDapConfigDefaults(t *testing.T) {
	config := NewDapConfig(AllVendorIds, gousb.ID(0x0204), "", BackendHid, 4000)

	assert.Equal(t, uint16(64), config.WaitRetry)
	assert.Equal(t, defaultUsbTimeout, config.ReadTimeout)
	assert.False(t, config.TrustCapabilities)

	assert.Equal(t, uint16(0), idToHid(config.Vid))
	assert.Equal(t, uint16(0x0204), idToHid(config.Pid))
	assert.True(t, idExists(cmsisDapVendorIds, gousb.ID(0x0D28)))
}
