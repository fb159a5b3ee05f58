// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFirmwareVersion(t *testing.T) {
	cases := []struct {
		version string
		want    int
	}{
		{"1.0", 100},
		{"1.00", 100},
		{"1.10", 110},
		{"1.1", 110},
		{"2.1.0", 210},
		{"0254", 25400},
		{"1.10-beta", 110},
		{"v1.10", 0},
		{"", 0},
	}

	for _, c := range cases {
		assert.Equalf(t, c.want, parseFirmwareVersion(c.version), "version %q", c.version)
	}
}

func capabilityList(t *testing.T, version int, caps []byte, trust bool) []Capability {
	t.Helper()

	flags := capabilitiesForVersion(version, caps, trust)

	var list []Capability

	for c := Capability(0); c < capabilityBits; c++ {
		if flags.Get(int(c)) {
			list = append(list, c)
		}
	}

	return list
}

func TestCapabilitiesForVersion(t *testing.T) {
	cases := []struct {
		name    string
		version int
		caps    []byte
		trust   bool
		want    []Capability
	}{
		{
			name:    "1.0 knows swd and jtag only",
			version: 100,
			caps:    []byte{0x7F},
			want:    []Capability{CapSWD, CapJTAG},
		},
		{
			name:    "1.1 maps info0",
			version: 110,
			caps:    []byte{0x75},
			want:    []Capability{CapSWD, CapSWOUart, CapAtomic, CapSWDSequence, CapTestDomainTimer},
		},
		{
			name:    "1.1 with info1",
			version: 110,
			caps:    []byte{0x03, 0x01},
			want:    []Capability{CapSWD, CapJTAG, CapTraceDataManage},
		},
		{
			name:    "unknown version",
			version: 200,
			caps:    []byte{0x03},
			want:    nil,
		},
		{
			name:    "unknown version trusted",
			version: 200,
			caps:    []byte{0x23, 0x01},
			trust:   true,
			want:    []Capability{CapSWD, CapJTAG, CapSWDSequence, CapTraceDataManage},
		},
		{
			name:    "no capability bytes",
			version: 110,
			caps:    nil,
			want:    nil,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if diff := cmp.Diff(c.want, capabilityList(t, c.version, c.caps, c.trust)); diff != "" {
				t.Errorf("capabilities mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInitializeHandshake(t *testing.T) {
	m := newMockProbe()
	m.packetSize = 512
	m.packetCount = 8

	dap, err := NewCmsisDapWithTransport(m)
	require.NoError(t, err)

	assert.Equal(t, 512, dap.PacketSize())
	assert.Equal(t, 8, dap.PacketCount())
	assert.Equal(t, "1.10", dap.FirmwareVersion())
	assert.Equal(t, TransportModeNone, dap.Mode())
	assert.True(t, dap.HasCapability(CapSWD))
	assert.True(t, dap.HasCapability(CapJTAG))
	assert.True(t, dap.HasCapability(CapSWDSequence))
	assert.False(t, dap.HasCapability(CapAtomic))
	assert.Equal(t, "SWD, JTAG, SWD-Sequence", dap.CapabilityString())

	var ids []byte
	for _, p := range m.sent {
		require.Equal(t, cmdInfo, p[0])
		ids = append(ids, p[1])
	}

	assert.Equal(t, []byte{InfoPacketSize, InfoFirmwareVersion, InfoPacketCount, InfoCapabilities}, ids)
}

func TestInitializeRejectsZeroPacketSize(t *testing.T) {
	m := newMockProbe()
	m.packetSize = 0

	_, err := NewCmsisDapWithTransport(m)

	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestInitializeUnknownFirmware(t *testing.T) {
	m := newMockProbe()
	m.firmware = "2.0.0"

	dap, err := NewCmsisDapWithTransport(m)
	require.NoError(t, err)

	assert.False(t, dap.HasCapability(CapSWD))
	assert.Equal(t, "none", dap.CapabilityString())

	err = dap.SelectTransport(TransportModeSWD)
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
}

func TestProbeInfo(t *testing.T) {
	m := newMockProbe()
	dap := newTestDap(t, m)

	info, err := dap.ProbeInfo()
	require.NoError(t, err)

	want := ProbeInfo{Vendor: "ARM", Product: "CMSIS-DAP", SerialNumber: "0001", Firmware: "1.10"}

	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("ProbeInfo mismatch (-want +got):\n%s", diff)
	}
}
