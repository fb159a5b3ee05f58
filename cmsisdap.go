// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gocmsisdap

import (
	"time"

	"github.com/boljen/go-bitmap"
	"github.com/google/gousb"
)

// Backend selects the usb class used to reach the probe.
type Backend int

const (
	BackendBulk Backend = iota // CMSIS-DAP v2, vendor specific bulk endpoints
	BackendHid                 // CMSIS-DAP v1, HID reports
)

type DapConfig struct {
	Vid      gousb.ID
	Pid      gousb.ID
	Serial   string
	Backend  Backend
	ClockKHz uint32

	// DAP_TransferConfigure parameters
	IdleCycles byte
	WaitRetry  uint16
	MatchRetry uint16

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ResetDevice  bool

	// TrustCapabilities takes the advertised capability byte as is for
	// firmware versions the driver does not know.
	TrustCapabilities bool
}

func NewDapConfig(vid gousb.ID, pid gousb.ID, serial string, backend Backend, clockKHz uint32) *DapConfig {

	config := &DapConfig{
		Vid:          vid,
		Pid:          pid,
		Serial:       serial,
		Backend:      backend,
		ClockKHz:     clockKHz,
		IdleCycles:   0,
		WaitRetry:    64,
		MatchRetry:   0,
		ReadTimeout:  defaultUsbTimeout,
		WriteTimeout: defaultUsbTimeout,
	}

	return config
}

type selectCache struct {
	value Select
	valid bool
}

type cswCache struct {
	ap    byte
	value CSW
	valid bool
}

// CmsisDap is one probe session. It is not safe for concurrent use.
type CmsisDap struct {
	transport Transport

	packetSize  int
	packetCount int
	responses   *responsePool

	version dapVersion

	mode      TransportMode
	dapIndex  byte
	currentAP byte
	clockHz   uint32

	selectCache selectCache
	cswCache    cswCache

	populatedAPs bitmap.Bitmap

	seggerRtt seggerRttInfo
}

// NewCmsisDap opens the probe described by config, reads its properties and
// applies clock and transfer configuration. No transport mode is selected.
func NewCmsisDap(config *DapConfig) (*CmsisDap, error) {
	var transport Transport

	switch config.Backend {
	case BackendHid:
		t, err := OpenHidTransport(HidConfig{Vid: idToHid(config.Vid), Pid: idToHid(config.Pid), Serial: config.Serial})
		if err != nil {
			return nil, err
		}
		transport = t

	default:
		t, err := OpenUsbTransport(UsbConfig{
			Vid:          config.Vid,
			Pid:          config.Pid,
			Serial:       config.Serial,
			ResetDevice:  config.ResetDevice,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		transport = t
	}

	h := newSession(transport)

	if err := h.initialize(config.TrustCapabilities); err != nil {
		transport.Close()
		return nil, err
	}

	if err := h.configure(config); err != nil {
		transport.Close()
		return nil, err
	}

	return h, nil
}

// NewCmsisDapWithTransport runs the DAP_Info handshake over an already opened
// transport and returns the session with the probe defaults untouched.
func NewCmsisDapWithTransport(transport Transport) (*CmsisDap, error) {
	h := newSession(transport)

	if err := h.initialize(false); err != nil {
		return nil, err
	}

	return h, nil
}

func newSession(transport Transport) *CmsisDap {
	h := &CmsisDap{
		transport:   transport,
		packetSize:  transport.PacketSize(),
		packetCount: 1,
		mode:        TransportModeNone,
	}

	if h.packetSize <= 0 {
		h.packetSize = defaultPacketSize
	}

	h.responses = newResponsePool(h.packetSize)

	return h
}

func (h *CmsisDap) configure(config *DapConfig) error {
	if config.ClockKHz > 0 {
		if err := h.SetSpeed(config.ClockKHz); err != nil {
			return err
		}
	}

	return h.TransferConfigure(config.IdleCycles, config.WaitRetry, config.MatchRetry)
}

// Close disconnects from the target and releases the transport.
func (h *CmsisDap) Close() error {
	if h.transport == nil {
		return nil
	}

	if h.mode != TransportModeNone {
		if err := h.Disconnect(); err != nil {
			logger.Warn("disconnect on close failed: ", err)
		}
	}

	err := h.transport.Close()
	h.transport = nil

	return err
}

func (h *CmsisDap) PacketSize() int {
	return h.packetSize
}

func (h *CmsisDap) PacketCount() int {
	return h.packetCount
}

// SetDapIndex selects the device on the JTAG scan chain addressed by
// transfers. It is ignored by SWD probes.
func (h *CmsisDap) SetDapIndex(index byte) {
	if index != h.dapIndex {
		h.dapIndex = index
		h.InvalidateCache()
	}
}

// InvalidateCache forces SELECT and CSW to be written on the next access.
func (h *CmsisDap) InvalidateCache() {
	h.selectCache.valid = false
	h.cswCache.valid = false
}

func idToHid(id gousb.ID) uint16 {
	if id == AllVendorIds {
		return 0
	}

	return uint16(id)
}
