// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"runtime"
	"strings"

	"github.com/karalabe/hid"
)

const defaultHidReportSize = 64

// HidConfig selects a CMSIS-DAP v1 probe. A zero Vid or Pid matches any.
type HidConfig struct {
	Vid        uint16
	Pid        uint16
	Serial     string
	ReportSize int
}

type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// HidTransport talks to CMSIS-DAP v1 probes through HID reports. Commands
// are padded to the full report size.
type HidTransport struct {
	device     hidDevice
	info       hid.DeviceInfo
	reportSize int
	// hidapi takes the report id as first byte. The library adds it itself
	// on windows only.
	reportID bool
	report   []byte
}

func newHidTransport(device hidDevice, info hid.DeviceInfo, reportSize int, reportID bool) *HidTransport {
	t := &HidTransport{
		device:     device,
		info:       info,
		reportSize: reportSize,
		reportID:   reportID,
	}

	if reportID {
		t.report = make([]byte, 1+reportSize)
	} else {
		t.report = make([]byte, reportSize)
	}

	return t
}

// HidProbes lists attached HID devices announcing themselves as CMSIS-DAP.
func HidProbes(vid uint16, pid uint16) []hid.DeviceInfo {
	var probes []hid.DeviceInfo

	for _, info := range hid.Enumerate(vid, pid) {
		if strings.Contains(info.Product, "CMSIS-DAP") {
			probes = append(probes, info)
		}
	}

	return probes
}

func OpenHidTransport(config HidConfig) (*HidTransport, error) {
	if !hid.Supported() {
		return nil, newDapError(ErrorTransportFailure, "hid is not supported on this platform")
	}

	reportSize := config.ReportSize
	if reportSize <= 0 {
		reportSize = defaultHidReportSize
	}

	for _, info := range HidProbes(config.Vid, config.Pid) {
		if config.Serial != "" && info.Serial != config.Serial {
			logger.Debugf("skipping hid probe %s with serial %s", info.Product, info.Serial)
			continue
		}

		device, err := info.Open()

		if err != nil {
			return nil, wrapDapError(ErrorTransportFailure, err, "could not open hid device %s", info.Path)
		}

		logger.Infof("opened cmsis-dap hid probe [%04x:%04x] %s (%s)", info.VendorID, info.ProductID, info.Product, info.Serial)

		return newHidTransport(device, info, reportSize, runtime.GOOS != "windows"), nil
	}

	return nil, newDapError(ErrorTransportFailure, "could not find cmsis-dap hid probe by given parameters")
}

func (t *HidTransport) PacketSize() int {
	return t.reportSize
}

func (t *HidTransport) Write(packet []byte) (int, error) {
	if len(packet) > t.reportSize {
		return -1, newDapError(ErrorPacketTooLarge, "packet of %d bytes exceeds hid report size %d", len(packet), t.reportSize)
	}

	payload := t.report

	if t.reportID {
		t.report[0] = 0x00
		payload = t.report[1:]
	}

	copy(payload, packet)
	for i := len(packet); i < len(payload); i++ {
		payload[i] = 0
	}

	_, err := t.device.Write(t.report)

	if err != nil {
		return -1, wrapDapError(ErrorTransportFailure, err, "hid write failed")
	}

	return len(packet), nil
}

func (t *HidTransport) Read(packet []byte) (int, error) {
	n, err := t.device.Read(packet)

	if err != nil {
		return -1, wrapDapError(ErrorTransportFailure, err, "hid read failed")
	}

	return n, nil
}

func (t *HidTransport) Close() error {
	if t.device == nil {
		return nil
	}

	err := t.device.Close()
	t.device = nil

	return err
}
