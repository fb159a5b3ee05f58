// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"context"
	"time"

	"github.com/google/gousb"
)

const (
	AllVendorIds  gousb.ID = 0xFFFF
	AllProductIds gousb.ID = 0xFFFF

	defaultUsbTimeout = 1000 * time.Millisecond
)

// vendor ids of common CMSIS-DAP v2 probes (ARM DAPLink, Raspberry Pi
// debugprobe, NXP LPC-Link2, Cypress KitProg3)
var cmsisDapVendorIds = []gousb.ID{0x0d28, 0x2e8a, 0x1fc9, 0x04b4, 0xc251}

// UsbConfig selects a bulk endpoint probe.
type UsbConfig struct {
	Vid          gousb.ID
	Pid          gousb.ID
	Serial       string
	ResetDevice  bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// UsbTransport talks to CMSIS-DAP v2 probes over a vendor specific
// interface with one bulk in and one bulk out endpoint.
type UsbTransport struct {
	usbCtx       *gousb.Context
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface

	rxEndpoint *gousb.InEndpoint
	txEndpoint *gousb.OutEndpoint

	readTimeout  time.Duration
	writeTimeout time.Duration
	packetSize   int
}

func OpenUsbTransport(config UsbConfig) (*UsbTransport, error) {
	t := &UsbTransport{
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
	}

	if t.readTimeout == 0 {
		t.readTimeout = defaultUsbTimeout
	}
	if t.writeTimeout == 0 {
		t.writeTimeout = defaultUsbTimeout
	}

	t.usbCtx = gousb.NewContext()

	err := t.open(config)

	if err != nil {
		t.Close()
		return nil, err
	}

	return t, nil
}

func (t *UsbTransport) open(config UsbConfig) error {
	vids := cmsisDapVendorIds
	if config.Vid != AllVendorIds {
		vids = []gousb.ID{config.Vid}
	}

	devices, err := usbFindDevices(t.usbCtx, vids, config.Pid)

	if err != nil {
		return wrapDapError(ErrorTransportFailure, err, "usb device scan failed")
	}

	for _, dev := range devices {
		if t.usbDevice == nil && config.Serial == "" {
			t.usbDevice = dev
			continue
		}

		if t.usbDevice == nil {
			devSerialNo, _ := dev.SerialNumber()

			logger.Debugf("compare serial no %s with number %s", devSerialNo, config.Serial)

			if devSerialNo == config.Serial {
				t.usbDevice = dev
				continue
			}
		}

		dev.Close()
	}

	if t.usbDevice == nil {
		return newDapError(ErrorTransportFailure, "could not find cmsis-dap probe by given parameters")
	}

	if len(devices) > 1 && config.Serial == "" {
		logger.Warnf("found %d matching probes, using the first one", len(devices))
	}

	if err := t.usbDevice.SetAutoDetach(true); err != nil {
		logger.Debug("auto detach not supported: ", err)
	}

	if config.ResetDevice {
		if err := t.usbDevice.Reset(); err != nil {
			return wrapDapError(ErrorTransportFailure, err, "could not reset usb device")
		}
	}

	cfgNum, err := t.usbDevice.ActiveConfigNum()

	if err != nil {
		return wrapDapError(ErrorTransportFailure, err, "could not read active usb configuration")
	}

	t.usbConfig, err = t.usbDevice.Config(cfgNum)

	if err != nil {
		return wrapDapError(ErrorTransportFailure, err, "could not request configuration #%d", cfgNum)
	}

	intfNum, altNum, inNum, outNum, maxPacket, found := findBulkInterface(t.usbDevice.Desc.Configs[cfgNum])

	if !found {
		return newDapError(ErrorTransportFailure, "probe has no vendor specific bulk interface (cmsis-dap v1 probes need the hid transport)")
	}

	t.usbInterface, err = t.usbConfig.Interface(intfNum, altNum)

	if err != nil {
		return wrapDapError(ErrorTransportFailure, err, "could not claim interface %d,%d", intfNum, altNum)
	}

	if t.rxEndpoint, err = t.usbInterface.InEndpoint(inNum); err != nil {
		return wrapDapError(ErrorTransportFailure, err, "could not open in endpoint %d", inNum)
	}

	if t.txEndpoint, err = t.usbInterface.OutEndpoint(outNum); err != nil {
		return wrapDapError(ErrorTransportFailure, err, "could not open out endpoint %d", outNum)
	}

	t.packetSize = maxPacket

	logger.Infof("opened cmsis-dap probe [%04x:%04x] interface %d (ep in %d, out %d, %d bytes)",
		uint16(t.usbDevice.Desc.Vendor), uint16(t.usbDevice.Desc.Product), intfNum, inNum, outNum, maxPacket)

	return nil
}

// picks the first vendor specific interface with bulk in and out endpoints
func findBulkInterface(desc gousb.ConfigDesc) (intf, alt, in, out, maxPacket int, found bool) {
	for _, intfDesc := range desc.Interfaces {
		for _, setting := range intfDesc.AltSettings {
			if setting.Class != gousb.ClassVendorSpec {
				continue
			}

			in, out = -1, -1

			for _, ep := range setting.Endpoints {
				if ep.TransferType != gousb.TransferTypeBulk {
					continue
				}

				if ep.Direction == gousb.EndpointDirectionIn && in < 0 {
					in = ep.Number
					maxPacket = ep.MaxPacketSize
				} else if ep.Direction == gousb.EndpointDirectionOut && out < 0 {
					out = ep.Number
				}
			}

			if in >= 0 && out >= 0 {
				return setting.Number, setting.Alternate, in, out, maxPacket, true
			}
		}
	}

	return 0, 0, 0, 0, 0, false
}

func (t *UsbTransport) PacketSize() int {
	if t.packetSize == 0 {
		return defaultPacketSize
	}

	return t.packetSize
}

func (t *UsbTransport) Write(packet []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()

	return usbWrite(ctx, t.txEndpoint, packet)
}

func (t *UsbTransport) Read(packet []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.readTimeout)
	defer cancel()

	return usbRead(ctx, t.rxEndpoint, packet)
}

func (t *UsbTransport) Close() error {
	if t.usbInterface != nil {
		t.usbInterface.Close()
		t.usbInterface = nil
	}

	var err error

	if t.usbConfig != nil {
		err = t.usbConfig.Close()
		t.usbConfig = nil
	}

	if t.usbDevice != nil {
		if e := t.usbDevice.Close(); e != nil && err == nil {
			err = e
		}
		t.usbDevice = nil
	}

	if t.usbCtx != nil {
		if e := t.usbCtx.Close(); e != nil && err == nil {
			err = e
		}
		t.usbCtx = nil
	}

	return err
}

func usbFindDevices(usbCtx *gousb.Context, vids []gousb.ID, pid gousb.ID) ([]*gousb.Device, error) {
	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if idExists(vids, desc.Vendor) && (pid == AllProductIds || pid == desc.Product) {
			logger.Infof("found usb device [%04x:%04x] on bus %03d:%03d", uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)

			return true
		} else {
			return false
		}
	})

	if err == nil {
		logger.Debugf("found %d matching devices based on vendor and product id list", len(devices))
		return devices, nil
	} else {
		for _, dev := range devices {
			dev.Close()
		}

		logger.Error("got error during usb device scan: ", err)
		return nil, err
	}
}

func usbWrite(ctx context.Context, endpoint *gousb.OutEndpoint, buffer []byte) (int, error) {
	bWritten, err := endpoint.WriteContext(ctx, buffer)

	if err != nil {
		return -1, wrapDapError(ErrorTransportFailure, err, "usb write failed")
	} else {
		logger.Tracef("wrote %d bytes to endpoint", bWritten)
		return bWritten, nil
	}
}

func usbRead(ctx context.Context, endpoint *gousb.InEndpoint, buffer []byte) (int, error) {
	bRead, err := endpoint.ReadContext(ctx, buffer)

	if err != nil {
		return -1, wrapDapError(ErrorTransportFailure, err, "usb read failed")
	} else {
		logger.Tracef("read %d bytes from in endpoint", bRead)
		return bRead, nil
	}
}
