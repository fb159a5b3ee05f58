// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"strings"

	"github.com/bbnote/gocmsisdap"
	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

const (
	romTableEntries   = 960 // 0x000..0xEFC
	romEntryPresent   = 0x1
	romEntryAddrMask  = 0xFFFFF000
	componentBaseMask = 0xFFFFF000
)

var logger *logrus.Logger

func initLogger(level int) {
	formatter := &prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	logger = logrus.New()

	logger.SetFormatter(formatter)
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.Level(level))
}

// walks a ROM table and prints every component, nested tables up to depth
func walkRomTable(dap *gocmsisdap.CmsisDap, base uint32, depth int) {
	indent := strings.Repeat("  ", depth)

	cid, pid, err := dap.ReadComponentID(base)

	if err != nil {
		logger.Errorf("%scould not read component id at 0x%08x: %v", indent, base, err)
		return
	}

	class := gocmsisdap.ComponentClass(cid)

	logger.Infof("%scomponent 0x%08x: cid 0x%08x pid 0x%016x class 0x%x", indent, base, cid, pid, class)

	if class != gocmsisdap.ComponentClassROMTable || depth > 3 {
		return
	}

	entries, err := dap.ReadMemBlock(base, gocmsisdap.AddrIncSingle, gocmsisdap.CSWSize32, romTableEntries)

	if err != nil {
		logger.Errorf("%scould not read rom table at 0x%08x: %v", indent, base, err)
		return
	}

	for _, entry := range entries {
		if entry == 0 {
			break
		}

		if entry&romEntryPresent == 0 {
			continue
		}

		// the offset is a signed value relative to the table base
		child := uint32(int64(base) + int64(int32(entry&romEntryAddrMask)))

		walkRomTable(dap, child&componentBaseMask, depth+1)
	}
}

func main() {
	flagLogLevel := flag.IntP("log-level", "l", int(logrus.InfoLevel), "Logging verbosity [0 - 6]")
	flagVid := flag.Uint16("vid", uint16(gocmsisdap.AllVendorIds), "USB vendor id of the probe")
	flagPid := flag.Uint16("pid", uint16(gocmsisdap.AllProductIds), "USB product id of the probe")
	flagSerial := flag.StringP("serial", "s", "", "Serial number of the probe")
	flagHid := flag.Bool("hid", false, "Use the CMSIS-DAP v1 HID interface")
	flagSpeed := flag.Uint32("speed", 1000, "Interface clock in kHz")
	flagTransport := flag.StringP("transport", "t", "swd", "Wire protocol [swd, jtag]")
	flagTrustCaps := flag.Bool("trust-caps", true, "Use advertised capabilities of unknown firmware versions")

	flag.Parse()

	initLogger(*flagLogLevel)
	gocmsisdap.SetLogger(logger)

	logger.Info("Starting cmsis-dap test-software...")

	backend := gocmsisdap.BackendBulk
	if *flagHid {
		backend = gocmsisdap.BackendHid
	}

	config := gocmsisdap.NewDapConfig(gousb.ID(*flagVid), gousb.ID(*flagPid), *flagSerial, backend, *flagSpeed)
	config.TrustCapabilities = *flagTrustCaps

	dap, err := gocmsisdap.NewCmsisDap(config)

	if err != nil {
		logger.Fatal("could not open cmsis-dap probe: ", err)
	}

	defer dap.Close()

	info, err := dap.ProbeInfo()

	if err == nil {
		logger.Infof("probe: %s %s (serial %s, firmware %s)", info.Vendor, info.Product, info.SerialNumber, info.Firmware)
	}

	mode := gocmsisdap.TransportModeSWD
	if strings.EqualFold(*flagTransport, "jtag") {
		mode = gocmsisdap.TransportModeJTAG
	}

	if err := dap.SelectTransport(mode); err != nil {
		logger.Fatal("could not select transport: ", err)
	}

	dap.HostStatus(gocmsisdap.HostStatusConnected, true)
	defer dap.HostStatus(gocmsisdap.HostStatusConnected, false)

	code, err := dap.ReadIdCode()

	if err != nil {
		logger.Fatal("could not read id code: ", err)
	}

	logger.Infof("got id code: %08x (%s)", code, gocmsisdap.ParseDPIDR(code))

	if err := dap.ClearStickyErrors(); err != nil {
		logger.Warn("could not clear sticky errors: ", err)
	}

	if err := dap.PowerUpDebug(); err != nil {
		logger.Fatal("debug power up failed: ", err)
	}

	ports, err := dap.ScanAPs()

	if err != nil {
		logger.Error("access port scan stopped: ", err)
		dap.ClearStickyErrors()
	}

	for _, port := range ports {
		logger.Info(port)

		if !port.IDR.IsMemAP() || port.Base == 0xFFFFFFFF {
			continue
		}

		dap.SelectAP(port.Index)

		csw, err := dap.ReadCSW()

		if err == nil {
			logger.Infof("  csw size %d, increment %d, device enabled %t", csw.Size.Bytes()*8, csw.AddrInc, csw.DeviceEn)
		}

		walkRomTable(dap, port.Base&componentBaseMask, 1)
	}

	ahb, err := dap.FindAP(gocmsisdap.MemAPOnAHB)

	if err != nil {
		logger.Warn(err)
		return
	}

	dap.SelectAP(ahb)

	cpuid, err := dap.ReadCPUID()

	if err != nil {
		logger.Error("could not read cpuid: ", err)
		return
	}

	logger.Infof("target core: %s", cpuid.Name())
}
