// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bbnote/gocmsisdap"
	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

const (
	pollInterval  = 50 * time.Millisecond
	transferRetry = 3
)

var (
	exitProgram chan bool
	flagChannel *int
	fileHandle  *os.File

	logger *logrus.Logger
)

func rttDataHandler(channel int, data []byte) error {
	if channel != *flagChannel {
		return nil
	}

	if fileHandle != nil {
		_, err := fileHandle.Write(data)
		return err
	}

	fmt.Printf("%s", data)

	return nil
}

func setUpSignalHandler() {
	signals := make(chan os.Signal, 1)
	exitProgram = make(chan bool, 1)

	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		exitProgram <- true
	}()
}

func initLogger() {
	formatter := &prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	logger = logrus.New()

	logger.SetFormatter(formatter)
	logger.SetOutput(os.Stderr)
}

// parses "<addr> <size>[, <addr> <size>...]"
func parseSearchRanges(arg string) []gocmsisdap.RamRange {
	var ranges []gocmsisdap.RamRange

	for _, r := range strings.Split(arg, ",") {
		var rttStart uint64 = math.MaxUint64
		var rttRange uint64 = math.MaxUint64

		fmt.Sscanf(strings.TrimSpace(r), "%v %v", &rttStart, &rttRange)

		if rttStart <= math.MaxUint32 && rttRange <= math.MaxUint32 {
			logger.Debugf("adding search range [0x%x, 0x%x]", rttStart, rttRange)
			ranges = append(ranges, gocmsisdap.RamRange{Start: uint32(rttStart), Size: uint32(rttRange)})
		} else {
			logger.Warnf("discarding invalid search range '%s'...", r)
		}
	}

	return ranges
}

func main() {
	initLogger()
	gocmsisdap.SetLogger(logger)

	flagLogLevel := flag.IntP("log-level", "l", int(logrus.InfoLevel), "Logging verbosity [0 - 6]")
	flagVid := flag.Uint16("vid", uint16(gocmsisdap.AllVendorIds), "USB vendor id of the probe")
	flagPid := flag.Uint16("pid", uint16(gocmsisdap.AllProductIds), "USB product id of the probe")
	flagSerial := flag.StringP("serial", "s", "", "Serial number of the probe")
	flagHid := flag.Bool("hid", false, "Use the CMSIS-DAP v1 HID interface")
	flagSpeed := flag.Uint32("speed", 4000, "Interface speed to target device in kHz")
	flagChannel = flag.IntP("channel", "c", 0, "RTT channel to interface with")
	flagRamSizeKb := flag.Uint32("ram-size", 16, "Size of the target RAM searched for RTT in kB")
	flagRTTAddress := flag.Uint32("rtt-address", 0, "Address of the RTT control block")
	flagRTTSearchRanges := flag.String("rtt-search-ranges", "", "RTTSearchRanges <RangeAddr> <RangeSize> [, <RangeAddr1> <RangeSize1>, ..]")

	flag.Parse()

	logger.SetLevel(logrus.Level(*flagLogLevel))

	if len(flag.Args()) == 1 {
		file, err := os.OpenFile(flag.Args()[0], os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)

		if err != nil {
			logger.Fatal(err)
		}

		fileHandle = file

		defer fileHandle.Close()
	}

	var ranges []gocmsisdap.RamRange

	if *flagRTTAddress != 0 {
		ranges = []gocmsisdap.RamRange{{Start: *flagRTTAddress, Size: 24}}
	} else if *flagRTTSearchRanges != "" {
		ranges = parseSearchRanges(*flagRTTSearchRanges)
	} else {
		ranges = []gocmsisdap.RamRange{{Start: gocmsisdap.DefaultRamStart, Size: *flagRamSizeKb * 1024}}
	}

	if len(ranges) == 0 {
		logger.Error("no valid rtt search range given")
		os.Exit(-1)
	}

	backend := gocmsisdap.BackendBulk
	if *flagHid {
		backend = gocmsisdap.BackendHid
	}

	config := gocmsisdap.NewDapConfig(gousb.ID(*flagVid), gousb.ID(*flagPid), *flagSerial, backend, *flagSpeed)
	config.TrustCapabilities = true

	dap, err := gocmsisdap.NewCmsisDap(config)

	if err != nil {
		logger.Fatal("error while scanning for cmsis-dap probes on your computer: ", err)
	}

	setUpSignalHandler()

	err = setUpTarget(dap)

	if err == nil {
		err = dap.InitializeRtt(ranges)
	}

	if err != nil {
		logger.Error("error during initialization of RTT: ", err)

		dap.Close()
		os.Exit(-1)
	}

	for exitLoop := false; !exitLoop; {
		err := dap.RetryTransfer(transferRetry, func() error {
			return dap.UpdateRttChannels(false)
		})

		if err == nil {
			err = dap.ReadRttChannels(rttDataHandler)
		}

		if err != nil {
			logger.Error(err)
		}

		select {
		case <-exitProgram:
			exitLoop = true
		case <-time.After(pollInterval):
		}
	}

	dap.Close()
}

func setUpTarget(dap *gocmsisdap.CmsisDap) error {
	if err := dap.SelectTransport(gocmsisdap.TransportModeSWD); err != nil {
		return err
	}

	code, err := dap.ReadIdCode()

	if err != nil {
		return err
	}

	logger.Infof("got id code: %08x", code)

	if err := dap.PowerUpDebug(); err != nil {
		return err
	}

	ap, err := dap.FindAP(gocmsisdap.MemAPOnAHB)

	if err != nil {
		return err
	}

	dap.SelectAP(ap)

	return nil
}
