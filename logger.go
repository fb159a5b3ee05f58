// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

const MaxLogLevel = logrus.TraceLevel

func init() {
	logger = logrus.New()
}

// SetLogger replaces the logger used by the driver, wire traffic is logged
// at trace level.
func SetLogger(loggerInstance *logrus.Logger) {

	logger = loggerInstance
}

func tracePacket(direction string, data []byte) {
	if logger.IsLevelEnabled(logrus.TraceLevel) {
		logger.WithField("len", len(data)).Tracef("%s %s", direction, hex.EncodeToString(data))
	}
}
