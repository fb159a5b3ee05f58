// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import "github.com/google/gousb"

func idExists(slice []gousb.ID, item gousb.ID) bool {
	for _, element := range slice {
		if element == item {
			return true
		}
	}

	return false
}

func getBits(value uint32, first uint, num uint) uint32 {
	return (value >> first) & (uint32(1)<<num - 1)
}

func setBits(value uint32, first uint, num uint, field uint32) uint32 {
	mask := (uint32(1)<<num - 1) << first

	return (value &^ mask) | ((field << first) & mask)
}

func setFlag(value uint32, bit uint, on bool) uint32 {
	return setBits(value, bit, 1, uint32(boolToByte(on)))
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}

	return 0
}
