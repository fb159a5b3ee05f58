// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gocmsisdap

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJTAGDap(t *testing.T, m *mockProbe) *CmsisDap {
	t.Helper()

	dap := newTestDap(t, m)
	require.NoError(t, dap.SelectTransport(TransportModeJTAG))

	m.reset()

	return dap
}

func randomSequences(r *rand.Rand, n int, maxCycles int) []JtagSequence {
	seqs := make([]JtagSequence, n)

	for i := range seqs {
		cycles := 1 + r.Intn(maxCycles)
		tdi := make([]byte, (cycles+7)/8)
		r.Read(tdi)

		seqs[i] = JtagSequence{
			Cycles:  cycles,
			TMS:     r.Intn(2) == 1,
			Capture: r.Intn(2) == 1,
			TDI:     tdi,
		}
	}

	return seqs
}

// with TDI looped back the captured data is the TDI of all capturing
// sequences
func loopbackTDO(seqs []JtagSequence) []byte {
	tdo := []byte{}

	for _, s := range seqs {
		if s.Capture {
			tdo = append(tdo, s.TDI[:s.byteCount()]...)
		}
	}

	return tdo
}

func TestJtagSequencesRoundTrip(t *testing.T) {
	for _, packetSize := range []int{8, 16, 64} {
		for _, n := range []int{1, 2, 255, 256} {
			t.Run(fmt.Sprintf("ps%d/n%d", packetSize, n), func(t *testing.T) {
				r := rand.New(rand.NewSource(int64(packetSize*1000 + n)))
				seqs := randomSequences(r, n, 24)

				m := newMockProbe()
				m.packetSize = packetSize
				dap := newJTAGDap(t, m)

				tdo, err := dap.JtagSequences(seqs)
				require.NoError(t, err)

				if diff := cmp.Diff(loopbackTDO(seqs), tdo); diff != "" {
					t.Errorf("tdo mismatch (-want +got):\n%s", diff)
				}

				assert.Zero(t, m.oversized)
				assert.LessOrEqual(t, m.maxPending, m.packetCount)
				assert.Zero(t, m.outstanding)

				// the same sequences through one large packet size give the
				// same result
				big := newMockProbe()
				big.packetSize = 4096
				bigDap := newJTAGDap(t, big)

				bigTdo, err := bigDap.JtagSequences(seqs)
				require.NoError(t, err)
				assert.Equal(t, bigTdo, tdo)
			})
		}
	}
}

func TestJtagSequencesPacketLimits(t *testing.T) {
	seqs := make([]JtagSequence, 256)
	for i := range seqs {
		seqs[i] = JtagSequence{Cycles: 1, Capture: true, TDI: []byte{byte(i & 1)}}
	}

	m := newMockProbe()
	m.packetSize = 1024
	dap := newJTAGDap(t, m)

	tdo, err := dap.JtagSequences(seqs)
	require.NoError(t, err)

	sent := m.packets(cmdJtagSequence)
	require.Len(t, sent, 2)
	assert.Equal(t, byte(255), sent[0][1])
	assert.Equal(t, byte(1), sent[1][1])
	assert.Equal(t, loopbackTDO(seqs), tdo)
}

func TestJtagSequencesPacking(t *testing.T) {
	// 24 cycles need 1 info and 3 data bytes, three fit a 16 byte packet
	seqs := make([]JtagSequence, 7)
	for i := range seqs {
		seqs[i] = JtagSequence{Cycles: 24, TDI: []byte{1, 2, 3}}
	}

	packets, total, err := packJtagSequences(seqs, 16)
	require.NoError(t, err)

	assert.Zero(t, total)
	require.Len(t, packets, 3)
	assert.Len(t, packets[0].data, 14)
	assert.Equal(t, byte(3), packets[0].data[1])
	assert.Equal(t, byte(1), packets[2].data[1])

	// 64 cycles are encoded as zero
	packets, _, err = packJtagSequences([]JtagSequence{{Cycles: 64, TMS: true, Capture: true, TDI: make([]byte, 8)}}, 64)
	require.NoError(t, err)
	assert.Equal(t, byte(0xC0), packets[0].data[2])
}

func TestJtagSequencesTooLarge(t *testing.T) {
	m := newMockProbe()
	m.packetSize = 8
	dap := newJTAGDap(t, m)

	_, err := dap.JtagSequences([]JtagSequence{{Cycles: 64, TDI: make([]byte, 8)}})

	assert.ErrorIs(t, err, ErrSequenceTooLarge)
	assert.Empty(t, m.sent)

	_, err = dap.JtagSequences([]JtagSequence{{Cycles: 0}})
	assert.ErrorIs(t, err, ErrSequenceTooLarge)

	_, err = dap.JtagSequences([]JtagSequence{{Cycles: 16, TDI: []byte{1}}})
	assert.ErrorIs(t, err, ErrSequenceTooLarge)
	assert.Empty(t, m.sent)
}

func TestJtagSequencesEmpty(t *testing.T) {
	m := newMockProbe()
	dap := newJTAGDap(t, m)

	tdo, err := dap.JtagSequences(nil)

	require.NoError(t, err)
	assert.Equal(t, []byte{}, tdo)
	assert.Empty(t, m.sent)
}

func TestJtagSequencesNeedJtagMode(t *testing.T) {
	m := newMockProbe()
	dap := newSWDDap(t, m)

	_, err := dap.JtagSequences([]JtagSequence{{Cycles: 8, TDI: []byte{0}}})

	assert.ErrorIs(t, err, ErrWrongMode)
	assert.Empty(t, m.sent)
}

func TestJtagSequencesFailureDrainsPipeline(t *testing.T) {
	seqs := make([]JtagSequence, 42)
	for i := range seqs {
		seqs[i] = JtagSequence{Cycles: 24, Capture: true, TDI: []byte{1, 2, 3}}
	}

	m := newMockProbe()
	m.packetSize = 16
	m.packetCount = 4
	m.jtagFailAt = 2
	dap := newJTAGDap(t, m)

	_, err := dap.JtagSequences(seqs)

	assert.ErrorIs(t, err, ErrCommandFailed)

	// packets 1-4 fill the window, reading 1 releases 5, reading 2 fails
	// and 3-5 are drained
	assert.Equal(t, 5, m.count(cmdJtagSequence))
	assert.Zero(t, m.outstanding)
	assert.Empty(t, m.responses)

	// the session stays usable
	m.jtagFailAt = 0

	tdo, err := dap.JtagSequences(seqs[:2])
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 1, 2, 3}, tdo)
}

func TestPipelineKeepsWindowFull(t *testing.T) {
	seqs := make([]JtagSequence, 30)
	for i := range seqs {
		seqs[i] = JtagSequence{Cycles: 24, TDI: []byte{1, 2, 3}}
	}

	m := newMockProbe()
	m.packetSize = 16
	m.packetCount = 3
	dap := newJTAGDap(t, m)

	_, err := dap.JtagSequences(seqs)
	require.NoError(t, err)

	assert.Equal(t, 10, m.count(cmdJtagSequence))
	assert.Equal(t, 3, m.maxPending)
}
