// Copyright 2025 The Linmo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ring0

import (
	"fmt"

	"linmo.dev/linmo/pkg/csr"
)

// Reg is an integer register number.
type Reg uint8

// Integer registers by ABI name.
const (
	Zero Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6

	NumRegs
)

var regNames = [NumRegs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func (r Reg) String() string {
	if r < NumRegs {
		return regNames[r]
	}
	return fmt.Sprintf("x%d", uint8(r))
}

// Frame geometry. The general registers are x1 and x3 through x31 in order,
// followed by mcause, mepc, mstatus and the interrupted sp.
const (
	// NumFrameGPRs is the number of general registers saved in a frame.
	NumFrameGPRs = 30

	// FrameWords is the number of words in a frame.
	FrameWords = NumFrameGPRs + 4

	// FrameSize is the size of a frame in bytes.
	FrameSize = FrameWords * 4

	causeWord  = NumFrameGPRs
	epcWord    = NumFrameGPRs + 1
	statusWord = NumFrameGPRs + 2
	spWord     = NumFrameGPRs + 3
)

// TrapFrame is the context saved on every trap. Its layout is the same
// whichever mode trapped.
type TrapFrame struct {
	GPR    [NumFrameGPRs]uint32
	Cause  uint32
	EPC    uint32
	Status uint32
	SP     uint32
}

// gprSlot returns the index of r in TrapFrame.GPR.
//
// Precondition: r is neither Zero nor SP.
func gprSlot(r Reg) int {
	if r == RA {
		return 0
	}
	return int(r) - 2
}

// Reg returns the saved value of r.
func (f *TrapFrame) Reg(r Reg) uint32 {
	switch r {
	case Zero:
		return 0
	case SP:
		return f.SP
	default:
		return f.GPR[gprSlot(r)]
	}
}

// SetReg sets the saved value of r. Setting Zero has no effect.
func (f *TrapFrame) SetReg(r Reg, v uint32) {
	switch r {
	case Zero:
	case SP:
		f.SP = v
	default:
		f.GPR[gprSlot(r)] = v
	}
}

// PrevPriv returns the privilege encoded in the saved status.
func (f *TrapFrame) PrevPriv() csr.Priv {
	return csr.MPP(f.Status)
}

// PrevMode returns the mode that trapped, or will be resumed. ok is false if
// the saved status names a mode this kernel does not run.
func (f *TrapFrame) PrevMode() (m Mode, ok bool) {
	return modeOf(f.PrevPriv())
}

// TrapCause returns the saved cause.
func (f *TrapFrame) TrapCause() Cause {
	return Cause(f.Cause)
}

func (f *TrapFrame) words() [FrameWords]uint32 {
	var w [FrameWords]uint32
	copy(w[:], f.GPR[:])
	w[causeWord] = f.Cause
	w[epcWord] = f.EPC
	w[statusWord] = f.Status
	w[spWord] = f.SP
	return w
}

// Store writes f to memory at addr.
func (f *TrapFrame) Store(m Memory, addr uint32) error {
	for i, v := range f.words() {
		if err := m.Store(addr+uint32(i*4), v); err != nil {
			return err
		}
	}
	return nil
}

// LoadFrame reads the frame at addr.
func LoadFrame(m Memory, addr uint32) (TrapFrame, error) {
	var w [FrameWords]uint32
	for i := range w {
		v, err := m.Load(addr + uint32(i*4))
		if err != nil {
			return TrapFrame{}, err
		}
		w[i] = v
	}
	f := TrapFrame{
		Cause:  w[causeWord],
		EPC:    w[epcWord],
		Status: w[statusWord],
		SP:     w[spWord],
	}
	copy(f.GPR[:], w[:NumFrameGPRs])
	return f, nil
}

// InitialFrame returns the frame that starts a task at entry with stack
// pointer sp in mode m. Interrupts are enabled once it is resumed.
func InitialFrame(entry, sp uint32, m Mode) TrapFrame {
	f := TrapFrame{
		EPC:    entry,
		Status: csr.WithMPP(csr.MstatusMPIE, m.Priv()),
		SP:     sp,
	}
	f.SetReg(RA, entry)
	return f
}
