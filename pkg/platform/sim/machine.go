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

// Package sim provides a simulated RV32 hart with machine and user modes,
// the machine-mode CSRs, PMP enforcement in top-of-range mode and a sparse
// word-addressed memory.
//
// It implements the platform boundary expected by package ring0 and is used
// both by tests and by the pmpsim tool.
package sim

import (
	"fmt"

	"linmo.dev/linmo/pkg/bits"
	"linmo.dev/linmo/pkg/csr"
)

// NumGPRs is the number of integer registers, including x0.
const NumGPRs = 32

// sp is the ABI stack pointer register.
const sp = 2

// Range is a mapped range of physical memory.
type Range struct {
	Base uint32
	Size uint32
}

func (r Range) contains(addr uint32) bool {
	return addr >= r.Base && uint64(addr)+4 <= uint64(r.Base)+uint64(r.Size)
}

// MemoryError is returned for accesses outside mapped memory or not word
// aligned.
type MemoryError struct {
	Addr  uint32
	Write bool
}

// Error implements error.Error.
func (e *MemoryError) Error() string {
	op := "load"
	if e.Write {
		op = "store"
	}
	return fmt.Sprintf("%s fault at %#x", op, e.Addr)
}

// Machine is a single simulated hart.
type Machine struct {
	regs [NumGPRs]uint32
	pc   uint32
	mode csr.Priv
	csrs csr.File

	ranges []Range
	mem    map[uint32]uint32

	halted     bool
	haltReason string
}

// New returns a hart in machine mode at reset, with the given RAM ranges
// mapped.
func New(ranges ...Range) *Machine {
	m := &Machine{ranges: ranges}
	m.Reset()
	return m
}

// Reset puts the hart in its reset state: machine mode, every register and
// CSR zero, every PMP lock cleared. Memory contents are discarded.
func (m *Machine) Reset() {
	m.regs = [NumGPRs]uint32{}
	m.pc = 0
	m.mode = csr.PrivMachine
	m.csrs.Reset()
	m.mem = make(map[uint32]uint32)
	m.halted = false
	m.haltReason = ""
}

// GPR returns register x[i]. x0 always reads as zero.
func (m *Machine) GPR(i int) uint32 {
	if i == 0 {
		return 0
	}
	return m.regs[i]
}

// SetGPR sets register x[i]. Writes to x0 are discarded.
func (m *Machine) SetGPR(i int, v uint32) {
	if i == 0 {
		return
	}
	m.regs[i] = v
}

// PC returns the program counter.
func (m *Machine) PC() uint32 { return m.pc }

// SetPC sets the program counter.
func (m *Machine) SetPC(v uint32) { m.pc = v }

// Mode returns the current privilege level.
func (m *Machine) Mode() csr.Priv { return m.mode }

// Halted returns whether the hart has been halted, and why.
func (m *Machine) Halted() (bool, string) {
	return m.halted, m.haltReason
}

// Halt stops the hart. Only the first reason is kept.
func (m *Machine) Halt(reason string) {
	if m.halted {
		return
	}
	m.halted = true
	m.haltReason = reason
}

// Load reads the word at addr.
func (m *Machine) Load(addr uint32) (uint32, error) {
	if !m.mapped(addr) {
		return 0, &MemoryError{Addr: addr}
	}
	return m.mem[addr], nil
}

// Store writes the word at addr.
func (m *Machine) Store(addr, v uint32) error {
	if !m.mapped(addr) {
		return &MemoryError{Addr: addr, Write: true}
	}
	m.mem[addr] = v
	return nil
}

func (m *Machine) mapped(addr uint32) bool {
	if addr%4 != 0 {
		return false
	}
	for _, r := range m.ranges {
		if r.contains(addr) {
			return true
		}
	}
	return false
}

// ReadCSR implements csr.Bank.ReadCSR.
func (m *Machine) ReadCSR(n csr.Num) uint32 {
	return m.csrs.ReadCSR(n)
}

// WriteCSR implements csr.Bank.WriteCSR. Locked PMP configuration bytes and
// the address registers of locked slots ignore writes.
func (m *Machine) WriteCSR(n csr.Num, v uint32) {
	switch {
	case n >= csr.PMPCfg0 && n <= csr.PMPCfg3:
		old := m.csrs.ReadCSR(n)
		for i := uint(0); i < csr.PMPSlotsPerCfg; i++ {
			if b := bits.Byte32(old, i); b&csr.PMPCfgL != 0 {
				v = bits.SetByte32(v, i, b)
			}
		}
	case n >= csr.PMPAddr0 && n <= csr.PMPAddr15:
		if m.locked(int(n - csr.PMPAddr0)) {
			return
		}
	}
	m.csrs.WriteCSR(n, v)
}

func (m *Machine) locked(slot int) bool {
	return csr.Regs{Bank: &m.csrs}.PMPCfg(slot)&csr.PMPCfgL != 0
}

// SwapScratch exchanges sp and mscratch, as csrrw sp, mscratch, sp does.
func (m *Machine) SwapScratch() {
	old := m.csrs.ReadCSR(csr.Mscratch)
	m.csrs.WriteCSR(csr.Mscratch, m.regs[sp])
	m.regs[sp] = old
}

// Trap takes a trap with the given mcause and mtval: the interrupted pc goes
// to mepc, interrupts are disabled with the old enable saved in MPIE, the
// interrupted privilege goes to MPP and the hart enters machine mode at
// mtvec.
func (m *Machine) Trap(cause, tval uint32) {
	status := m.csrs.ReadCSR(csr.Mstatus)
	if status&csr.MstatusMIE != 0 {
		status |= csr.MstatusMPIE
	} else {
		status &^= csr.MstatusMPIE
	}
	status &^= csr.MstatusMIE
	status = csr.WithMPP(status, m.mode)

	m.csrs.WriteCSR(csr.Mstatus, status)
	m.csrs.WriteCSR(csr.Mepc, m.pc)
	m.csrs.WriteCSR(csr.Mcause, cause)
	m.csrs.WriteCSR(csr.Mtval, tval)
	m.mode = csr.PrivMachine
	m.pc = m.csrs.ReadCSR(csr.Mtvec) &^ 3
}

// Mret returns from a machine-mode trap handler: privilege comes from MPP,
// MIE from MPIE, and execution resumes at mepc. MPP is left at user.
func (m *Machine) Mret() {
	status := m.csrs.ReadCSR(csr.Mstatus)
	m.mode = csr.MPP(status)
	if status&csr.MstatusMPIE != 0 {
		status |= csr.MstatusMIE
	} else {
		status &^= csr.MstatusMIE
	}
	status |= csr.MstatusMPIE
	status = csr.WithMPP(status, csr.PrivUser)
	m.csrs.WriteCSR(csr.Mstatus, status)
	m.pc = m.csrs.ReadCSR(csr.Mepc)
}
