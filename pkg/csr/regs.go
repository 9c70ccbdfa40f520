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

package csr

import "linmo.dev/linmo/pkg/bits"

// Regs provides typed access to the registers of a Bank.
type Regs struct {
	Bank
}

// Status returns mstatus.
func (r Regs) Status() uint32 { return r.ReadCSR(Mstatus) }

// SetStatus writes mstatus.
func (r Regs) SetStatus(v uint32) { r.WriteCSR(Mstatus, v) }

// Cause returns mcause.
func (r Regs) Cause() uint32 { return r.ReadCSR(Mcause) }

// SetCause writes mcause.
func (r Regs) SetCause(v uint32) { r.WriteCSR(Mcause, v) }

// EPC returns mepc.
func (r Regs) EPC() uint32 { return r.ReadCSR(Mepc) }

// SetEPC writes mepc.
func (r Regs) SetEPC(v uint32) { r.WriteCSR(Mepc, v) }

// Scratch returns mscratch.
func (r Regs) Scratch() uint32 { return r.ReadCSR(Mscratch) }

// SetScratch writes mscratch.
func (r Regs) SetScratch(v uint32) { r.WriteCSR(Mscratch, v) }

// Tval returns mtval.
func (r Regs) Tval() uint32 { return r.ReadCSR(Mtval) }

// PMPCfg returns the configuration byte of slot.
func (r Regs) PMPCfg(slot int) uint8 {
	reg, i := PMPCfgFor(slot)
	return bits.Byte32(r.ReadCSR(reg), i)
}

// SetPMPCfg replaces the configuration byte of slot. The packed register is
// read first so that sibling slots are preserved.
func (r Regs) SetPMPCfg(slot int, cfg uint8) {
	reg, i := PMPCfgFor(slot)
	r.WriteCSR(reg, bits.SetByte32(r.ReadCSR(reg), i, cfg))
}

// PMPAddr returns the raw pmpaddr register of slot.
func (r Regs) PMPAddr(slot int) uint32 {
	return r.ReadCSR(PMPAddrFor(slot))
}

// SetPMPAddr writes the raw pmpaddr register of slot.
func (r Regs) SetPMPAddr(slot int, v uint32) {
	r.WriteCSR(PMPAddrFor(slot), v)
}
