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

// Package csr defines the RV32 machine-mode control and status registers used
// by the kernel, their bit fields, and typed accessors over a register bank.
//
// Nothing in this package holds state; a Bank is the only thing that does.
package csr

import "fmt"

// Num is a CSR number as encoded in the csrr/csrw instructions.
type Num uint16

// Machine trap setup and handling.
const (
	Mstatus  Num = 0x300
	Misa     Num = 0x301
	Mie      Num = 0x304
	Mtvec    Num = 0x305
	Mscratch Num = 0x340
	Mepc     Num = 0x341
	Mcause   Num = 0x342
	Mtval    Num = 0x343
	Mip      Num = 0x344
)

// Physical memory protection.
const (
	PMPCfg0 Num = 0x3a0
	PMPCfg1 Num = 0x3a1
	PMPCfg2 Num = 0x3a2
	PMPCfg3 Num = 0x3a3

	PMPAddr0  Num = 0x3b0
	PMPAddr1  Num = 0x3b1
	PMPAddr2  Num = 0x3b2
	PMPAddr3  Num = 0x3b3
	PMPAddr4  Num = 0x3b4
	PMPAddr5  Num = 0x3b5
	PMPAddr6  Num = 0x3b6
	PMPAddr7  Num = 0x3b7
	PMPAddr8  Num = 0x3b8
	PMPAddr9  Num = 0x3b9
	PMPAddr10 Num = 0x3ba
	PMPAddr11 Num = 0x3bb
	PMPAddr12 Num = 0x3bc
	PMPAddr13 Num = 0x3bd
	PMPAddr14 Num = 0x3be
	PMPAddr15 Num = 0x3bf
)

var names = map[Num]string{
	Mstatus:  "mstatus",
	Misa:     "misa",
	Mie:      "mie",
	Mtvec:    "mtvec",
	Mscratch: "mscratch",
	Mepc:     "mepc",
	Mcause:   "mcause",
	Mtval:    "mtval",
	Mip:      "mip",
}

// String implements fmt.Stringer.
func (n Num) String() string {
	if s, ok := names[n]; ok {
		return s
	}
	switch {
	case n >= PMPCfg0 && n <= PMPCfg3:
		return fmt.Sprintf("pmpcfg%d", n-PMPCfg0)
	case n >= PMPAddr0 && n <= PMPAddr15:
		return fmt.Sprintf("pmpaddr%d", n-PMPAddr0)
	}
	return fmt.Sprintf("csr(%#x)", uint16(n))
}

// Bank is a set of CSRs. The real implementation is a hart; tests use File.
//
// Writes to read-only or locked fields follow WARL rules of the
// implementation and are not reported.
type Bank interface {
	ReadCSR(n Num) uint32
	WriteCSR(n Num, v uint32)
}

// File is a plain register file implementing Bank. The zero value is a bank
// with every register reading as zero.
type File struct {
	regs map[Num]uint32
}

// ReadCSR implements Bank.ReadCSR.
func (f *File) ReadCSR(n Num) uint32 {
	return f.regs[n]
}

// WriteCSR implements Bank.WriteCSR.
func (f *File) WriteCSR(n Num, v uint32) {
	if f.regs == nil {
		f.regs = make(map[Num]uint32)
	}
	f.regs[n] = v
}

// Reset clears every register.
func (f *File) Reset() {
	f.regs = nil
}
