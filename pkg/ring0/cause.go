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

// Cause is an mcause value.
type Cause uint32

// Interrupt codes.
const (
	IntSoftware = 3
	IntTimer    = 7
	IntExternal = 11
)

// Exception codes.
const (
	ExcInstMisaligned  = 0
	ExcInstAccess      = 1
	ExcIllegalInst     = 2
	ExcBreakpoint      = 3
	ExcLoadMisaligned  = 4
	ExcLoadAccess      = 5
	ExcStoreMisaligned = 6
	ExcStoreAccess     = 7
	ExcEcallU          = 8
	ExcEcallS          = 9
	ExcEcallM          = 11
	ExcInstPageFault   = 12
	ExcLoadPageFault   = 13
	ExcStorePageFault  = 15
)

var exceptionNames = [...]string{
	ExcInstMisaligned:  "Instruction address misaligned",
	ExcInstAccess:      "Instruction access fault",
	ExcIllegalInst:     "Illegal instruction",
	ExcBreakpoint:      "Breakpoint",
	ExcLoadMisaligned:  "Load address misaligned",
	ExcLoadAccess:      "Load access fault",
	ExcStoreMisaligned: "Store/AMO address misaligned",
	ExcStoreAccess:     "Store/AMO access fault",
	ExcEcallU:          "Environment call from U-mode",
	ExcEcallS:          "Environment call from S-mode",
	10:                 "Reserved",
	ExcEcallM:          "Environment call from M-mode",
	ExcInstPageFault:   "Instruction page fault",
	ExcLoadPageFault:   "Load page fault",
	14:                 "Reserved",
	ExcStorePageFault:  "Store/AMO page fault",
}

var interruptNames = map[uint32]string{
	IntSoftware: "Machine software interrupt",
	IntTimer:    "Machine timer interrupt",
	IntExternal: "Machine external interrupt",
}

// InterruptCause returns the cause of interrupt code.
func InterruptCause(code uint32) Cause {
	return Cause(csr.CauseInterrupt | code&csr.CauseCodeMask)
}

// ExceptionCause returns the cause of exception code.
func ExceptionCause(code uint32) Cause {
	return Cause(code & csr.CauseCodeMask)
}

// IsInterrupt returns true for asynchronous causes.
func (c Cause) IsInterrupt() bool {
	return uint32(c)&csr.CauseInterrupt != 0
}

// Code returns the exception or interrupt code.
func (c Cause) Code() uint32 {
	return uint32(c) & csr.CauseCodeMask
}

// AccessFault returns true for instruction, load and store access faults.
func (c Cause) AccessFault() bool {
	if c.IsInterrupt() {
		return false
	}
	switch c.Code() {
	case ExcInstAccess, ExcLoadAccess, ExcStoreAccess:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (c Cause) String() string {
	code := c.Code()
	if c.IsInterrupt() {
		if n, ok := interruptNames[code]; ok {
			return n
		}
		return fmt.Sprintf("Interrupt %d", code)
	}
	if code < uint32(len(exceptionNames)) {
		return exceptionNames[code]
	}
	return "Unknown exception"
}
