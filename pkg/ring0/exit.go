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

// exitPlan is how a frame is resumed.
type exitPlan struct {
	mode    Mode
	scratch uint32
}

// planExit decides the exit path from the status that will be restored.
// Returning to user mode primes mscratch with the kernel stack top for the
// next trap; returning to machine mode clears it.
func planExit(status, kernelStackTop uint32) (exitPlan, error) {
	switch p := csr.MPP(status); p {
	case csr.PrivUser:
		if kernelStackTop == 0 {
			return exitPlan{}, fmt.Errorf("returning to user mode with no kernel stack")
		}
		return exitPlan{mode: UserMode, scratch: kernelStackTop}, nil
	case csr.PrivMachine:
		return exitPlan{mode: MachineMode, scratch: 0}, nil
	default:
		return exitPlan{}, fmt.Errorf("returning to unsupported privilege %v", p)
	}
}

// Exit resumes the frame at sp on h. It does not return to the caller's
// context on the hart: on success the hart is executing the resumed code.
func (c *CPU) Exit(h Hart, sp uint32) error {
	f, err := LoadFrame(h, sp)
	if err != nil {
		return c.Halt(h, "trap exit: loading frame at %#x: %v", sp, err)
	}
	p, err := planExit(f.Status, c.KernelStackTop)
	if err != nil {
		return c.Halt(h, "trap exit: %v (frame %#x, epc %#x)", err, sp, f.EPC)
	}
	if c.Verify != nil {
		if err := c.Verify(); err != nil {
			return c.Halt(h, "trap exit: protection state: %v", err)
		}
	}

	if p.mode == UserMode {
		c.enterState(ReturningToUser)
	} else {
		c.enterState(ReturningToMachine)
	}

	regs := csr.Regs{Bank: h}
	regs.SetEPC(f.EPC)
	regs.SetStatus(f.Status)
	regs.SetScratch(p.scratch)
	for r := RA; r < NumRegs; r++ {
		h.SetGPR(int(r), f.Reg(r))
	}
	h.Mret()
	return nil
}
