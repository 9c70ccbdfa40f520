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

import "linmo.dev/linmo/pkg/csr"

// entryPlan is where a trap's frame goes.
type entryPlan struct {
	// mode is the mode that trapped.
	mode Mode

	// frame is the address of the frame.
	frame uint32

	// savedSP is the interrupted sp.
	savedSP uint32
}

// planEntry decides the entry path from sp and mscratch as they are after
// the exchange.
//
// A nonzero sp means mscratch held the kernel stack top, so user code
// trapped and its sp is now in mscratch. Zero means machine code trapped: the
// exchange is undone and the frame goes below the live kernel sp, which is
// also in mscratch until then. Either way the interrupted sp is the value
// mscratch holds after the exchange.
func planEntry(swappedSP, swappedScratch uint32) entryPlan {
	if swappedSP != 0 {
		return entryPlan{mode: UserMode, frame: swappedSP - FrameSize, savedSP: swappedScratch}
	}
	return entryPlan{mode: MachineMode, frame: swappedScratch - FrameSize, savedSP: swappedScratch}
}

// Enter runs the entry half of a trap on h: it locates the kernel stack,
// saves the full context there and leaves sp pointing at the frame. It
// returns the frame and its address.
func (c *CPU) Enter(h Hart) (uint32, TrapFrame, error) {
	h.SwapScratch()
	p := planEntry(h.GPR(int(SP)), h.ReadCSR(csr.Mscratch))
	if p.mode == MachineMode {
		h.SwapScratch()
	}

	regs := csr.Regs{Bank: h}
	f := TrapFrame{
		Cause:  regs.Cause(),
		EPC:    regs.EPC(),
		Status: regs.Status(),
		SP:     p.savedSP,
	}
	for r := RA; r < NumRegs; r++ {
		if r != SP {
			f.SetReg(r, h.GPR(int(r)))
		}
	}

	// mscratch and MPP must agree on who trapped.
	if m, ok := f.PrevMode(); !ok || m != p.mode {
		return 0, f, c.Halt(h, "trap entry: mscratch says %v but mstatus.MPP is %v (cause %v, epc %#x)",
			p.mode, f.PrevPriv(), f.TrapCause(), f.EPC)
	}
	if err := f.Store(h, p.frame); err != nil {
		return 0, f, c.Halt(h, "trap entry: saving %v frame at %#x: %v", p.mode, p.frame, err)
	}
	h.SetGPR(int(SP), p.frame)

	if p.mode == UserMode {
		// Code running from here on is machine mode.
		regs.SetScratch(0)
		c.enterState(TrappedFromUser)
	} else {
		c.enterState(TrappedFromMachine)
	}
	return p.frame, f, nil
}
