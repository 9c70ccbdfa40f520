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

package kernel

import (
	"fmt"

	"linmo.dev/linmo/pkg/errors"
	"linmo.dev/linmo/pkg/ring0"
)

// Sysno is a system call number, passed in a7.
type Sysno uint32

// System calls.
const (
	// SysYield gives up the rest of the time slice.
	SysYield Sysno = iota + 1

	// SysTID returns the caller's task ID.
	SysTID

	// SysUptime returns the number of traps taken since boot.
	SysUptime
)

func (s Sysno) String() string {
	switch s {
	case SysYield:
		return "yield"
	case SysTID:
		return "tid"
	case SysUptime:
		return "uptime"
	default:
		return fmt.Sprintf("syscall(%d)", uint32(s))
	}
}

// syscall runs the system call in f. The result goes in a0 and the caller
// resumes after its ecall.
func (k *Kernel) syscall(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
	f.EPC += 4
	switch Sysno(f.Reg(ring0.A7)) {
	case SysYield:
		f.SetReg(ring0.A0, 0)
		return k.reschedule(h, sp, f)
	case SysTID:
		f.SetReg(ring0.A0, k.Sched.CurrentID())
	case SysUptime:
		f.SetReg(ring0.A0, uint32(k.CPU.Traps()))
	default:
		code := int32(errors.Fail)
		f.SetReg(ring0.A0, uint32(code))
	}
	return sp
}
