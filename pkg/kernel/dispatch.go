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

	"linmo.dev/linmo/pkg/csr"
	"linmo.dev/linmo/pkg/log"
	"linmo.dev/linmo/pkg/ring0"
	"linmo.dev/linmo/pkg/sched"
)

// Dispatch implements ring0.Dispatcher.Dispatch.
func (k *Kernel) Dispatch(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
	c := f.TrapCause()
	if c.IsInterrupt() {
		if c.Code() == ring0.IntTimer {
			return k.reschedule(h, sp, f)
		}
		k.CPU.Halt(h, "unhandled %v at epc %#x", c, f.EPC)
		return sp
	}
	switch {
	case c.Code() == ring0.ExcEcallU || c.Code() == ring0.ExcEcallM:
		return k.syscall(h, sp, f)
	case c.AccessFault():
		if m, ok := f.PrevMode(); ok && m == ring0.UserMode {
			return k.accessFault(h, sp, f)
		}
	}
	k.CPU.Halt(h, "%v at epc %#x (mtval %#x)", c, f.EPC, csr.Regs{Bank: h}.Tval())
	return sp
}

// reschedule saves the running task and resumes the next one.
func (k *Kernel) reschedule(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
	cur := k.Sched.Current()
	if cur != nil {
		if err := k.save(h, cur, sp, f); err != nil {
			k.CPU.Halt(h, "saving %v: %v", cur, err)
			return sp
		}
	}
	next := k.Sched.Next()
	if next == nil {
		k.CPU.Halt(h, "no runnable task")
		return sp
	}
	if next == cur {
		return sp
	}
	frame, err := k.switchTo(h, spaceOf(cur), next, sp, f)
	if err != nil {
		k.CPU.Halt(h, "switching to %v: %v", next, err)
		return sp
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("kernel: switch %v -> %v", cur, next)
	}
	return frame
}

// accessFault demand-loads the flexpage covering the faulting address and
// retries the access. Faults no flexpage can satisfy kill the task.
func (k *Kernel) accessFault(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
	cur := k.Sched.Current()
	if cur == nil || cur.Space == nil {
		k.CPU.Halt(h, "%v at epc %#x with no confined task", f.TrapCause(), f.EPC)
		return sp
	}
	code := f.TrapCause().Code()
	write := code == ring0.ExcStoreAccess
	exec := code == ring0.ExcInstAccess
	addr := csr.Regs{Bank: h}.Tval()

	fp := cur.Space.Lookup(addr, 1)
	switch {
	case fp == nil:
		return k.kill(h, sp, f, cur, fmt.Sprintf("%v at %#x outside its memory space", f.TrapCause(), addr))
	case fp.Loaded() || !fp.Allows(write, exec):
		return k.kill(h, sp, f, cur, fmt.Sprintf("%v at %#x denied by %v", f.TrapCause(), addr, fp))
	}
	if err := k.Mem.Map(fp); err != nil {
		return k.kill(h, sp, f, cur, fmt.Sprintf("mapping %v: %v", fp, err))
	}
	if ok, _ := k.Table.CheckAccess(addr, 1, write, exec); !ok {
		return k.kill(h, sp, f, cur, fmt.Sprintf("%#x shadowed by a higher priority region", addr))
	}
	log.Debugf("kernel: %v: demand loaded %v for %#x", cur, fp, addr)
	return sp
}

// kill retires cur and resumes the next task. cur's memory space is
// released unless it is shared.
func (k *Kernel) kill(h ring0.Hart, sp uint32, f *ring0.TrapFrame, cur *sched.Task, reason string) uint32 {
	k.faults.Warningf("kernel: killing %v: %s", cur, reason)
	k.killed++
	if err := k.Sched.Remove(cur); err != nil {
		k.CPU.Halt(h, "removing %v: %v", cur, err)
		return sp
	}
	next := k.Sched.Next()
	if next == nil {
		k.CPU.Halt(h, "no runnable task after killing %v", cur)
		return sp
	}
	frame, err := k.switchTo(h, cur.Space, next, sp, f)
	if err != nil {
		k.CPU.Halt(h, "switching to %v: %v", next, err)
		return sp
	}
	if s := cur.Space; s != nil && !s.Shared && s != next.Space {
		for _, fp := range s.Loaded() {
			if err := k.Mem.EvictFlexpage(fp); err != nil {
				log.Warningf("kernel: %v stays resident: %v", fp, err)
			}
		}
		k.Mem.DestroyMemSpace(s)
	}
	return frame
}
