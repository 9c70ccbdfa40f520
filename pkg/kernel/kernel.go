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

// Package kernel ties the region manager, the flexpage layer and the trap
// state machine together into a small preemptive kernel.
//
// The kernel is only reached through traps. Timer interrupts preempt the
// running task, environment calls are system calls, and access faults from
// user mode demand-load the flexpage covering the faulting address. Every
// other trap halts the hart.
package kernel

import (
	"time"

	"linmo.dev/linmo/pkg/csr"
	"linmo.dev/linmo/pkg/errors/kernerr"
	"linmo.dev/linmo/pkg/log"
	"linmo.dev/linmo/pkg/memprot"
	"linmo.dev/linmo/pkg/pmp"
	"linmo.dev/linmo/pkg/ring0"
	"linmo.dev/linmo/pkg/sched"
)

// Options configures a Kernel.
type Options struct {
	// KernelStackTop is the top of the shared kernel stack.
	KernelStackTop uint32

	// Verify checks the protection shadow against hardware before every
	// trap return.
	Verify bool

	// MaxFlexpages and MaxMemSpaces bound allocation. Zero is unbounded.
	MaxFlexpages int
	MaxMemSpaces int

	// FaultLogInterval and FaultLogBurst limit how often task faults are
	// logged.
	FaultLogInterval time.Duration
	FaultLogBurst    int
}

// Kernel is the trap dispatcher.
type Kernel struct {
	// CPU runs the trap protocol. Its Dispatcher is the Kernel.
	CPU ring0.CPU

	// Table is the region manager for the hart's physical protection unit.
	Table *pmp.Table

	// Mem manages flexpages and memory spaces on Table.
	Mem *memprot.Manager

	// Sched picks tasks.
	Sched *sched.RoundRobin

	faults log.Logger
	killed uint64
}

var _ ring0.Dispatcher = (*Kernel)(nil)

// New returns a kernel driving the protection registers in bank.
func New(bank csr.Bank, opts Options) *Kernel {
	if opts.FaultLogInterval == 0 {
		opts.FaultLogInterval = time.Second
	}
	if opts.FaultLogBurst == 0 {
		opts.FaultLogBurst = 4
	}
	t := pmp.NewTable(bank)
	m := memprot.NewManager(t)
	m.MaxFlexpages = opts.MaxFlexpages
	m.MaxMemSpaces = opts.MaxMemSpaces
	k := &Kernel{
		Table:  t,
		Mem:    m,
		Sched:  sched.NewRoundRobin(),
		faults: log.BurstLimitedLogger(log.Log(), opts.FaultLogInterval, opts.FaultLogBurst),
	}
	k.CPU.KernelStackTop = opts.KernelStackTop
	k.CPU.Dispatcher = k
	if opts.Verify {
		k.CPU.Verify = t.Verify
	}
	return k
}

// Boot programs the kernel memory pools.
func (k *Kernel) Boot(pools []pmp.Mempool) error {
	return k.Table.InitPools(pools)
}

// Killed returns the number of tasks killed for faulting.
func (k *Kernel) Killed() uint64 {
	return k.killed
}

// Spawn writes t's initial frame and makes it runnable.
//
// A user task's frame goes to its save area. A machine-mode task's frame
// goes just below its stack top, where its own traps will save it.
func (k *Kernel) Spawn(mem ring0.Memory, t *sched.Task) error {
	if t.User && (t.SaveArea == 0 || t.Space == nil) {
		return kernerr.ErrTaskInvalidEntry
	}
	if t.StackTop < ring0.FrameSize {
		return kernerr.ErrStackAlloc
	}
	if err := k.Sched.Add(t); err != nil {
		return err
	}
	mode := ring0.MachineMode
	addr := t.StackTop - ring0.FrameSize
	if t.User {
		mode = ring0.UserMode
		addr = t.SaveArea
	} else {
		t.Frame = addr
	}
	f := ring0.InitialFrame(t.Entry, t.StackTop, mode)
	if err := f.Store(mem, addr); err != nil {
		_ = k.Sched.Remove(t)
		return err
	}
	log.Debugf("kernel: spawned %v, entry %#x, stack %#x", t, t.Entry, t.StackTop)
	return nil
}

// Start resumes the first runnable task on h. On success h is running that
// task.
func (k *Kernel) Start(h ring0.Hart) error {
	next := k.Sched.Next()
	if next == nil {
		return kernerr.ErrNoTasks
	}
	frame, err := k.switchTo(h, nil, next, 0, nil)
	if err != nil {
		return err
	}
	log.Infof("kernel: starting %v", next)
	return k.CPU.Exit(h, frame)
}

// save records the frame of t, which trapped with its frame f at sp.
func (k *Kernel) save(h ring0.Hart, t *sched.Task, sp uint32, f *ring0.TrapFrame) error {
	if t.User {
		return f.Store(h, t.SaveArea)
	}
	t.Frame = sp
	return f.Store(h, sp)
}

// switchTo activates next's memory space and returns the address of its
// frame. User frames are copied onto the kernel stack, where exit expects
// them. When that slot is sp, the frame of the trap being handled, next's
// frame replaces f instead so the trap path's write back resumes next.
func (k *Kernel) switchTo(h ring0.Hart, prev *memprot.MemSpace, next *sched.Task, sp uint32, f *ring0.TrapFrame) (uint32, error) {
	if err := k.Mem.Activate(prev, next.Space); err != nil {
		return 0, err
	}
	if !next.User {
		return next.Frame, nil
	}
	nf, err := ring0.LoadFrame(h, next.SaveArea)
	if err != nil {
		return 0, err
	}
	dst := k.CPU.KernelStackTop - ring0.FrameSize
	if f != nil && dst == sp {
		*f = nf
		return dst, nil
	}
	if err := nf.Store(h, dst); err != nil {
		return 0, err
	}
	return dst, nil
}

func spaceOf(t *sched.Task) *memprot.MemSpace {
	if t == nil {
		return nil
	}
	return t.Space
}
