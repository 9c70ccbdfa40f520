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

package pmp

import (
	"linmo.dev/linmo/pkg/errors/kernerr"
	"linmo.dev/linmo/pkg/log"
)

// Mempool describes a memory range protected from boot.
type Mempool struct {
	Name  string
	Start uint32
	End   uint32
	Flags Perm
	Tag   Priority
}

// Layout holds the section boundaries of the kernel image, as the linker
// would place them.
type Layout struct {
	TextStart, TextEnd    uint32
	DataStart, DataEnd    uint32
	BSSStart, BSSEnd      uint32
	HeapStart, HeapEnd    uint32
	StackBottom, StackTop uint32
}

// KernelMempools returns the kernel pool table for l: text is read and
// execute, everything else read and write, all at kernel priority.
func KernelMempools(l Layout) []Mempool {
	return []Mempool{
		{"kernel_text", l.TextStart, l.TextEnd, PermRX, PriorityKernel},
		{"kernel_data", l.DataStart, l.DataEnd, PermRW, PriorityKernel},
		{"kernel_bss", l.BSSStart, l.BSSEnd, PermRW, PriorityKernel},
		{"kernel_heap", l.HeapStart, l.HeapEnd, PermRW, PriorityKernel},
		{"kernel_stack", l.StackBottom, l.StackTop, PermRW, PriorityKernel},
	}
}

func (p Mempool) region(slot int) Region {
	return Region{
		Start:    p.Start,
		End:      p.End,
		Perm:     p.Flags & PermRWX,
		Priority: p.Tag,
		Slot:     slot,
	}
}

// InitPools resets t and programs pools[i] into slot i. Every pool is
// validated before the table is touched.
func (t *Table) InitPools(pools []Mempool) error {
	if t == nil || len(pools) == 0 {
		return kernerr.ErrPMPInvalidRegion
	}
	if len(pools) > MaxRegions {
		return kernerr.ErrPMPNoRegions
	}
	for _, p := range pools {
		if p.Start >= p.End {
			return kernerr.ErrPMPAddrRange
		}
		if p.Start%granule != 0 || p.End%granule != 0 {
			return kernerr.ErrPMPSizeMismatch
		}
		if p.Tag >= PriorityCount {
			return kernerr.ErrPMPInvalidRegion
		}
	}

	if err := t.Init(); err != nil {
		return err
	}
	for i, p := range pools {
		if err := t.SetRegion(p.region(i)); err != nil {
			return err
		}
		log.Infof("pmp: pool %q [%#x, %#x) %v in slot %d", p.Name, p.Start, p.End, p.Flags&PermRWX, i)
	}
	return nil
}

// InitKernel programs the kernel pools for l.
func (t *Table) InitKernel(l Layout) error {
	return t.InitPools(KernelMempools(l))
}
