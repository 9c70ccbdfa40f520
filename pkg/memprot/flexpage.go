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

// Package memprot implements flexpages and memory spaces, the software view
// of protectable memory built on top of the PMP region table.
//
// A flexpage describes a range and its permissions whether or not it
// currently occupies a hardware slot. A memory space groups the flexpages of
// one task or of a shared area. A Manager moves flexpages in and out of
// hardware and picks eviction victims when no slot is free.
//
// Like pmp.Table, nothing here is locked: callers hold off preemption.
package memprot

import (
	"fmt"

	"linmo.dev/linmo/pkg/ilist"
	"linmo.dev/linmo/pkg/pmp"
)

// Unloaded is the slot of a flexpage that is not in hardware.
const Unloaded = -1

// Flags are flexpage status flags.
type Flags uint32

// Flags.
const (
	// FlagShared marks a flexpage shared between memory spaces. It is not
	// evicted when its space is switched out.
	FlagShared Flags = 1 << iota

	// FlagStack marks a stack region. Stack regions are mapped whenever
	// their space is activated.
	FlagStack

	// FlagLocked marks a flexpage whose slot is locked. It is never
	// evicted.
	FlagLocked
)

func (f Flags) String() string {
	s := ""
	for _, b := range []struct {
		f Flags
		c string
	}{{FlagShared, "S"}, {FlagStack, "K"}, {FlagLocked, "L"}} {
		if f&b.f != 0 {
			s += b.c
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

// Flexpage is a contiguous protectable range.
type Flexpage struct {
	// spaceEntry links the flexpage into its owner's list of flexpages.
	spaceEntry ilist.Entry[Flexpage]

	// mapEntry links the flexpage into its owner's stack chain.
	mapEntry ilist.Entry[Flexpage]

	// pmpEntry links the flexpage into its owner's hardware-loaded list.
	pmpEntry ilist.Entry[Flexpage]

	Base     uint32
	Size     uint32
	Perm     pmp.Perm
	Flags    Flags
	Priority pmp.Priority

	// Used counts how many times the flexpage has been loaded.
	Used int

	slot    int
	owner   *MemSpace
	loadSeq uint64
	id      uint64
}

type spaceMapper struct{}

func (spaceMapper) LinkerFor(fp *Flexpage) *ilist.Entry[Flexpage] { return &fp.spaceEntry }

type mapMapper struct{}

func (mapMapper) LinkerFor(fp *Flexpage) *ilist.Entry[Flexpage] { return &fp.mapEntry }

type pmpMapper struct{}

func (pmpMapper) LinkerFor(fp *Flexpage) *ilist.Entry[Flexpage] { return &fp.pmpEntry }

type (
	pageList   = ilist.List[Flexpage, spaceMapper]
	stackList  = ilist.List[Flexpage, mapMapper]
	loadedList = ilist.List[Flexpage, pmpMapper]
)

// Slot returns the hardware slot holding fp, or Unloaded.
func (fp *Flexpage) Slot() int {
	return fp.slot
}

// Loaded returns true if fp occupies a hardware slot.
func (fp *Flexpage) Loaded() bool {
	return fp.slot != Unloaded
}

// Owner returns the memory space fp is attached to, or nil.
func (fp *Flexpage) Owner() *MemSpace {
	return fp.owner
}

// End returns the end of fp's range. It is 64 bits wide so that a range
// ending at the top of the address space is representable.
func (fp *Flexpage) End() uint64 {
	return uint64(fp.Base) + uint64(fp.Size)
}

// Contains returns true if [addr, addr+size) lies within fp. A size of zero
// is treated as a single byte.
func (fp *Flexpage) Contains(addr, size uint32) bool {
	if size == 0 {
		size = 1
	}
	return addr >= fp.Base && uint64(addr)+uint64(size) <= fp.End()
}

// Region returns the protection region describing fp in slot.
func (fp *Flexpage) Region(slot int) pmp.Region {
	return pmp.Region{
		Start:    fp.Base,
		End:      fp.Base + fp.Size,
		Perm:     fp.Perm,
		Priority: fp.Priority,
		Slot:     slot,
	}
}

// Allows returns true if fp's permissions admit the access.
func (fp *Flexpage) Allows(write, execute bool) bool {
	return fp.Region(0).Allows(write, execute)
}

// String implements fmt.Stringer.
func (fp *Flexpage) String() string {
	slot := "-"
	if fp.Loaded() {
		slot = fmt.Sprintf("%d", fp.slot)
	}
	return fmt.Sprintf("fpage[%#x, %#x) %v %v flags=%v slot=%s", fp.Base, fp.End(), fp.Perm, fp.Priority, fp.Flags, slot)
}
