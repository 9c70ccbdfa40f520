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

// Package pmp manages the hart's Physical Memory Protection regions in
// top-of-range mode.
//
// A Table owns both the hardware registers and a shadow copy of them. The
// shadow is authoritative for queries; every mutation validates first and
// then writes hardware and shadow together, so the two never diverge.
//
// Table has no internal lock. It is shared with trap context, so callers
// mutate it only with preemption suppressed.
package pmp

import (
	"fmt"
	"strings"

	"linmo.dev/linmo/pkg/csr"
)

// Perm is a set of access permissions, encoded as in a pmpcfg byte.
type Perm uint8

// Permission bits.
const (
	PermR Perm = csr.PMPCfgR
	PermW Perm = csr.PMPCfgW
	PermX Perm = csr.PMPCfgX

	PermRW  = PermR | PermW
	PermRX  = PermR | PermX
	PermRWX = PermR | PermW | PermX
)

// String returns the permissions in "rwx" form, with '-' for absent bits.
func (p Perm) String() string {
	b := []byte("---")
	if p&PermR != 0 {
		b[0] = 'r'
	}
	if p&PermW != 0 {
		b[1] = 'w'
	}
	if p&PermX != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ParsePerm parses a permission string such as "rw" or "r-x".
func ParsePerm(s string) (Perm, error) {
	var p Perm
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			p |= PermR
		case 'w':
			p |= PermW
		case 'x':
			p |= PermX
		case '-':
		default:
			return 0, fmt.Errorf("invalid permission %q", s)
		}
	}
	return p, nil
}

// Priority is the eviction class of a region. Lower values are more
// important and are evicted last.
type Priority uint8

// Priorities.
const (
	PriorityKernel Priority = iota
	PriorityStack
	PriorityShared
	PriorityTemporary

	// PriorityCount is the number of priority classes.
	PriorityCount
)

var priorityNames = [PriorityCount]string{
	PriorityKernel:    "kernel",
	PriorityStack:     "stack",
	PriorityShared:    "shared",
	PriorityTemporary: "temporary",
}

func (p Priority) String() string {
	if p < PriorityCount {
		return priorityNames[p]
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

// ParsePriority parses a priority class name.
func ParsePriority(s string) (Priority, error) {
	for i, n := range priorityNames {
		if strings.EqualFold(s, n) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("invalid priority %q", s)
}

// Region is a protection region: the bytes [Start, End) with access Perm,
// programmed into hardware slot Slot.
type Region struct {
	Start    uint32
	End      uint32
	Perm     Perm
	Priority Priority
	Slot     int
	Locked   bool
}

// Enabled returns true if the region covers any memory.
func (r Region) Enabled() bool {
	return r.Start < r.End
}

// Contains returns true if [addr, addr+size) lies entirely within r. A size
// of zero is treated as a single byte.
func (r Region) Contains(addr, size uint32) bool {
	if size == 0 {
		size = 1
	}
	return r.Enabled() && addr >= r.Start && uint64(addr)+uint64(size) <= uint64(r.End)
}

// Allows returns true if r grants the access. Neither write nor execute
// requests read.
func (r Region) Allows(write, execute bool) bool {
	want := required(write, execute)
	return r.Perm&want == want
}

func required(write, execute bool) Perm {
	var want Perm
	if write {
		want |= PermW
	}
	if execute {
		want |= PermX
	}
	if want == 0 {
		want = PermR
	}
	return want
}

// String implements fmt.Stringer.
func (r Region) String() string {
	lock := ""
	if r.Locked {
		lock = " locked"
	}
	return fmt.Sprintf("slot %d: [%#x, %#x) %v %v%s", r.Slot, r.Start, r.End, r.Perm, r.Priority, lock)
}

// cfg returns the pmpcfg byte encoding r.
func (r Region) cfg() uint8 {
	var c uint8
	if r.Enabled() {
		c = csr.PMPCfgATOR | uint8(r.Perm&PermRWX)
	}
	if r.Locked {
		c |= csr.PMPCfgL
	}
	return c
}

// addr returns the pmpaddr value encoding r's upper bound.
func (r Region) addr() uint32 {
	if !r.Enabled() {
		return 0
	}
	return r.End >> csr.PMPAddrShift
}
