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

package memprot

import (
	"math"

	"github.com/google/btree"
	"linmo.dev/linmo/pkg/errors/kernerr"
)

// indexDegree is the btree degree of the per-space address index.
const indexDegree = 8

// byBase orders flexpages by base address, then by creation.
func byBase(a, b *Flexpage) bool {
	if a.Base != b.Base {
		return a.Base < b.Base
	}
	return a.id < b.id
}

// MemSpace is the set of flexpages visible to a task or shared group.
type MemSpace struct {
	ID     uint32
	Shared bool

	pages  pageList
	loaded loadedList
	stacks stackList
	index  *btree.BTreeG[*Flexpage]
}

func newMemSpace(id uint32, shared bool) *MemSpace {
	return &MemSpace{
		ID:     id,
		Shared: shared,
		index:  btree.NewG[*Flexpage](indexDegree, byBase),
	}
}

// Attach makes s the owner of fp.
func (s *MemSpace) Attach(fp *Flexpage) error {
	if fp == nil {
		return kernerr.ErrPMPInvalidRegion
	}
	switch fp.owner {
	case s:
		return nil
	case nil:
	default:
		return kernerr.ErrNotOwner
	}
	fp.owner = s
	s.pages.PushBack(fp)
	s.index.ReplaceOrInsert(fp)
	if fp.Loaded() {
		s.loaded.PushBack(fp)
	}
	if fp.Flags&FlagStack != 0 {
		s.stacks.PushBack(fp)
	}
	return nil
}

// AttachStack attaches fp as a stack region of s.
func (s *MemSpace) AttachStack(fp *Flexpage) error {
	if fp == nil {
		return kernerr.ErrPMPInvalidRegion
	}
	if fp.owner == s {
		if fp.Flags&FlagStack == 0 {
			fp.Flags |= FlagStack
			s.stacks.PushBack(fp)
		}
		return nil
	}
	if fp.owner != nil {
		return kernerr.ErrNotOwner
	}
	fp.Flags |= FlagStack
	return s.Attach(fp)
}

// Detach releases s's ownership of fp. A flexpage in hardware cannot be
// detached.
func (s *MemSpace) Detach(fp *Flexpage) error {
	if fp == nil {
		return kernerr.ErrPMPInvalidRegion
	}
	if fp.owner != s {
		return kernerr.ErrNotOwner
	}
	if fp.Loaded() {
		return kernerr.ErrTaskBusy
	}
	s.unlink(fp)
	return nil
}

// unlink removes fp from every list of s regardless of residency.
func (s *MemSpace) unlink(fp *Flexpage) {
	s.pages.Remove(fp)
	if fp.Loaded() {
		s.loaded.Remove(fp)
	}
	if fp.Flags&FlagStack != 0 {
		s.stacks.Remove(fp)
	}
	s.index.Delete(fp)
	fp.owner = nil
}

// Lookup returns the flexpage of s that contains [addr, addr+size). When
// flexpages overlap, the one with the highest base wins.
func (s *MemSpace) Lookup(addr, size uint32) *Flexpage {
	var found *Flexpage
	pivot := &Flexpage{Base: addr, id: math.MaxUint64}
	s.index.DescendLessOrEqual(pivot, func(fp *Flexpage) bool {
		if fp.Contains(addr, size) {
			found = fp
			return false
		}
		return true
	})
	return found
}

// Len returns the number of flexpages owned by s.
func (s *MemSpace) Len() int {
	return s.index.Len()
}

// Pages returns the flexpages of s in attach order.
func (s *MemSpace) Pages() []*Flexpage {
	var out []*Flexpage
	for fp := s.pages.Front(); fp != nil; fp = s.pages.Next(fp) {
		out = append(out, fp)
	}
	return out
}

// Loaded returns the flexpages of s in hardware, in load order.
func (s *MemSpace) Loaded() []*Flexpage {
	var out []*Flexpage
	for fp := s.loaded.Front(); fp != nil; fp = s.loaded.Next(fp) {
		out = append(out, fp)
	}
	return out
}

// Stacks returns the stack regions of s.
func (s *MemSpace) Stacks() []*Flexpage {
	var out []*Flexpage
	for fp := s.stacks.Front(); fp != nil; fp = s.stacks.Next(fp) {
		out = append(out, fp)
	}
	return out
}
