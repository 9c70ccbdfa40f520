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
	"linmo.dev/linmo/pkg/cleanup"
	"linmo.dev/linmo/pkg/errors/kernerr"
	"linmo.dev/linmo/pkg/log"
	"linmo.dev/linmo/pkg/pmp"
)

// Manager moves flexpages between memory and the hardware region table.
type Manager struct {
	table *pmp.Table

	// MaxFlexpages bounds the number of live flexpages. Zero means no
	// bound. Creation beyond the bound fails as an allocation failure.
	MaxFlexpages int

	// MaxMemSpaces bounds the number of live memory spaces, as above.
	MaxMemSpaces int

	live     int
	spaces   int
	resident [pmp.MaxRegions]*Flexpage
	seq      uint64
	nextID   uint64
}

// NewManager returns a manager over t. t must already be initialized.
func NewManager(t *pmp.Table) *Manager {
	return &Manager{table: t}
}

// Table returns the region table.
func (m *Manager) Table() *pmp.Table {
	return m.table
}

// Live returns the number of live flexpages.
func (m *Manager) Live() int {
	return m.live
}

// Resident returns the flexpage loaded in slot, or nil.
func (m *Manager) Resident(slot int) *Flexpage {
	if slot < 0 || slot >= pmp.MaxRegions {
		return nil
	}
	return m.resident[slot]
}

// CreateFlexpage returns a new, unloaded and unattached flexpage. The range
// is not validated until the flexpage is loaded.
func (m *Manager) CreateFlexpage(base, size uint32, perm pmp.Perm, priority pmp.Priority) (*Flexpage, error) {
	if m.MaxFlexpages > 0 && m.live >= m.MaxFlexpages {
		return nil, kernerr.ErrAlloc
	}
	m.live++
	m.nextID++
	return &Flexpage{
		Base:     base,
		Size:     size,
		Perm:     perm,
		Priority: priority,
		slot:     Unloaded,
		id:       m.nextID,
	}, nil
}

// DestroyFlexpage releases fp. A nil fp is ignored.
//
// fp should be evicted first. If it is still resident its slot stays
// programmed, and occupied, until the slot is reused by eviction.
func (m *Manager) DestroyFlexpage(fp *Flexpage) {
	if fp == nil {
		return
	}
	if fp.Loaded() {
		log.Warningf("memprot: destroying resident %v", fp)
	}
	if fp.owner != nil {
		fp.owner.unlink(fp)
	}
	m.live--
}

// LoadFlexpage programs fp into slot. Whatever flexpage was in slot is
// displaced. Nothing changes if the slot cannot be programmed.
func (m *Manager) LoadFlexpage(fp *Flexpage, slot int) error {
	if fp == nil {
		return kernerr.ErrPMPInvalidRegion
	}
	if fp.Loaded() {
		return kernerr.ErrTaskBusy
	}
	if err := m.table.SetRegion(fp.Region(slot)); err != nil {
		return err
	}
	if old := m.resident[slot]; old != nil {
		m.unload(old)
	}
	m.seq++
	fp.slot = slot
	fp.loadSeq = m.seq
	fp.Used++
	m.resident[slot] = fp
	if fp.owner != nil {
		fp.owner.loaded.PushBack(fp)
	}
	log.Debugf("memprot: loaded %v", fp)
	return nil
}

// unload forgets fp's residency without touching hardware.
func (m *Manager) unload(fp *Flexpage) {
	if fp.owner != nil {
		fp.owner.loaded.Remove(fp)
	}
	m.resident[fp.slot] = nil
	fp.slot = Unloaded
}

// EvictFlexpage removes fp from hardware, leaving its slot off. Evicting a
// flexpage that is not loaded does nothing.
func (m *Manager) EvictFlexpage(fp *Flexpage) error {
	if fp == nil {
		return kernerr.ErrPMPInvalidRegion
	}
	if !fp.Loaded() {
		return nil
	}
	if fp.Flags&FlagLocked != 0 {
		return kernerr.ErrPMPLocked
	}
	if err := m.table.DisableRegion(fp.slot); err != nil {
		return err
	}
	log.Debugf("memprot: evicted %v", fp)
	m.unload(fp)
	return nil
}

// SelectVictim returns the flexpage to evict when no slot is free: the one
// of lowest importance (highest priority value) among those not locked,
// and of those the one loaded longest ago.
func (m *Manager) SelectVictim() (*Flexpage, error) {
	var victim *Flexpage
	for slot, fp := range m.resident {
		if fp == nil || fp.Flags&FlagLocked != 0 {
			continue
		}
		if r, err := m.table.GetRegion(slot); err != nil || r.Locked {
			continue
		}
		if victim == nil ||
			fp.Priority > victim.Priority ||
			(fp.Priority == victim.Priority && fp.loadSeq < victim.loadSeq) {
			victim = fp
		}
	}
	if victim == nil {
		return nil, kernerr.ErrPMPNoRegions
	}
	return victim, nil
}

// Map loads fp into a free slot, evicting a victim if there is none. Mapping
// a loaded flexpage does nothing.
func (m *Manager) Map(fp *Flexpage) error {
	if fp == nil {
		return kernerr.ErrPMPInvalidRegion
	}
	if fp.Loaded() {
		return nil
	}
	slot, err := m.table.FreeSlot()
	if err != nil {
		victim, verr := m.SelectVictim()
		if verr != nil {
			return verr
		}
		slot = victim.slot
		if err := m.EvictFlexpage(victim); err != nil {
			return err
		}
		log.Debugf("memprot: slot %d reclaimed from %v", slot, victim)
	}
	return m.LoadFlexpage(fp, slot)
}

// Lock locks fp's slot. fp must be loaded. It can no longer be evicted.
func (m *Manager) Lock(fp *Flexpage) error {
	if fp == nil || !fp.Loaded() {
		return kernerr.ErrPMPInvalidRegion
	}
	if err := m.table.LockRegion(fp.slot); err != nil {
		return err
	}
	fp.Flags |= FlagLocked
	return nil
}

// CreateMemSpace returns a new, empty memory space.
func (m *Manager) CreateMemSpace(id uint32, shared bool) (*MemSpace, error) {
	if m.MaxMemSpaces > 0 && m.spaces >= m.MaxMemSpaces {
		return nil, kernerr.ErrAlloc
	}
	m.spaces++
	return newMemSpace(id, shared), nil
}

// DestroyMemSpace destroys s and every flexpage it owns. A nil s is ignored.
//
// Flexpages are not evicted from hardware first; that is the caller's job.
// Shared spaces are destroyed the same way, without regard to other users.
func (m *Manager) DestroyMemSpace(s *MemSpace) {
	if s == nil {
		return
	}
	for fp := s.pages.Front(); fp != nil; {
		next := s.pages.Next(fp)
		m.DestroyFlexpage(fp)
		fp = next
	}
	m.spaces--
}

// Activate switches hardware from prev to next: prev's flexpages are
// evicted, except shared or locked ones, and next's stack regions are
// mapped. On failure the previous residency is restored as far as
// possible. Either space may be nil.
func (m *Manager) Activate(prev, next *MemSpace) error {
	if prev == next {
		if next == nil {
			return nil
		}
		prev = nil
	}
	var cu cleanup.Cleanup
	defer cu.Clean()

	if prev != nil {
		for _, fp := range prev.Loaded() {
			if fp.Flags&(FlagShared|FlagLocked) != 0 {
				continue
			}
			slot := fp.slot
			if err := m.EvictFlexpage(fp); err != nil {
				return err
			}
			cu.Add(func() {
				if err := m.LoadFlexpage(fp, slot); err != nil {
					log.Warningf("memprot: restoring %v to slot %d: %v", fp, slot, err)
				}
			})
		}
	}
	if next != nil {
		for _, fp := range next.Stacks() {
			if fp.Loaded() {
				continue
			}
			if err := m.Map(fp); err != nil {
				return err
			}
			cu.Add(func() {
				if err := m.EvictFlexpage(fp); err != nil {
					log.Warningf("memprot: undoing %v: %v", fp, err)
				}
			})
		}
	}
	cu.Release()
	return nil
}
