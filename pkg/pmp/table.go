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
	"fmt"

	"linmo.dev/linmo/pkg/csr"
	"linmo.dev/linmo/pkg/errors/kernerr"
	"linmo.dev/linmo/pkg/log"
)

// MaxRegions is the number of hardware slots.
const MaxRegions = csr.MaxPMPRegions

// granule is the TOR address granularity in bytes.
const granule = 1 << csr.PMPAddrShift

// Table is the protection table: the shadow of every slot plus the registers
// it mirrors.
type Table struct {
	regs        csr.Regs
	regions     [MaxRegions]Region
	activeCount int
	initialized bool
}

// NewTable returns an uninitialized table over the given registers. Init must
// be called before any other operation.
func NewTable(b csr.Bank) *Table {
	return &Table{regs: csr.Regs{Bank: b}}
}

// Init clears every unlocked slot in hardware and shadow. A slot locked in
// hardware keeps its setting until the hart resets, so it is read back into
// the shadow instead. Init fails if a locked slot is not a TOR region.
func (t *Table) Init() error {
	if t == nil || t.regs.Bank == nil {
		return kernerr.ErrPMPInvalidRegion
	}
	var locked [MaxRegions]bool
	base := uint32(0)
	for slot := 0; slot < MaxRegions; slot++ {
		cfg, addr := t.Raw(slot)
		if cfg&csr.PMPCfgL != 0 {
			r, err := lockedRegion(slot, cfg, base, addr)
			if err != nil {
				return err
			}
			t.regions[slot] = r
			locked[slot] = true
		}
		base = addr
	}
	for slot := 0; slot < MaxRegions; slot++ {
		if locked[slot] {
			continue
		}
		t.regs.SetPMPCfg(slot, 0)
		t.regs.SetPMPAddr(slot, 0)
		t.regions[slot] = Region{Slot: slot}
	}
	t.recount()
	t.initialized = true
	return nil
}

// lockedRegion decodes a locked slot whose TOR base register held base.
func lockedRegion(slot int, cfg uint8, base, addr uint32) (Region, error) {
	r := Region{Slot: slot, Priority: PriorityKernel, Locked: true}
	if cfg&csr.PMPCfgA == csr.PMPCfgATOR {
		r.Start = base << csr.PMPAddrShift
		r.End = addr << csr.PMPAddrShift
		r.Perm = Perm(cfg) & PermRWX
	}
	if r.cfg() != cfg || r.addr() != addr {
		return Region{}, fmt.Errorf("pmp slot %d locked with cfg=%#02x addr=%#x: %w", slot, cfg, addr, kernerr.ErrPMPLocked)
	}
	log.Infof("pmp: slot %d kept locked: %v", slot, r)
	return r, nil
}

// Initialized returns true once Init has succeeded.
func (t *Table) Initialized() bool {
	return t.initialized
}

// ActiveCount returns one more than the highest slot in use.
func (t *Table) ActiveCount() int {
	return t.activeCount
}

func (t *Table) checkSlot(slot int) error {
	if !t.initialized {
		return kernerr.ErrPMPNotInit
	}
	if slot < 0 || slot >= MaxRegions {
		return kernerr.ErrPMPInvalidRegion
	}
	return nil
}

// validate checks r against the table without touching hardware.
func (t *Table) validate(r Region) error {
	if err := t.checkSlot(r.Slot); err != nil {
		return err
	}
	if r.Start >= r.End {
		return kernerr.ErrPMPAddrRange
	}
	if r.Start%granule != 0 || r.End%granule != 0 {
		return kernerr.ErrPMPSizeMismatch
	}
	if r.Perm&^PermRWX != 0 || r.Priority >= PriorityCount {
		return kernerr.ErrPMPInvalidRegion
	}
	if t.regions[r.Slot].Locked {
		return kernerr.ErrPMPLocked
	}
	return nil
}

// program writes r to hardware and shadow. r must be valid.
func (t *Table) program(r Region) {
	// Address first: the slot is matched as soon as its A field is set.
	t.regs.SetPMPAddr(r.Slot, r.addr())
	t.regs.SetPMPCfg(r.Slot, r.cfg())
	t.regions[r.Slot] = r
}

// SetRegion programs r into slot r.Slot. Nothing is written unless r is
// valid and the slot is unlocked.
func (t *Table) SetRegion(r Region) error {
	if err := t.validate(r); err != nil {
		return err
	}
	t.program(r)
	t.activeCount = max(t.activeCount, r.Slot+1)
	log.Debugf("pmp: %v", r)
	return nil
}

// DisableRegion turns slot off. The configuration byte and address register
// are both cleared.
func (t *Table) DisableRegion(slot int) error {
	if err := t.checkSlot(slot); err != nil {
		return err
	}
	if t.regions[slot].Locked {
		return kernerr.ErrPMPLocked
	}
	t.program(Region{Slot: slot})
	t.recount()
	log.Debugf("pmp: slot %d disabled", slot)
	return nil
}

// recount recomputes activeCount from the shadow.
func (t *Table) recount() {
	t.activeCount = 0
	for i := MaxRegions - 1; i >= 0; i-- {
		if t.regions[i].Enabled() || t.regions[i].Locked {
			t.activeCount = i + 1
			return
		}
	}
}

// LockRegion sets the lock bit of slot. A locked slot cannot be changed
// until the hart is reset. Locking an already locked slot succeeds.
func (t *Table) LockRegion(slot int) error {
	if err := t.checkSlot(slot); err != nil {
		return err
	}
	if t.regions[slot].Locked {
		return nil
	}
	r := t.regions[slot]
	r.Locked = true
	t.regs.SetPMPCfg(slot, r.cfg())
	t.regions[slot] = r
	t.activeCount = max(t.activeCount, slot+1)
	log.Infof("pmp: slot %d locked", slot)
	return nil
}

// GetRegion returns the shadow entry of slot.
func (t *Table) GetRegion(slot int) (Region, error) {
	if err := t.checkSlot(slot); err != nil {
		return Region{}, err
	}
	return t.regions[slot], nil
}

// CheckAccess reports whether an access of size bytes at addr is permitted.
// Slots are scanned in order and only the first region containing the whole
// access is consulted. An access no region contains is denied.
func (t *Table) CheckAccess(addr, size uint32, write, execute bool) (bool, error) {
	if t == nil {
		return false, kernerr.ErrPMPInvalidRegion
	}
	if !t.initialized {
		return false, kernerr.ErrPMPNotInit
	}
	for i := 0; i < t.activeCount; i++ {
		r := &t.regions[i]
		if r.Contains(addr, size) {
			return r.Allows(write, execute), nil
		}
	}
	return false, nil
}

// FreeSlot returns the lowest slot that is neither in use nor locked.
func (t *Table) FreeSlot() (int, error) {
	if !t.initialized {
		return -1, kernerr.ErrPMPNotInit
	}
	for i := range t.regions {
		if r := &t.regions[i]; !r.Enabled() && !r.Locked {
			return i, nil
		}
	}
	return -1, kernerr.ErrPMPNoRegions
}

// Raw returns the configuration byte and address register of slot as read
// from hardware.
func (t *Table) Raw(slot int) (uint8, uint32) {
	return t.regs.PMPCfg(slot), t.regs.PMPAddr(slot)
}

// Verify reads every slot back from hardware and compares it to the shadow.
func (t *Table) Verify() error {
	if !t.initialized {
		return kernerr.ErrPMPNotInit
	}
	for i := range t.regions {
		r := &t.regions[i]
		cfg, addr := t.Raw(i)
		if cfg != r.cfg() || addr != r.addr() {
			return fmt.Errorf("pmp slot %d diverged: hardware cfg=%#02x addr=%#x, shadow cfg=%#02x addr=%#x",
				i, cfg, addr, r.cfg(), r.addr())
		}
	}
	return nil
}
