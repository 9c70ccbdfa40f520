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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"linmo.dev/linmo/pkg/csr"
	"linmo.dev/linmo/pkg/errors/kernerr"
	"linmo.dev/linmo/pkg/platform/sim"
)

func newTable(t *testing.T) (*Table, *csr.File) {
	t.Helper()
	f := &csr.File{}
	tbl := NewTable(f)
	if err := tbl.Init(); err != nil {
		t.Fatalf("Init(): %v", err)
	}
	return tbl, f
}

func TestNotInitialized(t *testing.T) {
	tbl := NewTable(&csr.File{})
	if err := tbl.SetRegion(Region{Start: 0x1000, End: 0x2000, Perm: PermR}); !errors.Is(err, kernerr.ErrPMPNotInit) {
		t.Errorf("SetRegion before Init: got %v, wanted %v", err, kernerr.ErrPMPNotInit)
	}
	if _, err := tbl.CheckAccess(0x1000, 4, false, false); !errors.Is(err, kernerr.ErrPMPNotInit) {
		t.Errorf("CheckAccess before Init: got %v, wanted %v", err, kernerr.ErrPMPNotInit)
	}
	var nilTable *Table
	if err := nilTable.Init(); !errors.Is(err, kernerr.ErrPMPInvalidRegion) {
		t.Errorf("nil Init(): got %v, wanted %v", err, kernerr.ErrPMPInvalidRegion)
	}
}

func TestInitClearsHardware(t *testing.T) {
	f := &csr.File{}
	f.WriteCSR(csr.PMPCfg2, 0x0f0f0f0f)
	f.WriteCSR(csr.PMPAddr9, 0x1234)
	tbl := NewTable(f)
	if err := tbl.Init(); err != nil {
		t.Fatalf("Init(): %v", err)
	}
	if got := f.ReadCSR(csr.PMPCfg2); got != 0 {
		t.Errorf("pmpcfg2 after Init: got %#x, wanted 0", got)
	}
	if got := f.ReadCSR(csr.PMPAddr9); got != 0 {
		t.Errorf("pmpaddr9 after Init: got %#x, wanted 0", got)
	}
	if got := tbl.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount(): got %d, wanted 0", got)
	}
}

func TestInitKeepsLockedSlots(t *testing.T) {
	m := sim.New(sim.Range{Base: 0x80000000, Size: 0x1000})
	tbl := NewTable(m)
	if err := tbl.Init(); err != nil {
		t.Fatalf("Init(): %v", err)
	}
	below := Region{Start: 0x0, End: 0x1000, Perm: PermR, Priority: PriorityStack, Slot: 1}
	r := Region{Start: 0x1000, End: 0x2000, Perm: PermRX, Priority: PriorityKernel, Slot: 2}
	for _, reg := range []Region{below, r} {
		if err := tbl.SetRegion(reg); err != nil {
			t.Fatalf("SetRegion(%v): %v", reg, err)
		}
	}
	if err := tbl.LockRegion(2); err != nil {
		t.Fatalf("LockRegion(2): %v", err)
	}

	if err := tbl.Init(); err != nil {
		t.Fatalf("second Init(): %v", err)
	}
	if err := tbl.Verify(); err != nil {
		t.Errorf("Verify() after Init: %v", err)
	}
	got, err := tbl.GetRegion(2)
	if err != nil {
		t.Fatalf("GetRegion(2): %v", err)
	}
	r.Locked = true
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("locked slot after Init (-want +got):\n%s", diff)
	}
	if got, _ := tbl.GetRegion(1); got.Enabled() {
		t.Errorf("unlocked slot 1 after Init: got %v, wanted disabled", got)
	}
	if cfg, addr := tbl.Raw(2); cfg != 0x8d || addr != 0x800 {
		t.Errorf("Raw(2): got cfg=%#x addr=%#x, wanted cfg=0x8d addr=0x800", cfg, addr)
	}
	if got := tbl.ActiveCount(); got != 3 {
		t.Errorf("ActiveCount(): got %d, wanted 3", got)
	}
	if slot, _ := tbl.FreeSlot(); slot != 0 {
		t.Errorf("FreeSlot(): got %d, wanted 0", slot)
	}

	over := Region{Start: 0x1000, End: 0x5000, Perm: PermRW, Slot: 2}
	if err := tbl.SetRegion(over); !errors.Is(err, kernerr.ErrPMPLocked) {
		t.Errorf("SetRegion(%v) after Init: got %v, wanted %v", over, err, kernerr.ErrPMPLocked)
	}
	if err := tbl.Verify(); err != nil {
		t.Errorf("Verify() after rejected SetRegion: %v", err)
	}
}

func TestInitRejectsUndecodableLock(t *testing.T) {
	f := &csr.File{}
	r := csr.Regs{Bank: f}
	// Locked NAPOT: not a shape the table can describe.
	r.SetPMPCfg(4, csr.PMPCfgL|csr.PMPCfgA|csr.PMPCfgR)
	r.SetPMPAddr(4, 0x1ff)
	tbl := NewTable(f)
	if err := tbl.Init(); !errors.Is(err, kernerr.ErrPMPLocked) {
		t.Errorf("Init(): got %v, wanted %v", err, kernerr.ErrPMPLocked)
	}
	if tbl.Initialized() {
		t.Errorf("Initialized() after failed Init: got true")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	tbl, f := newTable(t)
	want := Region{Start: 0x80020000, End: 0x80024000, Perm: PermRW, Priority: PriorityStack, Slot: 6}
	if err := tbl.SetRegion(want); err != nil {
		t.Fatalf("SetRegion(%v): %v", want, err)
	}
	got, err := tbl.GetRegion(6)
	if err != nil {
		t.Fatalf("GetRegion(6): %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetRegion(6) mismatch (-want +got):\n%s", diff)
	}
	if got, want := tbl.ActiveCount(), 7; got != want {
		t.Errorf("ActiveCount(): got %d, wanted %d", got, want)
	}
	if got, want := f.ReadCSR(csr.PMPAddr6), uint32(0x80024000>>2); got != want {
		t.Errorf("pmpaddr6: got %#x, wanted %#x", got, want)
	}
	if got, want := f.ReadCSR(csr.PMPCfg1), uint32(0x0b)<<16; got != want {
		t.Errorf("pmpcfg1: got %#x, wanted %#x", got, want)
	}
	for _, tc := range []struct {
		addr, size     uint32
		write, execute bool
		want           bool
	}{
		{0x80020000, 4, false, false, true},
		{0x80023ffc, 4, true, false, true},
		{0x80023ffe, 4, false, false, false},
		{0x80020000, 4, false, true, false},
	} {
		got, err := tbl.CheckAccess(tc.addr, tc.size, tc.write, tc.execute)
		if err != nil || got != tc.want {
			t.Errorf("CheckAccess(%#x, %d, w=%t, x=%t): got (%t, %v), wanted %t", tc.addr, tc.size, tc.write, tc.execute, got, err, tc.want)
		}
	}
	if err := tbl.Verify(); err != nil {
		t.Errorf("Verify(): %v", err)
	}
}

func TestSetRegionValidation(t *testing.T) {
	tbl, f := newTable(t)
	if err := tbl.SetRegion(Region{Start: 0x1000, End: 0x2000, Perm: PermR, Slot: 2}); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	if err := tbl.LockRegion(2); err != nil {
		t.Fatalf("LockRegion(2): %v", err)
	}
	before := [2]uint32{f.ReadCSR(csr.PMPCfg0), f.ReadCSR(csr.PMPAddr2)}

	for _, tc := range []struct {
		name string
		r    Region
		want error
	}{
		{"slot too large", Region{Start: 0, End: 0x100, Slot: MaxRegions}, kernerr.ErrPMPInvalidRegion},
		{"negative slot", Region{Start: 0, End: 0x100, Slot: -1}, kernerr.ErrPMPInvalidRegion},
		{"empty range", Region{Start: 0x100, End: 0x100, Slot: 1}, kernerr.ErrPMPAddrRange},
		{"inverted range", Region{Start: 0x200, End: 0x100, Slot: 1}, kernerr.ErrPMPAddrRange},
		{"unaligned end", Region{Start: 0x100, End: 0x203, Slot: 1}, kernerr.ErrPMPSizeMismatch},
		{"bad priority", Region{Start: 0x100, End: 0x200, Slot: 1, Priority: PriorityCount}, kernerr.ErrPMPInvalidRegion},
		{"locked slot", Region{Start: 0x3000, End: 0x4000, Perm: PermRWX, Slot: 2}, kernerr.ErrPMPLocked},
	} {
		if err := tbl.SetRegion(tc.r); !errors.Is(err, tc.want) {
			t.Errorf("SetRegion(%s): got %v, wanted %v", tc.name, err, tc.want)
		}
	}

	after := [2]uint32{f.ReadCSR(csr.PMPCfg0), f.ReadCSR(csr.PMPAddr2)}
	if before != after {
		t.Errorf("hardware changed by failed SetRegion: before %#x, after %#x", before, after)
	}
	if got := f.ReadCSR(csr.PMPAddr1); got != 0 {
		t.Errorf("pmpaddr1 written by failed SetRegion: got %#x", got)
	}
}

func TestLockIsMonotonic(t *testing.T) {
	tbl, _ := newTable(t)
	r := Region{Start: 0x1000, End: 0x2000, Perm: PermRX, Slot: 0}
	if err := tbl.SetRegion(r); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	if err := tbl.LockRegion(0); err != nil {
		t.Fatalf("LockRegion(0): %v", err)
	}
	if err := tbl.LockRegion(0); err != nil {
		t.Errorf("second LockRegion(0): got %v, wanted nil", err)
	}
	if err := tbl.DisableRegion(0); !errors.Is(err, kernerr.ErrPMPLocked) {
		t.Errorf("DisableRegion(0) on locked slot: got %v, wanted %v", err, kernerr.ErrPMPLocked)
	}
	for _, end := range []uint32{0x2000, 0x3000, 0x10000} {
		r := Region{Start: 0x1000, End: end, Perm: PermRWX, Slot: 0}
		if err := tbl.SetRegion(r); !errors.Is(err, kernerr.ErrPMPLocked) {
			t.Errorf("SetRegion(%v) on locked slot: got %v, wanted %v", r, err, kernerr.ErrPMPLocked)
		}
	}
	got, _ := tbl.GetRegion(0)
	r.Locked = true
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("locked region changed (-want +got):\n%s", diff)
	}
	cfg, _ := tbl.Raw(0)
	if cfg&csr.PMPCfgL == 0 {
		t.Errorf("Raw(0) cfg %#x: lock bit not set", cfg)
	}
}

func TestSiblingSlotsIndependent(t *testing.T) {
	tbl, _ := newTable(t)
	a := Region{Start: 0x1000, End: 0x2000, Perm: PermRX, Slot: 8}
	b := Region{Start: 0x2000, End: 0x3000, Perm: PermRW, Slot: 9}
	for _, r := range []Region{a, b} {
		if err := tbl.SetRegion(r); err != nil {
			t.Fatalf("SetRegion(%v): %v", r, err)
		}
	}
	cfgA, addrA := tbl.Raw(8)
	cfgB, addrB := tbl.Raw(9)
	if cfgA != csr.PMPCfgATOR|uint8(PermRX) || addrA != 0x2000>>2 {
		t.Errorf("slot 8: got cfg=%#x addr=%#x", cfgA, addrA)
	}
	if cfgB != csr.PMPCfgATOR|uint8(PermRW) || addrB != 0x3000>>2 {
		t.Errorf("slot 9: got cfg=%#x addr=%#x", cfgB, addrB)
	}

	if err := tbl.DisableRegion(8); err != nil {
		t.Fatalf("DisableRegion(8): %v", err)
	}
	if cfg, addr := tbl.Raw(9); cfg != cfgB || addr != addrB {
		t.Errorf("slot 9 after disabling 8: got cfg=%#x addr=%#x, wanted cfg=%#x addr=%#x", cfg, addr, cfgB, addrB)
	}
	if cfg, addr := tbl.Raw(8); cfg != 0 || addr != 0 {
		t.Errorf("slot 8 after disable: got cfg=%#x addr=%#x, wanted 0", cfg, addr)
	}
	if err := tbl.Verify(); err != nil {
		t.Errorf("Verify(): %v", err)
	}
}

func TestDisableRecountsActive(t *testing.T) {
	tbl, _ := newTable(t)
	for _, slot := range []int{1, 4} {
		if err := tbl.SetRegion(Region{Start: 0x1000, End: 0x2000, Perm: PermR, Slot: slot}); err != nil {
			t.Fatalf("SetRegion(slot %d): %v", slot, err)
		}
	}
	if err := tbl.DisableRegion(4); err != nil {
		t.Fatalf("DisableRegion(4): %v", err)
	}
	if got, want := tbl.ActiveCount(), 2; got != want {
		t.Errorf("ActiveCount(): got %d, wanted %d", got, want)
	}
	got, _ := tbl.GetRegion(4)
	if diff := cmp.Diff(Region{Slot: 4}, got); diff != "" {
		t.Errorf("disabled shadow (-want +got):\n%s", diff)
	}
}

func TestFirstContainingRegionWins(t *testing.T) {
	tbl, _ := newTable(t)
	// Slot 0 is a read-only window inside the read/write slot 1.
	for _, r := range []Region{
		{Start: 0x1400, End: 0x1800, Perm: PermR, Slot: 0},
		{Start: 0x1000, End: 0x2000, Perm: PermRW, Slot: 1},
	} {
		if err := tbl.SetRegion(r); err != nil {
			t.Fatalf("SetRegion(%v): %v", r, err)
		}
	}
	if ok, _ := tbl.CheckAccess(0x1500, 4, true, false); ok {
		t.Errorf("CheckAccess(0x1500, write): got allow, wanted deny from slot 0")
	}
	if ok, _ := tbl.CheckAccess(0x1900, 4, true, false); !ok {
		t.Errorf("CheckAccess(0x1900, write): got deny, wanted allow from slot 1")
	}
	// Straddles slot 0's end: slot 0 does not contain it, slot 1 does.
	if ok, _ := tbl.CheckAccess(0x17fe, 4, true, false); !ok {
		t.Errorf("CheckAccess(0x17fe, write): got deny, wanted allow from slot 1")
	}
}

func TestCheckAccessDeniesUncovered(t *testing.T) {
	tbl, _ := newTable(t)
	if err := tbl.SetRegion(Region{Start: 0x1000, End: 0x2000, Perm: PermRWX, Slot: 0}); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	for _, tc := range []struct{ addr, size uint32 }{
		{0x0ffc, 4},
		{0x0fff, 2},
		{0x1ffe, 4},
		{0x2000, 1},
		{0xfffffffc, 8},
	} {
		if ok, err := tbl.CheckAccess(tc.addr, tc.size, false, false); ok || err != nil {
			t.Errorf("CheckAccess(%#x, %d): got (%t, %v), wanted (false, nil)", tc.addr, tc.size, ok, err)
		}
	}
	if ok, _ := tbl.CheckAccess(0x1fff, 0, false, false); !ok {
		t.Errorf("CheckAccess(0x1fff, 0): got deny, wanted allow")
	}
}

func TestKernelPoolScenario(t *testing.T) {
	tbl, _ := newTable(t)
	pools := []Mempool{
		{"text", 0x1000, 0x2000, PermRX, PriorityKernel},
		{"data", 0x2000, 0x3000, PermRW, PriorityKernel},
	}
	if err := tbl.InitPools(pools); err != nil {
		t.Fatalf("InitPools: %v", err)
	}
	for _, tc := range []struct {
		addr           uint32
		write, execute bool
		want           bool
	}{
		{0x1500, false, true, true},
		{0x2500, true, false, true},
		{0x2500, false, true, false},
	} {
		got, err := tbl.CheckAccess(tc.addr, 4, tc.write, tc.execute)
		if err != nil || got != tc.want {
			t.Errorf("CheckAccess(%#x, 4, w=%t, x=%t): got (%t, %v), wanted %t", tc.addr, tc.write, tc.execute, got, err, tc.want)
		}
	}
}

func TestInitPoolsErrors(t *testing.T) {
	tbl, f := newTable(t)
	if err := tbl.SetRegion(Region{Start: 0x1000, End: 0x2000, Perm: PermR, Slot: 3}); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	tooMany := make([]Mempool, MaxRegions+1)
	for i := range tooMany {
		tooMany[i] = Mempool{Start: uint32(i) * 0x100, End: uint32(i+1) * 0x100, Flags: PermR}
	}
	for _, tc := range []struct {
		name  string
		pools []Mempool
		want  error
	}{
		{"empty", nil, kernerr.ErrPMPInvalidRegion},
		{"too many", tooMany, kernerr.ErrPMPNoRegions},
		{"bad range", []Mempool{{"ok", 0, 0x100, PermR, PriorityKernel}, {"bad", 0x200, 0x100, PermR, PriorityKernel}}, kernerr.ErrPMPAddrRange},
	} {
		if err := tbl.InitPools(tc.pools); !errors.Is(err, tc.want) {
			t.Errorf("InitPools(%s): got %v, wanted %v", tc.name, err, tc.want)
		}
	}
	// Rejected pool tables leave the previous configuration in place.
	if got := f.ReadCSR(csr.PMPAddr3); got != 0x2000>>2 {
		t.Errorf("pmpaddr3 after rejected InitPools: got %#x, wanted %#x", got, 0x2000>>2)
	}
}

func TestInitKernel(t *testing.T) {
	tbl, _ := newTable(t)
	l := Layout{
		TextStart: 0x80000000, TextEnd: 0x80010000,
		DataStart: 0x80010000, DataEnd: 0x80014000,
		BSSStart: 0x80014000, BSSEnd: 0x80018000,
		HeapStart: 0x80018000, HeapEnd: 0x80080000,
		StackBottom: 0x80080000, StackTop: 0x80090000,
	}
	if err := tbl.InitKernel(l); err != nil {
		t.Fatalf("InitKernel: %v", err)
	}
	if got, want := tbl.ActiveCount(), 5; got != want {
		t.Errorf("ActiveCount(): got %d, wanted %d", got, want)
	}
	text, _ := tbl.GetRegion(0)
	if text.Perm != PermRX || text.Priority != PriorityKernel {
		t.Errorf("text region: got %v", text)
	}
	if ok, _ := tbl.CheckAccess(0x80000100, 4, true, false); ok {
		t.Errorf("write to kernel text: got allow, wanted deny")
	}
	if ok, _ := tbl.CheckAccess(0x8008fffc, 4, true, false); !ok {
		t.Errorf("write to kernel stack: got deny, wanted allow")
	}
	if slot, err := tbl.FreeSlot(); err != nil || slot != 5 {
		t.Errorf("FreeSlot(): got (%d, %v), wanted (5, nil)", slot, err)
	}
}

func TestFreeSlotExhausted(t *testing.T) {
	tbl, _ := newTable(t)
	for i := 0; i < MaxRegions; i++ {
		if err := tbl.SetRegion(Region{Start: uint32(i) * 0x100, End: uint32(i+1) * 0x100, Perm: PermR, Slot: i}); err != nil {
			t.Fatalf("SetRegion(slot %d): %v", i, err)
		}
	}
	if _, err := tbl.FreeSlot(); !errors.Is(err, kernerr.ErrPMPNoRegions) {
		t.Errorf("FreeSlot() with all slots used: got %v, wanted %v", err, kernerr.ErrPMPNoRegions)
	}
}

func TestVerifyDetectsDivergence(t *testing.T) {
	tbl, f := newTable(t)
	if err := tbl.SetRegion(Region{Start: 0x1000, End: 0x2000, Perm: PermRW, Slot: 5}); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	f.WriteCSR(csr.PMPAddr5, 0)
	if err := tbl.Verify(); err == nil {
		t.Errorf("Verify() after tampering with pmpaddr5: got nil, wanted error")
	}
}

func TestPermAndPriorityStrings(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Perm
	}{
		{"r", PermR},
		{"rw", PermRW},
		{"r-x", PermRX},
		{"RWX", PermRWX},
		{"", 0},
	} {
		got, err := ParsePerm(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParsePerm(%q): got (%v, %v), wanted %v", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParsePerm("rq"); err == nil {
		t.Errorf("ParsePerm(%q): got nil error", "rq")
	}
	if got, want := PermRX.String(), "r-x"; got != want {
		t.Errorf("PermRX.String(): got %q, wanted %q", got, want)
	}
	if p, err := ParsePriority("Temporary"); err != nil || p != PriorityTemporary {
		t.Errorf("ParsePriority(Temporary): got (%v, %v)", p, err)
	}
	if got, want := PriorityStack.String(), "stack"; got != want {
		t.Errorf("PriorityStack.String(): got %q, wanted %q", got, want)
	}
}
