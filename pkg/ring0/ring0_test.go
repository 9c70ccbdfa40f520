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

package ring0_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"linmo.dev/linmo/pkg/csr"
	"linmo.dev/linmo/pkg/platform/sim"
	"linmo.dev/linmo/pkg/ring0"
)

const (
	ramBase     = 0x80000000
	ramSize     = 0x100000
	kernelStack = 0x80090000
	userStack   = 0x800a0000
	userEntry   = 0x80090100
)

func newHart() *sim.Machine {
	return sim.New(sim.Range{Base: ramBase, Size: ramSize})
}

// enterUser puts m in user mode at userEntry with mscratch primed, as a
// previous exit to user mode would have.
func enterUser(t *testing.T, c *ring0.CPU, m *sim.Machine, sp uint32) {
	t.Helper()
	f := ring0.InitialFrame(userEntry, sp, ring0.UserMode)
	frame := uint32(kernelStack - ring0.FrameSize)
	if err := f.Store(m, frame); err != nil {
		t.Fatalf("Store initial frame: %v", err)
	}
	if err := c.Exit(m, frame); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if m.Mode() != csr.PrivUser {
		t.Fatalf("mode after Exit: got %v, wanted user", m.Mode())
	}
}

type recorder struct {
	sp     uint32
	frame  ring0.TrapFrame
	kernSP uint32
	calls  int
}

func (r *recorder) Dispatch(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
	r.calls++
	r.sp = sp
	r.frame = *f
	r.kernSP = h.GPR(int(ring0.SP))
	// Syscall return convention: result in a0, resume after ecall.
	f.SetReg(ring0.A0, 42)
	f.EPC += 4
	return sp
}

func TestUserSyscallRoundTrip(t *testing.T) {
	m := newHart()
	rec := &recorder{}
	c := &ring0.CPU{KernelStackTop: kernelStack, Dispatcher: rec}
	enterUser(t, c, m, userStack)

	if got := m.ReadCSR(csr.Mscratch); got != kernelStack {
		t.Fatalf("mscratch in user mode: got %#x, wanted %#x", got, kernelStack)
	}
	m.SetGPR(int(ring0.A7), 1)
	m.SetGPR(int(ring0.S3), 0x5353)
	m.SetPC(userEntry + 0x10)
	m.Trap(uint32(ring0.ExceptionCause(ring0.ExcEcallU)), 0)
	if err := c.HandleTrap(m); err != nil {
		t.Fatalf("HandleTrap: %v", err)
	}

	if rec.calls != 1 {
		t.Fatalf("dispatcher called %d times, wanted 1", rec.calls)
	}
	if want := uint32(kernelStack - ring0.FrameSize); rec.sp != want || rec.kernSP != want {
		t.Errorf("frame at %#x (sp %#x), wanted %#x", rec.sp, rec.kernSP, want)
	}
	if rec.frame.SP != userStack {
		t.Errorf("saved sp: got %#x, wanted %#x", rec.frame.SP, userStack)
	}
	if got := rec.frame.Reg(ring0.A7); got != 1 {
		t.Errorf("saved a7: got %d, wanted 1", got)
	}
	if got := rec.frame.TrapCause(); got != ring0.ExceptionCause(ring0.ExcEcallU) {
		t.Errorf("saved cause: got %v", got)
	}

	if m.Mode() != csr.PrivUser {
		t.Errorf("mode after return: got %v, wanted user", m.Mode())
	}
	if got := m.PC(); got != userEntry+0x14 {
		t.Errorf("pc after return: got %#x, wanted %#x", got, userEntry+0x14)
	}
	if got := m.GPR(int(ring0.A0)); got != 42 {
		t.Errorf("a0 after return: got %d, wanted 42", got)
	}
	if got := m.GPR(int(ring0.S3)); got != 0x5353 {
		t.Errorf("s3 after return: got %#x, wanted 0x5353", got)
	}
	if got := m.GPR(int(ring0.SP)); got != userStack {
		t.Errorf("sp after return: got %#x, wanted %#x", got, userStack)
	}
	if got := m.ReadCSR(csr.Mscratch); got != kernelStack {
		t.Errorf("mscratch after return: got %#x, wanted %#x", got, kernelStack)
	}

	want := map[ring0.State]uint64{
		ring0.TrappedFromUser: 1,
		ring0.Dispatching:     1,
		ring0.ReturningToUser: 2,
	}
	got := map[ring0.State]uint64{}
	for s := ring0.Idle; s <= ring0.Halted; s++ {
		if n := c.Count(s); n != 0 {
			got[s] = n
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state counts mismatch (-want +got):\n%s", diff)
	}
}

func TestCorruptedUserStack(t *testing.T) {
	m := newHart()
	rec := &recorder{}
	c := &ring0.CPU{KernelStackTop: kernelStack, Dispatcher: rec}
	enterUser(t, c, m, userStack)

	// 0xdeadbeef is neither mapped nor aligned.
	m.SetGPR(int(ring0.SP), 0xdeadbeef)
	m.Trap(uint32(ring0.ExceptionCause(ring0.ExcEcallU)), 0)
	if err := c.HandleTrap(m); err != nil {
		t.Fatalf("HandleTrap: %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("dispatcher called %d times, wanted 1", rec.calls)
	}
	if want := uint32(kernelStack - ring0.FrameSize); rec.sp != want {
		t.Errorf("frame at %#x, wanted %#x", rec.sp, want)
	}
	if rec.frame.SP != 0xdeadbeef {
		t.Errorf("saved sp: got %#x, wanted 0xdeadbeef", rec.frame.SP)
	}
	if halted, reason := m.Halted(); halted {
		t.Errorf("hart halted: %s", reason)
	}
	if got := m.GPR(int(ring0.SP)); got != 0xdeadbeef {
		t.Errorf("sp after return: got %#x, wanted it restored to 0xdeadbeef", got)
	}
}

func TestMachineTrap(t *testing.T) {
	m := newHart()
	rec := &recorder{}
	c := &ring0.CPU{KernelStackTop: kernelStack, Dispatcher: rec}
	ksp := uint32(kernelStack - 0x200)
	m.SetGPR(int(ring0.SP), ksp)
	m.SetPC(ramBase + 0x400)
	m.Trap(uint32(ring0.ExceptionCause(ring0.ExcEcallM)), 0)
	if err := c.HandleTrap(m); err != nil {
		t.Fatalf("HandleTrap: %v", err)
	}
	if want := ksp - ring0.FrameSize; rec.sp != want {
		t.Errorf("frame at %#x, wanted %#x", rec.sp, want)
	}
	if rec.frame.SP != ksp {
		t.Errorf("saved sp: got %#x, wanted %#x", rec.frame.SP, ksp)
	}
	if c.Count(ring0.TrappedFromMachine) != 1 || c.Count(ring0.ReturningToMachine) != 1 {
		t.Errorf("machine path not taken: trapped %d, returned %d", c.Count(ring0.TrappedFromMachine), c.Count(ring0.ReturningToMachine))
	}
	if m.Mode() != csr.PrivMachine {
		t.Errorf("mode after return: got %v, wanted machine", m.Mode())
	}
	if got := m.ReadCSR(csr.Mscratch); got != 0 {
		t.Errorf("mscratch after machine return: got %#x, wanted 0", got)
	}
	if got := m.GPR(int(ring0.SP)); got != ksp {
		t.Errorf("sp after return: got %#x, wanted %#x", got, ksp)
	}
}

func TestContextSwitch(t *testing.T) {
	m := newHart()
	// A second task's frame lives in its own save area.
	other := uint32(0x80070000)
	of := ring0.InitialFrame(0x80098000, 0x800b0000, ring0.UserMode)
	of.SetReg(ring0.A0, 7)
	if err := of.Store(m, other); err != nil {
		t.Fatalf("Store: %v", err)
	}
	c := &ring0.CPU{
		KernelStackTop: kernelStack,
		Dispatcher: ring0.DispatchFunc(func(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
			return other
		}),
	}
	enterUser(t, c, m, userStack)
	m.Trap(uint32(ring0.InterruptCause(ring0.IntTimer)), 0)
	if err := c.HandleTrap(m); err != nil {
		t.Fatalf("HandleTrap: %v", err)
	}
	if got := m.PC(); got != 0x80098000 {
		t.Errorf("pc: got %#x, wanted other task entry", got)
	}
	if got := m.GPR(int(ring0.SP)); got != 0x800b0000 {
		t.Errorf("sp: got %#x, wanted other task stack", got)
	}
	if got := m.GPR(int(ring0.A0)); got != 7 {
		t.Errorf("a0: got %d, wanted 7", got)
	}
}

func TestReplacedFrameWrittenBack(t *testing.T) {
	m := newHart()
	of := ring0.InitialFrame(0x80098000, 0x800b0000, ring0.UserMode)
	of.SetReg(ring0.S1, 0x5151)
	c := &ring0.CPU{
		KernelStackTop: kernelStack,
		Dispatcher: ring0.DispatchFunc(func(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
			*f = of
			return sp
		}),
	}
	enterUser(t, c, m, userStack)
	m.SetGPR(int(ring0.S1), 0x1111)
	m.Trap(uint32(ring0.InterruptCause(ring0.IntTimer)), 0)
	if err := c.HandleTrap(m); err != nil {
		t.Fatalf("HandleTrap: %v", err)
	}
	got := []uint32{m.PC(), m.GPR(int(ring0.SP)), m.GPR(int(ring0.S1))}
	want := []uint32{0x80098000, 0x800b0000, 0x5151}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resumed pc, sp, s1 (-want +got):\n%s", diff)
	}
	stored, err := ring0.LoadFrame(m, kernelStack-ring0.FrameSize)
	if err != nil {
		t.Fatalf("LoadFrame: %v", err)
	}
	if diff := cmp.Diff(of, stored); diff != "" {
		t.Errorf("frame on kernel stack (-want +got):\n%s", diff)
	}
}

func TestScratchInvariantViolationHalts(t *testing.T) {
	m := newHart()
	rec := &recorder{}
	c := &ring0.CPU{KernelStackTop: kernelStack, Dispatcher: rec}
	// Machine mode with a stale nonzero mscratch.
	m.SetGPR(int(ring0.SP), kernelStack-0x100)
	m.WriteCSR(csr.Mscratch, kernelStack)
	m.Trap(uint32(ring0.ExceptionCause(ring0.ExcIllegalInst)), 0)

	err := c.HandleTrap(m)
	var fe *ring0.FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("HandleTrap: got %v, wanted FatalError", err)
	}
	if rec.calls != 0 {
		t.Errorf("dispatcher called %d times after violation, wanted 0", rec.calls)
	}
	if halted, _ := m.Halted(); !halted {
		t.Errorf("hart not halted")
	}
	if c.State() != ring0.Halted {
		t.Errorf("State(): got %v, wanted halted", c.State())
	}
	if err := c.HandleTrap(m); !errors.Is(err, fe) {
		t.Errorf("HandleTrap after halt: got %v, wanted %v", err, fe)
	}
}

func TestExitChecks(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cpu    ring0.CPU
		status uint32
	}{
		{"no kernel stack", ring0.CPU{}, csr.WithMPP(0, csr.PrivUser)},
		{"supervisor", ring0.CPU{KernelStackTop: kernelStack}, csr.WithMPP(0, csr.PrivSupervisor)},
		{"verify fails", ring0.CPU{KernelStackTop: kernelStack, Verify: func() error { return errors.New("diverged") }}, csr.WithMPP(0, csr.PrivMachine)},
	} {
		m := newHart()
		f := ring0.TrapFrame{EPC: userEntry, Status: tc.status, SP: userStack}
		frame := uint32(kernelStack - ring0.FrameSize)
		if err := f.Store(m, frame); err != nil {
			t.Fatalf("Store: %v", err)
		}
		if err := tc.cpu.Exit(m, frame); err == nil {
			t.Errorf("Exit(%s): got nil, wanted error", tc.name)
		}
		if halted, _ := m.Halted(); !halted {
			t.Errorf("Exit(%s): hart not halted", tc.name)
		}
	}
}
