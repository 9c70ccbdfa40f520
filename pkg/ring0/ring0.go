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

// Package ring0 implements the machine-mode trap entry and exit protocol for
// a single RV32 hart running tasks in machine or user mode.
//
// While user code runs, mscratch holds the kernel stack top; while machine
// code runs it holds zero. Entry exchanges sp with mscratch and uses the
// value swapped in to tell which mode trapped, so the kernel stack is found
// even when user code has corrupted its own sp. Exit primes mscratch for the
// mode being returned to. Both halves are pure plans over a TrapFrame; the
// exchange and the final mret are the only operations delegated to the Hart.
package ring0

import (
	"fmt"

	"linmo.dev/linmo/pkg/csr"
)

// Mode is the privilege mode of interrupted or resumed code.
type Mode uint8

// Modes.
const (
	MachineMode Mode = iota
	UserMode
)

func (m Mode) String() string {
	switch m {
	case MachineMode:
		return "machine"
	case UserMode:
		return "user"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Priv returns the mstatus.MPP encoding of m.
func (m Mode) Priv() csr.Priv {
	if m == UserMode {
		return csr.PrivUser
	}
	return csr.PrivMachine
}

// modeOf decodes an MPP value. Only user and machine are supported.
func modeOf(p csr.Priv) (Mode, bool) {
	switch p {
	case csr.PrivUser:
		return UserMode, true
	case csr.PrivMachine:
		return MachineMode, true
	default:
		return 0, false
	}
}

// State is a state of the trap state machine.
type State uint8

// States, in the order a trap passes through them.
const (
	Idle State = iota
	TrappedFromMachine
	TrappedFromUser
	Dispatching
	ReturningToMachine
	ReturningToUser
	Halted

	numStates
)

var stateNames = [numStates]string{
	Idle:               "idle",
	TrappedFromMachine: "trapped-from-machine",
	TrappedFromUser:    "trapped-from-user",
	Dispatching:        "dispatching",
	ReturningToMachine: "returning-to-machine",
	ReturningToUser:    "returning-to-user",
	Halted:             "halted",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Memory is word-addressed physical memory as seen by machine mode.
type Memory interface {
	Load(addr uint32) (uint32, error)
	Store(addr, v uint32) error
}

// Hart is the platform boundary: the register file, CSRs and memory of the
// hart taking the trap, plus the few operations that cannot be expressed
// as ordinary control flow.
type Hart interface {
	Memory
	csr.Bank

	// GPR returns integer register x[i].
	GPR(i int) uint32

	// SetGPR sets integer register x[i].
	SetGPR(i int, v uint32)

	// SwapScratch atomically exchanges sp and mscratch.
	SwapScratch()

	// Mret returns from the trap to mepc at privilege mstatus.MPP.
	Mret()

	// Halt stops the hart. It does not return control to trapped code.
	Halt(reason string)
}
