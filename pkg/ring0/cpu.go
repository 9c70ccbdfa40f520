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

package ring0

import (
	"fmt"

	"linmo.dev/linmo/pkg/log"
)

// Dispatcher handles a trap once its context is saved.
type Dispatcher interface {
	// Dispatch is called with sp pointing at the saved frame f. It returns
	// the address of the frame to resume. When that address is sp, f is
	// written back to it after Dispatch returns, so a dispatcher resuming
	// a different context at sp must load that context into f. Any other
	// frame must already be in memory.
	Dispatch(h Hart, sp uint32, f *TrapFrame) uint32
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(h Hart, sp uint32, f *TrapFrame) uint32

// Dispatch implements Dispatcher.Dispatch.
func (fn DispatchFunc) Dispatch(h Hart, sp uint32, f *TrapFrame) uint32 {
	return fn(h, sp, f)
}

// FatalError is returned once the hart has been halted.
type FatalError struct {
	Reason string
}

// Error implements error.Error.
func (e *FatalError) Error() string {
	return "fatal: " + e.Reason
}

// CPU is the trap state of one hart.
//
// The zero value is not usable: KernelStackTop and Dispatcher must be set.
type CPU struct {
	// KernelStackTop is the top of the kernel stack. User traps build
	// their frame immediately below it.
	KernelStackTop uint32

	// Dispatcher handles every trap.
	Dispatcher Dispatcher

	// Verify, if set, is called before every exit. An error halts.
	Verify func() error

	state  State
	counts [numStates]uint64
	fatal  *FatalError
}

// State returns the state of the trap state machine.
func (c *CPU) State() State {
	return c.state
}

// Count returns how many times the state machine has entered s.
func (c *CPU) Count(s State) uint64 {
	return c.counts[s]
}

// Traps returns the number of traps taken.
func (c *CPU) Traps() uint64 {
	return c.counts[TrappedFromMachine] + c.counts[TrappedFromUser]
}

func (c *CPU) enterState(s State) {
	c.state = s
	c.counts[s]++
}

// Halt stops h for good. The returned error is also returned by every later
// call on c.
func (c *CPU) Halt(h Hart, format string, v ...any) error {
	if c.fatal != nil {
		return c.fatal
	}
	c.fatal = &FatalError{Reason: fmt.Sprintf(format, v...)}
	log.Warningf("ring0: halting: %s", c.fatal.Reason)
	c.enterState(Halted)
	h.Halt(c.fatal.Reason)
	return c.fatal
}

// Err returns the halt error, if the CPU has halted.
func (c *CPU) Err() error {
	if c.fatal == nil {
		return nil
	}
	return c.fatal
}

// HandleTrap runs one trap taken by h to completion: entry, dispatch and
// exit.
func (c *CPU) HandleTrap(h Hart) error {
	if c.fatal != nil {
		return c.fatal
	}
	sp, f, err := c.Enter(h)
	if err != nil {
		return err
	}

	c.enterState(Dispatching)
	cause, epc := f.TrapCause(), f.EPC
	next := c.Dispatcher.Dispatch(h, sp, &f)
	if c.fatal != nil {
		return c.fatal
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("ring0: %v at epc %#x: frame %#x -> %#x", cause, epc, sp, next)
	}
	if next == sp {
		if err := f.Store(h, sp); err != nil {
			return c.Halt(h, "trap: writing back frame at %#x: %v", sp, err)
		}
	}
	return c.Exit(h, next)
}
