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

// Package kernerr contains the kernel's error values. Errors are compared by
// identity, so callers use errors.Is against the values declared here.
package kernerr

import (
	goerrors "errors"
	"fmt"

	"linmo.dev/linmo/pkg/errors"
)

var (
	noError *errors.Error = nil
	ErrFail               = errors.New(errors.Fail, "generic failure")

	// Scheduler and tasks.
	ErrNoTasks          = errors.New(errors.NoTasks, "no ready tasks")
	ErrKCBAlloc         = errors.New(errors.KCBAlloc, "KCB allocation")
	ErrTCBAlloc         = errors.New(errors.TCBAlloc, "TCB allocation")
	ErrStackAlloc       = errors.New(errors.StackAlloc, "stack allocation")
	ErrTaskCantRemove   = errors.New(errors.TaskCantRemove, "task cannot be removed")
	ErrTaskNotFound     = errors.New(errors.TaskNotFound, "task not found")
	ErrTaskCantSuspend  = errors.New(errors.TaskCantSuspend, "cannot suspend task")
	ErrTaskCantResume   = errors.New(errors.TaskCantResume, "cannot resume task")
	ErrTaskInvalidPrio  = errors.New(errors.TaskInvalidPrio, "invalid task priority")
	ErrTaskInvalidEntry = errors.New(errors.TaskInvalidEntry, "invalid task entry point")
	ErrTaskBusy         = errors.New(errors.TaskBusy, "resource busy")
	ErrNotOwner         = errors.New(errors.NotOwner, "operation not permitted")

	// Memory integrity.
	ErrStackCheck  = errors.New(errors.StackCheck, "stack corruption")
	ErrHeapCorrupt = errors.New(errors.HeapCorrupt, "heap corruption")

	// Memory protection.
	ErrPMPInvalidRegion = errors.New(errors.PMPInvalidRegion, "invalid PMP region parameters")
	ErrPMPNoRegions     = errors.New(errors.PMPNoRegions, "no free PMP regions")
	ErrPMPLocked        = errors.New(errors.PMPLocked, "PMP region is locked")
	ErrPMPSizeMismatch  = errors.New(errors.PMPSizeMismatch, "PMP region size mismatch")
	ErrPMPAddrRange     = errors.New(errors.PMPAddrRange, "PMP address range is invalid")
	ErrPMPNotInit       = errors.New(errors.PMPNotInit, "PMP not initialized")

	// IPC and synchronization.
	ErrPipeAlloc    = errors.New(errors.PipeAlloc, "pipe allocation")
	ErrPipeDealloc  = errors.New(errors.PipeDealloc, "pipe deallocation")
	ErrSemAlloc     = errors.New(errors.SemAlloc, "semaphore allocation")
	ErrSemDealloc   = errors.New(errors.SemDealloc, "semaphore deallocation")
	ErrSemOperation = errors.New(errors.SemOperation, "semaphore operation")
	ErrMQNotEmpty   = errors.New(errors.MQNotEmpty, "message queue not empty")
	ErrTimeout      = errors.New(errors.Timeout, "operation timed out")

	ErrUnknown = errors.New(errors.Unknown, "unknown error")
)

// ErrAlloc is returned when a kernel object cannot be allocated. Kernel object
// allocation has no dedicated code and reports a generic failure.
var ErrAlloc = &allocError{}

type allocError struct{}

func (*allocError) Error() string { return "kernel object allocation failed" }

var errorSlice = []*errors.Error{
	ErrNoTasks,
	ErrKCBAlloc,
	ErrTCBAlloc,
	ErrStackAlloc,
	ErrTaskCantRemove,
	ErrTaskNotFound,
	ErrTaskCantSuspend,
	ErrTaskCantResume,
	ErrTaskInvalidPrio,
	ErrTaskInvalidEntry,
	ErrTaskBusy,
	ErrNotOwner,
	ErrStackCheck,
	ErrHeapCorrupt,
	ErrPMPInvalidRegion,
	ErrPMPNoRegions,
	ErrPMPLocked,
	ErrPMPSizeMismatch,
	ErrPMPAddrRange,
	ErrPMPNotInit,
	ErrPipeAlloc,
	ErrPipeDealloc,
	ErrSemAlloc,
	ErrSemDealloc,
	ErrSemOperation,
	ErrMQNotEmpty,
	ErrTimeout,
	ErrUnknown,
}

func init() {
	for i, e := range errorSlice {
		if want := errors.NoTasks + errors.Code(i); e.Code() != want {
			panic(fmt.Sprintf("kernerr table out of order at %d: got code %d, wanted %d", i, e.Code(), want))
		}
	}
}

// FromCode returns the error value for code, nil for OK.
func FromCode(code errors.Code) error {
	switch {
	case code == errors.OK:
		return noError
	case code == errors.Fail:
		return ErrFail
	case code >= errors.NoTasks && code <= errors.Unknown:
		return errorSlice[code-errors.NoTasks]
	default:
		return ErrUnknown
	}
}

// ToCode converts err to the result code handed back to a task. A nil error is
// OK. Errors that carry no code report Fail.
func ToCode(err error) errors.Code {
	if err == nil {
		return errors.OK
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		if e == nil {
			return errors.OK
		}
		return e.Code()
	}
	return errors.Fail
}

// Equals compares a *errors.Error to a generic error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	return goerrors.Is(err, e)
}
