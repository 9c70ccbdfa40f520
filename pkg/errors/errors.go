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

// Package errors holds the standardized error definition for the kernel.
package errors

import "fmt"

// Code is a kernel result code. Zero is success; every failure is negative.
type Code int32

// Result codes. The numbering of the failure block matches the values the
// kernel has always returned to tasks and must not be reordered.
const (
	OK   Code = 0
	Fail Code = -1
)

const (
	NoTasks Code = -16383 + iota
	KCBAlloc
	TCBAlloc
	StackAlloc
	TaskCantRemove
	TaskNotFound
	TaskCantSuspend
	TaskCantResume
	TaskInvalidPrio
	TaskInvalidEntry
	TaskBusy
	NotOwner

	StackCheck
	HeapCorrupt

	PMPInvalidRegion
	PMPNoRegions
	PMPLocked
	PMPSizeMismatch
	PMPAddrRange
	PMPNotInit

	PipeAlloc
	PipeDealloc
	SemAlloc
	SemDealloc
	SemOperation
	MQNotEmpty
	Timeout

	// Unknown must be last.
	Unknown
)

// String implements fmt.Stringer.
func (c Code) String() string {
	return fmt.Sprintf("%d", int32(c))
}

// Error represents a kernel error with a result code and message.
type Error struct {
	code    Code
	message string
}

// New creates a new *Error.
func New(code Code, message string) *Error {
	return &Error{
		code:    code,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the result code for this error.
func (e *Error) Code() Code { return e.code }
