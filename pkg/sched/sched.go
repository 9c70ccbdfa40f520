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

// Package sched defines the task and scheduler interfaces the kernel
// dispatches against, and a round-robin scheduler for the simulator.
package sched

import (
	"fmt"

	"linmo.dev/linmo/pkg/errors/kernerr"
	"linmo.dev/linmo/pkg/ilist"
	"linmo.dev/linmo/pkg/memprot"
)

// TaskState is the scheduling state of a task.
type TaskState uint8

// Task states.
const (
	Ready TaskState = iota
	Running
	Blocked
	Dead
)

func (s TaskState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("TaskState(%d)", uint8(s))
	}
}

// Task is a schedulable thread of execution.
type Task struct {
	// readyEntry links the task into the ready queue.
	readyEntry ilist.Entry[Task]

	// ID is the task identifier. Zero is reserved.
	ID uint32

	// User is true for tasks that run in user mode.
	User bool

	// Space is the task's memory space. It may be nil for machine-mode
	// tasks, which are not confined.
	Space *memprot.MemSpace

	// Entry is where the task starts.
	Entry uint32

	// StackTop is the initial stack pointer.
	StackTop uint32

	// SaveArea is where a user task's frame is kept while it is not
	// running. User traps save onto the shared kernel stack, which the
	// next task reuses.
	SaveArea uint32

	// Frame is the address of the saved frame of a machine-mode task.
	Frame uint32

	// State is the scheduling state.
	State TaskState
}

func (t *Task) String() string {
	mode := "M"
	if t.User {
		mode = "U"
	}
	return fmt.Sprintf("task %d (%s, %v)", t.ID, mode, t.State)
}

type readyMapper struct{}

func (readyMapper) LinkerFor(t *Task) *ilist.Entry[Task] { return &t.readyEntry }

// Scheduler picks the task to run.
type Scheduler interface {
	// Current returns the running task, or nil.
	Current() *Task

	// Next makes the next task current and returns it. The running task,
	// if still runnable, goes back to the ready queue. Nil means nothing
	// can run.
	Next() *Task

	// Add makes t runnable.
	Add(t *Task) error

	// Remove retires t.
	Remove(t *Task) error
}

// TaskControl is the interface synchronization primitives use to suspend
// and resume tasks.
type TaskControl interface {
	// BlockCurrent marks the running task blocked. It stops running at the
	// next reschedule.
	BlockCurrent() error

	// Wake makes the blocked task id ready.
	Wake(id uint32) error

	// CurrentID returns the ID of the running task, or zero.
	CurrentID() uint32
}

// RoundRobin runs ready tasks in FIFO order.
type RoundRobin struct {
	ready   ilist.List[Task, readyMapper]
	current *Task
	tasks   map[uint32]*Task
}

var (
	_ Scheduler   = (*RoundRobin)(nil)
	_ TaskControl = (*RoundRobin)(nil)
)

// NewRoundRobin returns an empty scheduler.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{tasks: make(map[uint32]*Task)}
}

// Current implements Scheduler.Current.
func (r *RoundRobin) Current() *Task {
	return r.current
}

// Next implements Scheduler.Next.
func (r *RoundRobin) Next() *Task {
	if cur := r.current; cur != nil && cur.State == Running {
		cur.State = Ready
		r.ready.PushBack(cur)
	}
	next := r.ready.Front()
	if next == nil {
		r.current = nil
		return nil
	}
	r.ready.Remove(next)
	next.State = Running
	r.current = next
	return next
}

// Add implements Scheduler.Add.
func (r *RoundRobin) Add(t *Task) error {
	if t.ID == 0 || t.Entry == 0 {
		return kernerr.ErrTaskInvalidEntry
	}
	if _, ok := r.tasks[t.ID]; ok {
		return kernerr.ErrTaskBusy
	}
	r.tasks[t.ID] = t
	t.State = Ready
	r.ready.PushBack(t)
	return nil
}

// Remove implements Scheduler.Remove.
func (r *RoundRobin) Remove(t *Task) error {
	if got, ok := r.tasks[t.ID]; !ok || got != t {
		return kernerr.ErrTaskNotFound
	}
	if t.State == Ready {
		r.ready.Remove(t)
	}
	if r.current == t {
		r.current = nil
	}
	t.State = Dead
	delete(r.tasks, t.ID)
	return nil
}

// Lookup returns the task with the given ID, or nil.
func (r *RoundRobin) Lookup(id uint32) *Task {
	return r.tasks[id]
}

// Len returns the number of live tasks.
func (r *RoundRobin) Len() int {
	return len(r.tasks)
}

// BlockCurrent implements TaskControl.BlockCurrent.
func (r *RoundRobin) BlockCurrent() error {
	if r.current == nil {
		return kernerr.ErrNoTasks
	}
	r.current.State = Blocked
	return nil
}

// Wake implements TaskControl.Wake.
func (r *RoundRobin) Wake(id uint32) error {
	t, ok := r.tasks[id]
	if !ok {
		return kernerr.ErrTaskNotFound
	}
	if t.State != Blocked {
		return kernerr.ErrTaskCantResume
	}
	if r.current == t {
		// Blocked and woken before it was switched out.
		t.State = Running
		return nil
	}
	t.State = Ready
	r.ready.PushBack(t)
	return nil
}

// CurrentID implements TaskControl.CurrentID.
func (r *RoundRobin) CurrentID() uint32 {
	if r.current == nil {
		return 0
	}
	return r.current.ID
}
