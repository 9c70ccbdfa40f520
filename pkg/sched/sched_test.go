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

package sched

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"linmo.dev/linmo/pkg/errors/kernerr"
)

func order(r *RoundRobin, n int) []uint32 {
	var out []uint32
	for i := 0; i < n; i++ {
		t := r.Next()
		if t == nil {
			out = append(out, 0)
			continue
		}
		out = append(out, t.ID)
	}
	return out
}

func newTasks(t *testing.T, r *RoundRobin, ids ...uint32) []*Task {
	t.Helper()
	var out []*Task
	for _, id := range ids {
		task := &Task{ID: id, Entry: 0x80090000 + id*0x100}
		if err := r.Add(task); err != nil {
			t.Fatalf("Add(%d): %v", id, err)
		}
		out = append(out, task)
	}
	return out
}

func TestRoundRobinOrder(t *testing.T) {
	r := NewRoundRobin()
	newTasks(t, r, 1, 2, 3)
	if diff := cmp.Diff([]uint32{1, 2, 3, 1, 2}, order(r, 5)); diff != "" {
		t.Errorf("schedule order (-want +got):\n%s", diff)
	}
	if got := r.CurrentID(); got != 2 {
		t.Errorf("CurrentID(): got %d, wanted 2", got)
	}
}

func TestAddErrors(t *testing.T) {
	r := NewRoundRobin()
	newTasks(t, r, 1)
	if err := r.Add(&Task{ID: 1, Entry: 4}); !errors.Is(err, kernerr.ErrTaskBusy) {
		t.Errorf("Add(duplicate): got %v, wanted %v", err, kernerr.ErrTaskBusy)
	}
	if err := r.Add(&Task{ID: 2}); !errors.Is(err, kernerr.ErrTaskInvalidEntry) {
		t.Errorf("Add(no entry): got %v, wanted %v", err, kernerr.ErrTaskInvalidEntry)
	}
}

func TestRemove(t *testing.T) {
	r := NewRoundRobin()
	tasks := newTasks(t, r, 1, 2, 3)
	r.Next() // 1 running.
	if err := r.Remove(tasks[0]); err != nil {
		t.Fatalf("Remove(current): %v", err)
	}
	if r.Current() != nil {
		t.Errorf("Current() after removing it: got %v", r.Current())
	}
	if err := r.Remove(tasks[2]); err != nil {
		t.Fatalf("Remove(ready): %v", err)
	}
	if diff := cmp.Diff([]uint32{2, 2}, order(r, 2)); diff != "" {
		t.Errorf("schedule order (-want +got):\n%s", diff)
	}
	if err := r.Remove(tasks[0]); !errors.Is(err, kernerr.ErrTaskNotFound) {
		t.Errorf("Remove(dead): got %v, wanted %v", err, kernerr.ErrTaskNotFound)
	}
	if tasks[0].State != Dead {
		t.Errorf("removed task state: got %v, wanted dead", tasks[0].State)
	}
}

func TestBlockAndWake(t *testing.T) {
	r := NewRoundRobin()
	newTasks(t, r, 1, 2)
	r.Next() // 1 running.
	if err := r.BlockCurrent(); err != nil {
		t.Fatalf("BlockCurrent(): %v", err)
	}
	if diff := cmp.Diff([]uint32{2, 2}, order(r, 2)); diff != "" {
		t.Errorf("order while 1 blocked (-want +got):\n%s", diff)
	}
	if err := r.Wake(2); !errors.Is(err, kernerr.ErrTaskCantResume) {
		t.Errorf("Wake(running): got %v, wanted %v", err, kernerr.ErrTaskCantResume)
	}
	if err := r.Wake(1); err != nil {
		t.Fatalf("Wake(1): %v", err)
	}
	if err := r.Wake(9); !errors.Is(err, kernerr.ErrTaskNotFound) {
		t.Errorf("Wake(9): got %v, wanted %v", err, kernerr.ErrTaskNotFound)
	}
	if diff := cmp.Diff([]uint32{1, 2}, order(r, 2)); diff != "" {
		t.Errorf("order after wake (-want +got):\n%s", diff)
	}
}

func TestAllBlocked(t *testing.T) {
	r := NewRoundRobin()
	newTasks(t, r, 1)
	r.Next()
	if err := r.BlockCurrent(); err != nil {
		t.Fatalf("BlockCurrent(): %v", err)
	}
	if got := r.Next(); got != nil {
		t.Errorf("Next() with every task blocked: got %v, wanted nil", got)
	}
	if err := r.BlockCurrent(); !errors.Is(err, kernerr.ErrNoTasks) {
		t.Errorf("BlockCurrent() with nothing running: got %v, wanted %v", err, kernerr.ErrNoTasks)
	}
}

func TestWakeBeforeSwitch(t *testing.T) {
	r := NewRoundRobin()
	newTasks(t, r, 1, 2)
	r.Next()
	if err := r.BlockCurrent(); err != nil {
		t.Fatalf("BlockCurrent(): %v", err)
	}
	if err := r.Wake(1); err != nil {
		t.Fatalf("Wake(1): %v", err)
	}
	if diff := cmp.Diff([]uint32{2, 1, 2}, order(r, 3)); diff != "" {
		t.Errorf("schedule order (-want +got):\n%s", diff)
	}
}
