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

// Package cmd holds implementations of the pmpsim commands.
package cmd

import (
	"fmt"

	"linmo.dev/linmo/pkg/kernel"
	"linmo.dev/linmo/pkg/platform/sim"
	"linmo.dev/linmo/pkg/pmp"
	"linmo.dev/linmo/pkg/ring0"
	"linmo.dev/linmo/pkg/sched"
	"linmo.dev/linmo/pmpsim/config"
)

// simulator is a booted kernel on a simulated hart.
type simulator struct {
	conf *config.Config
	m    *sim.Machine
	k    *kernel.Kernel
}

// newSimulator boots a kernel with its memory pools from conf.
func newSimulator(conf *config.Config) (*simulator, error) {
	m := sim.New(sim.Range{Base: conf.Machine.RAMBase, Size: conf.Machine.RAMSize})
	k := kernel.New(m, kernel.Options{
		KernelStackTop: conf.KernelStackTop(),
		Verify:         conf.Machine.Verify,
		MaxFlexpages:   conf.Machine.MaxFlexpages,
	})
	if err := k.Boot(pmp.KernelMempools(conf.Layout())); err != nil {
		return nil, fmt.Errorf("booting: %w", err)
	}
	return &simulator{conf: conf, m: m, k: k}, nil
}

// spawnUser creates user task i, counting from zero, in its slice of the
// user region: code in the lower half, stack in the upper half.
func (s *simulator) spawnUser(i int) (*sched.Task, error) {
	if i >= s.conf.UserTasks() {
		return nil, fmt.Errorf("user task %d does not fit in RAM", i)
	}
	u := s.conf.User
	base := u.Base + uint32(i)*u.Size
	id := uint32(i + 1)

	space, err := s.k.Mem.CreateMemSpace(id, false)
	if err != nil {
		return nil, err
	}
	code, err := s.k.Mem.CreateFlexpage(base, u.Size/2, pmp.PermRX, pmp.PriorityTemporary)
	if err != nil {
		return nil, err
	}
	if err := space.Attach(code); err != nil {
		return nil, err
	}
	stack, err := s.k.Mem.CreateFlexpage(base+u.Size/2, u.Size/2, pmp.PermRW, pmp.PriorityStack)
	if err != nil {
		return nil, err
	}
	if err := space.AttachStack(stack); err != nil {
		return nil, err
	}
	t := &sched.Task{
		ID:       id,
		User:     true,
		Space:    space,
		Entry:    base,
		StackTop: base + u.Size,
		SaveArea: u.SaveArea + uint32(i)*ring0.FrameSize,
	}
	if err := s.k.Spawn(s.m, t); err != nil {
		return nil, err
	}
	return t, nil
}
