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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"linmo.dev/linmo/pkg/kernel"
	"linmo.dev/linmo/pkg/log"
	"linmo.dev/linmo/pkg/ring0"
	"linmo.dev/linmo/pkg/sched"
	"linmo.dev/linmo/pmpsim/cmd/util"
	"linmo.dev/linmo/pmpsim/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	harts int
	tasks int
	steps int
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a preemptive workload on independent simulated harts"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - boot one kernel per hart, start user tasks and drive them with
timer interrupts and system calls, checking every result.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.harts, "harts", 4, "number of harts to simulate in parallel.")
	f.IntVar(&r.tasks, "tasks", 3, "user tasks per hart.")
	f.IntVar(&r.steps, "steps", 1000, "traps to take on each hart.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := r.run(ctx, conf, os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// hartStats summarizes one hart's run.
type hartStats struct {
	traps    uint64
	switches uint64
	syscalls int
}

// tag marks t's saved context with its ID in s0, so the register state the
// hart resumes can be matched to the task the scheduler picked.
func (s *simulator) tag(t *sched.Task) error {
	f, err := ring0.LoadFrame(s.m, t.SaveArea)
	if err != nil {
		return err
	}
	f.SetReg(ring0.S0, t.ID)
	return f.Store(s.m, t.SaveArea)
}

// checkResumed returns an error unless the hart holds the context of the
// current task: its s0 tag, its untouched stack pointer and a pc in its code.
func (s *simulator) checkResumed() error {
	cur := s.k.Sched.Current()
	if cur == nil {
		return fmt.Errorf("no task running")
	}
	pc, sp, tag := s.m.PC(), s.m.GPR(int(ring0.SP)), s.m.GPR(int(ring0.S0))
	if tag != cur.ID || sp != cur.StackTop || pc < cur.Entry || pc >= cur.Entry+s.conf.User.Size/2 {
		return fmt.Errorf("hart resumed s0=%d sp=%#x pc=%#x, but %v is current (stack %#x, code at %#x)",
			tag, sp, pc, cur, cur.StackTop, cur.Entry)
	}
	return nil
}

// drive runs r.steps traps on a freshly booted hart. Every third step is a
// system call whose result is checked; the rest are timer ticks. After every
// trap the resumed registers must belong to the current task.
func (r *Run) drive(ctx context.Context, conf *config.Config, hart int) (hartStats, error) {
	var st hartStats
	s, err := newSimulator(conf)
	if err != nil {
		return st, err
	}
	for i := 0; i < r.tasks; i++ {
		t, err := s.spawnUser(i)
		if err != nil {
			return st, err
		}
		if err := s.tag(t); err != nil {
			return st, err
		}
	}
	if err := s.k.Start(s.m); err != nil {
		return st, err
	}
	if err := s.checkResumed(); err != nil {
		return st, fmt.Errorf("hart %d start: %w", hart, err)
	}
	for step := 0; step < r.steps; step++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		cur := s.k.Sched.Current()
		if step%3 != 2 {
			s.m.Trap(uint32(ring0.InterruptCause(ring0.IntTimer)), 0)
			if err := s.k.CPU.HandleTrap(s.m); err != nil {
				return st, fmt.Errorf("hart %d step %d: %w", hart, step, err)
			}
			next := s.k.Sched.Current()
			if r.tasks > 1 && next == cur {
				return st, fmt.Errorf("hart %d step %d: tick did not preempt %v", hart, step, cur)
			}
			if next != cur {
				st.switches++
			}
		} else {
			pc := s.m.PC()
			s.m.SetGPR(int(ring0.A7), uint32(kernel.SysTID))
			s.m.Trap(uint32(ring0.ExceptionCause(ring0.ExcEcallU)), 0)
			if err := s.k.CPU.HandleTrap(s.m); err != nil {
				return st, fmt.Errorf("hart %d step %d: %w", hart, step, err)
			}
			if got := s.m.GPR(int(ring0.A0)); got != cur.ID || s.m.PC() != pc+4 {
				return st, fmt.Errorf("hart %d step %d: tid returned %d at %#x, wanted %d at %#x", hart, step, got, s.m.PC(), cur.ID, pc+4)
			}
			st.syscalls++
		}
		if err := s.checkResumed(); err != nil {
			return st, fmt.Errorf("hart %d step %d: %w", hart, step, err)
		}
	}
	st.traps = s.k.CPU.Traps()
	log.Debugf("hart %d: %+v", hart, st)
	return st, nil
}

func (r *Run) run(ctx context.Context, conf *config.Config, w io.Writer) error {
	if r.harts <= 0 || r.tasks <= 0 || r.tasks > conf.UserTasks() {
		return fmt.Errorf("invalid workload: %d harts, %d tasks (at most %d fit)", r.harts, r.tasks, conf.UserTasks())
	}
	stats := make([]hartStats, r.harts)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for hart := range stats {
		hart := hart // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			st, err := r.drive(ctx, conf, hart)
			stats[hart] = st
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "HART\tTRAPS\tSYSCALLS\tSWITCHES")
	for hart, st := range stats {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", hart, st.traps, st.syscalls, st.switches)
	}
	return tw.Flush()
}
