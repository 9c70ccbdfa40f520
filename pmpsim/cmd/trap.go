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
	"text/tabwriter"

	"github.com/google/subcommands"
	"linmo.dev/linmo/pkg/csr"
	"linmo.dev/linmo/pkg/kernel"
	"linmo.dev/linmo/pkg/ring0"
	"linmo.dev/linmo/pmpsim/cmd/util"
	"linmo.dev/linmo/pmpsim/config"
)

// corruptSP is the stack pointer a misbehaving user task traps with.
const corruptSP = 0xdeadbeef

// Trap implements subcommands.Command for the "trap" command.
type Trap struct {
	corruptSP bool
}

// Name implements subcommands.Command.Name.
func (*Trap) Name() string {
	return "trap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Trap) Synopsis() string {
	return "run a user-mode system call through the trap path"
}

// Usage implements subcommands.Command.Usage.
func (*Trap) Usage() string {
	return `trap [flags] - start a user task, let it make a system call and report
where the trap frame was saved and what state the task resumed with.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Trap) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&t.corruptSP, "corrupt-sp", false, fmt.Sprintf("trap with the user stack pointer set to %#x.", corruptSP))
}

// Execute implements subcommands.Command.Execute.
func (t *Trap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := t.run(conf, os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// trapReport is what one system call looked like from the kernel side.
type trapReport struct {
	userSP   uint32
	frame    uint32
	kernelSP uint32
	savedSP  uint32
	result   uint32
	resumePC uint32
	resumeSP uint32
	scratch  uint32
	mode     csr.Priv
}

func (t *Trap) trace(conf *config.Config) (*simulator, trapReport, error) {
	var rep trapReport
	s, err := newSimulator(conf)
	if err != nil {
		return nil, rep, err
	}
	task, err := s.spawnUser(0)
	if err != nil {
		return nil, rep, err
	}
	if err := s.k.Start(s.m); err != nil {
		return nil, rep, err
	}

	s.k.CPU.Dispatcher = ring0.DispatchFunc(func(h ring0.Hart, sp uint32, f *ring0.TrapFrame) uint32 {
		rep.frame = sp
		rep.kernelSP = h.GPR(int(ring0.SP))
		rep.savedSP = f.SP
		return s.k.Dispatch(h, sp, f)
	})
	if t.corruptSP {
		s.m.SetGPR(int(ring0.SP), corruptSP)
	}
	rep.userSP = s.m.GPR(int(ring0.SP))
	s.m.SetGPR(int(ring0.A7), uint32(kernel.SysTID))
	s.m.SetPC(task.Entry + 0x40)
	s.m.Trap(uint32(ring0.ExceptionCause(ring0.ExcEcallU)), 0)
	if err := s.k.CPU.HandleTrap(s.m); err != nil {
		return nil, rep, err
	}

	rep.result = s.m.GPR(int(ring0.A0))
	rep.resumePC = s.m.PC()
	rep.resumeSP = s.m.GPR(int(ring0.SP))
	rep.scratch = s.m.ReadCSR(csr.Mscratch)
	rep.mode = s.m.Mode()
	return s, rep, nil
}

func (t *Trap) run(conf *config.Config, w io.Writer) error {
	s, rep, err := t.trace(conf)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "user sp at ecall\t%#x\n", rep.userSP)
	fmt.Fprintf(tw, "frame saved at\t%#x (kernel stack top %#x - %d)\n", rep.frame, conf.KernelStackTop(), ring0.FrameSize)
	fmt.Fprintf(tw, "sp in handler\t%#x\n", rep.kernelSP)
	fmt.Fprintf(tw, "sp saved in frame\t%#x\n", rep.savedSP)
	fmt.Fprintf(tw, "result (a0)\t%d\n", rep.result)
	fmt.Fprintf(tw, "resumed at\t%#x in %v mode\n", rep.resumePC, rep.mode)
	fmt.Fprintf(tw, "sp after return\t%#x\n", rep.resumeSP)
	fmt.Fprintf(tw, "mscratch after return\t%#x\n", rep.scratch)
	for st := ring0.Idle; st <= ring0.Halted; st++ {
		if n := s.k.CPU.Count(st); n > 0 {
			fmt.Fprintf(tw, "state %v\t%d\n", st, n)
		}
	}
	return tw.Flush()
}
