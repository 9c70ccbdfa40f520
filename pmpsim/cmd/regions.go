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
	"linmo.dev/linmo/pkg/pmp"
	"linmo.dev/linmo/pmpsim/cmd/util"
	"linmo.dev/linmo/pmpsim/config"
)

// Regions implements subcommands.Command for the "regions" command.
type Regions struct {
	all bool
}

// Name implements subcommands.Command.Name.
func (*Regions) Name() string {
	return "regions"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regions) Synopsis() string {
	return "print the protection regions programmed at boot"
}

// Usage implements subcommands.Command.Usage.
func (*Regions) Usage() string {
	return `regions [flags] - boot the kernel memory pools and print the region table
with the raw pmpcfg and pmpaddr values.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regions) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.all, "all", false, "also print disabled slots.")
}

// Execute implements subcommands.Command.Execute.
func (r *Regions) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := r.run(conf, os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (r *Regions) run(conf *config.Config, w io.Writer) error {
	s, err := newSimulator(conf)
	if err != nil {
		return err
	}
	return printRegions(w, s, r.all)
}

func printRegions(w io.Writer, s *simulator, all bool) error {
	pools := pmp.KernelMempools(s.conf.Layout())
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tNAME\tSTART\tEND\tPERM\tPRIORITY\tLOCKED\tPMPCFG\tPMPADDR")
	for slot := 0; slot < pmp.MaxRegions; slot++ {
		r, err := s.k.Table.GetRegion(slot)
		if err != nil {
			return err
		}
		if !r.Enabled() && !all {
			continue
		}
		name := "-"
		if fp := s.k.Mem.Resident(slot); fp != nil {
			name = fmt.Sprintf("flexpage@%#x", fp.Base)
		} else if slot < len(pools) && r.Enabled() {
			name = pools[slot].Name
		}
		cfg, addr := s.k.Table.Raw(slot)
		fmt.Fprintf(tw, "%d\t%s\t%#x\t%#x\t%v\t%v\t%t\t%#02x\t%#x\n",
			slot, name, r.Start, r.End, r.Perm, r.Priority, r.Locked, cfg, addr)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d slots active\n", s.k.Table.ActiveCount(), pmp.MaxRegions)
	return err
}
