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
	"linmo.dev/linmo/pkg/memprot"
	"linmo.dev/linmo/pkg/pmp"
	"linmo.dev/linmo/pmpsim/cmd/util"
	"linmo.dev/linmo/pmpsim/config"
)

// evictPageSize is the size of each flexpage the evict command maps.
const evictPageSize = 0x1000

// Evict implements subcommands.Command for the "evict" command.
type Evict struct {
	count int
}

// Name implements subcommands.Command.Name.
func (*Evict) Name() string {
	return "evict"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Evict) Synopsis() string {
	return "map more flexpages than there are free slots and show the victims"
}

// Usage implements subcommands.Command.Usage.
func (*Evict) Usage() string {
	return `evict [flags] - map flexpages of rotating priority into the user region until
slots run out, printing the victim chosen for each one that needed a slot.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Evict) SetFlags(f *flag.FlagSet) {
	f.IntVar(&e.count, "count", 14, "number of flexpages to map.")
}

// Execute implements subcommands.Command.Execute.
func (e *Evict) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := e.run(conf, os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

var evictPriorities = []pmp.Priority{pmp.PriorityStack, pmp.PriorityShared, pmp.PriorityTemporary}

// mapping records how one flexpage got its slot.
type mapping struct {
	page   *memprot.Flexpage
	slot   int
	victim string
}

func (e *Evict) mapAll(s *simulator) ([]mapping, error) {
	u := s.conf.User
	if e.count <= 0 || uint64(e.count)*evictPageSize > uint64(u.Size)*uint64(s.conf.UserTasks()) {
		return nil, fmt.Errorf("cannot map %d flexpages of %#x bytes in the user region", e.count, evictPageSize)
	}
	space, err := s.k.Mem.CreateMemSpace(1, false)
	if err != nil {
		return nil, err
	}
	var out []mapping
	for i := 0; i < e.count; i++ {
		fp, err := s.k.Mem.CreateFlexpage(u.Base+uint32(i)*evictPageSize, evictPageSize, pmp.PermRW, evictPriorities[i%len(evictPriorities)])
		if err != nil {
			return nil, err
		}
		if err := space.Attach(fp); err != nil {
			return nil, err
		}
		m := mapping{page: fp, victim: "-"}
		if _, err := s.k.Table.FreeSlot(); err != nil {
			victim, err := s.k.Mem.SelectVictim()
			if err != nil {
				return nil, fmt.Errorf("mapping %v: %w", fp, err)
			}
			m.victim = fmt.Sprintf("%#x (%v)", victim.Base, victim.Priority)
		}
		if err := s.k.Mem.Map(fp); err != nil {
			return nil, fmt.Errorf("mapping %v: %w", fp, err)
		}
		m.slot = fp.Slot()
		out = append(out, m)
	}
	return out, nil
}

func (e *Evict) run(conf *config.Config, w io.Writer) error {
	s, err := newSimulator(conf)
	if err != nil {
		return err
	}
	maps, err := e.mapAll(s)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "BASE\tPRIORITY\tSLOT\tEVICTED")
	for _, m := range maps {
		fmt.Fprintf(tw, "%#x\t%v\t%d\t%s\n", m.page.Base, m.page.Priority, m.slot, m.victim)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return printRegions(w, s, false)
}
