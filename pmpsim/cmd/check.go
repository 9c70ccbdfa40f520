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
	"strconv"

	"github.com/google/subcommands"
	"linmo.dev/linmo/pkg/pmp"
	"linmo.dev/linmo/pmpsim/cmd/util"
	"linmo.dev/linmo/pmpsim/config"
)

// Check implements subcommands.Command for the "check" command.
type Check struct{}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "check an access against the boot protection regions"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check ADDR SIZE [r|w|x] - report whether the region table admits the access.
Exits with status 1 when the access is denied.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Check) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 || f.NArg() > 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	ok, err := c.run(conf, os.Stdout, f.Args())
	if err != nil {
		util.Fatalf("%v", err)
	}
	if !ok {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type access struct {
	addr, size     uint32
	write, execute bool
}

func parseAccess(args []string) (access, error) {
	var a access
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", args[0], err)
	}
	size, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return a, fmt.Errorf("invalid size %q: %w", args[1], err)
	}
	a.addr, a.size = uint32(addr), uint32(size)
	if len(args) > 2 {
		switch args[2] {
		case "r":
		case "w":
			a.write = true
		case "x":
			a.execute = true
		default:
			return a, fmt.Errorf("invalid access kind %q, must be r, w or x", args[2])
		}
	}
	return a, nil
}

func (a access) String() string {
	kind := "read"
	switch {
	case a.execute:
		kind = "execute"
	case a.write:
		kind = "write"
	}
	return fmt.Sprintf("%s [%#x, %#x)", kind, a.addr, uint64(a.addr)+uint64(a.size))
}

func (*Check) run(conf *config.Config, w io.Writer, args []string) (bool, error) {
	a, err := parseAccess(args)
	if err != nil {
		return false, err
	}
	s, err := newSimulator(conf)
	if err != nil {
		return false, err
	}
	ok, err := s.k.Table.CheckAccess(a.addr, a.size, a.write, a.execute)
	if err != nil {
		return false, err
	}
	for slot := 0; slot < pmp.MaxRegions; slot++ {
		r, err := s.k.Table.GetRegion(slot)
		if err != nil {
			return false, err
		}
		if r.Contains(a.addr, a.size) {
			verdict := "denied"
			if ok {
				verdict = "allowed"
			}
			fmt.Fprintf(w, "%v: %s by slot %d %v\n", a, verdict, slot, r)
			return ok, nil
		}
	}
	fmt.Fprintf(w, "%v: denied, no region covers it\n", a)
	return false, nil
}
