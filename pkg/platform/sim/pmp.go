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

package sim

import "linmo.dev/linmo/pkg/csr"

// AccessAllowed applies the hart's PMP matching to an access of size bytes at
// addr from privilege priv.
//
// Slots are matched in order in top-of-range mode: slot i covers
// [pmpaddr[i-1]<<2, pmpaddr[i]<<2), with slot 0 starting at zero. The lowest
// slot that matches any byte of the access decides; an access that only
// partially matches it fails. Machine mode is only checked against locked
// slots and is allowed when nothing matches. User mode is denied when
// nothing matches.
func (m *Machine) AccessAllowed(priv csr.Priv, addr, size uint32, write, execute bool) bool {
	if size == 0 {
		size = 1
	}
	lo64, hi64 := uint64(addr), uint64(addr)+uint64(size)
	regs := csr.Regs{Bank: &m.csrs}

	var prev uint64
	for slot := 0; slot < csr.MaxPMPRegions; slot++ {
		cfg := regs.PMPCfg(slot)
		top := uint64(regs.PMPAddr(slot)) << csr.PMPAddrShift
		bottom := prev
		prev = top
		if cfg&csr.PMPCfgA != csr.PMPCfgATOR || bottom >= top {
			continue
		}
		if hi64 <= bottom || lo64 >= top {
			continue
		}
		if lo64 < bottom || hi64 > top {
			return false
		}
		if priv == csr.PrivMachine && cfg&csr.PMPCfgL == 0 {
			return true
		}
		switch {
		case execute:
			return cfg&csr.PMPCfgX != 0
		case write:
			return cfg&csr.PMPCfgW != 0
		default:
			return cfg&csr.PMPCfgR != 0
		}
	}
	return priv == csr.PrivMachine
}
