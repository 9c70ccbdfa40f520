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

package csr

import (
	"fmt"

	"linmo.dev/linmo/pkg/bits"
)

// Priv is a privilege level as encoded in mstatus.MPP.
type Priv uint8

// Privilege levels.
const (
	PrivUser       Priv = 0
	PrivSupervisor Priv = 1
	PrivReserved   Priv = 2
	PrivMachine    Priv = 3
)

func (p Priv) String() string {
	switch p {
	case PrivUser:
		return "U"
	case PrivSupervisor:
		return "S"
	case PrivMachine:
		return "M"
	default:
		return fmt.Sprintf("Priv(%d)", uint8(p))
	}
}

// mstatus fields.
const (
	MstatusMIE  = 1 << 3
	MstatusMPIE = 1 << 7

	MstatusMPPShift = 11
	MstatusMPPWidth = 2
	MstatusMPP      = 0x3 << MstatusMPPShift
)

// MPP returns the previous privilege field of status.
func MPP(status uint32) Priv {
	return Priv(bits.Field32(status, MstatusMPPShift, MstatusMPPWidth))
}

// WithMPP returns status with the previous privilege field set to p.
func WithMPP(status uint32, p Priv) uint32 {
	return bits.SetField32(status, MstatusMPPShift, MstatusMPPWidth, uint32(p))
}

// mcause fields.
const (
	CauseInterrupt = 1 << 31
	CauseCodeMask  = CauseInterrupt - 1
)

// pmpcfg byte fields.
const (
	PMPCfgR = 1 << 0
	PMPCfgW = 1 << 1
	PMPCfgX = 1 << 2

	PMPCfgRWX = PMPCfgR | PMPCfgW | PMPCfgX

	PMPCfgAShift = 3
	PMPCfgA      = 0x3 << PMPCfgAShift
	PMPCfgAOff   = 0 << PMPCfgAShift
	PMPCfgATOR   = 1 << PMPCfgAShift

	PMPCfgL = 1 << 7
)

const (
	// MaxPMPRegions is the number of PMP slots implemented by the hart.
	MaxPMPRegions = 16

	// PMPSlotsPerCfg is the number of slot configuration bytes packed into
	// each pmpcfg register.
	PMPSlotsPerCfg = 4

	// PMPAddrShift is the shift from a byte address to pmpaddr contents. The
	// register holds bits [33:2] of the address.
	PMPAddrShift = 2
)

// pmpCfgRegs and pmpAddrRegs map a runtime slot index to its register.
var (
	pmpCfgRegs = [MaxPMPRegions / PMPSlotsPerCfg]Num{
		PMPCfg0, PMPCfg1, PMPCfg2, PMPCfg3,
	}
	pmpAddrRegs = [MaxPMPRegions]Num{
		PMPAddr0, PMPAddr1, PMPAddr2, PMPAddr3,
		PMPAddr4, PMPAddr5, PMPAddr6, PMPAddr7,
		PMPAddr8, PMPAddr9, PMPAddr10, PMPAddr11,
		PMPAddr12, PMPAddr13, PMPAddr14, PMPAddr15,
	}
)

// PMPCfgFor returns the pmpcfg register holding slot's configuration and the
// byte index of that slot within it.
//
// Precondition: 0 <= slot < MaxPMPRegions.
func PMPCfgFor(slot int) (Num, uint) {
	return pmpCfgRegs[slot/PMPSlotsPerCfg], uint(slot % PMPSlotsPerCfg)
}

// PMPAddrFor returns the pmpaddr register for slot.
//
// Precondition: 0 <= slot < MaxPMPRegions.
func PMPAddrFor(slot int) Num {
	return pmpAddrRegs[slot]
}
