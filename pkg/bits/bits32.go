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

// Package bits includes bit manipulation helpers for 32-bit control
// registers.
package bits

// IsOn32 returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn32(mask, bits uint32) bool {
	return mask&bits == bits
}

// IsAnyOn32 returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn32(mask, bits uint32) bool {
	return mask&bits != 0
}

// Mask32 returns a uint32 with all of the given bits set.
func Mask32(is ...int) uint32 {
	ret := uint32(0)
	for _, i := range is {
		ret |= MaskOf32(i)
	}
	return ret
}

// MaskOf32 is like Mask32, but sets only a single bit (more efficiently).
func MaskOf32(i int) uint32 {
	return uint32(1) << uint32(i)
}

// FieldMask32 returns a mask covering width bits starting at shift.
func FieldMask32(shift, width uint) uint32 {
	if width >= 32 {
		return ^uint32(0) << shift
	}
	return ((uint32(1) << width) - 1) << shift
}

// Field32 extracts the width-bit field of v that starts at shift.
func Field32(v uint32, shift, width uint) uint32 {
	return (v & FieldMask32(shift, width)) >> shift
}

// SetField32 returns v with the width-bit field at shift replaced by f. Bits
// of f above width are discarded.
func SetField32(v uint32, shift, width uint, f uint32) uint32 {
	m := FieldMask32(shift, width)
	return (v &^ m) | ((f << shift) & m)
}

// Byte32 returns byte i of v, where byte 0 is the least significant.
func Byte32(v uint32, i uint) uint8 {
	return uint8(Field32(v, i*8, 8))
}

// SetByte32 returns v with byte i replaced by b. All other bytes are
// preserved.
func SetByte32(v uint32, i uint, b uint8) uint32 {
	return SetField32(v, i*8, 8, uint32(b))
}
