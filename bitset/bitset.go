// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bitset implements a little-endian-bit-numbered bit array over a
// caller-owned []byte, matching the Linux find_next_bit_le/test_bit_le
// convention that the on-disk allocator structures were ported from: bit i
// lives in byte i/8, at position 1<<(i%8).
package bitset

import "github.com/h0kd33/scoutfs-kmod-dev/bitops"

// Set reports the previous value of bit i and sets it.
func Set(buf []byte, i int) bool {
	byt := i / 8
	mask := byte(1) << uint(i%8)
	prev := buf[byt]&mask != 0
	buf[byt] |= mask
	return prev
}

// Clear reports the previous value of bit i and clears it.
func Clear(buf []byte, i int) bool {
	byt := i / 8
	mask := byte(1) << uint(i%8)
	prev := buf[byt]&mask != 0
	buf[byt] &^= mask
	return prev
}

// Test reports whether bit i is set.
func Test(buf []byte, i int) bool {
	byt := i / 8
	mask := byte(1) << uint(i%8)
	return buf[byt]&mask != 0
}

// FindNextSet returns the index of the first set bit at or after start,
// scanning up to (but not including) size bits. It returns size if no such
// bit exists.
//
// It scans a byte at a time using bitops.FFS on the remaining bits of the
// current byte rather than testing one bit at a time, matching the
// word-at-a-time style of the Linux find_next_bit_le this type's contract
// is modeled on.
func FindNextSet(buf []byte, size, start int) int {
	for i := start; i < size; {
		byt := i / 8
		off := uint(i % 8)
		b := buf[byt] >> off
		if b == 0 {
			i += 8 - int(off)
			continue
		}
		nr := i + int(bitops.FFS(uint64(b)))
		if nr >= size {
			return size
		}
		return nr
	}
	return size
}

// Popcount returns the number of set bits among the first size bits of buf.
func Popcount(buf []byte, size int) int {
	n := uint(0)
	full := size / 8
	for _, b := range buf[:full] {
		n += bitops.Popcount64(uint64(b))
	}
	for i := full * 8; i < size; i++ {
		if Test(buf, i) {
			n++
		}
	}
	return int(n)
}

// NumBytes returns the number of bytes needed to hold nbits bits.
func NumBytes(nbits int) int {
	return (nbits + 7) / 8
}
