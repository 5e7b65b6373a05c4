// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

// region classifies a device blkno into one of the three physical ranges
// the allocator cares about.
type region int

const (
	regionPair region = iota
	regionBM
	regionBuddy
)

// blknoRegion reports which physical region blkno falls in.
func blknoRegion(super *Superblock, blkno uint64) region {
	end := uint64(BMBlkno + BMNr)
	if blkno < end {
		return regionPair
	}
	end += uint64(super.BuddyBlocks)
	if blkno < end {
		return regionBM
	}
	return regionBuddy
}

// firstBlkno is the first device blkno covered by the buddy-allocated
// BUDDY region.
func firstBlkno(super *Superblock) uint64 {
	return uint64(BMBlkno+BMNr) + uint64(super.BuddyBlocks)
}

// indirectSlot returns the indirect block slot that owns blkno.
func indirectSlot(super *Superblock, blkno uint64) int {
	return int((blkno - firstBlkno(super)) / Order0Bits)
}

// slotBuddyBlkno returns the device blkno of the nr'th order-sized region
// in slot sl.
func slotBuddyBlkno(super *Superblock, sl int, order uint, nr int) uint64 {
	return firstBlkno(super) + uint64(sl)*Order0Bits + uint64(nr)<<order
}

// slotCount returns the number of blocks actually managed by slot sl,
// clamped at the device's total_blocks so that a slot covering the tail
// of a device that isn't an exact multiple of Order0Bits doesn't claim
// blocks past the end of the device.
func slotCount(super *Superblock, sl int) int {
	first := firstBlkno(super) + uint64(sl)*Order0Bits
	remaining := int64(super.TotalBlocks) - int64(first)
	if remaining < 0 {
		return 0
	}
	if remaining > Order0Bits {
		return Order0Bits
	}
	return int(remaining)
}

// buddyBit returns the order-0 bit offset of blkno within its slot.
func buddyBit(super *Superblock, blkno uint64) int {
	return int((blkno - firstBlkno(super)) % Order0Bits)
}

// validOrder reports whether blkno could be the start of an allocation of
// the given order: its order-0 bit offset must be aligned to 2^order.
func validOrder(super *Superblock, blkno uint64, order uint) bool {
	return buddyBit(super, blkno)&((1<<order)-1) == 0
}
