// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

import (
	"github.com/h0kd33/scoutfs-kmod-dev/bitops"
	"github.com/h0kd33/scoutfs-kmod-dev/block"
)

// Fixed geometry constants. Unlike total_blocks and buddy_blocks, which vary
// per volume and live in the Superblock, these shape the on-disk structures
// themselves and are compiled in.
const (
	// BMBlkno is the first block of the PAIR region: two alternating
	// twin copies of the bitmap block.
	BMBlkno = 2
	// BMNr is the number of blocks in the PAIR region.
	BMNr = 2
	// Order0Bits is the number of order-0 (single block) buddy bits a
	// single buddy block's bitmap tracks, and therefore the number of
	// blocks one indirect slot covers.
	Order0Bits = 4096
	// Slots is the number of indirect block slots, and therefore the
	// largest BUDDY region this single-indirect-block layout can
	// address: Slots * Order0Bits blocks.
	Slots = 256
	// Orders is the number of buddy orders, order 0 .. Orders-1.
	Orders = 8
)

// Superblock is the allocator-relevant subset of the volume superblock: the
// fields scoutfs_buddy_alloc et al. need to find the bitmap and indirect
// blocks and know the device's size. A real superblock carries much more;
// callers embed this or keep a parallel stable copy the way the allocator's
// dual-view design requires (see NewAllocator and Allocator.Refresh).
type Superblock struct {
	TotalBlocks uint64
	BuddyBlocks uint32
	BuddyBMRef  block.Ref
	BuddyIndRef block.Ref
}

// MarshalBinary encodes s as it is stored in the volume superblock:
// total_blocks (8), buddy_blocks (4, plus 4 bytes padding), buddy_bm_ref
// (16), buddy_ind_ref (16).
func (s Superblock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, superblockSize)
	bitops.PutLE64(buf[0:8], s.TotalBlocks)
	bitops.PutLE32(buf[8:12], s.BuddyBlocks)
	putRef(buf[16:32], s.BuddyBMRef)
	putRef(buf[32:48], s.BuddyIndRef)
	return buf, nil
}

// UnmarshalBinary decodes a Superblock encoded by MarshalBinary.
func (s *Superblock) UnmarshalBinary(buf []byte) error {
	if len(buf) < superblockSize {
		return invalidf("superblock: short buffer (%d bytes)", len(buf))
	}
	s.TotalBlocks = bitops.GetLE64(buf[0:8])
	s.BuddyBlocks = bitops.GetLE32(buf[8:12])
	s.BuddyBMRef = getRef(buf[16:32])
	s.BuddyIndRef = getRef(buf[32:48])
	return nil
}

const superblockSize = 48

// bitmapBlock is the PAIR/BM-region block tracking which BM-region blkno
// offsets are free for use as buddy blocks. Its bits array is exactly
// large enough for the maximum possible buddy_blocks value; in practice
// only the first buddy_blocks bits are meaningful.
type bitmapBlock struct {
	hdr  block.Header
	bits []byte
}

func newBitmapBlock(buf []byte) *bitmapBlock {
	return &bitmapBlock{
		hdr:  block.GetHeader(buf),
		bits: buf[block.HeaderSize:],
	}
}

// buddyBlockBits is the number of bits needed to hold every order's packed
// bit array: order 0 has Order0Bits bits, and the whole hierarchy packs
// into 2*Order0Bits bits (see orderOff).
const buddyBlockBits = 2 * Order0Bits
const buddyBlockBitsBytes = buddyBlockBits / 8

// buddyBlock is one slot's buddy bitmap block: a header, Orders 32-bit
// per-order free counts, and the packed per-order bit arrays.
type buddyBlock struct {
	hdr         block.Header
	orderCounts []byte // Orders * 4 bytes, little-endian uint32 each
	bits        []byte // buddyBlockBitsBytes bytes
}

const buddyOrderCountsOffset = block.HeaderSize
const buddyOrderCountsSize = Orders * 4
const buddyBitsOffset = buddyOrderCountsOffset + buddyOrderCountsSize

func newBuddyBlock(buf []byte) *buddyBlock {
	return &buddyBlock{
		hdr:         block.GetHeader(buf),
		orderCounts: buf[buddyOrderCountsOffset : buddyOrderCountsOffset+buddyOrderCountsSize],
		bits:        buf[buddyBitsOffset : buddyBitsOffset+buddyBlockBitsBytes],
	}
}

func (b *buddyBlock) orderCount(order uint) uint32 {
	return bitops.GetLE32(b.orderCounts[order*4 : order*4+4])
}

func (b *buddyBlock) addOrderCount(order uint, delta int32) {
	v := int32(b.orderCount(order)) + delta
	invariant(v >= 0, "buddy block order %d count went negative", order)
	bitops.PutLE32(b.orderCounts[order*4:order*4+4], uint32(v))
}

// indirectSlotRecord is one slot's entry in the indirect block: the ref to
// its buddy block (zero if never populated) and a bitmap of which orders
// currently have at least one free extent.
type indirectSlotRecord struct {
	Ref        block.Ref
	FreeOrders uint8
}

const indirectSlotSize = 16 + 1 // ref (blkno+seq) + free_orders, packed tight

// indirectBlock is the single indirect block the superblock's BuddyIndRef
// points to: Slots slot records plus Orders 64-bit running counts of free
// extents (set bits) at each order, used by Allocator.Bfree.
type indirectBlock struct {
	hdr         block.Header
	slots       []byte // Slots * indirectSlotSize bytes
	orderTotals []byte // Orders * 8 bytes, little-endian uint64 each
}

const indirectSlotsOffset = block.HeaderSize
const indirectSlotsSize = Slots * indirectSlotSize
const indirectOrderTotalsOffset = indirectSlotsOffset + indirectSlotsSize
const indirectOrderTotalsSize = Orders * 8

func newIndirectBlock(buf []byte) *indirectBlock {
	return &indirectBlock{
		hdr:         block.GetHeader(buf),
		slots:       buf[indirectSlotsOffset : indirectSlotsOffset+indirectSlotsSize],
		orderTotals: buf[indirectOrderTotalsOffset : indirectOrderTotalsOffset+indirectOrderTotalsSize],
	}
}

func (ind *indirectBlock) slot(sl int) indirectSlotRecord {
	off := sl * indirectSlotSize
	return indirectSlotRecord{
		Ref:        getRef(ind.slots[off : off+16]),
		FreeOrders: ind.slots[off+16],
	}
}

func (ind *indirectBlock) setSlot(sl int, rec indirectSlotRecord) {
	off := sl * indirectSlotSize
	putRef(ind.slots[off:off+16], rec.Ref)
	ind.slots[off+16] = rec.FreeOrders
}

func (ind *indirectBlock) orderTotal(order uint) uint64 {
	return bitops.GetLE64(ind.orderTotals[order*8 : order*8+8])
}

func (ind *indirectBlock) addOrderTotal(order uint, delta int64) {
	v := int64(ind.orderTotal(order)) + delta
	invariant(v >= 0, "indirect block order %d total went negative", order)
	bitops.PutLE64(ind.orderTotals[order*8:order*8+8], uint64(v))
}

// indirectBlockSize is how large a raw block buffer must be to back an
// indirectBlock: Slots*indirectSlotSize + Orders*8 + the header, which
// fits comfortably within block.Size for the constants above.
const indirectBlockSize = indirectOrderTotalsOffset + indirectOrderTotalsSize

func putRef(buf []byte, r block.Ref) {
	bitops.PutLE64(buf[0:8], r.Blkno)
	bitops.PutLE64(buf[8:16], r.Seq)
}

func getRef(buf []byte) block.Ref {
	return block.Ref{Blkno: bitops.GetLE64(buf[0:8]), Seq: bitops.GetLE64(buf[8:16])}
}
