// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package buddy implements a copy-on-write buddy block allocator for a
// log-structured volume: a hierarchy of per-region bitmaps, indexed by a
// single indirect block, that hands out power-of-two block extents while
// only ever returning regions free in both the currently dirty and the
// last-committed stable view of the allocator state.
package buddy

import (
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/h0kd33/scoutfs-kmod-dev/bitops"
	"github.com/h0kd33/scoutfs-kmod-dev/bitset"
	"github.com/h0kd33/scoutfs-kmod-dev/block"
)

var errNotInitialized = errors.New("buddy: allocator metadata not initialized")

// Allocator is the single in-process handle to one volume's buddy
// allocator tree. All of its exported methods are safe to call
// concurrently; all except Bfree serialize on a single mutex, the same coarse
// granularity the kernel module this is modeled on uses, since every
// allocation or free can touch the shared indirect block regardless of
// which slot it lands in.
type Allocator struct {
	mu    sync.Mutex
	cache block.Cache

	// super is the volume's currently dirty superblock state; stable is
	// the last-committed copy. Both are owned by the caller (typically
	// the transaction/commit layer) and read directly — the allocator
	// never commits or rolls them back itself. See Allocator.Refresh.
	super  *Superblock
	stable *Superblock

	// stableIndirect is a per-call scratch pointer set by allocOrder
	// before it fans out to allocSlot; it's only ever read while mu is
	// held by the call that set it.
	stableIndirect *indirectBlock
}

// NewAllocator returns an Allocator over cache, using dirty as the
// allocator's live, mutable superblock view and stable as the read-only
// view of the last committed transaction. Before any Alloc/Free call both
// must have non-zero BuddyBMRef/BuddyIndRef fields, either loaded from an
// existing volume or set by calling Init (mkfs-equivalent) on the returned
// Allocator and then copying dirty into stable.
func NewAllocator(cache block.Cache, dirty, stable *Superblock) *Allocator {
	return &Allocator{cache: cache, super: dirty, stable: stable}
}

// Refresh repoints the allocator at a new stable superblock snapshot,
// called by the caller's transaction layer immediately after a commit
// makes the dirty state the new stable state.
func (a *Allocator) Refresh(stable *Superblock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stable = stable
}

// Init allocates and tiles the PAIR bitmap block and the BM-region
// indirect block for a brand new, empty volume of totalBlocks blocks with
// buddyBlocks blocks set aside in the BM region for buddy-block storage.
// It's the mkfs-equivalent bootstrap step; it must run exactly once,
// before any Alloc/Free call.
//
// Init only has a dirty view to work with — there is no prior stable
// transaction yet — so it bypasses bitmapAlloc's normal dual-view walk
// and claims the indirect block's storage directly out of the freshly
// built bitmap. The caller's transaction layer must make the resulting
// superblock the stable one (a value copy is enough) before any Alloc or
// Free call, exactly as if Init's effects were the volume's first commit.
func (a *Allocator) Init(totalBlocks uint64, buddyBlocks uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if buddyBlocks == 0 {
		return invalidf("Init: buddyBlocks must be > 0")
	}
	if bitset.NumBytes(int(buddyBlocks)) > block.Size-block.HeaderSize {
		return invalidf("Init: buddyBlocks %d doesn't fit in one bitmap block", buddyBlocks)
	}

	a.super.TotalBlocks = totalBlocks
	a.super.BuddyBlocks = buddyBlocks

	bmBuf, err := a.cache.DirtyNew(BMBlkno)
	if err != nil {
		return wrapIO(err, "Init: allocate bitmap block")
	}
	a.cache.Zero(bmBuf)
	stampHeader(bmBuf)
	bm := newBitmapBlock(bmBuf.Bytes())
	for i := uint32(0); i < buddyBlocks; i++ {
		bitset.Set(bm.bits, int(i))
	}
	// bit 0 is claimed for the indirect block itself, below.
	bitset.Clear(bm.bits, 0)
	a.super.BuddyBMRef = block.Ref{Blkno: bmBuf.Blkno(), Seq: bmBuf.Seq()}
	a.cache.Put(bmBuf)

	indBlkno := uint64(BMBlkno + BMNr)
	indBuf, err := a.cache.DirtyNew(indBlkno)
	if err != nil {
		return wrapIO(err, "Init: allocate indirect block")
	}
	a.cache.Zero(indBuf)
	stampHeader(indBuf)
	ind := newIndirectBlock(indBuf.Bytes())

	// Every slot that actually covers device blocks starts out free at
	// every order: its buddy block doesn't exist yet (dirtyBuddyBlock
	// tiles it lazily on first use), but allocOrder's per-slot scan
	// needs an accurate free_orders hint up front to find it at all.
	// Slots past the end of the device are left at their zero value so
	// the scan skips them forever instead of materializing an empty
	// buddy block for each on first touch.
	for i := 0; i < Slots && slotCount(a.super, i) > 0; i++ {
		ind.setSlot(i, indirectSlotRecord{FreeOrders: 0xff})
	}

	a.super.BuddyIndRef = block.Ref{Blkno: indBuf.Blkno(), Seq: indBuf.Seq()}
	a.cache.Put(indBuf)

	return nil
}

// allocRegion dispatches an allocation request for existing's region: the
// PAIR region's cheap xor-1 twin swap, the BM region's bitmap allocator,
// or a full buddy-order allocation. granted is order unchanged for the
// PAIR/BM regions, which have no notion of order, and the order buddyAlloc
// actually satisfied for the BUDDY region.
func (a *Allocator) allocRegion(order uint, existing uint64, rgn region) (uint64, uint, error) {
	var blkno uint64
	var err error
	granted := order

	switch rgn {
	case regionPair:
		blkno = existing ^ 1
	case regionBM:
		blkno, err = a.bitmapAlloc()
	case regionBuddy:
		blkno, granted, err = a.buddyAlloc(order)
	}

	glog.V(1).Infof("buddy: alloc region=%d order=%d existing=%d -> blkno=%d granted=%d err=%v", rgn, order, existing, blkno, granted, err)
	return blkno, granted, err
}

// allocSameRegion is the block.AllocSameFunc the allocator hands to its
// own cache.DirtyRef calls when cowing the bitmap and indirect blocks:
// the new copy must come from the same region as the block being cowed.
// The cow callback contract has no use for the granted order, so it's
// discarded here.
func (a *Allocator) allocSameRegion(existing uint64, order uint) (uint64, error) {
	blkno, _, err := a.allocRegion(order, existing, blknoRegion(a.super, existing))
	return blkno, err
}

// freeRegion is the block.FreeFunc counterpart: it's called by
// cache.DirtyRef when a cow leaves an old copy of a block behind.
func (a *Allocator) freeRegion(blkno uint64, order uint) error {
	switch blknoRegion(a.super, blkno) {
	case regionPair:
		return nil
	case regionBM:
		return a.bitmapFree(blkno)
	default:
		return a.buddyFree(blkno, order)
	}
}

// buddyAlloc finds a free extent of order, retrying at progressively
// smaller orders if the full order isn't available anywhere, and returns
// the order that was actually satisfied, matching buddy_alloc's
// `do { ret = alloc_order(...); } while (ret == -ENOSPC && order--);` retry
// loop in original_source/src/buddy.c.
func (a *Allocator) buddyAlloc(order uint) (uint64, uint, error) {
	if order >= Orders {
		return 0, 0, invalidf("buddyAlloc: order %d out of range", order)
	}

	for o := int(order); o >= 0; o-- {
		blkno, err := a.allocOrder(uint(o))
		if err == nil {
			return blkno, uint(o), nil
		}
		if err != ErrNoSpace {
			return 0, 0, err
		}
	}
	return 0, 0, ErrNoSpace
}

// Alloc allocates a free extent of at most the given order from the BUDDY
// region, retrying at progressively smaller orders — down to and including
// 0 — until one succeeds, and reports the order it actually satisfied as
// granted. ErrNoSpace is only returned once every order down to 0 has been
// tried and failed.
func (a *Allocator) Alloc(order uint) (blkno uint64, granted uint, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	blkno, granted, err = a.buddyAlloc(order)
	glog.V(1).Infof("buddy: Alloc(order=%d) -> blkno=%d granted=%d err=%v", order, blkno, granted, err)
	return blkno, granted, err
}

// AllocSame allocates a replacement block for existing's cow, in the same
// physical region existing lives in, applying the same order-to-0 retry
// buddyAlloc does when existing lives in the BUDDY region. The
// block.AllocSameFunc callback passed to Cache.DirtyRef is allocSameRegion,
// a thin adapter over the same allocRegion dispatch that does not take the
// mutex and drops granted to match that interface.
func (a *Allocator) AllocSame(order uint, existing uint64) (blkno uint64, granted uint, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocRegion(order, existing, blknoRegion(a.super, existing))
}

// Free returns a previously allocated, order-aligned extent to the
// allocator, merging it upward with any free buddy it finds. It
// implements block.FreeFunc.
func (a *Allocator) Free(blkno uint64, order uint) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if order >= Orders {
		return invalidf("Free: order %d out of range", order)
	}

	switch blknoRegion(a.super, blkno) {
	case regionPair:
		return nil
	case regionBM:
		return a.bitmapFree(blkno)
	default:
		return a.buddyFree(blkno, order)
	}
}

// FreeExtent frees every order's worth of allocation that makes up the
// unaligned range [blkno, blkno+count), decomposing it into the largest
// aligned pieces that fit. It is infallible: the caller must already own
// every block in the range (typically because it's freeing an extent it
// allocated itself, or is unwinding a failed multi-block reservation), so
// any failure here means the caller passed a range the allocator doesn't
// actually consider allocated — an internal invariant violation, not a
// recoverable error — and FreeExtent panics rather than leaving a partial
// free half-applied.
func (a *Allocator) FreeExtent(blkno, count uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for count > 0 {
		bbOrder := bitops.FFS(uint64(buddyBit(a.stable, blkno)))
		countOrder := uint(bitops.FLS(count))
		order := bbOrder
		if countOrder < order {
			order = countOrder
		}
		if order > Orders-1 {
			order = Orders - 1
		}

		size := uint64(1) << order
		err := a.buddyFreeChecked(blkno, order)
		invariant(err == nil, "FreeExtent(blkno=%d, count=%d): %v", blkno, count, err)

		blkno += size
		count -= size
	}
}

// buddyFreeChecked wraps buddyFree with a region check: every sub-extent
// FreeExtent decomposes into lands in the BUDDY region by construction,
// but rejecting anything outside it with ErrInvalid keeps the invariant
// explicit rather than assumed.
func (a *Allocator) buddyFreeChecked(blkno uint64, order uint) error {
	if blknoRegion(a.super, blkno) != regionBuddy {
		return invalidf("FreeExtent: blkno %d outside the BUDDY region", blkno)
	}
	return a.buddyFree(blkno, order)
}

// WasFree reports whether the order-aligned extent at blkno was free in
// the last stable transaction — used by callers deciding whether data
// they're about to overwrite in place is still referenced by the stable,
// crash-recoverable view of the volume.
func (a *Allocator) WasFree(blkno uint64, order uint) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stable.BuddyIndRef.Zero() {
		return false, wrapIO(errNotInitialized, "WasFree")
	}

	indBuf, err := a.cache.ReadRef(a.stable.BuddyIndRef)
	if err != nil {
		return false, wrapIO(err, "WasFree: read stable indirect block")
	}
	defer a.cache.Put(indBuf)
	ind := newIndirectBlock(indBuf.Bytes())

	sl := indirectSlot(a.stable, blkno)
	rec := ind.slot(sl)
	if rec.Ref.Zero() {
		return true, nil
	}

	budBuf, err := a.cache.ReadRef(rec.Ref)
	if err != nil {
		return false, wrapIO(err, "WasFree: read stable buddy block for slot %d", sl)
	}
	defer a.cache.Put(budBuf)
	bud := newBuddyBlock(budBuf.Bytes())

	nr := buddyBit(a.stable, blkno) >> order
	return testBuddyBitOrHigher(bud, order, nr), nil
}

// Bfree returns the approximate total number of free blocks across every
// order in the dirty indirect block. Like the implementation it's modeled
// on, this is a racy sample useful for statfs-style reporting, not a
// point-in-time exact count under concurrent allocation.
func (a *Allocator) Bfree() (uint64, error) {
	if a.super.BuddyIndRef.Zero() {
		return 0, wrapIO(errNotInitialized, "Bfree")
	}

	buf, err := a.cache.ReadRef(a.super.BuddyIndRef)
	if err != nil {
		return 0, wrapIO(err, "Bfree: read indirect block")
	}
	defer a.cache.Put(buf)
	ind := newIndirectBlock(buf.Bytes())

	var total uint64
	for i := uint(0); i < Orders; i++ {
		total += ind.orderTotal(i) << i
	}
	return total, nil
}

// SlotStat is one slot's free-order snapshot, returned by SlotStats for
// inspection tooling.
type SlotStat struct {
	Slot        int
	Ref         block.Ref
	FreeOrders  uint8
	OrderCounts [Orders]uint32
}

// SlotStats returns a snapshot of every populated slot in the dirty
// indirect block: which orders are free and each order's live count.
// Slots whose buddy block hasn't been created yet are omitted. It's
// not part of the on-disk contract — it exists to support an inspection
// CLI and tests that want to assert on more than just alloc/free return
// values.
func (a *Allocator) SlotStats() ([]SlotStat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.super.BuddyIndRef.Zero() {
		return nil, wrapIO(errNotInitialized, "SlotStats")
	}

	buf, err := a.cache.ReadRef(a.super.BuddyIndRef)
	if err != nil {
		return nil, wrapIO(err, "SlotStats: read indirect block")
	}
	defer a.cache.Put(buf)
	ind := newIndirectBlock(buf.Bytes())

	stats := make([]SlotStat, 0, Slots)
	for i := 0; i < Slots; i++ {
		rec := ind.slot(i)
		if rec.Ref.Zero() {
			continue
		}

		budBuf, err := a.cache.ReadRef(rec.Ref)
		if err != nil {
			return nil, wrapIO(err, "SlotStats: read buddy block for slot %d", i)
		}
		bud := newBuddyBlock(budBuf.Bytes())

		st := SlotStat{Slot: i, Ref: rec.Ref, FreeOrders: rec.FreeOrders}
		for o := uint(0); o < Orders; o++ {
			st.OrderCounts[o] = bud.orderCount(o)
		}
		a.cache.Put(budBuf)

		stats = append(stats, st)
	}
	return stats, nil
}
