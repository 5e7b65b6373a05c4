// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

import (
	"math"

	"github.com/golang/glog"

	"github.com/h0kd33/scoutfs-kmod-dev/bitset"
	"github.com/h0kd33/scoutfs-kmod-dev/block"
)

// orderOff is the starting bit offset, within a buddy block's packed bit
// array, of the given order's own array. Order 0 gets Order0Bits bits at
// offset 0; each higher order gets half as many bits as the one below it,
// packed immediately after.
func orderOff(order uint) int {
	if order == 0 {
		return 0
	}
	return 2*Order0Bits - Order0Bits/(1<<(order-1))
}

func orderNr(order uint, nr int) int {
	return orderOff(order) + nr
}

func testBuddyBit(bud *buddyBlock, order uint, nr int) bool {
	return bitset.Test(bud.bits, orderNr(order, nr))
}

// testBuddyBitOrHigher reports whether nr, or the higher-order region that
// covers it, is marked free at order or any order above it.
func testBuddyBitOrHigher(bud *buddyBlock, order uint, nr int) bool {
	for i := order; i < Orders; i++ {
		if testBuddyBit(bud, i, nr) {
			return true
		}
		nr >>= 1
	}
	return false
}

func setBuddyBit(ind *indirectBlock, sl int, bud *buddyBlock, order uint, nr int) {
	if !bitset.Set(bud.bits, orderNr(order, nr)) {
		ind.addOrderTotal(order, 1)
		bud.addOrderCount(order, 1)
	}
}

func clearBuddyBit(ind *indirectBlock, sl int, bud *buddyBlock, order uint, nr int) {
	if bitset.Clear(bud.bits, orderNr(order, nr)) {
		ind.addOrderTotal(order, -1)
		bud.addOrderCount(order, -1)
	}
}

// noBit is returned by findNextBuddyBit when an order's bit array has no
// set bits left at or after nr.
const noBit = math.MaxInt32

// findNextBuddyBit returns the next set bit in order's bit array at or
// after nr, relative to the start of that array, or noBit if there isn't
// one.
func findNextBuddyBit(bud *buddyBlock, order uint, nr int) int {
	size := orderOff(order + 1)
	found := bitset.FindNextSet(bud.bits, size, orderNr(order, nr))
	if found >= size {
		return noBit
	}
	return found - orderOff(order)
}

// updateFreeOrders recomputes and returns the free_orders bitmap for a
// slot after its buddy block's order_counts have changed: bit i is set iff
// order i currently has at least one free extent.
func updateFreeOrders(bud *buddyBlock) uint8 {
	var free uint8
	for i := uint(0); i < Orders; i++ {
		if bud.orderCount(i) != 0 {
			free |= 1 << i
		}
	}
	return free
}

// dirtyBuddyBlock returns a dirty, initialized buddy block buffer for slot
// sl, allocating and tiling it from scratch the first time the slot is
// touched. The caller must Put the returned buffer and persist rec back
// into the indirect block's slot sl.
func (a *Allocator) dirtyBuddyBlock(ind *indirectBlock, sl int, rec *indirectSlotRecord) (block.Buffer, *buddyBlock, error) {
	if !rec.Ref.Zero() {
		buf, err := a.cache.DirtyRef(&rec.Ref, a.allocSameRegion, a.freeRegion)
		if err != nil {
			return nil, nil, wrapIO(err, "dirty buddy block for slot %d", sl)
		}
		stampHeader(buf)
		return buf, newBuddyBlock(buf.Bytes()), nil
	}

	blkno, err := a.bitmapAlloc()
	if err != nil {
		return nil, nil, err
	}

	buf, err := a.cache.DirtyNew(blkno)
	if err != nil {
		a.bitmapFree(blkno)
		return nil, nil, wrapIO(err, "allocate new buddy block for slot %d", sl)
	}
	a.cache.Zero(buf)
	stampHeader(buf)
	bud := newBuddyBlock(buf.Bytes())

	count := slotCount(a.super, sl)
	order := uint(Orders - 1)
	size := 1 << order
	nr := 0
	for count > size {
		setBuddyBit(ind, sl, bud, order, nr)
		nr++
		count -= size
	}

	for {
		if count&(1<<order) != 0 {
			setBuddyBit(ind, sl, bud, order, nr)
			nr = (nr + 1) << 1
		} else {
			nr <<= 1
		}
		if order == 0 {
			break
		}
		order--
	}

	rec.Ref = block.Ref{Blkno: buf.Blkno(), Seq: buf.Seq()}
	rec.FreeOrders = updateFreeOrders(bud)

	glog.V(2).Infof("buddy: tiled new buddy block for slot %d at blkno %d", sl, blkno)

	return buf, bud, nil
}

// findFirstFit returns the lowest-addressed free region, at order or
// higher, that is free in both bud (dirty) and stBud (stable, may be nil
// for a never-populated stable slot — in which case everything is
// considered stable-free). ok is false if no order has a fit.
func findFirstFit(super *Superblock, sl int, bud, stBud *buddyBlock, order uint) (nr int, gotOrder uint, ok bool) {
	nrs := make([]int, Orders)
	best := uint64(math.MaxUint64)
	found := false

	for {
		madeProgress := false
		for i := order; i < Orders; i++ {
			n := findNextBuddyBit(bud, i, nrs[i])
			nrs[i] = n
			if n == noBit {
				continue
			}

			if stBud != nil && !testBuddyBitOrHigher(stBud, i, n) {
				nrs[i] = n + 1
				madeProgress = true
				continue
			}

			bno := slotBuddyBlkno(super, sl, i, n)
			if bno < best {
				best = bno
				gotOrder = i
				nr = n
				found = true
			}
		}
		if !madeProgress {
			break
		}
	}

	return nr, gotOrder, found
}

// allocSlot finds and claims a free region of at least order in slot sl,
// breaking up a larger order if that's the smallest fit available, and
// freeing the unused right buddies it splits off.
func (a *Allocator) allocSlot(ind *indirectBlock, sl int, order uint) (uint64, uint, error) {
	rec := ind.slot(sl)

	buf, bud, err := a.dirtyBuddyBlock(ind, sl, &rec)
	if err != nil {
		return 0, 0, err
	}
	defer a.cache.Put(buf)

	stRec := a.stableIndirect.slot(sl)
	var stBud *buddyBlock
	var stBuf block.Buffer
	if !stRec.Ref.Zero() {
		stBuf, err = a.cache.ReadRef(stRec.Ref)
		if err != nil {
			return 0, 0, wrapIO(err, "read stable buddy block for slot %d", sl)
		}
		defer a.cache.Put(stBuf)
		stBud = newBuddyBlock(stBuf.Bytes())
	}

	nr, foundOrder, ok := findFirstFit(a.super, sl, bud, stBud, order)
	if !ok {
		ind.setSlot(sl, rec)
		return 0, 0, ErrNoSpace
	}

	blkno := slotBuddyBlkno(a.super, sl, foundOrder, nr)

	clearBuddyBit(ind, sl, bud, foundOrder, nr)
	nr <<= 1
	for i := int(foundOrder) - 1; i >= int(order); i-- {
		setBuddyBit(ind, sl, bud, uint(i), nr|1)
		nr <<= 1
	}

	rec.FreeOrders = updateFreeOrders(bud)
	ind.setSlot(sl, rec)

	return blkno, order, nil
}

// allocOrder tries every slot that claims to have order free in both the
// dirty and stable views, in slot order, stopping at the first success.
func (a *Allocator) allocOrder(order uint) (uint64, error) {
	if a.super.BuddyIndRef.Zero() || a.stable.BuddyIndRef.Zero() {
		return 0, wrapIO(errNotInitialized, "allocOrder")
	}

	indBuf, err := a.cache.DirtyRef(&a.super.BuddyIndRef, a.allocSameRegion, a.freeRegion)
	if err != nil {
		return 0, wrapIO(err, "allocOrder: dirty indirect block")
	}
	defer a.cache.Put(indBuf)
	stampHeader(indBuf)
	ind := newIndirectBlock(indBuf.Bytes())

	stIndBuf, err := a.cache.ReadRef(a.stable.BuddyIndRef)
	if err != nil {
		return 0, wrapIO(err, "allocOrder: read stable indirect block")
	}
	defer a.cache.Put(stIndBuf)
	a.stableIndirect = newIndirectBlock(stIndBuf.Bytes())

	mask := uint8(0xff << order)

	for i := 0; i < Slots; i++ {
		rec := ind.slot(i)
		stRec := a.stableIndirect.slot(i)
		if mask&rec.FreeOrders == 0 || mask&stRec.FreeOrders == 0 {
			continue
		}

		blkno, _, err := a.allocSlot(ind, i, order)
		if err == nil {
			return blkno, nil
		}
		if err != ErrNoSpace {
			return 0, err
		}
	}

	return 0, ErrNoSpace
}

// buddyFree merges a freed region with its free buddy at each order,
// walking upward until it finds a buddy that's still allocated or it
// reaches the highest order, which has no buddy.
func (a *Allocator) buddyFree(blkno uint64, order uint) error {
	if !validOrder(a.super, blkno, order) {
		return invalidf("buddyFree: blkno %d not aligned to order %d", blkno, order)
	}
	if a.super.BuddyIndRef.Zero() {
		return wrapIO(errNotInitialized, "buddyFree")
	}

	indBuf, err := a.cache.DirtyRef(&a.super.BuddyIndRef, a.allocSameRegion, a.freeRegion)
	if err != nil {
		return wrapIO(err, "buddyFree: dirty indirect block")
	}
	defer a.cache.Put(indBuf)
	stampHeader(indBuf)
	ind := newIndirectBlock(indBuf.Bytes())

	sl := indirectSlot(a.super, blkno)
	rec := ind.slot(sl)

	budBuf, err := a.cache.DirtyRef(&rec.Ref, a.allocSameRegion, a.freeRegion)
	if err != nil {
		return wrapIO(err, "buddyFree: dirty buddy block for slot %d", sl)
	}
	defer a.cache.Put(budBuf)
	stampHeader(budBuf)
	bud := newBuddyBlock(budBuf.Bytes())

	nr := buddyBit(a.super, blkno) >> order
	i := order
	for ; i < Orders-1; i++ {
		if !testBuddyBit(bud, i, nr^1) {
			break
		}
		clearBuddyBit(ind, sl, bud, i, nr^1)
		nr >>= 1
	}
	setBuddyBit(ind, sl, bud, i, nr)

	rec.Ref = block.Ref{Blkno: budBuf.Blkno(), Seq: budBuf.Seq()}
	rec.FreeOrders = updateFreeOrders(bud)
	ind.setSlot(sl, rec)

	return nil
}
