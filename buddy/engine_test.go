// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

import (
	"testing"

	"github.com/h0kd33/scoutfs-kmod-dev/block"
)

func TestOrderOffPacksDescendingArrays(t *testing.T) {
	if got := orderOff(0); got != 0 {
		t.Errorf("orderOff(0) = %d, want 0", got)
	}
	if got := orderOff(1); got != Order0Bits {
		t.Errorf("orderOff(1) = %d, want %d", got, Order0Bits)
	}
	// the whole packed array (order 0 through order Orders-1) must fit
	// within the block's reserved bit space, which is sized generously
	// at 2*Order0Bits rather than the exact geometric sum.
	if got := orderOff(Orders); got == 0 || got > buddyBlockBits {
		t.Errorf("orderOff(Orders) = %d, want a positive value <= %d", got, buddyBlockBits)
	}
}

func TestSetClearBuddyBitUpdatesCounts(t *testing.T) {
	buf := make([]byte, block.Size)
	bud := newBuddyBlock(buf)
	indBuf := make([]byte, block.Size)
	ind := newIndirectBlock(indBuf)

	setBuddyBit(ind, 0, bud, 3, 7)
	if !testBuddyBit(bud, 3, 7) {
		t.Fatal("bit not set after setBuddyBit")
	}
	if bud.orderCount(3) != 1 {
		t.Fatalf("orderCount(3) = %d, want 1", bud.orderCount(3))
	}
	if ind.orderTotal(3) != 1 {
		t.Fatalf("orderTotal(3) = %d, want 1", ind.orderTotal(3))
	}

	// setting an already-set bit must not double count.
	setBuddyBit(ind, 0, bud, 3, 7)
	if bud.orderCount(3) != 1 {
		t.Fatalf("orderCount(3) after re-set = %d, want 1", bud.orderCount(3))
	}

	clearBuddyBit(ind, 0, bud, 3, 7)
	if testBuddyBit(bud, 3, 7) {
		t.Fatal("bit still set after clearBuddyBit")
	}
	if bud.orderCount(3) != 0 {
		t.Fatalf("orderCount(3) after clear = %d, want 0", bud.orderCount(3))
	}
	if ind.orderTotal(3) != 0 {
		t.Fatalf("orderTotal(3) after clear = %d, want 0", ind.orderTotal(3))
	}

	// clearing an already-clear bit must not go negative.
	clearBuddyBit(ind, 0, bud, 3, 7)
	if bud.orderCount(3) != 0 {
		t.Fatalf("orderCount(3) after redundant clear = %d, want 0", bud.orderCount(3))
	}
}

func TestTestBuddyBitOrHigher(t *testing.T) {
	buf := make([]byte, block.Size)
	bud := newBuddyBlock(buf)
	indBuf := make([]byte, block.Size)
	ind := newIndirectBlock(indBuf)

	// a single order-5 bit at nr=2 covers order-0 nr in [2<<5, 3<<5).
	setBuddyBit(ind, 0, bud, 5, 2)

	if !testBuddyBitOrHigher(bud, 0, 2<<5) {
		t.Error("order-0 nr at the start of the order-5 region should be covered")
	}
	if !testBuddyBitOrHigher(bud, 3, 2<<2) {
		t.Error("order-3 nr within the order-5 region should be covered")
	}
	if testBuddyBitOrHigher(bud, 0, (3<<5)+1) {
		t.Error("order-0 nr outside the order-5 region should not be covered")
	}
}

func TestFindNextBuddyBit(t *testing.T) {
	buf := make([]byte, block.Size)
	bud := newBuddyBlock(buf)
	indBuf := make([]byte, block.Size)
	ind := newIndirectBlock(indBuf)

	setBuddyBit(ind, 0, bud, 2, 5)
	setBuddyBit(ind, 0, bud, 2, 9)

	if got := findNextBuddyBit(bud, 2, 0); got != 5 {
		t.Errorf("findNextBuddyBit from 0 = %d, want 5", got)
	}
	if got := findNextBuddyBit(bud, 2, 6); got != 9 {
		t.Errorf("findNextBuddyBit from 6 = %d, want 9", got)
	}
	if got := findNextBuddyBit(bud, 2, 10); got != noBit {
		t.Errorf("findNextBuddyBit from 10 = %d, want noBit", got)
	}
}

func TestUpdateFreeOrders(t *testing.T) {
	buf := make([]byte, block.Size)
	bud := newBuddyBlock(buf)
	indBuf := make([]byte, block.Size)
	ind := newIndirectBlock(indBuf)

	if got := updateFreeOrders(bud); got != 0 {
		t.Fatalf("updateFreeOrders on empty block = %#x, want 0", got)
	}

	setBuddyBit(ind, 0, bud, 0, 1)
	setBuddyBit(ind, 0, bud, 6, 1)

	want := uint8(1<<0 | 1<<6)
	if got := updateFreeOrders(bud); got != want {
		t.Fatalf("updateFreeOrders = %#x, want %#x", got, want)
	}
}
