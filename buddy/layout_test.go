// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/h0kd33/scoutfs-kmod-dev/block"
)

func TestSuperblockRoundTrip(t *testing.T) {
	want := Superblock{
		TotalBlocks: 1 << 20,
		BuddyBlocks: 128,
		BuddyBMRef:  block.Ref{Blkno: 2, Seq: 7},
		BuddyIndRef: block.Ref{Blkno: 130, Seq: 3},
	}

	buf, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Superblock
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSuperblockUnmarshalShortBuffer(t *testing.T) {
	var s Superblock
	if err := s.UnmarshalBinary(make([]byte, 4)); err == nil {
		t.Fatal("UnmarshalBinary with a short buffer should fail")
	}
}

func TestBuddyBlockOrderCountRoundTrip(t *testing.T) {
	buf := make([]byte, block.Size)
	bud := newBuddyBlock(buf)

	bud.addOrderCount(3, 5)
	bud.addOrderCount(3, -2)

	if got := bud.orderCount(3); got != 3 {
		t.Fatalf("orderCount(3) = %d, want 3", got)
	}
	for i := uint(0); i < Orders; i++ {
		if i == 3 {
			continue
		}
		if got := bud.orderCount(i); got != 0 {
			t.Fatalf("orderCount(%d) = %d, want 0", i, got)
		}
	}
}

func TestIndirectBlockSlotRoundTrip(t *testing.T) {
	buf := make([]byte, block.Size)
	ind := newIndirectBlock(buf)

	rec := indirectSlotRecord{Ref: block.Ref{Blkno: 9001, Seq: 42}, FreeOrders: 0x85}
	ind.setSlot(17, rec)

	got := ind.slot(17)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("slot round trip mismatch (-want +got):\n%s", diff)
	}

	// an untouched slot must read back as the zero value.
	if z := ind.slot(200); !z.Ref.Zero() || z.FreeOrders != 0 {
		t.Fatalf("untouched slot 200 = %+v, want zero value", z)
	}
}

func TestIndirectBlockOrderTotalRoundTrip(t *testing.T) {
	buf := make([]byte, block.Size)
	ind := newIndirectBlock(buf)

	ind.addOrderTotal(5, 100)
	ind.addOrderTotal(5, -30)

	if got := ind.orderTotal(5); got != 70 {
		t.Fatalf("orderTotal(5) = %d, want 70", got)
	}
}
