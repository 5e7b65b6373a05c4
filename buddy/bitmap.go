// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

import (
	"github.com/h0kd33/scoutfs-kmod-dev/bitset"
	"github.com/h0kd33/scoutfs-kmod-dev/block"
)

// bitmapAlloc hands out a BM-region blkno to back a newly populated slot's
// buddy block. It only returns a bit that is set free in both the dirty
// and the stable bitmap block, walking the two bitmaps forward in lockstep
// until their cursors agree on the same bit, the same dual-view discipline
// the buddy engine itself uses.
func (a *Allocator) bitmapAlloc() (uint64, error) {
	if a.super.BuddyBMRef.Zero() || a.stable.BuddyBMRef.Zero() {
		return 0, wrapIO(errNotInitialized, "bitmapAlloc")
	}

	bmBuf, err := a.cache.DirtyRef(&a.super.BuddyBMRef, a.allocSameRegion, a.freeRegion)
	if err != nil {
		return 0, wrapIO(err, "bitmapAlloc: dirty bitmap block")
	}
	defer a.cache.Put(bmBuf)
	stampHeader(bmBuf)
	bm := newBitmapBlock(bmBuf.Bytes())

	stBuf, err := a.cache.ReadRef(a.stable.BuddyBMRef)
	if err != nil {
		return 0, wrapIO(err, "bitmapAlloc: read stable bitmap block")
	}
	defer a.cache.Put(stBuf)
	stBm := newBitmapBlock(stBuf.Bytes())

	size := int(a.super.BuddyBlocks)
	d, s := 0, 0
	for {
		d = bitset.FindNextSet(bm.bits, size, s)
		s = bitset.FindNextSet(stBm.bits, size, d)
		if d == s {
			break
		}
	}
	if d >= size {
		return 0, ErrNoSpace
	}

	bitset.Clear(bm.bits, d)

	return uint64(BMBlkno+BMNr) + uint64(d), nil
}

// bitmapFree returns a BM-region blkno to the dirty bitmap block.
func (a *Allocator) bitmapFree(blkno uint64) error {
	if a.super.BuddyBMRef.Zero() {
		return wrapIO(errNotInitialized, "bitmapFree")
	}

	buf, err := a.cache.DirtyRef(&a.super.BuddyBMRef, a.allocSameRegion, a.freeRegion)
	if err != nil {
		return wrapIO(err, "bitmapFree: dirty bitmap block")
	}
	defer a.cache.Put(buf)
	stampHeader(buf)
	bm := newBitmapBlock(buf.Bytes())

	nr := int(blkno - uint64(BMBlkno+BMNr))
	bitset.Set(bm.bits, nr)
	return nil
}

// stampHeader writes a block's own (blkno, seq) identity, as assigned by
// the cache that just handed it back, into the block's header bytes. The
// cache itself stays agnostic of the allocator's on-disk layouts; the
// allocator core calls this immediately after every DirtyRef/DirtyNew,
// before interpreting the rest of the buffer.
func stampHeader(buf block.Buffer) {
	block.Header{Blkno: buf.Blkno(), Seq: buf.Seq()}.Put(buf.Bytes())
}
