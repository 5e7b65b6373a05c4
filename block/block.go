// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package block defines the block I/O façade the buddy allocator core
// consumes: a raw byte-addressable Device, and a cow-aware Cache built on
// top of one that hands out refcounted Buffers and mediates the
// allocate/free calls a copy-on-write update needs.
package block

import (
	"errors"

	"github.com/h0kd33/scoutfs-kmod-dev/bitops"
)

// Size is the fixed size, in bytes, of every block on the device. The
// allocator's bitmap and buddy structures are all exactly one Size large.
// It's larger than a typical filesystem block because the indirect block
// packs a flat array of per-slot records and has nowhere else to spill.
const Size = 8192

// ErrStaleRef is returned by Cache.ReadRef when the
// sequence number recorded in a Ref no longer matches the block's stored
// sequence number, meaning a cached copy raced a concurrent cow elsewhere.
var ErrStaleRef = errors.New("block: stale reference")

// Device is the raw backing store: a flat, byte-addressable array of
// fixed-size blocks. Implementations: block/fake (in-memory, for tests)
// and block/file (os.File backed).
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Flush() error
	DeviceSize() int64
	Close() error
}

// Ref is a crash-consistent identity for a block: its number and the
// sequence number it was written with. It is embedded in parent blocks
// (superblocks, indirect blocks, buddy block headers) so that a read of a
// stale cached copy can be detected after a crash or a racing cow.
type Ref struct {
	Blkno uint64
	Seq   uint64
}

// Zero reports whether the ref has never been populated (a slot whose
// buddy block hasn't been lazily created yet, for example).
func (r Ref) Zero() bool {
	return r.Blkno == 0
}

// HeaderSize is the size, in bytes, of the generic block Header every
// cowed or newly allocated block carries at offset 0 — the identity a
// parent's Ref is checked against.
const HeaderSize = 16

// Header is the generic (blkno, seq) identity the block layer stamps into
// every block it hands back from DirtyRef/DirtyNew, at offset 0. Every
// on-disk structure the allocator owns (bitmap block, buddy block,
// indirect block) reserves these first HeaderSize bytes for it.
type Header struct {
	Blkno uint64
	Seq   uint64
}

// Put encodes h into buf[0:HeaderSize] in little-endian byte order.
func (h Header) Put(buf []byte) {
	bitops.PutLE64(buf[0:8], h.Blkno)
	bitops.PutLE64(buf[8:16], h.Seq)
}

// GetHeader decodes a Header from buf[0:HeaderSize].
func GetHeader(buf []byte) Header {
	return Header{
		Blkno: bitops.GetLE64(buf[0:8]),
		Seq:   bitops.GetLE64(buf[8:16]),
	}
}

// Buffer is a refcounted, scoped handle over one block's bytes. Every
// caller that obtains a Buffer from a Cache must call Release on every
// exit path, typically via defer immediately after a successful call.
//
// Seq reports the sequence number the Cache assigned this exact copy of
// the block: for a buffer from ReadRef it's the stored seq that was
// checked against the Ref; for a buffer from DirtyRef or DirtyNew it's
// the newly assigned seq. Callers that embed a Ref to this block in a
// parent structure use Blkno/Seq to populate it, the same way the block
// layer's own header fields are threaded back to callers in the original
// implementation this package is modeled on.
type Buffer interface {
	Bytes() []byte
	Blkno() uint64
	Seq() uint64
	Release()
}

// AllocSameFunc routes a cow allocation to the region of an existing
// blkno. The allocator core implements it with an unexported adapter over
// the same region dispatch buddy.Allocator.AllocSame uses, and passes it
// into Cache.DirtyRef as a callback so that the block layer
// never needs to import the allocator package directly.
type AllocSameFunc func(existing uint64, order uint) (blkno uint64, err error)

// FreeFunc frees a previously allocated region. It is implemented by the
// allocator core (buddy.Allocator.Free).
type FreeFunc func(blkno uint64, order uint) error

// Cache is the cow-aware layer the allocator core actually talks to.
type Cache interface {
	// ReadRef reads the block named by ref into a refcounted buffer.
	// It fails with ErrStaleRef if the block's stored sequence number
	// doesn't match ref.Seq.
	ReadRef(ref Ref) (Buffer, error)

	// DirtyRef returns a cow-writable copy of the block named by *ref.
	// If the block is already dirty in the current transaction, the
	// existing copy is returned unchanged. Otherwise a new blkno is
	// obtained via allocSame, the block's contents are copied into it,
	// *ref is updated in place to name the new copy, and the old blkno
	// is freed via free.
	DirtyRef(ref *Ref, allocSame AllocSameFunc, free FreeFunc) (Buffer, error)

	// DirtyNew returns an uninitialized writable buffer at a specific,
	// already-allocated blkno.
	DirtyNew(blkno uint64) (Buffer, error)

	// Zero clears a buffer's bytes.
	Zero(buf Buffer)

	// Put releases a buffer. Equivalent to buf.Release().
	Put(buf Buffer)
}
