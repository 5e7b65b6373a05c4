// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package memcache implements the block.Cache façade on top of an
// arbitrary block.Device, tracking which blocks have been cowed into the
// current transaction so repeated DirtyRef calls on the same ref are
// cheap. It's the fixture every buddy package test drives the allocator
// core through, and a reasonable starting point for a real, persistent
// implementation (a production Cache would additionally keep an LRU of
// clean buffers the way thinio.Conductor does).
package memcache

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/h0kd33/scoutfs-kmod-dev/block"
)

// Cache implements block.Cache.
type Cache struct {
	mu      sync.Mutex
	dev     block.Device
	seq     map[uint64]uint64
	dirty   map[uint64]bool
	nextSeq uint64
}

// New returns a Cache backed by dev.
func New(dev block.Device) *Cache {
	return &Cache{
		dev:   dev,
		seq:   make(map[uint64]uint64),
		dirty: make(map[uint64]bool),
	}
}

// Commit clears the current transaction's dirty set, the same way a real
// transaction commit makes the dirty superblock the new stable one: blocks
// written in this transaction are no longer "already dirty" for the next
// one, so the next write to any of them cows again.
func (c *Cache) Commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = make(map[uint64]bool)
}

type buffer struct {
	c     *Cache
	blkno uint64
	seq   uint64
	data  []byte
}

func (b *buffer) Bytes() []byte { return b.data }
func (b *buffer) Blkno() uint64 { return b.blkno }
func (b *buffer) Seq() uint64   { return b.seq }
func (b *buffer) Release() {
	if _, err := b.c.dev.WriteAt(b.data, int64(b.blkno)*block.Size); err != nil {
		glog.Errorf("memcache: writeback blkno %d failed: %v", b.blkno, err)
	}
}

// ReadRef implements block.Cache.
func (c *Cache) ReadRef(ref block.Ref) (block.Buffer, error) {
	c.mu.Lock()
	stored, ok := c.seq[ref.Blkno]
	c.mu.Unlock()

	seq := ref.Seq
	if ok {
		if stored != ref.Seq {
			return nil, block.ErrStaleRef
		}
		seq = stored
	}

	data := make([]byte, block.Size)
	if _, err := c.dev.ReadAt(data, int64(ref.Blkno)*block.Size); err != nil {
		return nil, fmt.Errorf("memcache: read blkno %d: %w", ref.Blkno, err)
	}
	return &buffer{c: c, blkno: ref.Blkno, seq: seq, data: data}, nil
}

// DirtyRef implements block.Cache.
func (c *Cache) DirtyRef(ref *block.Ref, allocSame block.AllocSameFunc, free block.FreeFunc) (block.Buffer, error) {
	c.mu.Lock()
	alreadyDirty := c.dirty[ref.Blkno]
	curSeq := c.seq[ref.Blkno]
	c.mu.Unlock()

	if alreadyDirty {
		data := make([]byte, block.Size)
		if _, err := c.dev.ReadAt(data, int64(ref.Blkno)*block.Size); err != nil {
			return nil, fmt.Errorf("memcache: read dirty blkno %d: %w", ref.Blkno, err)
		}
		return &buffer{c: c, blkno: ref.Blkno, seq: curSeq, data: data}, nil
	}

	old := ref.Blkno
	data := make([]byte, block.Size)
	if old != 0 {
		if _, err := c.dev.ReadAt(data, int64(old)*block.Size); err != nil {
			return nil, fmt.Errorf("memcache: read blkno %d for cow: %w", old, err)
		}
	}

	newBlkno, err := allocSame(old, 0)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextSeq++
	newSeq := c.nextSeq
	c.seq[newBlkno] = newSeq
	c.dirty[newBlkno] = true
	c.mu.Unlock()

	if _, err := c.dev.WriteAt(data, int64(newBlkno)*block.Size); err != nil {
		return nil, fmt.Errorf("memcache: cow write blkno %d: %w", newBlkno, err)
	}

	glog.V(2).Infof("memcache: cow %d -> %d (seq %d)", old, newBlkno, newSeq)

	ref.Blkno = newBlkno
	ref.Seq = newSeq

	if old != 0 && old != newBlkno {
		if err := free(old, 0); err != nil {
			return nil, fmt.Errorf("memcache: freeing cowed-away blkno %d: %w", old, err)
		}
		c.mu.Lock()
		delete(c.dirty, old)
		c.mu.Unlock()
	}

	return &buffer{c: c, blkno: newBlkno, seq: newSeq, data: data}, nil
}

// DirtyNew implements block.Cache.
func (c *Cache) DirtyNew(blkno uint64) (block.Buffer, error) {
	c.mu.Lock()
	c.nextSeq++
	seq := c.nextSeq
	c.seq[blkno] = seq
	c.dirty[blkno] = true
	c.mu.Unlock()

	return &buffer{c: c, blkno: blkno, seq: seq, data: make([]byte, block.Size)}, nil
}

// Zero implements block.Cache.
func (c *Cache) Zero(buf block.Buffer) {
	b := buf.Bytes()
	for i := range b {
		b[i] = 0
	}
}

// Put implements block.Cache.
func (c *Cache) Put(buf block.Buffer) {
	buf.Release()
}
