// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command buddystat opens a volume image and prints the buddy allocator's
// free-block count and per-slot free-order hints, the allocator-core
// analogue of an xfs_info/df-style inspection tool.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"github.com/h0kd33/scoutfs-kmod-dev/block"
	"github.com/h0kd33/scoutfs-kmod-dev/block/file"
	"github.com/h0kd33/scoutfs-kmod-dev/block/memcache"
	"github.com/h0kd33/scoutfs-kmod-dev/buddy"
)

var (
	devicePath      = pflag.StringP("device", "d", "", "path to the volume image")
	superblockBlkno = pflag.Uint64("superblock-blkno", 0, "blkno holding the allocator superblock")
)

func main() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		glog.Errorf("buddystat: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if *devicePath == "" {
		return fmt.Errorf("buddystat: -device is required")
	}

	f, err := os.Open(*devicePath)
	if err != nil {
		return fmt.Errorf("buddystat: open %s: %w", *devicePath, err)
	}
	defer f.Close()

	dev, err := file.New(f, block.Size)
	if err != nil {
		return fmt.Errorf("buddystat: %w", err)
	}
	cache := memcache.New(dev)

	buf := make([]byte, block.Size)
	if _, err := dev.ReadAt(buf, int64(*superblockBlkno)*block.Size); err != nil {
		return fmt.Errorf("buddystat: read superblock: %w", err)
	}
	var super buddy.Superblock
	if err := super.UnmarshalBinary(buf); err != nil {
		return fmt.Errorf("buddystat: decode superblock: %w", err)
	}

	// Inspection never mutates, so the dirty and stable views are the
	// same snapshot.
	alloc := buddy.NewAllocator(cache, &super, &super)

	free, err := alloc.Bfree()
	if err != nil {
		return fmt.Errorf("buddystat: %w", err)
	}
	fmt.Printf("total_blocks %d buddy_blocks %d free_blocks %d\n",
		super.TotalBlocks, super.BuddyBlocks, free)

	stats, err := alloc.SlotStats()
	if err != nil {
		return fmt.Errorf("buddystat: %w", err)
	}
	for _, st := range stats {
		fmt.Printf("slot %3d  blkno %8d  free_orders %#04x  order_counts %v\n",
			st.Slot, st.Ref.Blkno, st.FreeOrders, st.OrderCounts)
	}
	return nil
}
