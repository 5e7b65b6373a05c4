// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapAllocRespectsStableView(t *testing.T) {
	v := newTestVolume(t, firstBlknoForTest()+Order0Bits, 4)

	first, err := v.Alloc.bitmapAlloc()
	require.NoError(t, err)
	v.commit()

	require.NoError(t, v.Alloc.bitmapFree(first))
	// no commit: stable still shows `first` allocated.

	second, err := v.Alloc.bitmapAlloc()
	require.NoError(t, err)
	require.NotEqual(t, first, second, "a freed-but-uncommitted bit must not be handed out again")
}

func TestBitmapAllocExhaustion(t *testing.T) {
	v := newTestVolume(t, firstBlknoForTest()+Order0Bits, 2)

	// buddyBlocks=2: bit 0 is reserved for the indirect block, leaving
	// exactly one free bit.
	_, err := v.Alloc.bitmapAlloc()
	require.NoError(t, err)

	_, err = v.Alloc.bitmapAlloc()
	require.ErrorIs(t, err, ErrNoSpace)
}
