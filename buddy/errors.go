// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buddy

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors the allocator returns. Callers should compare against
// these with errors.Is rather than matching on string content, since many
// internal return paths wrap them with pkg/errors context.
var (
	// ErrNoSpace is returned when no order anywhere in the tree has a
	// free extent large enough to satisfy a request, after the caller
	// has walked every slot at every order down to 0.
	ErrNoSpace = errors.New("buddy: no space")

	// ErrIO is returned when the underlying block.Device or block.Cache
	// fails. The original error's text is kept in the message, but
	// errors.Is matches only ErrIO, not the original error.
	ErrIO = errors.New("buddy: i/o error")

	// ErrInvalid is returned for caller errors: an out-of-range order,
	// a blkno outside the buddy region, or a corrupt on-disk structure
	// caught by a consistency check.
	ErrInvalid = errors.New("buddy: invalid argument")
)

func wrapIO(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrIO, "%s: %v", fmt.Sprintf(format, args...), err)
}

func invalidf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

// invariant panics if cond is false. It guards conditions that indicate
// corruption of in-memory or on-disk structures the allocator otherwise
// trusts unconditionally, the same way the kernel module's BUG_ON calls do
// for its own invariants.
func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("buddy: invariant violated: "+format, args...))
	}
}
