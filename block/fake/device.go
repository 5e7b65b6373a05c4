// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fake provides an in-memory block.Device for tests.
package fake

import (
	"errors"
	"io"
)

// Device is a block.Device backed by a plain byte slice. The zero value is
// not usable; construct with make([]byte, size) and a conversion, e.g.
// fake.Device(make([]byte, size)).
type Device []byte

// ErrOutOfRange is returned by ReadAt/WriteAt when the requested range
// falls outside the device.
var ErrOutOfRange = errors.New("fake: offset out of range")

// ReadAt implements block.Device.
func (d Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(d)) {
		return 0, ErrOutOfRange
	}
	n := copy(p, d[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements block.Device.
func (d Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(d)) {
		return 0, ErrOutOfRange
	}
	n := copy(d[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Flush implements block.Device. It's a no-op: there is nothing backing
// this device beyond the in-process slice.
func (d Device) Flush() error {
	return nil
}

// DeviceSize implements block.Device.
func (d Device) DeviceSize() int64 {
	return int64(len(d))
}

// Close implements block.Device.
func (d Device) Close() error {
	return nil
}
