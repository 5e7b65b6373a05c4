// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package file provides an os.File-backed block.Device using positional
// pread/pwrite syscalls, so concurrent readers and writers never race over
// a shared file offset the way a Seek-then-Read/Write pair would.
package file

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a block.Device backed by an *os.File.
type File struct {
	f    *os.File
	size int64
}

// New wraps f as a block.Device. blockSize is only checked to be positive;
// alignment of subsequent ReadAt/WriteAt calls is the caller's
// responsibility, and File itself works at byte granularity.
func New(f *os.File, blockSize int64) (*File, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("file: invalid block size %d", blockSize)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("file: stat: %w", err)
	}

	return &File{f: f, size: fi.Size()}, nil
}

// ReadAt implements block.Device using pread(2) so it's safe to call
// concurrently with WriteAt from other goroutines.
func (fl *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := unix.Pread(int(fl.f.Fd()), p, off)
	if err != nil {
		return n, fmt.Errorf("file: pread at %d: %w", off, err)
	}
	return n, nil
}

// WriteAt implements block.Device using pwrite(2).
func (fl *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := unix.Pwrite(int(fl.f.Fd()), p, off)
	if err != nil {
		return n, fmt.Errorf("file: pwrite at %d: %w", off, err)
	}
	if off+int64(n) > fl.size {
		fl.size = off + int64(n)
	}
	return n, nil
}

// Flush implements block.Device by issuing an fsync(2).
func (fl *File) Flush() error {
	return fl.f.Sync()
}

// DeviceSize implements block.Device.
func (fl *File) DeviceSize() int64 {
	return fl.size
}

// Close implements block.Device.
func (fl *File) Close() error {
	return fl.f.Close()
}
