// Copyright 2016 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bitset

import "testing"

func TestSetClearTest(t *testing.T) {
	buf := make([]byte, 2)

	if Test(buf, 3) {
		t.Fatal("bit 3 should start clear")
	}
	if prev := Set(buf, 3); prev {
		t.Fatal("Set should report previous value false")
	}
	if !Test(buf, 3) {
		t.Fatal("bit 3 should be set")
	}
	if prev := Set(buf, 3); !prev {
		t.Fatal("Set should report previous value true on second call")
	}
	if prev := Clear(buf, 3); !prev {
		t.Fatal("Clear should report previous value true")
	}
	if Test(buf, 3) {
		t.Fatal("bit 3 should be clear again")
	}
}

func TestFindNextSet(t *testing.T) {
	buf := make([]byte, 4)
	size := 32

	if nr := FindNextSet(buf, size, 0); nr != size {
		t.Fatalf("FindNextSet on empty bitmap = %v, want %v", nr, size)
	}

	Set(buf, 0)
	Set(buf, 9)
	Set(buf, 31)

	cases := []struct {
		start, want int
	}{
		{0, 0},
		{1, 9},
		{10, 31},
		{32, 32},
	}
	for _, c := range cases {
		if got := FindNextSet(buf, size, c.start); got != c.want {
			t.Errorf("FindNextSet(start=%d) = %v, want %v", c.start, got, c.want)
		}
	}
}

func TestPopcount(t *testing.T) {
	buf := make([]byte, 3)
	Set(buf, 0)
	Set(buf, 7)
	Set(buf, 8)
	Set(buf, 20)

	if got := Popcount(buf, 24); got != 4 {
		t.Fatalf("Popcount = %v, want 4", got)
	}
	if got := Popcount(buf, 8); got != 2 {
		t.Fatalf("Popcount(8) = %v, want 2", got)
	}
}
