// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bitops

import (
	"math/rand"
	"testing"
	"time"
)

func setUp(t *testing.T) *rand.Rand {
	seed := time.Now().UTC().UnixNano()
	t.Log("Seed is ", seed)
	return rand.New(rand.NewSource(seed))
}

// ffs and clz are naive reference implementations checked against the
// math/bits-backed versions in bits.go.
func ffs(x uint64) uint {
	var n uint
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

func clz(x uint64) uint {
	var n uint
	for i := 63; i >= 0; i-- {
		if x&(1<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

func TestFfs(t *testing.T) {
	r := setUp(t)

	for i := 0; i < 100; i++ {
		x := uint64(r.Int63())
		if x == 0 {
			continue
		}
		expected := ffs(x)
		if actual := FFS(x); actual != expected {
			t.Errorf("FFS(%#x) = %v; want %v\n", x, actual, expected)
		}
	}
}

func TestClz(t *testing.T) {
	r := setUp(t)

	for i := 0; i < 100; i++ {
		x := uint64(r.Int63())
		if x == 0 {
			continue
		}
		expected := clz(x)
		if actual := CLZ(x); actual != expected {
			t.Errorf("CLZ(%#x) = %v; want %v\n", x, actual, expected)
		}
	}
}

func TestPopcount64(t *testing.T) {
	cases := []struct {
		x    uint64
		want uint
	}{
		{0, 0},
		{1, 1},
		{0xFF, 8},
		{0xFFFFFFFFFFFFFFFF, 64},
		{0xAAAAAAAAAAAAAAAA, 32},
	}
	for _, c := range cases {
		if got := Popcount64(c.x); got != c.want {
			t.Errorf("Popcount64(%#x) = %v; want %v", c.x, got, c.want)
		}
	}
}
