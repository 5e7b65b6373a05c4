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

import "math/bits"

// FFS returns the index (0-based) of the least significant set bit of x.
// FFS(0) is undefined and returns 64.
func FFS(x uint64) uint {
	return uint(bits.TrailingZeros64(x))
}

// CLZ returns the number of leading zero bits in x's 64-bit representation.
func CLZ(x uint64) uint {
	return uint(bits.LeadingZeros64(x))
}

// Popcount64 returns the number of set bits in x.
func Popcount64(x uint64) uint {
	return uint(bits.OnesCount64(x))
}

// FLS returns the index (0-based) of the most significant set bit of x, or
// -1 if x is zero. It is the complement of FFS: FLS(x) == 63 - CLZ(x) for
// x != 0.
func FLS(x uint64) int {
	if x == 0 {
		return -1
	}
	return 63 - int(CLZ(x))
}
