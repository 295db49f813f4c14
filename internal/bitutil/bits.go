// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitutil holds the small bit-twiddling helpers the allocator
// needs, in the same spirit as the teacher's own arrow/internal/bitutil
// package: reach for math/bits directly rather than a third-party
// bit-manipulation library, since the stdlib already exposes exactly these
// primitives as compiler intrinsics on every supported architecture.
package bitutil

import "math/bits"

// CountLeadingZeros32 returns the number of leading zero bits in v's
// 32-bit representation, the clz32 the size-class bin index is built from.
func CountLeadingZeros32(v uint32) int {
	return bits.LeadingZeros32(v)
}

// IsPowerOf2 reports whether v is a power of two.
func IsPowerOf2(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}
