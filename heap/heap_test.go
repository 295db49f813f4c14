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

package heap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, size int) *Heap {
	t.Helper()
	h, err := New(make([]byte, size))
	require.NoError(t, err)
	return h
}

func isAlignedPtr(p unsafe.Pointer) bool {
	return isAligned(uintptr(p))
}

func TestNewRejectsUndersizedRegion(t *testing.T) {
	_, err := New(make([]byte, 1))
	assert.ErrorIs(t, err, ErrRegionTooSmall)
}

func TestAllocZeroReturnsNil(t *testing.T) {
	h := newTestHeap(t, 1024)
	assert.Nil(t, h.Alloc(0))
}

// TestAllocOverflowingSizeReturnsNil covers the case roundChunkSize guards
// against: a size so close to the uintptr range's top that size+headerSize
// would wrap past zero. A naive rounding would read that wraparound as a
// tiny want and hand back a chunk advertised as enormous.
func TestAllocOverflowingSizeReturnsNil(t *testing.T) {
	h := newTestHeap(t, 1024)
	assert.Nil(t, h.Alloc(^uintptr(0)))
	assert.Nil(t, h.Alloc(^uintptr(0)-headerSize))
}

func TestDeallocNilIsNoOp(t *testing.T) {
	h := newTestHeap(t, 1024)
	assert.NotPanics(t, func() { h.Dealloc(nil) })
}

// Scenario 1: alloc(16), alloc(32); the second payload starts exactly
// headerSize+16 bytes after the first payload, and freeing both in reverse
// leaves one free chunk spanning the whole usable region.
func TestScenario1_BasicAllocAndFree(t *testing.T) {
	h := newTestHeap(t, 1024)

	p1 := h.Alloc(16)
	require.NotNil(t, p1)
	assert.True(t, isAlignedPtr(p1))

	p2 := h.Alloc(32)
	require.NotNil(t, p2)
	assert.True(t, isAlignedPtr(p2))
	assert.Equal(t, uintptr(headerSize+16), uintptr(p2)-uintptr(p1))

	h.Dealloc(p2)
	h.Dealloc(p1)

	var freeChunks, usedChunks int
	var freeBytes uintptr
	h.Walk(func(size uintptr, used bool) {
		if used {
			usedChunks++
			return
		}
		freeChunks++
		freeBytes += size
	})
	assert.Equal(t, 1, usedChunks, "only the sentinel should remain used")
	assert.Equal(t, 1, freeChunks, "freeing everything must coalesce back to one chunk")
}

// Scenario 2: fill a small region with 16-byte allocations until exhausted,
// free every other one, and confirm the freed count can be reallocated
// while a too-large request still fails against the fragmented remainder.
func TestScenario2_FragmentationAndReuse(t *testing.T) {
	h := newTestHeap(t, 256)

	var ptrs []unsafe.Pointer
	for {
		p := h.Alloc(16)
		if p == nil {
			break
		}
		ptrs = append(ptrs, p)
	}
	require.NotEmpty(t, ptrs)

	var freed []unsafe.Pointer
	for i := 0; i < len(ptrs); i += 2 {
		h.Dealloc(ptrs[i])
		freed = append(freed, ptrs[i])
	}
	assert.Nil(t, h.Alloc(48), "no single free chunk is large enough for 48 bytes")

	for range freed {
		p := h.Alloc(16)
		require.NotNil(t, p, "freed slots must be reusable")
	}
	assert.Nil(t, h.Alloc(16), "the region should be fully packed again")

	for i := 1; i < len(ptrs); i += 2 {
		h.Dealloc(ptrs[i])
	}
}

// Scenario 3: realloc growing a chunk preserves its original payload.
func TestScenario3_ReallocPreservesContent(t *testing.T) {
	h := newTestHeap(t, 4096)

	p := h.Alloc(64)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 64)
	for i := range buf {
		buf[i] = 0xAB
	}

	p2 := h.Realloc(p, 128)
	require.NotNil(t, p2)
	grown := unsafe.Slice((*byte)(p2), 128)
	for i := 0; i < 64; i++ {
		assert.Equal(t, byte(0xAB), grown[i])
	}
}

// Scenario 4: shrinking returns the same pointer and the freed tail is
// immediately available to a subsequent allocation.
func TestScenario4_ShrinkReturnsSamePointerAndFreesTail(t *testing.T) {
	h := newTestHeap(t, 4096)

	p := h.Alloc(128)
	require.NotNil(t, p)

	p2 := h.Realloc(p, 32)
	assert.Equal(t, p, p2)

	p3 := h.Alloc(64)
	assert.NotNil(t, p3)
}

// TestReallocShrinkCoalescesTailWithFreeNeighbour covers the case
// Scenario 4 doesn't: shrinking a used chunk that already has a free
// physical neighbour to its right must merge the split-off tail into that
// neighbour rather than leaving two adjacent free chunks (I4).
func TestReallocShrinkCoalescesTailWithFreeNeighbour(t *testing.T) {
	h := newTestHeap(t, 4096)

	a := h.Alloc(128)
	require.NotNil(t, a)
	b := h.Alloc(64)
	require.NotNil(t, b)

	h.Dealloc(b) // b is now a free chunk physically right of a

	got := h.Realloc(a, 16)
	assert.Equal(t, a, got)

	checkInvariants(t, h)

	// the merged free space (a's freed tail plus b) must be available as
	// one allocation larger than either piece alone.
	big := h.Alloc(160)
	assert.NotNil(t, big)
}

// Scenario 5: a pointer never returned by Alloc is an invalid-pointer
// contract violation.
func TestScenario5_InvalidPointerPanics(t *testing.T) {
	h := newTestHeap(t, 1024)
	p := h.Alloc(16)
	require.NotNil(t, p)

	bogus := unsafe.Pointer(uintptr(p) + 1)
	assert.Panics(t, func() { h.Dealloc(bogus) })
}

// Scenario 6: double-freeing a not-yet-reused pointer panics on the second
// call.
func TestScenario6_DoubleFreePanics(t *testing.T) {
	h := newTestHeap(t, 1024)
	p := h.Alloc(16)
	require.NotNil(t, p)

	h.Dealloc(p)
	assert.Panics(t, func() { h.Dealloc(p) })
}

func TestAllocReturnsAlignedPointers(t *testing.T) {
	h := newTestHeap(t, 8192)
	for _, sz := range []uintptr{1, 15, 16, 17, 63, 64, 65, 1000} {
		p := h.Alloc(sz)
		require.NotNil(t, p)
		assert.True(t, isAlignedPtr(p), "size=%d", sz)
	}
}

func TestReallocNilIsAlloc(t *testing.T) {
	h := newTestHeap(t, 1024)
	p := h.Realloc(nil, 32)
	assert.NotNil(t, p)
}

func TestReallocZeroIsDealloc(t *testing.T) {
	h := newTestHeap(t, 1024)
	p := h.Alloc(32)
	require.NotNil(t, p)

	got := h.Realloc(p, 0)
	assert.Nil(t, got)
	assert.Panics(t, func() { h.Dealloc(p) }, "the chunk must have been returned to the heap")
}

func TestReallocOverflowingSizeLeavesOriginalChunkIntact(t *testing.T) {
	h := newTestHeap(t, 1024)
	p := h.Alloc(16)
	require.NotNil(t, p)

	got := h.Realloc(p, ^uintptr(0))
	assert.Nil(t, got)
	assert.NotPanics(t, func() { h.Dealloc(p) })
}

func TestReallocOOMLeavesOriginalChunkIntact(t *testing.T) {
	h := newTestHeap(t, 256)
	p := h.Alloc(16)
	require.NotNil(t, p)
	// exhaust the rest of the region so the grow request cannot find space
	// either by merging forward or by a fresh allocation elsewhere.
	var rest []unsafe.Pointer
	for {
		q := h.Alloc(16)
		if q == nil {
			break
		}
		rest = append(rest, q)
	}

	got := h.Realloc(p, 4096)
	assert.Nil(t, got)

	// the original chunk must still be valid and still hold its data.
	buf := unsafe.Slice((*byte)(p), 16)
	buf[0] = 0x42
	assert.NotPanics(t, func() { h.Dealloc(p) })
	for _, q := range rest {
		h.Dealloc(q)
	}
}

func TestAllocThenDeallocAllThenRepeat(t *testing.T) {
	h := newTestHeap(t, 2048)

	alloc := func() []unsafe.Pointer {
		var ptrs []unsafe.Pointer
		for {
			p := h.Alloc(16)
			if p == nil {
				break
			}
			ptrs = append(ptrs, p)
		}
		return ptrs
	}

	first := alloc()
	require.NotEmpty(t, first)
	for _, p := range first {
		h.Dealloc(p)
	}

	second := alloc()
	assert.Equal(t, len(first), len(second), "the same sequence must succeed again after freeing everything")
	for _, p := range second {
		h.Dealloc(p)
	}
}

func TestStatsTracksFreeBytes(t *testing.T) {
	h := newTestHeap(t, 4096)
	before := h.Stats()
	assert.Equal(t, 1, before.FreeChunks)

	p := h.Alloc(64)
	require.NotNil(t, p)
	after := h.Stats()
	assert.Less(t, after.FreeBytes, before.FreeBytes)

	h.Dealloc(p)
	restored := h.Stats()
	assert.Equal(t, before.FreeBytes, restored.FreeBytes)
	assert.Equal(t, before.FreeChunks, restored.FreeChunks)
}
