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

package allocator

import (
	"fmt"
	"unsafe"

	"github.com/gopherheap/fixedheap/heap"
)

// HeapAllocator is the typed façade spec.md calls
// HeapAllocator<HEAP_SIZE, ERROR_ON_FAILURE>: a self-contained byte buffer
// of a fixed size plus a heap.Heap, lazily initialised on the first
// Allocate or Reallocate call. Its only normative contract is that
// laziness: nothing touches the buffer or constructs the heap until the
// first real request arrives.
//
// A HeapAllocator is not safe for concurrent use; it owns its buffer and
// heap exclusively, the same posture package heap documents for *Heap.
type HeapAllocator struct {
	size           int
	errorOnFailure bool

	buf  []byte
	heap *heap.Heap
}

// NewHeapAllocator returns a HeapAllocator over a private buffer of size
// bytes. The buffer is not allocated yet; see the lazy-init contract above.
func NewHeapAllocator(size int, opts ...Option) *HeapAllocator {
	a := &HeapAllocator{size: size}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *HeapAllocator) ensureInit() {
	if a.heap != nil {
		return
	}
	a.buf = make([]byte, a.size)
	h, err := heap.New(a.buf)
	if err != nil {
		panic(fmt.Sprintf("fixedheap: allocator: %v", err))
	}
	a.heap = h
}

// Allocate returns size bytes, or nil if size is zero or the buffer is
// exhausted. With WithErrorOnFailure, exhaustion panics instead, naming the
// operation and the requested size; a zero-size request never panics.
func (a *HeapAllocator) Allocate(size int) []byte {
	if size < 0 {
		return nil
	}
	a.ensureInit()

	ptr := a.heap.Alloc(uintptr(size))
	if ptr == nil {
		if size > 0 && a.errorOnFailure {
			panic(fmt.Sprintf("fixedheap: Allocate(%d): out of memory", size))
		}
		return nil
	}
	return bytesOf(ptr, size)
}

// Reallocate resizes b to size bytes, preserving min(len(b), size) bytes of
// content. When size == len(b) it returns b unchanged without touching the
// heap's metadata at all, per spec.md §6's no-op fast path.
func (a *HeapAllocator) Reallocate(size int, b []byte) []byte {
	if size < 0 {
		return nil
	}
	a.ensureInit()

	if size == len(b) {
		return b
	}

	var ptr unsafe.Pointer
	if len(b) > 0 {
		ptr = unsafe.Pointer(&b[0])
	}

	newPtr := a.heap.Realloc(ptr, uintptr(size))
	if newPtr == nil {
		if size > 0 && a.errorOnFailure {
			panic(fmt.Sprintf("fixedheap: Reallocate(%d): out of memory", size))
		}
		return nil
	}
	return bytesOf(newPtr, size)
}

// Free returns b's bytes to the heap. Freeing an empty/nil slice is a
// no-op; freeing anything else that did not come from this allocator's
// Allocate/Reallocate panics (see heap.InvalidPointerError).
func (a *HeapAllocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	a.heap.Dealloc(unsafe.Pointer(&b[0]))
}

// Stats reports the underlying heap's current free-space bookkeeping. It
// returns the zero value before the allocator has lazily initialised.
func (a *HeapAllocator) Stats() heap.Stats {
	if a.heap == nil {
		return heap.Stats{}
	}
	return a.heap.Stats()
}

var _ Allocator = (*HeapAllocator)(nil)
