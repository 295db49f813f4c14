// Package heap implements a fixed-region, single-threaded general-purpose
// allocator over a caller-supplied byte slice. It is intended for realtime
// or embedded contexts where the maximum working-set size is known ahead of
// time and bounded, predictable per-request work matters more than
// minimising internal fragmentation.
//
// A Heap owns its region exclusively from New until it is garbage
// collected; it is not safe for concurrent use from multiple goroutines,
// and none of its methods synchronize access.
package heap

import (
	"fmt"
	"unsafe"

	"github.com/gopherheap/fixedheap/internal/bitutil"
	"github.com/gopherheap/fixedheap/internal/debug"
)

// Heap is a segregated free-list allocator over a fixed region.
type Heap struct {
	region   []byte
	start    uintptr
	end      uintptr
	sentinel *node
	bins     [BinCount]bin
}

// New carves region into one free chunk and a terminating sentinel and
// returns a Heap ready to service Alloc/Dealloc/Realloc. It must be called
// exactly once per region; the region must not be touched by anything else
// for as long as the returned Heap is in use.
func New(region []byte) (*Heap, error) {
	debug.Assert(bitutil.IsPowerOf2(uintptr(AllocAlign)), "AllocAlign must be a power of two: the used-sentinel scheme relies on real link addresses having zero low bits")

	if len(region) == 0 {
		return nil, fmt.Errorf("%w: zero-length region", ErrRegionTooSmall)
	}

	base := uintptr(unsafe.Pointer(&region[0]))
	start := alignUp(base)
	pad := start - base
	if uintptr(len(region)) < pad {
		return nil, fmt.Errorf("%w: alignment padding exceeds region", ErrRegionTooSmall)
	}
	avail := uintptr(len(region)) - pad

	const minNeeded = 2*headerSize + MinAllocSize
	if avail < minNeeded {
		return nil, fmt.Errorf("%w: need at least %d bytes, have %d", ErrRegionTooSmall, minNeeded, avail)
	}

	freeSize := (avail - 2*headerSize) &^ (AllocAlign - 1)
	if freeSize < MinAllocSize {
		return nil, fmt.Errorf("%w: need at least %d bytes, have %d", ErrRegionTooSmall, minNeeded, avail)
	}

	h := &Heap{region: region, start: start}

	free := nodeAt(start)
	free.size = freeSize
	free.setPrev(nil)
	free.setFreeNext(nil)
	free.setFreePrev(nil)

	sentinelAddr := start + headerSize + freeSize
	sentinel := nodeAt(sentinelAddr)
	sentinel.size = 0
	sentinel.setPrev(free)
	sentinel.markUsed()

	h.sentinel = sentinel
	h.end = sentinelAddr + headerSize

	h.bins[binIndex(free.size)].insert(free)

	return h, nil
}

// Alloc returns a pointer to an aligned payload of at least size bytes, or
// nil if size is zero or the region cannot satisfy the request.
func (h *Heap) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	want, ok := roundChunkSize(size)
	if !ok {
		return nil
	}

	found, idx := h.search(want)
	if found == nil {
		return nil
	}

	// The bin is removed using the index the search found the chunk under,
	// not a recomputed one: split below mutates found.size, and recomputing
	// bin_index afterwards could select the wrong bin to remove from.
	h.bins[idx].remove(found)
	h.split(found, want)
	found.markUsed()

	return unsafe.Pointer(found.payload())
}

// search implements the bounded-then-unbounded two-pass lookup of spec §4.3:
// a first pass capped at BinMaxLookups nodes per bin, then, only if that
// pass fails entirely, an unbounded second pass over the same bins.
func (h *Heap) search(want uintptr) (*node, int) {
	start := binIndex(want)
	if n, idx := h.scan(start, want, BinMaxLookups); n != nil {
		return n, idx
	}
	return h.scan(start, want, -1)
}

func (h *Heap) scan(start int, want uintptr, limit int) (*node, int) {
	for i := start; i < BinCount; i++ {
		n := h.bins[i].headNode()
		for lookups := 0; n != nil; lookups++ {
			if limit >= 0 && lookups >= limit {
				break
			}
			if n.size >= want {
				return n, i
			}
			n = n.freeNext()
		}
	}
	return nil, 0
}

// split divides f into a used-sized-want front and a free tail, but only
// when the tail can hold a real minimum-sized chunk (spec §4.3 step 6):
// f.size must exceed want + headerSize + MinAllocSize, strictly.
//
// f's own used/free state is untouched by split, so this serves both the
// Alloc path (f is still free here; its physical successor is necessarily
// used, by I4) and the Realloc shrink path (f is used, and its successor
// may well be free already) — split always coalesces the tail forward
// into a free successor rather than leaving two adjacent free chunks,
// which would otherwise reproduce exactly the I4 violation the shrink path
// risks when it splits a used chunk that already had a free right
// neighbour.
func (h *Heap) split(f *node, want uintptr) {
	if f.size <= want+headerSize+MinAllocSize {
		return
	}

	oldSize := f.size
	f.size = want

	tail := nodeAt(addrOf(f) + headerSize + want)
	tail.size = oldSize - want - headerSize
	tail.setPrev(f)

	following := tail.next()
	following.setPrev(tail)

	if !following.used() {
		h.bins[binIndex(following.size)].remove(following)
		tail.size += headerSize + following.size
		after := tail.next()
		after.setPrev(tail)
	}

	h.bins[binIndex(tail.size)].insert(tail)
}

// Dealloc returns a chunk previously handed out by Alloc/Realloc to the
// heap. A nil pointer is a no-op. Any other pointer that was not returned
// by this heap, or that was already freed and not yet reused, is a caller
// contract violation and panics with an *InvalidPointerError; there is no
// recovery path, since attempting one risks corrupting unrelated chunks.
func (h *Heap) Dealloc(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	c := h.validate("dealloc", ptr)
	c = h.coalesceBackward(c)
	h.coalesceForward(c)
	h.bins[binIndex(c.size)].insert(c)
}

// coalesceBackward merges c into its physically preceding chunk if that
// chunk is free, per spec §4.4 step 3, and returns the chunk that should
// now be treated as c (the grown predecessor, or the original c if no
// merge happened).
func (h *Heap) coalesceBackward(c *node) *node {
	p := c.prev()
	if p == nil || p.used() {
		return c
	}

	h.bins[binIndex(p.size)].remove(p)
	p.size += headerSize + c.size

	following := c.next()
	following.setPrev(p)

	c.poison()
	return p
}

// coalesceForward merges c with its physically following chunk if that
// chunk is free, per spec §4.4 step 4. The sentinel is always used, so this
// terminates there at the latest.
func (h *Heap) coalesceForward(c *node) {
	n := c.next()
	if n.used() {
		return
	}

	h.bins[binIndex(n.size)].remove(n)
	c.size += headerSize + n.size

	following := c.next()
	following.setPrev(c)
}

// Realloc resizes the chunk at ptr to hold at least newSize bytes,
// preserving min(oldSize, newSize) bytes of content, per spec §4.5. ptr may
// be nil (equivalent to Alloc); newSize may be zero (equivalent to Dealloc,
// returns nil). Returns nil on out-of-memory in the grow path, leaving the
// original chunk untouched.
func (h *Heap) Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	if ptr == nil {
		return h.Alloc(newSize)
	}
	if newSize == 0 {
		h.Dealloc(ptr)
		return nil
	}

	c := h.validate("realloc", ptr)
	want, ok := roundChunkSize(newSize)
	if !ok {
		return nil
	}

	if want > c.size {
		n := c.next()
		if !n.used() && c.size+headerSize+n.size >= want {
			h.bins[binIndex(n.size)].remove(n)
			c.size += headerSize + n.size
			following := c.next()
			following.setPrev(c)
			// fall through: the merged chunk may now be larger than
			// needed, so the shrink check below may still split it.
		} else {
			return h.reallocByCopy(c, ptr, newSize)
		}
	}

	if c.size > want {
		h.split(c, want)
	}

	return unsafe.Pointer(c.payload())
}

func (h *Heap) reallocByCopy(c *node, ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	newPtr := h.Alloc(newSize)
	if newPtr == nil {
		return nil
	}

	copySize := c.size
	dst := unsafe.Slice((*byte)(newPtr), int(newSize))
	src := unsafe.Slice((*byte)(ptr), int(copySize))
	copy(dst, src)

	h.Dealloc(ptr)
	return newPtr
}

// validate recovers the header for ptr, checking alignment, region bounds,
// and the used sentinel. Failure is always fatal: it is a contract
// violation by the caller, not a runtime condition the allocator can
// recover from.
func (h *Heap) validate(op string, ptr unsafe.Pointer) *node {
	addr := uintptr(ptr)
	if !isAligned(addr) {
		invalidPointer(op, ptr, "misaligned pointer")
	}

	c := nodeFromPayload(addr)
	headerAddr := addrOf(c)
	if headerAddr < h.start || headerAddr >= h.end {
		invalidPointer(op, ptr, "pointer outside heap region")
	}

	if !c.used() {
		invalidPointer(op, ptr, "pointer not marked used (double free or corruption)")
	}

	debug.Assert(c.size >= MinAllocSize, "used chunk smaller than MinAllocSize")
	return c
}

// Stats is a read-only diagnostic snapshot: total free bytes across all
// bins, the number of free chunks, and the number of chunks occupying each
// bin. It gives callers (and tests) the round-trip-law check spec.md §8
// wants — that freeing everything restores the pre-allocation free-byte
// total — without a second, separately tracked bookkeeping layer.
type Stats struct {
	FreeBytes  uintptr
	FreeChunks int
	PerBin     [BinCount]int
}

// Stats walks every bin and reports their current occupancy. It does not
// walk the adjacency chain, so it is O(number of free chunks), not O(region
// size).
func (h *Heap) Stats() Stats {
	var s Stats
	for i := range h.bins {
		n := h.bins[i].headNode()
		for n != nil {
			s.FreeBytes += n.size
			s.FreeChunks++
			s.PerBin[i]++
			n = n.freeNext()
		}
	}
	return s
}

// Walk calls fn for every chunk in the region in ascending address order,
// including the terminating sentinel, passing its size and whether it is
// currently used. It is intended for invariant-checking tests, not for
// production use — it is O(number of chunks).
func (h *Heap) Walk(fn func(size uintptr, used bool)) {
	n := nodeAt(h.start)
	for {
		fn(n.size, n.used())
		if n == h.sentinel {
			return
		}
		n = n.next()
	}
}
