package heap

import (
	"math"
	"unsafe"

	"github.com/JohnCGriffin/overflow"
)

// node is the in-band header prefixed to every chunk, free or used. It lives
// inside the region's backing []byte; there is never a second, GC-tracked
// copy of a node. size is the usable payload size following the header,
// prevAdj is the address of the physically preceding chunk's header (0 for
// the first chunk in the region), and slotA/slotB are the free-list links
// when the chunk is free or the used sentinel (usedSlotA, usedCookie) when
// it is not.
type node struct {
	size    uintptr
	prevAdj uintptr
	slotA   uintptr
	slotB   uintptr
}

// headerSize is a compile-time constant: unsafe.Sizeof of a concrete,
// non-generic struct is a Go constant expression.
const headerSize = unsafe.Sizeof(node{})

const (
	// usedSlotA is stored in slotA for a used chunk. Every real link address
	// is a multiple of AllocAlign, so its low bits are zero and 1 can never
	// be mistaken for one.
	usedSlotA = 1
	// usedCookie is stored in slotB for a used chunk, a weak integrity check
	// against accidental overwrites of freed-then-reused metadata.
	usedCookie uintptr = 0xA7512BCF
)

func nodeAt(addr uintptr) *node {
	return (*node)(unsafe.Pointer(addr)) //nolint:govet // addr is always inside the owning region
}

func addrOf(n *node) uintptr {
	return uintptr(unsafe.Pointer(n))
}

// payload returns the address of the byte immediately following n's header
// — the pointer handed back to callers of Alloc/Realloc.
func (n *node) payload() uintptr {
	return addrOf(n) + headerSize
}

func nodeFromPayload(ptr uintptr) *node {
	return nodeAt(ptr - headerSize)
}

func (n *node) used() bool {
	return n.slotA == usedSlotA && n.slotB == usedCookie
}

func (n *node) markUsed() {
	n.slotA = usedSlotA
	n.slotB = usedCookie
}

// poison clears the link slots so that a stale pointer re-presented to
// Dealloc/Realloc after this chunk has been coalesced away fails the used
// check rather than silently passing it.
func (n *node) poison() {
	n.slotA = 0
	n.slotB = 0
}

// hasPrevAdj reports whether n has a physically preceding chunk.
func (n *node) hasPrevAdj() bool {
	return n.prevAdj != 0
}

func (n *node) prev() *node {
	if !n.hasPrevAdj() {
		return nil
	}
	return nodeAt(n.prevAdj)
}

func (n *node) setPrev(p *node) {
	if p == nil {
		n.prevAdj = 0
		return
	}
	n.prevAdj = addrOf(p)
}

// next returns the physically next chunk, computed from n's own address and
// size rather than stored, per the adjacency-chain design.
func (n *node) next() *node {
	return nodeAt(addrOf(n) + headerSize + n.size)
}

// freeNext/freePrev view slotA/slotB as free-list links. Only meaningful
// while the chunk is free.
func (n *node) freeNext() *node {
	if n.slotA == 0 {
		return nil
	}
	return nodeAt(n.slotA)
}

func (n *node) freePrev() *node {
	if n.slotB == 0 {
		return nil
	}
	return nodeAt(n.slotB)
}

func (n *node) setFreeNext(next *node) {
	if next == nil {
		n.slotA = 0
		return
	}
	n.slotA = addrOf(next)
}

func (n *node) setFreePrev(prev *node) {
	if prev == nil {
		n.slotB = 0
		return
	}
	n.slotB = addrOf(prev)
}

// isAligned reports whether addr satisfies AllocAlign.
func isAligned(addr uintptr) bool {
	return addr&(AllocAlign-1) == 0
}

func alignUp(addr uintptr) uintptr {
	return (addr + AllocAlign - 1) &^ (AllocAlign - 1)
}

// roundChunkSize rounds a requested payload size up so that size+headerSize
// is a multiple of AllocAlign, per spec §4.3 step 2. It reports false instead
// of a rounded size when size is large enough that size+headerSize (or the
// subsequent alignment step) would overflow, rather than silently wrapping
// and handing back a chunk far smaller than size.
func roundChunkSize(size uintptr) (uintptr, bool) {
	if size > uintptr(math.MaxInt) {
		return 0, false
	}

	withHeader, ok := overflow.Add(int(size), int(headerSize))
	if !ok {
		return 0, false
	}

	aligned, ok := overflow.Add(withHeader, int(AllocAlign-1))
	if !ok {
		return 0, false
	}

	total := uintptr(aligned) &^ (AllocAlign - 1)
	return total - headerSize, true
}
