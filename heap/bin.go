package heap

import "github.com/gopherheap/fixedheap/internal/bitutil"

const (
	// BinCount is the number of size-class buckets. The default is
	// sufficient for single allocations up to ~64MiB before the top bin
	// starts saturating with oversized chunks.
	BinCount = 24
	// BinMaxLookups bounds the first search pass's per-bin prefix walk.
	BinMaxLookups = 16
	// MinAllocSize is the minimum chunk payload size.
	MinAllocSize = 16
	// AllocAlign is the alignment of every returned payload pointer. It is
	// not configurable without revisiting the used-sentinel scheme in
	// node.go, which relies on real link addresses having zero low bits.
	AllocAlign = 16
)

// bin is a free list for one size class: a single head pointer, doubly
// linked through each node's slotA/slotB.
type bin struct {
	head uintptr
}

func (b *bin) isEmpty() bool {
	return b.head == 0
}

func (b *bin) headNode() *node {
	if b.head == 0 {
		return nil
	}
	return nodeAt(b.head)
}

// insert pushes n onto the head of the list. Order within a bin is
// unspecified by the spec; insertions always go to the head.
func (b *bin) insert(n *node) {
	old := b.headNode()
	n.setFreePrev(nil)
	n.setFreeNext(old)
	if old != nil {
		old.setFreePrev(n)
	}
	b.head = addrOf(n)
}

// remove unlinks n from this bin. n must currently be the head or reachable
// through the bin's free-list links.
func (b *bin) remove(n *node) {
	prev := n.freePrev()
	next := n.freeNext()

	if prev != nil {
		prev.setFreeNext(next)
	} else {
		if addrOf(n) == b.head {
			if next != nil {
				b.head = addrOf(next)
			} else {
				b.head = 0
			}
		}
	}
	if next != nil {
		next.setFreePrev(prev)
	}
}

// binIndex maps a chunk size to the bin that must hold it, per spec §4.1.
func binIndex(size uintptr) int {
	switch {
	case size <= 8:
		return 0
	case size >= 1<<(3+BinCount):
		return BinCount - 1
	default:
		return 28 - bitutil.CountLeadingZeros32(uint32(size))
	}
}
