package heap

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrRegionTooSmall is returned by New when a region cannot hold even one
// minimum-sized chunk plus its sentinel.
var ErrRegionTooSmall = errors.New("fixedheap: region too small")

// ErrInvalidPointer is wrapped into every panic raised by Dealloc/Realloc
// when the pointer they were handed did not come from this heap, or was
// already freed. Per spec this is always a caller bug and is never
// recoverable into a normal error return — callers that install a recover
// still get a value satisfying the error interface.
var ErrInvalidPointer = errors.New("fixedheap: invalid pointer")

// InvalidPointerError carries the operation and the offending pointer so a
// recovering caller can log something actionable.
type InvalidPointerError struct {
	Op     string
	Ptr    unsafe.Pointer
	Reason string
}

func (e *InvalidPointerError) Error() string {
	return fmt.Sprintf("fixedheap: %s: invalid pointer %p: %s", e.Op, e.Ptr, e.Reason)
}

func (e *InvalidPointerError) Unwrap() error {
	return ErrInvalidPointer
}

func invalidPointer(op string, ptr unsafe.Pointer, reason string) {
	panic(&InvalidPointerError{Op: op, Ptr: ptr, Reason: reason})
}
