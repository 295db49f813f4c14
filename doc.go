// Package fixedheap is the module root; it holds no exported API of its
// own. See package heap for the allocator core and package allocator for
// the []byte-returning façade built on top of it.
package fixedheap
