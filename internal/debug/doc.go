// Package debug provides conditional runtime assertions and debug logging
// for internal invariants — the kind of check that should never fail in a
// correct build, as opposed to the always-on, always-fatal pointer
// validation in package heap, which guards against caller bugs and is
// never compiled out.
//
// Build with the "assert" tag to enable Assert; without it, Assert is a
// zero-cost no-op. Build with the "debug" tag to enable Log.
package debug
