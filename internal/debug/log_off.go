//go:build !debug

package debug

// Log is a no-op when the debug build tag is absent.
func Log(msg interface{}) {}
