//go:build !assert

package debug

// Assert is a no-op when the assert build tag is absent; cond is still
// evaluated by the caller, but this function costs nothing.
func Assert(cond bool, msg interface{}) {}
