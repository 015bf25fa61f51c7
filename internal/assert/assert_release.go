//go:build !accel_debug

package assert

// Assertf is a no-op in release builds.
func Assertf(cond bool, format string, args ...any) {}
