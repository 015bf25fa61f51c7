//go:build accel_debug

package assert

import "fmt"

// Assertf panics with a formatted message if cond is false. Only
// compiled into -tags accel_debug builds.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
