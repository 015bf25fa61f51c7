// Package assert provides a debug-only sentinel assertion, compiled to
// a no-op unless built with -tags accel_debug. This replaces the
// source's NEXT_DECLARE_SENTINEL/NEXT_VERIFY_SENTINEL canaries with a
// single helper that's free in production builds.
package assert
