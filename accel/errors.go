package accel

import "errors"

// Sentinel errors for the data-path taxonomy: malformed/unauthenticated/
// replayed/no-route/closed packets are dropped and counted, never
// panics, wrapped with fmt.Errorf("...: %w", err) throughout the
// package so callers can match against these with errors.Is.
var (
	ErrMalformedPacket = errors.New("accel: malformed packet")
	ErrUnauthenticated = errors.New("accel: unauthenticated packet")
	ErrReplayed        = errors.New("accel: replayed packet")
	ErrNoRoute         = errors.New("accel: no route for packet")
	ErrSessionClosed   = errors.New("accel: session closed")
)
