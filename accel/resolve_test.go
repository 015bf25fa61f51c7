package accel

import "testing"

func TestResolveServerAddressAcceptsIPLiteral(t *testing.T) {
	addr, err := ResolveServerAddress("127.0.0.1:40000")
	if err != nil {
		t.Fatalf("ResolveServerAddress: %v", err)
	}
	if addr.String() != "127.0.0.1:40000" {
		t.Fatalf("expected 127.0.0.1:40000, got %s", addr.String())
	}
}

func TestResolveServerAddressRejectsMissingPort(t *testing.T) {
	if _, err := ResolveServerAddress("127.0.0.1"); err == nil {
		t.Fatalf("expected error for a host with no port")
	}
}
