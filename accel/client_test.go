package accel

import (
	"testing"
	"time"

	"github.com/networknext/sdk-sub001/filter"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	pub, _, err := generateTestEd25519()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	c, err := NewClient(DefaultConfig(), "127.0.0.1:0", filter.MagicSet{}, pub, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Destroy() })
	return c
}

func TestClientStartsIdle(t *testing.T) {
	c := newTestClient(t)
	if got := c.Phase(); got != "idle" {
		t.Fatalf("expected idle phase, got %q", got)
	}
}

func TestClientOpenSessionEntersPreUpgrade(t *testing.T) {
	c := newTestClient(t)
	if err := c.OpenSession("127.0.0.1:9999"); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if got := c.Phase(); got != "pre_upgrade" {
		t.Fatalf("expected pre_upgrade phase, got %q", got)
	}
}

func TestClientSendPacketNoopBeforeOpenSession(t *testing.T) {
	c := newTestClient(t)
	if err := c.SendPacket([]byte("hello")); err != nil {
		t.Fatalf("SendPacket before OpenSession should be a silent no-op, got %v", err)
	}
}

func TestClientSendPacketRejectsOversizedPayload(t *testing.T) {
	c := newTestClient(t)
	if err := c.OpenSession("127.0.0.1:9999"); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	big := make([]byte, MaxPacketBytes+1)
	if err := c.SendPacket(big); err == nil {
		t.Fatalf("expected oversized payload to be rejected")
	}
}

func TestClientCloseSessionReturnsToIdle(t *testing.T) {
	c := newTestClient(t)
	if err := c.OpenSession("127.0.0.1:9999"); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	c.CloseSession()
	if got := c.Phase(); got != "idle" {
		t.Fatalf("expected idle phase after CloseSession, got %q", got)
	}
}

func TestClientUpdateDoesNotPanicWithNoTraffic(t *testing.T) {
	c := newTestClient(t)
	c.Update(time.Now())
}

func TestClientDestroyStopsReceiveWorker(t *testing.T) {
	c := newTestClient(t)
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}
