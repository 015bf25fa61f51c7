package session

import (
	"testing"
	"time"

	"github.com/networknext/sdk-sub001/accelcrypto"
	"github.com/networknext/sdk-sub001/address"
)

func testSession(id uint64, port uint16) *Session {
	addr := address.Address{Type: address.IPv4, IP4: [4]byte{127, 0, 0, 1}, Port: port}
	var key [32]byte
	return New(id, addr, 0xABCD, key, accelcrypto.SessionKeys{}, 1000, time.Unix(1000, 0), nil)
}

func TestBumpVersionResetsReplay(t *testing.T) {
	s := testSession(1, 4000)
	s.Replay.Advance(300)
	if !s.Replay.AlreadyReceived(5) {
		t.Fatalf("sequence 5 should be considered too old before reset")
	}

	v := s.BumpVersion()
	if v != 1 {
		t.Fatalf("expected version 1 after first bump, got %d", v)
	}
	if s.Replay.AlreadyReceived(5) {
		t.Fatalf("replay protection should be cleared after a version bump")
	}
}

func TestTimedOut(t *testing.T) {
	s := testSession(1, 4000)
	now := time.Unix(1000, 0)
	s.TouchClientPacket(now)

	if s.TimedOut(now.Add(SilenceTimeout - time.Second)) {
		t.Fatalf("should not be timed out before the silence timeout elapses")
	}
	if !s.TimedOut(now.Add(SilenceTimeout + time.Second)) {
		t.Fatalf("expected timeout after silence timeout elapses")
	}
}

func TestBackendUpdateFailureThreshold(t *testing.T) {
	s := testSession(1, 4000)
	for i := 0; i < MaxSessionUpdateRetries; i++ {
		if s.RecordBackendUpdateFailure() {
			t.Fatalf("should not recommend fallback before exceeding the retry budget (attempt %d)", i)
		}
	}
	if !s.RecordBackendUpdateFailure() {
		t.Fatalf("expected fallback recommendation once retries are exceeded")
	}
	s.RecordBackendUpdateSuccess()
	if s.RecordBackendUpdateFailure() {
		t.Fatalf("counter should reset after a recorded success")
	}
}

func TestTableInsertAndLookup(t *testing.T) {
	table := NewTable()
	s := testSession(42, 5000)
	table.Insert(s)

	got, ok := table.LookupByAddress(s.ClientAddress())
	if !ok || got.ID() != 42 {
		t.Fatalf("expected to find session by address")
	}
	got, ok = table.LookupByID(42)
	if !ok || got.ID() != 42 {
		t.Fatalf("expected to find session by id")
	}
	if table.Len() != 1 {
		t.Fatalf("expected table length 1, got %d", table.Len())
	}

	table.Remove(s)
	if _, ok := table.LookupByID(42); ok {
		t.Fatalf("expected session removed from id index")
	}
	if table.Len() != 0 {
		t.Fatalf("expected table length 0 after remove")
	}
}

func TestTableSweepTimedOut(t *testing.T) {
	table := NewTable()
	now := time.Unix(2000, 0)

	stale := testSession(1, 4001)
	stale.TouchClientPacket(now.Add(-2 * SilenceTimeout))
	table.Insert(stale)

	fresh := testSession(2, 4002)
	fresh.TouchClientPacket(now)
	table.Insert(fresh)

	removed := table.SweepTimedOut(now)
	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("expected only session 1 swept, got %v", removed)
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 session remaining, got %d", table.Len())
	}
	if stale.State() != StateClosed {
		t.Fatalf("expected swept session to be closed")
	}
}

func TestValidateRejectsUnknownOrStaleSession(t *testing.T) {
	table := NewTable()
	s := testSession(7, 4003)
	table.Insert(s)

	if _, err := Validate(table, 999, 0); err == nil {
		t.Fatalf("expected error for unknown session id")
	}
	if _, err := Validate(table, 7, 1); err == nil {
		t.Fatalf("expected error for version mismatch")
	}
	if _, err := Validate(table, 7, 0); err != nil {
		t.Fatalf("expected a valid session to validate, got %v", err)
	}
}
