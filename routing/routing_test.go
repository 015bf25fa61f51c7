package routing

import (
	"bytes"
	"testing"
	"time"

	"github.com/networknext/sdk-sub001/token"
	"github.com/networknext/sdk-sub001/wire"
)

func sealedRouteToken(t *testing.T, hopKey [32]byte, nextPort uint16) []byte {
	t.Helper()
	rt := token.RouteToken{
		SessionID:      42,
		SessionVersion: 1,
		NextAddress:    [4]byte{127, 0, 0, 1},
		NextPort:       nextPort,
		KbpsUp:         1000,
		KbpsDown:       1000,
	}
	sealed, err := rt.Seal(hopKey)
	if err != nil {
		t.Fatalf("seal route token: %v", err)
	}
	return sealed
}

func TestBeginNextRouteThenConfirm(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))

	m := New(hopKey, nil)
	now := time.Now()

	_, _, err := m.BeginNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, now)
	if err != nil {
		t.Fatalf("BeginNextRoute: %v", err)
	}
	if m.State() != StatePendingRoute {
		t.Fatalf("expected state pending_route, got %v", m.State())
	}

	if err := m.ConfirmPendingRoute(now); err != nil {
		t.Fatalf("ConfirmPendingRoute: %v", err)
	}
	if m.State() != StateOnRoute {
		t.Fatalf("expected state on_route, got %v", m.State())
	}
	if !m.HasNetworkRoute() {
		t.Fatalf("expected HasNetworkRoute true after confirm")
	}
}

func TestBadRouteTokenFallsBack(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)

	_, _, err := m.BeginNextRoute([][]byte{[]byte("not a real token")}, time.Now())
	if err == nil {
		t.Fatalf("expected error for malformed route token")
	}
	if m.State() != StateFallback {
		t.Fatalf("expected fallback state, got %v", m.State())
	}
	if m.FallbackFlags()&BadRouteToken == 0 {
		t.Fatalf("expected BadRouteToken flag set, got %v", m.FallbackFlags())
	}
}

func TestFallbackIsStickyOneWay(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)
	m.FallbackToDirect(RouteExpired)
	if m.FallbackFlags() != RouteExpired {
		t.Fatalf("expected RouteExpired flag")
	}
	// A second, different fallback call must not change the recorded reason.
	m.FallbackToDirect(BadContinueToken)
	if m.FallbackFlags() != RouteExpired {
		t.Fatalf("fallback must be sticky: flags changed from %v", RouteExpired)
	}
}

func TestAfterFallbackNoRoutedHeaderSent(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)

	_, _, err := m.BeginNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, time.Now())
	if err != nil {
		t.Fatalf("BeginNextRoute: %v", err)
	}
	if err := m.ConfirmPendingRoute(time.Now()); err != nil {
		t.Fatalf("ConfirmPendingRoute: %v", err)
	}

	m.FallbackToDirect(RouteTimedOut)

	_, _, ok := m.PrepareSendPacket(0, 1, []byte("hi"))
	if ok {
		t.Fatalf("PrepareSendPacket succeeded after fallback to direct")
	}
}

func TestRouteRequestTimeoutTriggersFallback(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)

	start := time.Now()
	_, _, err := m.BeginNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, start)
	if err != nil {
		t.Fatalf("BeginNextRoute: %v", err)
	}

	m.CheckForTimeouts(start.Add(RouteRequestTimeout - time.Second))
	if m.State() == StateFallback {
		t.Fatalf("should not time out before the deadline")
	}

	m.CheckForTimeouts(start.Add(RouteRequestTimeout + time.Second))
	if m.State() != StateFallback {
		t.Fatalf("expected fallback after route request timeout, got %v", m.State())
	}
	if m.FallbackFlags() != RouteRequestTimedOut {
		t.Fatalf("expected RouteRequestTimedOut flag, got %v", m.FallbackFlags())
	}
}

func TestRouteLifetimeExpiresAtInstallPlusTwoSlices(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)

	start := time.Now()
	if _, _, err := m.BeginNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, start); err != nil {
		t.Fatalf("BeginNextRoute: %v", err)
	}
	if err := m.ConfirmPendingRoute(start); err != nil {
		t.Fatalf("ConfirmPendingRoute: %v", err)
	}

	m.CheckForTimeouts(start.Add(RouteLifetime - time.Second))
	if m.State() != StateOnRoute {
		t.Fatalf("should not expire before install + 2*slice")
	}

	m.CheckForTimeouts(start.Add(RouteLifetime + time.Second))
	if m.State() != StateFallback {
		t.Fatalf("expected route to expire exactly at install + 2*slice")
	}
}

func TestContinueRequiresCurrentRoute(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)

	_, _, err := m.ContinueNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, time.Now())
	if err == nil {
		t.Fatalf("expected error continuing without a current route")
	}
	if m.FallbackFlags() != NoRouteToContinue {
		t.Fatalf("expected NoRouteToContinue, got %v", m.FallbackFlags())
	}
}

func TestPrepareAndProcessRoundTrip(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	client := New(hopKey, nil)
	start := time.Now()
	if _, _, err := client.BeginNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, start); err != nil {
		t.Fatalf("BeginNextRoute: %v", err)
	}
	if err := client.ConfirmPendingRoute(start); err != nil {
		t.Fatalf("ConfirmPendingRoute: %v", err)
	}

	payload := []byte("payload")
	framed, _, ok := client.PrepareSendPacket(3, 7, payload)
	if !ok {
		t.Fatalf("expected PrepareSendPacket to succeed on an active route")
	}

	got, seq, err := client.ProcessIncomingRoutedPacket(3, 42, framed)
	if err != nil {
		t.Fatalf("ProcessIncomingRoutedPacket: %v", err)
	}
	if seq != 7 || !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: seq=%d payload=%q", seq, got)
	}
}

func TestSealRouteRequestAndProcessRouteResponse(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)
	start := time.Now()

	requestPayload, nextHop, err := m.BeginNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, start)
	if err != nil {
		t.Fatalf("BeginNextRoute: %v", err)
	}

	framed, sealedNextHop, err := m.SealRouteRequest(1, requestPayload)
	if err != nil {
		t.Fatalf("SealRouteRequest: %v", err)
	}
	if sealedNextHop != nextHop {
		t.Fatalf("SealRouteRequest next hop mismatch: got %v, want %v", sealedNextHop, nextHop)
	}

	// The relay's reply is sealed under the same per-hop key the pending
	// route was installed with.
	respHeader := wire.RoutedHeader{Sequence: 1, SessionID: 42, SessionVersion: 1}
	respData, err := wire.SealHeader(m.pending.PrivateKey, wire.PacketRouteResponse, respHeader, nil)
	if err != nil {
		t.Fatalf("seal route response: %v", err)
	}

	if err := m.ProcessRouteResponse(start, respData); err != nil {
		t.Fatalf("ProcessRouteResponse: %v", err)
	}
	if m.State() != StateOnRoute {
		t.Fatalf("expected state on_route, got %v", m.State())
	}
	_ = framed
}

func TestSealContinueRequestAndProcessContinueResponse(t *testing.T) {
	var hopKey [32]byte
	copy(hopKey[:], bytes.Repeat([]byte{0x01}, 32))
	m := New(hopKey, nil)
	start := time.Now()

	if _, _, err := m.BeginNextRoute([][]byte{sealedRouteToken(t, hopKey, 4000)}, start); err != nil {
		t.Fatalf("BeginNextRoute: %v", err)
	}
	if err := m.ConfirmPendingRoute(start); err != nil {
		t.Fatalf("ConfirmPendingRoute: %v", err)
	}

	ct := token.ContinueToken{SessionID: 42, SessionVersion: 1}
	sealedContinue, err := ct.Seal(hopKey)
	if err != nil {
		t.Fatalf("seal continue token: %v", err)
	}
	continuePayload, nextHop, err := m.ContinueNextRoute([][]byte{sealedContinue}, start)
	if err != nil {
		t.Fatalf("ContinueNextRoute: %v", err)
	}
	if nextHop != m.current.NextHop {
		t.Fatalf("ContinueNextRoute next hop mismatch")
	}

	framed, sealedNextHop, err := m.SealContinueRequest(2, continuePayload)
	if err != nil {
		t.Fatalf("SealContinueRequest: %v", err)
	}
	if sealedNextHop != nextHop {
		t.Fatalf("SealContinueRequest next hop mismatch")
	}
	_ = framed

	respHeader := wire.RoutedHeader{Sequence: 2, SessionID: 42, SessionVersion: 1}
	respData, err := wire.SealHeader(m.current.PrivateKey, wire.PacketContinueResponse, respHeader, nil)
	if err != nil {
		t.Fatalf("seal continue response: %v", err)
	}

	if err := m.ProcessContinueResponse(respData); err != nil {
		t.Fatalf("ProcessContinueResponse: %v", err)
	}
	if m.State() != StateOnRoute {
		t.Fatalf("expected state on_route after continue, got %v", m.State())
	}
}
