// Package routing implements the client and server route manager: the
// three-route state (pending/current/previous), the sticky
// fallback-to-direct transition, and the packet framing/unframing that
// rides on top of a route.
//
// Sticky fallback is modelled as an explicit enum state reached by a
// single transition function, rather than a scatter of independent
// booleans (current_route/pending_route/pending_continue/fallback).
package routing

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/token"
	"github.com/networknext/sdk-sub001/wire"
)

// Numeric constants governing route lifetime and request timeouts.
const (
	SliceDuration            = 10 * time.Second
	RouteRequestTimeout      = 5 * time.Second
	ContinueRequestTimeout   = 5 * time.Second
	RouteRequestSendInterval = 250 * time.Millisecond
	RouteLifetime            = 2 * SliceDuration
)

// FallbackFlag records why a session fell back to direct. Multiple bits
// are never meaningfully combined in practice (fallback is one-way and
// triggers on the first qualifying event), but the type is a bitmask to
// mirror the wire/stats representation these flags are reported in.
type FallbackFlag uint32

const (
	BadRouteToken FallbackFlag = 1 << iota
	BadContinueToken
	RouteRequestTimedOut
	ContinueRequestTimedOut
	RouteExpired
	RouteTimedOut
	NoRouteToContinue
	PreviousUpdateStillPending
)

func (f FallbackFlag) String() string {
	names := []struct {
		bit  FallbackFlag
		name string
	}{
		{BadRouteToken, "BAD_ROUTE_TOKEN"},
		{BadContinueToken, "BAD_CONTINUE_TOKEN"},
		{RouteRequestTimedOut, "ROUTE_REQUEST_TIMED_OUT"},
		{ContinueRequestTimedOut, "CONTINUE_REQUEST_TIMED_OUT"},
		{RouteExpired, "ROUTE_EXPIRED"},
		{RouteTimedOut, "ROUTE_TIMED_OUT"},
		{NoRouteToContinue, "NO_ROUTE_TO_CONTINUE"},
		{PreviousUpdateStillPending, "PREVIOUS_UPDATE_STILL_PENDING"},
	}
	out := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// State is the explicit route-manager state machine.
type State int

const (
	StateDirect State = iota
	StatePendingRoute
	StateOnRoute
	StatePendingContinue
	StateFallback
)

func (s State) String() string {
	switch s {
	case StateDirect:
		return "direct"
	case StatePendingRoute:
		return "pending_route"
	case StateOnRoute:
		return "on_route"
	case StatePendingContinue:
		return "pending_continue"
	case StateFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Route is the endpoint's opaque view of one hop in a chain: a
// next-hop address, the per-hop AEAD key, and the route's session
// identity/lifetime/bandwidth caps.
type Route struct {
	NextHop        address.Address
	PrivateKey     [32]byte
	SessionID      uint64
	SessionVersion uint8
	ExpireTime     time.Time
	KbpsUp         int32
	KbpsDown       int32
}

// Manager owns the three-route state, the send-sequence counter, and
// the sticky fallback flag for one session, on either the client or the
// server side (the two mirror each other).
type Manager struct {
	mu sync.Mutex

	logger *slog.Logger

	routePrivateKey [32]byte // this endpoint's per-hop secret for decrypting tokens addressed to it

	state State

	pending          *Route
	pendingTokens    [][]byte // remaining sealed tokens to forward in the route/continue request
	pendingStartTime time.Time

	current  *Route
	previous *Route

	fallbackFlags  FallbackFlag
	fallbackLogged bool

	sendSequence uint64
}

// New creates a Manager for the given per-hop secret key.
func New(routePrivateKey [32]byte, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{routePrivateKey: routePrivateKey, logger: logger, state: StateDirect}
}

// State returns the current state under lock.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FallbackFlags returns the sticky fallback reason bits (zero if never
// fallen back).
func (m *Manager) FallbackFlags() FallbackFlag {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackFlags
}

// HasNetworkRoute reports whether a current route is installed and the
// session hasn't fallen back to direct.
func (m *Manager) HasNetworkRoute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.state != StateFallback
}

// fallbackToDirectLocked performs the one-way transition to Fallback.
// Subsequent calls are a no-op: fallback is sticky for the session's
// lifetime.
func (m *Manager) fallbackToDirectLocked(flag FallbackFlag) {
	if m.state == StateFallback {
		return
	}
	m.previous = m.current
	m.current = nil
	m.pending = nil
	m.state = StateFallback
	m.fallbackFlags = flag
	if !m.fallbackLogged {
		m.fallbackLogged = true
		m.logger.Info("session falling back to direct", slog.String("reason", flag.String()))
	}
}

// FallbackToDirect is the exported, locking form.
func (m *Manager) FallbackToDirect(flag FallbackFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackToDirectLocked(flag)
}

// DirectRoute handles a backend-issued DIRECT route update: promotes
// current to previous and clears current, without marking the session
// as having fallen back (this is a normal backend-directed transition,
// not a failure).
func (m *Manager) DirectRoute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateFallback {
		return
	}
	m.previous = m.current
	m.current = nil
	m.pending = nil
	m.state = StateDirect
}

// BeginNextRoute handles a backend ROUTE update: sealedTokens[0] is
// encrypted to this endpoint's routePrivateKey; the rest ride along
// verbatim in the route-request packet for the next hop to peel off in
// turn. Returns the route-request packet payload and the next-hop
// address to send it to.
func (m *Manager) BeginNextRoute(sealedTokens [][]byte, now time.Time) (requestPayload []byte, nextHop address.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFallback {
		return nil, address.Address{}, fmt.Errorf("routing: session already fell back to direct")
	}
	if len(sealedTokens) == 0 {
		m.fallbackToDirectLocked(BadRouteToken)
		return nil, address.Address{}, fmt.Errorf("routing: no route tokens supplied")
	}

	rt, err := token.OpenRouteToken(m.routePrivateKey, sealedTokens[0])
	if err != nil {
		m.fallbackToDirectLocked(BadRouteToken)
		return nil, address.Address{}, fmt.Errorf("routing: decode route token: %w", err)
	}

	next := address.Address{Type: address.IPv4, IP4: rt.NextAddress, Port: rt.NextPort}
	route := &Route{
		NextHop:        next,
		PrivateKey:     rt.SessionPrivateKey,
		SessionID:      rt.SessionID,
		SessionVersion: rt.SessionVersion,
		KbpsUp:         rt.KbpsUp,
		KbpsDown:       rt.KbpsDown,
	}

	m.pending = route
	m.pendingTokens = sealedTokens[1:]
	m.pendingStartTime = now
	m.state = StatePendingRoute

	return encodeTokenChain(sealedTokens[1:]), next, nil
}

// ContinueNextRoute handles a backend CONTINUE update. Requires a
// current route and no route already pending: at most one of
// {pending_route, pending_continue} may be true at a time.
func (m *Manager) ContinueNextRoute(sealedTokens [][]byte, now time.Time) (continuePayload []byte, nextHop address.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFallback {
		return nil, address.Address{}, fmt.Errorf("routing: session already fell back to direct")
	}
	if m.current == nil {
		m.fallbackToDirectLocked(NoRouteToContinue)
		return nil, address.Address{}, fmt.Errorf("routing: no current route to continue")
	}
	if m.state == StatePendingRoute || m.state == StatePendingContinue {
		m.fallbackToDirectLocked(PreviousUpdateStillPending)
		return nil, address.Address{}, fmt.Errorf("routing: previous update still pending")
	}
	if len(sealedTokens) == 0 {
		m.fallbackToDirectLocked(BadContinueToken)
		return nil, address.Address{}, fmt.Errorf("routing: no continue tokens supplied")
	}

	ct, err := token.OpenContinueToken(m.routePrivateKey, sealedTokens[0])
	if err != nil {
		m.fallbackToDirectLocked(BadContinueToken)
		return nil, address.Address{}, fmt.Errorf("routing: decode continue token: %w", err)
	}
	if ct.SessionID != m.current.SessionID {
		m.fallbackToDirectLocked(BadContinueToken)
		return nil, address.Address{}, fmt.Errorf("routing: continue token session id mismatch")
	}

	m.pendingTokens = sealedTokens[1:]
	m.pendingStartTime = now
	m.state = StatePendingContinue

	return encodeTokenChain(sealedTokens[1:]), m.current.NextHop, nil
}

// ConfirmPendingRoute promotes the pending route to current on receipt
// of a RouteResponse. The route's expiry is set to install time plus
// two slice periods, the outer bound a route is ever allowed to live
// without a continue extending it.
func (m *Manager) ConfirmPendingRoute(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePendingRoute || m.pending == nil {
		return fmt.Errorf("routing: no pending route to confirm")
	}
	route := m.pending
	route.ExpireTime = m.pendingStartTime.Add(RouteLifetime)

	m.previous = m.current
	m.current = route
	m.pending = nil
	m.state = StateOnRoute
	m.logger.Info("route installed", slog.Uint64("session_id", route.SessionID), slog.Time("expires", route.ExpireTime))
	_ = now
	return nil
}

// ConfirmContinueRoute extends the current route's expiry by one slice
// on receipt of a ContinueResponse. A single continue extends by
// SliceDuration; the route never drifts more than two slices beyond its
// install point because continues are only accepted serially (at most
// one pending at a time) and each is driven by a fresh backend slice
// tick every SliceDuration, so the cumulative extension tracks
// wall-clock slices one-for-one rather than compounding ahead of them.
func (m *Manager) ConfirmContinueRoute() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePendingContinue || m.current == nil {
		return fmt.Errorf("routing: no pending continue to confirm")
	}
	m.current.ExpireTime = m.current.ExpireTime.Add(SliceDuration)
	m.state = StateOnRoute
	m.logger.Info("route continued", slog.Uint64("session_id", m.current.SessionID), slog.Time("expires", m.current.ExpireTime))
	return nil
}

// CheckForTimeouts evaluates every pending-operation deadline and
// applies the corresponding sticky fallback if one has been exceeded.
func (m *Manager) CheckForTimeouts(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StatePendingRoute:
		if now.Sub(m.pendingStartTime) >= RouteRequestTimeout {
			m.fallbackToDirectLocked(RouteRequestTimedOut)
			return
		}
	case StatePendingContinue:
		if now.Sub(m.pendingStartTime) >= ContinueRequestTimeout {
			m.fallbackToDirectLocked(ContinueRequestTimedOut)
			return
		}
	}

	if m.current != nil && m.state != StateFallback {
		if !m.current.ExpireTime.IsZero() && !now.Before(m.current.ExpireTime) {
			m.fallbackToDirectLocked(RouteExpired)
		}
	}
}

// NextSendSequence returns the next client/server-to-peer sequence
// number for routed payload framing.
func (m *Manager) NextSendSequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.sendSequence
	m.sendSequence++
	return seq
}

// PrepareSendPacket wraps payload in a routed-payload header under the
// current route's key, iff a current route exists. Callers fall back to
// a direct send themselves when ok is false.
func (m *Manager) PrepareSendPacket(packetType wire.PacketType, sequence uint64, payload []byte) (framed []byte, nextHop address.Address, ok bool) {
	m.mu.Lock()
	route := m.current
	m.mu.Unlock()

	if route == nil {
		return nil, address.Address{}, false
	}
	h := wire.RoutedHeader{Sequence: sequence, SessionID: route.SessionID, SessionVersion: route.SessionVersion}
	framed, err := wire.SealHeader(route.PrivateKey, packetType, h, payload)
	if err != nil {
		return nil, address.Address{}, false
	}
	return framed, route.NextHop, true
}

// ProcessIncomingRoutedPacket tries the current route key first, then
// the previous (to ride out a changeover window), and validates the
// session id matches.
func (m *Manager) ProcessIncomingRoutedPacket(packetType wire.PacketType, sessionID uint64, data []byte) (payload []byte, sequence uint64, err error) {
	m.mu.Lock()
	current, previous := m.current, m.previous
	m.mu.Unlock()

	for _, route := range []*Route{current, previous} {
		if route == nil || route.SessionID != sessionID {
			continue
		}
		h, plain, err := wire.OpenHeader(route.PrivateKey, packetType, data)
		if err == nil {
			return plain, h.Sequence, nil
		}
	}
	return nil, 0, fmt.Errorf("routing: no route key verified this packet")
}

// SealRouteRequest AEAD-seals payload (the forward token chain returned
// by BeginNextRoute) under the pending route's key, ready to send to its
// next hop as a RouteRequest packet.
func (m *Manager) SealRouteRequest(sequence uint64, payload []byte) ([]byte, address.Address, error) {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()
	if pending == nil {
		return nil, address.Address{}, fmt.Errorf("routing: no pending route to request")
	}
	h := wire.RoutedHeader{Sequence: sequence, SessionID: pending.SessionID, SessionVersion: pending.SessionVersion}
	framed, err := wire.SealHeader(pending.PrivateKey, wire.PacketRouteRequest, h, payload)
	if err != nil {
		return nil, address.Address{}, fmt.Errorf("routing: seal route request: %w", err)
	}
	return framed, pending.NextHop, nil
}

// ProcessRouteResponse verifies data under the pending route's key and,
// if it checks out, confirms the route as installed.
func (m *Manager) ProcessRouteResponse(now time.Time, data []byte) error {
	m.mu.Lock()
	pending := m.pending
	state := m.state
	m.mu.Unlock()
	if state != StatePendingRoute || pending == nil {
		return fmt.Errorf("routing: no pending route to confirm")
	}
	h, _, err := wire.OpenHeader(pending.PrivateKey, wire.PacketRouteResponse, data)
	if err != nil {
		return fmt.Errorf("routing: verify route response: %w", err)
	}
	if h.SessionID != pending.SessionID {
		return fmt.Errorf("routing: route response session id mismatch")
	}
	return m.ConfirmPendingRoute(now)
}

// SealContinueRequest AEAD-seals payload (the forward token chain
// returned by ContinueNextRoute) under the current route's key.
func (m *Manager) SealContinueRequest(sequence uint64, payload []byte) ([]byte, address.Address, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return nil, address.Address{}, fmt.Errorf("routing: no current route to continue")
	}
	h := wire.RoutedHeader{Sequence: sequence, SessionID: current.SessionID, SessionVersion: current.SessionVersion}
	framed, err := wire.SealHeader(current.PrivateKey, wire.PacketContinueRequest, h, payload)
	if err != nil {
		return nil, address.Address{}, fmt.Errorf("routing: seal continue request: %w", err)
	}
	return framed, current.NextHop, nil
}

// ProcessContinueResponse verifies data under the current route's key
// and, if it checks out, extends the route's expiry.
func (m *Manager) ProcessContinueResponse(data []byte) error {
	m.mu.Lock()
	current := m.current
	state := m.state
	m.mu.Unlock()
	if state != StatePendingContinue || current == nil {
		return fmt.Errorf("routing: no pending continue to confirm")
	}
	h, _, err := wire.OpenHeader(current.PrivateKey, wire.PacketContinueResponse, data)
	if err != nil {
		return fmt.Errorf("routing: verify continue response: %w", err)
	}
	if h.SessionID != current.SessionID {
		return fmt.Errorf("routing: continue response session id mismatch")
	}
	return m.ConfirmContinueRoute()
}

func encodeTokenChain(tokens [][]byte) []byte {
	var out []byte
	for _, tk := range tokens {
		out = append(out, tk...)
	}
	return out
}
