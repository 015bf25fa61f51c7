// Package session implements the server-side session record: one entry
// per upgraded client address, holding the route manager, ping
// history, replay-protection window, and integrity trackers that
// together drive a single client's route decisions and stats. The
// lookup table keys an in-memory map by client address and sweeps it
// for dead entries on a timer, with each session identified by a
// backend-assigned 64-bit id rather than a connection id.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/networknext/sdk-sub001/accelcrypto"
	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/pinghistory"
	"github.com/networknext/sdk-sub001/relayping"
	"github.com/networknext/sdk-sub001/replay"
	"github.com/networknext/sdk-sub001/routing"
	"github.com/networknext/sdk-sub001/tracker"
)

// SessionPingInterval is how often the server sends a route-path
// keepalive (session ping) to an on-route client.
const SessionPingInterval = 250 * time.Millisecond

// State is the coarse session lifecycle exposed to the application,
// independent of the route manager's own internal state machine.
type State int

const (
	StateOpen State = iota
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SilenceTimeout is how long a session may go without a client payload
// or session-ping before it's considered timed out.
const SilenceTimeout = 5 * time.Second

// MaxSessionUpdateRetries bounds how many consecutive failed backend
// session updates a session tolerates before falling back to direct.
const MaxSessionUpdateRetries = 3

// Session is the server's per-client record. All exported accessors
// lock internally; callers never need to hold a session-wide mutex
// themselves.
type Session struct {
	mu sync.Mutex

	id             uint64
	version        uint8
	clientAddress  address.Address
	userHash       uint64
	state          State
	keys           accelcrypto.SessionKeys

	upgradeTime           time.Time
	lastClientPacketTime  time.Time
	lastSessionPingTime   time.Time
	backendUpdateFailures int
	controlSendSeq        uint64

	Routes      *routing.Manager
	Pings       *pinghistory.History
	NearRelays  *relayping.Manager
	Replay      *replay.Protection
	Bandwidth   *tracker.BandwidthLimiter
	PacketLoss  *tracker.PacketLossTracker
	OutOfOrder  *tracker.OutOfOrderTracker
	Jitter      *tracker.JitterTracker

	logger *slog.Logger
}

// New creates a session record for a just-upgraded client. keys are the
// per-session AEAD keys derived from the upgrade handshake's key
// exchange, used for session-control traffic (route updates, stats,
// session pings).
func New(id uint64, clientAddr address.Address, userHash uint64, routePrivateKey [32]byte, keys accelcrypto.SessionKeys, kbps int32, now time.Time, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:                   id,
		version:              0,
		clientAddress:        clientAddr,
		userHash:             userHash,
		state:                StateOpen,
		keys:                 keys,
		upgradeTime:          now,
		lastClientPacketTime: now,
		lastSessionPingTime:  now,
		Routes:               routing.New(routePrivateKey, logger.With(slog.Uint64("session_id", id))),
		Pings:                pinghistory.New(),
		NearRelays:           relayping.New(),
		Replay:               replay.New(),
		Bandwidth:            tracker.NewBandwidthLimiter(kbps, float64(now.Unix())),
		PacketLoss:           &tracker.PacketLossTracker{},
		OutOfOrder:           &tracker.OutOfOrderTracker{},
		Jitter:               &tracker.JitterTracker{},
		logger:               logger,
	}
}

// SendKey returns the AEAD key this session's server side seals
// session-control packets under (the server-to-client direction).
func (s *Session) SendKey() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.SendKey
}

// RecvKey returns the AEAD key this session's server side opens
// inbound session-control packets with (the client-to-server
// direction).
func (s *Session) RecvKey() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.RecvKey
}

// NextControlSequence returns the next sequence number for an outgoing
// session-control packet, so repeated sends under the same AEAD key
// never reuse a nonce.
func (s *Session) NextControlSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.controlSendSeq
	s.controlSendSeq++
	return seq
}

// DueSessionPing reports whether it's time to send another route-path
// keepalive to the client.
func (s *Session) DueSessionPing(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSessionPingTime) >= SessionPingInterval
}

// MarkSessionPingSent records that a session ping was just sent.
func (s *Session) MarkSessionPingSent(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSessionPingTime = now
}

// ID returns the session's backend-assigned identifier.
func (s *Session) ID() uint64 { return s.id }

// ClientAddress returns the client's external address.
func (s *Session) ClientAddress() address.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientAddress
}

// State returns the coarse session lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close marks the session closed. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen {
		s.state = StateClosed
		s.logger.Info("session closed", slog.Uint64("session_id", s.id))
	}
}

// BumpVersion increments the session version on a new route install,
// and resets replay protection: a new route means a new AEAD key for
// session-keyed traffic, and the old sequence space carries no replay
// information under the new key.
func (s *Session) BumpVersion() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.Replay.Reset()
	return s.version
}

// Version returns the current session version.
func (s *Session) Version() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// TouchClientPacket records that a payload or session-ping was just
// received from the client, resetting the silence timer.
func (s *Session) TouchClientPacket(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClientPacketTime = now
}

// TimedOut reports whether the client has been silent past
// SilenceTimeout.
func (s *Session) TimedOut(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastClientPacketTime) > SilenceTimeout
}

// RecordBackendUpdateFailure increments the consecutive backend-update
// failure counter and reports whether the session should now fall back
// to direct (exceeded MaxSessionUpdateRetries).
func (s *Session) RecordBackendUpdateFailure() (shouldFallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backendUpdateFailures++
	return s.backendUpdateFailures > MaxSessionUpdateRetries
}

// RecordBackendUpdateSuccess resets the consecutive-failure counter.
func (s *Session) RecordBackendUpdateSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backendUpdateFailures = 0
}

// Table is the server's session lookup, keyed both by client address
// (for ingress routing) and by session id (for backend responses that
// address a session directly).
type Table struct {
	mu          sync.RWMutex
	byAddress   map[string]*Session
	bySessionID map[uint64]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{
		byAddress:   make(map[string]*Session),
		bySessionID: make(map[uint64]*Session),
	}
}

// Insert adds or replaces a session, indexed by both its client address
// and session id.
func (t *Table) Insert(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAddress[s.ClientAddress().String()] = s
	t.bySessionID[s.ID()] = s
}

// LookupByAddress finds a session by client address.
func (t *Table) LookupByAddress(addr address.Address) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byAddress[addr.String()]
	return s, ok
}

// LookupByID finds a session by backend-assigned id.
func (t *Table) LookupByID(id uint64) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.bySessionID[id]
	return s, ok
}

// Remove deletes a session from both indices.
func (t *Table) Remove(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byAddress, s.ClientAddress().String())
	delete(t.bySessionID, s.ID())
}

// Range calls fn once for every tracked session. fn must not call back
// into the table (Insert/Remove/SweepTimedOut) from within the
// callback.
func (t *Table) Range(fn func(*Session)) {
	t.mu.RLock()
	sessions := make([]*Session, 0, len(t.byAddress))
	for _, s := range t.byAddress {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()
	for _, s := range sessions {
		fn(s)
	}
}

// Len returns the number of tracked sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddress)
}

// SweepTimedOut closes and removes every session that has been silent
// past SilenceTimeout, returning their ids for the caller to log or
// report to the backend.
func (t *Table) SweepTimedOut(now time.Time) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []uint64
	for addr, s := range t.byAddress {
		if s.TimedOut(now) {
			s.Close()
			delete(t.byAddress, addr)
			delete(t.bySessionID, s.ID())
			removed = append(removed, s.ID())
		}
	}
	return removed
}

// Validate reports an error if a decoded session id/version pair
// doesn't correspond to a known, still-open session. Kept as a small
// helper because every ingress path (routed payload, session-control,
// backend response) needs the same check.
func Validate(t *Table, id uint64, version uint8) (*Session, error) {
	s, ok := t.LookupByID(id)
	if !ok {
		return nil, fmt.Errorf("session: unknown session id %d", id)
	}
	if s.State() != StateOpen {
		return nil, fmt.Errorf("session: session %d is %s", id, s.State())
	}
	if s.Version() != version {
		return nil, fmt.Errorf("session: session %d version mismatch: have %d, got %d", id, s.Version(), version)
	}
	return s, nil
}
