// Package relayping implements the near-relay ping manager: the backend
// pushes a set of near relays, and this package distributes ping
// traffic evenly across them (avoiding a thundering herd of
// simultaneous pings), matches pongs by relay address and sequence, and
// surfaces per-relay RTT/jitter/loss via pinghistory.
package relayping

import (
	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/pinghistory"
)

// Numeric constants governing near-relay ping cadence and fan-out.
const (
	MaxNearRelays          = 32
	NearRelayPingsPerSecond = 10
)

// Relay is one backend-pushed near-relay descriptor.
type Relay struct {
	ID              uint64
	Address         address.Address
	PingToken       []byte
	ExpireTimestamp uint64
}

type relayState struct {
	relay        Relay
	lastPingTime float64
	history      *pinghistory.History
}

// Manager tracks up to MaxNearRelays simultaneously.
type Manager struct {
	relays []relayState
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{}
}

// Update replaces the relay set, matching next_relay_manager_update:
// existing history is dropped, and initial ping times are staggered
// evenly across 1/NearRelayPingsPerSecond so a fresh relay set doesn't
// cause every relay to be pinged in the same tick.
func (m *Manager) Update(relays []Relay, now float64) {
	if len(relays) > MaxNearRelays {
		relays = relays[:MaxNearRelays]
	}
	m.relays = make([]relayState, len(relays))
	pingInterval := 1.0 / NearRelayPingsPerSecond
	n := len(relays)
	for i, r := range relays {
		m.relays[i] = relayState{
			relay:        r,
			lastPingTime: now - pingInterval + float64(i)*pingInterval/float64(maxInt(n, 1)),
			history:      pinghistory.New(),
		}
	}
}

// PendingPing is one relay a ping should be sent to this tick.
type PendingPing struct {
	Relay    Relay
	Sequence uint64
}

// DuePings returns the relays whose ping interval has elapsed as of
// now, and records the ping-sent time in each relay's history. Callers
// are responsible for actually constructing and sending the ClientPing
// packet (SessionID/magic/addresses are endpoint-level concerns this
// package doesn't own).
func (m *Manager) DuePings(now float64) []PendingPing {
	pingInterval := 1.0 / NearRelayPingsPerSecond
	var due []PendingPing
	for i := range m.relays {
		rs := &m.relays[i]
		if rs.lastPingTime+pingInterval <= now {
			seq := rs.history.PingSent(now)
			rs.lastPingTime = now
			due = append(due, PendingPing{Relay: rs.relay, Sequence: seq})
		}
	}
	return due
}

// ProcessPong matches an inbound pong by relay address and sequence.
func (m *Manager) ProcessPong(from address.Address, sequence uint64, now float64) {
	for i := range m.relays {
		if m.relays[i].relay.Address.Equal(from) {
			m.relays[i].history.PongReceived(sequence, now)
			return
		}
	}
}

// RelayStats is the per-relay window statistics reported to the
// backend in stats packets.
type RelayStats struct {
	RelayID    uint64
	RTT        float64
	Jitter     float64
	PacketLoss float64
}

// Stats computes window statistics for every tracked relay over
// [now-window, now].
func (m *Manager) Stats(now, window float64) []RelayStats {
	out := make([]RelayStats, 0, len(m.relays))
	for _, rs := range m.relays {
		s := pinghistory.StatsFromWindow(rs.history, now-window, now, pinghistory.Safety)
		out = append(out, RelayStats{
			RelayID:    rs.relay.ID,
			RTT:        s.RTT,
			Jitter:     s.Jitter,
			PacketLoss: s.PacketLoss,
		})
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
