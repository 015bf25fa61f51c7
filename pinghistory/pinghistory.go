// Package pinghistory implements the fixed-size ping-history ring and
// the window-based RTT/jitter/packet-loss derivation, ported faithfully
// from the reference implementation's next_route_stats_from_ping_history.
package pinghistory

import "math"

const (
	// EntryCount is the ring's slot count.
	EntryCount = 256

	// Safety is the default safety-offset window, in seconds.
	Safety = 1.0
)

type entry struct {
	sequence       uint64
	timePingSent   float64
	timePongReceived float64
}

// History is a ring of EntryCount {sequence, time_sent, time_pong}
// slots indexed by sequence % EntryCount.
type History struct {
	sequence uint64
	entries  [EntryCount]entry
}

// New returns a freshly cleared ping history.
func New() *History {
	h := &History{}
	h.Clear()
	return h
}

// Clear resets every slot, matching next_ping_history_clear.
func (h *History) Clear() {
	h.sequence = 0
	for i := range h.entries {
		h.entries[i] = entry{
			sequence:         ^uint64(0),
			timePingSent:     -1.0,
			timePongReceived: -1.0,
		}
	}
}

// PingSent records a ping sent at the given time, overwriting the slot
// at sequence % EntryCount, and returns the sequence assigned to it.
func (h *History) PingSent(now float64) uint64 {
	index := h.sequence % EntryCount
	h.entries[index] = entry{
		sequence:         h.sequence,
		timePingSent:     now,
		timePongReceived: -1.0,
	}
	h.sequence++
	return h.entries[index].sequence
}

// PongReceived records a pong for the given sequence iff the slot at
// sequence % EntryCount still holds that sequence (a stale match, from
// a slot since overwritten, is silently ignored).
func (h *History) PongReceived(sequence uint64, now float64) {
	index := sequence % EntryCount
	if h.entries[index].sequence == sequence {
		h.entries[index].timePongReceived = now
	}
}

// Stats is the derived RTT/jitter/packet-loss for a window.
type Stats struct {
	RTT        float64 // milliseconds
	Jitter     float64 // milliseconds
	PacketLoss float64 // percent, [0,100]
}

// StatsFromWindow computes Stats over [start, end] using the safety-
// offset algorithm: find the latest pong-received time among the pings
// in range, clamp the effective window end to (that time - safety), and
// only then count sent/received/rtt/jitter — this avoids counting a
// ping whose pong simply hasn't arrived yet as loss.
func StatsFromWindow(h *History, start, end, safety float64) Stats {
	if start < safety {
		start = safety
	}

	stats := Stats{RTT: 0, Jitter: 0, PacketLoss: 100}

	var mostRecentPongTime float64
	for _, e := range h.entries {
		if e.timePingSent >= start && e.timePingSent <= end && e.timePongReceived >= e.timePingSent {
			if e.timePongReceived > mostRecentPongTime {
				mostRecentPongTime = e.timePongReceived
			}
		}
	}
	if mostRecentPongTime <= 0 {
		return stats
	}
	end = mostRecentPongTime - safety

	minRTT := float64(1 << 30)
	numSent := 0
	numReceived := 0
	for _, e := range h.entries {
		if e.timePingSent < start || e.timePingSent > end {
			continue
		}
		numSent++
		if e.timePongReceived >= e.timePingSent {
			rtt := e.timePongReceived - e.timePingSent
			if rtt < minRTT {
				minRTT = rtt
			}
			numReceived++
		}
	}

	if numSent == 0 || numReceived == 0 {
		return stats
	}

	stats.RTT = minRTT * 1000
	stats.PacketLoss = 100 * (1 - float64(numReceived)/float64(numSent))

	var sumSquaredError float64
	numJitterSamples := 0
	for _, e := range h.entries {
		if e.timePingSent < start || e.timePingSent > end {
			continue
		}
		if e.timePongReceived > e.timePingSent {
			rtt := e.timePongReceived - e.timePingSent
			errv := rtt - minRTT
			sumSquaredError += errv * errv
			numJitterSamples++
		}
	}
	if numJitterSamples > 0 {
		stats.Jitter = math.Sqrt(sumSquaredError/float64(numJitterSamples)) * 1000
	}
	return stats
}
