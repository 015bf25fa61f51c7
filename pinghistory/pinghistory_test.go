package pinghistory

import "testing"

func TestPingSentAssignsIncreasingSequence(t *testing.T) {
	h := New()
	s0 := h.PingSent(1.0)
	s1 := h.PingSent(2.0)
	if s1 != s0+1 {
		t.Fatalf("expected increasing sequence, got %d then %d", s0, s1)
	}
}

func TestPongReceivedIgnoresStaleMatch(t *testing.T) {
	h := New()
	seq := h.PingSent(1.0)
	// Wrap the ring so the slot seq occupied gets overwritten.
	for i := 0; i < EntryCount; i++ {
		h.PingSent(float64(i) + 2)
	}
	// This should be a no-op: the slot for `seq` no longer holds `seq`.
	h.PongReceived(seq, 999.0)
	if h.entries[seq%EntryCount].timePongReceived == 999.0 {
		t.Fatalf("stale pong match must be ignored")
	}
}

func TestStatsNoPongsReportsFullLoss(t *testing.T) {
	h := New()
	h.PingSent(1.0)
	h.PingSent(2.0)
	stats := StatsFromWindow(h, 0, 10, Safety)
	if stats.RTT != 0 || stats.Jitter != 0 || stats.PacketLoss != 100 {
		t.Fatalf("expected rtt=0 jitter=0 loss=100, got %+v", stats)
	}
}

func TestStatsWithPongsComputesRTTAndLoss(t *testing.T) {
	h := New()
	seq0 := h.PingSent(10.0)
	h.PongReceived(seq0, 10.05) // 50ms rtt
	seq1 := h.PingSent(10.1)
	h.PongReceived(seq1, 10.18) // 80ms rtt
	h.PingSent(10.2)            // no pong: lost
	// Pings sent within Safety of the latest pong fall outside the
	// window; this later exchange moves the window end to 10.55 so the
	// three pings above are counted.
	seq3 := h.PingSent(11.5)
	h.PongReceived(seq3, 11.55)

	stats := StatsFromWindow(h, 0, 12, Safety)
	if stats.RTT <= 0 {
		t.Fatalf("expected positive rtt, got %v", stats.RTT)
	}
	if stats.PacketLoss < 0 || stats.PacketLoss > 100 {
		t.Fatalf("packet loss out of range: %v", stats.PacketLoss)
	}
	if stats.Jitter < 0 {
		t.Fatalf("jitter must be non-negative, got %v", stats.Jitter)
	}
}

func TestStatsInvariantsAcrossRandomizedWindows(t *testing.T) {
	h := New()
	base := 100.0
	for i := 0; i < 50; i++ {
		seq := h.PingSent(base + float64(i)*0.1)
		if i%3 != 0 { // drop every third pong
			h.PongReceived(seq, base+float64(i)*0.1+0.02+float64(i%5)*0.001)
		}
	}
	stats := StatsFromWindow(h, 0, base+10, Safety)
	if stats.RTT < 0 {
		t.Fatalf("rtt must be >= 0, got %v", stats.RTT)
	}
	if stats.PacketLoss < 0 || stats.PacketLoss > 100 {
		t.Fatalf("packet loss out of [0,100]: %v", stats.PacketLoss)
	}
	if stats.Jitter < 0 {
		t.Fatalf("jitter must be >= 0, got %v", stats.Jitter)
	}
}
