package tracker

import "testing"

func TestBandwidthLimiterAllowsWithinBudget(t *testing.T) {
	b := NewBandwidthLimiter(1000, 0) // 1000 kbps = 125000 bytes/sec
	if !b.RecordSend(0, 1000) {
		t.Fatalf("expected a single 1000-byte send to stay within budget")
	}
	if b.OverLimit() {
		t.Fatalf("should not be over limit yet")
	}
}

func TestBandwidthLimiterFlagsOverLimit(t *testing.T) {
	b := NewBandwidthLimiter(1, 0) // 1 kbps = 125 bytes/sec capacity
	if b.RecordSend(0, 10000) {
		t.Fatalf("expected oversized send to exceed budget")
	}
	if !b.OverLimit() {
		t.Fatalf("expected OverLimit to report true after an over-budget send")
	}
}

func TestBandwidthLimiterRefillsOverTime(t *testing.T) {
	b := NewBandwidthLimiter(800, 0) // 800 kbps = 100000 bytes/sec
	b.RecordSend(0, 100000)
	if b.RecordSend(0, 1) {
		t.Fatalf("bucket should be drained immediately after a full-budget send")
	}
	if !b.RecordSend(1.0, 100000) {
		t.Fatalf("expected bucket to refill fully after 1 second")
	}
}

func TestPacketLossTracker(t *testing.T) {
	var p PacketLossTracker
	for i := 0; i < 10; i++ {
		p.RecordSent()
	}
	for i := 0; i < 8; i++ {
		p.RecordReceived()
	}
	loss := p.PacketLossPercent()
	if loss != 20 {
		t.Fatalf("expected 20%% loss, got %v", loss)
	}
}

func TestOutOfOrderTracker(t *testing.T) {
	var o OutOfOrderTracker
	seqs := []uint64{1, 2, 3, 2, 4, 1, 5}
	wantOOO := []bool{false, false, false, true, false, true, false}
	for i, s := range seqs {
		got := o.Record(s)
		if got != wantOOO[i] {
			t.Fatalf("sequence %d at index %d: got out-of-order=%v, want %v", s, i, got, wantOOO[i])
		}
	}
	if o.Count() != 2 {
		t.Fatalf("expected 2 out-of-order packets, got %d", o.Count())
	}
}

func TestJitterTrackerNonNegative(t *testing.T) {
	var j JitterTracker
	times := []float64{0, 0.1, 0.25, 0.3, 0.5, 0.52}
	for _, tt := range times {
		j.Record(tt)
	}
	if j.JitterSeconds() < 0 {
		t.Fatalf("jitter must be non-negative, got %v", j.JitterSeconds())
	}
}
