package accel

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SessionsActive.Set(3)
	m.PacketsDropped.WithLabelValues("malformed").Inc()
	m.FallbackToDirect.Inc()
	m.RouteRTT.WithLabelValues("1").Set(25.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}
