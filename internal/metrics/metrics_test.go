package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	// Vectors without observations are not gathered, plain metrics are
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"pickup_run_duration_seconds", "pickup_uptime_seconds", "pickup_ledger_records"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
	SetGlobal(nil)
}

func TestHelpersWithoutGlobal(t *testing.T) {
	SetGlobal(nil)

	// Must not panic
	ObserveRun("ok", time.Second, 3)
	IncNotifications("sent")
	IncDeliveryFailures("permanent")
	IncShopifyRequests("200")
	IncAPIErrors("server_error")
}

func TestObserveRun(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObserveRun("ok", 2*time.Second, 7)
	ObserveRun("failed", time.Second, -1)

	if v := counterValue(t, m.RunsTotal.WithLabelValues("ok")); v != 1 {
		t.Errorf("ok runs = %v, want 1", v)
	}
	if v := counterValue(t, m.RunsTotal.WithLabelValues("failed")); v != 1 {
		t.Errorf("failed runs = %v, want 1", v)
	}
	if v := gaugeValue(t, m.OrdersFetched); v != 7 {
		t.Errorf("orders fetched = %v, want 7 (a failed run must not reset it)", v)
	}
	if v := gaugeValue(t, m.LastRunTimestamp); v == 0 {
		t.Error("last run timestamp not set")
	}
}

func TestIncNotifications(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncNotifications("sent")
	IncNotifications("sent")
	IncNotifications("skipped")
	IncDeliveryFailures("temporary")

	if v := counterValue(t, m.NotificationsTotal.WithLabelValues("sent")); v != 2 {
		t.Errorf("sent = %v, want 2", v)
	}
	if v := counterValue(t, m.NotificationsTotal.WithLabelValues("skipped")); v != 1 {
		t.Errorf("skipped = %v, want 1", v)
	}
	if v := counterValue(t, m.DeliveryFailuresTotal.WithLabelValues("temporary")); v != 1 {
		t.Errorf("temporary failures = %v, want 1", v)
	}
}
