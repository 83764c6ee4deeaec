package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/use-agent/xsign/models"
)

func TestObserveSign_CountsByResult(t *testing.T) {
	m := newWith(prometheus.NewRegistry())

	m.ObserveSign(nil, 50*time.Millisecond)
	m.ObserveSign(nil, 80*time.Millisecond)
	m.ObserveSign(models.NewSignError(models.ErrCodeSignTimeout, "script timed out", nil), 5*time.Second)

	if got := testutil.ToFloat64(m.signRequests.WithLabelValues("success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.signRequests.WithLabelValues("error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.signErrors.WithLabelValues(models.ErrCodeSignTimeout)); got != 1 {
		t.Errorf("SIGN_TIMEOUT count = %v, want 1", got)
	}
}

func TestRecordRecovery(t *testing.T) {
	m := newWith(prometheus.NewRegistry())

	m.RecordRecovery(nil)
	m.RecordRecovery(models.NewSignError(models.ErrCodePageTimeout, "navigation timed out", nil))

	if got := testutil.ToFloat64(m.recoveries.WithLabelValues("recovered")); got != 1 {
		t.Errorf("recovered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.recoveries.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestSetWorkers_OverwritesStale(t *testing.T) {
	m := newWith(prometheus.NewRegistry())

	m.SetWorkers(map[string]int{"ready": 3, "busy": 1})
	m.SetWorkers(map[string]int{"ready": 2, "busy": 0})

	if got := testutil.ToFloat64(m.workers.WithLabelValues("ready")); got != 2 {
		t.Errorf("ready gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.workers.WithLabelValues("busy")); got != 0 {
		t.Errorf("busy gauge = %v, want 0", got)
	}
}
