package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-core/internal/events"
	"session-core/internal/session"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(nil)
	m.Order("s1", "filled")
	m.Order("s1", "filled")
	m.Reconciled(nil)
	m.Reconciled(errors.New("down"))
	m.Orphans(3)
	m.ObserveBroker("summary", 20*time.Millisecond, errors.New("x"))
	m.ObserveBroker("summary", 20*time.Millisecond, context.Canceled)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.orders.WithLabelValues("s1", "filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.orphans))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.brokerErrors.WithLabelValues("summary")))

	m.SetEquity("s1", 100)
	m.ForgetSession("s1")
	assert.Zero(t, testutil.CollectAndCount(m.equity))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(nil)
	m.SetRunning(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sessions_running 2"))
}

func TestMonitorAlertsAndSnapshots(t *testing.T) {
	bus := events.NewBus()
	metrics := NewMetrics(nil)
	alerts := make(chan string, 1)
	mon := &Monitor{Bus: bus, Metrics: metrics, AlertFn: func(s string) { alerts <- s }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)

	bus.Publish(events.EventRiskBreach, events.RiskBreach{SessionID: "s1", DailyLoss: 100, MaxDailyLoss: 100})
	select {
	case msg := <-alerts:
		assert.Contains(t, msg, "session s1")
	case <-time.After(time.Second):
		t.Fatal("no alert")
	}

	snap := session.Snapshot{Status: session.StatusRunning}
	snap.ID = "s1"
	snap.Equity = 1234
	bus.Publish(events.EventSessionSnapshot, []session.Snapshot{snap})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.running) == 1 &&
			testutil.ToFloat64(metrics.equity.WithLabelValues("s1")) == 1234
	}, time.Second, 10*time.Millisecond)
}
