// Package monitor exports Prometheus metrics and turns risk events into alerts.
package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"session-core/internal/events"
	"session-core/internal/session"
)

// Monitor watches events and emits alerts.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	AlertFn func(string)
}

// Start consumes risk breaches, trade closures and snapshots until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	if m.AlertFn == nil {
		m.AlertFn = func(s string) { log.Println(s) }
	}
	breaches, unsubBreach := m.Bus.Subscribe(events.EventRiskBreach, 50)
	snapshots, unsubSnap := m.Bus.Subscribe(events.EventSessionSnapshot, 8)
	go func() {
		defer unsubBreach()
		defer unsubSnap()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-breaches:
				if !ok {
					return
				}
				m.AlertFn(formatAlert(msg))
			case msg, ok := <-snapshots:
				if !ok {
					return
				}
				m.observeSnapshots(msg)
			}
		}
	}()
}

func (m *Monitor) observeSnapshots(msg any) {
	snaps, ok := msg.([]session.Snapshot)
	if !ok || m.Metrics == nil {
		return
	}
	running := 0
	for _, s := range snaps {
		if s.Status == session.StatusRunning {
			running++
		}
		m.Metrics.SetEquity(s.ID, s.Equity)
	}
	m.Metrics.SetRunning(running)
}

func formatAlert(msg any) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case events.RiskBreach:
		return fmt.Sprintf("⚠️ risk breach: session %s daily loss %.2f >= %.2f, paused", t.SessionID, t.DailyLoss, t.MaxDailyLoss)
	default:
		return "alert triggered"
	}
}
