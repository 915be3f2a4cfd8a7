// Package risk enforces per-session position sizing and the daily loss limit.
package risk

import (
	"log"
	"math"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Manager tracks daily realized results per session.
type Manager struct {
	mu      sync.RWMutex
	config  Config
	metrics map[string]*DailyMetrics
	now     func() time.Time
}

// NewInMemory creates a risk manager without persistence.
func NewInMemory(cfg Config) *Manager {
	if cfg.MinOrderUnits <= 0 {
		cfg.MinOrderUnits = MinOrderUnits
	}
	return &Manager{
		config:  cfg,
		metrics: make(map[string]*DailyMetrics),
		now:     time.Now,
	}
}

// GetConfig returns a copy of current config.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// entry returns the session's metrics for the day of at, rolling over at the UTC
// date change. Caller holds the write lock.
func (m *Manager) entry(sessionID string, at time.Time) *DailyMetrics {
	day := at.UTC().Format(dateLayout)
	dm, ok := m.metrics[sessionID]
	if !ok {
		dm = &DailyMetrics{Date: day}
		m.metrics[sessionID] = dm
		return dm
	}
	if dm.Date != day {
		log.Printf("[%s] Daily metrics reset. Prev: PnL=%.2f Trades=%d Losses=%.2f",
			sessionID, dm.PnL, dm.Trades, dm.Losses)
		dm.Date = day
		dm.PnL = 0
		dm.Trades = 0
		dm.Wins = 0
		dm.Losses = 0
	}
	return dm
}

// RecordClose folds one closed trade's net P&L into the session's daily metrics.
func (m *Manager) RecordClose(sessionID string, pnl float64, at time.Time) DailyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	dm := m.entry(sessionID, at)
	dm.Trades++
	dm.PnL += pnl
	if pnl > 0 {
		dm.Wins++
	}
	if pnl < 0 {
		dm.Losses += -pnl
	}

	dm.TotalRealizedPnL += pnl
	if dm.TotalRealizedPnL > dm.MaxProfit {
		dm.MaxProfit = dm.TotalRealizedPnL
	}
	if dd := dm.MaxProfit - dm.TotalRealizedPnL; dd > dm.MaxDrawdown {
		dm.MaxDrawdown = dd
	}
	return *dm
}

// DailyLoss returns the session's realized losses for today.
func (m *Manager) DailyLoss(sessionID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.metrics[sessionID]; !ok {
		return 0
	}
	return m.entry(sessionID, m.now()).Losses
}

// GetMetrics returns the session's current metrics snapshot.
func (m *Manager) GetMetrics(sessionID string) DailyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.metrics[sessionID]; !ok {
		return DailyMetrics{Date: m.now().UTC().Format(dateLayout)}
	}
	return *m.entry(sessionID, m.now())
}

// ResetDailyMetrics clears today's counters for a session.
func (m *Manager) ResetDailyMetrics(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm, ok := m.metrics[sessionID]
	if !ok {
		return
	}
	log.Printf("[%s] Daily metrics reset. Prev: PnL=%.2f Trades=%d Losses=%.2f",
		sessionID, dm.PnL, dm.Trades, dm.Losses)
	dm.PnL = 0
	dm.Trades = 0
	dm.Wins = 0
	dm.Losses = 0
}

// Forget drops a deleted session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metrics, sessionID)
}

// Breached reports whether a daily loss has hit a positive limit.
func Breached(dailyLoss, maxDailyLoss float64) bool {
	return maxDailyLoss > 0 && dailyLoss >= maxDailyLoss
}

// ClampUnits bounds units to [-max, max].
func ClampUnits(units, max float64) float64 {
	max = math.Abs(max)
	return math.Max(-max, math.Min(max, units))
}

// Size converts strategy-space positions into a whole-unit order delta. Deltas
// below the minimum order size are marked Skip.
func (m *Manager) Size(target, prev, maxPositionSize float64) Decision {
	d := Decision{
		TargetUnits: ClampUnits(target*maxPositionSize, maxPositionSize),
		PrevUnits:   ClampUnits(prev*maxPositionSize, maxPositionSize),
	}
	d.Delta = math.Trunc(d.TargetUnits - d.PrevUnits)
	d.Skip = math.Abs(d.Delta) < m.GetConfig().MinOrderUnits
	return d
}
