// Package gateway pools broker clients per account with reference counting and a
// failure circuit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	exchange "session-core/pkg/exchanges/common"
)

var (
	ErrGatewayUnhealthy = errors.New("gateway is unhealthy")
	ErrPoolFull         = errors.New("gateway pool is full")
)

// Factory creates the broker client for an account.
type Factory func(accountID string) (exchange.Broker, error)

// CachedGateway holds a Broker with metadata for lifecycle management.
type CachedGateway struct {
	Broker    exchange.Broker
	AccountID string
	Refs      int
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	Failures  int
}

// Config holds configuration for the Manager.
type Config struct {
	MaxSize          int           // Maximum number of pooled clients
	IdleTimeout      time.Duration // Time before an unreferenced client is dropped
	HealthInterval   time.Duration // Interval between health checks
	FailureThreshold int           // Consecutive upstream failures before marking unhealthy
	CircuitTimeout   time.Duration // Time to wait before retrying an unhealthy client
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          100,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 5,
		CircuitTimeout:   time.Minute,
	}
}

// Manager owns one broker client per account.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]*CachedGateway

	config  Config
	factory Factory
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a new pool.
func NewManager(factory Factory, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = def.CircuitTimeout
	}
	return &Manager{
		gateways: make(map[string]*CachedGateway),
		config:   cfg,
		factory:  factory,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins background idle cleanup and health checks.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		cleanup := time.NewTicker(m.config.IdleTimeout / 2)
		health := time.NewTicker(m.config.HealthInterval)
		defer cleanup.Stop()
		defer health.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-cleanup.C:
				m.cleanupIdle()
			case <-health.C:
				m.healthCheckAll(ctx)
			}
		}
	}()
}

// Stop shuts down background work and drops every client.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.gateways {
		m.dropLocked(id)
	}
}

// Acquire returns the account's client, creating it on first use, and takes a
// reference. Every successful Acquire must be paired with Release.
func (m *Manager) Acquire(accountID string) (exchange.Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cached, ok := m.gateways[accountID]; ok {
		if m.openLocked(cached, now) {
			return nil, fmt.Errorf("%w: %s", ErrGatewayUnhealthy, accountID)
		}
		cached.Refs++
		cached.LastUsed = now
		return cached.Broker, nil
	}

	if len(m.gateways) >= m.config.MaxSize && !m.evictIdleLocked() {
		return nil, ErrPoolFull
	}

	b, err := m.factory(accountID)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	m.gateways[accountID] = &CachedGateway{
		Broker:    b,
		AccountID: accountID,
		Refs:      1,
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
	}
	log.Printf("✓ Broker client created for account %s", accountID)
	return b, nil
}

// Peek returns the account's client without taking a reference, creating it if
// needed. Used for one-shot account queries.
func (m *Manager) Peek(accountID string) (exchange.Broker, error) {
	b, err := m.Acquire(accountID)
	if err != nil {
		return nil, err
	}
	m.Release(accountID)
	return b, nil
}

// Release drops a reference. The client stays pooled until idle cleanup.
func (m *Manager) Release(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[accountID]; ok && cached.Refs > 0 {
		cached.Refs--
		cached.LastUsed = m.now()
	}
}

// Remove drops a client regardless of references.
func (m *Manager) Remove(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(accountID)
}

// ReportFailure counts an upstream failure against the account's client.
func (m *Manager) ReportFailure(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[accountID]; ok {
		cached.Failures++
		if cached.Failures == m.config.FailureThreshold {
			log.Printf("⚠️ Broker client for %s marked unhealthy after %d failures", accountID, cached.Failures)
		}
	}
}

// ReportSuccess resets the failure counter.
func (m *Manager) ReportSuccess(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[accountID]; ok {
		cached.Failures = 0
		cached.HealthyAt = m.now()
	}
}

// Healthy reports whether the account's circuit is closed.
func (m *Manager) Healthy(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cached, ok := m.gateways[accountID]
	return !ok || cached.Failures < m.config.FailureThreshold
}

// Stats returns current pool statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := PoolStats{
		TotalGateways: len(m.gateways),
		MaxSize:       m.config.MaxSize,
	}
	for _, cached := range m.gateways {
		stats.References += cached.Refs
		if cached.Failures >= m.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

// PoolStats contains gateway pool statistics.
type PoolStats struct {
	TotalGateways  int `json:"total_gateways"`
	MaxSize        int `json:"max_size"`
	References     int `json:"references"`
	UnhealthyCount int `json:"unhealthy_count"`
}

// --- Internal helpers ---

// openLocked reports whether the circuit is open: too many failures and the
// cool-down since the last healthy moment has not elapsed.
func (m *Manager) openLocked(cached *CachedGateway, now time.Time) bool {
	return cached.Failures >= m.config.FailureThreshold && now.Sub(cached.HealthyAt) < m.config.CircuitTimeout
}

func (m *Manager) dropLocked(accountID string) {
	cached, ok := m.gateways[accountID]
	if !ok {
		return
	}
	if closer, ok := cached.Broker.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	delete(m.gateways, accountID)
}

func (m *Manager) evictIdleLocked() bool {
	var oldest *CachedGateway
	for _, cached := range m.gateways {
		if cached.Refs > 0 {
			continue
		}
		if oldest == nil || cached.LastUsed.Before(oldest.LastUsed) {
			oldest = cached
		}
	}
	if oldest == nil {
		return false
	}
	m.dropLocked(oldest.AccountID)
	return true
}

func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, cached := range m.gateways {
		if cached.Refs == 0 && now.Sub(cached.LastUsed) > m.config.IdleTimeout {
			m.dropLocked(id)
		}
	}
}

func (m *Manager) healthCheckAll(ctx context.Context) {
	m.mu.RLock()
	targets := make(map[string]exchange.Broker, len(m.gateways))
	for id, cached := range m.gateways {
		if cached.Failures > 0 {
			targets[id] = cached.Broker
		}
	}
	m.mu.RUnlock()

	for id, b := range targets {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := b.AccountSummary(cctx, id)
		cancel()
		if err != nil {
			m.ReportFailure(id)
			continue
		}
		m.ReportSuccess(id)
	}
}
