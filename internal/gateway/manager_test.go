package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exchange "session-core/pkg/exchanges/common"
	"session-core/pkg/exchanges/paper"
)

func countingFactory(created *int) Factory {
	return func(string) (exchange.Broker, error) {
		*created++
		return paper.New(paper.Config{}), nil
	}
}

func TestAcquireRelease(t *testing.T) {
	created := 0
	m := NewManager(countingFactory(&created), Config{})

	b1, err := m.Acquire("A")
	require.NoError(t, err)
	b2, err := m.Acquire("A")
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Equal(t, 1, created)
	assert.Equal(t, 2, m.Stats().References)

	m.Release("A")
	m.Release("A")
	m.Release("A")
	assert.Equal(t, 0, m.Stats().References)
	assert.Equal(t, 1, m.Stats().TotalGateways)
}

func TestCircuitBreaker(t *testing.T) {
	created := 0
	m := NewManager(countingFactory(&created), Config{FailureThreshold: 2, CircuitTimeout: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Acquire("A")
	require.NoError(t, err)
	m.ReportFailure("A")
	m.ReportFailure("A")
	assert.False(t, m.Healthy("A"))

	_, err = m.Acquire("A")
	assert.ErrorIs(t, err, ErrGatewayUnhealthy)

	now = now.Add(2 * time.Minute)
	_, err = m.Acquire("A")
	assert.NoError(t, err, "circuit half-opens after the timeout")

	m.ReportSuccess("A")
	assert.True(t, m.Healthy("A"))
	assert.Equal(t, 0, m.Stats().UnhealthyCount)
}

func TestPoolFull(t *testing.T) {
	created := 0
	m := NewManager(countingFactory(&created), Config{MaxSize: 1})

	_, err := m.Acquire("A")
	require.NoError(t, err)
	_, err = m.Acquire("B")
	assert.ErrorIs(t, err, ErrPoolFull)

	m.Release("A")
	_, err = m.Acquire("B")
	assert.NoError(t, err, "idle client is evicted")
	assert.Equal(t, 1, m.Stats().TotalGateways)
}

func TestFactoryError(t *testing.T) {
	boom := errors.New("no token")
	m := NewManager(func(string) (exchange.Broker, error) { return nil, boom }, Config{})
	_, err := m.Acquire("A")
	assert.ErrorIs(t, err, boom)
}

func TestSharedFactory(t *testing.T) {
	b := paper.New(paper.Config{})
	m := NewManager(SharedFactory(b), Config{})
	got, err := m.Peek("X")
	require.NoError(t, err)
	assert.Same(t, exchange.Broker(b), got)
	assert.Zero(t, m.Stats().References)
}
