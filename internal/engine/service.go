// Package engine owns the session registry, drives the session lifecycle and runs
// one trading loop per active session. The transport layer talks to it only
// through Service.
package engine

import (
	"context"

	"session-core/internal/reconciliation"
	"session-core/internal/session"
	exchange "session-core/pkg/exchanges/common"
)

// Service is the control and query surface exposed to the API layer.
type Service interface {
	// Session registry
	Create(ctx context.Context, req CreateRequest) (session.Snapshot, error)
	Get(ctx context.Context, id string) (session.Snapshot, error)
	List(ctx context.Context) []session.Snapshot
	Update(ctx context.Context, id string, req UpdateRequest) (session.Snapshot, error)
	Delete(ctx context.Context, id string) error

	// Lifecycle
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error

	// Session queries and manual intervention
	Trades(ctx context.Context, id string) (TradesView, error)
	Positions(ctx context.Context, id string) (map[string]session.Position, error)
	ClosePosition(ctx context.Context, id, instrument string) (ClosePositionResult, error)

	// Accounts
	Accounts(ctx context.Context) ([]exchange.AccountRef, error)
	AccountSummary(ctx context.Context, accountID string) (exchange.AccountSummary, error)
	AccountPositions(ctx context.Context, accountID string) ([]exchange.Position, error)
	CloseAccountPosition(ctx context.Context, accountID, instrument string) (ClosePositionResult, error)

	// Recovery and research
	RecoverOrphans(ctx context.Context, accountID string, autoClose bool) ([]*reconciliation.OrphanReport, error)
	Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error)
	Strategies() []StrategyInfo

	Snapshots() []session.Snapshot
}

var _ Service = (*Engine)(nil)
