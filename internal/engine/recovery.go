package engine

import (
	"context"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"session-core/internal/reconciliation"
	"session-core/internal/session"
)

// RecoverOrphans scans broker positions no registered session trades and, when
// autoClose is set, closes them. An empty accountID scans the configured
// account, or every discovered account when none is configured. The whole pass
// is bounded by RecoveryTimeout.
func (e *Engine) RecoverOrphans(ctx context.Context, accountID string, autoClose bool) ([]*reconciliation.OrphanReport, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RecoveryTimeout)
	defer cancel()

	accounts := []string{accountID}
	if accountID == "" {
		accounts = []string{e.cfg.DefaultAccountID}
	}
	if accounts[0] == "" {
		refs, err := e.Accounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover accounts: %w", err)
		}
		accounts = accounts[:0]
		for _, ref := range refs {
			accounts = append(accounts, ref.ID)
		}
	}

	var reports []*reconciliation.OrphanReport
	for _, acc := range accounts {
		b, err := e.brokerFor(acc)
		if err != nil {
			return reports, err
		}
		report, err := reconciliation.ScanOrphans(ctx, b, acc, e.claimedInstruments(acc), autoClose)
		e.cfg.Metrics.Orphans(len(report.Orphans))
		reports = append(reports, report)
		if err != nil {
			e.reportUpstream(acc, err)
			return reports, fmt.Errorf("scan %s: %w", acc, err)
		}
	}
	return reports, nil
}

// SessionsFile is the YAML layout of seed sessions.
type SessionsFile struct {
	Sessions []session.Definition `yaml:"sessions"`
}

// LoadSessionsFile reads seed session definitions from YAML.
func LoadSessionsFile(path string) ([]session.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file SessionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sessions %s: %w", path, err)
	}
	for i, d := range file.Sessions {
		if d.ID == "" {
			return nil, fmt.Errorf("session #%d in %s has no session_id", i+1, path)
		}
	}
	return file.Sessions, nil
}

// Seed creates every definition whose ID is not registered yet and returns how
// many were created. Invalid definitions are logged and skipped.
func (e *Engine) Seed(ctx context.Context, defs []session.Definition) int {
	created := 0
	for _, d := range defs {
		if _, err := e.lookup(d.ID); err == nil {
			continue
		}
		_, err := e.Create(ctx, CreateRequest{
			SessionID:       d.ID,
			AccountID:       d.AccountID,
			StrategyName:    d.StrategyName,
			StrategyParams:  d.StrategyParams,
			Instrument:      d.Instrument,
			Granularity:     d.Granularity,
			MaxPositionSize: d.MaxPositionSize,
			MaxDailyLoss:    d.MaxDailyLoss,
		})
		if err != nil {
			log.Printf("[%s] ⚠️ seed session skipped: %v", d.ID, err)
			continue
		}
		created++
	}
	return created
}
