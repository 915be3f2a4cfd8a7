package reconciliation

import (
	"context"
	"fmt"
	"log"
	"time"

	exchange "session-core/pkg/exchanges/common"
)

// Orphan is a broker position on an instrument no registered session trades.
type Orphan struct {
	AccountID    string  `json:"account_id"`
	Instrument   string  `json:"instrument"`
	LongUnits    float64 `json:"long_units"`
	ShortUnits   float64 `json:"short_units"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

// OrphanReport is the outcome of one recovery scan.
type OrphanReport struct {
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
	Orphans   []Orphan  `json:"orphans"`
	Closed    []string  `json:"closed"`
	Errors    []string  `json:"errors,omitempty"`
	AutoClose bool      `json:"auto_close"`
}

// ScanOrphans lists broker positions whose instrument is not in claimed and, when
// autoClose is set, closes both sides of each. Close failures are collected in
// the report rather than aborting the scan.
func ScanOrphans(ctx context.Context, b exchange.Broker, accountID string, claimed map[string]bool, autoClose bool) (*OrphanReport, error) {
	report := &OrphanReport{AccountID: accountID, Timestamp: time.Now().UTC(), AutoClose: autoClose}

	positions, err := b.OpenPositions(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("open positions: %w", err)
	}

	for _, p := range positions {
		if p.LongUnits == 0 && p.ShortUnits == 0 {
			continue
		}
		if claimed[p.Instrument] {
			continue
		}
		o := Orphan{
			AccountID:    accountID,
			Instrument:   p.Instrument,
			LongUnits:    p.LongUnits,
			ShortUnits:   p.ShortUnits,
			UnrealizedPL: p.UnrealizedPL,
		}
		report.Orphans = append(report.Orphans, o)
		log.Printf("⚠️ Orphaned position on %s: %s long=%.0f short=%.0f upl=%.2f",
			accountID, p.Instrument, p.LongUnits, p.ShortUnits, p.UnrealizedPL)

		if !autoClose {
			continue
		}
		req := exchange.CloseRequest{}
		if p.LongUnits != 0 {
			req.LongUnits = exchange.CloseAll
		}
		if p.ShortUnits != 0 {
			req.ShortUnits = exchange.CloseAll
		}
		if _, err := b.ClosePosition(ctx, accountID, p.Instrument, req); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", p.Instrument, err))
			log.Printf("❌ Failed to close orphaned %s: %v", p.Instrument, err)
			continue
		}
		report.Closed = append(report.Closed, p.Instrument)
		log.Printf("✓ Closed orphaned position %s", p.Instrument)
	}
	return report, nil
}
