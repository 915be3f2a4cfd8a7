package session

import (
	"sort"
	"sync"
	"time"
)

// DefaultMaxClosedTrades bounds closed-trade history when no cap is configured.
const DefaultMaxClosedTrades = 500

// Closed trade IDs outlive the history they were evicted from, so a replayed
// transaction window cannot record the same close twice.
const (
	closedIDFactor = 20
	minClosedIDs   = 10000
)

// Session is one strategy instance bound to an account, instrument and granularity.
// All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	def     Definition
	status  Status
	account Account

	totalTrades   int
	winningTrades int
	losingTrades  int

	positions   map[string]Position
	openTrades  map[string]Trade
	closed      []Trade
	closedIDs   map[string]struct{}
	closedOrder []string
	maxClosed   int
	maxIDs      int

	dailyLoss     float64
	positionUnits float64
	tradeIDs      map[string]struct{}

	cursors     Cursors
	lastTxSync  time.Time
	lastBarTime time.Time
	startTime   time.Time
	lastUpdate  time.Time
	errMsg      string
}

// New returns a STOPPED session. maxClosed <= 0 selects DefaultMaxClosedTrades.
func New(def Definition, maxClosed int) *Session {
	if maxClosed <= 0 {
		maxClosed = DefaultMaxClosedTrades
	}
	if def.StrategyParams == nil {
		def.StrategyParams = map[string]any{}
	}
	return &Session{
		def:        def,
		status:     StatusStopped,
		positions:  make(map[string]Position),
		openTrades: make(map[string]Trade),
		closedIDs:  make(map[string]struct{}),
		tradeIDs:   make(map[string]struct{}),
		maxClosed:  maxClosed,
		maxIDs:     max(maxClosed*closedIDFactor, minClosedIDs),
	}
}

func (s *Session) ID() string { return s.def.ID }

// Definition returns a copy of the session configuration.
func (s *Session) Definition() Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.def
	d.StrategyParams = copyParams(s.def.StrategyParams)
	return d
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AccountID and Instrument never change after creation.
func (s *Session) AccountID() string  { return s.def.AccountID }
func (s *Session) Instrument() string { return s.def.Instrument }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus moves to st and returns the previous status.
func (s *Session) SetStatus(st Status) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	s.status = st
	return prev
}

// CompareAndSetStatus moves to next only if the current status is one of from.
func (s *Session) CompareAndSetStatus(next Status, from ...Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.status == f {
			s.status = next
			return true
		}
	}
	return false
}

// Fail sets ERROR and records msg.
func (s *Session) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.errMsg = msg
}

func (s *Session) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
}

func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// UpdateRisk replaces the risk limits. Non-positive values are ignored.
func (s *Session) UpdateRisk(maxPositionSize, maxDailyLoss float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxPositionSize > 0 {
		s.def.MaxPositionSize = maxPositionSize
	}
	if maxDailyLoss > 0 {
		s.def.MaxDailyLoss = maxDailyLoss
	}
}

// SetStrategyParams replaces the validated strategy params. They apply on next start.
func (s *Session) SetStrategyParams(p map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def.StrategyParams = copyParams(p)
}

// Limits returns the max position size and max daily loss.
func (s *Session) Limits() (maxPositionSize, maxDailyLoss float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def.MaxPositionSize, s.def.MaxDailyLoss
}

func (s *Session) DailyLoss() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyLoss
}

func (s *Session) SetDailyLoss(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyLoss = v
}

// MarkStarted records the start time and makes every cadence due now.
func (s *Session) MarkStarted(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = now
	s.lastTxSync = time.Time{}
	s.errMsg = ""
	s.cursors = Cursors{NextMetrics: now, NextBarPoll: now, NextTxSync: now}
}

// ResetCursors makes every cadence due at now.
func (s *Session) ResetCursors(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = Cursors{NextMetrics: now, NextBarPoll: now, NextTxSync: now}
}

func (s *Session) Cursors() Cursors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors
}

func (s *Session) SetNextMetrics(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors.NextMetrics = t
}

func (s *Session) SetNextBarPoll(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors.NextBarPoll = t
}

// TxSyncDue reports whether the transaction cursor has elapsed.
func (s *Session) TxSyncDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !now.Before(s.cursors.NextTxSync)
}

// MarkTxSynced records a transaction fetch at now and schedules the next one.
func (s *Session) MarkTxSynced(now, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTxSync = now
	s.cursors.NextTxSync = next
}

// ExpireTxSync makes the transaction cursor due immediately.
func (s *Session) ExpireTxSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors.NextTxSync = time.Time{}
}

func (s *Session) LastTxSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTxSync
}

func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// RestoreStartTime sets the start time of a session loaded from storage.
func (s *Session) RestoreStartTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = t
}

func (s *Session) LastBarTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBarTime
}

func (s *Session) SetLastBarTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBarTime = t
}

func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = now
}

// SeedBalance sets initial and current balance and equity.
func (s *Session) SeedBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.InitialBalance = balance
	s.account.CurrentBalance = balance
	s.account.Equity = balance
}

// RestoreInitialBalance sets the initial balance of a session loaded from storage.
func (s *Session) RestoreInitialBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.InitialBalance = balance
}

func (s *Session) Account() Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// ApplyAccount overwrites the account mirror. Realized P&L is the balance change
// since the session started; a zero initial balance is seeded from balance.
func (s *Session) ApplyAccount(balance, nav, unrealized, marginUsed, marginAvailable float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account.InitialBalance == 0 {
		s.account.InitialBalance = balance
	}
	s.account.CurrentBalance = balance
	s.account.Equity = nav
	s.account.UnrealizedPL = unrealized
	s.account.RealizedPL = balance - s.account.InitialBalance
	s.account.MarginUsed = marginUsed
	s.account.MarginAvailable = marginAvailable
}

// PositionUnits is the net units this session opened through its own orders.
func (s *Session) PositionUnits() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionUnits
}

// AddPositionUnits adjusts the own-units accumulator by delta.
func (s *Session) AddPositionUnits(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionUnits += delta
}

func (s *Session) SetPositionUnits(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionUnits = v
}

// AttributeTrades adds broker trade IDs to the attribution set.
func (s *Session) AttributeTrades(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			s.tradeIDs[id] = struct{}{}
		}
	}
}

// Disown drops trade IDs from the attribution set and the open trades and
// returns the IDs that were held.
func (s *Session) Disown(ids ...string) []string {
	s.mu.Lock()
	var dropped []string
	for _, id := range ids {
		if _, ok := s.tradeIDs[id]; ok {
			delete(s.tradeIDs, id)
			delete(s.openTrades, id)
			dropped = append(dropped, id)
		}
	}
	s.mu.Unlock()
	if len(dropped) > 0 {
		s.Recount()
	}
	return dropped
}

// Owns reports whether the trade ID is attributed to this session.
func (s *Session) Owns(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tradeIDs[id]
	return ok
}

// TradeIDs returns the attribution set, sorted.
func (s *Session) TradeIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tradeIDs))
	for id := range s.tradeIDs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ReplacePositions swaps in a freshly rebuilt positions map.
func (s *Session) ReplacePositions(p map[string]Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = p
}

// OpenTrades returns a copy of the open-trade map.
func (s *Session) OpenTrades() map[string]Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Trade, len(s.openTrades))
	for k, v := range s.openTrades {
		out[k] = v
	}
	return out
}

// ReplaceOpenTrades swaps in a freshly rebuilt open-trade map.
func (s *Session) ReplaceOpenTrades(m map[string]Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openTrades = m
}

// IsClosed reports whether a trade is already in the closed history.
func (s *Session) IsClosed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.closedIDs[id]
	return ok
}

// AddClosed appends a closed trade, evicting the oldest past the cap. IDs seen
// before, including evicted ones, are ignored and reported as false.
func (s *Session) AddClosed(t Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.closedIDs[t.ID]; ok {
		return false
	}
	s.closed = append(s.closed, t)
	if over := len(s.closed) - s.maxClosed; over > 0 {
		s.closed = append([]Trade(nil), s.closed[over:]...)
	}

	s.closedIDs[t.ID] = struct{}{}
	s.closedOrder = append(s.closedOrder, t.ID)
	if over := len(s.closedOrder) - s.maxIDs; over > 0 {
		for _, id := range s.closedOrder[:over] {
			delete(s.closedIDs, id)
		}
		s.closedOrder = append([]string(nil), s.closedOrder[over:]...)
	}
	return true
}

// RestoreClosed loads persisted closed trades, oldest first.
func (s *Session) RestoreClosed(ts []Trade) {
	for _, t := range ts {
		s.AddClosed(t)
	}
	s.Recount()
}

// ClosedTrades returns a copy of the closed history, oldest first.
func (s *Session) ClosedTrades() []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Trade(nil), s.closed...)
}

// Recount derives the trade counters from the closed history and open-trade map.
func (s *Session) Recount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wins, losses := 0, 0
	for _, t := range s.closed {
		switch {
		case t.RealizedPL > 0:
			wins++
		case t.RealizedPL < 0:
			losses++
		}
	}
	s.winningTrades = wins
	s.losingTrades = losses
	s.totalTrades = len(s.closed) + len(s.openTrades)
}

// Positions returns a copy of the positions map.
func (s *Session) Positions() map[string]Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Snapshot returns a consistent copy of the whole session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	def := s.def
	def.StrategyParams = copyParams(s.def.StrategyParams)

	positions := make(map[string]Position, len(s.positions))
	for k, v := range s.positions {
		positions[k] = v
	}
	open := make([]Trade, 0, len(s.openTrades))
	for _, t := range s.openTrades {
		open = append(open, t)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].OpenTime.Before(open[j].OpenTime) })

	return Snapshot{
		Definition:           def,
		Status:               s.status,
		Account:              s.account,
		TotalTrades:          s.totalTrades,
		WinningTrades:        s.winningTrades,
		LosingTrades:         s.losingTrades,
		Positions:            positions,
		OpenTrades:           open,
		ClosedTradeCount:     len(s.closed),
		DailyLoss:            s.dailyLoss,
		SessionPositionUnits: s.positionUnits,
		AttributedTrades:     len(s.tradeIDs),
		Cursors:              s.cursors,
		StartTime:            timePtr(s.startTime),
		LastUpdate:           timePtr(s.lastUpdate),
		LastBarTime:          timePtr(s.lastBarTime),
		ErrorMessage:         s.errMsg,
	}
}
