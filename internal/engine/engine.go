package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"session-core/internal/events"
	"session-core/internal/gateway"
	"session-core/internal/monitor"
	"session-core/internal/reconciliation"
	"session-core/internal/risk"
	"session-core/internal/session"
	"session-core/internal/strategy"
	"session-core/pkg/cache"
	"session-core/pkg/db"
	exchange "session-core/pkg/exchanges/common"
)

// Store persists session definitions, attribution state and backtest runs.
// *db.Queries satisfies it.
type Store interface {
	SaveSession(ctx context.Context, rec db.SessionRecord) error
	LoadSessions(ctx context.Context) ([]db.SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	ListClosedTrades(ctx context.Context, sessionID string, limit int) ([]db.ClosedTrade, error)
	InsertBacktestRun(ctx context.Context, run db.BacktestRun) error
}

// Config wires the engine. Pool and Candles are required; everything else is
// optional or defaulted.
type Config struct {
	Pool       *gateway.Manager
	Candles    exchange.CandleSource
	Strategies *strategy.Registry
	Presets    []strategy.Preset
	Risk       *risk.Manager
	Bus        *events.Bus
	Store      Store
	Trades     reconciliation.ClosedTradeSink
	Metrics    *monitor.Metrics
	Quotes     *cache.QuoteCache

	DefaultAccountID   string
	DefaultGranularity string
	ClientTag          string

	MaxRunning      int
	MaxClosedTrades int
	WarmupBars      int
	TxPageSize      int

	MetricsInterval  time.Duration
	TxSyncInterval   time.Duration
	TxOverlap        time.Duration
	BarPollMin       time.Duration
	BarPollMax       time.Duration
	PausedTick       time.Duration
	IdleTick         time.Duration
	ErrorBackoff     time.Duration
	ErrorBackoffMax  time.Duration
	QuoteMaxAge      time.Duration
	ControlTimeout   time.Duration
	RecoveryTimeout  time.Duration
	SnapshotInterval time.Duration

	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Strategies == nil {
		c.Strategies = strategy.DefaultRegistry()
	}
	if c.Risk == nil {
		c.Risk = risk.NewInMemory(risk.DefaultConfig())
	}
	if c.DefaultGranularity == "" {
		c.DefaultGranularity = "M5"
	}
	if c.MaxRunning <= 0 {
		c.MaxRunning = 10
	}
	if c.WarmupBars <= 0 {
		c.WarmupBars = 100
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 30 * time.Second
	}
	if c.TxSyncInterval <= 0 {
		c.TxSyncInterval = 5 * time.Minute
	}
	if c.TxOverlap <= 0 {
		c.TxOverlap = time.Minute
	}
	if c.BarPollMin <= 0 {
		c.BarPollMin = 5 * time.Second
	}
	if c.BarPollMax <= 0 {
		c.BarPollMax = time.Minute
	}
	if c.PausedTick <= 0 {
		c.PausedTick = 5 * time.Second
	}
	if c.IdleTick <= 0 {
		c.IdleTick = time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
	if c.ErrorBackoffMax <= 0 {
		c.ErrorBackoffMax = 2 * time.Minute
	}
	if c.QuoteMaxAge <= 0 {
		c.QuoteMaxAge = 10 * time.Second
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = 15 * time.Second
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 2 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// entry is a registered session plus the handle of its trading loop.
type entry struct {
	sess   *session.Session
	broker exchange.Broker

	ctl    sync.Mutex // serializes lifecycle operations on this session
	cancel context.CancelFunc
	done   chan struct{}

	// exec is held by the loop across a strategy decision and its order, and by
	// manual closes. resync, guarded by exec, makes the loop reload the
	// strategy position from the session units before its next decision.
	exec   sync.Mutex
	resync bool
}

// running reports whether a loop task exists. Callers hold ctl.
func (en *entry) running() bool {
	if en.done == nil {
		return false
	}
	select {
	case <-en.done:
		return false
	default:
		return true
	}
}

// Engine is the session registry and lifecycle controller.
type Engine struct {
	cfg Config
	rec *reconciliation.Reconciler

	mu       sync.RWMutex
	sessions map[string]*entry

	bg       context.Context
	stopBg   context.CancelFunc
	bgDone   chan struct{}
	shutdown sync.Once
}

// New builds an engine and starts the snapshot publisher.
func New(cfg Config) (*Engine, error) {
	if cfg.Pool == nil {
		return nil, errors.New("engine: broker pool is required")
	}
	if cfg.Candles == nil {
		return nil, errors.New("engine: candle source is required")
	}
	cfg.defaults()

	e := &Engine{
		cfg:      cfg,
		sessions: make(map[string]*entry),
		bgDone:   make(chan struct{}),
	}
	e.rec = reconciliation.New(reconciliation.Config{
		TxSyncInterval: cfg.TxSyncInterval,
		TxOverlap:      cfg.TxOverlap,
		PageSize:       cfg.TxPageSize,
		Now:            cfg.Now,
	}, e, closedSink{e}, lossRecorder{e})

	e.bg, e.stopBg = context.WithCancel(context.Background())
	go e.publishSnapshots()
	return e, nil
}

// Shutdown stops every trading loop without flattening positions, persists the
// last known state and releases broker clients.
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	e.shutdown.Do(func() {
		e.stopBg()
		<-e.bgDone

		e.mu.RLock()
		entries := make([]*entry, 0, len(e.sessions))
		for _, en := range e.sessions {
			entries = append(entries, en)
		}
		e.mu.RUnlock()

		for _, en := range entries {
			en.ctl.Lock()
			e.persist(ctx, en.sess)
			if en.running() {
				en.cancel()
				select {
				case <-en.done:
				case <-ctx.Done():
					err = fmt.Errorf("shutdown: %w", ctx.Err())
					log.Printf("[%s] ⚠️ Trading loop did not exit before shutdown deadline", en.sess.ID())
					en.ctl.Unlock()
					continue
				}
			}
			en.sess.SetStatus(session.StatusStopped)
			e.cfg.Pool.Release(en.sess.AccountID())
			en.ctl.Unlock()
		}
		log.Printf("Engine stopped (%d sessions)", len(entries))
	})
	return err
}

func (e *Engine) lookup(id string) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return en, nil
}

// activeCount counts sessions whose loop may be trading, excluding skip.
func (e *Engine) activeCount(skip string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for id, en := range e.sessions {
		if id != skip && en.sess.Status().Active() {
			n++
		}
	}
	return n
}

// ActiveInstruments lists the instruments of active sessions on accountID, for
// the price stream.
func (e *Engine) ActiveInstruments(accountID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[string]bool)
	out := []string{}
	for _, en := range e.sessions {
		s := en.sess
		if s.AccountID() == accountID && s.Status().Active() && !seen[s.Instrument()] {
			seen[s.Instrument()] = true
			out = append(out, s.Instrument())
		}
	}
	sort.Strings(out)
	return out
}

// coResident reports whether another active session trades the same account
// and instrument as s.
func (e *Engine) coResident(s *session.Session) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, en := range e.sessions {
		if id == s.ID() {
			continue
		}
		o := en.sess
		if o.AccountID() == s.AccountID() && o.Instrument() == s.Instrument() && o.Status().Active() {
			return true
		}
	}
	return false
}

// ClaimedElsewhere reports whether another session on the account owns tradeID.
func (e *Engine) ClaimedElsewhere(accountID, tradeID, sessionID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, en := range e.sessions {
		if id != sessionID && en.sess.AccountID() == accountID && en.sess.Owns(tradeID) {
			return true
		}
	}
	return false
}

// claimFills attributes the trades of s's own fill to s. A co-resident session
// that claimed one of them by instrument while the order was in flight loses it.
func (e *Engine) claimFills(ctx context.Context, s *session.Session, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.AttributeTrades(ids...)

	e.mu.RLock()
	var others []*session.Session
	for id, en := range e.sessions {
		if id != s.ID() && en.sess.AccountID() == s.AccountID() {
			others = append(others, en.sess)
		}
	}
	e.mu.RUnlock()

	for _, o := range others {
		if dropped := o.Disown(ids...); len(dropped) > 0 {
			log.Printf("[%s] ⚠️ Dropped trades %v filled by session %s", o.ID(), dropped, s.ID())
			e.persist(ctx, o)
		}
	}
}

type closedSink struct{ e *Engine }

func (c closedSink) RecordClosed(sessionID string, t session.Trade) {
	if c.e.cfg.Trades != nil {
		c.e.cfg.Trades.RecordClosed(sessionID, t)
	}
	at := c.e.cfg.Now().UTC()
	if t.CloseTime != nil {
		at = *t.CloseTime
	}
	c.e.cfg.Bus.Publish(events.EventTradeClosed, events.TradeClosed{
		SessionID:  sessionID,
		TradeID:    t.ID,
		Instrument: t.Instrument,
		RealizedPL: t.RealizedPL,
		Time:       at,
	})
}

// lossRecorder folds closures into the risk manager and mirrors the running
// daily loss onto the session.
type lossRecorder struct{ e *Engine }

func (l lossRecorder) RecordClose(sessionID string, pnl float64, at time.Time) {
	m := l.e.cfg.Risk.RecordClose(sessionID, pnl, at)
	if en, err := l.e.lookup(sessionID); err == nil {
		en.sess.SetDailyLoss(m.Losses)
	}
}

func (e *Engine) resolveStrategy(name string, params map[string]any) (string, map[string]any) {
	if key, merged, ok := strategy.Resolve(e.cfg.Presets, name, params); ok {
		return key, merged
	}
	return name, params
}

// Create registers a STOPPED session.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (session.Snapshot, error) {
	req.Instrument = strings.ToUpper(strings.TrimSpace(req.Instrument))
	if req.Instrument == "" {
		return session.Snapshot{}, fmt.Errorf("%w: instrument is required", ErrInvalidParams)
	}
	if req.Granularity == "" {
		req.Granularity = e.cfg.DefaultGranularity
	}
	if _, ok := exchange.LookupGranularity(req.Granularity); !ok {
		return session.Snapshot{}, fmt.Errorf("%w: unknown granularity %q", ErrInvalidParams, req.Granularity)
	}
	if req.AccountID == "" {
		req.AccountID = e.cfg.DefaultAccountID
	}
	if req.AccountID == "" {
		return session.Snapshot{}, fmt.Errorf("%w: account_id is required", ErrInvalidParams)
	}
	key, params := e.resolveStrategy(req.StrategyName, req.StrategyParams)
	if _, err := e.cfg.Strategies.Validate(key, params); err != nil {
		return session.Snapshot{}, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if _, err := e.lookup(req.SessionID); err == nil {
		return session.Snapshot{}, fmt.Errorf("%w: %s", ErrDuplicateSession, req.SessionID)
	}
	if n := e.activeCount(""); n >= e.cfg.MaxRunning {
		return session.Snapshot{}, fmt.Errorf("%w: %d of %d", ErrCapacityExceeded, n, e.cfg.MaxRunning)
	}

	b, err := e.cfg.Pool.Acquire(req.AccountID)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	riskCfg := e.cfg.Risk.GetConfig()
	maxPos := req.MaxPositionSize
	if maxPos <= 0 && req.PositionSizePercent > 0 {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.ControlTimeout)
		summary, serr := b.AccountSummary(sctx, req.AccountID)
		cancel()
		if serr != nil {
			log.Printf("[%s] ⚠️ balance lookup for sizing failed, using default size: %v", req.SessionID, serr)
		} else {
			maxPos = summary.Balance * req.PositionSizePercent / 10
		}
	}
	if maxPos <= 0 {
		maxPos = riskCfg.DefaultMaxPositionSize
	}
	maxLoss := req.MaxDailyLoss
	if maxLoss <= 0 {
		maxLoss = riskCfg.DefaultMaxDailyLoss
	}

	s := session.New(session.Definition{
		ID:              req.SessionID,
		AccountID:       req.AccountID,
		StrategyName:    key,
		StrategyParams:  params,
		Instrument:      req.Instrument,
		Granularity:     req.Granularity,
		MaxPositionSize: maxPos,
		MaxDailyLoss:    maxLoss,
	}, e.cfg.MaxClosedTrades)

	e.mu.Lock()
	if _, exists := e.sessions[s.ID()]; exists {
		e.mu.Unlock()
		e.cfg.Pool.Release(req.AccountID)
		return session.Snapshot{}, fmt.Errorf("%w: %s", ErrDuplicateSession, s.ID())
	}
	e.sessions[s.ID()] = &entry{sess: s, broker: b}
	e.mu.Unlock()

	e.persist(ctx, s)
	log.Printf("[%s] Session created: %s %s %s max=%.0f loss=%.2f", s.ID(), key, req.Instrument, req.Granularity, maxPos, maxLoss)
	return s.Snapshot(), nil
}

// Get returns one session snapshot.
func (e *Engine) Get(_ context.Context, id string) (session.Snapshot, error) {
	en, err := e.lookup(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return en.sess.Snapshot(), nil
}

// List returns every session snapshot ordered by ID.
func (e *Engine) List(_ context.Context) []session.Snapshot {
	return e.Snapshots()
}

// Snapshots returns every session snapshot ordered by ID.
func (e *Engine) Snapshots() []session.Snapshot {
	e.mu.RLock()
	out := make([]session.Snapshot, 0, len(e.sessions))
	for _, en := range e.sessions {
		out = append(out, en.sess.Snapshot())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update patches risk limits and strategy params, then applies a requested
// status change. New params take effect on the next start.
func (e *Engine) Update(ctx context.Context, id string, req UpdateRequest) (session.Snapshot, error) {
	en, err := e.lookup(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	s := en.sess

	if req.StrategyParams != nil {
		if _, err := e.cfg.Strategies.Validate(s.Definition().StrategyName, req.StrategyParams); err != nil {
			return session.Snapshot{}, err
		}
	}
	var target session.Status
	if req.Status != nil {
		target = session.Status(strings.ToUpper(*req.Status))
		if !target.Valid() {
			return session.Snapshot{}, fmt.Errorf("%w: unknown status %q", ErrInvalidParams, *req.Status)
		}
	}

	if req.MaxPositionSize != nil || req.MaxDailyLoss != nil {
		maxPos, maxLoss := s.Limits()
		if req.MaxPositionSize != nil {
			if *req.MaxPositionSize <= 0 {
				return session.Snapshot{}, fmt.Errorf("%w: max_position_size must be positive", ErrInvalidParams)
			}
			maxPos = *req.MaxPositionSize
		}
		if req.MaxDailyLoss != nil {
			if *req.MaxDailyLoss <= 0 {
				return session.Snapshot{}, fmt.Errorf("%w: max_daily_loss must be positive", ErrInvalidParams)
			}
			maxLoss = *req.MaxDailyLoss
		}
		s.UpdateRisk(maxPos, maxLoss)
	}
	if req.StrategyParams != nil {
		s.SetStrategyParams(req.StrategyParams)
	}
	e.persist(ctx, s)

	switch target {
	case "":
	case session.StatusRunning:
		if s.Status() == session.StatusPaused {
			err = e.Resume(ctx, id)
		} else {
			err = e.Start(ctx, id)
		}
	case session.StatusPaused:
		err = e.Pause(ctx, id)
	case session.StatusStopped:
		err = e.Stop(ctx, id)
	default:
		err = fmt.Errorf("%w: status %s cannot be requested", ErrInvalidParams, target)
	}
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Delete stops the session if needed, then forgets it and releases its client.
func (e *Engine) Delete(ctx context.Context, id string) error {
	en, err := e.lookup(id)
	if err != nil {
		return err
	}
	if err := e.Stop(ctx, id); err != nil {
		log.Printf("[%s] ⚠️ stop before delete: %v", id, err)
	}

	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()

	e.cfg.Pool.Release(en.sess.AccountID())
	e.cfg.Risk.Forget(id)
	e.cfg.Metrics.ForgetSession(id)
	if e.cfg.Store != nil {
		if err := e.cfg.Store.DeleteSession(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
			log.Printf("[%s] ⚠️ delete persisted session: %v", id, err)
		}
	}
	log.Printf("[%s] Session deleted", id)
	return nil
}

// Trades returns the open and closed trades attributed to the session.
func (e *Engine) Trades(_ context.Context, id string) (TradesView, error) {
	en, err := e.lookup(id)
	if err != nil {
		return TradesView{}, err
	}
	open := make([]session.Trade, 0)
	for _, t := range en.sess.OpenTrades() {
		open = append(open, t)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].OpenTime.Before(open[j].OpenTime) })
	return TradesView{SessionID: id, Open: open, Closed: en.sess.ClosedTrades()}, nil
}

// Positions returns the session's last reconciled broker positions.
func (e *Engine) Positions(_ context.Context, id string) (map[string]session.Position, error) {
	en, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return en.sess.Positions(), nil
}

// Strategies lists the registry.
func (e *Engine) Strategies() []StrategyInfo {
	ds := e.cfg.Strategies.List()
	out := make([]StrategyInfo, 0, len(ds))
	for _, d := range ds {
		out = append(out, StrategyInfo{Key: d.Key, Name: d.Name, Doc: d.Doc, Params: d.Params})
	}
	return out
}

func (e *Engine) publishStatus(s *session.Session, from session.Status, reason string) {
	to := s.Status()
	if from == to {
		return
	}
	e.cfg.Bus.Publish(events.EventSessionStatus, events.StatusChange{
		SessionID: s.ID(),
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		Time:      e.cfg.Now().UTC(),
	})
}
