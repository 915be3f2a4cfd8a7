// Package paper is an in-memory venue implementing the broker contracts with a
// netting, FIFO-reducing position model. It backs DRY_RUN mode and tests.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	exchange "session-core/pkg/exchanges/common"
)

// ErrNoPrice is returned when an order or close needs a quote that was never set.
var ErrNoPrice = errors.New("paper: no price for instrument")

// Config tunes the simulated venue.
type Config struct {
	InitialBalance float64
	Currency       string
	MarginRate     float64 // fraction of notional held as margin
	Now            func() time.Time
}

type trade struct {
	id         string
	instrument string
	openTime   time.Time
	price      float64
	units      float64 // signed remaining units
	realized   float64
	tag        string
}

type account struct {
	id      string
	balance float64
	trades  []*trade // open trades, oldest first
	txs     []exchange.Transaction
}

// Broker is the simulated venue. Safe for concurrent use.
type Broker struct {
	cfg Config

	mu       sync.Mutex
	accounts map[string]*account
	prices   map[string]exchange.Quote
	seq      int
	failures map[string]error
	calls    map[string]int
	subs     map[int]chan exchange.Quote
	nextSub  int
}

var (
	_ exchange.Broker        = (*Broker)(nil)
	_ exchange.PriceStreamer = (*Broker)(nil)
)

// New creates an empty venue. Accounts are opened on first use with the initial balance.
func New(cfg Config) *Broker {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 100000
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.MarginRate <= 0 {
		cfg.MarginRate = 0.02
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Broker{
		cfg:      cfg,
		accounts: make(map[string]*account),
		prices:   make(map[string]exchange.Quote),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		subs:     make(map[int]chan exchange.Quote),
	}
}

// OpenAccount creates (or resets the balance of) an account.
func (b *Broker) OpenAccount(id string, balance float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.accounts[id]; ok {
		a.balance = balance
		return
	}
	b.accounts[id] = &account{id: id, balance: balance}
}

// SetPrice updates the quote for an instrument and fans it out to price streams.
func (b *Broker) SetPrice(instrument string, bid, ask float64) {
	q := exchange.Quote{Instrument: instrument, Bid: bid, Ask: ask}
	b.mu.Lock()
	q.Time = b.cfg.Now().UTC()
	b.prices[instrument] = q
	subs := make([]chan exchange.Quote, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- q:
		default:
		}
	}
}

// Fail makes every call of op return err until cleared with a nil err.
// Op names match the Broker method names, e.g. "AccountSummary".
func (b *Broker) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// Calls reports how many times op was invoked.
func (b *Broker) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// enter records the call and returns the account, creating it on demand. Caller holds mu.
func (b *Broker) enter(op, accountID string) (*account, error) {
	b.calls[op]++
	if err := b.failures[op]; err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, errors.New("paper: account id is required")
	}
	a, ok := b.accounts[accountID]
	if !ok {
		a = &account{id: accountID, balance: b.cfg.InitialBalance}
		b.accounts[accountID] = a
	}
	return a, nil
}

func (b *Broker) nextID() string {
	b.seq++
	return strconv.Itoa(b.seq)
}

// Accounts lists known accounts, sorted by ID.
func (b *Broker) Accounts(ctx context.Context) ([]exchange.AccountRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["Accounts"]++
	if err := b.failures["Accounts"]; err != nil {
		return nil, err
	}
	out := make([]exchange.AccountRef, 0, len(b.accounts))
	for id := range b.accounts {
		out = append(out, exchange.AccountRef{ID: id, Tags: []string{"paper"}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// markPrice is the price an open trade would close at.
func (b *Broker) markPrice(instrument string, units float64) (float64, bool) {
	q, ok := b.prices[instrument]
	if !ok {
		return 0, false
	}
	if units > 0 {
		return q.Bid, true
	}
	return q.Ask, true
}

func (b *Broker) unrealized(t *trade) float64 {
	px, ok := b.markPrice(t.instrument, t.units)
	if !ok {
		return 0
	}
	return (px - t.price) * t.units
}

// AccountSummary reports balance, NAV and margin for the account.
func (b *Broker) AccountSummary(ctx context.Context, accountID string) (exchange.AccountSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.enter("AccountSummary", accountID)
	if err != nil {
		return exchange.AccountSummary{}, err
	}
	var upl, margin, value float64
	instruments := make(map[string]struct{})
	for _, t := range a.trades {
		upl += b.unrealized(t)
		px := t.price
		if q, ok := b.prices[t.instrument]; ok {
			px = q.Mid()
		}
		value += math.Abs(t.units) * px
		instruments[t.instrument] = struct{}{}
	}
	margin = value * b.cfg.MarginRate
	nav := a.balance + upl
	return exchange.AccountSummary{
		ID:                a.id,
		Alias:             "paper",
		Currency:          b.cfg.Currency,
		Balance:           a.balance,
		NAV:               nav,
		UnrealizedPL:      upl,
		MarginUsed:        margin,
		MarginAvailable:   nav - margin,
		PositionValue:     value,
		OpenTradeCount:    len(a.trades),
		OpenPositionCount: len(instruments),
	}, nil
}

func (b *Broker) position(a *account, instrument string) exchange.Position {
	p := exchange.Position{Instrument: instrument}
	var longCost, shortCost float64
	for _, t := range a.trades {
		if t.instrument != instrument {
			continue
		}
		p.UnrealizedPL += b.unrealized(t)
		if t.units > 0 {
			p.LongUnits += t.units
			longCost += t.units * t.price
		} else {
			p.ShortUnits += t.units
			shortCost += t.units * t.price
		}
	}
	if p.LongUnits != 0 {
		p.LongAvgPrice = longCost / p.LongUnits
	}
	if p.ShortUnits != 0 {
		p.ShortAvgPrice = shortCost / p.ShortUnits
	}
	return p
}

// OpenPositions aggregates open trades per instrument.
func (b *Broker) OpenPositions(ctx context.Context, accountID string) ([]exchange.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.enter("OpenPositions", accountID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []exchange.Position
	for _, t := range a.trades {
		if seen[t.instrument] {
			continue
		}
		seen[t.instrument] = true
		out = append(out, b.position(a, t.instrument))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

// Position returns one instrument's aggregate, flat if nothing is open.
func (b *Broker) Position(ctx context.Context, accountID, instrument string) (exchange.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.enter("Position", accountID)
	if err != nil {
		return exchange.Position{}, err
	}
	return b.position(a, instrument), nil
}

// OpenTrades lists open trades, oldest first.
func (b *Broker) OpenTrades(ctx context.Context, accountID string) ([]exchange.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.enter("OpenTrades", accountID)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Trade, 0, len(a.trades))
	for _, t := range a.trades {
		out = append(out, exchange.Trade{
			ID:           t.id,
			Instrument:   t.instrument,
			OpenTime:     t.openTime,
			Price:        t.price,
			CurrentUnits: t.units,
			UnrealizedPL: b.unrealized(t),
			RealizedPL:   t.realized,
		})
	}
	return out, nil
}

// Transactions returns logged fills within [q.From, q.To]. Zero bounds are open.
func (b *Broker) Transactions(ctx context.Context, accountID string, q exchange.TransactionQuery) ([]exchange.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.enter("Transactions", accountID)
	if err != nil {
		return nil, err
	}
	var out []exchange.Transaction
	for _, tx := range a.txs {
		if !q.From.IsZero() && tx.Time.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && tx.Time.After(q.To) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// fill executes signed units at px for an instrument: opposite-side trades are
// reduced oldest first, the remainder opens a new trade. Caller holds mu.
func (b *Broker) fill(a *account, instrument string, units, px float64, tag string) exchange.OrderResult {
	now := b.cfg.Now().UTC()
	txID := b.nextID()
	res := exchange.OrderResult{
		OrderID:       uuid.NewString(),
		TransactionID: txID,
		Instrument:    instrument,
		Units:         units,
		Price:         px,
		Time:          now,
	}

	remaining := units
	kept := a.trades[:0]
	for _, t := range a.trades {
		if remaining == 0 || t.instrument != instrument || sameSign(t.units, remaining) {
			kept = append(kept, t)
			continue
		}
		closeUnits := math.Min(math.Abs(remaining), math.Abs(t.units))
		if t.units < 0 {
			closeUnits = -closeUnits
		}
		pl := (px - t.price) * closeUnits
		a.balance += pl
		t.realized += pl
		t.units -= closeUnits
		remaining += closeUnits
		if t.units == 0 {
			res.TradesClosed = append(res.TradesClosed, t.id)
			a.txs = append(a.txs, exchange.Transaction{
				ID: txID, Type: exchange.TxTradeClose, Time: now, Instrument: instrument,
				TradeID: t.id, Units: -closeUnits, Price: px, PL: t.realized,
			})
			continue
		}
		res.TradeReduced = t.id
		kept = append(kept, t)
	}
	a.trades = kept

	if remaining != 0 {
		t := &trade{id: txID, instrument: instrument, openTime: now, price: px, units: remaining, tag: tag}
		a.trades = append(a.trades, t)
		res.TradeOpened = t.id
		a.txs = append(a.txs, exchange.Transaction{
			ID: txID, Type: exchange.TxOrderFill, Time: now, Instrument: instrument,
			TradeID: t.id, Units: remaining, Price: px,
		})
	}
	return res
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

// MarketOrder fills immediately at the ask for buys and the bid for sells.
func (b *Broker) MarketOrder(ctx context.Context, accountID string, req exchange.MarketOrderRequest) (exchange.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.enter("MarketOrder", accountID)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	units := math.Trunc(req.Units)
	if units == 0 {
		return exchange.OrderResult{}, errors.New("paper: order units must be non-zero")
	}
	q, ok := b.prices[req.Instrument]
	if !ok {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s", ErrNoPrice, req.Instrument)
	}
	px := q.Ask
	if units < 0 {
		px = q.Bid
	}
	return b.fill(a, req.Instrument, units, px, req.ClientTag), nil
}

func parseCloseUnits(spec string, available float64) (float64, error) {
	if spec == "" || available == 0 {
		return 0, nil
	}
	if strings.EqualFold(spec, exchange.CloseAll) {
		return math.Abs(available), nil
	}
	v, err := strconv.ParseFloat(spec, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("paper: invalid close units %q", spec)
	}
	return math.Min(v, math.Abs(available)), nil
}

// ClosePosition reduces the long and/or short side of an instrument.
func (b *Broker) ClosePosition(ctx context.Context, accountID, instrument string, req exchange.CloseRequest) (exchange.CloseResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.enter("ClosePosition", accountID)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	pos := b.position(a, instrument)
	longUnits, err := parseCloseUnits(req.LongUnits, pos.LongUnits)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	shortUnits, err := parseCloseUnits(req.ShortUnits, pos.ShortUnits)
	if err != nil {
		return exchange.CloseResult{}, err
	}
	if longUnits == 0 && shortUnits == 0 {
		return exchange.CloseResult{}, fmt.Errorf("%w: %s", exchange.ErrNoPosition, instrument)
	}
	q, ok := b.prices[instrument]
	if !ok {
		return exchange.CloseResult{}, fmt.Errorf("%w: %s", ErrNoPrice, instrument)
	}

	out := exchange.CloseResult{Instrument: instrument}
	before := a.balance
	if longUnits > 0 {
		res := b.fill(a, instrument, -longUnits, q.Bid, "")
		out.LongClosed = longUnits
		out.TradeIDs = append(out.TradeIDs, res.TradeIDs()...)
	}
	if shortUnits > 0 {
		res := b.fill(a, instrument, shortUnits, q.Ask, "")
		out.ShortClosed = shortUnits
		out.TradeIDs = append(out.TradeIDs, res.TradeIDs()...)
	}
	out.RealizedPL = a.balance - before
	return out, nil
}

// PendingOrders is always empty: every paper order fills or fails immediately.
func (b *Broker) PendingOrders(ctx context.Context, accountID string) ([]exchange.PendingOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.enter("PendingOrders", accountID); err != nil {
		return nil, err
	}
	return nil, nil
}

// CancelOrder fails for every ID since nothing rests on the paper book.
func (b *Broker) CancelOrder(ctx context.Context, accountID, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.enter("CancelOrder", accountID); err != nil {
		return err
	}
	return fmt.Errorf("paper: order %s not found", orderID)
}

// Pricing returns the last quote of each instrument that has one.
func (b *Broker) Pricing(ctx context.Context, accountID string, instruments []string) ([]exchange.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.enter("Pricing", accountID); err != nil {
		return nil, err
	}
	out := make([]exchange.Quote, 0, len(instruments))
	for _, inst := range instruments {
		if q, ok := b.prices[inst]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// StreamPricing delivers SetPrice updates for the instruments until ctx is done.
func (b *Broker) StreamPricing(ctx context.Context, accountID string, instruments []string, fn func(exchange.Quote)) error {
	want := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		want[inst] = true
	}
	ch := make(chan exchange.Quote, 64)

	b.mu.Lock()
	if _, err := b.enter("StreamPricing", accountID); err != nil {
		b.mu.Unlock()
		return err
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-ch:
			if want[q.Instrument] {
				fn(q)
			}
		}
	}
}
