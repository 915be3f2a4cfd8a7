package oanda

import (
	"context"
	"net/http"
	"strings"

	exchange "session-core/pkg/exchanges/common"
)

type accountsResponse struct {
	Accounts []struct {
		ID   string   `json:"id"`
		Tags []string `json:"tags"`
	} `json:"accounts"`
}

// Accounts lists the accounts the token can access.
func (c *Client) Accounts(ctx context.Context) ([]exchange.AccountRef, error) {
	var resp accountsResponse
	if err := c.do(ctx, "accounts", http.MethodGet, "/v3/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.AccountRef, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		out = append(out, exchange.AccountRef{ID: a.ID, Tags: a.Tags})
	}
	return out, nil
}

type summaryResponse struct {
	Account struct {
		ID                string `json:"id"`
		Alias             string `json:"alias"`
		Currency          string `json:"currency"`
		Balance           num    `json:"balance"`
		NAV               num    `json:"NAV"`
		UnrealizedPL      num    `json:"unrealizedPL"`
		MarginUsed        num    `json:"marginUsed"`
		MarginAvailable   num    `json:"marginAvailable"`
		PositionValue     num    `json:"positionValue"`
		OpenTradeCount    int    `json:"openTradeCount"`
		OpenPositionCount int    `json:"openPositionCount"`
	} `json:"account"`
}

// AccountSummary fetches balance, NAV and margin figures.
func (c *Client) AccountSummary(ctx context.Context, accountID string) (exchange.AccountSummary, error) {
	if err := requireAccount(accountID); err != nil {
		return exchange.AccountSummary{}, err
	}
	var resp summaryResponse
	path := "/v3/accounts/" + pathEscape(accountID) + "/summary"
	if err := c.do(ctx, "account_summary", http.MethodGet, path, nil, nil, &resp); err != nil {
		return exchange.AccountSummary{}, err
	}
	a := resp.Account
	return exchange.AccountSummary{
		ID:                a.ID,
		Alias:             a.Alias,
		Currency:          a.Currency,
		Balance:           float64(a.Balance),
		NAV:               float64(a.NAV),
		UnrealizedPL:      float64(a.UnrealizedPL),
		MarginUsed:        float64(a.MarginUsed),
		MarginAvailable:   float64(a.MarginAvailable),
		PositionValue:     float64(a.PositionValue),
		OpenTradeCount:    a.OpenTradeCount,
		OpenPositionCount: a.OpenPositionCount,
	}, nil
}

type positionSide struct {
	Units        num `json:"units"`
	AveragePrice num `json:"averagePrice"`
}

type apiPosition struct {
	Instrument   string       `json:"instrument"`
	Long         positionSide `json:"long"`
	Short        positionSide `json:"short"`
	UnrealizedPL num          `json:"unrealizedPL"`
}

func (p apiPosition) toPosition() exchange.Position {
	return exchange.Position{
		Instrument:    p.Instrument,
		LongUnits:     float64(p.Long.Units),
		LongAvgPrice:  float64(p.Long.AveragePrice),
		ShortUnits:    float64(p.Short.Units),
		ShortAvgPrice: float64(p.Short.AveragePrice),
		UnrealizedPL:  float64(p.UnrealizedPL),
	}
}

// OpenPositions lists instruments with non-zero units.
func (c *Client) OpenPositions(ctx context.Context, accountID string) ([]exchange.Position, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	var resp struct {
		Positions []apiPosition `json:"positions"`
	}
	path := "/v3/accounts/" + pathEscape(accountID) + "/openPositions"
	if err := c.do(ctx, "open_positions", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		out = append(out, p.toPosition())
	}
	return out, nil
}

// Position fetches one instrument's position, which may be flat.
func (c *Client) Position(ctx context.Context, accountID, instrument string) (exchange.Position, error) {
	if err := requireAccount(accountID); err != nil {
		return exchange.Position{}, err
	}
	var resp struct {
		Position apiPosition `json:"position"`
	}
	path := "/v3/accounts/" + pathEscape(accountID) + "/positions/" + pathEscape(instrument)
	if err := c.do(ctx, "position", http.MethodGet, path, nil, nil, &resp); err != nil {
		return exchange.Position{}, err
	}
	p := resp.Position.toPosition()
	if p.Instrument == "" {
		p.Instrument = instrument
	}
	return p, nil
}

type apiTrade struct {
	ID           string `json:"id"`
	Instrument   string `json:"instrument"`
	Price        num    `json:"price"`
	OpenTime     string `json:"openTime"`
	CurrentUnits num    `json:"currentUnits"`
	RealizedPL   num    `json:"realizedPL"`
	UnrealizedPL num    `json:"unrealizedPL"`
}

// OpenTrades lists open trades across all instruments.
func (c *Client) OpenTrades(ctx context.Context, accountID string) ([]exchange.Trade, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	var resp struct {
		Trades []apiTrade `json:"trades"`
	}
	path := "/v3/accounts/" + pathEscape(accountID) + "/openTrades"
	if err := c.do(ctx, "open_trades", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		if t.ID == "" {
			continue
		}
		out = append(out, exchange.Trade{
			ID:           t.ID,
			Instrument:   t.Instrument,
			OpenTime:     parseTime(t.OpenTime),
			Price:        float64(t.Price),
			CurrentUnits: float64(t.CurrentUnits),
			UnrealizedPL: float64(t.UnrealizedPL),
			RealizedPL:   float64(t.RealizedPL),
		})
	}
	return out, nil
}

type apiPrice struct {
	Instrument string `json:"instrument"`
	Time       string `json:"time"`
	Type       string `json:"type"`
	Bids       []struct {
		Price num `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price num `json:"price"`
	} `json:"asks"`
	CloseoutBid num `json:"closeoutBid"`
	CloseoutAsk num `json:"closeoutAsk"`
}

func (p apiPrice) toQuote() exchange.Quote {
	q := exchange.Quote{
		Instrument: p.Instrument,
		Bid:        float64(p.CloseoutBid),
		Ask:        float64(p.CloseoutAsk),
		Time:       parseTime(p.Time),
	}
	if len(p.Bids) > 0 {
		q.Bid = float64(p.Bids[0].Price)
	}
	if len(p.Asks) > 0 {
		q.Ask = float64(p.Asks[0].Price)
	}
	return q
}

// Pricing returns current quotes for the instruments.
func (c *Client) Pricing(ctx context.Context, accountID string, instruments []string) ([]exchange.Quote, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	var resp struct {
		Prices []apiPrice `json:"prices"`
	}
	q := map[string][]string{"instruments": {strings.Join(instruments, ",")}}
	path := "/v3/accounts/" + pathEscape(accountID) + "/pricing"
	if err := c.do(ctx, "pricing", http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Quote, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		out = append(out, p.toQuote())
	}
	return out, nil
}
