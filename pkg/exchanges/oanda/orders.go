package oanda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	exchange "session-core/pkg/exchanges/common"
)

type priceDetails struct {
	Price string `json:"price,omitempty"`
}

type distanceDetails struct {
	Distance string `json:"distance"`
}

type clientExtensions struct {
	Tag string `json:"tag,omitempty"`
}

type marketOrder struct {
	Type             string            `json:"type"`
	Instrument       string            `json:"instrument"`
	Units            string            `json:"units"`
	TimeInForce      string            `json:"timeInForce"`
	PositionFill     string            `json:"positionFill"`
	StopLossOnFill   *priceDetails     `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *priceDetails     `json:"takeProfitOnFill,omitempty"`
	TrailingOnFill   *distanceDetails  `json:"trailingStopLossOnFill,omitempty"`
	ClientExtensions *clientExtensions `json:"clientExtensions,omitempty"`
}

type tradeRef struct {
	TradeID    string `json:"tradeID"`
	Units      num    `json:"units"`
	Price      num    `json:"price"`
	RealizedPL num    `json:"realizedPL"`
}

type fillTransaction struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Time         string     `json:"time"`
	OrderID      string     `json:"orderID"`
	Instrument   string     `json:"instrument"`
	Units        num        `json:"units"`
	Price        num        `json:"price"`
	PL           num        `json:"pl"`
	Reason       string     `json:"reason"`
	TradeOpened  *tradeRef  `json:"tradeOpened"`
	TradesClosed []tradeRef `json:"tradesClosed"`
	TradeReduced *tradeRef  `json:"tradeReduced"`
}

func (f *fillTransaction) tradeIDs() []string {
	if f == nil {
		return nil
	}
	var ids []string
	if f.TradeOpened != nil && f.TradeOpened.TradeID != "" {
		ids = append(ids, f.TradeOpened.TradeID)
	}
	if f.TradeReduced != nil && f.TradeReduced.TradeID != "" {
		ids = append(ids, f.TradeReduced.TradeID)
	}
	for _, t := range f.TradesClosed {
		ids = append(ids, t.TradeID)
	}
	return ids
}

type cancelTransaction struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type orderResponse struct {
	OrderCreateTransaction struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
	OrderFillTransaction   *fillTransaction   `json:"orderFillTransaction"`
	OrderCancelTransaction *cancelTransaction `json:"orderCancelTransaction"`
}

// ErrOrderCanceled is returned when the venue rejects a FOK order without filling it.
var ErrOrderCanceled = errors.New("order canceled by venue")

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// MarketOrder places a fill-or-kill market order for signed units.
func (c *Client) MarketOrder(ctx context.Context, accountID string, req exchange.MarketOrderRequest) (exchange.OrderResult, error) {
	if err := requireAccount(accountID); err != nil {
		return exchange.OrderResult{}, err
	}
	if req.Units == 0 {
		return exchange.OrderResult{}, errors.New("oanda: order units must be non-zero")
	}

	order := marketOrder{
		Type:         "MARKET",
		Instrument:   req.Instrument,
		Units:        strconv.FormatFloat(req.Units, 'f', 0, 64),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}
	if req.StopLoss > 0 {
		order.StopLossOnFill = &priceDetails{Price: formatPrice(req.StopLoss)}
	}
	if req.TakeProfit > 0 {
		order.TakeProfitOnFill = &priceDetails{Price: formatPrice(req.TakeProfit)}
	}
	if req.TrailingStopDistance > 0 {
		order.TrailingOnFill = &distanceDetails{Distance: formatPrice(req.TrailingStopDistance)}
	}
	tag := req.ClientTag
	if tag == "" {
		tag = c.clientTag
	}
	if tag != "" {
		order.ClientExtensions = &clientExtensions{Tag: tag}
	}

	var resp orderResponse
	path := "/v3/accounts/" + pathEscape(accountID) + "/orders"
	if err := c.do(ctx, "market_order", http.MethodPost, path, nil, map[string]any{"order": order}, &resp); err != nil {
		return exchange.OrderResult{}, err
	}
	if resp.OrderFillTransaction == nil {
		reason := "no fill"
		if resp.OrderCancelTransaction != nil && resp.OrderCancelTransaction.Reason != "" {
			reason = resp.OrderCancelTransaction.Reason
		}
		return exchange.OrderResult{}, fmt.Errorf("%w: %s %s: %s", ErrOrderCanceled, req.Instrument, order.Units, reason)
	}

	fill := resp.OrderFillTransaction
	out := exchange.OrderResult{
		OrderID:       fill.OrderID,
		TransactionID: fill.ID,
		Instrument:    fill.Instrument,
		Units:         float64(fill.Units),
		Price:         float64(fill.Price),
		Time:          parseTime(fill.Time),
	}
	if out.OrderID == "" {
		out.OrderID = resp.OrderCreateTransaction.ID
	}
	if fill.TradeOpened != nil {
		out.TradeOpened = fill.TradeOpened.TradeID
	}
	if fill.TradeReduced != nil {
		out.TradeReduced = fill.TradeReduced.TradeID
	}
	for _, t := range fill.TradesClosed {
		out.TradesClosed = append(out.TradesClosed, t.TradeID)
	}
	return out, nil
}

type closeResponse struct {
	LongOrderFillTransaction  *fillTransaction `json:"longOrderFillTransaction"`
	ShortOrderFillTransaction *fillTransaction `json:"shortOrderFillTransaction"`
}

// ClosePosition closes all or part of one or both sides of an instrument.
func (c *Client) ClosePosition(ctx context.Context, accountID, instrument string, req exchange.CloseRequest) (exchange.CloseResult, error) {
	if err := requireAccount(accountID); err != nil {
		return exchange.CloseResult{}, err
	}
	if req.LongUnits == "" && req.ShortUnits == "" {
		return exchange.CloseResult{}, errors.New("oanda: close request selects no side")
	}

	body := map[string]string{}
	if req.LongUnits != "" {
		body["longUnits"] = req.LongUnits
	}
	if req.ShortUnits != "" {
		body["shortUnits"] = req.ShortUnits
	}

	var resp closeResponse
	path := "/v3/accounts/" + pathEscape(accountID) + "/positions/" + pathEscape(instrument) + "/close"
	if err := c.do(ctx, "close_position", http.MethodPut, path, nil, body, &resp); err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return exchange.CloseResult{}, fmt.Errorf("%w: %s: %v", exchange.ErrNoPosition, instrument, err)
		}
		return exchange.CloseResult{}, err
	}

	out := exchange.CloseResult{Instrument: instrument}
	if f := resp.LongOrderFillTransaction; f != nil {
		out.LongClosed = -float64(f.Units)
		out.RealizedPL += float64(f.PL)
		out.TradeIDs = append(out.TradeIDs, f.tradeIDs()...)
	}
	if f := resp.ShortOrderFillTransaction; f != nil {
		out.ShortClosed = float64(f.Units)
		out.RealizedPL += float64(f.PL)
		out.TradeIDs = append(out.TradeIDs, f.tradeIDs()...)
	}
	return out, nil
}

type apiOrder struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
	Units      num    `json:"units"`
	Price      num    `json:"price"`
	CreateTime string `json:"createTime"`
}

// PendingOrders lists resting orders.
func (c *Client) PendingOrders(ctx context.Context, accountID string) ([]exchange.PendingOrder, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	var resp struct {
		Orders []apiOrder `json:"orders"`
	}
	path := "/v3/accounts/" + pathEscape(accountID) + "/pendingOrders"
	if err := c.do(ctx, "pending_orders", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.PendingOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, exchange.PendingOrder{
			ID:         o.ID,
			Type:       o.Type,
			Instrument: o.Instrument,
			Units:      float64(o.Units),
			Price:      float64(o.Price),
			CreateTime: parseTime(o.CreateTime),
		})
	}
	return out, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) error {
	if err := requireAccount(accountID); err != nil {
		return err
	}
	path := "/v3/accounts/" + pathEscape(accountID) + "/orders/" + pathEscape(orderID) + "/cancel"
	return c.do(ctx, "cancel_order", http.MethodPut, path, nil, nil, nil)
}
