package oanda

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	exchange "session-core/pkg/exchanges/common"
)

const (
	minTxPageSize = 100
	maxTxPageSize = 1000
)

type pagesResponse struct {
	Pages []string `json:"pages"`
}

type transactionsResponse struct {
	Transactions []fillTransaction `json:"transactions"`
}

// Transactions fetches fills in [q.From, q.To] and normalizes them: the trade a
// fill opened becomes an ORDER_FILL entry, every trade it closed a
// TRADE_CLOSE entry. Partial reductions are skipped. At most MaxTxPages pages are read.
func (c *Client) Transactions(ctx context.Context, accountID string, q exchange.TransactionQuery) ([]exchange.Transaction, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	size := q.PageSize
	if size < minTxPageSize {
		size = minTxPageSize
	}
	if size > maxTxPageSize {
		size = maxTxPageSize
	}

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(size))
	query.Set("type", "ORDER_FILL")
	if !q.From.IsZero() {
		query.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		query.Set("to", q.To.UTC().Format(time.RFC3339))
	}

	var index pagesResponse
	path := "/v3/accounts/" + pathEscape(accountID) + "/transactions"
	if err := c.do(ctx, "transactions", http.MethodGet, path, query, nil, &index); err != nil {
		return nil, err
	}

	var out []exchange.Transaction
	for i, page := range index.Pages {
		if i >= c.maxTxPages {
			break
		}
		pagePath, pageQuery, err := c.resolvePage(page)
		if err != nil {
			return nil, err
		}
		var resp transactionsResponse
		if err := c.do(ctx, "transactions_page", http.MethodGet, pagePath, pageQuery, nil, &resp); err != nil {
			return nil, err
		}
		for _, tx := range resp.Transactions {
			out = append(out, normalizeFill(tx)...)
		}
	}
	return out, nil
}

// resolvePage turns an absolute page URL into a path relative to the configured host,
// so a custom BaseURL keeps receiving the follow-up requests.
func (c *Client) resolvePage(page string) (string, url.Values, error) {
	u, err := url.Parse(page)
	if err != nil {
		return "", nil, fmt.Errorf("oanda transactions: bad page url %q: %w", page, err)
	}
	p := u.Path
	if base, err := url.Parse(c.baseURL); err == nil && base.Path != "" && base.Path != "/" {
		p = strings.TrimPrefix(p, strings.TrimRight(base.Path, "/"))
	}
	return p, u.Query(), nil
}

func normalizeFill(tx fillTransaction) []exchange.Transaction {
	if tx.Type != "" && tx.Type != "ORDER_FILL" {
		return nil
	}
	at := parseTime(tx.Time)
	var out []exchange.Transaction
	if tx.TradeOpened != nil && tx.TradeOpened.TradeID != "" {
		units := float64(tx.TradeOpened.Units)
		if units == 0 {
			units = float64(tx.Units)
		}
		price := float64(tx.TradeOpened.Price)
		if price == 0 {
			price = float64(tx.Price)
		}
		out = append(out, exchange.Transaction{
			ID:         tx.ID,
			Type:       exchange.TxOrderFill,
			Time:       at,
			Instrument: tx.Instrument,
			TradeID:    tx.TradeOpened.TradeID,
			Units:      units,
			Price:      price,
			Reason:     tx.Reason,
		})
	}
	for _, tc := range tx.TradesClosed {
		price := float64(tc.Price)
		if price == 0 {
			price = float64(tx.Price)
		}
		out = append(out, exchange.Transaction{
			ID:         tx.ID,
			Type:       exchange.TxTradeClose,
			Time:       at,
			Instrument: tx.Instrument,
			TradeID:    tc.TradeID,
			Units:      float64(tc.Units),
			Price:      price,
			PL:         float64(tc.RealizedPL),
			Reason:     tx.Reason,
		})
	}
	return out
}
