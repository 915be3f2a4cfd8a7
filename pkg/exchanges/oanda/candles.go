package oanda

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	exchange "session-core/pkg/exchanges/common"
)

type candleData struct {
	O num `json:"o"`
	H num `json:"h"`
	L num `json:"l"`
	C num `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

func (c *Client) fetchCandles(ctx context.Context, instrument string, params url.Values) ([]exchange.Bar, error) {
	params.Set("price", "M")
	var resp candlesResponse
	path := "/v3/instruments/" + pathEscape(instrument) + "/candles"
	if err := c.do(ctx, "candles", http.MethodGet, path, params, nil, &resp); err != nil {
		return nil, err
	}
	bars := make([]exchange.Bar, 0, len(resp.Candles))
	for _, k := range resp.Candles {
		if !k.Complete {
			continue
		}
		t := parseTime(k.Time)
		if t.IsZero() {
			continue
		}
		bars = append(bars, exchange.Bar{
			Time:   t,
			Open:   float64(k.Mid.O),
			High:   float64(k.Mid.H),
			Low:    float64(k.Mid.L),
			Close:  float64(k.Mid.C),
			Volume: float64(k.Volume),
		})
	}
	return bars, nil
}

// Candles returns the last count completed mid-price bars, oldest first.
func (c *Client) Candles(ctx context.Context, instrument, granularity string, count int) ([]exchange.Bar, error) {
	if count <= 0 {
		count = 1
	}
	if count > maxCandleCount {
		count = maxCandleCount
	}
	params := url.Values{}
	params.Set("granularity", granularity)
	// one extra so the still-forming candle does not shorten the window
	params.Set("count", strconv.Itoa(min(count+1, maxCandleCount)))
	bars, err := c.fetchCandles(ctx, instrument, params)
	if err != nil {
		return nil, err
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// CandlesRange returns completed bars in [from, to], paging by the venue's count cap.
func (c *Client) CandlesRange(ctx context.Context, instrument, granularity string, from, to time.Time) ([]exchange.Bar, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("oanda candles: empty range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	step := exchange.BarDuration(granularity)
	if step <= 0 {
		return nil, fmt.Errorf("oanda candles: unknown granularity %q", granularity)
	}

	var out []exchange.Bar
	cursor := from.UTC()
	for cursor.Before(to) {
		params := url.Values{}
		params.Set("granularity", granularity)
		params.Set("from", cursor.Format(time.RFC3339))
		params.Set("count", strconv.Itoa(maxCandleCount))
		page, err := c.fetchCandles(ctx, instrument, params)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			if b.Time.After(to) {
				return out, nil
			}
			if len(out) > 0 && !b.Time.After(out[len(out)-1].Time) {
				continue
			}
			out = append(out, b)
		}
		next := page[len(page)-1].Time.Add(step)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	return out, nil
}
