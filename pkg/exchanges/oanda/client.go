// Package oanda implements the venue contracts in pkg/exchanges/common against the
// OANDA v20 REST and streaming APIs.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	exchange "session-core/pkg/exchanges/common"
)

const (
	PracticeURL       = "https://api-fxpractice.oanda.com"
	LiveURL           = "https://api-fxtrade.oanda.com"
	PracticeStreamURL = "https://stream-fxpractice.oanda.com"
	LiveStreamURL     = "https://stream-fxtrade.oanda.com"

	maxCandleCount = 5000
)

// Observer receives the latency and outcome of every REST call.
type Observer func(op string, d time.Duration, err error)

// Config holds client settings. Empty URLs select practice or live hosts.
type Config struct {
	Token      string
	Live       bool
	BaseURL    string
	StreamURL  string
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 disables pacing
	MaxTxPages int
	ClientTag  string
	Observe    Observer
}

// Client talks to one OANDA environment.
type Client struct {
	baseURL    string
	streamURL  string
	token      string
	httpClient *http.Client
	streamHTTP *http.Client
	throttle   *exchange.Throttle
	maxTxPages int
	clientTag  string
	observe    Observer
}

var (
	_ exchange.Broker        = (*Client)(nil)
	_ exchange.PriceStreamer = (*Client)(nil)
	_ exchange.CandleSource  = (*Client)(nil)
)

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	base, stream := PracticeURL, PracticeStreamURL
	if cfg.Live {
		base, stream = LiveURL, LiveStreamURL
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.StreamURL != "" {
		stream = cfg.StreamURL
	} else if cfg.BaseURL != "" {
		stream = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pages := cfg.MaxTxPages
	if pages <= 0 {
		pages = 5
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		streamURL:  strings.TrimRight(stream, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		streamHTTP: &http.Client{},
		throttle:   exchange.NewThrottle("oanda", cfg.RateLimit, int(cfg.RateLimit)+1),
		maxTxPages: pages,
		clientTag:  cfg.ClientTag,
		observe:    cfg.Observe,
	}
}

type apiErrorBody struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// do sends a request to the REST host and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) (err error) {
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(op, time.Since(start), err) }()
	}
	if c.token == "" {
		return fmt.Errorf("oanda %s: missing token: %w", op, exchange.ErrUpstreamUnavailable)
	}
	if err := c.throttle.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("oanda %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("oanda %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return exchange.Unavailable("oanda "+op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.Unavailable("oanda "+op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb apiErrorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.ErrorMessage
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &exchange.APIError{Status: resp.StatusCode, Code: eb.ErrorCode, Message: msg, Path: path}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("oanda %s: decode response: %w", op, err)
	}
	return nil
}

// num decodes OANDA decimal strings (and plain JSON numbers) into float64.
type num float64

func (n *num) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", s, err)
	}
	*n = num(f)
	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	// Unix-format timestamps ("1700000000.000000000")
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
	}
	return time.Time{}
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}

// requireAccount rejects calls without an account ID before they hit the network.
func requireAccount(accountID string) error {
	if accountID == "" {
		return errors.New("oanda: account id is required")
	}
	return nil
}
