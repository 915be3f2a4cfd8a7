package oanda

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	exchange "session-core/pkg/exchanges/common"
)

const streamBufferSize = 2 * 1024 * 1024

// StreamPricing pushes quotes for the instruments to fn until ctx is done or the
// connection drops. Heartbeats are skipped.
func (c *Client) StreamPricing(ctx context.Context, accountID string, instruments []string, fn func(exchange.Quote)) error {
	if err := requireAccount(accountID); err != nil {
		return err
	}
	if len(instruments) == 0 {
		return errors.New("oanda stream: no instruments")
	}

	q := url.Values{}
	q.Set("instruments", strings.Join(instruments, ","))
	u := c.streamURL + "/v3/accounts/" + pathEscape(accountID) + "/pricing/stream?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("oanda stream: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return exchange.Unavailable("oanda stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb apiErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &exchange.APIError{Status: resp.StatusCode, Code: eb.ErrorCode, Message: eb.ErrorMessage, Path: "pricing/stream"}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), streamBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p apiPrice
		if err := json.Unmarshal(line, &p); err != nil {
			continue
		}
		if p.Type == "HEARTBEAT" || p.Instrument == "" {
			continue
		}
		fn(p.toQuote())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return exchange.Unavailable("oanda stream", err)
	}
	return exchange.Unavailable("oanda stream", errors.New("stream closed by server"))
}
