package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trady/internal/core"
	"trady/internal/exchange"
)

var intervals = map[time.Duration]string{
	time.Minute:      "1m",
	3 * time.Minute:  "3m",
	5 * time.Minute:  "5m",
	15 * time.Minute: "15m",
	30 * time.Minute: "30m",
	time.Hour:        "1h",
	2 * time.Hour:    "2h",
	4 * time.Hour:    "4h",
	6 * time.Hour:    "6h",
	8 * time.Hour:    "8h",
	12 * time.Hour:   "12h",
	24 * time.Hour:   "1d",
}

// IntervalName maps an interval to its Binance code.
func IntervalName(interval time.Duration) (string, error) {
	name, ok := intervals[interval]
	if !ok {
		return "", core.NewConfigurationError("unsupported binance interval %s", interval)
	}
	return name, nil
}

func (c *Client) Datetime(ctx context.Context) (time.Time, error) {
	var resp serverTimeResponse
	if err := c.getJSON(ctx, "/v1/time", nil, AuthNone, &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.ServerTime).UTC(), nil
}

// Symbols lists perpetual contracts currently trading.
func (c *Client) Symbols(ctx context.Context) ([]core.Symbol, error) {
	var resp exchangeInfoResponse
	if err := c.getJSON(ctx, "/v1/exchangeInfo", nil, AuthNone, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Symbol, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if isTradablePerpetual(s) {
			out = append(out, parseSymbol(s))
		}
	}
	return out, nil
}

// RulesMap merges exchange filters with the first leverage bracket. The bracket
// endpoint is signed, so credentials are required.
func (c *Client) RulesMap(ctx context.Context) (map[string]core.Rules, error) {
	if err := c.requireCredentials(); err != nil {
		return nil, err
	}
	var info exchangeInfoResponse
	if err := c.getJSON(ctx, "/v1/exchangeInfo", nil, AuthNone, &info); err != nil {
		return nil, err
	}
	rules := make(map[string]core.Rules, len(info.Symbols))
	for _, s := range info.Symbols {
		r, err := parseRules(s.Filters)
		if err != nil {
			return nil, err
		}
		rules[s.Symbol] = r
	}
	var brackets []leverageBracketResponse
	if err := c.getJSON(ctx, "/v1/leverageBracket", nil, AuthSigned, &brackets); err != nil {
		return nil, err
	}
	for _, b := range brackets {
		r, ok := rules[b.Symbol]
		if !ok {
			continue
		}
		applyBracket(&r, b.Brackets)
		rules[b.Symbol] = r
	}
	return rules, nil
}

func (c *Client) CandlesticksPage(ctx context.Context, req exchange.PageRequest) ([]core.Candlestick, error) {
	name, err := IntervalName(req.Interval)
	if err != nil {
		return nil, err
	}
	if req.Number < 1 {
		return nil, core.NewConfigurationError("candlesticks number must be >= 1, got %d", req.Number)
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol.Name())
	params.Set("interval", name)
	params.Set("limit", strconv.Itoa(req.Number))
	if !req.Start.IsZero() {
		params.Set("startTime", strconv.FormatInt(req.Start.UnixMilli(), 10))
	}
	if !req.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(req.End.UnixMilli(), 10))
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/klines", params, AuthNone)
	if err != nil {
		return nil, err
	}
	return parseKlines(body)
}

// Stats returns the rolling 24h quote volume of every symbol.
func (c *Client) Stats(ctx context.Context) (map[string]core.SymbolStats, error) {
	var resp []tickerResponse
	if err := c.getJSON(ctx, "/v1/ticker/24hr", nil, AuthNone, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolStats, len(resp))
	for _, t := range resp {
		out[t.Symbol] = core.SymbolStats{Volume: t.QuoteVolume}
	}
	return out, nil
}

var (
	_ exchange.Exchange      = (*Client)(nil)
	_ exchange.StatsProvider = (*Client)(nil)
)
