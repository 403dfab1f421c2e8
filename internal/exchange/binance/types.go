package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trady/internal/core"
)

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type exchangeInfoResponse struct {
	Symbols []symbolInfoResponse `json:"symbols"`
}

type symbolInfoResponse struct {
	Symbol       string           `json:"symbol"`
	BaseAsset    string           `json:"baseAsset"`
	QuoteAsset   string           `json:"quoteAsset"`
	Status       string           `json:"status"`
	ContractType string           `json:"contractType"`
	Filters      []filterResponse `json:"filters"`
}

type filterResponse struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
	StepSize   string `json:"stepSize"`
	Notional   string `json:"notional"`
	MinPrice   string `json:"minPrice"`
	MaxPrice   string `json:"maxPrice"`
	TickSize   string `json:"tickSize"`
}

type leverageBracketResponse struct {
	Symbol   string            `json:"symbol"`
	Brackets []bracketResponse `json:"brackets"`
}

type bracketResponse struct {
	Bracket         int             `json:"bracket"`
	InitialLeverage int             `json:"initialLeverage"`
	NotionalCap     decimal.Decimal `json:"notionalCap"`
	NotionalFloor   decimal.Decimal `json:"notionalFloor"`
}

type balanceResponse struct {
	Asset              string          `json:"asset"`
	CrossWalletBalance decimal.Decimal `json:"crossWalletBalance"`
	CrossUnPnl         decimal.Decimal `json:"crossUnPnl"`
}

type positionRiskResponse struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	Leverage         string          `json:"leverage"`
	UnRealizedProfit decimal.Decimal `json:"unRealizedProfit"`
}

type tickerResponse struct {
	Symbol      string          `json:"symbol"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
}

type orderResponse struct {
	Symbol      string          `json:"symbol"`
	OrderID     int64           `json:"orderId"`
	Status      string          `json:"status"`
	Type        string          `json:"type"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
}

// Kline row layout of GET /fapi/v1/klines.
const (
	klineOpenTime         = 0
	klineOpen             = 1
	klineHigh             = 2
	klineLow              = 3
	klineClose            = 4
	klineCloseTime        = 6
	klineQuoteVolume      = 7
	klineTakerBuyQuoteVol = 10
	klineMinFields        = 11
)

func parseSymbol(src symbolInfoResponse) core.Symbol {
	return core.NewSymbol(src.BaseAsset, src.QuoteAsset)
}

func isTradablePerpetual(src symbolInfoResponse) bool {
	return src.Status == "TRADING" && src.ContractType == "PERPETUAL"
}

// parseRules reads LOT_SIZE, MIN_NOTIONAL and PRICE_FILTER. Binance uses "0" for a disabled
// maximum or step, so those are left unset.
func parseRules(filters []filterResponse) (core.Rules, error) {
	var rules core.Rules
	var err error
	for _, f := range filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if rules.SizeMin, err = optionalDecimal(f.MinQty, false); err != nil {
				return rules, fmt.Errorf("LOT_SIZE minQty: %w", err)
			}
			if rules.SizeMax, err = optionalDecimal(f.MaxQty, true); err != nil {
				return rules, fmt.Errorf("LOT_SIZE maxQty: %w", err)
			}
			if rules.SizeStep, err = optionalDecimal(f.StepSize, true); err != nil {
				return rules, fmt.Errorf("LOT_SIZE stepSize: %w", err)
			}
		case "MIN_NOTIONAL":
			if rules.NotionalMin, err = optionalDecimal(f.Notional, false); err != nil {
				return rules, fmt.Errorf("MIN_NOTIONAL notional: %w", err)
			}
		case "PRICE_FILTER":
			if rules.PriceMin, err = optionalDecimal(f.MinPrice, false); err != nil {
				return rules, fmt.Errorf("PRICE_FILTER minPrice: %w", err)
			}
			if rules.PriceMax, err = optionalDecimal(f.MaxPrice, true); err != nil {
				return rules, fmt.Errorf("PRICE_FILTER maxPrice: %w", err)
			}
			if rules.PriceStep, err = optionalDecimal(f.TickSize, true); err != nil {
				return rules, fmt.Errorf("PRICE_FILTER tickSize: %w", err)
			}
		}
	}
	return rules, nil
}

// applyBracket copies the cap and leverage of the bracket starting at zero notional.
func applyBracket(rules *core.Rules, brackets []bracketResponse) {
	for _, b := range brackets {
		if !b.NotionalFloor.IsZero() {
			continue
		}
		if b.NotionalCap.Sign() > 0 {
			rules.NotionalMax = core.Some(b.NotionalCap)
		}
		if b.InitialLeverage > 0 {
			rules.LeverageMax = b.InitialLeverage
		}
		return
	}
}

func optionalDecimal(raw string, zeroIsUnset bool) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if zeroIsUnset && v.IsZero() {
		return decimal.NullDecimal{}, nil
	}
	return core.Some(v), nil
}

func parseKlines(body []byte) ([]core.Candlestick, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]core.Candlestick, 0, len(rows))
	for i, row := range rows {
		c, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseKline(row []json.RawMessage) (core.Candlestick, error) {
	if len(row) < klineMinFields {
		return core.Candlestick{}, fmt.Errorf("expected at least %d fields, got %d", klineMinFields, len(row))
	}
	var (
		c   core.Candlestick
		err error
	)
	if c.OpenTime, err = rawMillis(row[klineOpenTime]); err != nil {
		return c, fmt.Errorf("open time: %w", err)
	}
	if c.CloseTime, err = rawMillis(row[klineCloseTime]); err != nil {
		return c, fmt.Errorf("close time: %w", err)
	}
	prices := []struct {
		dst *decimal.Decimal
		idx int
	}{
		{&c.Open, klineOpen},
		{&c.High, klineHigh},
		{&c.Low, klineLow},
		{&c.Close, klineClose},
	}
	for _, p := range prices {
		if err := json.Unmarshal(row[p.idx], p.dst); err != nil {
			return c, fmt.Errorf("field %d: %w", p.idx, err)
		}
	}
	var volume, buyVolume decimal.Decimal
	if err := json.Unmarshal(row[klineQuoteVolume], &volume); err != nil {
		return c, fmt.Errorf("quote volume: %w", err)
	}
	if err := json.Unmarshal(row[klineTakerBuyQuoteVol], &buyVolume); err != nil {
		return c, fmt.Errorf("taker buy quote volume: %w", err)
	}
	c.BuyVolume = buyVolume
	c.SellVolume = volume.Sub(buyVolume)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func rawMillis(raw json.RawMessage) (time.Time, error) {
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseBalance(src balanceResponse) core.Balance {
	return core.Balance{
		Asset:      src.Asset,
		Realized:   src.CrossWalletBalance,
		Unrealized: src.CrossUnPnl,
	}
}

func parsePosition(src positionRiskResponse) (core.Position, error) {
	leverage, err := strconv.Atoi(strings.TrimSpace(src.Leverage))
	if err != nil {
		return core.Position{}, fmt.Errorf("position %s leverage %q: %w", src.Symbol, src.Leverage, err)
	}
	return core.Position{
		Symbol:   src.Symbol,
		Size:     src.PositionAmt,
		Leverage: leverage,
		PnL:      src.UnRealizedProfit,
	}, nil
}
