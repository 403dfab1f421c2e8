package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"trady/internal/core"
	"trady/internal/exchange"
)

const (
	sideBuy  = "BUY"
	sideSell = "SELL"

	marginTypeCrossed = "CROSSED"
)

// Balance reports the cross wallet balance and unrealized PnL of asset.
func (c *Client) Balance(ctx context.Context, asset string) (core.Balance, error) {
	var resp []balanceResponse
	if err := c.getJSON(ctx, "/v3/balance", nil, AuthSigned, &resp); err != nil {
		return core.Balance{}, err
	}
	for _, b := range resp {
		if b.Asset == asset {
			return parseBalance(b), nil
		}
	}
	return core.Balance{}, fmt.Errorf("%w: %s", core.ErrUnknownAsset, asset)
}

// Positions returns open positions keyed by symbol name. Flat entries are dropped.
func (c *Client) Positions(ctx context.Context) (map[string]core.Position, error) {
	var resp []positionRiskResponse
	if err := c.getJSON(ctx, "/v2/positionRisk", nil, AuthSigned, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]core.Position)
	for _, p := range resp {
		if p.PositionAmt.IsZero() {
			continue
		}
		position, err := parsePosition(p)
		if err != nil {
			return nil, err
		}
		out[position.Symbol] = position
	}
	return out, nil
}

// OpenPosition switches the symbol to cross margin, sets leverage and sends a market
// order, followed by optional close-position take-profit and stop-loss triggers.
func (c *Client) OpenPosition(ctx context.Context, req exchange.OpenRequest) (core.Position, error) {
	if err := c.requireCredentials(); err != nil {
		return core.Position{}, err
	}
	if req.Size.IsZero() {
		return core.Position{}, core.NewConfigurationError("position size must not be zero")
	}
	leverage := req.Leverage
	if leverage == 0 {
		leverage = 1
	}
	symbol := req.Symbol.Name()
	if err := c.setMarginType(ctx, symbol, marginTypeCrossed); err != nil {
		return core.Position{}, err
	}
	if err := c.setLeverage(ctx, symbol, leverage); err != nil {
		return core.Position{}, err
	}

	openSide, closeSide := sideBuy, sideSell
	if req.Size.IsNegative() {
		openSide, closeSide = sideSell, sideBuy
	}
	open := baseOrder(symbol, openSide)
	open.Set("type", "MARKET")
	open.Set("quantity", req.Size.Abs().String())
	filled, err := c.placeOrder(ctx, open)
	if err != nil {
		return core.Position{}, fmt.Errorf("open %s: %w", symbol, err)
	}
	// executedQty is unsigned; an unfilled order keeps the requested size.
	size := req.Size
	if filled.ExecutedQty.IsPositive() {
		size = filled.ExecutedQty
		if req.Size.IsNegative() {
			size = size.Neg()
		}
	}
	if req.TakeProfit.Valid {
		if _, err := c.placeOrder(ctx, triggerOrder(symbol, closeSide, "TAKE_PROFIT_MARKET", req.TakeProfit.Decimal)); err != nil {
			return core.Position{}, fmt.Errorf("take profit %s: %w", symbol, err)
		}
	}
	if req.StopLoss.Valid {
		if _, err := c.placeOrder(ctx, triggerOrder(symbol, closeSide, "STOP_MARKET", req.StopLoss.Decimal)); err != nil {
			return core.Position{}, fmt.Errorf("stop loss %s: %w", symbol, err)
		}
	}
	return core.Position{
		Symbol:   symbol,
		Size:     size,
		Leverage: leverage,
		PnL:      decimal.Zero,
	}, nil
}

// ClosePosition sends a reduce-only market order for the full size.
func (c *Client) ClosePosition(ctx context.Context, position core.Position) error {
	if err := c.requireCredentials(); err != nil {
		return err
	}
	if position.IsFlat() {
		return nil
	}
	side := sideSell
	if position.IsShort() {
		side = sideBuy
	}
	params := baseOrder(position.Symbol, side)
	params.Set("type", "MARKET")
	params.Set("quantity", position.Size.Abs().String())
	params.Set("reduceOnly", "TRUE")
	_, err := c.placeOrder(ctx, params)
	return err
}

func (c *Client) setMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/marginType", params, AuthSigned)
	if err != nil && !IsAPIErrorCode(err, apiCodeMarginTypeNoNeed) {
		return fmt.Errorf("set margin type %s: %w", symbol, err)
	}
	return nil
}

func (c *Client) setLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := c.doRequest(ctx, http.MethodPost, "/v1/leverage", params, AuthSigned); err != nil {
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	return nil
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (orderResponse, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/order", params, AuthSigned)
	if err != nil {
		return orderResponse{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return orderResponse{}, fmt.Errorf("decode order: %w", err)
	}
	return resp, nil
}

func baseOrder(symbol, side string) url.Values {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("positionSide", "BOTH")
	params.Set("newOrderRespType", "RESULT")
	return params
}

func triggerOrder(symbol, side, orderType string, stopPrice decimal.Decimal) url.Values {
	params := baseOrder(symbol, side)
	params.Set("type", orderType)
	params.Set("stopPrice", stopPrice.String())
	params.Set("closePosition", "TRUE")
	params.Set("workingType", "CONTRACT_PRICE")
	params.Set("priceProtect", "FALSE")
	params.Set("timeInForce", "GTE_GTC")
	return params
}
