package binance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trady/internal/core"
)

const streamKeepalive = 30 * time.Second

type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime         int64           `json:"t"`
		CloseTime        int64           `json:"T"`
		Interval         string          `json:"i"`
		Open             decimal.Decimal `json:"o"`
		High             decimal.Decimal `json:"h"`
		Low              decimal.Decimal `json:"l"`
		Close            decimal.Decimal `json:"c"`
		QuoteVolume      decimal.Decimal `json:"q"`
		TakerBuyQuoteVol decimal.Decimal `json:"Q"`
		Closed           bool            `json:"x"`
		// Declared so encoding/json does not fold "L" into "l".
		LastTradeID      int64           `json:"L"`
	} `json:"k"`
}

// StreamURL returns the kline stream endpoint for symbol and interval.
func (c *Client) StreamURL(symbol core.Symbol, interval time.Duration) (string, error) {
	name, err := IntervalName(interval)
	if err != nil {
		return "", err
	}
	return c.streamURL + "/" + strings.ToLower(symbol.Name()) + "@kline_" + name, nil
}

// StreamCandlesticks delivers closed candlesticks to fn until ctx is done, the connection
// fails or fn returns an error. Open (still updating) klines are skipped.
func (c *Client) StreamCandlesticks(ctx context.Context, symbol core.Symbol, interval time.Duration, fn func(core.Candlestick) error) error {
	streamURL, err := c.StreamURL(symbol, interval)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	readTimeout := 3 * streamKeepalive
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					_ = conn.Close()
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		candle, ok, err := parseKlineEvent(data)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(candle); err != nil {
			return err
		}
	}
}

// parseKlineEvent reports ok=false for messages that are not closed klines.
func parseKlineEvent(data []byte) (core.Candlestick, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return core.Candlestick{}, false, nil
	}
	if ev.EventType != "kline" || !ev.Kline.Closed {
		return core.Candlestick{}, false, nil
	}
	k := ev.Kline
	if k.OpenTime == 0 || k.CloseTime == 0 {
		return core.Candlestick{}, false, errors.New("kline event without bucket times")
	}
	c := core.Candlestick{
		OpenTime:   time.UnixMilli(k.OpenTime).UTC(),
		CloseTime:  time.UnixMilli(k.CloseTime).UTC(),
		Open:       k.Open,
		High:       k.High,
		Low:        k.Low,
		Close:      k.Close,
		BuyVolume:  k.TakerBuyQuoteVol,
		SellVolume: k.QuoteVolume.Sub(k.TakerBuyQuoteVol),
	}
	if err := c.Validate(); err != nil {
		return core.Candlestick{}, false, err
	}
	return c, true, nil
}
