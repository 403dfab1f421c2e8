package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Symbol identifies an instrument. Two symbols are the same instrument iff their names match.
type Symbol struct {
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
}

func NewSymbol(base, quote string) Symbol {
	return Symbol{BaseAsset: base, QuoteAsset: quote}
}

func (s Symbol) Name() string { return s.BaseAsset + s.QuoteAsset }

func (s Symbol) String() string { return s.Name() }

func (s Symbol) Equal(other Symbol) bool { return s.Name() == other.Name() }

func (s Symbol) Is(name string) bool { return s.Name() == name }

// Candlestick is one OHLC bucket. Volumes are denominated in the quote asset.
type Candlestick struct {
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	BuyVolume  decimal.Decimal `json:"buy_volume"`
	SellVolume decimal.Decimal `json:"sell_volume"`
}

// Validate checks low <= min(open, close) <= max(open, close) <= high and non-negative volumes.
func (c Candlestick) Validate() error {
	if c.CloseTime.Before(c.OpenTime) {
		return fmt.Errorf("close time %s before open time %s", c.CloseTime.Format(time.RFC3339), c.OpenTime.Format(time.RFC3339))
	}
	bodyLow := decimal.Min(c.Open, c.Close)
	bodyHigh := decimal.Max(c.Open, c.Close)
	if c.Low.Cmp(bodyLow) > 0 {
		return fmt.Errorf("low %s above body %s", c.Low, bodyLow)
	}
	if c.High.Cmp(bodyHigh) < 0 {
		return fmt.Errorf("high %s below body %s", c.High, bodyHigh)
	}
	if c.BuyVolume.Sign() < 0 || c.SellVolume.Sign() < 0 {
		return fmt.Errorf("negative volume buy=%s sell=%s", c.BuyVolume, c.SellVolume)
	}
	return nil
}

func (c Candlestick) Change() decimal.Decimal { return c.Close.Sub(c.Open) }

func (c Candlestick) ChangePercent() decimal.Decimal { return c.percentOfOpen(c.Change()) }

func (c Candlestick) Range() decimal.Decimal { return c.High.Sub(c.Low) }

func (c Candlestick) RangePercent() decimal.Decimal { return c.percentOfOpen(c.Range()) }

func (c Candlestick) HighShadow() decimal.Decimal {
	return c.High.Sub(decimal.Max(c.Open, c.Close))
}

func (c Candlestick) HighShadowPercent() decimal.Decimal { return c.percentOfOpen(c.HighShadow()) }

func (c Candlestick) LowShadow() decimal.Decimal {
	return decimal.Min(c.Open, c.Close).Sub(c.Low)
}

func (c Candlestick) LowShadowPercent() decimal.Decimal { return c.percentOfOpen(c.LowShadow()) }

func (c Candlestick) Volume() decimal.Decimal { return c.BuyVolume.Add(c.SellVolume) }

// BuyPressure is the taker-buy share of the total volume, in [0, 1].
func (c Candlestick) BuyPressure() decimal.Decimal {
	volume := c.Volume()
	if volume.IsZero() {
		return decimal.Zero
	}
	return c.BuyVolume.Div(volume)
}

// percentOfOpen is in percentage points: a 5% move is 5, not 0.05.
func (c Candlestick) percentOfOpen(v decimal.Decimal) decimal.Decimal {
	if c.Open.IsZero() {
		return decimal.Zero
	}
	return v.Div(c.Open).Mul(hundred)
}

type Balance struct {
	Asset      string          `json:"asset"`
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

func (b Balance) Total() decimal.Decimal { return b.Realized.Add(b.Unrealized) }

// Position is an open derivatives position. Size is signed: positive long, negative short.
type Position struct {
	Symbol   string          `json:"symbol"`
	Size     decimal.Decimal `json:"size"`
	Leverage int             `json:"leverage"`
	PnL      decimal.Decimal `json:"pnl"`
}

func (p Position) IsLong() bool { return p.Size.Sign() > 0 }

func (p Position) IsShort() bool { return p.Size.Sign() < 0 }

func (p Position) IsFlat() bool { return p.Size.IsZero() }

// SymbolStats holds rolling 24h statistics, volume in quote asset.
type SymbolStats struct {
	Volume decimal.Decimal `json:"volume"`
}
