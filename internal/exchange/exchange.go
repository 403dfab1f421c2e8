package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trady/internal/core"
)

// Exchange is implemented once per supported venue.
type Exchange interface {
	Name() string
	Datetime(ctx context.Context) (time.Time, error)
	Symbols(ctx context.Context) ([]core.Symbol, error)
	// CandlesticksPage performs one bounded request. Candlesticks come back in ascending open time
	// and never number more than req.Number.
	CandlesticksPage(ctx context.Context, req PageRequest) ([]core.Candlestick, error)
	RulesMap(ctx context.Context) (map[string]core.Rules, error)
	Balance(ctx context.Context, asset string) (core.Balance, error)
	Positions(ctx context.Context) (map[string]core.Position, error)
	OpenPosition(ctx context.Context, req OpenRequest) (core.Position, error)
	ClosePosition(ctx context.Context, position core.Position) error
}

// StatsProvider is implemented by venues exposing rolling 24h statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (map[string]core.SymbolStats, error)
}

// PageFetcher is the part of Exchange the candlestick iterator depends on.
type PageFetcher interface {
	CandlesticksPage(ctx context.Context, req PageRequest) ([]core.Candlestick, error)
}

// PageRequest asks for up to Number candlesticks opening at or after Start.
// Zero Start or End leave that side of the range open.
type PageRequest struct {
	Symbol   core.Symbol
	Interval time.Duration
	Number   int
	Start    time.Time
	End      time.Time
}

// OpenRequest opens a market position. Negative Size opens a short.
// TakeProfit and StopLoss are optional close-position trigger prices.
type OpenRequest struct {
	Symbol     core.Symbol
	Size       decimal.Decimal
	Leverage   int
	TakeProfit decimal.NullDecimal
	StopLoss   decimal.NullDecimal
	// Price is an optional reference price; when set the notional is validated too.
	Price decimal.NullDecimal
}

// Settings configure the venue-independent candlestick operations.
type Settings struct {
	CandlesticksMaxNumber        int
	CandlesticksIteratorThrottle time.Duration
}

func (s Settings) Validate() error {
	if s.CandlesticksMaxNumber < 1 {
		return core.NewConfigurationError("candlesticks max number must be >= 1, got %d", s.CandlesticksMaxNumber)
	}
	if s.CandlesticksIteratorThrottle < 0 {
		return core.NewConfigurationError("candlesticks iterator throttle must be >= 0, got %s", s.CandlesticksIteratorThrottle)
	}
	return nil
}
