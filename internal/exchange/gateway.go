package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"trady/internal/core"
)

// Gateway exposes the public exchange contract on top of an Exchange adapter.
// It owns the venue-independent behaviour: page size bounds, chained pagination,
// and rule validation of new positions.
type Gateway struct {
	ex       Exchange
	settings Settings
	clock    clock.Clock

	mu    sync.Mutex
	rules map[string]core.Rules
}

func NewGateway(ex Exchange, settings Settings) (*Gateway, error) {
	if ex == nil {
		return nil, errors.New("exchange is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Gateway{ex: ex, settings: settings, clock: clock.New()}, nil
}

// SetClock replaces the clock used for iterator throttling.
func (g *Gateway) SetClock(clk clock.Clock) {
	if clk == nil {
		clk = clock.New()
	}
	g.clock = clk
}

func (g *Gateway) Name() string { return g.ex.Name() }

func (g *Gateway) Settings() Settings { return g.settings }

func (g *Gateway) Datetime(ctx context.Context) (time.Time, error) {
	return g.ex.Datetime(ctx)
}

func (g *Gateway) Symbols(ctx context.Context) ([]core.Symbol, error) {
	return g.ex.Symbols(ctx)
}

type CandlesticksOptions struct {
	// Number defaults to the configured maximum when zero.
	Number int
	Start  time.Time
	End    time.Time
}

// Candlesticks performs a single page request. The latest candlesticks are returned
// unless Start or End are set.
func (g *Gateway) Candlesticks(ctx context.Context, symbol core.Symbol, interval time.Duration, opts CandlesticksOptions) ([]core.Candlestick, error) {
	number := opts.Number
	if number == 0 {
		number = g.settings.CandlesticksMaxNumber
	}
	if number < 1 || number > g.settings.CandlesticksMaxNumber {
		return nil, core.NewConfigurationError("candlesticks number must be between 1 and %d, got %d", g.settings.CandlesticksMaxNumber, number)
	}
	return g.ex.CandlesticksPage(ctx, PageRequest{
		Symbol:   symbol,
		Interval: interval,
		Number:   number,
		Start:    opts.Start,
		End:      opts.End,
	})
}

// CandlesticksIterator chains page requests to cover [start, end).
func (g *Gateway) CandlesticksIterator(symbol core.Symbol, interval time.Duration, start, end time.Time) *Iterator {
	return newIterator(g.ex, g.clock, g.settings, symbol, interval, start, end)
}

// RulesMap returns rules for every symbol. The rules are cached until RefreshRules;
// callers get their own copy of the map.
func (g *Gateway) RulesMap(ctx context.Context) (map[string]core.Rules, error) {
	rules, err := g.cachedRules(ctx)
	if err != nil {
		return nil, err
	}
	return copyRules(rules), nil
}

func (g *Gateway) Rules(ctx context.Context, symbol core.Symbol) (core.Rules, error) {
	rules, err := g.cachedRules(ctx)
	if err != nil {
		return core.Rules{}, err
	}
	r, ok := rules[symbol.Name()]
	if !ok {
		return core.Rules{}, fmt.Errorf("%w: %s", core.ErrUnknownSymbol, symbol.Name())
	}
	return r, nil
}

func (g *Gateway) cachedRules(ctx context.Context) (map[string]core.Rules, error) {
	g.mu.Lock()
	cached := g.rules
	g.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	fetched, err := g.ex.RulesMap(ctx)
	if err != nil {
		return nil, err
	}
	rules := copyRules(fetched)
	g.mu.Lock()
	g.rules = rules
	g.mu.Unlock()
	return rules, nil
}

func copyRules(in map[string]core.Rules) map[string]core.Rules {
	out := make(map[string]core.Rules, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (g *Gateway) RefreshRules() {
	g.mu.Lock()
	g.rules = nil
	g.mu.Unlock()
}

func (g *Gateway) Balance(ctx context.Context, asset string) (core.Balance, error) {
	return g.ex.Balance(ctx, asset)
}

func (g *Gateway) Positions(ctx context.Context) (map[string]core.Position, error) {
	return g.ex.Positions(ctx)
}

// Stats returns rolling statistics when the adapter supports them.
func (g *Gateway) Stats(ctx context.Context) (map[string]core.SymbolStats, error) {
	provider, ok := g.ex.(StatsProvider)
	if !ok {
		return nil, core.NewConfigurationError("%s does not provide symbol stats", g.ex.Name())
	}
	return provider.Stats(ctx)
}

// OpenPosition validates the request against the symbol rules and forwards the
// normalized request. Size and trigger prices are stepped down, never up.
func (g *Gateway) OpenPosition(ctx context.Context, req OpenRequest) (core.Position, error) {
	if req.Leverage == 0 {
		req.Leverage = 1
	}
	rules, err := g.Rules(ctx, req.Symbol)
	if err != nil {
		return core.Position{}, err
	}
	normalized, err := NormalizeOpenRequest(req, rules)
	if err != nil {
		return core.Position{}, err
	}
	return g.ex.OpenPosition(ctx, normalized)
}

func NormalizeOpenRequest(req OpenRequest, rules core.Rules) (OpenRequest, error) {
	size, err := rules.ValidateSize(req.Size)
	if err != nil {
		return req, err
	}
	if size.IsZero() {
		return req, core.NewConfigurationError("size %s is zero after stepping", req.Size)
	}
	req.Size = size
	if req.Leverage, err = rules.ValidateLeverage(req.Leverage); err != nil {
		return req, err
	}
	if req.TakeProfit.Valid {
		if req.TakeProfit.Decimal, err = rules.ValidatePrice(req.TakeProfit.Decimal); err != nil {
			return req, err
		}
	}
	if req.StopLoss.Valid {
		if req.StopLoss.Decimal, err = rules.ValidatePrice(req.StopLoss.Decimal); err != nil {
			return req, err
		}
	}
	if req.Price.Valid {
		if _, err := rules.ValidateNotional(req.Size.Abs().Mul(req.Price.Decimal)); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (g *Gateway) ClosePosition(ctx context.Context, position core.Position) error {
	if position.IsFlat() {
		return nil
	}
	return g.ex.ClosePosition(ctx, position)
}

// ClosePositions closes positions in order and stops at the first failure.
func (g *Gateway) ClosePositions(ctx context.Context, positions []core.Position) error {
	for _, p := range positions {
		if err := g.ClosePosition(ctx, p); err != nil {
			return fmt.Errorf("close %s: %w", p.Symbol, err)
		}
	}
	return nil
}

func (g *Gateway) CloseAllPositions(ctx context.Context) error {
	positions, err := g.ex.Positions(ctx)
	if err != nil {
		return err
	}
	list := make([]core.Position, 0, len(positions))
	for _, p := range positions {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return g.ClosePositions(ctx, list)
}
