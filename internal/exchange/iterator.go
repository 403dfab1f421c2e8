package exchange

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"trady/internal/core"
)

// Iterator walks [start, end) by chaining single-page requests. Pages are fetched lazily,
// sequentially, with the configured throttle between consecutive requests.
type Iterator struct {
	fetcher  PageFetcher
	clock    clock.Clock
	symbol   core.Symbol
	interval time.Duration
	end      time.Time
	max      int
	throttle time.Duration

	cursor time.Time
	page   []core.Candlestick
	pos    int
	pages  int
	done   bool
	err    error
}

func newIterator(fetcher PageFetcher, clk clock.Clock, settings Settings, symbol core.Symbol, interval time.Duration, start, end time.Time) *Iterator {
	if clk == nil {
		clk = clock.New()
	}
	return &Iterator{
		fetcher:  fetcher,
		clock:    clk,
		symbol:   symbol,
		interval: interval,
		end:      end,
		max:      settings.CandlesticksMaxNumber,
		throttle: settings.CandlesticksIteratorThrottle,
		cursor:   start,
	}
}

// Next returns the next candlestick, io.EOF once the range is covered, or the first
// fetch error. Errors are sticky: the iterator does not retry.
func (it *Iterator) Next(ctx context.Context) (core.Candlestick, error) {
	for {
		if it.pos < len(it.page) {
			c := it.page[it.pos]
			it.pos++
			return c, nil
		}
		if it.err != nil {
			return core.Candlestick{}, it.err
		}
		if it.done {
			return core.Candlestick{}, io.EOF
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			it.page, it.pos = nil, 0
			return core.Candlestick{}, err
		}
	}
}

func (it *Iterator) fetch(ctx context.Context) error {
	if it.max < 1 {
		return core.NewConfigurationError("candlesticks max number must be >= 1, got %d", it.max)
	}
	if it.pages > 0 && it.throttle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-it.clock.After(it.throttle):
		}
	}
	page, err := it.fetcher.CandlesticksPage(ctx, PageRequest{
		Symbol:   it.symbol,
		Interval: it.interval,
		Number:   it.max,
		Start:    it.cursor,
		End:      it.end,
	})
	if err != nil {
		return err
	}
	it.pages++
	it.page, it.pos = page, 0
	if len(page) < it.max {
		it.done = true
		return nil
	}
	last := page[len(page)-1]
	if !last.CloseTime.Before(it.end) {
		it.done = true
		return nil
	}
	it.cursor = last.CloseTime
	return nil
}

// Pages reports how many page requests succeeded so far.
func (it *Iterator) Pages() int { return it.pages }

// Cursor is the start time of the next page request.
func (it *Iterator) Cursor() time.Time { return it.cursor }

// Collect drains the iterator. On error the candlesticks produced before it are returned too.
func Collect(ctx context.Context, it *Iterator) ([]core.Candlestick, error) {
	var out []core.Candlestick
	for {
		c, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}
