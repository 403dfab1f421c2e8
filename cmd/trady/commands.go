package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trady/internal/core"
	"trady/internal/download"
	"trady/internal/exchange"
	"trady/internal/store"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func runTime(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("time").Parse(args); err != nil {
		return err
	}
	now, err := a.gw.Datetime(ctx)
	if err != nil {
		return err
	}
	fmt.Println(now.Format(time.RFC3339Nano))
	return nil
}

func runSymbols(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("symbols").Parse(args); err != nil {
		return err
	}
	symbols, err := a.gw.Symbols(ctx)
	if err != nil {
		return err
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Name() < symbols[j].Name() })
	for _, s := range symbols {
		fmt.Printf("%s base=%s quote=%s\n", s.Name(), s.BaseAsset, s.QuoteAsset)
	}
	return nil
}

func runRules(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("rules")
	symbolRaw := fs.String("symbol", "BTCUSDT", "symbol, e.g. BTCUSDT or BTC/USDT")
	if err := fs.Parse(args); err != nil {
		return err
	}
	symbol, err := parseSymbol(*symbolRaw)
	if err != nil {
		return err
	}
	rules, err := a.gw.Rules(ctx, symbol)
	if err != nil {
		return err
	}
	fmt.Printf(
		"rules symbol=%s size_min=%s size_max=%s size_step=%s notional_min=%s notional_max=%s leverage_max=%d price_min=%s price_max=%s price_step=%s\n",
		symbol.Name(),
		formatNull(rules.SizeMin),
		formatNull(rules.SizeMax),
		formatNull(rules.SizeStep),
		formatNull(rules.NotionalMin),
		formatNull(rules.NotionalMax),
		rules.LeverageMax,
		formatNull(rules.PriceMin),
		formatNull(rules.PriceMax),
		formatNull(rules.PriceStep),
	)
	return nil
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("stats")
	limit := fs.Int("limit", 20, "number of symbols to print, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stats, err := a.gw.Stats(ctx)
	if err != nil {
		return err
	}
	for i, row := range rankByVolume(stats) {
		if *limit > 0 && i >= *limit {
			break
		}
		fmt.Printf("%s volume=%s\n", row.symbol, row.volume.String())
	}
	return nil
}

type volumeRow struct {
	symbol string
	volume decimal.Decimal
}

func rankByVolume(stats map[string]core.SymbolStats) []volumeRow {
	rows := make([]volumeRow, 0, len(stats))
	for symbol, s := range stats {
		rows = append(rows, volumeRow{symbol: symbol, volume: s.Volume})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].volume.Cmp(rows[j].volume); c != 0 {
			return c > 0
		}
		return rows[i].symbol < rows[j].symbol
	})
	return rows
}

func runCandles(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("candles")
	symbolRaw := fs.String("symbol", "BTCUSDT", "symbol, e.g. BTCUSDT or BTC/USDT")
	intervalRaw := fs.String("interval", "1m", "interval, e.g. 1m/15m/1h/1d")
	number := fs.Int("number", 0, "latest candlesticks to print when no window is given, 0 for the configured max")
	months := fs.Int("months", 0, "fetch this many months back from now")
	startRaw := fs.String("start", "", "start time (YYYY-MM-DD or RFC3339, UTC)")
	endRaw := fs.String("end", "", "end time (YYYY-MM-DD or RFC3339, UTC), inclusive for date")
	outDir := fs.String("out-dir", "", "write date-rotated jsonl files under this dir")
	usePostgres := fs.Bool("postgres", false, "write to store.postgres_dsn")
	read := fs.Bool("read", false, "print the stored window from -out-dir or -postgres instead of fetching")
	if err := fs.Parse(args); err != nil {
		return err
	}
	symbol, err := parseSymbol(*symbolRaw)
	if err != nil {
		return err
	}
	interval, err := parseInterval(*intervalRaw)
	if err != nil {
		return err
	}

	if *startRaw == "" && *endRaw == "" && *months == 0 {
		if *outDir != "" || *usePostgres || *read {
			return core.NewConfigurationError("-out-dir, -postgres and -read need -start/-end or -months")
		}
		candles, err := a.gw.Candlesticks(ctx, symbol, interval, exchange.CandlesticksOptions{Number: *number})
		if err != nil {
			return err
		}
		return printCandles(os.Stdout, candles)
	}

	start, end, err := resolveWindow(time.Now().UTC(), *months, *startRaw, *endRaw)
	if err != nil {
		return core.NewConfigurationError("%v", err)
	}
	if *outDir != "" && *usePostgres {
		return core.NewConfigurationError("-out-dir and -postgres are exclusive")
	}
	if *read {
		key := store.SeriesKey{Exchange: a.gw.Name(), Symbol: symbol, Interval: interval}
		return a.readStored(ctx, os.Stdout, key, start, end, *outDir, *usePostgres)
	}
	if *outDir == "" && !*usePostgres {
		candles, err := exchange.Collect(ctx, a.gw.CandlesticksIterator(symbol, interval, start, end))
		if perr := printCandles(os.Stdout, candles); perr != nil {
			return perr
		}
		return err
	}
	return a.download(ctx, download.Job{Symbol: symbol, Interval: interval, Start: start, End: end}, *outDir, *usePostgres)
}

func (a *app) download(ctx context.Context, job download.Job, outDir string, usePostgres bool) error {
	var (
		sink    store.Sink
		lockDir string
	)
	if usePostgres {
		if a.cfg.Store.PostgresDSN == "" {
			return core.NewConfigurationError("store.postgres_dsn required for -postgres")
		}
		pg, err := store.OpenPostgres(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		sink = pg
		lockDir = a.cfg.Store.Dir
	} else {
		w, err := store.NewJSONLWriter(outDir)
		if err != nil {
			return err
		}
		sink = w
		lockDir = w.SeriesDir(store.SeriesKey{Exchange: a.gw.Name(), Symbol: job.Symbol, Interval: job.Interval})
	}
	defer func() {
		if err := sink.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close sink failed: %v\n", err)
		}
	}()

	lock, err := store.AcquireLock(lockDir, store.LockOptions{
		TakeoverEnabled: *a.cfg.Store.LockTakeover,
		StaleAfter:      time.Duration(a.cfg.Store.LockStaleSec) * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			fmt.Fprintf(os.Stderr, "release lock failed: %v\n", err)
		}
	}()

	d, err := download.New(a.gw, sink, download.Options{
		BatchSize:       a.cfg.Download.BatchSize,
		RetryInitial:    time.Duration(a.cfg.Download.RetryInitialMs) * time.Millisecond,
		RetryMaxElapsed: time.Duration(a.cfg.Download.RetryMaxElapsedSec) * time.Second,
	})
	if err != nil {
		return err
	}
	res, err := d.Run(ctx, job)
	if err != nil {
		return err
	}
	fmt.Printf(
		"done: symbol=%s interval=%s saved=%d attempts=%d resumed=%t last_close=%s\n",
		job.Symbol.Name(),
		store.IntervalLabel(job.Interval),
		res.Saved,
		res.Attempts,
		res.Resumed,
		res.LastCloseTime.Format(time.RFC3339Nano),
	)
	return nil
}

// readStored prints what a previous download saved for key with open time in [start, end).
func (a *app) readStored(ctx context.Context, out io.Writer, key store.SeriesKey, start, end time.Time, outDir string, usePostgres bool) error {
	var candles []core.Candlestick
	switch {
	case usePostgres:
		if a.cfg.Store.PostgresDSN == "" {
			return core.NewConfigurationError("store.postgres_dsn required for -postgres")
		}
		pg, err := store.OpenPostgres(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		candles, err = pg.Candlesticks(ctx, key, start, end)
		if err != nil {
			return err
		}
	case outDir != "":
		var err error
		candles, err = store.ReadWindow(store.SeriesDir(outDir, key), start, end)
		if err != nil {
			return err
		}
	default:
		return core.NewConfigurationError("-read needs -out-dir or -postgres")
	}
	log.Printf("level=INFO event=stored_read series=%q count=%d", key.String(), len(candles))
	return printCandles(out, candles)
}

func printCandles(w io.Writer, candles []core.Candlestick) error {
	enc := json.NewEncoder(w)
	for _, c := range candles {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return nil
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("watch")
	symbolRaw := fs.String("symbol", "BTCUSDT", "symbol, e.g. BTCUSDT or BTC/USDT")
	intervalRaw := fs.String("interval", "1m", "interval, e.g. 1m/15m/1h/1d")
	if err := fs.Parse(args); err != nil {
		return err
	}
	symbol, err := parseSymbol(*symbolRaw)
	if err != nil {
		return err
	}
	interval, err := parseInterval(*intervalRaw)
	if err != nil {
		return err
	}
	log.Printf("level=INFO event=watch_start symbol=%q interval=%q", symbol.Name(), store.IntervalLabel(interval))
	err = a.client.StreamCandlesticks(ctx, symbol, interval, func(c core.Candlestick) error {
		return printCandles(os.Stdout, []core.Candlestick{c})
	})
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

func runBalance(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("balance")
	asset := fs.String("asset", "USDT", "asset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := a.gw.Balance(ctx, *asset)
	if err != nil {
		return err
	}
	fmt.Printf("balance asset=%s realized=%s unrealized=%s total=%s\n", b.Asset, b.Realized, b.Unrealized, b.Total())
	return nil
}

func runPositions(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("positions").Parse(args); err != nil {
		return err
	}
	positions, err := a.gw.Positions(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(positions))
	for name := range positions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := positions[name]
		fmt.Printf("position symbol=%s size=%s leverage=%d pnl=%s\n", p.Symbol, p.Size, p.Leverage, p.PnL)
	}
	return nil
}

func runOpen(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("open")
	symbolRaw := fs.String("symbol", "", "symbol, e.g. BTCUSDT or BTC/USDT")
	sizeRaw := fs.String("size", "", "signed size in base asset, negative for short")
	leverage := fs.Int("leverage", 1, "leverage")
	takeProfitRaw := fs.String("take-profit", "", "optional take-profit trigger price")
	stopLossRaw := fs.String("stop-loss", "", "optional stop-loss trigger price")
	priceRaw := fs.String("price", "", "optional reference price for the notional check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	symbol, err := parseSymbol(*symbolRaw)
	if err != nil {
		return err
	}
	size, err := decimal.NewFromString(*sizeRaw)
	if err != nil {
		return core.NewConfigurationError("invalid -size %q: %v", *sizeRaw, err)
	}
	req := exchange.OpenRequest{Symbol: symbol, Size: size, Leverage: *leverage}
	if req.TakeProfit, err = parseOptionalDecimal("take-profit", *takeProfitRaw); err != nil {
		return err
	}
	if req.StopLoss, err = parseOptionalDecimal("stop-loss", *stopLossRaw); err != nil {
		return err
	}
	if req.Price, err = parseOptionalDecimal("price", *priceRaw); err != nil {
		return err
	}
	p, err := a.gw.OpenPosition(ctx, req)
	if err != nil {
		return err
	}
	log.Printf("level=INFO event=position_opened symbol=%q size=%q leverage=%d", p.Symbol, p.Size.String(), p.Leverage)
	fmt.Printf("opened symbol=%s size=%s leverage=%d\n", p.Symbol, p.Size, p.Leverage)
	return nil
}

func runClose(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("close")
	symbolRaw := fs.String("symbol", "", "symbol to close")
	all := fs.Bool("all", false, "close every open position")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *all {
		if *symbolRaw != "" {
			return core.NewConfigurationError("-symbol and -all are exclusive")
		}
		if err := a.gw.CloseAllPositions(ctx); err != nil {
			return err
		}
		log.Printf("level=INFO event=positions_closed scope=%q", "all")
		return nil
	}
	symbol, err := parseSymbol(*symbolRaw)
	if err != nil {
		return err
	}
	positions, err := a.gw.Positions(ctx)
	if err != nil {
		return err
	}
	p, ok := positions[symbol.Name()]
	if !ok {
		fmt.Printf("no open position symbol=%s\n", symbol.Name())
		return nil
	}
	if err := a.gw.ClosePosition(ctx, p); err != nil {
		return err
	}
	log.Printf("level=INFO event=positions_closed scope=%q size=%q", p.Symbol, p.Size.String())
	return nil
}
