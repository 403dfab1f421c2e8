// Package download copies candlestick history from an exchange into a store.Sink.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"trady/internal/core"
	"trady/internal/exchange"
	"trady/internal/store"
)

const (
	DefaultBatchSize    = 500
	DefaultRetryInitial = 500 * time.Millisecond
)

// Source is the part of exchange.Gateway the downloader needs.
type Source interface {
	Name() string
	CandlesticksIterator(symbol core.Symbol, interval time.Duration, start, end time.Time) *exchange.Iterator
}

type Options struct {
	BatchSize    int
	RetryInitial time.Duration
	// RetryMaxElapsed bounds the total retry time; zero retries until MaxRetries or cancellation.
	RetryMaxElapsed time.Duration
	// MaxRetries caps restarts after upstream failures; zero means no cap.
	MaxRetries int
	Clock      clock.Clock
}

// Job downloads [Start, End) of one series.
type Job struct {
	Symbol   core.Symbol
	Interval time.Duration
	Start    time.Time
	End      time.Time
}

type Result struct {
	Saved    int
	Attempts int
	// Resumed is set when stored data moved the start forward.
	Resumed       bool
	LastCloseTime time.Time
}

type Downloader struct {
	src  Source
	sink store.Sink
	opts Options
}

func New(src Source, sink store.Sink, opts Options) (*Downloader, error) {
	if src == nil || sink == nil {
		return nil, errors.New("download source and sink are required")
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < 0 {
		return nil, core.NewConfigurationError("download batch size must be >= 1, got %d", opts.BatchSize)
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = DefaultRetryInitial
	}
	if opts.RetryMaxElapsed < 0 {
		return nil, core.NewConfigurationError("download retry max elapsed must be >= 0, got %s", opts.RetryMaxElapsed)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Downloader{src: src, sink: sink, opts: opts}, nil
}

func (j Job) validate() error {
	if j.Symbol.Name() == "" {
		return core.NewConfigurationError("download symbol required")
	}
	if j.Interval <= 0 {
		return core.NewConfigurationError("download interval must be positive, got %s", j.Interval)
	}
	if j.End.IsZero() {
		return core.NewConfigurationError("download end time required")
	}
	if !j.Start.IsZero() && !j.Start.Before(j.End) {
		return core.NewConfigurationError("download start %s must be before end %s", j.Start.Format(time.RFC3339), j.End.Format(time.RFC3339))
	}
	return nil
}

// Run drains the series into the sink in batches. An upstream failure flushes what was
// read, then a fresh iterator restarts from the last stored close time under exponential
// backoff. Configuration and storage errors end the run immediately.
func (d *Downloader) Run(ctx context.Context, job Job) (Result, error) {
	if err := job.validate(); err != nil {
		return Result{}, err
	}
	key := store.SeriesKey{Exchange: d.src.Name(), Symbol: job.Symbol, Interval: job.Interval}
	var res Result

	operation := func() error {
		res.Attempts++
		return d.attempt(ctx, key, job, &res)
	}
	notify := func(err error, wait time.Duration) {
		log.Printf(
			"level=WARN event=download_retry series=%q attempt=%d saved=%d wait=%s err=%q",
			key.String(),
			res.Attempts,
			res.Saved,
			wait,
			err.Error(),
		)
	}
	err := backoff.RetryNotifyWithTimer(operation, d.policy(ctx), notify, &clockTimer{clock: d.opts.Clock})
	if err != nil {
		return res, err
	}
	log.Printf(
		"level=INFO event=download_done series=%q saved=%d attempts=%d last_close=%q",
		key.String(),
		res.Saved,
		res.Attempts,
		res.LastCloseTime.Format(time.RFC3339Nano),
	)
	return res, nil
}

func (d *Downloader) policy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.opts.RetryInitial
	exp.MaxElapsedTime = d.opts.RetryMaxElapsed
	exp.Clock = d.opts.Clock
	exp.Reset()
	var b backoff.BackOff = exp
	if d.opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(exp, uint64(d.opts.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

func (d *Downloader) attempt(ctx context.Context, key store.SeriesKey, job Job, res *Result) error {
	start := job.Start
	last, ok, err := d.sink.LastCloseTime(ctx, key)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("resume %s: %w", key, err))
	}
	if ok {
		res.LastCloseTime = last
		if last.After(start) {
			start = last
			res.Resumed = true
		}
	}
	if !start.Before(job.End) {
		return nil
	}
	if res.Attempts == 1 {
		log.Printf(
			"level=INFO event=download_start series=%q start=%q end=%q resumed=%t",
			key.String(),
			start.Format(time.RFC3339Nano),
			job.End.Format(time.RFC3339Nano),
			res.Resumed,
		)
	}

	it := d.src.CandlesticksIterator(job.Symbol, job.Interval, start, job.End)
	batch := make([]core.Candlestick, 0, d.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := d.sink.Save(ctx, key, batch); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
		res.Saved += len(batch)
		res.LastCloseTime = batch[len(batch)-1].CloseTime
		batch = batch[:0]
		return nil
	}
	for {
		c, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := flush(); err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		if err != nil {
			if flushErr := flush(); flushErr != nil {
				return backoff.Permanent(errors.Join(err, flushErr))
			}
			if !retryable(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !c.OpenTime.Before(job.End) {
			continue
		}
		batch = append(batch, c)
		if len(batch) >= d.opts.BatchSize {
			if err := flush(); err != nil {
				return backoff.Permanent(err)
			}
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, core.ErrConfiguration) || errors.Is(err, core.ErrUnknownSymbol) {
		return false
	}
	return true
}

// clockTimer drives backoff waits from a clock.Clock.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(duration time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(duration)
		return
	}
	t.timer.Reset(duration)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
