package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trady/internal/core"
)

// SeriesKey names one candlestick series.
type SeriesKey struct {
	Exchange string
	Symbol   core.Symbol
	Interval time.Duration
}

func (k SeriesKey) String() string {
	return k.Exchange + "/" + k.Symbol.Name() + "/" + IntervalLabel(k.Interval)
}

// Sink persists candlesticks. Save receives batches in ascending open time.
type Sink interface {
	Save(ctx context.Context, key SeriesKey, candles []core.Candlestick) error
	// LastCloseTime reports the close time of the newest stored candlestick.
	LastCloseTime(ctx context.Context, key SeriesKey) (time.Time, bool, error)
	Close() error
}

// IntervalLabel renders an interval as 1m, 4h, 1d and so on.
func IntervalLabel(interval time.Duration) string {
	switch {
	case interval <= 0:
		return interval.String()
	case interval%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", interval/(24*time.Hour))
	case interval%time.Hour == 0:
		return fmt.Sprintf("%dh", interval/time.Hour)
	case interval%time.Minute == 0:
		return fmt.Sprintf("%dm", interval/time.Minute)
	default:
		return strings.ReplaceAll(interval.String(), ".", "_")
	}
}

// Manifest summarizes what a JSONL series directory holds.
type Manifest struct {
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	Interval      string    `json:"interval"`
	FirstOpenTime time.Time `json:"first_open_time"`
	LastOpenTime  time.Time `json:"last_open_time"`
	LastCloseTime time.Time `json:"last_close_time"`
	Count         int64     `json:"count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func readManifest(path string) (Manifest, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, true, nil
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return fsyncDirBestEffort(dir, path)
}

func fsyncDirBestEffort(dir, path string) error {
	d, err := os.Open(dir)
	if err != nil {
		log.Printf(
			"level=WARN event=store_dir_fsync_skipped reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
		return nil
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Printf(
			"level=WARN event=store_dir_fsync_failed reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
	}
	return nil
}
