package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trady/internal/core"
)

var quoteAssets = []string{"USDT", "USDC", "BUSD", "FDUSD", "BTC", "ETH"}

// parseSymbol accepts BTC/USDT, BTC-USDT or BTCUSDT. The last form is split on a
// known quote asset suffix.
func parseSymbol(raw string) (core.Symbol, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return core.Symbol{}, core.NewConfigurationError("symbol required")
	}
	if base, quote, ok := strings.Cut(strings.ReplaceAll(raw, "-", "/"), "/"); ok {
		if base == "" || quote == "" {
			return core.Symbol{}, core.NewConfigurationError("invalid symbol %q", raw)
		}
		return core.NewSymbol(base, quote), nil
	}
	for _, quote := range quoteAssets {
		if base, ok := strings.CutSuffix(raw, quote); ok && base != "" {
			return core.NewSymbol(base, quote), nil
		}
	}
	return core.Symbol{}, core.NewConfigurationError("cannot split symbol %q, use BASE/QUOTE", raw)
}

// parseInterval reads Go durations plus a day suffix, e.g. 15m, 4h, 1d.
func parseInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 {
			return 0, core.NewConfigurationError("invalid interval %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, core.NewConfigurationError("invalid interval %q", raw)
	}
	return d, nil
}

func parseOptionalDecimal(name, raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, core.NewConfigurationError("invalid -%s %q: %v", name, raw, err)
	}
	return core.Some(d), nil
}

func formatNull(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.String()
}

func resolveWindow(now time.Time, months int, startRaw, endRaw string) (time.Time, time.Time, error) {
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" {
		if months < 1 {
			return time.Time{}, time.Time{}, errors.New("months must be >= 1")
		}
		end := now.UTC()
		return end.AddDate(0, -months, 0), end, nil
	}
	if startRaw == "" {
		return time.Time{}, time.Time{}, errors.New("start required when end is set")
	}
	start, startDateOnly, err := parseRangeTime(startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end := now.UTC()
	if endRaw != "" {
		var endDateOnly bool
		end, endDateOnly, err = parseRangeTime(endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		if endDateOnly {
			end = end.Add(24 * time.Hour)
		}
	}
	if startDateOnly {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start.UTC(), end.UTC(), nil
}

func parseRangeTime(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, errors.New("empty")
	}
	if len(raw) == len("2006-01-02") {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, errors.New("unsupported time format")
}
