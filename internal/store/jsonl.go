package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"trady/internal/core"
)

const (
	manifestName = "manifest.json"
	dateLayout   = "2006-01-02"
)

// JSONLWriter stores each series under <root>/<symbol>/<interval>/ as one file per UTC
// day, one candlestick per line. Candlesticks not newer than the last stored one are
// skipped, so overlapping batches after a resume are harmless.
type JSONLWriter struct {
	root string
	now  func() time.Time

	mu     sync.Mutex
	series map[SeriesKey]*seriesWriter
}

type seriesWriter struct {
	dir         string
	currentDate string
	currentFile *os.File
	manifest    Manifest
	hasLast     bool
}

func NewJSONLWriter(root string) (*JSONLWriter, error) {
	if strings.TrimSpace(root) == "" {
		return nil, core.NewConfigurationError("jsonl output dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &JSONLWriter{
		root:   root,
		now:    time.Now,
		series: make(map[SeriesKey]*seriesWriter),
	}, nil
}

// SeriesDir is where the files of key live.
func (w *JSONLWriter) SeriesDir(key SeriesKey) string {
	return SeriesDir(w.root, key)
}

// SeriesDir is the directory of key under root.
func SeriesDir(root string, key SeriesKey) string {
	return filepath.Join(root, key.Symbol.Name(), IntervalLabel(key.Interval))
}

func (w *JSONLWriter) Save(ctx context.Context, key SeriesKey, candles []core.Candlestick) error {
	if len(candles) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.seriesLocked(key)
	if err != nil {
		return err
	}
	written := 0
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.hasLast && !c.CloseTime.After(s.manifest.LastCloseTime) {
			continue
		}
		if err := s.write(c); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		if !s.hasLast {
			s.manifest.FirstOpenTime = c.OpenTime.UTC()
		}
		s.manifest.LastOpenTime = c.OpenTime.UTC()
		s.manifest.LastCloseTime = c.CloseTime.UTC()
		s.manifest.Count++
		s.hasLast = true
		written++
	}
	if written == 0 {
		return nil
	}
	if err := s.currentFile.Sync(); err != nil {
		return err
	}
	s.manifest.UpdatedAt = w.now().UTC()
	return writeJSONAtomic(filepath.Join(s.dir, manifestName), s.manifest)
}

func (w *JSONLWriter) LastCloseTime(_ context.Context, key SeriesKey) (time.Time, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.seriesLocked(key)
	if err != nil {
		return time.Time{}, false, err
	}
	return s.manifest.LastCloseTime, s.hasLast, nil
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for key, s := range w.series {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	w.series = make(map[SeriesKey]*seriesWriter)
	return errors.Join(errs...)
}

// seriesLocked loads the state of key on first use. Lines are synced before the
// manifest is replaced, so the files win whenever they hold something newer.
func (w *JSONLWriter) seriesLocked(key SeriesKey) (*seriesWriter, error) {
	if s, ok := w.series[key]; ok {
		return s, nil
	}
	dir := w.SeriesDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	m, ok, err := readManifest(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	last, found, err := LastCandlestick(dir)
	if err != nil {
		return nil, err
	}
	if found && (!ok || last.CloseTime.After(m.LastCloseTime)) {
		m, err = rebuildManifest(dir, key)
		if err != nil {
			return nil, err
		}
		m.UpdatedAt = w.now().UTC()
		if err := writeJSONAtomic(filepath.Join(dir, manifestName), m); err != nil {
			return nil, err
		}
		log.Printf("level=WARN event=manifest_rebuilt dir=%q count=%d last_close=%q", dir, m.Count, m.LastCloseTime.Format(time.RFC3339Nano))
		ok = true
	}
	if !ok {
		m = Manifest{
			Exchange: key.Exchange,
			Symbol:   key.Symbol.Name(),
			Interval: IntervalLabel(key.Interval),
		}
	}
	s := &seriesWriter{dir: dir, manifest: m, hasLast: !m.LastCloseTime.IsZero()}
	w.series[key] = s
	return s, nil
}

// rebuildManifest recomputes the summary from every stored line.
func rebuildManifest(dir string, key SeriesKey) (Manifest, error) {
	m := Manifest{
		Exchange: key.Exchange,
		Symbol:   key.Symbol.Name(),
		Interval: IntervalLabel(key.Interval),
	}
	items, err := ReadAll(dir)
	if err != nil {
		return Manifest{}, err
	}
	for _, c := range items {
		if m.Count > 0 && !c.CloseTime.After(m.LastCloseTime) {
			continue
		}
		if m.Count == 0 {
			m.FirstOpenTime = c.OpenTime.UTC()
		}
		m.LastOpenTime = c.OpenTime.UTC()
		m.LastCloseTime = c.CloseTime.UTC()
		m.Count++
	}
	return m, nil
}

func (s *seriesWriter) write(c core.Candlestick) error {
	date := c.OpenTime.UTC().Format(dateLayout)
	if date != s.currentDate || s.currentFile == nil {
		if err := s.rotate(date); err != nil {
			return err
		}
	}
	line, err := json.Marshal(c)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.currentFile.Write(line)
	return err
}

func (s *seriesWriter) rotate(date string) error {
	if err := s.close(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.currentDate = date
	s.currentFile = f
	return nil
}

func (s *seriesWriter) close() error {
	if s.currentFile == nil {
		return nil
	}
	err := s.currentFile.Close()
	s.currentFile = nil
	s.currentDate = ""
	return err
}

// JSONLReader replays candlesticks from a file or from every .jsonl file of a
// directory in name order.
type JSONLReader struct {
	paths   []string
	index   int
	line    int
	file    *os.File
	scanner *bufio.Scanner
}

func NewJSONLReader(path string) (*JSONLReader, error) {
	paths, err := resolveJSONLPaths(path)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no jsonl files found in %s", path)
	}
	return &JSONLReader{paths: paths}, nil
}

// Next returns io.EOF after the last line of the last file.
func (r *JSONLReader) Next() (core.Candlestick, error) {
	for {
		if r.scanner == nil {
			if err := r.openCurrent(); err != nil {
				return core.Candlestick{}, err
			}
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return core.Candlestick{}, err
			}
			_ = r.Close()
			r.index++
			continue
		}
		r.line++
		raw := strings.TrimSpace(r.scanner.Text())
		if raw == "" {
			continue
		}
		var c core.Candlestick
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return core.Candlestick{}, fmt.Errorf("%s:%d: %w", r.paths[r.index], r.line, err)
		}
		return c, nil
	}
}

func (r *JSONLReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.scanner = nil
	return err
}

func (r *JSONLReader) openCurrent() error {
	if r.index >= len(r.paths) {
		return io.EOF
	}
	file, err := os.Open(r.paths[r.index])
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	r.file = file
	r.scanner = scanner
	r.line = 0
	return nil
}

// ReadAll drains a reader. Mostly useful for small series and tests.
func ReadAll(path string) ([]core.Candlestick, error) {
	r, err := NewJSONLReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []core.Candlestick
	for {
		c, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

// ReadWindow returns the candlesticks of a series directory with open time in
// [start, end). A missing directory is an empty series.
func ReadWindow(dir string, start, end time.Time) ([]core.Candlestick, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	paths, err := resolveJSONLPaths(dir)
	if err != nil {
		return nil, err
	}
	var out []core.Candlestick
	for _, path := range paths {
		// each file holds one UTC day of open times
		day, err := time.Parse(dateLayout, strings.TrimSuffix(filepath.Base(path), ".jsonl"))
		if err == nil && (!day.Before(end) || !day.Add(24*time.Hour).After(start)) {
			continue
		}
		items, err := ReadAll(path)
		if err != nil {
			return nil, err
		}
		for _, c := range items {
			if !c.OpenTime.Before(start) && c.OpenTime.Before(end) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// LastCandlestick returns the newest candlestick stored in a series directory.
// Empty trailing files are skipped.
func LastCandlestick(dir string) (core.Candlestick, bool, error) {
	paths, err := resolveJSONLPaths(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return core.Candlestick{}, false, nil
		}
		return core.Candlestick{}, false, err
	}
	for i := len(paths) - 1; i >= 0; i-- {
		items, err := ReadAll(paths[i])
		if err != nil {
			return core.Candlestick{}, false, err
		}
		if len(items) > 0 {
			return items[len(items)-1], true, nil
		}
	}
	return core.Candlestick{}, false, nil
}

func resolveJSONLPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jsonl") {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

var _ Sink = (*JSONLWriter)(nil)
