package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DataSource provides historical bar data. Implementations must return an
// absent map entry (not an error) for symbols they have no data for, so a
// multi-symbol load degrades per symbol instead of failing the batch.
type DataSource interface {
	Load(ctx context.Context, symbols []string, start, end time.Time, interval Interval) (map[string]*Series, error)
}

// ---------------------------------------------------------------------------
// InMemorySource
// ---------------------------------------------------------------------------

// InMemorySource holds bar data in memory, for tests and synthetic universes.
type InMemorySource struct {
	series map[string]*Series
}

// NewInMemorySource creates an empty in-memory data source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{series: make(map[string]*Series)}
}

// Add registers a series under its symbol, replacing any existing entry.
func (src *InMemorySource) Add(s *Series) {
	src.series[s.Symbol] = s
}

// Load returns time-filtered copies of the requested series.
func (src *InMemorySource) Load(_ context.Context, symbols []string, start, end time.Time, interval Interval) (map[string]*Series, error) {
	out := make(map[string]*Series, len(symbols))
	for _, sym := range symbols {
		s, ok := src.series[sym]
		if !ok || s.Interval != interval {
			continue
		}
		var bars []Bar
		for _, b := range s.Bars {
			if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
				bars = append(bars, b)
			}
		}
		if len(bars) > 0 {
			out[sym] = &Series{Symbol: sym, Interval: interval, Bars: bars}
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// CSVSource
// ---------------------------------------------------------------------------

// CSVSource loads bar data from <Dir>/<SYMBOL>.csv files with a
// timestamp,open,high,low,close,volume header (column order and case are
// free). Prices are parsed as decimals and converted to float64 at the
// compute boundary. Gaps in price fields are forward-filled from the
// previous row.
type CSVSource struct {
	Dir string
}

// NewCSVSource creates a CSVSource rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

// Load reads the per-symbol CSV files. Missing or empty files produce an
// absent entry and a warning, never an error for the whole universe.
func (src *CSVSource) Load(ctx context.Context, symbols []string, start, end time.Time, interval Interval) (map[string]*Series, error) {
	out := make(map[string]*Series, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		path := filepath.Join(src.Dir, sym+".csv")
		bars, err := readBarCSV(path)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("csv source: skipping symbol")
			continue
		}
		var kept []Bar
		for _, b := range bars {
			if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
				kept = append(kept, b)
			}
		}
		if len(kept) > 0 {
			out[sym] = NewSeries(sym, interval, kept)
		}
	}
	return out, nil
}

func readBarCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	tsCol, ok := cols["timestamp"]
	if !ok {
		tsCol, ok = cols["date"]
	}
	if !ok {
		return nil, fmt.Errorf("%s: no timestamp column", path)
	}

	var bars []Bar
	var prev Bar
	havePrev := false

	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		ts, err := parseTimestamp(rec[tsCol])
		if err != nil {
			continue
		}
		bar := Bar{Timestamp: ts}
		bar.Open = priceField(rec, cols, "open", prev.Open, havePrev)
		bar.High = priceField(rec, cols, "high", prev.High, havePrev)
		bar.Low = priceField(rec, cols, "low", prev.Low, havePrev)
		bar.Close = priceField(rec, cols, "close", prev.Close, havePrev)
		bar.Volume = priceField(rec, cols, "volume", 0, false)
		if bar.Close <= 0 {
			continue
		}
		bars = append(bars, bar)
		prev = bar
		havePrev = true
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no usable rows", path)
	}
	return bars, nil
}

// priceField parses one numeric column via decimal for exactness, falling
// back to the previous bar's value (forward fill) when blank or malformed.
func priceField(rec []string, cols map[string]int, name string, fallback float64, haveFallback bool) float64 {
	idx, ok := cols[name]
	if !ok || idx >= len(rec) {
		if haveFallback {
			return fallback
		}
		return 0
	}
	raw := strings.TrimSpace(rec[idx])
	if raw == "" {
		if haveFallback {
			return fallback
		}
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		if haveFallback {
			return fallback
		}
		return 0
	}
	return d.InexactFloat64()
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
