package market

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog/log"
)

// barRecord is the on-disk Parquet schema for cached bar data.
type barRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ParquetCache persists bar series as Parquet files at
// <DataDir>/<interval>/<SYMBOL>.parquet, so repeated optimization runs over
// the same universe skip the upstream provider.
type ParquetCache struct {
	DataDir string
}

// NewParquetCache creates a cache rooted at dataDir.
func NewParquetCache(dataDir string) *ParquetCache {
	return &ParquetCache{DataDir: dataDir}
}

func (c *ParquetCache) path(symbol string, interval Interval) string {
	return filepath.Join(c.DataDir, string(interval), symbol+".parquet")
}

// Write stores a series, replacing any existing file for the symbol+interval.
func (c *ParquetCache) Write(s *Series) error {
	if s.Empty() {
		return nil
	}
	path := c.path(s.Symbol, s.Interval)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	records := make([]barRecord, len(s.Bars))
	for i, b := range s.Bars {
		records[i] = barRecord{
			Symbol:    s.Symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// Read loads a cached series. A missing file returns (nil, nil) so callers
// can fall through to the upstream provider.
func (c *ParquetCache) Read(symbol string, interval Interval) (*Series, error) {
	path := c.path(symbol, interval)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	records, err := parquet.ReadFile[barRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	bars := make([]Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, Bar{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return NewSeries(symbol, interval, bars), nil
}

// Load implements DataSource over the cache. Symbols without a cached file
// are skipped with a warning so a partial cache still produces a run.
func (c *ParquetCache) Load(ctx context.Context, symbols []string, start, end time.Time, interval Interval) (map[string]*Series, error) {
	out := make(map[string]*Series, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := c.Read(symbol, interval)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("parquet cache: unreadable file, skipping symbol")
			continue
		}
		if s == nil {
			log.Warn().Str("symbol", symbol).Msg("parquet cache: no cached data, skipping symbol")
			continue
		}
		var bars []Bar
		for _, b := range s.Bars {
			if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
				bars = append(bars, b)
			}
		}
		if len(bars) == 0 {
			continue
		}
		out[symbol] = NewSeries(symbol, interval, bars)
	}
	return out, nil
}
