package market

import (
	"math"
	"sort"
	"time"
)

// Bar is a single OHLCV observation for one instrument. Bars are immutable
// once loaded; all downstream series are derived copies.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered-by-timestamp bar sequence for one instrument.
type Series struct {
	Symbol   string
	Interval Interval
	Bars     []Bar
}

// NewSeries builds a Series, sorting bars by timestamp (stable for determinism).
func NewSeries(symbol string, interval Interval, bars []Bar) *Series {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Series{Symbol: symbol, Interval: interval, Bars: sorted}
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// Empty reports whether the series has no usable bars.
func (s *Series) Empty() bool { return len(s.Bars) == 0 }

// Start returns the timestamp of the first bar, zero time if empty.
func (s *Series) Start() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[0].Timestamp
}

// End returns the timestamp of the last bar, zero time if empty.
func (s *Series) End() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[len(s.Bars)-1].Timestamp
}

// Closes returns the close prices as a slice.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Times returns the bar timestamps as a slice.
func (s *Series) Times() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Timestamp
	}
	return out
}

// LogReturns returns ln(close[t]/close[t-1]) with index 0 fixed at 0.
// Non-positive closes yield a 0 return at that index rather than NaN/Inf.
func (s *Series) LogReturns() []float64 {
	out := make([]float64, len(s.Bars))
	for t := 1; t < len(s.Bars); t++ {
		prev := s.Bars[t-1].Close
		cur := s.Bars[t].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		out[t] = math.Log(cur / prev)
	}
	return out
}

// SliceBefore returns a copy restricted to bars with start <= t < end.
// This is the training-window primitive: walk-forward optimization never
// sees bars outside the slice it is handed.
func (s *Series) SliceBefore(start, end time.Time) *Series {
	var bars []Bar
	for _, b := range s.Bars {
		if !b.Timestamp.Before(start) && b.Timestamp.Before(end) {
			bars = append(bars, b)
		}
	}
	return &Series{Symbol: s.Symbol, Interval: s.Interval, Bars: bars}
}

// IndexRange returns the bar index range [lo, hi) covering start < t <= end,
// the out-of-sample slice convention.
func (s *Series) IndexRange(start, end time.Time) (lo, hi int) {
	lo = len(s.Bars)
	for i, b := range s.Bars {
		if b.Timestamp.After(start) {
			lo = i
			break
		}
	}
	hi = lo
	for i := lo; i < len(s.Bars); i++ {
		if s.Bars[i].Timestamp.After(end) {
			break
		}
		hi = i + 1
	}
	return lo, hi
}
