package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxemileffort/ivybt/internal/market"
)

func dayTime(dayOffset int) time.Time {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(dayOffset) * 24 * time.Hour)
}

func seriesFromCloses(closes []float64) *market.Series {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Timestamp: dayTime(i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return market.NewSeries("TEST", market.Interval1d, bars)
}

func noisySeries(n int) *market.Series {
	closes := make([]float64, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			price *= math.Exp(0.02)
		} else {
			price *= math.Exp(-0.01)
		}
		closes[i] = price
	}
	return seriesFromCloses(closes)
}

func TestFixedSizer_ScalesSignal(t *testing.T) {
	s := NewFixedSizer(0.5)
	sizes := s.Size([]float64{1, -1, 0, 1}, nil)
	assert.Equal(t, []float64{0.5, -0.5, 0, 0.5}, sizes)
}

func TestVolatilitySizer_WarmupIsFlat(t *testing.T) {
	series := noisySeries(60)
	signal := make([]float64, 60)
	for i := range signal {
		signal[i] = 1
	}
	v := NewVolatilitySizer(0.10, 20)
	sizes := v.Size(signal, series)

	for i := 0; i < 20; i++ {
		assert.Equal(t, 0.0, sizes[i], "bar %d should be warm-up", i)
	}
	assert.NotEqual(t, 0.0, sizes[30])
}

func TestVolatilitySizer_TargetsVol(t *testing.T) {
	series := noisySeries(60)
	signal := make([]float64, 60)
	for i := range signal {
		signal[i] = 1
	}
	v := NewVolatilitySizer(0.10, 20)
	sizes := v.Size(signal, series)

	// Realized vol of the +2%/-1% alternation is well above 10% annualized,
	// so the sizer deleverages below 1.
	assert.Greater(t, sizes[40], 0.0)
	assert.Less(t, sizes[40], 1.0)
}

func TestVolatilitySizer_ZeroVolSizesToZero(t *testing.T) {
	// Flat closes: realized vol is exactly zero everywhere.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	series := seriesFromCloses(closes)
	signal := make([]float64, 40)
	for i := range signal {
		signal[i] = 1
	}
	sizes := NewVolatilitySizer(0.10, 10).Size(signal, series)
	for i, sz := range sizes {
		assert.Equal(t, 0.0, sz, "bar %d", i)
		assert.False(t, math.IsNaN(sz))
	}
}

func TestVolatilitySizer_LeverageCap(t *testing.T) {
	// Tiny realized vol against a huge target: weight must clip at the cap.
	closes := make([]float64, 40)
	price := 100.0
	for i := range closes {
		price *= math.Exp(0.0001 * float64(1+i%2))
		closes[i] = price
	}
	series := seriesFromCloses(closes)
	signal := make([]float64, 40)
	for i := range signal {
		signal[i] = 1
	}
	v := NewVolatilitySizer(5.0, 10)
	sizes := v.Size(signal, series)
	assert.InDelta(t, 2.0, sizes[30], 1e-12)
}

func TestKellySizer_RequiresMinPeriods(t *testing.T) {
	series := noisySeries(60)
	signal := make([]float64, 60)
	for i := range signal {
		signal[i] = 1
	}
	sizes := NewKellySizer().Size(signal, series)
	// unit returns accumulate from t=1; the first sized bar is t=MinPeriods.
	for i := 0; i < 20; i++ {
		assert.Equal(t, 0.0, sizes[i], "bar %d", i)
	}
}

func TestKellySizer_PositiveEdgeSizesLong(t *testing.T) {
	series := noisySeries(100)
	signal := make([]float64, 100)
	for i := range signal {
		signal[i] = 1
	}
	sizes := NewKellySizer().Size(signal, series)
	assert.Greater(t, sizes[80], 0.0)
	assert.LessOrEqual(t, sizes[80], 1.0)
}

func TestKellySizer_NegativeEdgeClipsToZero(t *testing.T) {
	// Steady decline: a long signal has negative edge, so Kelly clips at 0
	// instead of flipping the position.
	closes := make([]float64, 100)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price *= math.Exp(-0.02)
		} else {
			price *= math.Exp(0.005)
		}
		closes[i] = price
	}
	series := seriesFromCloses(closes)
	signal := make([]float64, 100)
	for i := range signal {
		signal[i] = 1
	}
	sizes := NewKellySizer().Size(signal, series)
	for i, sz := range sizes {
		assert.GreaterOrEqual(t, sz, 0.0, "bar %d", i)
	}
	assert.Equal(t, 0.0, sizes[80])
}

func TestKellySizer_DegenerateVarianceIsZero(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 // zero variance
	}
	series := seriesFromCloses(closes)
	signal := make([]float64, 60)
	for i := range signal {
		signal[i] = 1
	}
	sizes := NewKellySizer().Size(signal, series)
	for i, sz := range sizes {
		assert.Equal(t, 0.0, sz, "bar %d", i)
	}
}

func TestApplyStopLoss_TriggersAndHoldsFlat(t *testing.T) {
	// Entry at 100, price sinks past the 5% stop at bar 3 and stays down.
	closes := []float64{100, 99, 97, 94, 93, 92}
	series := seriesFromCloses(closes)
	signal := []float64{1, 1, 1, 1, 1, 1}

	out := ApplyStopLoss(signal, series, 0.05)
	assert.Equal(t, 1.0, out[0])
	assert.Equal(t, 1.0, out[1])
	assert.Equal(t, 1.0, out[2]) // -3%, inside the stop
	assert.Equal(t, 0.0, out[3]) // -6%, stopped
	assert.Equal(t, 0.0, out[4])
	assert.Equal(t, 0.0, out[5])
}

func TestApplyStopLoss_ReArmsOnDirectionChange(t *testing.T) {
	closes := []float64{100, 90, 90, 90, 91}
	series := seriesFromCloses(closes)
	// Stopped out long, then the signal flips short: the stop re-arms.
	signal := []float64{1, 1, -1, -1, -1}

	out := ApplyStopLoss(signal, series, 0.05)
	assert.Equal(t, 0.0, out[1]) // stopped at -10%
	assert.Equal(t, -1.0, out[2], "fresh short entry after re-arm")
	assert.Equal(t, -1.0, out[4]) // +1.1% against the short, inside the stop
}

func TestApplyStopLoss_ShortSideStop(t *testing.T) {
	closes := []float64{100, 103, 107}
	series := seriesFromCloses(closes)
	signal := []float64{-1, -1, -1}

	out := ApplyStopLoss(signal, series, 0.05)
	assert.Equal(t, -1.0, out[0])
	assert.Equal(t, -1.0, out[1]) // +3% against the short
	assert.Equal(t, 0.0, out[2])  // +7%, stopped
}

func TestApplyStopLoss_DisabledPassthrough(t *testing.T) {
	series := seriesFromCloses([]float64{100, 50, 25})
	signal := []float64{1, 1, 1}
	out := ApplyStopLoss(signal, series, 0)
	assert.Equal(t, signal, out)
}

func TestSizersNeverEmitNaN(t *testing.T) {
	series := noisySeries(60)
	signal := make([]float64, 60)
	for i := range signal {
		signal[i] = float64((i%3 - 1))
	}
	for _, sizer := range []Sizer{NewFixedSizer(1), NewVolatilitySizer(0.1, 20), NewKellySizer()} {
		sizes := sizer.Size(signal, series)
		require.Len(t, sizes, len(signal))
		for i, sz := range sizes {
			assert.False(t, math.IsNaN(sz) || math.IsInf(sz, 0), "%s bar %d", sizer.Name(), i)
		}
	}
}
