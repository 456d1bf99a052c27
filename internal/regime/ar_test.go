package regime

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxemileffort/ivybt/internal/market"
)

func seriesFromLogReturns(rets []float64) *market.Series {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(rets)+1)
	price := 100.0
	for i := 0; i <= len(rets); i++ {
		if i > 0 {
			price *= math.Exp(rets[i-1])
		}
		bars[i] = market.Bar{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return market.NewSeries("TEST", market.Interval1d, bars)
}

// ar1Returns simulates ret[t] = phi*ret[t-1] + sigma*z with a fixed seed.
func ar1Returns(n int, phi, sigma float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	rets := make([]float64, n)
	prev := 0.0
	for i := 0; i < n; i++ {
		prev = phi*prev + sigma*rng.NormFloat64()
		rets[i] = prev
	}
	return rets
}

func TestAnnotateAR_ShortSeries(t *testing.T) {
	s := seriesFromLogReturns(ar1Returns(30, 0, 0.01, 1))
	_, err := AnnotateAR(s, DefaultARConfig())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnnotateAR_RejectsTinyWindow(t *testing.T) {
	s := seriesFromLogReturns(ar1Returns(200, 0, 0.01, 1))
	cfg := DefaultARConfig()
	cfg.Window = 5
	_, err := AnnotateAR(s, cfg)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientData)
}

func TestAnnotateAR_DetectsMomentum(t *testing.T) {
	s := seriesFromLogReturns(ar1Returns(600, 0.6, 0.01, 42))
	ann, err := AnnotateAR(s, DefaultARConfig())
	require.NoError(t, err)
	require.Len(t, ann.Phi, s.Len())

	// Count regime calls over the annotated region; a phi=0.6 process must
	// be flagged momentum far more often than mean reversion.
	var mom, rev int
	for _, d := range ann.Direction {
		switch d {
		case DirMomentum:
			mom++
		case DirMeanReversion:
			rev++
		}
	}
	assert.Greater(t, mom, 100)
	assert.Greater(t, mom, 10*rev)
}

func TestAnnotateAR_DetectsMeanReversion(t *testing.T) {
	s := seriesFromLogReturns(ar1Returns(600, -0.6, 0.01, 42))
	ann, err := AnnotateAR(s, DefaultARConfig())
	require.NoError(t, err)

	var mom, rev int
	for _, d := range ann.Direction {
		switch d {
		case DirMomentum:
			mom++
		case DirMeanReversion:
			rev++
		}
	}
	assert.Greater(t, rev, 100)
	assert.Greater(t, rev, 10*mom)
}

func TestAnnotateAR_WhiteNoiseMostlyNeutral(t *testing.T) {
	s := seriesFromLogReturns(ar1Returns(600, 0.0, 0.01, 7))
	ann, err := AnnotateAR(s, DefaultARConfig())
	require.NoError(t, err)

	var neutral, total int
	for t0 := DefaultARConfig().Window + 1; t0 < s.Len(); t0++ {
		total++
		if ann.Direction[t0] == DirNeutral {
			neutral++
		}
	}
	// The t-stat gate keeps spurious calls rare.
	assert.Greater(t, float64(neutral)/float64(total), 0.8)
}

func TestAnnotateAR_ScoreClipped(t *testing.T) {
	s := seriesFromLogReturns(ar1Returns(600, 0.9, 0.01, 3))
	ann, err := AnnotateAR(s, DefaultARConfig())
	require.NoError(t, err)
	for i, sc := range ann.Score {
		assert.False(t, math.IsNaN(sc), "bar %d", i)
		assert.GreaterOrEqual(t, sc, -10.0)
		assert.LessOrEqual(t, sc, 10.0)
	}
}

func TestAnnotateAR_WarmupIsNeutralNaN(t *testing.T) {
	cfg := DefaultARConfig()
	s := seriesFromLogReturns(ar1Returns(300, 0.5, 0.01, 5))
	ann, err := AnnotateAR(s, cfg)
	require.NoError(t, err)
	for i := 0; i <= cfg.Window; i++ {
		assert.True(t, math.IsNaN(ann.Phi[i]), "bar %d", i)
		assert.Equal(t, DirNeutral, ann.Direction[i])
	}
}

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, quantile(values, 0), 1e-12)
	assert.InDelta(t, 3.0, quantile(values, 0.5), 1e-12)
	assert.InDelta(t, 5.0, quantile(values, 1), 1e-12)
	assert.InDelta(t, 4.2, quantile(values, 0.8), 1e-12)
}
