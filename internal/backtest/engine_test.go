package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxemileffort/ivybt/internal/market"
	"github.com/maxemileffort/ivybt/internal/risk"
	"github.com/maxemileffort/ivybt/internal/strategy"
)

// driftSeries builds n daily bars whose close grows by a constant log
// return per bar.
func driftSeries(symbol string, n int, logRet float64) *market.Series {
	bars := make([]market.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= math.Exp(logRet)
		bars[i] = market.Bar{
			Timestamp: dayTime(i),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return market.NewSeries(symbol, market.Interval1d, bars)
}

// fixedSignalStrategy returns a canned signal regardless of the data.
type fixedSignalStrategy struct {
	signal []float64
}

func (s fixedSignalStrategy) Name() string { return "fixed-signal" }

func (s fixedSignalStrategy) Apply(series *market.Series) ([]float64, error) {
	out := make([]float64, series.Len())
	copy(out, s.signal)
	return out, nil
}

func alwaysLong(n int) fixedSignalStrategy {
	sig := make([]float64, n)
	for i := range sig {
		sig[i] = 1
	}
	return fixedSignalStrategy{signal: sig}
}

func TestEngine_AlwaysLongMatchesUnderlying(t *testing.T) {
	const n = 50
	series := driftSeries("TEST", n, 0.01)
	engine := NewEngine(EngineConfig{Interval: market.Interval1d},
		map[string]*market.Series{"TEST": series}, risk.NewFixedSizer(1.0))

	results, err := engine.RunStrategy(context.Background(), alwaysLong(n))
	require.NoError(t, err)
	require.Contains(t, results, "TEST")

	run, ok := engine.Run("TEST")
	require.True(t, ok)

	// No position can exist before the first decision.
	assert.Equal(t, 0.0, run.Position[0])
	// From bar 1 on, the strategy earns exactly the underlying log return.
	logret := series.LogReturns()
	for i := 1; i < n; i++ {
		assert.InDelta(t, logret[i], run.Net[i], 1e-12, "bar %d", i)
	}
	// One entry, never exits: a single trade event.
	assert.InDelta(t, 1.0, results["TEST"].TradeCount, 1e-12)
}

func TestEngine_OneBarLag(t *testing.T) {
	const n = 10
	sig := make([]float64, n)
	for i := 4; i < n; i++ {
		sig[i] = 1 // decision appears at bar 4
	}
	series := driftSeries("TEST", n, 0.01)
	engine := NewEngine(EngineConfig{Interval: market.Interval1d},
		map[string]*market.Series{"TEST": series}, risk.NewFixedSizer(1.0))
	_, err := engine.RunStrategy(context.Background(), fixedSignalStrategy{signal: sig})
	require.NoError(t, err)

	run, _ := engine.Run("TEST")
	// The bar-4 decision is executed on bar 5, one bar later.
	assert.Equal(t, 0.0, run.Position[4])
	assert.Equal(t, 1.0, run.Position[5])
	assert.Equal(t, 0.0, run.Net[4])
}

func TestEngine_CostDragReducesReturn(t *testing.T) {
	const n = 60
	// Alternate long and flat so trade events accumulate.
	sig := make([]float64, n)
	for i := 0; i < n; i += 2 {
		sig[i] = 1
	}
	series := driftSeries("TEST", n, 0.01)

	free := NewEngine(EngineConfig{Interval: market.Interval1d},
		map[string]*market.Series{"TEST": series}, risk.NewFixedSizer(1.0))
	freeRes, err := free.RunStrategy(context.Background(), fixedSignalStrategy{signal: sig})
	require.NoError(t, err)

	costly := NewEngine(EngineConfig{
		Interval: market.Interval1d,
		Costs:    CostModel{CommissionBps: 10, SpreadBps: 5, PerSide: true},
	}, map[string]*market.Series{"TEST": series}, risk.NewFixedSizer(1.0))
	costlyRes, err := costly.RunStrategy(context.Background(), fixedSignalStrategy{signal: sig})
	require.NoError(t, err)

	assert.Less(t, costlyRes["TEST"].TotalReturn, freeRes["TEST"].TotalReturn)
}

func TestEngine_BenchmarkAlwaysLongZeroCost(t *testing.T) {
	const n = 50
	data := map[string]*market.Series{
		"TEST": driftSeries("TEST", n, 0.005),
		"SPY":  driftSeries("SPY", n, 0.002),
	}
	engine := NewEngine(EngineConfig{
		Interval:  market.Interval1d,
		Benchmark: "SPY",
		Costs:     CostModel{CommissionBps: 50, PerSide: true},
	}, data, risk.NewFixedSizer(1.0))

	results, err := engine.RunStrategy(context.Background(), alwaysLong(n))
	require.NoError(t, err)

	bench, ok := results["BENCHMARK (SPY)"]
	require.True(t, ok, "benchmark row missing")
	// The benchmark rides the underlying frictionless: 49 bars of 0.002.
	assert.InDelta(t, math.Exp(0.002*float64(n-1))-1, bench.TotalReturn, 1e-9)
	// The benchmark symbol is not traded as a strategy symbol.
	_, traded := engine.Run("SPY")
	assert.False(t, traded)
}

func TestEngine_SkipsShortSeries(t *testing.T) {
	data := map[string]*market.Series{
		"GOOD": driftSeries("GOOD", 30, 0.01),
		"BAD":  driftSeries("BAD", 1, 0.01),
	}
	engine := NewEngine(EngineConfig{Interval: market.Interval1d}, data, nil)
	results, err := engine.RunStrategy(context.Background(), alwaysLong(30))
	require.NoError(t, err)
	assert.Contains(t, results, "GOOD")
	assert.NotContains(t, results, "BAD")
}

func TestEngine_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := NewEngine(EngineConfig{Interval: market.Interval1d},
		map[string]*market.Series{"TEST": driftSeries("TEST", 30, 0.01)}, nil)
	_, err := engine.RunStrategy(ctx, alwaysLong(30))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRawStrategyReturns_LagApplied(t *testing.T) {
	const n = 5
	series := driftSeries("TEST", n, 0.01)
	sig := []float64{0, 1, 1, 0, 0}
	raw := RawStrategyReturns(series, sig)
	logret := series.LogReturns()
	assert.Equal(t, 0.0, raw[0])
	assert.Equal(t, 0.0, raw[1]) // signal[0] == 0
	assert.InDelta(t, logret[2], raw[2], 1e-12)
	assert.InDelta(t, logret[3], raw[3], 1e-12)
	assert.Equal(t, 0.0, raw[4])
}

func TestEngine_PortfolioMetrics(t *testing.T) {
	const n = 40
	data := map[string]*market.Series{
		"A": driftSeries("A", n, 0.01),
		"B": driftSeries("B", n, 0.01),
	}
	engine := NewEngine(EngineConfig{Interval: market.Interval1d}, data, nil)
	_, err := engine.RunStrategy(context.Background(), alwaysLong(n))
	require.NoError(t, err)

	pm := engine.PortfolioMetrics()
	// Two identical symbols aggregate back to the single-symbol return.
	assert.InDelta(t, math.Exp(0.01*float64(n-1))-1, pm.TotalReturn, 1e-9)
}

// patternSeries alternates two log returns so volatility is non-zero.
func patternSeries(symbol string, n int, a, b float64) *market.Series {
	bars := make([]market.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			price *= math.Exp(a)
		} else {
			price *= math.Exp(b)
		}
		bars[i] = market.Bar{Timestamp: dayTime(i), Open: price, High: price, Low: price, Close: price, Volume: 1000}
	}
	return market.NewSeries(symbol, market.Interval1d, bars)
}

func TestEngine_SelectBySharpe(t *testing.T) {
	const n = 60
	data := map[string]*market.Series{
		"UP":   patternSeries("UP", n, 0.02, -0.01),
		"DOWN": patternSeries("DOWN", n, -0.02, 0.01),
	}
	engine := NewEngine(EngineConfig{Interval: market.Interval1d}, data, nil)
	_, err := engine.RunStrategy(context.Background(), alwaysLong(n))
	require.NoError(t, err)

	passed := engine.SelectBySharpe(0.1)
	assert.Equal(t, []string{"UP"}, passed)
}

func TestEngine_CrossSectionalPanel(t *testing.T) {
	const n = 60
	data := map[string]*market.Series{
		"WIN":  driftSeries("WIN", n, 0.01),
		"LOSE": driftSeries("LOSE", n, -0.01),
	}
	engine := NewEngine(EngineConfig{Interval: market.Interval1d}, data, risk.NewFixedSizer(1.0))

	factory, err := strategy.NewRegistry().Lookup("xs_momentum")
	require.NoError(t, err)
	strat, err := factory.New(map[string]float64{"lookback": 10, "top_n": 1})
	require.NoError(t, err)

	// The registry hands back a Strategy; the engine must route it through
	// the panel path, not per-symbol Apply.
	results, err := engine.RunStrategy(context.Background(), strat)
	require.NoError(t, err)
	require.Contains(t, results, "WIN")
	require.Contains(t, results, "LOSE")

	winRun, ok := engine.Run("WIN")
	require.True(t, ok)
	loseRun, ok := engine.Run("LOSE")
	require.True(t, ok)

	// Ranking resolves from bar 10 (the lookback); positions lag one bar.
	for i := 0; i < 11; i++ {
		assert.Equal(t, 0.0, winRun.Position[i], "bar %d", i)
	}
	for i := 11; i < n; i++ {
		assert.Equal(t, 1.0, winRun.Position[i], "bar %d", i)
		assert.Equal(t, -1.0, loseRun.Position[i], "bar %d", i)
	}

	// Long the riser, short the faller: both legs profit.
	assert.Greater(t, results["WIN"].TotalReturn, 0.0)
	assert.Greater(t, results["LOSE"].TotalReturn, 0.0)
}

func TestEngine_RunPortfolioDirect(t *testing.T) {
	const n = 60
	data := map[string]*market.Series{
		"WIN":  driftSeries("WIN", n, 0.01),
		"LOSE": driftSeries("LOSE", n, -0.01),
	}
	engine := NewEngine(EngineConfig{Interval: market.Interval1d}, data, risk.NewFixedSizer(1.0))

	ps, err := strategy.NewCrossSectionalMomentum(strategy.CrossSectionalMomentumConfig{
		Lookback: 10,
		TopN:     1,
	})
	require.NoError(t, err)

	results, err := engine.RunPortfolio(context.Background(), ps)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Greater(t, engine.PortfolioMetrics().TotalReturn, 0.0)

	// Single-series evaluation is meaningless for a cross-sectional rank.
	_, err = ps.Apply(data["WIN"])
	assert.Error(t, err)
}
