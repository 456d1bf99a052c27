package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/maxemileffort/ivybt/internal/market"
	"github.com/maxemileffort/ivybt/internal/risk"
	"github.com/maxemileffort/ivybt/internal/strategy"
)

// EngineConfig configures one engine instance.
type EngineConfig struct {
	Interval    market.Interval
	Benchmark   string  // symbol run always-long at zero cost for comparison
	StopLossPct float64 // 0 disables the stop-loss overlay
	Costs       CostModel
}

// Engine owns one universe of bar data and runs the
// signal → size → lag → cost → metrics pipeline across it. Optimizers borrow
// the engine's data read-only across many parameter trials; the engine never
// mutates a series after construction.
type Engine struct {
	cfg   EngineConfig
	data  map[string]*market.Series
	sizer risk.Sizer

	results   map[string]RiskMetrics
	runs      map[string]*SymbolRun
	benchRun  *SymbolRun
	stratName string
}

// SymbolRun holds the derived per-bar series for one (symbol, strategy,
// sizer) evaluation. All slices are bar-aligned with the source series.
type SymbolRun struct {
	Symbol   string
	Signal   []float64
	Size     []float64
	Position []float64 // executed position: Size lagged one bar
	LogRet   []float64
	StratRet []float64 // Position * LogRet
	Net      []float64 // StratRet - cost
	Trades   []float64 // |Position[t] - Position[t-1]|
}

// NewEngine creates an engine over a fetched universe. The benchmark symbol
// may be part of the data map; a missing benchmark degrades the comparison
// rather than failing the run.
func NewEngine(cfg EngineConfig, data map[string]*market.Series, sizer risk.Sizer) *Engine {
	if sizer == nil {
		sizer = risk.NewFixedSizer(1.0)
	}
	if cfg.Interval == "" {
		cfg.Interval = market.Interval1d
	}
	return &Engine{
		cfg:     cfg,
		data:    data,
		sizer:   sizer,
		results: make(map[string]RiskMetrics),
		runs:    make(map[string]*SymbolRun),
	}
}

// Data exposes the engine's universe for read-only borrowing by optimizers.
func (e *Engine) Data() map[string]*market.Series { return e.data }

// Interval returns the configured bar interval.
func (e *Engine) Interval() market.Interval { return e.cfg.Interval }

// Sizer returns the engine's position sizer.
func (e *Engine) Sizer() risk.Sizer { return e.sizer }

// Costs returns the engine's cost model.
func (e *Engine) Costs() CostModel { return e.cfg.Costs }

// Results returns the per-symbol metrics from the latest RunStrategy call.
// The benchmark appears under "BENCHMARK (<symbol>)".
func (e *Engine) Results() map[string]RiskMetrics { return e.results }

// Run returns the derived series for one symbol from the latest run.
func (e *Engine) Run(symbol string) (*SymbolRun, bool) {
	r, ok := e.runs[symbol]
	return r, ok
}

// StrategyName returns the name of the last strategy run.
func (e *Engine) StrategyName() string { return e.stratName }

// ---------------------------------------------------------------------------
// RunStrategy
// ---------------------------------------------------------------------------

// RunStrategy evaluates one strategy + the engine's sizer across the
// universe and stores per-symbol metrics. Symbols with empty or unusable
// data are skipped with a log line; they never abort the run.
func (e *Engine) RunStrategy(ctx context.Context, strat strategy.Strategy) (map[string]RiskMetrics, error) {
	e.stratName = strat.Name()
	e.results = make(map[string]RiskMetrics)
	e.runs = make(map[string]*SymbolRun)

	if ps, ok := strat.(strategy.PortfolioStrategy); ok {
		return e.runPortfolioStrategy(ctx, ps)
	}

	for sym, series := range e.data {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if sym == e.cfg.Benchmark {
			continue
		}
		signal, err := strat.Apply(series)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("engine: strategy failed, skipping symbol")
			continue
		}
		if err := e.evaluateSymbol(sym, series, signal); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("engine: skipping symbol")
		}
	}

	e.runBenchmark()

	log.Info().
		Str("strategy", e.stratName).
		Str("sizer", e.sizer.Name()).
		Int("symbols", len(e.runs)).
		Msg("engine: run complete")

	return e.results, nil
}

// RunPortfolio evaluates a cross-sectional strategy that consumes the whole
// panel at once.
func (e *Engine) RunPortfolio(ctx context.Context, ps strategy.PortfolioStrategy) (map[string]RiskMetrics, error) {
	e.stratName = ps.Name()
	e.results = make(map[string]RiskMetrics)
	e.runs = make(map[string]*SymbolRun)
	return e.runPortfolioStrategy(ctx, ps)
}

// runPortfolioStrategy feeds the whole panel to a multi-asset strategy and
// evaluates each returned signal series.
func (e *Engine) runPortfolioStrategy(ctx context.Context, ps strategy.PortfolioStrategy) (map[string]RiskMetrics, error) {
	panel := make(map[string]*market.Series, len(e.data))
	for sym, series := range e.data {
		if sym == e.cfg.Benchmark || series.Empty() {
			continue
		}
		panel[sym] = series
	}
	signals, err := ps.ApplyPanel(panel)
	if err != nil {
		return nil, fmt.Errorf("portfolio strategy %s: %w", ps.Name(), err)
	}
	for sym, series := range panel {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		signal, ok := signals[sym]
		if !ok {
			log.Warn().Str("symbol", sym).Msg("engine: symbol missing from portfolio strategy output")
			continue
		}
		if err := e.evaluateSymbol(sym, series, signal); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("engine: skipping symbol")
		}
	}
	e.runBenchmark()
	return e.results, nil
}

// evaluateSymbol runs the sizing, lag, cost, and metrics stages for one
// signal series.
func (e *Engine) evaluateSymbol(sym string, series *market.Series, signal []float64) error {
	if series.Empty() || series.Len() < 2 {
		return &DataGapError{Symbol: sym, Reason: "not enough bars"}
	}
	if len(signal) != series.Len() {
		return &DataGapError{Symbol: sym, Reason: fmt.Sprintf(
			"signal length %d != bar count %d", len(signal), series.Len())}
	}

	if e.cfg.StopLossPct > 0 {
		signal = risk.ApplyStopLoss(signal, series, e.cfg.StopLossPct)
	}

	run := computeRun(sym, series, signal, e.sizer, e.cfg.Costs)
	e.runs[sym] = run

	// Drop the leading bar: its return is undefined by the first difference.
	e.results[sym] = ComputeMetrics(run.Net[1:], run.Trades, e.cfg.Interval.AnnualizationFactor())
	return nil
}

// computeRun executes the lag-correct return pipeline. This is the core
// algorithm: position[t] = size[t-1] models "decide at close of t-1, hold
// during t". The lag is applied exactly once.
func computeRun(sym string, series *market.Series, signal []float64, sizer risk.Sizer, costs CostModel) *SymbolRun {
	n := series.Len()
	run := &SymbolRun{
		Symbol:   sym,
		Signal:   signal,
		Size:     sizer.Size(signal, series),
		Position: make([]float64, n),
		LogRet:   series.LogReturns(),
		StratRet: make([]float64, n),
		Net:      make([]float64, n),
		Trades:   make([]float64, n),
	}

	// Lag stage: no position exists before any decision.
	for t := 1; t < n; t++ {
		run.Position[t] = run.Size[t-1]
	}

	prevPos := 0.0
	for t := 0; t < n; t++ {
		run.StratRet[t] = run.Position[t] * run.LogRet[t]
		run.Trades[t] = abs(run.Position[t] - prevPos)
		run.Net[t] = run.StratRet[t] - costs.Cost(run.Trades[t])
		prevPos = run.Position[t]
	}
	return run
}

// runBenchmark evaluates the benchmark symbol always-long at zero cost. A
// missing benchmark logs and degrades the comparison.
func (e *Engine) runBenchmark() {
	e.benchRun = nil
	if e.cfg.Benchmark == "" {
		return
	}
	series, ok := e.data[e.cfg.Benchmark]
	if !ok || series.Empty() || series.Len() < 2 {
		log.Warn().Str("benchmark", e.cfg.Benchmark).Msg("engine: benchmark data missing, skipping comparison")
		return
	}
	signal := make([]float64, series.Len())
	for i := range signal {
		signal[i] = 1
	}
	run := computeRun(series.Symbol, series, signal, risk.NewFixedSizer(1.0), ZeroCost)
	e.benchRun = run
	e.results["BENCHMARK ("+e.cfg.Benchmark+")"] = ComputeMetrics(
		run.Net[1:], run.Trades, e.cfg.Interval.AnnualizationFactor())
}

// BenchmarkReturns returns the benchmark's net return series, if available.
func (e *Engine) BenchmarkReturns() (ReturnSeries, bool) {
	if e.benchRun == nil {
		return ReturnSeries{}, false
	}
	s := e.data[e.cfg.Benchmark]
	return ReturnSeries{Times: s.Times(), Values: e.benchRun.Net}, true
}

// ---------------------------------------------------------------------------
// Portfolio views
// ---------------------------------------------------------------------------

// SymbolReturns returns the net return series per evaluated symbol.
func (e *Engine) SymbolReturns() map[string]ReturnSeries {
	out := make(map[string]ReturnSeries, len(e.runs))
	for sym, run := range e.runs {
		s := e.data[sym]
		out[sym] = ReturnSeries{Times: s.Times(), Values: run.Net}
	}
	return out
}

// PortfolioReturns aggregates the evaluated symbols into the equal-weighted
// portfolio log-return series.
func (e *Engine) PortfolioReturns() ReturnSeries {
	return AggregateEqualWeight(e.SymbolReturns())
}

// PortfolioMetrics computes metrics over the aggregate portfolio series.
func (e *Engine) PortfolioMetrics() RiskMetrics {
	port := e.PortfolioReturns()
	if port.Len() <= 1 {
		return RiskMetrics{}
	}
	return ComputeMetrics(port.Values[1:], nil, e.cfg.Interval.AnnualizationFactor())
}

// SelectBySharpe returns the symbols whose Sharpe meets the threshold,
// excluding the benchmark row. Used for quality-gated universe reduction.
func (e *Engine) SelectBySharpe(threshold float64) []string {
	var passed []string
	for sym := range e.runs {
		if m, ok := e.results[sym]; ok && m.Sharpe >= threshold {
			passed = append(passed, sym)
		}
	}
	log.Info().
		Int("before", len(e.runs)).
		Int("after", len(passed)).
		Float64("threshold", threshold).
		Msg("engine: universe reduced by Sharpe filter")
	return passed
}

// RawStrategyReturns runs the lag-correct pipeline at unit size and zero
// cost.
func RawStrategyReturns(series *market.Series, signal []float64) []float64 {
	n := series.Len()
	logret := series.LogReturns()
	out := make([]float64, n)
	for t := 1; t < n; t++ {
		out[t] = signal[t-1] * logret[t]
	}
	return out
}

// SizedStrategyReturns runs the lag-correct pipeline through the given
// sizer at zero cost. Parameter search scores candidates on this series so
// that the sizing stage that trades is also the one that selects. A nil
// sizer falls back to unit size.
func SizedStrategyReturns(series *market.Series, signal []float64, sizer risk.Sizer) []float64 {
	if sizer == nil {
		return RawStrategyReturns(series, signal)
	}
	size := sizer.Size(signal, series)
	logret := series.LogReturns()
	out := make([]float64, series.Len())
	for t := 1; t < len(out); t++ {
		out[t] = size[t-1] * logret[t]
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
