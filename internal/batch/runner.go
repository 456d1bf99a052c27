package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/maxemileffort/ivybt/internal/backtest"
	"github.com/maxemileffort/ivybt/internal/config"
	"github.com/maxemileffort/ivybt/internal/market"
	"github.com/maxemileffort/ivybt/internal/risk"
	"github.com/maxemileffort/ivybt/internal/store"
	"github.com/maxemileffort/ivybt/internal/strategy"
)

// Runner executes a batch of independent backtest jobs on a bounded worker
// pool. One job's failure never stops its siblings; the summary reports
// every job in config order.
type Runner struct {
	Source     market.DataSource
	Registry   *strategy.Registry
	MaxWorkers int
	Store      *store.ResultStore // optional persistence
}

// JobResult is the outcome of one batch job.
type JobResult struct {
	JobID   string
	Config  config.Config
	Summary store.Result
	Err     error
}

// Run executes every job and returns results in job order.
func (r *Runner) Run(ctx context.Context, jobs []config.Config) []JobResult {
	workers := r.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	results := make([]JobResult, len(jobs))
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				results[i] = r.runJob(ctx, jobs[i])
			}
		}()
	}
	for i := range jobs {
		select {
		case <-ctx.Done():
		case indices <- i:
			continue
		}
		break
	}
	close(indices)
	wg.Wait()

	for i := range results {
		if results[i].JobID == "" && results[i].Err == nil {
			results[i] = JobResult{Config: jobs[i], Err: ctx.Err()}
		}
	}
	return results
}

// runJob executes one job in isolation: a panic inside a strategy or sizer
// becomes that job's error, not the batch's.
func (r *Runner) runJob(ctx context.Context, cfg config.Config) (result JobResult) {
	jobID := uuid.NewString()
	result = JobResult{JobID: jobID, Config: cfg}
	defer func() {
		if rec := recover(); rec != nil {
			result.Err = fmt.Errorf("job panicked: %v", rec)
			log.Error().Str("job_id", jobID).Interface("panic", rec).Msg("batch: job panicked")
		}
	}()

	logger := log.With().Str("job_id", jobID).Str("strategy", cfg.Run.Strategy).Logger()

	symbols, err := cfg.ResolveSymbols()
	if err != nil {
		result.Err = err
		return result
	}
	start, end, err := cfg.Data.Range()
	if err != nil {
		result.Err = err
		return result
	}
	interval := market.Interval(cfg.Data.Interval)

	loadSymbols := symbols
	if cfg.Data.Benchmark != "" && !contains(symbols, cfg.Data.Benchmark) {
		loadSymbols = append(append([]string(nil), symbols...), cfg.Data.Benchmark)
	}
	data, err := r.Source.Load(ctx, loadSymbols, start, end, interval)
	if err != nil {
		result.Err = fmt.Errorf("load data: %w", err)
		return result
	}
	if len(data) == 0 {
		result.Err = &backtest.DataGapError{Reason: "no data loaded for any symbol"}
		return result
	}

	factory, err := r.Registry.Lookup(cfg.Run.Strategy)
	if err != nil {
		result.Err = err
		return result
	}
	strat, err := factory.New(cfg.Run.Params)
	if err != nil {
		result.Err = err
		return result
	}

	engine := backtest.NewEngine(backtest.EngineConfig{
		Interval:    interval,
		Benchmark:   cfg.Data.Benchmark,
		StopLossPct: cfg.Run.StopLossPct,
		Costs:       cfg.Costs,
	}, data, NewSizer(cfg.Sizing))

	if _, err := engine.RunStrategy(ctx, strat); err != nil {
		result.Err = err
		return result
	}

	m := engine.PortfolioMetrics()
	result.Summary = store.Result{
		JobID:          jobID,
		Strategy:       cfg.Run.Strategy,
		InstrumentType: cfg.Data.Instrument,
		Metric:         "sharpe",
		Sharpe:         m.Sharpe,
		Return:         m.TotalReturn,
		Drawdown:       m.MaxDrawdown,
		CAGR:           m.AnnReturn,
	}
	if r.Store != nil {
		if err := r.Store.Save(ctx, result.Summary); err != nil {
			logger.Warn().Err(err).Msg("batch: failed to persist result")
		}
	}

	logger.Info().
		Float64("sharpe", m.Sharpe).
		Float64("total_return", m.TotalReturn).
		Msg("batch: job complete")
	return result
}

// Summaries extracts the successful rows in job order for the CSV report.
func Summaries(results []JobResult) []store.Result {
	out := make([]store.Result, 0, len(results))
	for _, jr := range results {
		if jr.Err == nil {
			out = append(out, jr.Summary)
		}
	}
	return out
}

// NewSizer builds the position sizer a job's config asks for.
func NewSizer(cfg config.SizingConfig) risk.Sizer {
	switch cfg.Mode {
	case "volatility":
		return risk.NewVolatilitySizer(cfg.TargetVol, cfg.Lookback)
	case "kelly":
		s := risk.NewKellySizer()
		if cfg.KellyCap > 0 {
			s.Cap = cfg.KellyCap
		}
		return s
	default:
		return risk.NewFixedSizer(cfg.SizePct)
	}
}

func contains(symbols []string, s string) bool {
	for _, sym := range symbols {
		if sym == s {
			return true
		}
	}
	return false
}
