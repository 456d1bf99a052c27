package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/maxemileffort/ivybt/internal/backtest"
	"github.com/maxemileffort/ivybt/internal/batch"
	"github.com/maxemileffort/ivybt/internal/config"
	"github.com/maxemileffort/ivybt/internal/market"
	"github.com/maxemileffort/ivybt/internal/optimize"
	"github.com/maxemileffort/ivybt/internal/store"
	"github.com/maxemileffort/ivybt/internal/strategy"
)

// dataSource picks the configured bar source: parquet cache when a
// directory is set, CSV otherwise.
func dataSource(cfg *config.Config) (market.DataSource, error) {
	switch {
	case cfg.Data.ParquetDir != "":
		return market.NewParquetCache(cfg.Data.ParquetDir), nil
	case cfg.Data.CSVDir != "":
		return market.NewCSVSource(cfg.Data.CSVDir), nil
	default:
		return nil, &backtest.ConfigurationError{Reason: "either data.csv_dir or data.parquet_dir must be set"}
	}
}

// buildEngine loads data per the config and assembles a ready engine.
func buildEngine(cmd *cobra.Command, cfg *config.Config) (*backtest.Engine, strategy.Factory, error) {
	source, err := dataSource(cfg)
	if err != nil {
		return nil, nil, err
	}
	symbols, err := cfg.ResolveSymbols()
	if err != nil {
		return nil, nil, err
	}
	start, end, err := cfg.Data.Range()
	if err != nil {
		return nil, nil, err
	}
	interval := market.Interval(cfg.Data.Interval)
	if cfg.Data.Benchmark != "" {
		symbols = append(symbols, cfg.Data.Benchmark)
	}
	data, err := source.Load(cmd.Context(), symbols, start, end, interval)
	if err != nil {
		return nil, nil, err
	}

	registry := strategy.NewRegistry()
	factory, err := registry.Lookup(cfg.Run.Strategy)
	if err != nil {
		return nil, nil, err
	}

	engine := backtest.NewEngine(backtest.EngineConfig{
		Interval:    interval,
		Benchmark:   cfg.Data.Benchmark,
		StopLossPct: cfg.Run.StopLossPct,
		Costs:       cfg.Costs,
	}, data, batch.NewSizer(cfg.Sizing))
	return engine, factory, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one strategy across the configured universe",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, factory, err := buildEngine(cmd, cfg)
			if err != nil {
				return err
			}
			strat, err := factory.New(cfg.Run.Params)
			if err != nil {
				return err
			}
			results, err := engine.RunStrategy(cmd.Context(), strat)
			if err != nil {
				return err
			}
			printResults(results)
			pm := engine.PortfolioMetrics()
			fmt.Printf("\nPORTFOLIO  sharpe=%.3f  ann_return=%.4f  max_dd=%.4f  trades=%.0f\n",
				pm.Sharpe, pm.AnnReturn, pm.MaxDrawdown, pm.TradeCount)
			return nil
		},
	}
}

func gridCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Sweep a parameter grid and rank combinations by Sharpe",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, factory, err := buildEngine(cmd, cfg)
			if err != nil {
				return err
			}
			grid := optimize.Grid(cfg.Optimize.Grid)
			if len(grid) == 0 {
				grid = optimize.Grid(factory.DefaultGrid())
			}
			search := optimize.GridSearch{
				Factory:  factory,
				Data:     engine.Data(),
				Interval: engine.Interval(),
				Sizer:    engine.Sizer(),
				Workers:  cfg.Optimize.Workers,
			}

			var rows []optimize.Row
			if cfg.Optimize.Samples > 0 {
				random := optimize.RandomSearch{GridSearch: search, Samples: cfg.Optimize.Samples}
				rows, err = random.Run(cmd.Context(), grid)
			} else {
				rows, err = search.Run(cmd.Context(), grid)
			}
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				log.Warn().Msg("no combination produced a usable result")
				return nil
			}
			if top > 0 && len(rows) > top {
				rows = rows[:top]
			}
			for _, row := range rows {
				fmt.Printf("%-40s  sharpe=%.3f  ann_return=%.4f\n",
					formatParams(row.Params), row.Sharpe, row.AnnReturn)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "show only the best N combinations")
	return cmd
}

func walkForwardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "walkforward",
		Short: "Rolling out-of-sample validation of the parameter grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, factory, err := buildEngine(cmd, cfg)
			if err != nil {
				return err
			}
			grid := optimize.Grid(cfg.Optimize.Grid)
			if len(grid) == 0 {
				grid = optimize.Grid(factory.DefaultGrid())
			}
			wf := optimize.WalkForward{
				Factory:    factory,
				Data:       engine.Data(),
				Interval:   engine.Interval(),
				Sizer:      engine.Sizer(),
				WindowDays: cfg.Optimize.WindowDays,
				StepDays:   cfg.Optimize.StepDays,
				Workers:    cfg.Optimize.Workers,
			}
			result, err := wf.Run(cmd.Context(), grid)
			if err != nil {
				return err
			}
			for _, w := range result.Windows {
				fmt.Printf("train %s..%s  test ->%s  %s  train_sharpe=%.3f\n",
					w.TrainStart.Format("2006-01-02"), w.TrainEnd.Format("2006-01-02"),
					w.TestEnd.Format("2006-01-02"), formatParams(w.Params), w.TrainRow.Sharpe)
			}
			fmt.Printf("\nOUT-OF-SAMPLE  windows=%d  bars=%d  sharpe=%.3f  ann_return=%.4f  max_dd=%.4f\n",
				len(result.Windows), result.OOS.Len(),
				result.Metrics.Sharpe, result.Metrics.AnnReturn, result.Metrics.MaxDrawdown)
			return nil
		},
	}
}

func monteCarloCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "montecarlo",
		Short: "Bootstrap the run's returns to estimate drawdown risk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, factory, err := buildEngine(cmd, cfg)
			if err != nil {
				return err
			}
			strat, err := factory.New(cfg.Run.Params)
			if err != nil {
				return err
			}
			if _, err := engine.RunStrategy(cmd.Context(), strat); err != nil {
				return err
			}
			mc, err := engine.RunMonteCarlo(backtest.MonteCarloConfig{
				Simulations: cfg.MonteCarlo.Simulations,
				Method:      backtest.ResampleMethod(cfg.MonteCarlo.Method),
				Seed:        cfg.MonteCarlo.Seed,
			})
			if err != nil {
				return err
			}
			fmt.Printf("simulations=%d method=%s sample=%d\n", mc.Simulations, mc.Method, mc.SampleSize)
			fmt.Printf("avg_max_drawdown=%.4f worst_drawdown=%.4f\n", mc.AvgMaxDrawdown, mc.WorstDrawdown)
			fmt.Printf("median_final_equity=%.4f prob_dd_below_50pct=%.4f\n", mc.MedianFinalEq, mc.ProbDrawdown50)
			return nil
		},
	}
}

func batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Run a batch of jobs and write the summary CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadBatch(path)
			if err != nil {
				return err
			}
			setupLogging(cfg.General)

			if len(cfg.Jobs) == 0 {
				return &backtest.ConfigurationError{Reason: "batch config has no jobs"}
			}
			source, err := dataSource(&cfg.Jobs[0])
			if err != nil {
				return err
			}

			runner := batch.Runner{
				Source:     source,
				Registry:   strategy.NewRegistry(),
				MaxWorkers: cfg.MaxWorkers,
			}
			if cfg.Store.DBPath != "" {
				rs, err := store.OpenResultStore(cfg.Store.DBPath)
				if err != nil {
					return err
				}
				defer rs.Close()
				runner.Store = rs
			}

			results := runner.Run(cmd.Context(), cfg.Jobs)
			for _, jr := range results {
				if jr.Err != nil {
					log.Error().Err(jr.Err).Str("strategy", jr.Config.Run.Strategy).Msg("job failed")
				}
			}

			summaryPath := cfg.Store.SummaryPath
			if summaryPath == "" {
				summaryPath = "summary.csv"
			}
			if err := store.WriteSummaryFile(summaryPath, batch.Summaries(results)); err != nil {
				return err
			}
			log.Info().Str("path", summaryPath).Int("jobs", len(results)).Msg("batch summary written")
			return nil
		},
	}
}

func printResults(results map[string]backtest.RiskMetrics) {
	symbols := make([]string, 0, len(results))
	for sym := range results {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	w := os.Stdout
	for _, sym := range symbols {
		m := results[sym]
		fmt.Fprintf(w, "%-20s  sharpe=%7.3f  ann_return=%8.4f  max_dd=%8.4f  trades=%.0f\n",
			sym, m.Sharpe, m.AnnReturn, m.MaxDrawdown, m.TradeCount)
	}
}

func formatParams(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, name := range names {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%g", name, params[name])
	}
	return out
}
