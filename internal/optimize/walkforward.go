package optimize

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maxemileffort/ivybt/internal/backtest"
	"github.com/maxemileffort/ivybt/internal/market"
	"github.com/maxemileffort/ivybt/internal/risk"
	"github.com/maxemileffort/ivybt/internal/strategy"
)

// WalkForward performs rolling out-of-sample validation: optimize on a
// training window, apply the chosen parameters to the slice that follows,
// advance, repeat. Out-of-sample bars never influence the parameters that
// trade them; leaked windows are the most common way a backtest lies.
type WalkForward struct {
	Factory    strategy.Factory
	Data       map[string]*market.Series
	Interval   market.Interval
	Sizer      risk.Sizer // nil means unit size
	WindowDays int        // training window length
	StepDays   int        // test span and advance step
	Workers    int
}

// WindowResult records one train/test step.
type WindowResult struct {
	TrainStart time.Time
	TrainEnd   time.Time
	TestEnd    time.Time
	Params     map[string]float64
	TrainRow   Row
}

// WalkForwardResult is the stitched out-of-sample record.
type WalkForwardResult struct {
	Windows []WindowResult
	OOS     backtest.ReturnSeries // concatenated out-of-sample portfolio returns
	Metrics backtest.RiskMetrics  // computed over OOS only
}

// Run walks the grid across the data. Each training slice sees only bars
// strictly before its end; the parameters it selects are then scored on the
// (trainEnd, testEnd] slice of the full-history signal.
func (wf *WalkForward) Run(ctx context.Context, grid Grid) (*WalkForwardResult, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if wf.WindowDays <= 0 || wf.StepDays <= 0 {
		return nil, &backtest.ConfigurationError{Reason: "walk-forward window and step must be positive"}
	}

	dataStart, dataEnd, ok := span(wf.Data)
	if !ok {
		return nil, &backtest.ConfigurationError{Reason: "walk-forward requires non-empty data"}
	}

	result := &WalkForwardResult{}
	trainStart := dataStart
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trainEnd := trainStart.AddDate(0, 0, wf.WindowDays)
		if !trainEnd.Before(dataEnd) {
			break
		}
		testEnd := trainEnd.AddDate(0, 0, wf.StepDays)

		trainData := make(map[string]*market.Series, len(wf.Data))
		for sym, series := range wf.Data {
			sliced := series.SliceBefore(trainStart, trainEnd)
			if sliced.Len() >= 2 {
				trainData[sym] = sliced
			}
		}
		if len(trainData) == 0 {
			trainStart = trainStart.AddDate(0, 0, wf.StepDays)
			continue
		}

		search := GridSearch{
			Factory:  wf.Factory,
			Data:     trainData,
			Interval: wf.Interval,
			Sizer:    wf.Sizer,
			Workers:  wf.Workers,
		}
		rows, err := search.Run(ctx, grid)
		if err != nil {
			return nil, err
		}
		best, ok := Best(rows)
		if !ok {
			log.Warn().
				Time("train_start", trainStart).
				Time("train_end", trainEnd).
				Msg("walk-forward: no usable combination in window, skipping")
			trainStart = trainStart.AddDate(0, 0, wf.StepDays)
			continue
		}

		oos, err := wf.outOfSample(best.Params, trainEnd, testEnd)
		if err != nil {
			return nil, err
		}
		result.Windows = append(result.Windows, WindowResult{
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestEnd:    testEnd,
			Params:     best.Params,
			TrainRow:   best,
		})
		result.OOS.Append(oos)

		log.Info().
			Time("train_end", trainEnd).
			Time("test_end", testEnd).
			Interface("params", best.Params).
			Float64("train_sharpe", best.Sharpe).
			Msg("walk-forward window complete")

		trainStart = trainStart.AddDate(0, 0, wf.StepDays)
	}

	if result.OOS.Len() > 0 {
		result.Metrics = backtest.ComputeMetrics(result.OOS.Values, nil, wf.Interval.AnnualizationFactor())
	}
	return result, nil
}

// outOfSample applies one parameter set to the full history and keeps only
// the (trainEnd, testEnd] portfolio slice. Signals may warm up on training
// bars; returns from those bars are discarded.
func (wf *WalkForward) outOfSample(params map[string]float64, trainEnd, testEnd time.Time) (backtest.ReturnSeries, error) {
	strat, err := wf.Factory.New(params)
	if err != nil {
		return backtest.ReturnSeries{}, err
	}
	perSymbol := make(map[string]backtest.ReturnSeries, len(wf.Data))
	for sym, series := range wf.Data {
		if series.Len() < 2 {
			continue
		}
		signal, err := strat.Apply(series)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sym).Msg("walk-forward: strategy failed on symbol, skipping")
			continue
		}
		perSymbol[sym] = backtest.ReturnSeries{
			Times:  series.Times(),
			Values: backtest.SizedStrategyReturns(series, signal, wf.Sizer),
		}
	}
	port := backtest.AggregateEqualWeight(perSymbol)
	return port.Slice(trainEnd, testEnd), nil
}

func span(data map[string]*market.Series) (start, end time.Time, ok bool) {
	for _, series := range data {
		if series.Empty() {
			continue
		}
		if !ok || series.Start().Before(start) {
			start = series.Start()
		}
		if !ok || series.End().After(end) {
			end = series.End()
		}
		ok = true
	}
	return start, end, ok
}
