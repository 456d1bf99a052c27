package optimize

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/maxemileffort/ivybt/internal/backtest"
	"github.com/maxemileffort/ivybt/internal/market"
	"github.com/maxemileffort/ivybt/internal/risk"
	"github.com/maxemileffort/ivybt/internal/strategy"
)

// Grid maps parameter names to their candidate values.
type Grid map[string][]float64

// Validate rejects grids that cannot produce a single combination. An empty
// candidate list is always a configuration mistake, never a silent no-op.
func (g Grid) Validate() error {
	if len(g) == 0 {
		return &backtest.ConfigurationError{Reason: "parameter grid is empty"}
	}
	for name, values := range g {
		if len(values) == 0 {
			return &backtest.ConfigurationError{
				Reason: fmt.Sprintf("parameter %q has no candidate values", name)}
		}
	}
	return nil
}

// Size returns the number of combinations in the full cartesian product.
func (g Grid) Size() int {
	n := 1
	for _, values := range g {
		n *= len(values)
	}
	return n
}

// Combinations enumerates the cartesian product. Parameter names are sorted
// so enumeration order is stable across runs; ties in later ranking resolve
// to the earliest combination in this order.
func (g Grid) Combinations() []map[string]float64 {
	names := g.sortedNames()
	out := make([]map[string]float64, 0, g.Size())
	idx := make([]int, len(names))
	for {
		combo := make(map[string]float64, len(names))
		for i, name := range names {
			combo[name] = g[name][idx[i]]
		}
		out = append(out, combo)

		// Odometer increment, least-significant name last.
		i := len(names) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(g[names[i]]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}

// ComboAt decodes one flat enumeration index into its combination without
// materializing the product. ComboAt(i) equals Combinations()[i].
func (g Grid) ComboAt(flat int) map[string]float64 {
	names := g.sortedNames()
	combo := make(map[string]float64, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		values := g[names[i]]
		combo[names[i]] = values[flat%len(values)]
		flat /= len(values)
	}
	return combo
}

func (g Grid) sortedNames() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Row is one evaluated combination. Scores come from the sized, cost-free
// return pipeline: the sizer that trades also selects, while cost
// assumptions do not steer the ranking.
type Row struct {
	Index     int
	Params    map[string]float64
	Sharpe    float64
	AnnReturn float64
}

// GridSearch evaluates a parameter grid for one strategy family over a
// universe of series.
type GridSearch struct {
	Factory  strategy.Factory
	Data     map[string]*market.Series
	Interval market.Interval
	Sizer    risk.Sizer // nil means unit size
	Workers  int        // <= 0 means GOMAXPROCS
}

// Run evaluates every combination and returns rows sorted by descending
// Sharpe. Combinations whose parameters fail family validation are skipped
// with a log line; an all-skip run returns an empty table, not an error.
func (gs *GridSearch) Run(ctx context.Context, grid Grid) ([]Row, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	combos := grid.Combinations()

	workers := gs.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(combos) {
		workers = len(combos)
	}

	type job struct {
		index  int
		params map[string]float64
	}
	jobs := make(chan job)
	results := make(chan Row, len(combos))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				row, ok := gs.evaluate(j.index, j.params)
				if ok {
					results <- row
				}
			}
		}()
	}

	feedErr := func() error {
		defer close(jobs)
		for i, combo := range combos {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case jobs <- job{index: i, params: combo}:
			}
		}
		return nil
	}()

	wg.Wait()
	close(results)
	if feedErr != nil {
		return nil, feedErr
	}

	rows := make([]Row, 0, len(combos))
	for row := range results {
		rows = append(rows, row)
	}
	// Rank by Sharpe; equal scores keep enumeration order.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Sharpe > rows[j].Sharpe })

	log.Info().
		Str("strategy", gs.Factory.Name()).
		Int("combinations", len(combos)).
		Int("evaluated", len(rows)).
		Int("workers", workers).
		Msg("grid search complete")

	return rows, nil
}

// evaluate scores one combination over the equal-weighted sized-return
// portfolio. A false return means the combination was skipped.
func (gs *GridSearch) evaluate(index int, params map[string]float64) (Row, bool) {
	strat, err := gs.Factory.New(params)
	if err != nil {
		log.Debug().Err(err).Interface("params", params).Msg("grid: invalid combination, skipping")
		return Row{}, false
	}

	perSymbol := make(map[string]backtest.ReturnSeries, len(gs.Data))
	for sym, series := range gs.Data {
		if series.Len() < 2 {
			continue
		}
		signal, err := strat.Apply(series)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sym).Msg("grid: strategy failed on symbol, skipping")
			continue
		}
		perSymbol[sym] = backtest.ReturnSeries{
			Times:  series.Times(),
			Values: backtest.SizedStrategyReturns(series, signal, gs.Sizer),
		}
	}
	if len(perSymbol) == 0 {
		return Row{}, false
	}

	port := backtest.AggregateEqualWeight(perSymbol)
	if port.Len() <= 1 {
		return Row{}, false
	}
	m := backtest.ComputeMetrics(port.Values[1:], nil, gs.Interval.AnnualizationFactor())
	return Row{Index: index, Params: params, Sharpe: m.Sharpe, AnnReturn: m.AnnReturn}, true
}

// Best returns the top row of a ranked table.
func Best(rows []Row) (Row, bool) {
	if len(rows) == 0 {
		return Row{}, false
	}
	return rows[0], true
}
