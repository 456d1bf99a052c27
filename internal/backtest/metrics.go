package backtest

import (
	"math"
	"sort"
	"time"
)

// RiskMetrics holds the scalar performance aggregates for one instrument or
// portfolio return series. Derived on demand from a net return series plus an
// annualization factor; never mutated in place. All calculations are
// deterministic with no I/O, RNG, or hidden state: recomputation from the
// same inputs is bit-identical.
type RiskMetrics struct {
	TotalReturn float64 // exp(sum(net)) - 1
	AnnReturn   float64 // exp(mean(net) * A) - 1
	AnnVol      float64 // std(net) * sqrt(A)
	Sharpe      float64 // AnnReturn / AnnVol, 0 when AnnVol == 0
	MaxDrawdown float64 // min peak-to-trough of exp(cumsum(net)), <= 0
	TradeCount  float64 // sum of |position diffs|

	SortinoRatio float64
	CalmarRatio  float64
	VaR95        float64 // 5th percentile of simple returns
	CVaR95       float64 // mean simple return at or below VaR95
	WinRate      float64 // fraction of positive simple returns
}

// ComputeMetrics calculates metrics from a cleaned net log-return series
// (leading undefined bar already dropped) and the trade-event series.
func ComputeMetrics(net []float64, trades []float64, annFactor float64) RiskMetrics {
	m := RiskMetrics{}
	if len(net) == 0 {
		return m
	}

	sum := 0.0
	for _, r := range net {
		sum += r
	}
	meanRet := sum / float64(len(net))

	m.TotalReturn = math.Exp(sum) - 1
	m.AnnReturn = math.Exp(meanRet*annFactor) - 1
	m.AnnVol = stddev(net, meanRet) * math.Sqrt(annFactor)
	if m.AnnVol != 0 {
		m.Sharpe = m.AnnReturn / m.AnnVol
	}
	m.MaxDrawdown = MaxDrawdownFromReturns(net)

	for _, t := range trades {
		m.TradeCount += t
	}

	// Extended metrics are computed on simple returns.
	simple := make([]float64, len(net))
	var downSq float64
	var wins int
	for i, r := range net {
		simple[i] = math.Expm1(r)
		if simple[i] < 0 {
			downSq += simple[i] * simple[i]
		}
		if simple[i] > 0 {
			wins++
		}
	}
	m.WinRate = float64(wins) / float64(len(simple))

	m.VaR95 = percentile(simple, 0.05)
	var cvarSum float64
	var cvarN int
	for _, r := range simple {
		if r <= m.VaR95 {
			cvarSum += r
			cvarN++
		}
	}
	if cvarN > 0 {
		m.CVaR95 = cvarSum / float64(cvarN)
	}

	downsideDev := math.Sqrt(downSq/float64(len(simple))) * math.Sqrt(annFactor)
	if downsideDev != 0 {
		m.SortinoRatio = m.AnnReturn / downsideDev
	}
	if m.MaxDrawdown != 0 {
		m.CalmarRatio = m.AnnReturn / math.Abs(m.MaxDrawdown)
	}

	return m
}

// MaxDrawdownFromReturns builds the cumulative equity curve exp(cumsum(net))
// and returns the deepest peak-to-trough decline as a negative fraction.
func MaxDrawdownFromReturns(net []float64) float64 {
	if len(net) == 0 {
		return 0
	}
	cum := 0.0
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, r := range net {
		cum += r
		eq := math.Exp(cum)
		if eq > peak {
			peak = eq
		}
		dd := (eq - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// ---------------------------------------------------------------------------
// ReturnSeries and portfolio aggregation
// ---------------------------------------------------------------------------

// ReturnSeries is a timestamped log-return series.
type ReturnSeries struct {
	Times  []time.Time
	Values []float64
}

// Len returns the number of observations.
func (rs ReturnSeries) Len() int { return len(rs.Values) }

// Slice returns the observations with start < t <= end.
func (rs ReturnSeries) Slice(start, end time.Time) ReturnSeries {
	var out ReturnSeries
	for i, ts := range rs.Times {
		if ts.After(start) && !ts.After(end) {
			out.Times = append(out.Times, ts)
			out.Values = append(out.Values, rs.Values[i])
		}
	}
	return out
}

// Append concatenates another series onto this one.
func (rs *ReturnSeries) Append(other ReturnSeries) {
	rs.Times = append(rs.Times, other.Times...)
	rs.Values = append(rs.Values, other.Values...)
}

// AggregateEqualWeight combines per-symbol log-return series into the
// equal-weighted portfolio log-return series. Symbols are aligned on the
// union of timestamps with missing bars contributing 0.
//
// The average is taken over simple returns and re-encoded with log1p:
// equal-weight rebalancing is naturally a simple-return average. Averaging
// log returns instead would under-count volatility drag and silently shift
// every portfolio Sharpe.
func AggregateEqualWeight(perSymbol map[string]ReturnSeries) ReturnSeries {
	if len(perSymbol) == 0 {
		return ReturnSeries{}
	}

	union := make(map[time.Time]struct{})
	for _, rs := range perSymbol {
		for _, ts := range rs.Times {
			union[ts] = struct{}{}
		}
	}
	times := make([]time.Time, 0, len(union))
	for ts := range union {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	index := make(map[time.Time]int, len(times))
	for i, ts := range times {
		index[ts] = i
	}

	sums := make([]float64, len(times))
	n := float64(len(perSymbol))
	for _, rs := range perSymbol {
		for i, ts := range rs.Times {
			sums[index[ts]] += math.Expm1(rs.Values[i])
		}
	}

	values := make([]float64, len(times))
	for i, s := range sums {
		values[i] = math.Log1p(s / n)
	}
	return ReturnSeries{Times: times, Values: values}
}

// ---------------------------------------------------------------------------
// statistics helpers
// ---------------------------------------------------------------------------

func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// percentile returns the q-quantile with linear interpolation.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
