// Package risk converts raw directional signals into target position sizes.
// All sizers are causal: size[t] depends only on signal and price history up
// to t, and division guards yield 0 rather than letting NaN/Inf reach the
// return pipeline.
package risk

import (
	"math"

	"github.com/maxemileffort/ivybt/internal/market"
)

// Sizer converts a signal series into a position-size series of the same
// length. Magnitudes above 1 are allowed for leveraged sizers, capped by
// sizer-specific bounds.
type Sizer interface {
	// Name identifies the sizer in logs and result tables.
	Name() string

	// Size computes the target position size per bar.
	Size(signal []float64, s *market.Series) []float64
}

// ---------------------------------------------------------------------------
// FixedSizer
// ---------------------------------------------------------------------------

// FixedSizer scales the signal by a constant fraction of equity.
type FixedSizer struct {
	SizePct float64
}

// NewFixedSizer returns a sizer allocating sizePct of equity per signal.
func NewFixedSizer(sizePct float64) *FixedSizer {
	return &FixedSizer{SizePct: sizePct}
}

func (f *FixedSizer) Name() string { return "fixed" }

func (f *FixedSizer) Size(signal []float64, _ *market.Series) []float64 {
	out := make([]float64, len(signal))
	for t, sig := range signal {
		out[t] = sig * f.SizePct
	}
	return out
}

// ---------------------------------------------------------------------------
// VolatilitySizer
// ---------------------------------------------------------------------------

// VolatilitySizer targets a constant annualized volatility: the position is
// scaled by target/realized vol, capped at LeverageCap. The first Lookback
// bars are warm-up and size to 0, as do bars with zero realized vol.
type VolatilitySizer struct {
	TargetVol   float64
	Lookback    int
	LeverageCap float64
}

// NewVolatilitySizer returns a sizer targeting targetVol annualized with the
// given lookback; leverage is capped at 2x.
func NewVolatilitySizer(targetVol float64, lookback int) *VolatilitySizer {
	return &VolatilitySizer{TargetVol: targetVol, Lookback: lookback, LeverageCap: 2.0}
}

func (v *VolatilitySizer) Name() string { return "vol_target" }

func (v *VolatilitySizer) Size(signal []float64, s *market.Series) []float64 {
	out := make([]float64, len(signal))
	if s == nil || s.Len() != len(signal) || v.Lookback < 2 {
		return out
	}
	annFactor := s.Interval.AnnualizationFactor()
	rets := s.LogReturns()

	for t := v.Lookback; t < len(signal); t++ {
		// Trailing window of log returns, excluding the undefined ret[0].
		lo := t - v.Lookback + 1
		if lo < 1 {
			lo = 1
		}
		window := rets[lo : t+1]
		if len(window) < 2 {
			continue
		}
		realized := sampleStd(window) * math.Sqrt(annFactor)
		if realized <= 0 || math.IsNaN(realized) || math.IsInf(realized, 0) {
			continue // undefined vol sizes to zero, never a division error
		}
		weight := v.TargetVol / realized
		if weight > v.LeverageCap {
			weight = v.LeverageCap
		}
		out[t] = signal[t] * weight
	}
	return out
}

// ---------------------------------------------------------------------------
// KellySizer
// ---------------------------------------------------------------------------

// KellySizer sizes by the Kelly fraction of the unit-size strategy return
// (signal[t-1] * log return[t]) over an expanding window. A negative edge
// clips to zero; the sizer never shorts itself.
type KellySizer struct {
	HalfKelly  bool
	Cap        float64
	MinPeriods int
}

// NewKellySizer returns a half-Kelly sizer capped at 1.0 requiring 20
// samples before producing a non-zero size.
func NewKellySizer() *KellySizer {
	return &KellySizer{HalfKelly: true, Cap: 1.0, MinPeriods: 20}
}

func (k *KellySizer) Name() string { return "kelly" }

func (k *KellySizer) Size(signal []float64, s *market.Series) []float64 {
	out := make([]float64, len(signal))
	if s == nil || s.Len() != len(signal) {
		return out
	}
	rets := s.LogReturns()
	minP := k.MinPeriods
	if minP < 2 {
		minP = 2
	}

	// Expanding mean/variance via running sums over the theoretical
	// unit-size return stream. unit[t] uses signal[t-1], so the estimate at
	// t only sees returns already realized.
	var sum, sumSq float64
	var count int

	for t := 1; t < len(signal); t++ {
		unit := signal[t-1] * rets[t]
		sum += unit
		sumSq += unit * unit
		count++

		if count < minP {
			continue
		}
		n := float64(count)
		m := sum / n
		varc := (sumSq - n*m*m) / (n - 1)
		if varc <= 1e-12 {
			continue // degenerate variance sizes to zero
		}
		frac := m / varc
		if k.HalfKelly {
			frac *= 0.5
		}
		if frac < 0 {
			frac = 0
		}
		if frac > k.Cap {
			frac = k.Cap
		}
		out[t] = signal[t] * frac
	}
	return out
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := 0.0
	for _, x := range xs {
		m += x
	}
	m /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
