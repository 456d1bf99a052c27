// Package regime annotates bar series with directional and volatility
// regimes. Strategies consume the annotations; the engine itself never
// inspects them.
package regime

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/maxemileffort/ivybt/internal/market"
)

// Direction classifies the rolling return autocorrelation.
type Direction string

const (
	DirMomentum      Direction = "momentum"
	DirMeanReversion Direction = "mean_reversion"
	DirNeutral       Direction = "neutral"
)

// ErrInsufficientData marks a series too short for the requested windows.
// Callers can distinguish it from a fit failure and choose to skip rather
// than alert.
var ErrInsufficientData = errors.New("regime: insufficient data")

// FitError reports a model estimation that ran but did not converge.
type FitError struct {
	Model  string
	Reason string
}

func (e *FitError) Error() string {
	return fmt.Sprintf("regime: %s fit failed: %s", e.Model, e.Reason)
}

const eps = 1e-12

// ARConfig configures the rolling AR(1) directional filter.
type ARConfig struct {
	Window      int     `yaml:"window"`        // rolling AR(1) window
	PhiDeadband float64 `yaml:"phi_deadband"`  // |phi| below this is neutral
	MinAbsT     float64 `yaml:"min_abs_t"`     // required |t-stat| for a regime call
	VolWindow   int     `yaml:"vol_window"`    // realized vol window; 0 = Window
	VolQuantile float64 `yaml:"vol_quantile"`  // high-vol threshold quantile
}

// DefaultARConfig mirrors the standard daily-bar settings.
func DefaultARConfig() ARConfig {
	return ARConfig{
		Window:      60,
		PhiDeadband: 0.05,
		MinAbsT:     2.0,
		VolQuantile: 0.80,
	}
}

// ARAnnotation holds the per-bar output of the AR(1) filter, aligned 1:1
// with the input series.
type ARAnnotation struct {
	Phi       []float64
	PhiT      []float64
	Vol       []float64
	HighVol   []bool
	Direction []Direction
	Score     []float64 // phi * |t|, clipped to [-10, 10]
}

// AnnotateAR computes the rolling AR(1) regime for a series.
//
// The AR(1) slope is the rolling OLS estimate of ret[t] on ret[t-1]; its
// approximate t-stat gates the regime call so weak autocorrelation stays
// neutral.
func AnnotateAR(s *market.Series, cfg ARConfig) (*ARAnnotation, error) {
	if cfg.Window < 10 {
		return nil, fmt.Errorf("regime: window must be >= 10, got %d", cfg.Window)
	}
	n := s.Len()
	if n < cfg.Window+2 {
		return nil, fmt.Errorf("%w: %d bars, need %d", ErrInsufficientData, n, cfg.Window+2)
	}

	rets := s.LogReturns()
	w := cfg.Window
	vw := cfg.VolWindow
	if vw <= 0 {
		vw = w
	}

	ann := &ARAnnotation{
		Phi:       nanSlice(n),
		PhiT:      nanSlice(n),
		Vol:       nanSlice(n),
		HighVol:   make([]bool, n),
		Direction: make([]Direction, n),
		Score:     make([]float64, n),
	}
	for i := range ann.Direction {
		ann.Direction[i] = DirNeutral
	}

	// Rolling OLS of y=ret[t] on x=ret[t-1]. Index 0 has no lag; windows
	// start at t = w+1 so every window holds w full (x, y) pairs.
	for t := w + 1; t < n; t++ {
		y := rets[t-w+1 : t+1]
		x := rets[t-w : t]

		meanX, meanY := mean(x), mean(y)
		var covXY, varX float64
		for i := range x {
			covXY += (x[i] - meanX) * (y[i] - meanY)
			varX += (x[i] - meanX) * (x[i] - meanX)
		}
		nf := float64(w)
		covXY /= nf - 1
		varX /= nf - 1
		phi := covXY / (varX + eps)

		a := meanY - phi*meanX
		var sse float64
		for i := range x {
			r := y[i] - a - phi*x[i]
			sse += r * r
		}
		sigma2 := sse / (nf - 2 + eps)
		sePhi := math.Sqrt(sigma2 / ((nf-1+eps)*varX + eps))
		phiT := phi / (sePhi + eps)

		ann.Phi[t] = phi
		ann.PhiT[t] = phiT

		absT := math.Abs(phiT)
		switch {
		case phi > cfg.PhiDeadband && absT >= cfg.MinAbsT:
			ann.Direction[t] = DirMomentum
		case phi < -cfg.PhiDeadband && absT >= cfg.MinAbsT:
			ann.Direction[t] = DirMeanReversion
		}
		ann.Score[t] = clip(phi*absT, -10, 10)
	}

	// Realized vol and the rolling-quantile high-vol flag.
	for t := vw; t < n; t++ {
		ann.Vol[t] = stddev(rets[t-vw+1 : t+1])
	}
	longW := vw * 3
	if longW < 252 {
		longW = 252
	}
	minPeriods := vw
	if minPeriods < 20 {
		minPeriods = 20
	}
	for t := range ann.Vol {
		if math.IsNaN(ann.Vol[t]) {
			continue
		}
		lo := t - longW + 1
		if lo < 0 {
			lo = 0
		}
		window := validValues(ann.Vol[lo : t+1])
		if len(window) < minPeriods {
			continue
		}
		ann.HighVol[t] = ann.Vol[t] > quantile(window, cfg.VolQuantile)
	}

	return ann, nil
}

// --- shared helpers ---

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func variance(xs []float64) float64 {
	sd := stddev(xs)
	return sd * sd
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func validValues(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// quantile returns the q-quantile (linear interpolation) of values.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
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
