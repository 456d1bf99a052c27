package regime

import (
	"fmt"
	"math"

	"github.com/maxemileffort/ivybt/internal/market"
)

// VolRegime classifies conditional volatility against its rolling quantile.
type VolRegime string

const (
	VolHigh    VolRegime = "high_vol"
	VolNormal  VolRegime = "normal_vol"
	VolUnknown VolRegime = "unknown"
)

// CombinedRegime merges the directional and volatility regimes into a single
// risk posture usable for drawdown control.
type CombinedRegime string

const (
	CombinedRiskOff     CombinedRegime = "risk_off"
	CombinedTrendOK     CombinedRegime = "trend_ok"
	CombinedMeanRevRisk CombinedRegime = "mean_reversion_risk"
	CombinedNeutral     CombinedRegime = "neutral"
)

// GARCHConfig configures the AR(1)-GARCH(1,1) volatility filter.
type GARCHConfig struct {
	AR          ARConfig `yaml:"ar"`
	FitWindow   int      `yaml:"fit_window"`   // trailing bars used for the MLE fit
	VolQuantile float64  `yaml:"vol_quantile"` // high-vol threshold on cond vol
	VolQWindow  int      `yaml:"vol_q_window"` // quantile lookback for cond vol
	MaxIter     int      `yaml:"max_iter"`     // optimizer iteration budget
	StrongScore float64  `yaml:"strong_score"` // |dir score| overriding risk-off
}

// DefaultGARCHConfig mirrors the standard ~3y daily fit window.
func DefaultGARCHConfig() GARCHConfig {
	return GARCHConfig{
		AR:          DefaultARConfig(),
		FitWindow:   756,
		VolQuantile: 0.80,
		VolQWindow:  252,
		MaxIter:     500,
		StrongScore: 1.0,
	}
}

// GARCHParams holds the fitted AR(1)-GARCH(1,1) parameters.
type GARCHParams struct {
	Mu    float64
	Phi   float64
	Omega float64
	Alpha float64
	Beta  float64
}

// Persistence is alpha+beta; values near 1 indicate long-memory volatility.
func (p GARCHParams) Persistence() float64 { return p.Alpha + p.Beta }

// GARCHAnnotation extends the AR annotation with conditional-volatility
// regimes from a single AR(1)-GARCH(1,1) fit on the trailing window.
type GARCHAnnotation struct {
	AR       *ARAnnotation
	Params   GARCHParams
	CondVar  []float64
	CondVol  []float64
	Z        []float64 // standardized residuals
	Vol      []VolRegime
	Combined []CombinedRegime
}

// AnnotateGARCH fits AR(1)-GARCH(1,1) by maximum likelihood on the trailing
// FitWindow returns and extends the rolling AR annotation with conditional
// volatility regimes. A short series returns ErrInsufficientData; a fit that
// does not converge returns a *FitError. There is no NaN-column fallback.
func AnnotateGARCH(s *market.Series, cfg GARCHConfig) (*GARCHAnnotation, error) {
	ar, err := AnnotateAR(s, cfg.AR)
	if err != nil {
		return nil, err
	}

	rets := s.LogReturns()
	// Index 0 carries no return.
	obs := rets[1:]
	minObs := cfg.FitWindow / 2
	if minObs < 300 {
		minObs = 300
	}
	if len(obs) < minObs {
		return nil, fmt.Errorf("%w: %d returns, need %d for a stable GARCH fit",
			ErrInsufficientData, len(obs), minObs)
	}

	fitSlice := obs
	if len(obs) > cfg.FitWindow {
		fitSlice = obs[len(obs)-cfg.FitWindow:]
	}

	params, err := fitARGARCH(fitSlice, cfg.MaxIter)
	if err != nil {
		return nil, err
	}

	n := s.Len()
	out := &GARCHAnnotation{
		AR:       ar,
		Params:   params,
		CondVar:  nanSlice(n),
		CondVol:  nanSlice(n),
		Z:        nanSlice(n),
		Vol:      make([]VolRegime, n),
		Combined: make([]CombinedRegime, n),
	}
	for i := range out.Vol {
		out.Vol[i] = VolUnknown
		out.Combined[i] = CombinedNeutral
	}

	// Conditional variance recursion over the full return series.
	e := make([]float64, n)
	e[1] = rets[1] - params.Mu
	for t := 2; t < n; t++ {
		e[t] = rets[t] - params.Mu - params.Phi*rets[t-1]
	}
	denom := 1.0 - params.Alpha - params.Beta
	var h0 float64
	if denom > 1e-6 {
		h0 = math.Max(1e-12, params.Omega/denom)
	} else {
		h0 = math.Max(1e-12, variance(e[1:]))
	}
	out.CondVar[1] = h0
	for t := 2; t < n; t++ {
		out.CondVar[t] = math.Max(1e-12,
			params.Omega+params.Alpha*e[t-1]*e[t-1]+params.Beta*out.CondVar[t-1])
	}
	for t := 1; t < n; t++ {
		out.CondVol[t] = math.Sqrt(out.CondVar[t])
		out.Z[t] = e[t] / (out.CondVol[t] + eps)
	}

	// Vol regime: conditional vol vs its rolling quantile.
	minPeriods := cfg.VolQWindow / 3
	if minPeriods < 20 {
		minPeriods = 20
	}
	for t := 1; t < n; t++ {
		lo := t - cfg.VolQWindow + 1
		if lo < 1 {
			lo = 1
		}
		window := validValues(out.CondVol[lo : t+1])
		if len(window) < minPeriods {
			continue
		}
		if out.CondVol[t] > quantile(window, cfg.VolQuantile) {
			out.Vol[t] = VolHigh
		} else {
			out.Vol[t] = VolNormal
		}
	}

	// Combined regime for drawdown control: high vol without a strong
	// directional score is risk-off.
	for t := 0; t < n; t++ {
		strongDir := math.Abs(ar.Score[t]) >= cfg.StrongScore
		switch {
		case out.Vol[t] == VolHigh && !strongDir:
			out.Combined[t] = CombinedRiskOff
		case ar.Direction[t] == DirMomentum && out.Vol[t] == VolNormal:
			out.Combined[t] = CombinedTrendOK
		case ar.Direction[t] == DirMeanReversion:
			out.Combined[t] = CombinedMeanRevRisk
		}
	}

	return out, nil
}

// ---------------------------------------------------------------------------
// AR(1)-GARCH(1,1) maximum likelihood
// ---------------------------------------------------------------------------

// Unconstrained parameter vector theta = [mu, phiRaw, omegaRaw, aRaw, bRaw],
// mapped to the constrained space by unpackTheta:
//   phi   = 0.999 * tanh(phiRaw)                 (|phi| < 0.999)
//   omega = softplus(omegaRaw) + 1e-12           (omega > 0)
//   alpha, beta from a sigmoid pair normalized so alpha+beta < 0.999.
func unpackTheta(theta [5]float64) GARCHParams {
	softplus := func(u float64) float64 {
		return math.Log1p(math.Exp(-math.Abs(u))) + math.Max(u, 0)
	}
	sigmoid := func(u float64) float64 { return 1.0 / (1.0 + math.Exp(-u)) }

	a01 := sigmoid(theta[3])
	b01 := sigmoid(theta[4])
	s := a01 + b01 + 1e-12
	return GARCHParams{
		Mu:    theta[0],
		Phi:   0.999 * math.Tanh(theta[1]),
		Omega: softplus(theta[2]) + 1e-12,
		Alpha: 0.999 * (a01 / s),
		Beta:  0.999 * (b01 / s),
	}
}

func negLogLik(theta [5]float64, data []float64) float64 {
	p := unpackTheta(theta)

	e := make([]float64, len(data))
	e[0] = data[0] - p.Mu
	for t := 1; t < len(data); t++ {
		e[t] = data[t] - p.Mu - p.Phi*data[t-1]
	}

	denom := math.Max(1e-6, 1.0-p.Alpha-p.Beta)
	h := math.Max(1e-12, p.Omega/denom)

	nll := 0.0
	for t := 0; t < len(data); t++ {
		if t > 0 {
			h = p.Omega + p.Alpha*e[t-1]*e[t-1] + p.Beta*h
			if h < 1e-12 {
				h = 1e-12
			}
		}
		ll := -0.5 * (math.Log(2*math.Pi) + math.Log(h) + e[t]*e[t]/h)
		if !math.IsInf(ll, 0) && !math.IsNaN(ll) {
			nll -= ll
		}
	}
	return nll
}

// fitARGARCH estimates the parameters with a Nelder-Mead simplex in the
// transformed space. No gradient is needed and the 5-dim problem converges
// in a few hundred iterations.
func fitARGARCH(data []float64, maxIter int) (GARCHParams, error) {
	if maxIter <= 0 {
		maxIter = 500
	}

	v0 := variance(data)
	if v0 <= 0 {
		return GARCHParams{}, &FitError{Model: "ar-garch", Reason: "zero return variance"}
	}
	logit := func(p float64) float64 {
		p = clip(p, 1e-6, 1-1e-6)
		return math.Log(p / (1 - p))
	}
	omega0 := 0.05 * v0
	theta0 := [5]float64{
		mean(data),
		0, // atanh(0)
		math.Log(math.Expm1(math.Max(omega0, 1e-12)) + 1e-12),
		logit(0.10 / 0.95),
		logit(0.85 / 0.95),
	}

	best, converged := nelderMead(func(t [5]float64) float64 {
		return negLogLik(t, data)
	}, theta0, maxIter)

	if !converged {
		return GARCHParams{}, &FitError{Model: "ar-garch", Reason: "simplex did not converge"}
	}
	p := unpackTheta(best)
	if math.IsNaN(p.Omega) || math.IsNaN(p.Alpha) || math.IsNaN(p.Beta) {
		return GARCHParams{}, &FitError{Model: "ar-garch", Reason: "non-finite parameters"}
	}
	return p, nil
}

// nelderMead minimizes f over 5 dimensions with the standard
// reflection/expansion/contraction/shrink simplex. Returns the best vertex
// and whether the simplex collapsed below tolerance within the budget.
func nelderMead(f func([5]float64) float64, x0 [5]float64, maxIter int) ([5]float64, bool) {
	const (
		dim   = 5
		alpha = 1.0
		gamma = 2.0
		rho   = 0.5
		sigma = 0.5
		tol   = 1e-8
	)

	// Initial simplex: x0 plus per-coordinate perturbations.
	var verts [dim + 1][5]float64
	var vals [dim + 1]float64
	verts[0] = x0
	for i := 0; i < dim; i++ {
		v := x0
		step := 0.05
		if v[i] != 0 {
			step = 0.05 * math.Abs(v[i])
		}
		v[i] += step
		verts[i+1] = v
	}
	for i := range verts {
		vals[i] = f(verts[i])
	}

	order := func() {
		// Insertion sort; the simplex is small.
		for i := 1; i < len(verts); i++ {
			v, fv := verts[i], vals[i]
			j := i - 1
			for j >= 0 && vals[j] > fv {
				verts[j+1], vals[j+1] = verts[j], vals[j]
				j--
			}
			verts[j+1], vals[j+1] = v, fv
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		order()
		if math.Abs(vals[dim]-vals[0]) < tol {
			return verts[0], true
		}

		// Centroid of all but the worst vertex.
		var cen [5]float64
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				cen[j] += verts[i][j]
			}
		}
		for j := 0; j < dim; j++ {
			cen[j] /= float64(dim)
		}

		reflect := func(coef float64) [5]float64 {
			var out [5]float64
			for j := 0; j < dim; j++ {
				out[j] = cen[j] + coef*(cen[j]-verts[dim][j])
			}
			return out
		}

		xr := reflect(alpha)
		fr := f(xr)
		switch {
		case fr < vals[0]:
			xe := reflect(gamma)
			fe := f(xe)
			if fe < fr {
				verts[dim], vals[dim] = xe, fe
			} else {
				verts[dim], vals[dim] = xr, fr
			}
		case fr < vals[dim-1]:
			verts[dim], vals[dim] = xr, fr
		default:
			xc := reflect(-rho)
			fc := f(xc)
			if fc < vals[dim] {
				verts[dim], vals[dim] = xc, fc
			} else {
				// Shrink toward the best vertex.
				for i := 1; i <= dim; i++ {
					for j := 0; j < dim; j++ {
						verts[i][j] = verts[0][j] + sigma*(verts[i][j]-verts[0][j])
					}
					vals[i] = f(verts[i])
				}
			}
		}
	}

	order()
	// Budget exhausted: accept the best vertex if the simplex is tight
	// enough to be meaningful, otherwise report non-convergence.
	if math.Abs(vals[dim]-vals[0]) < 1e-3*math.Max(1, math.Abs(vals[0])) {
		return verts[0], true
	}
	return verts[0], false
}
