package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/maxemileffort/ivybt/internal/market"
	"github.com/maxemileffort/ivybt/internal/regime"
)

// RegimeMomentumConfig configures the regime-filtered momentum strategy.
type RegimeMomentumConfig struct {
	Lookback    int     `yaml:"lookback"`     // trailing-return window for direction
	ARWindow    int     `yaml:"ar_window"`    // rolling AR(1) regime window
	PhiDeadband float64 `yaml:"phi_deadband"`
	MinAbsT     float64 `yaml:"min_abs_t"`
	FlatHighVol bool    `yaml:"flat_high_vol"` // stand aside when vol regime is high
}

func (c RegimeMomentumConfig) Validate() error {
	if c.Lookback <= 0 {
		return fmt.Errorf("regime momentum: lookback must be positive, got %d", c.Lookback)
	}
	if c.ARWindow < 10 {
		return fmt.Errorf("regime momentum: ar_window must be >= 10, got %d", c.ARWindow)
	}
	return nil
}

// RegimeMomentum trades trailing-return direction, but only in bars the AR(1)
// filter tags as a momentum regime; in mean-reversion regimes it fades the
// trailing move, and in neutral (or optionally high-vol) bars it stands flat.
type RegimeMomentum struct {
	cfg RegimeMomentumConfig
}

func NewRegimeMomentum(cfg RegimeMomentumConfig) (*RegimeMomentum, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RegimeMomentum{cfg: cfg}, nil
}

func (r *RegimeMomentum) Name() string {
	return fmt.Sprintf("regime_momentum_%d_%d", r.cfg.Lookback, r.cfg.ARWindow)
}

func (r *RegimeMomentum) Apply(s *market.Series) ([]float64, error) {
	arCfg := regime.DefaultARConfig()
	arCfg.Window = r.cfg.ARWindow
	if r.cfg.PhiDeadband > 0 {
		arCfg.PhiDeadband = r.cfg.PhiDeadband
	}
	if r.cfg.MinAbsT > 0 {
		arCfg.MinAbsT = r.cfg.MinAbsT
	}

	ann, err := regime.AnnotateAR(s, arCfg)
	if err != nil {
		if errors.Is(err, regime.ErrInsufficientData) {
			// Too short to classify: stay flat rather than fail the run.
			return make([]float64, s.Len()), nil
		}
		return nil, err
	}

	closes := s.Closes()
	sig := make([]float64, s.Len())
	for t := r.cfg.Lookback; t < s.Len(); t++ {
		past := closes[t-r.cfg.Lookback]
		if past <= 0 {
			continue
		}
		trail := math.Log(closes[t] / past)
		dir := 0.0
		if trail > 0 {
			dir = 1
		} else if trail < 0 {
			dir = -1
		}

		if r.cfg.FlatHighVol && ann.HighVol[t] {
			continue
		}
		switch ann.Direction[t] {
		case regime.DirMomentum:
			sig[t] = dir
		case regime.DirMeanReversion:
			sig[t] = -dir
		}
	}
	return sig, nil
}

// RegimeMomentumFactory builds RegimeMomentum instances.
type RegimeMomentumFactory struct{}

func (RegimeMomentumFactory) Name() string { return "regime_momentum" }

func (RegimeMomentumFactory) ParamNames() []string {
	return []string{"lookback", "ar_window"}
}

func (RegimeMomentumFactory) New(params map[string]float64) (Strategy, error) {
	cfg := RegimeMomentumConfig{Lookback: 20, ARWindow: 60}
	for name, v := range params {
		switch name {
		case "lookback":
			cfg.Lookback = int(v)
		case "ar_window":
			cfg.ARWindow = int(v)
		default:
			return nil, fmt.Errorf("regime momentum: unknown parameter %q", name)
		}
	}
	return NewRegimeMomentum(cfg)
}

func (RegimeMomentumFactory) DefaultGrid() map[string][]float64 {
	return map[string][]float64{
		"lookback":  {10, 20, 40},
		"ar_window": {40, 60, 90},
	}
}
