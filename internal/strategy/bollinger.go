package strategy

import (
	"fmt"
	"math"

	"github.com/maxemileffort/ivybt/internal/market"
)

// BollingerReversionConfig configures the Bollinger band mean-reversion
// strategy.
type BollingerReversionConfig struct {
	Length int     `yaml:"length"`
	Std    float64 `yaml:"std"`
}

func (c BollingerReversionConfig) Validate() error {
	if c.Length < 2 {
		return fmt.Errorf("bollinger: length must be >= 2, got %d", c.Length)
	}
	if c.Std <= 0 {
		return fmt.Errorf("bollinger: std must be positive, got %g", c.Std)
	}
	return nil
}

// BollingerReversion goes long when the close drops below the lower band and
// short when it rises above the upper band, exiting when the close crosses
// back through the midline.
type BollingerReversion struct {
	cfg BollingerReversionConfig
}

func NewBollingerReversion(cfg BollingerReversionConfig) (*BollingerReversion, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BollingerReversion{cfg: cfg}, nil
}

func (b *BollingerReversion) Name() string {
	return fmt.Sprintf("bollinger_reversion_%d_%.1f", b.cfg.Length, b.cfg.Std)
}

func (b *BollingerReversion) Apply(s *market.Series) ([]float64, error) {
	closes := s.Closes()
	mid := SMA(closes, b.cfg.Length)
	std := RollingStd(closes, b.cfg.Length)

	raw := make([]float64, len(closes))
	for t := range raw {
		if math.IsNaN(mid[t]) || math.IsNaN(std[t]) {
			raw[t] = math.NaN()
			continue
		}
		lower := mid[t] - b.cfg.Std*std[t]
		upper := mid[t] + b.cfg.Std*std[t]
		switch {
		case closes[t] < lower:
			raw[t] = 1
		case closes[t] > upper:
			raw[t] = -1
		default:
			raw[t] = math.NaN()
		}
	}
	sig := ffillSignal(raw)

	// Midline exit: a long closes once price is back above the mid, a short
	// once price is back below it.
	for t := range sig {
		if math.IsNaN(mid[t]) {
			continue
		}
		if sig[t] > 0 && closes[t] >= mid[t] {
			sig[t] = 0
		} else if sig[t] < 0 && closes[t] <= mid[t] {
			sig[t] = 0
		}
	}
	return sig, nil
}

// BollingerReversionFactory builds BollingerReversion instances.
type BollingerReversionFactory struct{}

func (BollingerReversionFactory) Name() string { return "bollinger_reversion" }

func (BollingerReversionFactory) ParamNames() []string { return []string{"length", "std"} }

func (BollingerReversionFactory) New(params map[string]float64) (Strategy, error) {
	cfg := BollingerReversionConfig{Length: 20, Std: 2.0}
	for name, v := range params {
		switch name {
		case "length":
			cfg.Length = int(v)
		case "std":
			cfg.Std = v
		default:
			return nil, fmt.Errorf("bollinger: unknown parameter %q", name)
		}
	}
	return NewBollingerReversion(cfg)
}

func (BollingerReversionFactory) DefaultGrid() map[string][]float64 {
	return map[string][]float64{
		"length": {10, 20, 40, 60},
		"std":    {1.5, 2.0, 2.5, 3.0},
	}
}
