package strategy

import (
	"fmt"
	"math"

	"github.com/maxemileffort/ivybt/internal/market"
)

// EMACrossConfig configures the EMA crossover strategy.
type EMACrossConfig struct {
	Fast int `yaml:"fast"`
	Slow int `yaml:"slow"`
}

// Validate checks the configuration at construction time.
func (c EMACrossConfig) Validate() error {
	if c.Fast <= 0 || c.Slow <= 0 {
		return fmt.Errorf("ema cross: fast and slow must be positive, got %d/%d", c.Fast, c.Slow)
	}
	if c.Fast >= c.Slow {
		return fmt.Errorf("ema cross: fast (%d) must be below slow (%d)", c.Fast, c.Slow)
	}
	return nil
}

// EMACross goes long while the fast EMA is above the slow EMA and short
// while it is below, holding the last direction in between.
type EMACross struct {
	cfg EMACrossConfig
}

// NewEMACross builds a validated EMA crossover strategy.
func NewEMACross(cfg EMACrossConfig) (*EMACross, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EMACross{cfg: cfg}, nil
}

func (e *EMACross) Name() string {
	return fmt.Sprintf("ema_cross_%d_%d", e.cfg.Fast, e.cfg.Slow)
}

func (e *EMACross) Apply(s *market.Series) ([]float64, error) {
	closes := s.Closes()
	fast := EMA(closes, e.cfg.Fast)
	slow := EMA(closes, e.cfg.Slow)

	raw := make([]float64, len(closes))
	for t := range raw {
		switch {
		case math.IsNaN(fast[t]) || math.IsNaN(slow[t]):
			raw[t] = math.NaN()
		case fast[t] > slow[t]:
			raw[t] = 1
		case fast[t] < slow[t]:
			raw[t] = -1
		default:
			raw[t] = math.NaN()
		}
	}
	return ffillSignal(raw), nil
}

// EMACrossFactory builds EMACross instances for the optimizers.
type EMACrossFactory struct{}

func (EMACrossFactory) Name() string { return "ema_cross" }

func (EMACrossFactory) ParamNames() []string { return []string{"fast", "slow"} }

func (EMACrossFactory) New(params map[string]float64) (Strategy, error) {
	cfg := EMACrossConfig{Fast: 10, Slow: 50}
	for name, v := range params {
		switch name {
		case "fast":
			cfg.Fast = int(v)
		case "slow":
			cfg.Slow = int(v)
		default:
			return nil, fmt.Errorf("ema cross: unknown parameter %q", name)
		}
	}
	return NewEMACross(cfg)
}

func (EMACrossFactory) DefaultGrid() map[string][]float64 {
	return map[string][]float64{
		"fast": {5, 10, 20, 30},
		"slow": {50, 100, 150, 200},
	}
}
