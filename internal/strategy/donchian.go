package strategy

import (
	"fmt"
	"math"

	"github.com/maxemileffort/ivybt/internal/market"
)

// DonchianBreakoutConfig configures the Donchian channel breakout strategy
// (turtle-style: enter on the long channel, exit on the short one).
type DonchianBreakoutConfig struct {
	EntryWindow int `yaml:"entry_window"`
	ExitWindow  int `yaml:"exit_window"`
}

func (c DonchianBreakoutConfig) Validate() error {
	if c.EntryWindow <= 0 || c.ExitWindow <= 0 {
		return fmt.Errorf("donchian: windows must be positive, got %d/%d", c.EntryWindow, c.ExitWindow)
	}
	if c.ExitWindow >= c.EntryWindow {
		return fmt.Errorf("donchian: exit window (%d) must be below entry window (%d)", c.ExitWindow, c.EntryWindow)
	}
	return nil
}

// DonchianBreakout enters long when the close breaks above the prior
// EntryWindow-bar high, short below the prior low, and exits on the opposite
// extreme of the shorter ExitWindow channel. Channels are built on bars
// strictly before the current one so the breakout is of a completed window.
type DonchianBreakout struct {
	cfg DonchianBreakoutConfig
}

func NewDonchianBreakout(cfg DonchianBreakoutConfig) (*DonchianBreakout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DonchianBreakout{cfg: cfg}, nil
}

func (d *DonchianBreakout) Name() string {
	return fmt.Sprintf("donchian_breakout_%d_%d", d.cfg.EntryWindow, d.cfg.ExitWindow)
}

func (d *DonchianBreakout) Apply(s *market.Series) ([]float64, error) {
	n := s.Len()
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := s.Closes()
	for i, b := range s.Bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	// Shift by one: the channel at t covers [t-window, t-1].
	entryHigh := shiftNaN(RollingMax(highs, d.cfg.EntryWindow))
	entryLow := shiftNaN(RollingMin(lows, d.cfg.EntryWindow))
	exitHigh := shiftNaN(RollingMax(highs, d.cfg.ExitWindow))
	exitLow := shiftNaN(RollingMin(lows, d.cfg.ExitWindow))

	sig := make([]float64, n)
	pos := 0.0
	for t := 0; t < n; t++ {
		if math.IsNaN(entryHigh[t]) || math.IsNaN(entryLow[t]) {
			sig[t] = 0
			continue
		}
		switch {
		case closes[t] > entryHigh[t]:
			pos = 1
		case closes[t] < entryLow[t]:
			pos = -1
		case pos > 0 && !math.IsNaN(exitLow[t]) && closes[t] < exitLow[t]:
			pos = 0
		case pos < 0 && !math.IsNaN(exitHigh[t]) && closes[t] > exitHigh[t]:
			pos = 0
		}
		sig[t] = pos
	}
	return sig, nil
}

// shiftNaN shifts a slice right by one, inserting NaN at index 0.
func shiftNaN(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = math.NaN()
	copy(out[1:], values[:len(values)-1])
	return out
}

// DonchianBreakoutFactory builds DonchianBreakout instances.
type DonchianBreakoutFactory struct{}

func (DonchianBreakoutFactory) Name() string { return "donchian_breakout" }

func (DonchianBreakoutFactory) ParamNames() []string {
	return []string{"entry_window", "exit_window"}
}

func (DonchianBreakoutFactory) New(params map[string]float64) (Strategy, error) {
	cfg := DonchianBreakoutConfig{EntryWindow: 20, ExitWindow: 10}
	for name, v := range params {
		switch name {
		case "entry_window":
			cfg.EntryWindow = int(v)
		case "exit_window":
			cfg.ExitWindow = int(v)
		default:
			return nil, fmt.Errorf("donchian: unknown parameter %q", name)
		}
	}
	return NewDonchianBreakout(cfg)
}

func (DonchianBreakoutFactory) DefaultGrid() map[string][]float64 {
	return map[string][]float64{
		"entry_window": {20, 40, 55, 80},
		"exit_window":  {10, 15, 20},
	}
}
