package backtest

// CostModel maps position-change events to a per-bar return deduction.
// All components are expressed in basis points of traded notional.
type CostModel struct {
	CommissionBps float64 `yaml:"commission_bps"`
	SpreadBps     float64 `yaml:"spread_bps"`
	SlippageBps   float64 `yaml:"slippage_bps"`

	// PerSide charges each side-crossing event separately: an entry and an
	// exit each count one event, a long-to-short flip counts two. When
	// false the total is halved as a round-trip amortization.
	PerSide bool `yaml:"per_side"`
}

// ZeroCost is the frictionless model used for benchmarks.
var ZeroCost = CostModel{}

// Cost returns the return drag for a bar with the given trade event count
// (|position[t] - position[t-1]|). Pure; zero events cost zero.
func (c CostModel) Cost(tradeEvents float64) float64 {
	if tradeEvents <= 0 {
		return 0
	}
	unit := (c.CommissionBps + c.SpreadBps + c.SlippageBps) / 10000.0
	if unit < 0 {
		unit = 0
	}
	cost := tradeEvents * unit
	if !c.PerSide {
		cost /= 2
	}
	return cost
}

// IsZero reports whether the model charges nothing.
func (c CostModel) IsZero() bool {
	return c.CommissionBps == 0 && c.SpreadBps == 0 && c.SlippageBps == 0
}
