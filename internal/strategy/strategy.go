package strategy

import (
	"fmt"

	"github.com/maxemileffort/ivybt/internal/market"
)

// Strategy turns a bar series into a directional signal series.
//
// Rules:
//   - The output is aligned 1:1 with the input bars, each element in {-1, 0, +1}.
//   - Signals must be causal: signal[t] may only use bars up to and including t.
//     The engine does not enforce this; it is the strategy author's contract.
//   - Apply must be deterministic: same series, same signals.
type Strategy interface {
	// Name returns a stable identifier used in logs and result tables.
	Name() string

	// Apply computes the signal series for one instrument.
	Apply(s *market.Series) ([]float64, error)
}

// PortfolioStrategy consumes a multi-asset panel and emits one signal series
// per asset. Cross-sectional strategies implement this instead of Strategy.
type PortfolioStrategy interface {
	Name() string
	ApplyPanel(panel map[string]*market.Series) (map[string][]float64, error)
}

// Factory builds configured strategy instances from a flat parameter
// assignment. Optimizers use it to re-instantiate a strategy per parameter
// combination without reflection or dynamic dicts.
type Factory interface {
	// Name returns the strategy family name.
	Name() string

	// ParamNames lists the accepted parameter names, in a stable order.
	ParamNames() []string

	// New builds a strategy for one parameter assignment. Unknown names and
	// out-of-range values are configuration errors.
	New(params map[string]float64) (Strategy, error)

	// DefaultGrid returns a reasonable optimization grid for this family.
	DefaultGrid() map[string][]float64
}

// Registry maps family names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry populated with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(EMACrossFactory{})
	r.Register(BollingerReversionFactory{})
	r.Register(DonchianBreakoutFactory{})
	r.Register(RegimeMomentumFactory{})
	r.Register(CrossSectionalMomentumFactory{})
	return r
}

// Register adds a factory, replacing any previous entry for the name.
func (r *Registry) Register(f Factory) {
	r.factories[f.Name()] = f
}

// Lookup returns the factory for a family name.
func (r *Registry) Lookup(name string) (Factory, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f, nil
}

// Names returns the registered family names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}
