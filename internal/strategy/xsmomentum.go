package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/maxemileffort/ivybt/internal/market"
)

// CrossSectionalMomentumConfig configures the multi-asset ranking strategy.
type CrossSectionalMomentumConfig struct {
	Lookback int  `yaml:"lookback"` // trailing-return ranking window
	TopN     int  `yaml:"top_n"`    // assets held long (and short) per side
	LongOnly bool `yaml:"long_only"`
}

func (c CrossSectionalMomentumConfig) Validate() error {
	if c.Lookback <= 0 {
		return fmt.Errorf("xs momentum: lookback must be positive, got %d", c.Lookback)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("xs momentum: top_n must be positive, got %d", c.TopN)
	}
	return nil
}

// CrossSectionalMomentum ranks the universe by trailing return at each bar
// and holds the top N long and bottom N short. It consumes the whole panel
// at once; per-asset signal series come out aligned with each asset's bars.
type CrossSectionalMomentum struct {
	cfg CrossSectionalMomentumConfig
}

func NewCrossSectionalMomentum(cfg CrossSectionalMomentumConfig) (*CrossSectionalMomentum, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CrossSectionalMomentum{cfg: cfg}, nil
}

func (x *CrossSectionalMomentum) Name() string {
	return fmt.Sprintf("xs_momentum_%d_top%d", x.cfg.Lookback, x.cfg.TopN)
}

// Apply rejects single-series evaluation: a cross-sectional rank has no
// meaning for one asset. The engine routes this type through ApplyPanel.
func (x *CrossSectionalMomentum) Apply(*market.Series) ([]float64, error) {
	return nil, fmt.Errorf("%s: cross-sectional ranking needs the full panel", x.Name())
}

// CrossSectionalMomentumFactory builds CrossSectionalMomentum instances for
// the registry and the optimizers. The long_only parameter is a 0/1 flag.
type CrossSectionalMomentumFactory struct{}

func (CrossSectionalMomentumFactory) Name() string { return "xs_momentum" }

func (CrossSectionalMomentumFactory) ParamNames() []string {
	return []string{"lookback", "long_only", "top_n"}
}

func (CrossSectionalMomentumFactory) New(params map[string]float64) (Strategy, error) {
	cfg := CrossSectionalMomentumConfig{Lookback: 60, TopN: 3}
	for name, v := range params {
		switch name {
		case "lookback":
			cfg.Lookback = int(v)
		case "top_n":
			cfg.TopN = int(v)
		case "long_only":
			cfg.LongOnly = v != 0
		default:
			return nil, fmt.Errorf("xs momentum: unknown parameter %q", name)
		}
	}
	return NewCrossSectionalMomentum(cfg)
}

func (CrossSectionalMomentumFactory) DefaultGrid() map[string][]float64 {
	return map[string][]float64{
		"lookback": {20, 40, 60, 90},
		"top_n":    {2, 3, 5},
	}
}

// ApplyPanel ranks trailing returns cross-sectionally per timestamp. Assets
// missing a bar at a timestamp simply do not compete at that bar.
func (x *CrossSectionalMomentum) ApplyPanel(panel map[string]*market.Series) (map[string][]float64, error) {
	if len(panel) == 0 {
		return nil, fmt.Errorf("xs momentum: empty panel")
	}

	// Trailing log return per asset per bar index, then regroup by timestamp.
	type entry struct {
		symbol string
		idx    int
		ret    float64
	}
	byTime := make(map[time.Time][]entry)
	signals := make(map[string][]float64, len(panel))

	for sym, s := range panel {
		signals[sym] = make([]float64, s.Len())
		closes := s.Closes()
		for t := x.cfg.Lookback; t < s.Len(); t++ {
			past := closes[t-x.cfg.Lookback]
			if past <= 0 || closes[t] <= 0 {
				continue
			}
			ts := s.Bars[t].Timestamp
			byTime[ts] = append(byTime[ts], entry{
				symbol: sym,
				idx:    t,
				ret:    math.Log(closes[t] / past),
			})
		}
	}

	for _, entries := range byTime {
		if len(entries) < 2 {
			continue
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].ret != entries[j].ret {
				return entries[i].ret > entries[j].ret
			}
			return entries[i].symbol < entries[j].symbol // deterministic ties
		})
		topN := x.cfg.TopN
		if topN > len(entries)/2 {
			topN = len(entries) / 2
		}
		if topN == 0 {
			topN = 1
		}
		for i := 0; i < topN && i < len(entries); i++ {
			e := entries[i]
			signals[e.symbol][e.idx] = 1
		}
		if !x.cfg.LongOnly {
			for i := len(entries) - topN; i < len(entries); i++ {
				if i < 0 {
					continue
				}
				e := entries[i]
				signals[e.symbol][e.idx] = -1
			}
		}
	}

	return signals, nil
}
