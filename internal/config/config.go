package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maxemileffort/ivybt/internal/backtest"
)

// Config is the root configuration for a single backtest run.
type Config struct {
	General    GeneralConfig      `yaml:"general"`
	Data       DataConfig         `yaml:"data"`
	Run        RunConfig          `yaml:"run"`
	Costs      backtest.CostModel `yaml:"costs"`
	Sizing     SizingConfig       `yaml:"sizing"`
	Optimize   OptimizeConfig     `yaml:"optimize"`
	Store      StoreConfig        `yaml:"store"`
	MonteCarlo MonteCarloConfig   `yaml:"monte_carlo"`
}

type GeneralConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json|text
}

type DataConfig struct {
	CSVDir     string   `yaml:"csv_dir"`
	ParquetDir string   `yaml:"parquet_dir"`
	Interval   string   `yaml:"interval"`
	Instrument string   `yaml:"instrument"` // forex|crypto|stocks, selects a built-in universe
	Symbols    []string `yaml:"symbols"`    // overrides the built-in universe when set
	Benchmark  string   `yaml:"benchmark"`
	Start      string   `yaml:"start"` // YYYY-MM-DD, empty means the full history
	End        string   `yaml:"end"`
}

// Range parses the configured date bounds. Empty bounds widen to the full
// available history.
func (d DataConfig) Range() (start, end time.Time, err error) {
	start = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	if d.Start != "" {
		if start, err = time.Parse("2006-01-02", d.Start); err != nil {
			return start, end, fmt.Errorf("parse data.start: %w", err)
		}
	}
	if d.End != "" {
		if end, err = time.Parse("2006-01-02", d.End); err != nil {
			return start, end, fmt.Errorf("parse data.end: %w", err)
		}
	}
	if !end.After(start) {
		return start, end, &backtest.ConfigurationError{Reason: "data.end must be after data.start"}
	}
	return start, end, nil
}

type RunConfig struct {
	Strategy    string             `yaml:"strategy"`
	Params      map[string]float64 `yaml:"params"`
	StopLossPct float64            `yaml:"stop_loss_pct"`
}

type SizingConfig struct {
	Mode      string  `yaml:"mode"` // fixed|volatility|kelly
	SizePct   float64 `yaml:"size_pct"`
	TargetVol float64 `yaml:"target_vol"`
	Lookback  int     `yaml:"lookback"`
	KellyCap  float64 `yaml:"kelly_cap"`
}

type OptimizeConfig struct {
	Grid       map[string][]float64 `yaml:"grid"`    // empty means the strategy's default grid
	Samples    int                  `yaml:"samples"` // > 0 switches grid search to random sampling
	Workers    int                  `yaml:"workers"`
	WindowDays int                  `yaml:"window_days"`
	StepDays   int                  `yaml:"step_days"`
}

type StoreConfig struct {
	DBPath      string `yaml:"db_path"`
	SummaryPath string `yaml:"summary_path"`
}

type MonteCarloConfig struct {
	Simulations int    `yaml:"simulations"`
	Method      string `yaml:"method"` // daily|trade
	Seed        int64  `yaml:"seed"`
}

// BatchConfig is the root configuration for a multi-job batch run.
type BatchConfig struct {
	General    GeneralConfig `yaml:"general"`
	MaxWorkers int           `yaml:"max_workers"`
	Store      StoreConfig   `yaml:"store"`
	Jobs       []Config      `yaml:"jobs"`
}

// Load reads and parses a YAML run configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBatch reads and parses a YAML batch configuration file.
func LoadBatch(path string) (*BatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &BatchConfig{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse batch config: %w", err)
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if len(cfg.Jobs) == 0 {
		return nil, &backtest.ConfigurationError{Reason: "batch config has no jobs"}
	}
	for i := range cfg.Jobs {
		applyDefaults(&cfg.Jobs[i])
		if err := cfg.Jobs[i].Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "text"
	}
	if cfg.Data.Interval == "" {
		cfg.Data.Interval = "1d"
	}
	if cfg.Sizing.Mode == "" {
		cfg.Sizing.Mode = "fixed"
	}
	if cfg.Sizing.SizePct == 0 {
		cfg.Sizing.SizePct = 1.0
	}
	if cfg.Sizing.Lookback == 0 {
		cfg.Sizing.Lookback = 20
	}
	if cfg.Optimize.WindowDays == 0 {
		cfg.Optimize.WindowDays = 504
	}
	if cfg.Optimize.StepDays == 0 {
		cfg.Optimize.StepDays = 63
	}
	if cfg.MonteCarlo.Simulations == 0 {
		cfg.MonteCarlo.Simulations = 1000
	}
	if cfg.MonteCarlo.Method == "" {
		cfg.MonteCarlo.Method = "daily"
	}
}

// Validate rejects configurations that cannot describe a runnable job.
func (c *Config) Validate() error {
	if c.Run.Strategy == "" {
		return &backtest.ConfigurationError{Reason: "run.strategy is required"}
	}
	if c.Data.Instrument != "" {
		if _, err := UniverseFor(c.Data.Instrument); err != nil {
			return err
		}
	}
	if c.Data.Instrument == "" && len(c.Data.Symbols) == 0 {
		return &backtest.ConfigurationError{Reason: "either data.instrument or data.symbols must be set"}
	}
	switch c.Sizing.Mode {
	case "fixed", "volatility", "kelly":
	default:
		return &backtest.ConfigurationError{Reason: fmt.Sprintf("unknown sizing mode %q", c.Sizing.Mode)}
	}
	if c.Run.StopLossPct < 0 {
		return &backtest.ConfigurationError{Reason: "run.stop_loss_pct must not be negative"}
	}
	return nil
}

// ResolveSymbols returns the symbol universe a job trades: explicit symbols
// when set, otherwise the built-in universe for the instrument type.
func (c *Config) ResolveSymbols() ([]string, error) {
	if len(c.Data.Symbols) > 0 {
		return c.Data.Symbols, nil
	}
	return UniverseFor(c.Data.Instrument)
}
