package backtest

import "fmt"

// DataGapError marks a symbol with insufficient or malformed bars. It is
// recoverable: the engine skips the symbol and continues the batch.
type DataGapError struct {
	Symbol string
	Reason string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap for %s: %s", e.Symbol, e.Reason)
}

// ConfigurationError marks an invalid run setup (unknown enum value,
// malformed parameter grid). It is fatal and surfaces before any
// computation begins, never mid-run.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
