package config

import (
	"fmt"

	"github.com/maxemileffort/ivybt/internal/backtest"
)

// Built-in symbol universes per instrument type. Symbols use the Yahoo
// Finance convention so CSV exports from common data vendors load directly.
var universes = map[string][]string{
	"forex": {
		// Majors
		"EURUSD=X", "GBPUSD=X", "USDJPY=X", "USDCHF=X",
		"AUDUSD=X", "USDCAD=X", "NZDUSD=X",
		// Crosses
		"EURGBP=X", "EURJPY=X", "EURCHF=X", "EURAUD=X", "EURCAD=X", "EURNZD=X",
		"GBPJPY=X", "GBPCHF=X", "GBPAUD=X", "GBPCAD=X", "GBPNZD=X",
		"AUDJPY=X", "AUDCHF=X", "AUDCAD=X", "AUDNZD=X",
		"CADJPY=X", "CADCHF=X", "CHFJPY=X",
		"NZDJPY=X", "NZDCHF=X", "NZDCAD=X",
	},
	"crypto": {
		"BTC-USD", "ETH-USD", "SOL-USD", "BNB-USD", "XRP-USD",
		"ADA-USD", "AVAX-USD", "DOGE-USD", "DOT-USD", "LINK-USD",
		"LTC-USD", "BCH-USD", "ATOM-USD", "NEAR-USD", "UNI-USD",
		"AAVE-USD", "ARB-USD", "OP-USD", "INJ-USD", "SUI-USD",
		"TON-USD", "TRX-USD", "HBAR-USD", "FIL-USD", "ALGO-USD",
	},
	"stocks": {
		"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA",
		"META", "TSLA", "JPM", "V", "UNH",
		"XOM", "JNJ", "PG", "HD", "COST",
	},
}

// UniverseFor returns the built-in symbol list for an instrument type. The
// returned slice is a copy; callers may reorder or filter it freely.
func UniverseFor(instrumentType string) ([]string, error) {
	symbols, ok := universes[instrumentType]
	if !ok {
		return nil, &backtest.ConfigurationError{
			Reason: fmt.Sprintf("unknown instrument type %q (want forex, crypto, or stocks)", instrumentType)}
	}
	return append([]string(nil), symbols...), nil
}

// InstrumentTypes lists the supported instrument types.
func InstrumentTypes() []string {
	return []string{"crypto", "forex", "stocks"}
}
