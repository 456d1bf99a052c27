package market

// Interval identifies the bar interval of a series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval2m  Interval = "2m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval90m Interval = "90m"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
	Interval3mo Interval = "3mo"
)

// AnnualizationFactors maps a bar interval to the number of bars per year
// used when scaling per-bar statistics to annualized figures. This is a
// configuration table, not a derived quantity; extend it when adding
// intervals.
var AnnualizationFactors = map[Interval]float64{
	Interval1m:  252 * 390,
	Interval2m:  252 * 195,
	Interval5m:  252 * 78,
	Interval15m: 252 * 26,
	Interval30m: 252 * 13,
	Interval1h:  252 * 7,
	Interval90m: 252 * 4,
	Interval1d:  252,
	Interval1wk: 52,
	Interval1mo: 12,
	Interval3mo: 4,
}

// AnnualizationFactor returns the bars-per-year factor for the interval.
// Unknown intervals fall back to the daily factor.
func (iv Interval) AnnualizationFactor() float64 {
	if f, ok := AnnualizationFactors[iv]; ok {
		return f
	}
	return 252
}
