package risk

import "github.com/maxemileffort/ivybt/internal/market"

// ApplyStopLoss overlays a fixed (non-trailing) stop on a signal series: once
// the close moves stopPct against the entry close, the signal is forced flat
// until the underlying signal changes direction (a fresh entry re-arms the
// stop). The overlay is causal: the stop at bar t compares close[t] to the
// entry close at or before t.
func ApplyStopLoss(signal []float64, s *market.Series, stopPct float64) []float64 {
	out := make([]float64, len(signal))
	if s == nil || s.Len() != len(signal) || stopPct <= 0 {
		copy(out, signal)
		return out
	}
	closes := s.Closes()

	var entryClose float64
	var held float64 // direction currently held by the overlay
	stopped := false

	for t := range signal {
		sig := signal[t]

		// Direction change in the raw signal re-arms the stop.
		if sig != held {
			held = sig
			stopped = false
			if sig != 0 {
				entryClose = closes[t]
			}
		}

		if stopped || sig == 0 || entryClose <= 0 {
			out[t] = 0
			if sig == 0 {
				out[t] = sig
			}
			continue
		}

		move := (closes[t] - entryClose) / entryClose
		if (sig > 0 && move <= -stopPct) || (sig < 0 && move >= stopPct) {
			stopped = true
			out[t] = 0
			continue
		}
		out[t] = sig
	}
	return out
}
