package strategy

import "math"

// EMA computes an exponential moving average with smoothing 2/(length+1).
// The first length-1 values are NaN (warm-up), matching the convention that
// strategies emit 0 signals until their indicators are defined.
func EMA(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if length <= 0 || len(values) < length {
		return out
	}
	// Seed with the SMA of the first window.
	sum := 0.0
	for i := 0; i < length; i++ {
		sum += values[i]
	}
	out[length-1] = sum / float64(length)
	alpha := 2.0 / (float64(length) + 1.0)
	for i := length; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// SMA computes a simple moving average; warm-up values are NaN.
func SMA(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if length <= 0 || len(values) < length {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= length {
			sum -= values[i-length]
		}
		if i >= length-1 {
			out[i] = sum / float64(length)
		}
	}
	return out
}

// RollingStd computes the rolling sample standard deviation; warm-up NaN.
func RollingStd(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if length < 2 || len(values) < length {
		return out
	}
	for i := length - 1; i < len(values); i++ {
		window := values[i-length+1 : i+1]
		m := 0.0
		for _, v := range window {
			m += v
		}
		m /= float64(length)
		ss := 0.0
		for _, v := range window {
			d := v - m
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(length-1))
	}
	return out
}

// RollingMax computes the maximum over the trailing window ending at each
// index (inclusive); warm-up NaN.
func RollingMax(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if length <= 0 || len(values) < length {
		return out
	}
	for i := length - 1; i < len(values); i++ {
		mx := values[i-length+1]
		for _, v := range values[i-length+2 : i+1] {
			if v > mx {
				mx = v
			}
		}
		out[i] = mx
	}
	return out
}

// RollingMin computes the minimum over the trailing window; warm-up NaN.
func RollingMin(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if length <= 0 || len(values) < length {
		return out
	}
	for i := length - 1; i < len(values); i++ {
		mn := values[i-length+1]
		for _, v := range values[i-length+2 : i+1] {
			if v < mn {
				mn = v
			}
		}
		out[i] = mn
	}
	return out
}

// ffillSignal carries the previous non-zero directional decision forward and
// replaces leading undecided bars with 0. The raw input uses NaN for "no
// opinion at this bar".
func ffillSignal(raw []float64) []float64 {
	out := make([]float64, len(raw))
	last := 0.0
	for i, v := range raw {
		if !math.IsNaN(v) {
			last = v
		}
		out[i] = last
	}
	return out
}
