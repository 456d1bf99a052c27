package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA_KnownValues(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)
}

func TestEMA_SeedsWithSMA(t *testing.T) {
	values := []float64{2, 4, 6, 8}
	out := EMA(values, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	// Seed = SMA(2,4,6) = 4; alpha = 2/4 = 0.5; next = 0.5*8 + 0.5*4 = 6.
	assert.InDelta(t, 4.0, out[2], 1e-12)
	assert.InDelta(t, 6.0, out[3], 1e-12)
}

func TestEMA_ShortInputAllNaN(t *testing.T) {
	out := EMA([]float64{1, 2}, 5)
	require.Len(t, out, 2)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRollingStd_KnownValues(t *testing.T) {
	out := RollingStd([]float64{1, 2, 3, 4}, 3)
	assert.True(t, math.IsNaN(out[1]))
	// Sample std of {1,2,3} = 1.
	assert.InDelta(t, 1.0, out[2], 1e-12)
	assert.InDelta(t, 1.0, out[3], 1e-12)
}

func TestRollingMaxMin(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5}
	mx := RollingMax(values, 3)
	mn := RollingMin(values, 3)
	assert.InDelta(t, 4.0, mx[2], 1e-12)
	assert.InDelta(t, 4.0, mx[3], 1e-12)
	assert.InDelta(t, 5.0, mx[4], 1e-12)
	assert.InDelta(t, 1.0, mn[2], 1e-12)
	assert.InDelta(t, 1.0, mn[4], 1e-12)
}

func TestFfillSignal(t *testing.T) {
	nan := math.NaN()
	out := ffillSignal([]float64{nan, nan, 1, nan, -1, nan})
	assert.Equal(t, []float64{0, 0, 1, 1, -1, -1}, out)
}
