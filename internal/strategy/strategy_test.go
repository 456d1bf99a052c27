package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxemileffort/ivybt/internal/market"
)

func dayTime(dayOffset int) time.Time {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(dayOffset) * 24 * time.Hour)
}

func seriesFromCloses(symbol string, closes []float64) *market.Series {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Timestamp: dayTime(i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return market.NewSeries(symbol, market.Interval1d, bars)
}

func TestRegistry_BuiltinsRegistered(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"ema_cross", "bollinger_reversion", "donchian_breakout", "regime_momentum", "xs_momentum"} {
		f, err := r.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, f.Name())
		assert.NotEmpty(t, f.DefaultGrid(), name)
	}
	_, err := r.Lookup("nope")
	assert.Error(t, err)
}

func TestEMACrossConfig_Validation(t *testing.T) {
	_, err := NewEMACross(EMACrossConfig{Fast: 50, Slow: 10})
	assert.Error(t, err, "fast above slow must fail")
	_, err = NewEMACross(EMACrossConfig{Fast: 0, Slow: 10})
	assert.Error(t, err)
	_, err = NewEMACross(EMACrossConfig{Fast: 5, Slow: 20})
	assert.NoError(t, err)
}

func TestEMACross_TrendsLong(t *testing.T) {
	closes := make([]float64, 60)
	price := 100.0
	for i := range closes {
		price *= 1.01
		closes[i] = price
	}
	strat, err := NewEMACross(EMACrossConfig{Fast: 5, Slow: 20})
	require.NoError(t, err)
	sig, err := strat.Apply(seriesFromCloses("UP", closes))
	require.NoError(t, err)
	require.Len(t, sig, 60)

	// Warm-up bars carry no opinion.
	assert.Equal(t, 0.0, sig[0])
	// In a steady uptrend the fast EMA sits above the slow one.
	assert.Equal(t, 1.0, sig[40])
	assert.Equal(t, 1.0, sig[59])
}

func TestEMACross_TrendsShort(t *testing.T) {
	closes := make([]float64, 60)
	price := 100.0
	for i := range closes {
		price *= 0.99
		closes[i] = price
	}
	strat, _ := NewEMACross(EMACrossConfig{Fast: 5, Slow: 20})
	sig, err := strat.Apply(seriesFromCloses("DOWN", closes))
	require.NoError(t, err)
	assert.Equal(t, -1.0, sig[40])
}

func TestEMACrossFactory_RejectsUnknownParam(t *testing.T) {
	_, err := EMACrossFactory{}.New(map[string]float64{"speed": 3})
	assert.Error(t, err)
}

func TestBollingerReversion_FadesExtremes(t *testing.T) {
	// Stable closes, then a sharp drop below the lower band.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i%2) // tiny oscillation keeps std non-zero
	}
	closes[25] = 80 // far below the band
	strat, err := NewBollingerReversion(BollingerReversionConfig{Length: 10, Std: 2})
	require.NoError(t, err)
	sig, err := strat.Apply(seriesFromCloses("TEST", closes))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sig[25], "drop below lower band should go long")
}

func TestBollingerReversion_MidlineExit(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	closes[20] = 80  // long entry
	closes[24] = 102 // back above the midline
	strat, _ := NewBollingerReversion(BollingerReversionConfig{Length: 10, Std: 2})
	sig, err := strat.Apply(seriesFromCloses("TEST", closes))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sig[20])
	assert.Equal(t, 0.0, sig[24], "close above midline must flatten the long")
}

func TestDonchianConfig_Validation(t *testing.T) {
	_, err := NewDonchianBreakout(DonchianBreakoutConfig{EntryWindow: 10, ExitWindow: 20})
	assert.Error(t, err, "exit window must be below entry window")
	_, err = NewDonchianBreakout(DonchianBreakoutConfig{EntryWindow: 20, ExitWindow: 10})
	assert.NoError(t, err)
}

func TestDonchianBreakout_EntersOnBreakout(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	for i := 25; i < 40; i++ {
		closes[i] = 110 // breaks the prior 20-bar high
	}
	strat, _ := NewDonchianBreakout(DonchianBreakoutConfig{EntryWindow: 20, ExitWindow: 5})
	sig, err := strat.Apply(seriesFromCloses("TEST", closes))
	require.NoError(t, err)

	assert.Equal(t, 0.0, sig[10], "no position inside the channel")
	assert.Equal(t, 1.0, sig[25], "breakout bar goes long")
	assert.Equal(t, 1.0, sig[30], "position holds while above the exit channel")
}

func TestDonchianBreakout_ExitChannel(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100
	}
	for i := 22; i < 30; i++ {
		closes[i] = 110 // long breakout
	}
	for i := 30; i < 50; i++ {
		closes[i] = 107 // below the 5-bar exit low of 110, above the entry low
	}
	strat, _ := NewDonchianBreakout(DonchianBreakoutConfig{EntryWindow: 20, ExitWindow: 5})
	sig, err := strat.Apply(seriesFromCloses("TEST", closes))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sig[25])
	assert.Equal(t, 0.0, sig[30], "drop through the exit channel flattens")
	assert.Equal(t, 0.0, sig[36])
}

func TestCrossSectionalMomentum_RanksPanel(t *testing.T) {
	n := 30
	winner := make([]float64, n)
	loser := make([]float64, n)
	flat := make([]float64, n)
	pw, pl := 100.0, 100.0
	for i := 0; i < n; i++ {
		pw *= 1.02
		pl *= 0.98
		winner[i] = pw
		loser[i] = pl
		flat[i] = 100
	}
	panel := map[string]*market.Series{
		"WIN":  seriesFromCloses("WIN", winner),
		"LOSE": seriesFromCloses("LOSE", loser),
		"FLAT": seriesFromCloses("FLAT", flat),
	}
	strat, err := NewCrossSectionalMomentum(CrossSectionalMomentumConfig{Lookback: 10, TopN: 1})
	require.NoError(t, err)
	signals, err := strat.ApplyPanel(panel)
	require.NoError(t, err)

	assert.Equal(t, 1.0, signals["WIN"][20])
	assert.Equal(t, -1.0, signals["LOSE"][20])
	assert.Equal(t, 0.0, signals["FLAT"][20])
	// Warm-up bars never rank.
	assert.Equal(t, 0.0, signals["WIN"][5])
}

func TestCrossSectionalMomentum_LongOnly(t *testing.T) {
	n := 30
	up := make([]float64, n)
	down := make([]float64, n)
	pu, pd := 100.0, 100.0
	for i := 0; i < n; i++ {
		pu *= 1.02
		pd *= 0.98
		up[i] = pu
		down[i] = pd
	}
	panel := map[string]*market.Series{
		"UP":   seriesFromCloses("UP", up),
		"DOWN": seriesFromCloses("DOWN", down),
	}
	strat, _ := NewCrossSectionalMomentum(CrossSectionalMomentumConfig{Lookback: 10, TopN: 1, LongOnly: true})
	signals, err := strat.ApplyPanel(panel)
	require.NoError(t, err)
	assert.Equal(t, 1.0, signals["UP"][20])
	assert.Equal(t, 0.0, signals["DOWN"][20], "long-only must not short the loser")
}

func TestSignalsStayInRange(t *testing.T) {
	closes := make([]float64, 300)
	price := 100.0
	for i := range closes {
		price *= math.Exp(0.03 * math.Sin(float64(i)/7))
		closes[i] = price
	}
	series := seriesFromCloses("WAVE", closes)

	strats := []Strategy{}
	s1, _ := NewEMACross(EMACrossConfig{Fast: 10, Slow: 50})
	s2, _ := NewBollingerReversion(BollingerReversionConfig{Length: 20, Std: 2})
	s3, _ := NewDonchianBreakout(DonchianBreakoutConfig{EntryWindow: 20, ExitWindow: 10})
	strats = append(strats, s1, s2, s3)

	for _, strat := range strats {
		sig, err := strat.Apply(series)
		require.NoError(t, err, strat.Name())
		require.Len(t, sig, len(closes))
		for i, v := range sig {
			assert.Contains(t, []float64{-1, 0, 1}, v, "%s bar %d", strat.Name(), i)
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestCrossSectionalMomentumFactory(t *testing.T) {
	f := CrossSectionalMomentumFactory{}
	s, err := f.New(map[string]float64{"lookback": 20, "top_n": 2, "long_only": 1})
	require.NoError(t, err)
	xs, ok := s.(*CrossSectionalMomentum)
	require.True(t, ok)
	assert.Equal(t, "xs_momentum_20_top2", xs.Name())

	_, err = f.New(map[string]float64{"window": 5})
	assert.Error(t, err, "unknown parameter must fail")

	_, err = f.New(map[string]float64{"lookback": 0})
	assert.Error(t, err)
}
