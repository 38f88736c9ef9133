package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpilot/market"
)

func seriesFromCloses(closes ...float64) market.Series {
	s := make(market.Series, 0, len(closes))
	for _, c := range closes {
		s = append(s, market.Candle{Open: c, High: c, Low: c, Close: c})
	}
	return s
}

func TestRegistryLookup(t *testing.T) {
	s, err := ByName("MA_Cross")
	require.NoError(t, err)
	assert.Equal(t, "ma_cross", s.Name())

	_, err = ByName("does-not-exist")
	assert.Error(t, err)
}

func TestMACrossGoldenCross(t *testing.T) {
	// Flat at 100 long enough to settle both averages, then one sharp rally
	// bar drags the short average over the long one on the final bar.
	closes := make([]float64, 0, 30)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 130)

	m := NewMACross(5, 20)
	res := m.Analyze(seriesFromCloses(closes...))
	assert.Equal(t, Buy, res.Signal)
	assert.Greater(t, res.Strength, 0.0)
}

func TestMACrossSignalsOnlyOnCrossingBar(t *testing.T) {
	// A rally that keeps running after the averages crossed: the short
	// average was already above the long one on the previous bar, so the
	// final bar is not a cross and must not re-emit BUY.
	closes := make([]float64, 0, 30)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101, 103, 106, 110, 115)

	m := NewMACross(5, 20)
	res := m.Analyze(seriesFromCloses(closes...))
	assert.Equal(t, Hold, res.Signal)
}

func TestMACrossHoldsWithoutHistory(t *testing.T) {
	m := NewMACross(5, 20)
	res := m.Analyze(seriesFromCloses(100, 101, 102))
	assert.Equal(t, Hold, res.Signal)
}

func TestRSISignals(t *testing.T) {
	r := NewRSI(14)

	falling := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		falling = append(falling, float64(200-i*3))
	}
	res := r.Analyze(seriesFromCloses(falling...))
	assert.Equal(t, Buy, res.Signal)
	assert.GreaterOrEqual(t, res.Strength, 0.3)

	rising := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		rising = append(rising, float64(100+i*3))
	}
	res = r.Analyze(seriesFromCloses(rising...))
	assert.Equal(t, Sell, res.Signal)
}
