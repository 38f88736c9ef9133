package market

import "time"

// Candle is one bar of OHLCV history.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Series is candle history ordered oldest first.
type Series []Candle

// Last returns the most recent candle. Zero value if the series is empty.
func (s Series) Last() Candle {
	if len(s) == 0 {
		return Candle{}
	}
	return s[len(s)-1]
}

// Closes extracts the close prices, oldest first.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}
