package model

import (
	"time"
)

// Bar is one OHLCV time step of a historical price series.
// Prices are float64 quote units as delivered by the exchange.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"` // carried through ingestion, unused by the evaluator
}

// Series is a chronological sequence of bars, indexed 0..N-1.
// Evaluation code only ever reads it.
type Series []Bar

// Closes returns the close prices in series order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Span returns the first and last bar timestamps. Both are zero for an empty series.
func (s Series) Span() (time.Time, time.Time) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}
	}
	return s[0].TS, s[len(s)-1].TS
}
