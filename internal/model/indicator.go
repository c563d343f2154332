package model

// IndicatorPoint is one aligned indicator value.
// Valid is false inside the warm-up region, where no value exists yet.
type IndicatorPoint struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// IndicatorSeries is aligned 1:1 with the Series it was computed from.
type IndicatorSeries []IndicatorPoint

// Defined returns a valid point holding v.
func Defined(v float64) IndicatorPoint { return IndicatorPoint{Value: v, Valid: true} }

// Undefined returns a warm-up point.
func Undefined() IndicatorPoint { return IndicatorPoint{} }

// DefinedCount returns the number of valid points.
func (s IndicatorSeries) DefinedCount() int {
	n := 0
	for _, p := range s {
		if p.Valid {
			n++
		}
	}
	return n
}
