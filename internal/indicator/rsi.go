package indicator

import (
	"fmt"
	"strings"

	"signal-edge/internal/model"
)

// Seed selects how the smoothed gain/loss averages are initialised.
type Seed int

const (
	// SeedEWM starts the averages at zero on the first bar and applies
	// Wilder smoothing (alpha = 1/period) from there. The first value is
	// available after period bars, so period-1 leading bars are undefined.
	SeedEWM Seed = iota
	// SeedSMA seeds the averages with the simple mean of the first period
	// deltas (classic Wilder). The first value needs period+1 bars.
	SeedSMA
)

func (s Seed) String() string {
	switch s {
	case SeedEWM:
		return "ewm"
	case SeedSMA:
		return "sma"
	default:
		return "unknown"
	}
}

// ParseSeed parses "ewm" or "sma". Empty selects SeedEWM.
func ParseSeed(s string) (Seed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ewm":
		return SeedEWM, nil
	case "sma", "wilder":
		return SeedSMA, nil
	default:
		return SeedEWM, fmt.Errorf("indicator: unknown RSI seed %q", s)
	}
}

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per bar.
type RSI struct {
	seed      Seed
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14)
// using the EWM seed.
func NewRSI(period int) *RSI {
	return NewRSIWithSeed(period, SeedEWM)
}

// NewRSIWithSeed creates an RSI with an explicit seed.
func NewRSIWithSeed(period int, seed Seed) *RSI {
	return &RSI{period: period, seed: seed}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(bar model.Bar) {
	price := bar.Close
	r.count++

	gain, loss := 0.0, 0.0
	if r.count > 1 {
		delta := price - r.prevClose
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
	}
	r.prevClose = price

	if r.seed == SeedSMA {
		r.updateSMASeed(gain, loss)
		return
	}

	// First bar contributes a zero delta, matching a zero-filled diff.
	alpha := 1.0 / float64(r.period)
	r.avgGain = r.avgGain*(1-alpha) + gain*alpha
	r.avgLoss = r.avgLoss*(1-alpha) + loss*alpha
	if r.count >= r.period {
		r.current = rsiValue(r.avgGain, r.avgLoss)
	}
}

func (r *RSI) updateSMASeed(gain, loss float64) {
	if r.count == 1 {
		return
	}
	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiValue(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder's smoothing: avgGain = (prevAvgGain * (period-1) + gain) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiValue(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }

func (r *RSI) Ready() bool {
	if r.seed == SeedSMA {
		return r.count > r.period
	}
	return r.count >= r.period
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
