// Package indicator provides technical indicator calculations over bar data.
//
// Indicators are streaming: they receive bars one at a time and expose the
// current value once enough history has accumulated. Compute turns a
// streaming indicator into an aligned IndicatorSeries for batch evaluation.
package indicator

import (
	"errors"
	"fmt"

	"signal-edge/internal/model"
)

// ErrInvalidWindow is returned for non-positive indicator windows.
var ErrInvalidWindow = errors.New("indicator: window must be positive")

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "RSI").
	Name() string

	// Update feeds the next bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Meaningless until Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Provider computes an indicator series aligned with a price series.
type Provider interface {
	Name() string
	Compute(series model.Series, window int) (model.IndicatorSeries, error)
}

// Compute drives ind across the series, marking every bar before ind is
// ready as undefined.
func Compute(ind Indicator, series model.Series) model.IndicatorSeries {
	out := make(model.IndicatorSeries, len(series))
	for i := range series {
		ind.Update(series[i])
		if ind.Ready() {
			out[i] = model.Defined(ind.Value())
		}
	}
	return out
}

// RSIProvider computes RSI series for the sweep.
type RSIProvider struct {
	Seed Seed
}

// NewRSIProvider returns a provider using the given smoothing seed.
func NewRSIProvider(seed Seed) *RSIProvider {
	return &RSIProvider{Seed: seed}
}

func (p *RSIProvider) Name() string { return "RSI" }

// Compute returns the RSI of series for window.
func (p *RSIProvider) Compute(series model.Series, window int) (model.IndicatorSeries, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, window)
	}
	return Compute(NewRSIWithSeed(window, p.Seed), series), nil
}
