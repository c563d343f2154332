// Package evaluator scores oscillator signals against forward price moves.
//
// For every eligible bar it classifies the indicator value as Buy, Sell or
// Neutral, checks whether price moved favorably within each horizon, and
// reduces the outcomes to per-horizon hit probabilities for the triggered
// bars (signal) and for all bars (baseline), plus their ratio (advantage).
//
// Evaluation is pure: inputs are only read, and each call owns its own
// accumulators, so callers may run many evaluations over the same series
// concurrently.
package evaluator

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"signal-edge/internal/model"
)

// Config controls one evaluation.
type Config struct {
	// Horizons are the bar offsets to check. Duplicates are ignored.
	Horizons []int
	// MoveThreshold is the relative move τ that counts as favorable.
	MoveThreshold float64
	// Shards splits the bar scan into this many ranges evaluated in
	// parallel and merged. 0 or 1 scans sequentially.
	Shards int
	// BaselineAllBars feeds the baseline from every bar with full horizon
	// coverage, including warm-up bars without an indicator value. By
	// default the baseline uses the same eligible bars as the signal side.
	BaselineAllBars bool
}

// DefaultHorizons returns {1,2,3,4,5}.
func DefaultHorizons() []int {
	return []int{1, 2, 3, 4, 5}
}

// DefaultConfig returns horizons 1..5 and τ = 0.0006.
func DefaultConfig() Config {
	return Config{
		Horizons:      DefaultHorizons(),
		MoveThreshold: DefaultMoveThreshold,
	}
}

// Validate checks the horizon set and move threshold.
func (c Config) Validate() error {
	if len(c.Horizons) == 0 {
		return fmt.Errorf("%w: no horizons", ErrInvalidConfig)
	}
	for _, n := range c.Horizons {
		if n <= 0 {
			return fmt.Errorf("%w: horizon %d is not positive", ErrInvalidConfig, n)
		}
	}
	if math.IsNaN(c.MoveThreshold) || math.IsInf(c.MoveThreshold, 0) {
		return fmt.Errorf("%w: move threshold %v", ErrInvalidConfig, c.MoveThreshold)
	}
	return nil
}

// HorizonSet returns the sorted, de-duplicated horizons.
func (c Config) HorizonSet() []int {
	out := append([]int(nil), c.Horizons...)
	sort.Ints(out)
	j := 0
	for i, n := range out {
		if i == 0 || n != out[j-1] {
			out[j] = n
			j++
		}
	}
	return out[:j]
}

// accumulator holds one scan's tallies, indexed by horizon position.
type accumulator struct {
	signal   []Tally
	baseline []Tally
	stats    model.BarStats
}

func newAccumulator(nHorizons int) *accumulator {
	return &accumulator{
		signal:   make([]Tally, nHorizons),
		baseline: make([]Tally, nHorizons),
	}
}

func (a *accumulator) merge(o *accumulator) {
	for h := range a.signal {
		a.signal[h].Merge(o.signal[h])
		a.baseline[h].Merge(o.baseline[h])
	}
	a.stats.Eligible += o.stats.Eligible
	a.stats.BaselineBars += o.stats.BaselineBars
	a.stats.Buy += o.stats.Buy
	a.stats.Sell += o.stats.Sell
	a.stats.Neutral += o.stats.Neutral
	a.stats.Skipped += o.stats.Skipped
}

// scanner walks bars for one (series, indicator, thresholds) triple.
type scanner struct {
	series   model.Series
	ind      model.IndicatorSeries
	th       model.Thresholds
	horizons []int
	tau      float64
	limit    int // first index without full horizon coverage
	allBars  bool
}

// hasCoverage reports whether i+max(horizons) is inside the series.
func (s *scanner) hasCoverage(i int) bool {
	return i < s.limit
}

// isEligible reports whether bar i has a defined indicator value and full
// horizon coverage.
func (s *scanner) isEligible(i int) bool {
	return s.hasCoverage(i) && s.ind[i].Valid
}

func (s *scanner) scan(lo, hi int) *accumulator {
	acc := newAccumulator(len(s.horizons))
	for i := lo; i < hi; i++ {
		eligible := s.isEligible(i)
		if !eligible && !(s.allBars && s.hasCoverage(i)) {
			continue
		}
		entry := s.series[i].Close
		if entry == 0 {
			acc.stats.Skipped++
			continue
		}

		// Baseline pools both directions, independent of classification.
		acc.stats.BaselineBars++
		for h, n := range s.horizons {
			future := &s.series[i+n]
			acc.baseline[h].Add(UpsideFavorable(entry, future.High, s.tau))
			acc.baseline[h].Add(DownsideFavorable(entry, future.Low, s.tau))
		}
		if !eligible {
			continue
		}
		acc.stats.Eligible++

		switch Classify(s.ind[i].Value, s.th) {
		case Buy:
			acc.stats.Buy++
			for h, n := range s.horizons {
				acc.signal[h].Add(UpsideFavorable(entry, s.series[i+n].High, s.tau))
			}
		case Sell:
			acc.stats.Sell++
			for h, n := range s.horizons {
				acc.signal[h].Add(DownsideFavorable(entry, s.series[i+n].Low, s.tau))
			}
		default:
			acc.stats.Neutral++
		}
	}
	return acc
}

// Evaluate scores one threshold pair over a series and its aligned
// indicator. The returned result has a zero Key; callers set it.
//
// Structural problems return ErrMalformedInput or ErrInvalidConfig and no
// result. Bars with a zero close are skipped and counted in Stats.Skipped.
func Evaluate(series model.Series, ind model.IndicatorSeries, th model.Thresholds, cfg Config) (model.EvaluationResult, error) {
	if err := cfg.Validate(); err != nil {
		return model.EvaluationResult{}, err
	}
	if err := validateInput(series, ind); err != nil {
		return model.EvaluationResult{}, err
	}

	horizons := cfg.HorizonSet()
	s := &scanner{
		series:   series,
		ind:      ind,
		th:       th,
		horizons: horizons,
		tau:      cfg.MoveThreshold,
		limit:    len(series) - horizons[len(horizons)-1],
		allBars:  cfg.BaselineAllBars,
	}

	var acc *accumulator
	if s.limit <= 0 {
		acc = newAccumulator(len(horizons))
	} else if cfg.Shards > 1 {
		acc = s.scanSharded(cfg.Shards)
	} else {
		acc = s.scan(0, s.limit)
	}

	res := aggregate(horizons, acc)
	res.Stats.Bars = len(series)
	return res, nil
}

// scanSharded splits [0, limit) into contiguous ranges, scans them
// concurrently and merges the partial tallies in range order.
func (s *scanner) scanSharded(shards int) *accumulator {
	if shards > s.limit {
		shards = s.limit
	}
	size := (s.limit + shards - 1) / shards
	parts := make([]*accumulator, shards)

	var wg sync.WaitGroup
	for k := 0; k < shards; k++ {
		lo := k * size
		hi := lo + size
		if hi > s.limit {
			hi = s.limit
		}
		wg.Add(1)
		go func(k, lo, hi int) {
			defer wg.Done()
			parts[k] = s.scan(lo, hi)
		}(k, lo, hi)
	}
	wg.Wait()

	acc := newAccumulator(len(s.horizons))
	for _, p := range parts {
		acc.merge(p)
	}
	return acc
}

// aggregate reduces tallies to probabilities. Empty samples leave the
// horizon out; advantage is only derived for horizons with a signal entry.
func aggregate(horizons []int, acc *accumulator) model.EvaluationResult {
	res := model.EvaluationResult{
		Signal:          make(map[int]float64),
		Baseline:        make(map[int]float64),
		Advantage:       make(map[int]float64),
		SignalSamples:   make(map[int]int),
		BaselineSamples: make(map[int]int),
		Stats:           acc.stats,
	}
	for h, n := range horizons {
		if p, ok := acc.signal[h].Percent(); ok {
			res.Signal[n] = p
			res.SignalSamples[n] = acc.signal[h].Total
		}
		if p, ok := acc.baseline[h].Percent(); ok {
			res.Baseline[n] = p
			res.BaselineSamples[n] = acc.baseline[h].Total
		}
	}
	for n, sig := range res.Signal {
		if base, ok := res.Baseline[n]; ok && base > 0 {
			res.Advantage[n] = sig / base
		} else {
			res.Advantage[n] = 0
		}
	}
	return res
}

func validateInput(series model.Series, ind model.IndicatorSeries) error {
	if len(series) != len(ind) {
		return fmt.Errorf("%w: %d bars but %d indicator values", ErrMalformedInput, len(series), len(ind))
	}
	for i := range series {
		b := &series[i]
		if !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close) {
			return fmt.Errorf("%w: non-finite price at bar %d", ErrMalformedInput, i)
		}
		if ind[i].Valid && !finite(ind[i].Value) {
			return fmt.Errorf("%w: non-finite indicator value at bar %d", ErrMalformedInput, i)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
